package models

import "fmt"

// ListedShare is one entry of the listed-securities directory.
type ListedShare struct {
	TSCode   string `json:"ts_code"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// String returns a human-readable representation of the listing.
func (s ListedShare) String() string {
	return fmt.Sprintf("%s (%s, %s)", s.TSCode, s.Name, s.Exchange)
}
