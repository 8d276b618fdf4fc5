// Package fingerprint derives deterministic cache keys from an operation
// name and its parameter set. Two parameter sets with identical key/value
// content fingerprint identically regardless of construction order, which
// makes the fingerprint safe to use as the sole cache lookup key.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Params is the parameter mapping of one upstream operation. Values must be
// JSON-serializable scalars; nil marks a parameter that is present but
// unset, which is distinct from the key being absent entirely.
type Params map[string]any

// Key returns the hex-encoded digest identifying (operation, params).
// Parameters are canonicalized as JSON with lexicographically sorted keys
// before hashing, so insertion order never influences the key. The digest
// is 128 bits and safe for use as a filesystem path component.
//
// A non-scalar parameter value is a programming error and returns an error
// that callers must treat as fatal.
func Key(operation string, params Params) (string, error) {
	for name, value := range params {
		if !isScalar(value) {
			return "", fmt.Errorf("fingerprint: parameter %q of operation %q has non-scalar value of type %T", name, operation, value)
		}
	}

	// encoding/json serializes map keys in sorted order, which is the
	// canonical form the digest depends on.
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("fingerprint: failed to canonicalize parameters of operation %q: %w", operation, err)
	}

	sum := md5.Sum([]byte(operation + "_" + string(canonical)))
	return hex.EncodeToString(sum[:]), nil
}

// isScalar reports whether v is an allowed parameter value.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
