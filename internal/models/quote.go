package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DailyQuote is a typed view over one row of the "daily" operation. Price
// and volume fields are kept as decimal strings exactly as the upstream
// reports them; the decimal accessors parse on demand so display and
// comparison never go through binary floats.
type DailyQuote struct {
	TSCode    string `json:"ts_code"`
	TradeDate string `json:"trade_date"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	PreClose  string `json:"pre_close"`
	Change    string `json:"change"`
	PctChg    string `json:"pct_chg"`
	Vol       string `json:"vol"`
	Amount    string `json:"amount"`
}

// quoteFields are the fragment fields a DailyQuote is built from, in struct
// order. Open through Amount must parse as decimals.
var quoteDecimalFields = []string{"open", "high", "low", "close", "pre_close", "change", "pct_chg", "vol", "amount"}

// DailyQuotesFrom converts a raw daily fragment into typed quote views.
// Every decimal field of every row must parse; a row that does not parse
// fails the whole conversion with the offending field named.
func DailyQuotesFrom(frag *Fragment) ([]DailyQuote, error) {
	quotes := make([]DailyQuote, 0, frag.Len())
	for i := range frag.Rows {
		row := frag.Rows[i]
		for _, field := range quoteDecimalFields {
			if v, ok := row[field]; ok {
				if _, err := decimal.NewFromString(v); err != nil {
					return nil, fmt.Errorf("daily quote row %d: field %s value %q is not a decimal: %w", i, field, v, err)
				}
			}
		}
		quotes = append(quotes, DailyQuote{
			TSCode:    row["ts_code"],
			TradeDate: row["trade_date"],
			Open:      row["open"],
			High:      row["high"],
			Low:       row["low"],
			Close:     row["close"],
			PreClose:  row["pre_close"],
			Change:    row["change"],
			PctChg:    row["pct_chg"],
			Vol:       row["vol"],
			Amount:    row["amount"],
		})
	}
	return quotes, nil
}

// OpenDecimal returns the open price as a decimal.Decimal.
func (q *DailyQuote) OpenDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(q.Open)
}

// HighDecimal returns the high price as a decimal.Decimal.
func (q *DailyQuote) HighDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(q.High)
}

// LowDecimal returns the low price as a decimal.Decimal.
func (q *DailyQuote) LowDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(q.Low)
}

// CloseDecimal returns the close price as a decimal.Decimal.
func (q *DailyQuote) CloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(q.Close)
}

// ChangeDecimal returns the day-over-day price change as a decimal.Decimal.
func (q *DailyQuote) ChangeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(q.Change)
}

// IsUp reports whether the quote closed above the previous close.
func (q *DailyQuote) IsUp() (bool, error) {
	change, err := q.ChangeDecimal()
	if err != nil {
		return false, fmt.Errorf("failed to parse change: %w", err)
	}
	return change.GreaterThan(decimal.Zero), nil
}

// Date parses the quote's 8-digit trade date.
func (q *DailyQuote) Date() (time.Time, error) {
	return time.Parse("20060102", q.TradeDate)
}

// String returns a human-readable representation of the quote.
func (q *DailyQuote) String() string {
	return fmt.Sprintf("DailyQuote{%s %s O:%s H:%s L:%s C:%s V:%s}",
		q.TSCode, q.TradeDate, q.Open, q.High, q.Low, q.Close, q.Vol)
}
