package cache

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/quantstash/go-tushare-cache/internal/models"
)

// encodeFragment writes the fragment as CSV: one header record holding the
// column names, then one record per row in column order. Values missing
// from a row are written as empty strings.
func encodeFragment(w io.Writer, frag *models.Fragment) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(frag.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(frag.Columns))
	for i := range frag.Rows {
		for j, col := range frag.Columns {
			record[j] = frag.Rows[i][col]
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// decodeFragment parses a CSV cache entry back into a fragment. A file with
// no records, a header-only file, or malformed CSV is reported as an error
// so the caller can treat the entry as corrupt.
func decodeFragment(data []byte) (*models.Fragment, error) {
	cr := csv.NewReader(bytes.NewReader(data))

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("entry has no header")
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("entry has a header but no rows")
	}

	columns := records[0]
	frag := models.NewFragment(columns)
	for _, record := range records[1:] {
		row := make(models.Row, len(columns))
		for j, col := range columns {
			row[col] = record[j]
		}
		frag.Rows = append(frag.Rows, row)
	}

	return frag, nil
}
