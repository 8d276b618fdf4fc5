// Package models provides the tabular data structures shared by the cache,
// gateway, and reconciliation layers. A Fragment is the raw, pre-coercion
// result of one upstream call or cache read; a TypedFragment is the same
// table after strict schema coercion.
package models

// Row maps a field name to its raw string value as reported by the upstream
// API or read back from a cached CSV entry.
type Row map[string]string

// Fragment is an ordered tabular result. Columns preserves the upstream
// column order so a fragment round-trips through CSV byte-identically;
// Rows preserves the upstream row order.
type Fragment struct {
	Columns []string
	Rows    []Row
}

// NewFragment creates an empty fragment with the given column order.
func NewFragment(columns []string) *Fragment {
	return &Fragment{
		Columns: columns,
		Rows:    make([]Row, 0),
	}
}

// Len returns the number of rows in the fragment.
func (f *Fragment) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// IsEmpty reports whether the fragment has no rows. A nil fragment is empty.
func (f *Fragment) IsEmpty() bool {
	return f.Len() == 0
}

// Append adds a row to the end of the fragment.
func (f *Fragment) Append(row Row) {
	f.Rows = append(f.Rows, row)
}

// Value returns the raw value of the named field in row i, or the empty
// string if the field is not present.
func (f *Fragment) Value(i int, field string) string {
	if i < 0 || i >= len(f.Rows) {
		return ""
	}
	return f.Rows[i][field]
}

// HasColumn reports whether the fragment declares the named column.
func (f *Fragment) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// TypedRow maps a field name to its coerced value. Values are string,
// float64, or int64 for schema-declared fields and string for fields the
// schema does not know about.
type TypedRow map[string]any

// TypedFragment is a fragment after strict type coercion. It keeps the same
// column and row order as the raw fragment it was coerced from.
type TypedFragment struct {
	Columns []string
	Rows    []TypedRow
}

// Len returns the number of rows in the typed fragment.
func (f *TypedFragment) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// String returns the value of the named field in row i as a string. The
// second return value is false when the field is absent or not a string.
func (f *TypedFragment) String(i int, field string) (string, bool) {
	if i < 0 || i >= len(f.Rows) {
		return "", false
	}
	v, ok := f.Rows[i][field].(string)
	return v, ok
}

// Float returns the value of the named field in row i as a float64. The
// second return value is false when the field is absent or not a float.
func (f *TypedFragment) Float(i int, field string) (float64, bool) {
	if i < 0 || i >= len(f.Rows) {
		return 0, false
	}
	v, ok := f.Rows[i][field].(float64)
	return v, ok
}

// Int returns the value of the named field in row i as an int64. The second
// return value is false when the field is absent or not an integer.
func (f *TypedFragment) Int(i int, field string) (int64, bool) {
	if i < 0 || i >= len(f.Rows) {
		return 0, false
	}
	v, ok := f.Rows[i][field].(int64)
	return v, ok
}
