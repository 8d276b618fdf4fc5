// Package schema declares the semantic field types shared by every upstream
// operation and performs strict type coercion of raw tabular fragments.
// Coercion is all-or-nothing: a fragment either fully conforms to the schema
// or the call fails with the offending operation and field named.
package schema

import (
	"fmt"
	"strconv"

	"github.com/quantstash/go-tushare-cache/internal/models"
)

// FieldType is the semantic type of one field.
type FieldType string

const (
	// FieldString passes the raw value through unchanged.
	FieldString FieldType = "str"
	// FieldFloat casts the raw value to a 64-bit float.
	FieldFloat FieldType = "float64"
	// FieldInt casts the raw value to a 64-bit integer.
	FieldInt FieldType = "int64"
)

// Schema maps field names to their semantic types. Fields absent from the
// schema pass through coercion unchanged, which keeps the proxy forward
// compatible with upstream column additions.
type Schema map[string]FieldType

// CoercionError reports a value that could not be cast to its declared
// type. It identifies the operation and field so the failure can be
// diagnosed without re-running with added logging.
type CoercionError struct {
	Operation string
	Field     string
	Value     string
	Type      FieldType
	Err       error
}

// Error implements the error interface.
func (e *CoercionError) Error() string {
	return fmt.Sprintf("operation %s: field %s value %q cannot be coerced to %s: %v",
		e.Operation, e.Field, e.Value, e.Type, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *CoercionError) Unwrap() error {
	return e.Err
}

// Default returns the built-in schema covering every field the supported
// operations report.
func Default() Schema {
	return Schema{
		// daily quotes
		"ts_code":    FieldString,
		"trade_date": FieldString,
		"open":       FieldFloat,
		"high":       FieldFloat,
		"low":        FieldFloat,
		"close":      FieldFloat,
		"pre_close":  FieldFloat,
		"change":     FieldFloat,
		"pct_chg":    FieldFloat,
		"vol":        FieldFloat,
		"amount":     FieldFloat,

		// trading calendar
		"exchange":      FieldString,
		"cal_date":      FieldString,
		"is_open":       FieldString,
		"pretrade_date": FieldString,

		// listing metadata
		"symbol":       FieldString,
		"name":         FieldString,
		"area":         FieldString,
		"industry":     FieldString,
		"fullname":     FieldString,
		"enname":       FieldString,
		"cnspell":      FieldString,
		"market":       FieldString,
		"curr_type":    FieldString,
		"list_status":  FieldString,
		"list_date":    FieldString,
		"delist_date":  FieldString,
		"is_hs":        FieldString,
		"act_name":     FieldString,
		"act_ent_type": FieldString,

		// price limits
		"up_limit":   FieldFloat,
		"down_limit": FieldFloat,
	}
}

// FromOverrides builds a schema from the default set plus configuration
// overrides. Unknown type names fail; configuration errors are fatal.
func FromOverrides(overrides map[string]string) (Schema, error) {
	s := Default()
	for field, typ := range overrides {
		switch FieldType(typ) {
		case FieldString, FieldFloat, FieldInt:
			s[field] = FieldType(typ)
		default:
			return nil, fmt.Errorf("schema: field %q declares unknown type %q", field, typ)
		}
	}
	return s, nil
}

// Coerce casts every schema-declared field of the fragment to its semantic
// type and returns the typed result. The raw fragment is not modified.
// The first value that fails to parse aborts the whole fragment; partial
// coercion never happens.
func (s Schema) Coerce(operation string, frag *models.Fragment) (*models.TypedFragment, error) {
	typed := &models.TypedFragment{
		Columns: frag.Columns,
		Rows:    make([]models.TypedRow, 0, frag.Len()),
	}

	for i := range frag.Rows {
		row := make(models.TypedRow, len(frag.Rows[i]))
		for field, raw := range frag.Rows[i] {
			fieldType, declared := s[field]
			if !declared {
				row[field] = raw
				continue
			}

			value, err := coerceValue(raw, fieldType)
			if err != nil {
				return nil, &CoercionError{
					Operation: operation,
					Field:     field,
					Value:     raw,
					Type:      fieldType,
					Err:       err,
				}
			}
			row[field] = value
		}
		typed.Rows = append(typed.Rows, row)
	}

	return typed, nil
}

// coerceValue casts a single raw value to the given type.
func coerceValue(raw string, t FieldType) (any, error) {
	switch t {
	case FieldString:
		return raw, nil
	case FieldFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case FieldInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}
