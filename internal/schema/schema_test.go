package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstash/go-tushare-cache/internal/models"
)

func dailyFragment() *models.Fragment {
	frag := models.NewFragment([]string{"ts_code", "trade_date", "close", "vol"})
	frag.Append(models.Row{"ts_code": "000001.SZ", "trade_date": "20240102", "close": "9.51", "vol": "120400"})
	frag.Append(models.Row{"ts_code": "000001.SZ", "trade_date": "20240103", "close": "9.48", "vol": "98750.5"})
	return frag
}

func TestCoerceCastsDeclaredFields(t *testing.T) {
	typed, err := Default().Coerce("daily", dailyFragment())
	require.NoError(t, err)
	require.Equal(t, 2, typed.Len())

	code, ok := typed.String(0, "ts_code")
	require.True(t, ok)
	assert.Equal(t, "000001.SZ", code)

	closePrice, ok := typed.Float(0, "close")
	require.True(t, ok)
	assert.InDelta(t, 9.51, closePrice, 0.0001)

	vol, ok := typed.Float(1, "vol")
	require.True(t, ok)
	assert.InDelta(t, 98750.5, vol, 0.0001)
}

func TestCoercePassesUndeclaredFieldsThrough(t *testing.T) {
	frag := models.NewFragment([]string{"ts_code", "brand_new_column"})
	frag.Append(models.Row{"ts_code": "000001.SZ", "brand_new_column": "whatever"})

	typed, err := Default().Coerce("daily", frag)
	require.NoError(t, err)

	v, ok := typed.String(0, "brand_new_column")
	require.True(t, ok)
	assert.Equal(t, "whatever", v)
}

func TestCoerceIsAllOrNothing(t *testing.T) {
	frag := models.NewFragment([]string{"ts_code", "close"})
	frag.Append(models.Row{"ts_code": "000001.SZ", "close": "9.51"})
	frag.Append(models.Row{"ts_code": "000001.SZ", "close": "not-a-price"})

	_, err := Default().Coerce("daily", frag)
	require.Error(t, err)

	var coercionErr *CoercionError
	require.ErrorAs(t, err, &coercionErr)
	assert.Equal(t, "daily", coercionErr.Operation)
	assert.Equal(t, "close", coercionErr.Field)
	assert.Equal(t, "not-a-price", coercionErr.Value)
	assert.Equal(t, FieldFloat, coercionErr.Type)
}

func TestCoerceIntFields(t *testing.T) {
	s := Schema{"count": FieldInt}

	frag := models.NewFragment([]string{"count"})
	frag.Append(models.Row{"count": "42"})

	typed, err := s.Coerce("op", frag)
	require.NoError(t, err)

	n, ok := typed.Int(0, "count")
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	frag.Append(models.Row{"count": "4.2"})
	_, err = s.Coerce("op", frag)
	assert.Error(t, err, "a float literal does not coerce to int64")
}

func TestFromOverridesExtendsDefault(t *testing.T) {
	s, err := FromOverrides(map[string]string{
		"is_open": "int64",
		"custom":  "float64",
	})
	require.NoError(t, err)

	assert.Equal(t, FieldInt, s["is_open"])
	assert.Equal(t, FieldFloat, s["custom"])
	assert.Equal(t, FieldFloat, s["close"], "defaults survive overrides")
}

func TestFromOverridesRejectsUnknownType(t *testing.T) {
	_, err := FromOverrides(map[string]string{"close": "decimal128"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decimal128")
}

func TestCoerceEmptyFragment(t *testing.T) {
	frag := models.NewFragment([]string{"ts_code", "close"})

	typed, err := Default().Coerce("daily", frag)
	require.NoError(t, err)
	assert.Equal(t, 0, typed.Len())
	assert.Equal(t, []string{"ts_code", "close"}, typed.Columns)
}
