package source

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// Upstream providers disagree on wire types for the same field: epoch
// timestamps arrive as numbers or numeric strings, prices as strings or
// floats. These coercions normalize all of them; anything else is
// rejected so the caller can discard the observation.

// ToMillis coerces a JSON timestamp field to epoch milliseconds
func ToMillis(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case int64:
		return val, true
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ToDecimal coerces a JSON numeric field to an exact decimal
func ToDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(val)
		return d, err == nil
	case float64:
		d, err := decimal.NewFromString(strconv.FormatFloat(val, 'f', -1, 64))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}
