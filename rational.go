package foundrydata

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/goccy/go-json"
)

// Rat wraps a big.Rat to enable custom JSON marshaling and exact arithmetic on
// numeric schema constraints. multipleOf stepping and bound emptiness proofs
// work on Rat so decimal schemas never accumulate float error.
type Rat struct {
	*big.Rat
}

// UnmarshalJSON implements the json.Unmarshaler interface for Rat.
func (r *Rat) UnmarshalJSON(data []byte) error {
	var tmp any
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	converted, err := convertToBigRat(tmp)
	if err != nil {
		return err
	}

	r.Rat = converted
	return nil
}

// MarshalJSON implements the json.Marshaler interface for Rat.
func (r *Rat) MarshalJSON() ([]byte, error) {
	formattedValue := FormatRat(r)
	if strings.Contains(formattedValue, "/") {
		// Still a fraction after reduction; output as a JSON string.
		return json.Marshal(formattedValue)
	}
	return []byte(formattedValue), nil
}

// convertToBigRat converts various types to big.Rat.
func convertToBigRat(data any) (*big.Rat, error) {
	var str string
	switch v := data.(type) {
	case float64, float32, int, int64, int32, int16, int8, uint, uint64, uint32, uint16, uint8:
		str = fmt.Sprint(v)
	case json.Number:
		str = string(v)
	case string:
		str = v
	default:
		return nil, ErrUnsupportedTypeForRat
	}

	numRat := new(big.Rat)
	if _, ok := numRat.SetString(str); !ok {
		return nil, ErrRatConversion
	}
	return numRat, nil
}

// NewRat creates a new Rat instance from a given value, or nil when the value
// is not numeric.
func NewRat(value any) *Rat {
	converted, err := convertToBigRat(value)
	if err != nil {
		return nil
	}
	return &Rat{converted}
}

// FormatRat formats a Rat as a string.
func FormatRat(r *Rat) string {
	if r == nil || r.Rat == nil {
		return "null"
	}
	if r.IsInt() {
		return r.Num().String()
	}

	// Format as a decimal maintaining precision.
	dec := r.FloatString(10)

	// Trim unnecessary trailing zeros and decimal point.
	trimmed := strings.TrimRight(dec, "0")
	trimmed = strings.TrimRight(trimmed, ".")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// floatDenomLimit is the 2^52 denominator bound ToJSONValue compares against.
// Grid stepping always stays on big.Rat; only the final JSON value is
// converted to float64.
var floatDenomLimit = new(big.Int).Lsh(big.NewInt(1), 52)

// CeilDiv returns ceil(r / step) as a big.Int. step must be positive.
func (r *Rat) CeilDiv(step *Rat) *big.Int {
	q := new(big.Rat).Quo(r.Rat, step.Rat)
	num, den := q.Num(), q.Denom()
	out := new(big.Int)
	m := new(big.Int)
	out.DivMod(num, den, m)
	if m.Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

// FloorDiv returns floor(r / step) as a big.Int. step must be positive.
func (r *Rat) FloorDiv(step *Rat) *big.Int {
	q := new(big.Rat).Quo(r.Rat, step.Rat)
	num, den := q.Num(), q.Denom()
	out := new(big.Int)
	out.DivMod(num, den, new(big.Int))
	return out
}

// MulInt returns r * n as a new Rat.
func (r *Rat) MulInt(n *big.Int) *Rat {
	return &Rat{new(big.Rat).Mul(r.Rat, new(big.Rat).SetInt(n))}
}

// ToJSONValue renders the rational as a JSON-compatible Go value: an int64
// when integral and in range, otherwise the nearest float64 (big.Rat.Float64).
// Rationals whose denominator exceeds floatDenomLimit convert the same way; no
// separate rounding rule applies to them.
func (r *Rat) ToJSONValue() any {
	if r.IsInt() {
		if r.Num().IsInt64() {
			return r.Num().Int64()
		}
		f, _ := r.Float64()
		return f
	}
	if r.Denom().Cmp(floatDenomLimit) > 0 {
		f, _ := r.Float64()
		return f
	}
	f, _ := r.Float64()
	return f
}
