package foundrydata

import (
	"math"
	"math/big"

	"github.com/foundrydata/foundrydata-go/pkg/xorshift"
)

// NumericDomain is the solved numeric constraint set of one schema node.
// Bounds are exact rationals; nil means unbounded on that side.
type NumericDomain struct {
	Min        *Rat
	Max        *Rat
	MinExcl    bool
	MaxExcl    bool
	MultipleOf *Rat
	Integer    bool
}

// numericDomainOf extracts the numeric constraints of a canonical node.
// It returns nil when the node carries no numeric constraint and no numeric
// type.
func numericDomainOf(node map[string]any) *NumericDomain {
	d := &NumericDomain{}
	touched := false
	switch typeOfNode(node) {
	case "integer":
		d.Integer = true
		touched = true
	case "number":
		touched = true
	}
	if v, ok := node["minimum"]; ok {
		d.Min = NewRat(v)
		touched = true
	}
	if v, ok := node["maximum"]; ok {
		d.Max = NewRat(v)
		touched = true
	}
	if v, ok := node["exclusiveMinimum"]; ok {
		if r := NewRat(v); r != nil {
			if d.Min == nil || r.Cmp(d.Min.Rat) >= 0 {
				d.Min = r
				d.MinExcl = true
			}
			touched = true
		}
	}
	if v, ok := node["exclusiveMaximum"]; ok {
		if r := NewRat(v); r != nil {
			if d.Max == nil || r.Cmp(d.Max.Rat) <= 0 {
				d.Max = r
				d.MaxExcl = true
			}
			touched = true
		}
	}
	if v, ok := node["multipleOf"]; ok {
		if r := NewRat(v); r != nil && r.Sign() > 0 {
			d.MultipleOf = r
			touched = true
		}
	}
	if !touched {
		return nil
	}
	return d
}

// typeOfNode returns the node's single type, or "" for untyped/union nodes.
func typeOfNode(node map[string]any) string {
	t, _ := node["type"].(string)
	return t
}

// EmptyReason explains why a numeric domain admits no value.
type EmptyReason string

// Numeric emptiness reasons.
const (
	EmptyRangeEmpty         EmptyReason = "rangeEmpty"
	EmptyIntegerDomainEmpty EmptyReason = "integerDomainEmpty"
)

// Empty proves the domain admits no value. The proof distinguishes an empty
// real interval from an interval that contains no admissible integer or
// multiple.
func (d *NumericDomain) Empty() (bool, EmptyReason) {
	if d.Min == nil || d.Max == nil {
		return false, ""
	}
	cmp := d.Min.Cmp(d.Max.Rat)
	if cmp > 0 {
		return true, EmptyRangeEmpty
	}
	if cmp == 0 && (d.MinExcl || d.MaxExcl) {
		return true, EmptyRangeEmpty
	}
	step := d.step()
	if step == nil {
		return false, ""
	}
	lo, hi := d.stepInterval(step)
	if lo.Cmp(hi) > 0 {
		return true, EmptyIntegerDomainEmpty
	}
	return false, ""
}

// step returns the effective grid the domain lives on: multipleOf, the
// integers, or their least common refinement. Nil means a dense domain.
func (d *NumericDomain) step() *Rat {
	if d.MultipleOf != nil {
		if d.Integer && !d.MultipleOf.IsInt() {
			// Integer type on a fractional grid p/q in lowest terms: the
			// integer multiples are exactly the multiples of p.
			return &Rat{new(big.Rat).SetInt(d.MultipleOf.Num())}
		}
		return d.MultipleOf
	}
	if d.Integer {
		return &Rat{new(big.Rat).SetInt64(1)}
	}
	return nil
}

// stepInterval returns the inclusive index interval [lo, hi] of admissible
// multiples of step.
func (d *NumericDomain) stepInterval(step *Rat) (*big.Int, *big.Int) {
	lo := d.Min.CeilDiv(step)
	if d.MinExcl {
		// An exclusive bound sitting exactly on the grid moves one step in.
		onGrid := new(big.Rat).Mul(new(big.Rat).SetInt(lo), step.Rat)
		if onGrid.Cmp(d.Min.Rat) == 0 {
			lo = new(big.Int).Add(lo, big.NewInt(1))
		}
	}
	hi := d.Max.FloorDiv(step)
	if d.MaxExcl {
		onGrid := new(big.Rat).Mul(new(big.Rat).SetInt(hi), step.Rat)
		if onGrid.Cmp(d.Max.Rat) == 0 {
			hi = new(big.Int).Sub(hi, big.NewInt(1))
		}
	}
	return lo, hi
}

// boundsDetails renders the bounds for diagnostics.
func (d *NumericDomain) boundsDetails(reason EmptyReason) map[string]any {
	details := map[string]any{"reason": string(reason)}
	if d.Min != nil {
		details["minimum"] = FormatRat(d.Min)
	}
	if d.Max != nil {
		details["maximum"] = FormatRat(d.Max)
	}
	return details
}

// Pick draws a deterministic admissible value. ok is false when the domain is
// empty.
func (d *NumericDomain) Pick(rng *xorshift.Source) (any, bool) {
	if empty, _ := d.Empty(); empty {
		return nil, false
	}
	step := d.step()
	if step != nil {
		return d.pickOnGrid(rng, step)
	}
	// Dense domain: draw inside the interval, defaulting the open sides.
	lo := -1.0e6
	hi := 1.0e6
	if d.Min != nil {
		lo, _ = d.Min.Float64()
	}
	if d.Max != nil {
		hi, _ = d.Max.Float64()
	}
	if lo > hi {
		return nil, false
	}
	if lo == hi {
		return lo, true
	}
	v := lo + (hi-lo)*rng.Float64()
	if d.MinExcl && v <= lo {
		v = math.Nextafter(lo, hi)
	}
	if d.MaxExcl && v >= hi {
		v = math.Nextafter(hi, lo)
	}
	return v, true
}

func (d *NumericDomain) pickOnGrid(rng *xorshift.Source, step *Rat) (any, bool) {
	var lo, hi *big.Int
	switch {
	case d.Min != nil && d.Max != nil:
		lo, hi = d.stepInterval(step)
	case d.Min != nil:
		lo, _ = d.gridIndexAtBound(step, true)
		hi = new(big.Int).Add(lo, big.NewInt(1000))
	case d.Max != nil:
		hi, _ = d.gridIndexAtBound(step, false)
		lo = new(big.Int).Sub(hi, big.NewInt(1000))
	default:
		lo, hi = big.NewInt(0), big.NewInt(1000)
	}
	if lo.Cmp(hi) > 0 {
		return nil, false
	}
	span := new(big.Int).Sub(hi, lo)
	var k *big.Int
	if span.IsInt64() && span.Int64() >= 0 {
		offset := rng.IntRange(0, span.Int64())
		k = new(big.Int).Add(lo, big.NewInt(offset))
	} else {
		k = lo
	}
	return step.MulInt(k).ToJSONValue(), true
}

// gridIndexAtBound computes the grid index adjacent to the single bound.
func (d *NumericDomain) gridIndexAtBound(step *Rat, lower bool) (*big.Int, bool) {
	if lower {
		lo := d.Min.CeilDiv(step)
		if d.MinExcl {
			onGrid := new(big.Rat).Mul(new(big.Rat).SetInt(lo), step.Rat)
			if onGrid.Cmp(d.Min.Rat) == 0 {
				lo = new(big.Int).Add(lo, big.NewInt(1))
			}
		}
		return lo, true
	}
	hi := d.Max.FloorDiv(step)
	if d.MaxExcl {
		onGrid := new(big.Rat).Mul(new(big.Rat).SetInt(hi), step.Rat)
		if onGrid.Cmp(d.Max.Rat) == 0 {
			hi = new(big.Int).Sub(hi, big.NewInt(1))
		}
	}
	return hi, true
}

// MinimumValue returns the smallest admissible value when one exists.
func (d *NumericDomain) MinimumValue() (any, bool) {
	if d.Min == nil {
		return nil, false
	}
	if empty, _ := d.Empty(); empty {
		return nil, false
	}
	step := d.step()
	if step == nil {
		if d.MinExcl {
			return nil, false
		}
		return (&Rat{d.Min.Rat}).ToJSONValue(), true
	}
	lo, _ := d.gridIndexAtBound(step, true)
	v := step.MulInt(lo)
	if d.Max != nil && v.Cmp(d.Max.Rat) > 0 {
		return nil, false
	}
	return v.ToJSONValue(), true
}

// MaximumValue returns the largest admissible value when one exists.
func (d *NumericDomain) MaximumValue() (any, bool) {
	if d.Max == nil {
		return nil, false
	}
	if empty, _ := d.Empty(); empty {
		return nil, false
	}
	step := d.step()
	if step == nil {
		if d.MaxExcl {
			return nil, false
		}
		return (&Rat{d.Max.Rat}).ToJSONValue(), true
	}
	hi, _ := d.gridIndexAtBound(step, false)
	v := step.MulInt(hi)
	if d.Min != nil && v.Cmp(d.Min.Rat) < 0 {
		return nil, false
	}
	return v.ToJSONValue(), true
}
