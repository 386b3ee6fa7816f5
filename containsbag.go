package foundrydata

import "strconv"

// ContainsRequirement is one contains constraint collected on an array node.
type ContainsRequirement struct {
	// CanonPath of the contains subschema.
	CanonPath string
	Schema    any
	Min       int
	Max       int // -1 when unbounded
}

// ContainsBag aggregates the contains requirements visible on an array node:
// the node's own contains plus any carried by allOf members. The bag backs
// both the sum-of-minima UNSAT proof and the generator's fill order.
type ContainsBag struct {
	CanonPath    string
	Requirements []ContainsRequirement
	MaxItems     int // -1 when unbounded
}

// collectContainsBag builds the bag for an array node, or nil when the node
// has no contains constraints.
func collectContainsBag(node map[string]any, canonPath string) *ContainsBag {
	bag := &ContainsBag{CanonPath: canonPath, MaxItems: -1}
	if maxItems, ok := getInt(node, "maxItems"); ok {
		bag.MaxItems = maxItems
	}

	addFrom := func(owner map[string]any, ownerPath string) {
		contains, ok := owner["contains"]
		if !ok || !isSchemaValue(contains) {
			return
		}
		req := ContainsRequirement{
			CanonPath: JoinPointer(ownerPath, "contains"),
			Schema:    contains,
			Min:       1,
			Max:       -1,
		}
		if minContains, ok := getInt(owner, "minContains"); ok {
			req.Min = minContains
		}
		if maxContains, ok := getInt(owner, "maxContains"); ok {
			req.Max = maxContains
		}
		bag.Requirements = append(bag.Requirements, req)
	}

	addFrom(node, canonPath)
	for i, member := range asSlice(node["allOf"]) {
		if m := asMap(member); m != nil {
			addFrom(m, JoinPointer(canonPath, "allOf", strconv.Itoa(i)))
		}
	}

	if len(bag.Requirements) == 0 {
		return nil
	}
	return bag
}

// MinimaSum is the total number of items the bag demands.
func (b *ContainsBag) MinimaSum() int {
	sum := 0
	for _, req := range b.Requirements {
		sum += req.Min
	}
	return sum
}

// Check proves infeasibility of the bag. It returns diagnostics to emit and
// whether the bag is UNSAT.
func (b *ContainsBag) Check() ([]Envelope, bool) {
	var out []Envelope
	unsat := false
	for _, req := range b.Requirements {
		if req.Max >= 0 && req.Min > req.Max {
			out = append(out, Envelope{
				Code:      CodeContainsNeedMinGtMax,
				CanonPath: req.CanonPath,
				Phase:     PhaseCompose,
				Details:   map[string]any{"minContains": req.Min, "maxContains": req.Max},
			})
			unsat = true
		}
	}
	if b.MaxItems >= 0 {
		if sum := b.MinimaSum(); sum > b.MaxItems {
			out = append(out, Envelope{
				Code:      CodeContainsUnsatBySum,
				CanonPath: b.CanonPath,
				Phase:     PhaseCompose,
				Details:   map[string]any{"minimaSum": sum, "maxItems": b.MaxItems},
			})
			unsat = true
		}
	}
	return out, unsat
}

