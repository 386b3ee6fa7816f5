package foundrydata

import (
	"github.com/foundrydata/foundrydata-go/pkg/xorshift"
)

// arrayValue generates an array. Contains requirements are satisfied first;
// the array is then padded with distinct fillers up to minItems.
func (g *generator) arrayValue(node map[string]any, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	minItems, _ := getInt(node, "minItems")
	maxItems, hasMaxItems := getInt(node, "maxItems")
	if hasMaxItems && minItems > maxItems {
		return nil, false
	}
	unique, _ := getBool(node, "uniqueItems")

	var out []any
	seen := map[string]bool{}

	push := func(v any) bool {
		if unique {
			key := string(canonicalJSON(v))
			if seen[key] {
				return false
			}
			seen[key] = true
		}
		out = append(out, v)
		return true
	}

	// Tuple prefix.
	for i, prefix := range asSlice(node["prefixItems"]) {
		if hasMaxItems && len(out) >= maxItems {
			break
		}
		v, ok := g.value(prefix, branchCanonPath(canonPath, "prefixItems", i), rng, depth+1)
		if !ok {
			return nil, false
		}
		push(v)
	}

	// Contains requirements before generic fill.
	if bag := g.eff.Contains[canonPath]; bag != nil {
		for _, req := range bag.Requirements {
			for n := 0; n < req.Min; n++ {
				if hasMaxItems && len(out) >= maxItems {
					return nil, false
				}
				v, ok := g.value(req.Schema, req.CanonPath, rng, depth+1)
				if !ok {
					return nil, false
				}
				if !push(v) && unique {
					// Draw again for a distinct witness; give up after a
					// bounded number of retries.
					if !g.retryDistinct(req.Schema, req.CanonPath, rng, depth, push) {
						return nil, false
					}
				}
			}
		}
	} else if contains, ok := node["contains"]; ok && isSchemaValue(contains) {
		minContains := 1
		if mc, has := getInt(node, "minContains"); has {
			minContains = mc
		}
		for n := 0; n < minContains; n++ {
			v, built := g.value(contains, JoinPointer(canonPath, "contains"), rng, depth+1)
			if !built {
				return nil, false
			}
			if !push(v) && unique {
				if !g.retryDistinct(contains, JoinPointer(canonPath, "contains"), rng, depth, push) {
					return nil, false
				}
			}
		}
	}

	// Pad with distinct fillers to minItems.
	items, hasItems := node["items"]
	for len(out) < minItems {
		if hasMaxItems && len(out) >= maxItems {
			return nil, false
		}
		var v any
		var built bool
		if hasItems && isSchemaValue(items) {
			v, built = g.value(items, JoinPointer(canonPath, "items"), rng, depth+1)
		} else {
			v, built = int64(len(out)), true
		}
		if !built {
			return nil, false
		}
		if !push(v) {
			g.metrics.UniqueRetries++
			// Distinct padding fallback: one index-tagged filler is tried;
			// if it also collides, the array fails.
			if !push(int64(len(out)*7919 + 1)) {
				return nil, false
			}
		}
	}

	n := len(out)
	if _, has := node["minItems"]; has && n == minItems {
		g.record(CoverageEvent{Dimension: DimBoundaries, Kind: KindArrayMinItemsHit, CanonPath: canonPath})
	}
	if hasMaxItems && n == maxItems {
		g.record(CoverageEvent{Dimension: DimBoundaries, Kind: KindArrayMaxItemsHit, CanonPath: canonPath})
	}
	if out == nil {
		out = []any{}
	}
	return out, true
}

// retryDistinct redraws a value until it is distinct under uniqueItems.
func (g *generator) retryDistinct(schema any, canonPath string, rng *xorshift.Source, depth int, push func(any) bool) bool {
	for attempt := 0; attempt < 8; attempt++ {
		g.metrics.UniqueRetries++
		v, ok := g.value(schema, canonPath, rng, depth+1)
		if !ok {
			return false
		}
		if push(v) {
			return true
		}
	}
	return false
}
