package foundrydata

import (
	"sort"

	"github.com/foundrydata/foundrydata-go/pkg/xorshift"
)

// objectValue generates an object. Required keys are evaluated first in their
// declared order; optional keys follow in global sorted order with a stable
// canonical-path tie-break. Under additionalProperties:false every emitted
// key must sit inside the admissible name set.
func (g *generator) objectValue(node map[string]any, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	props := asMap(node["properties"])
	required := getStrings(node, "required")
	requiredSet := map[string]bool{}
	for _, name := range required {
		requiredSet[name] = true
	}
	idx := g.eff.Coverage[canonPath]
	minProps, _ := getInt(node, "minProperties")
	maxProps, hasMaxProps := getInt(node, "maxProperties")

	out := map[string]any{}

	// Required keys, declared order.
	for _, name := range required {
		if idx != nil && !idx.Has(name) {
			// must-cover: never violate AP:false; drop and report.
			g.metrics.RequiredDropped++
			g.diag(Envelope{
				Code:      CodeRepairPNamesPatternEnum,
				CanonPath: canonPath,
				Phase:     PhaseGenerate,
				Details:   map[string]any{"property": name},
			})
			continue
		}
		value, ok := g.propertyValue(node, props, name, canonPath, rng, depth)
		if !ok {
			return nil, false
		}
		out[name] = value
		g.recordProperty(canonPath, name)
	}

	// Optional declared keys, global sorted order.
	optional := make([]string, 0, len(props))
	for name := range props {
		if !requiredSet[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	for _, name := range optional {
		if hasMaxProps && len(out) >= maxProps {
			break
		}
		include := rng.Bool()
		if h, ok := g.hintFor(JoinPointer(canonPath, "properties", name), HintEnsurePropertyPresence); ok {
			include = h.Present
		} else if len(out) < minProps {
			include = true
		}
		if !include {
			continue
		}
		if idx != nil && !idx.Has(name) {
			continue
		}
		value, ok := g.propertyValue(node, props, name, canonPath, rng, depth)
		if !ok {
			continue
		}
		out[name] = value
		g.recordProperty(canonPath, name)
	}

	// Fill toward minProperties with admissible extra names.
	if len(out) < minProps {
		for _, name := range g.extraNames(node, idx, minProps-len(out), out) {
			value, ok := g.extraValue(node, name, canonPath, rng, depth)
			if !ok {
				value = "filler"
			}
			out[name] = value
			g.recordProperty(canonPath, name)
			if len(out) >= minProps {
				break
			}
		}
		if len(out) < minProps {
			return nil, false
		}
	}

	return out, true
}

func (g *generator) recordProperty(canonPath, name string) {
	g.record(CoverageEvent{
		Dimension: DimStructure,
		Kind:      KindPropertyPresent,
		CanonPath: canonPath,
		Params:    map[string]any{"propertyName": name},
	})
}

// propertyValue generates the value for a declared or pattern-matched key.
func (g *generator) propertyValue(node, props map[string]any, name, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	if schema, declared := props[name]; declared {
		return g.value(schema, JoinPointer(canonPath, "properties", name), rng, depth+1)
	}
	for _, source := range sortedKeys(asMap(node["patternProperties"])) {
		re, compileErr := g.patterns.compile(source)
		if compileErr == "" && re.MatchString(name) {
			schema := asMap(node["patternProperties"])[source]
			return g.value(schema, JoinPointer(canonPath, "patternProperties", source), rng, depth+1)
		}
	}
	if ap, ok := node["additionalProperties"]; ok && isSchemaValue(ap) {
		if b, isBool := ap.(bool); isBool {
			if !b {
				return nil, false
			}
			return g.fillerValue(rng), true
		}
		return g.value(ap, JoinPointer(canonPath, "additionalProperties"), rng, depth+1)
	}
	return g.fillerValue(rng), true
}

// extraNames proposes admissible names beyond the declared set.
func (g *generator) extraNames(node map[string]any, idx *CoverageIndex, want int, taken map[string]any) []string {
	var pool []string
	if idx != nil {
		if names, ok := idx.Enumerate(); ok {
			pool = names
		}
	}
	if pool == nil {
		if pnames := asMap(node["propertyNames"]); pnames != nil {
			if source := getString(pnames, "pattern"); source != "" {
				if dfa := BuildNameDFA(source, g.eff.Plan.MaxDFAStates); dfa != nil && !dfa.Capped {
					names, _ := dfa.Enumerate(EnumBudget{MaxNames: want * 4, MaxLength: 32})
					pool = names
				} else {
					g.metrics.NameDrawsCapped++
				}
			}
		}
	}
	if pool == nil {
		for i := 0; len(pool) < want*2 && i < want*2+26; i++ {
			pool = append(pool, "extra"+string(rune('a'+i%26)))
		}
	}
	out := make([]string, 0, want)
	for _, name := range pool {
		if _, exists := taken[name]; exists {
			continue
		}
		if idx != nil && !idx.Has(name) {
			continue
		}
		out = append(out, name)
		if len(out) >= want {
			break
		}
	}
	return out
}

// extraValue generates a value for an undeclared admissible name.
func (g *generator) extraValue(node map[string]any, name, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	return g.propertyValue(node, asMap(node["properties"]), name, canonPath, rng, depth)
}

// fillerValue is the cheapest self-describing value for unconstrained slots.
func (g *generator) fillerValue(rng *xorshift.Source) any {
	return int64(rng.IntN(1000))
}
