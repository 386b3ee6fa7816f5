package foundrydata

import (
	"strconv"

	"github.com/foundrydata/foundrydata-go/pkg/xorshift"
)

// HintKind tags a coverage hint variant.
type HintKind string

// Coverage hint kinds.
const (
	HintPreferBranch           HintKind = "preferBranch"
	HintEnsurePropertyPresence HintKind = "ensurePropertyPresence"
	HintCoverEnumValue         HintKind = "coverEnumValue"
)

// CoverageHint steers one generation decision toward an unhit target.
type CoverageHint struct {
	Kind         HintKind `json:"kind"`
	CanonPath    string   `json:"canonPath"`
	BranchIndex  int      `json:"branchIndex,omitempty"`
	PropertyName string   `json:"propertyName,omitempty"`
	Present      bool     `json:"present,omitempty"`
	ValueIndex   int      `json:"valueIndex,omitempty"`
}

// GenerateOptions configure a generation run over a composed schema.
type GenerateOptions struct {
	Count          int
	Seed           uint32
	PreferExamples bool
	Hints          []CoverageHint
	OperationKey   string
	// StreamLabel scopes the RNG sub-streams; TestUnits set it to
	// "unitID|scopeKey" so each unit draws independently.
	StreamLabel string
	Sink        EventSink
}

// GenerateMetrics counts generator-side work for the metrics snapshot.
type GenerateMetrics struct {
	CandidatesBuilt    int `json:"candidatesBuilt"`
	RegexCapped        int `json:"regexCapped"`
	PatternWitnesses   int `json:"patternWitnesses"`
	NameDrawsCapped    int `json:"nameDrawsCapped"`
	UniqueRetries      int `json:"uniqueRetries"`
	ExamplesEmitted    int `json:"examplesEmitted"`
	RequiredDropped    int `json:"requiredDropped"`
}

// GenerateOutput is the generator's result for one batch.
type GenerateOutput struct {
	Items            []any
	Diagnostics      []Envelope
	Metrics          GenerateMetrics
	Seed             uint32
	UnsatisfiedHints []CoverageHint
}

// maxGenDepth bounds schema recursion during generation.
const maxGenDepth = 24

// typePriority fixes union type selection order.
var typePriority = []string{"integer", "number", "string", "boolean", "array", "object", "null"}

type generator struct {
	eff     *EffectiveSchema
	opts    GenerateOptions
	sink    EventSink
	diags   []Envelope
	metrics GenerateMetrics
	// hints indexed by canonical path; satisfied marks used hintList entries.
	hints     map[string][]CoverageHint
	satisfied map[int]bool
	hintList  []CoverageHint
	patterns  *patternCache
}

// GenerateItems emits count candidate instances from a composed plan under a
// deterministic RNG. Output bytes are a pure function of the effective
// schema, count, seed, plan options, and hints.
func GenerateItems(eff *EffectiveSchema, opts GenerateOptions) *GenerateOutput {
	g := &generator{
		eff:       eff,
		opts:      opts,
		sink:      opts.Sink,
		hints:     map[string][]CoverageHint{},
		satisfied: map[int]bool{},
		hintList:  opts.Hints,
		patterns:  newPatternCache(),
	}
	if g.sink == nil {
		g.sink = NopSink
	}
	for _, h := range opts.Hints {
		g.hints[h.CanonPath] = append(g.hints[h.CanonPath], h)
	}

	out := &GenerateOutput{Seed: opts.Seed}
	count := opts.Count
	if count <= 0 {
		count = 1
	}

	emitted := 0
	if opts.PreferExamples {
		if example, ok := rootExample(eff.Canonical); ok {
			out.Items = append(out.Items, example)
			g.metrics.ExamplesEmitted++
			emitted++
		}
	}

	label := opts.StreamLabel
	if label == "" {
		label = "generate"
	}
	for i := emitted; i < count; i++ {
		rng := xorshift.Derive(opts.Seed, label+"|"+strconv.Itoa(i))
		item, ok := g.value(eff.Canonical, RootPointer, rng, 0)
		if !ok {
			// The slot could not be filled; skip it. The shortfall shows as
			// fewer Items than the requested count.
			continue
		}
		g.metrics.CandidatesBuilt++
		out.Items = append(out.Items, item)
	}

	for i, h := range g.hintList {
		if !g.satisfied[i] {
			out.UnsatisfiedHints = append(out.UnsatisfiedHints, h)
		}
	}
	out.Diagnostics = g.diags
	out.Metrics = g.metrics
	return out
}

func rootExample(schema any) (any, bool) {
	node := asMap(schema)
	if node == nil {
		return nil, false
	}
	if example, ok := node["example"]; ok {
		return deepCopyValue(example), true
	}
	if examples := asSlice(node["examples"]); len(examples) > 0 {
		return deepCopyValue(examples[0]), true
	}
	return nil, false
}

func (g *generator) diag(e Envelope) {
	if err := ValidateEnvelope(e); err != nil {
		panic(err)
	}
	g.diags = append(g.diags, e)
}

func (g *generator) record(event CoverageEvent) {
	if g.opts.OperationKey != "" && event.OperationKey == "" {
		event.OperationKey = g.opts.OperationKey
	}
	g.sink.Record(event)
}

// hintFor returns the first pending hint of a kind at a path and marks it
// satisfied.
func (g *generator) hintFor(canonPath string, kind HintKind) (CoverageHint, bool) {
	for i, h := range g.hintList {
		if g.satisfied[i] || h.CanonPath != canonPath || h.Kind != kind {
			continue
		}
		g.satisfied[i] = true
		return h, true
	}
	return CoverageHint{}, false
}

// value generates one instance of the schema node.
func (g *generator) value(schema any, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	if depth > maxGenDepth {
		return nil, false
	}
	if b, ok := schema.(bool); ok {
		if !b {
			return nil, false
		}
		return map[string]any{}, true
	}
	node := asMap(schema)
	if node == nil {
		return nil, false
	}

	g.record(CoverageEvent{Dimension: DimStructure, Kind: KindSchemaNode, CanonPath: canonPath})

	if ref := getString(node, "$ref"); ref != "" {
		return g.refValue(node, ref, canonPath, rng, depth)
	}
	if constValue, ok := node["const"]; ok {
		return deepCopyValue(constValue), true
	}
	if values := asSlice(node["enum"]); len(values) > 0 {
		return g.enumValue(values, canonPath, rng)
	}
	if arms := asSlice(node["allOf"]); len(arms) > 0 {
		merged := node
		for _, arm := range arms {
			merged = mergeNodes(merged, asMap(arm))
		}
		merged = shallowWithout(merged, "allOf")
		return g.value(merged, canonPath, rng, depth+1)
	}
	for _, keyword := range []string{"oneOf", "anyOf"} {
		if branches := asSlice(node[keyword]); len(branches) > 0 {
			return g.branchValue(node, keyword, branches, canonPath, rng, depth)
		}
	}
	if _, ok := node["if"]; ok {
		if v, done := g.conditionalValue(node, canonPath, rng, depth); done {
			return v, true
		}
	}

	return g.typedValue(node, canonPath, rng, depth)
}

func (g *generator) refValue(node map[string]any, ref, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	if len(ref) == 0 || ref[0] != '#' {
		// External refs are resolved pre-pipeline; an unresolved survivor
		// cannot be generated locally.
		return nil, false
	}
	target, ok := resolvePointer(g.eff.Canonical, SplitPointer(ref))
	if !ok {
		return nil, false
	}
	return g.value(target, ref, rng, depth+1)
}

func (g *generator) enumValue(values []any, canonPath string, rng *xorshift.Source) (any, bool) {
	index := rng.Pick(len(values))
	if h, ok := g.hintFor(canonPath, HintCoverEnumValue); ok && h.ValueIndex < len(values) {
		index = h.ValueIndex
	}
	g.record(CoverageEvent{
		Dimension: DimEnum,
		Kind:      KindEnumValueHit,
		CanonPath: canonPath,
		Params:    map[string]any{"enumIndex": index},
	})
	return deepCopyValue(values[index]), true
}

func (g *generator) branchValue(node map[string]any, keyword string, branches []any, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	nodePath := JoinPointer(canonPath, keyword)
	order := make([]int, 0, len(branches))
	if plan, ok := g.eff.Branches[nodePath]; ok {
		order = append(order, plan.Order...)
	}
	for i := range branches {
		if !containsInt(order, i) {
			order = append(order, i)
		}
	}
	if h, ok := g.hintFor(nodePath, HintPreferBranch); ok && h.BranchIndex < len(branches) {
		order = append([]int{h.BranchIndex}, order...)
	}

	base := shallowWithout(node, keyword)
	kind := KindOneOfBranch
	if keyword == "anyOf" {
		kind = KindAnyOfBranch
	}
	for _, index := range order {
		branch := asMap(branches[index])
		if branch == nil {
			if b, ok := branches[index].(bool); ok && !b {
				continue
			}
		}
		merged := mergeNodes(base, branch)
		item, ok := g.value(merged, canonPath, rng, depth+1)
		if !ok {
			continue
		}
		branchPath := branchCanonPath(canonPath, keyword, index)
		g.record(CoverageEvent{Dimension: DimStructure, Kind: KindSchemaNode, CanonPath: branchPath})
		g.record(CoverageEvent{
			Dimension: DimBranches,
			Kind:      kind,
			CanonPath: branchPath,
			Params:    map[string]any{"branchIndex": index},
		})
		return item, true
	}
	return nil, false
}

// conditionalValue handles if/then/else that survived normalization. It
// prefers the then-path and falls back to the else-path.
func (g *generator) conditionalValue(node map[string]any, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	cond := asMap(node["if"])
	base := shallowWithout(shallowWithout(shallowWithout(node, "if"), "then"), "else")

	if thenSchema, ok := node["then"]; ok {
		merged := mergeNodes(mergeNodes(base, cond), asMap(thenSchema))
		if item, built := g.value(merged, canonPath, rng, depth+1); built {
			g.record(CoverageEvent{
				Dimension: DimBranches,
				Kind:      KindConditionalPath,
				CanonPath: canonPath,
				Params:    map[string]any{"pathKind": "then"},
			})
			return item, true
		}
	}
	if elseSchema, ok := node["else"]; ok {
		merged := mergeNodes(base, asMap(elseSchema))
		if item, built := g.value(merged, canonPath, rng, depth+1); built {
			g.record(CoverageEvent{
				Dimension: DimBranches,
				Kind:      KindConditionalPath,
				CanonPath: canonPath,
				Params:    map[string]any{"pathKind": "else"},
			})
			return item, true
		}
	}
	return nil, false
}

// typedValue dispatches on the node's type, applying the fixed union
// priority for type arrays.
func (g *generator) typedValue(node map[string]any, canonPath string, rng *xorshift.Source, depth int) (any, bool) {
	typ := typeOfNode(node)
	if typ == "" {
		if types := typeSet(node); len(types) > 0 {
			for _, candidate := range typePriority {
				if types[candidate] {
					typ = candidate
					break
				}
			}
		}
	}
	if typ == "" {
		typ = inferType(node)
	}

	switch typ {
	case "object":
		return g.objectValue(node, canonPath, rng, depth)
	case "array":
		return g.arrayValue(node, canonPath, rng, depth)
	case "string":
		return g.stringValue(node, canonPath, rng)
	case "integer", "number":
		return g.numberValue(node, canonPath, typ == "integer", rng)
	case "boolean":
		return rng.Bool(), true
	case "null":
		return nil, true
	}
	// Untyped, unconstrained node.
	return map[string]any{}, true
}

func typeSet(node map[string]any) map[string]bool {
	raw := asSlice(node["type"])
	if raw == nil {
		return nil
	}
	set := map[string]bool{}
	for _, t := range raw {
		if s, ok := t.(string); ok {
			set[s] = true
		}
	}
	return set
}

// inferType guesses a type from the constraints present on an untyped node.
func inferType(node map[string]any) string {
	switch {
	case node["properties"] != nil || node["required"] != nil || node["additionalProperties"] != nil ||
		node["patternProperties"] != nil || node["minProperties"] != nil || node["propertyNames"] != nil:
		return "object"
	case node["items"] != nil || node["prefixItems"] != nil || node["minItems"] != nil || node["contains"] != nil:
		return "array"
	case node["pattern"] != nil || node["minLength"] != nil || node["maxLength"] != nil || node["format"] != nil:
		return "string"
	case node["minimum"] != nil || node["maximum"] != nil || node["multipleOf"] != nil ||
		node["exclusiveMinimum"] != nil || node["exclusiveMaximum"] != nil:
		return "number"
	}
	return ""
}

// mergeNodes overlays branch constraints onto a base node, tightening where
// both sides constrain the same keyword.
func mergeNodes(base, overlay map[string]any) map[string]any {
	if overlay == nil {
		return base
	}
	if base == nil {
		return overlay
	}
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		existing, has := out[k]
		if !has {
			out[k] = v
			continue
		}
		switch k {
		case "required":
			out[k] = unionStringLists(existing, v)
		case "properties", "patternProperties", "$defs":
			out[k] = mergeSchemaMaps(asMap(existing), asMap(v))
		case "minimum", "minLength", "minItems", "minProperties", "minContains", "exclusiveMinimum":
			out[k] = maxNumber(existing, v)
		case "maximum", "maxLength", "maxItems", "maxProperties", "maxContains", "exclusiveMaximum":
			out[k] = minNumber(existing, v)
		default:
			out[k] = v
		}
	}
	return out
}

func unionStringLists(a, b any) any {
	seen := map[string]bool{}
	var out []any
	for _, list := range [][]any{asSlice(a), asSlice(b)} {
		for _, v := range list {
			if s, ok := v.(string); ok && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func mergeSchemaMaps(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, has := out[k]; has {
			out[k] = mergeNodes(asMap(existing), asMap(v))
		} else {
			out[k] = v
		}
	}
	return out
}

func maxNumber(a, b any) any {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok {
		return b
	}
	if !bok || af >= bf {
		return a
	}
	return b
}

func minNumber(a, b any) any {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok {
		return b
	}
	if !bok || af <= bf {
		return a
	}
	return b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// numberValue draws from the node's solved numeric domain.
func (g *generator) numberValue(node map[string]any, canonPath string, integer bool, rng *xorshift.Source) (any, bool) {
	domain := g.eff.Numeric[canonPath]
	if domain == nil {
		domain = numericDomainOf(node)
	}
	if domain == nil {
		domain = &NumericDomain{Integer: integer}
	}
	if integer && !domain.Integer {
		copied := *domain
		copied.Integer = true
		domain = &copied
	}
	v, ok := domain.Pick(rng)
	if !ok {
		return nil, false
	}
	if minValue, has := domain.MinimumValue(); has && jsonEqual(minValue, v) {
		g.record(CoverageEvent{Dimension: DimBoundaries, Kind: KindNumericMinHit, CanonPath: canonPath})
	}
	if maxValue, has := domain.MaximumValue(); has && jsonEqual(maxValue, v) {
		g.record(CoverageEvent{Dimension: DimBoundaries, Kind: KindNumericMaxHit, CanonPath: canonPath})
	}
	return v, true
}
