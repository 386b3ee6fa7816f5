package foundrydata

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Plan option defaults.
const (
	DefaultMaxEnumSize  = 1024
	DefaultMaxRefDepth  = 16
	DefaultMaxNodes     = 50000
	DefaultMaxNameEnum  = 1024
	DefaultTrialDepth   = 4
)

// PlanOptions bound the composer's reasoning effort. Zero values take the
// documented defaults.
type PlanOptions struct {
	MaxEnumSize    int
	MaxBranches    int
	MaxDFAStates   int
	MaxRefDepth    int
	MaxNodes       int
	SoftTimeMs     int
	SkipTrials     bool
	PatternWitness *WitnessBudget
	// RationalFallback selects the numeric fallback policy ("float").
	RationalFallback string
}

func (p *PlanOptions) withDefaults() PlanOptions {
	out := PlanOptions{}
	if p != nil {
		out = *p
	}
	if out.MaxEnumSize <= 0 {
		out.MaxEnumSize = DefaultMaxEnumSize
	}
	if out.MaxBranches <= 0 {
		out.MaxBranches = DefaultMaxBranches
	}
	if out.MaxDFAStates <= 0 {
		out.MaxDFAStates = DefaultMaxDFAStates
	}
	if out.MaxRefDepth <= 0 {
		out.MaxRefDepth = DefaultMaxRefDepth
	}
	if out.MaxNodes <= 0 {
		out.MaxNodes = DefaultMaxNodes
	}
	return out
}

// subKey folds the options that affect oracle behavior into a cache key part.
func (p PlanOptions) subKey() string {
	parts := []string{
		strconv.Itoa(p.MaxEnumSize),
		strconv.Itoa(p.MaxBranches),
		strconv.Itoa(p.MaxDFAStates),
		strconv.Itoa(p.MaxRefDepth),
		strconv.FormatBool(p.SkipTrials),
		p.RationalFallback,
	}
	return strings.Join(parts, ",")
}

// ComposeOptions configure a compose run.
type ComposeOptions struct {
	// Mode mirrors the coverage mode of the enclosing run; composition is
	// mode-independent and does not read it.
	Mode CoverageMode
	Seed uint32
	Plan *PlanOptions
}

// ComposeDiag buckets the composer's diagnostics by consequence.
type ComposeDiag struct {
	Fatal      []Envelope `json:"fatal"`
	Warn       []Envelope `json:"warn"`
	UnsatHints []Envelope `json:"unsatHints"`
	Run        []Envelope `json:"run"`
}

// EffectiveSchema is the composer's read-only view consumed by generation.
// The canonical schema is never mutated; all planning lives in the side maps,
// keyed by canonical pointer.
type EffectiveSchema struct {
	Canonical any
	PtrMap    *PtrMap
	Coverage  map[string]*CoverageIndex
	Contains  map[string]*ContainsBag
	Branches  map[string]*BranchPlan
	Numeric   map[string]*NumericDomain
	Lifts     map[string]LiftDecision
	NameDFA   map[string]*NameDFASummary
	Plan      PlanOptions
}

// ComposeResult is the composer's full output.
type ComposeResult struct {
	Effective *EffectiveSchema
	Diag      ComposeDiag
	Unsat     bool
	FailFast  bool
}

type composer struct {
	plan      PlanOptions
	eff       *EffectiveSchema
	diag      *ComposeDiag
	patterns  *patternCache
	nodes     int
	budgetHit bool
	failFast  bool
	// spine tracks whether the node being analyzed must hold for the whole
	// schema; off the spine, infeasibility proofs become hints.
	spine bool
	// started anchors the soft time budget; zero when no budget is set.
	started   time.Time
	timedOut  bool
}

// Compose normalizes a schema and plans generation over the canonical view.
func Compose(schema any, opts *ComposeOptions) (*ComposeResult, error) {
	nr, err := Normalize(schema, nil)
	if err != nil {
		return nil, err
	}
	return composeCanonical(nr, opts), nil
}

// composeCanonical runs the composer over an already-normalized schema.
func composeCanonical(nr *NormalizeResult, opts *ComposeOptions) *ComposeResult {
	var plan PlanOptions
	if opts != nil {
		plan = opts.Plan.withDefaults()
	} else {
		plan = (*PlanOptions)(nil).withDefaults()
	}

	c := &composer{
		plan: plan,
		eff: &EffectiveSchema{
			Canonical: nr.CanonSchema,
			PtrMap:    nr.PtrMap,
			Coverage:  map[string]*CoverageIndex{},
			Contains:  map[string]*ContainsBag{},
			Branches:  map[string]*BranchPlan{},
			Numeric:   map[string]*NumericDomain{},
			Lifts:     map[string]LiftDecision{},
			NameDFA:   map[string]*NameDFASummary{},
			Plan:      plan,
		},
		diag:     &ComposeDiag{},
		patterns: newPatternCache(),
	}
	if plan.SoftTimeMs > 0 {
		c.started = time.Now()
	}
	c.walk(nr.CanonSchema, RootPointer, 0, true)

	if c.budgetHit {
		c.fatal(Envelope{
			Code:      CodeUnsatBudgetExhausted,
			CanonPath: RootPointer,
			Phase:     PhaseCompose,
			Details:   map[string]any{"budget": "maxNodes"},
		})
	}

	return &ComposeResult{
		Effective: c.eff,
		Diag:      *c.diag,
		Unsat:     len(c.diag.Fatal) > 0,
		FailFast:  c.failFast,
	}
}

func (c *composer) fatal(e Envelope) {
	if err := ValidateEnvelope(e); err != nil {
		panic(err)
	}
	if !c.spine {
		c.diag.UnsatHints = append(c.diag.UnsatHints, e)
		return
	}
	c.diag.Fatal = append(c.diag.Fatal, e)
}

func (c *composer) warn(e Envelope) {
	if err := ValidateEnvelope(e); err != nil {
		panic(err)
	}
	c.diag.Warn = append(c.diag.Warn, e)
}

func (c *composer) run(e Envelope) {
	if err := ValidateEnvelope(e); err != nil {
		panic(err)
	}
	c.diag.Run = append(c.diag.Run, e)
}

func (c *composer) hint(e Envelope) {
	if err := ValidateEnvelope(e); err != nil {
		panic(err)
	}
	c.diag.UnsatHints = append(c.diag.UnsatHints, e)
}

// nonSpineKeywords scope subtrees whose local infeasibility does not prove
// the whole schema infeasible: an unsat oneOf branch just loses the vote, an
// unsat $defs entry may never be referenced. Proofs found below them are
// recorded as unsat hints instead of fatals.
var nonSpineKeywords = map[string]bool{
	"oneOf": true, "anyOf": true, "not": true,
	"if": true, "then": true, "else": true,
	"$defs": true, "dependentSchemas": true,
	"propertyNames": true, "patternProperties": true,
	"additionalProperties": true,
}

func (c *composer) walk(schema any, canonPath string, refDepth int, spine bool) {
	if c.budgetHit {
		return
	}
	if c.overBudget() {
		// Partial results: the subtree reached so far stays planned, the
		// rest is skipped under the soft time budget.
		return
	}
	c.nodes++
	if c.nodes > c.plan.MaxNodes {
		c.budgetHit = true
		return
	}
	node := asMap(schema)
	if node == nil {
		return
	}

	if ref := getString(node, "$ref"); ref != "" {
		if refDepth >= c.plan.MaxRefDepth {
			c.run(Envelope{
				Code:      CodeDynamicScopeBounded,
				CanonPath: canonPath,
				Phase:     PhaseCompose,
				Details:   map[string]any{"depth": refDepth, "maxRefDepth": c.plan.MaxRefDepth},
			})
			return
		}
	}

	c.spine = spine
	c.analyzeNumeric(node, canonPath)
	c.analyzeObject(node, canonPath)
	c.analyzeArray(node, canonPath)
	c.analyzeEnum(node, canonPath)
	c.analyzeBranches(node, canonPath)

	requiredSet := map[string]bool{}
	for _, name := range getStrings(node, "required") {
		requiredSet[name] = true
	}

	// Recurse in deterministic keyword order.
	for _, key := range mapSchemaKeywords {
		members := asMap(node[key])
		childSpine := spine && !nonSpineKeywords[key]
		for _, name := range sortedKeys(members) {
			// An optional property with an unsat schema can simply be
			// omitted; only required properties stay on the spine.
			propSpine := childSpine
			if key == "properties" && !requiredSet[name] {
				propSpine = false
			}
			c.walk(members[name], JoinPointer(canonPath, key, name), refDepth, propSpine)
		}
	}
	for _, key := range singleSchemaKeywords {
		if child, ok := node[key]; ok && isSchemaValue(child) {
			c.walk(child, JoinPointer(canonPath, key), refDepth, spine && !nonSpineKeywords[key])
		}
	}
	for _, key := range listSchemaKeywords {
		childSpine := spine && !nonSpineKeywords[key]
		for i, child := range asSlice(node[key]) {
			c.walk(child, JoinPointer(canonPath, key, strconv.Itoa(i)), refDepth, childSpine)
		}
	}
}

func (c *composer) analyzeNumeric(node map[string]any, canonPath string) {
	domain := numericDomainOf(node)
	if domain == nil {
		return
	}
	c.eff.Numeric[canonPath] = domain
	if empty, reason := domain.Empty(); empty {
		c.fatal(Envelope{
			Code:      CodeUnsatNumericBounds,
			CanonPath: canonPath,
			Phase:     PhaseCompose,
			Details:   domain.boundsDetails(reason),
		})
	}
}

func (c *composer) analyzeEnum(node map[string]any, canonPath string) {
	values := asSlice(node["enum"])
	if len(values) > c.plan.MaxEnumSize {
		c.run(Envelope{
			Code:      CodeComplexityCapEnum,
			CanonPath: canonPath,
			Phase:     PhaseCompose,
			Details:   map[string]any{"observed": len(values), "limit": c.plan.MaxEnumSize},
		})
	}
}

func (c *composer) analyzeArray(node map[string]any, canonPath string) {
	bag := collectContainsBag(node, canonPath)
	if bag == nil {
		return
	}
	c.eff.Contains[canonPath] = bag
	envelopes, _ := bag.Check()
	for _, e := range envelopes {
		c.fatal(e)
	}
}

// analyzeObject builds the coverage index and proves object-shape UNSAT.
func (c *composer) analyzeObject(node map[string]any, canonPath string) {
	props := asMap(node["properties"])
	patternProps := asMap(node["patternProperties"])
	required := getStrings(node, "required")
	apFalse := false
	if ap, ok := getBool(node, "additionalProperties"); ok {
		apFalse = !ap
	}
	pnames := asMap(node["propertyNames"])
	pnamesPattern := ""
	if pnames != nil {
		pnamesPattern = getString(pnames, "pattern")
	}

	if !apFalse && patternProps == nil && pnamesPattern == "" {
		return
	}

	declared := sortedKeys(props)

	// Compile and classify patternProperties.
	var compiled []*regexp.Regexp
	var enumerated []string
	finite := true
	pnamesRewrite := false
	for _, source := range sortedKeys(patternProps) {
		entryPath := JoinPointer(canonPath, "patternProperties", source)
		if orig, ok := c.eff.PtrMap.Original(entryPath); ok && strings.Contains(orig, "/propertyNames/") {
			pnamesRewrite = true
		}

		// Classification comes before compilation: the engine rejects
		// lookarounds outright, but they still need the unsafe-pattern
		// verdict rather than a generic compile error.
		decision := DecideAnchoredSubsetLifting(source)
		c.eff.Lifts[entryPath] = decision
		switch decision.Class {
		case LiftLookaroundOrBackref:
			if apFalse {
				c.failFast = true
				c.warn(Envelope{
					Code:      CodeAPFalseUnsafePattern,
					CanonPath: entryPath,
					Phase:     PhaseCompose,
					Details:   map[string]any{"pattern": source, "reason": string(decision.Class)},
				})
			}
			finite = false
			continue
		case LiftCompileError:
			_, compileErr := c.patterns.compile(source)
			if compileErr == "" {
				compileErr = "pattern rejected by analyzer"
			}
			c.warn(Envelope{
				Code:      CodeRegexCompileError,
				CanonPath: entryPath,
				Phase:     PhaseCompose,
				Details:   map[string]any{"source": source, "error": compileErr},
			})
			finite = false
			continue
		case LiftComplexityCap:
			c.run(Envelope{
				Code:      CodeRegexComplexityCapped,
				CanonPath: entryPath,
				Phase:     PhaseCompose,
				Details: map[string]any{
					"context":  "coverage",
					"observed": ComputeRegexComplexity(source).ComplexityScore,
					"limit":    DefaultMaxRegexComplexity,
				},
			})
			finite = false
		case LiftAlternationOfLiterals:
			enumerated = append(enumerated, decision.Literals...)
		default:
			finite = false
		}

		re, compileErr := c.patterns.compile(source)
		if compileErr != "" {
			finite = false
			continue
		}
		compiled = append(compiled, re)
	}

	// propertyNames pattern analysis.
	var nameFilter *regexp.Regexp
	if pnamesPattern != "" {
		re, compileErr := c.patterns.compile(pnamesPattern)
		if compileErr != "" {
			c.warn(Envelope{
				Code:      CodeRegexCompileError,
				CanonPath: JoinPointer(canonPath, "propertyNames", "pattern"),
				Phase:     PhaseCompose,
				Details:   map[string]any{"source": pnamesPattern, "error": compileErr},
			})
		} else {
			nameFilter = re
			c.analyzePropertyNames(node, canonPath, pnamesPattern, re, required)
		}
	}

	if !apFalse {
		return
	}

	idx := newCoverageIndex(canonPath, declared, compiled, nameFilter, append(declared, enumerated...), finite)
	c.eff.Coverage[canonPath] = idx

	// Required keys must be admissible.
	var missing []string
	for _, name := range required {
		if !idx.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		if pnamesRewrite {
			allowed, _ := idx.Enumerate()
			for _, name := range missing {
				c.fatal(Envelope{
					Code:      CodeUnsatRequiredVsPNames,
					CanonPath: canonPath,
					Phase:     PhaseCompose,
					Details:   map[string]any{"property": name, "allowed": allowed},
				})
			}
		} else {
			c.fatal(Envelope{
				Code:      CodeUnsatRequiredAPFalse,
				CanonPath: canonPath,
				Phase:     PhaseCompose,
				Details:   map[string]any{"missing": missing},
			})
		}
	}

	minProps, hasMinProps := getInt(node, "minProperties")
	if idx.Empty() && (hasMinProps && minProps > 0) {
		c.fatal(Envelope{
			Code:      CodeUnsatAPFalseEmptyCoverage,
			CanonPath: canonPath,
			Phase:     PhaseCompose,
			Details:   map[string]any{"minProperties": minProps},
		})
	}
	if hasMinProps && idx.Finite() && !idx.Empty() {
		if names, ok := idx.Enumerate(); ok && len(names) < minProps {
			c.fatal(Envelope{
				Code:      CodeUnsatMinPropsVsCoverage,
				CanonPath: canonPath,
				Phase:     PhaseCompose,
				Details:   map[string]any{"minProperties": minProps, "coverageSize": len(names)},
			})
		}
	}
}

// analyzePropertyNames proves name-pattern infeasibilities on nodes whose
// propertyNames survived normalization as a pattern.
func (c *composer) analyzePropertyNames(node map[string]any, canonPath, source string, re *regexp.Regexp, required []string) {
	pnPath := JoinPointer(canonPath, "propertyNames")

	for _, name := range required {
		if !re.MatchString(name) {
			c.fatal(Envelope{
				Code:      CodeUnsatRequiredPNames,
				CanonPath: canonPath,
				Phase:     PhaseCompose,
				Details:   map[string]any{"property": name, "pattern": source},
			})
		}
	}

	dfa := BuildNameDFA(source, c.plan.MaxDFAStates)
	summary := &NameDFASummary{Source: source}
	if dfa == nil {
		summary.Capped = true
	} else {
		summary.States = len(dfa.trans)
		summary.Capped = dfa.Capped
		summary.Finite = dfa.Finite()
	}
	c.eff.NameDFA[pnPath] = summary

	if dfa == nil || dfa.Capped {
		observed := DefaultMaxDFAStates
		if dfa != nil {
			observed = len(dfa.trans)
		}
		c.run(Envelope{
			Code:      CodeNameAutomatonCapped,
			CanonPath: pnPath,
			Phase:     PhaseCompose,
			Details:   map[string]any{"observed": observed, "limit": c.plan.MaxDFAStates, "fallback": "bfs"},
		})
		return
	}

	names, complete := dfa.Enumerate(EnumBudget{MaxNames: DefaultMaxNameEnum})
	if complete && len(names) == 0 {
		c.fatal(Envelope{
			Code:      CodeUnsatPatternPNames,
			CanonPath: pnPath,
			Phase:     PhaseCompose,
			Details:   map[string]any{"pattern": source},
		})
		return
	}
	if minProps, ok := getInt(node, "minProperties"); ok && complete && summary.Finite && len(names) < minProps {
		c.fatal(Envelope{
			Code:      CodeUnsatMinPropsPNames,
			CanonPath: canonPath,
			Phase:     PhaseCompose,
			Details:   map[string]any{"minProperties": minProps, "nameCount": len(names)},
		})
	}
}

// analyzeBranches scores oneOf/anyOf nodes and probes their satisfiability.
func (c *composer) analyzeBranches(node map[string]any, canonPath string) {
	for _, keyword := range []string{"oneOf", "anyOf"} {
		branches := asSlice(node[keyword])
		if len(branches) == 0 {
			continue
		}
		var trials func(any, int) string
		if !c.plan.SkipTrials && !c.timedOut {
			trials = func(branch any, index int) string {
				if c.overBudget() {
					// Score-only fallback for the remaining branches.
					return "skipped"
				}
				proof := c.probeUnsat(branch, DefaultTrialDepth)
				if proof == nil {
					return "ok"
				}
				proof.CanonPath = branchCanonPath(canonPath, keyword, index)
				proof.Phase = PhaseCompose
				c.hint(*proof)
				return "unsat"
			}
		}
		nodePath := JoinPointer(canonPath, keyword)
		plan := scoreBranches(branches, nodePath, keyword, c.plan.MaxBranches, trials)
		if plan.Capped {
			c.run(Envelope{
				Code:      CodeComplexityCapBranches,
				CanonPath: nodePath,
				Phase:     PhaseCompose,
				Details:   map[string]any{"observed": len(branches), "limit": c.plan.MaxBranches},
			})
		}
		c.eff.Branches[nodePath] = plan
	}
}

// overBudget checks the soft time budget and emits SOLVER_TIMEOUT once on
// the first trip. Later solver steps fall back to score-only reasoning.
func (c *composer) overBudget() bool {
	if c.timedOut {
		return true
	}
	if c.started.IsZero() {
		return false
	}
	elapsed := time.Since(c.started).Milliseconds()
	if elapsed <= int64(c.plan.SoftTimeMs) {
		return false
	}
	c.timedOut = true
	c.run(Envelope{
		Code:      CodeSolverTimeout,
		CanonPath: RootPointer,
		Phase:     PhaseCompose,
		Details:   map[string]any{"timeoutMs": c.plan.SoftTimeMs, "reason": "softTimeBudget", "problemKind": "branchTrials"},
	})
	return true
}

// probeUnsat is the bounded trial used during branch scoring. It returns a
// proof envelope when the branch is provably unsatisfiable, nil otherwise; a
// nil answer means "not provably unsat within the budget".
func (c *composer) probeUnsat(schema any, depth int) *Envelope {
	if depth <= 0 {
		return nil
	}
	if b, ok := schema.(bool); ok {
		if !b {
			return &Envelope{Code: CodeUnsatAPFalseEmptyCoverage, Details: map[string]any{}}
		}
		return nil
	}
	node := asMap(schema)
	if node == nil {
		return nil
	}
	if domain := numericDomainOf(node); domain != nil {
		if empty, reason := domain.Empty(); empty {
			return &Envelope{Code: CodeUnsatNumericBounds, Details: domain.boundsDetails(reason)}
		}
	}
	if bag := collectContainsBag(node, "#/probe"); bag != nil {
		if envelopes, unsat := bag.Check(); unsat {
			proof := envelopes[0]
			return &proof
		}
	}
	if ap, ok := getBool(node, "additionalProperties"); ok && !ap {
		props := asMap(node["properties"])
		if len(asMap(node["patternProperties"])) == 0 {
			var missing []string
			for _, name := range getStrings(node, "required") {
				if _, declared := props[name]; !declared {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				return &Envelope{Code: CodeUnsatRequiredAPFalse, Details: map[string]any{"missing": missing}}
			}
		}
	}
	for _, member := range asSlice(node["allOf"]) {
		if proof := c.probeUnsat(member, depth-1); proof != nil {
			return proof
		}
	}
	return nil
}
