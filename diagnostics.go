package foundrydata

import (
	"fmt"
	"sort"

	"github.com/kaptinlin/go-i18n"
)

// Phase identifies the pipeline phase that emitted a diagnostic.
type Phase string

// Pipeline phases, in execution order.
const (
	PhaseNormalize Phase = "normalize"
	PhaseCompose   Phase = "compose"
	PhaseGenerate  Phase = "generate"
	PhaseRepair    Phase = "repair"
	PhaseValidate  Phase = "validate"
)

// Code is a diagnostic code drawn from the closed enumeration below.
type Code string

// Normalizer notes.
const (
	CodeDefsTargetMissing    Code = "DEFS_TARGET_MISSING"
	CodeDefsLifted           Code = "NORMALIZE_DEFS_LIFTED"
	CodeAllOfCompacted       Code = "NORMALIZE_ALLOF_COMPACTED"
	CodeOneOfCollapsed       Code = "NORMALIZE_ONEOF_COLLAPSED"
	CodePNamesEnumRewritten  Code = "NORMALIZE_PNAMES_ENUM_REWRITTEN"
	CodeConditionalLifted    Code = "NORMALIZE_CONDITIONAL_LIFTED"
	CodeTypeArrayNormalized  Code = "NORMALIZE_TYPE_ARRAY"
	CodeExclusiveBoundsMoved Code = "NORMALIZE_EXCLUSIVE_BOUNDS"
	CodeDialectNormalized    Code = "NORMALIZE_DIALECT"
)

// Composer UNSAT catalogue.
const (
	CodeUnsatRequiredAPFalse       Code = "UNSAT_REQUIRED_AP_FALSE"
	CodeUnsatAPFalseEmptyCoverage  Code = "UNSAT_AP_FALSE_EMPTY_COVERAGE"
	CodeUnsatRequiredVsPNames      Code = "UNSAT_REQUIRED_VS_PROPERTYNAMES"
	CodeUnsatPatternPNames         Code = "UNSAT_PATTERN_PNAMES"
	CodeUnsatRequiredPNames        Code = "UNSAT_REQUIRED_PNAMES"
	CodeUnsatMinPropsPNames        Code = "UNSAT_MINPROPS_PNAMES"
	CodeUnsatMinPropsVsCoverage    Code = "UNSAT_MINPROPERTIES_VS_COVERAGE"
	CodeUnsatNumericBounds         Code = "UNSAT_NUMERIC_BOUNDS"
	CodeContainsUnsatBySum         Code = "CONTAINS_UNSAT_BY_SUM"
	CodeContainsNeedMinGtMax       Code = "CONTAINS_NEED_MIN_GT_MAX"
	CodeUnsatBudgetExhausted       Code = "UNSAT_BUDGET_EXHAUSTED"
)

// Caps and best-effort degradation.
const (
	CodeComplexityCapEnum          Code = "COMPLEXITY_CAP_ENUM"
	CodeComplexityCapPatterns      Code = "COMPLEXITY_CAP_PATTERNS"
	CodeComplexityCapBranches      Code = "COMPLEXITY_CAP_BRANCHES"
	CodeRegexCompileError          Code = "REGEX_COMPILE_ERROR"
	CodeRegexComplexityCapped      Code = "REGEX_COMPLEXITY_CAPPED"
	CodeNameAutomatonCapped        Code = "NAME_AUTOMATON_COMPLEXITY_CAPPED"
	CodeSolverTimeout              Code = "SOLVER_TIMEOUT"
	CodeDynamicScopeBounded        Code = "DYNAMIC_SCOPE_BOUNDED"
	CodePlannerCapHit              Code = "PLANNER_CAP_HIT"
)

// Fail-fast conditions.
const (
	CodeAPFalseUnsafePattern     Code = "AP_FALSE_UNSAFE_PATTERN"
	CodeExternalRefUnresolved    Code = "EXTERNAL_REF_UNRESOLVED"
	CodeSchemaInternalRefMissing Code = "SCHEMA_INTERNAL_REF_MISSING"
	CodeValidationCompileError   Code = "VALIDATION_COMPILE_ERROR"
	CodeAjvFlagsMismatch         Code = "AJV_FLAGS_MISMATCH"
)

// Repair and resolver.
const (
	CodeRepairPNamesPatternEnum Code = "REPAIR_PNAMES_PATTERN_ENUM"
	CodeRepairEvalGuardFail     Code = "REPAIR_EVAL_GUARD_FAIL"
	CodeResolverSkippedDialect  Code = "RESOLVER_ADD_SCHEMA_SKIPPED_INCOMPATIBLE_DIALECT"
	CodeCoverageThresholdNotMet Code = "COVERAGE_THRESHOLD_NOT_MET"
)

// Envelope is the unit carried on the diagnostics bus. Details hold the
// code-specific payload; canonPath addressing lives only at this level.
type Envelope struct {
	Code      Code           `json:"code"`
	CanonPath string         `json:"canonPath"`
	Phase     Phase          `json:"phase"`
	Details   map[string]any `json:"details,omitempty"`
}

// Severity classifies a code for propagation policy.
type Severity int

// Severity levels, ordered from informational to fatal.
const (
	SeverityNote Severity = iota
	SeverityWarn
	SeverityCapped
	SeverityFailFast
	SeverityFatalUnsat
)

// fieldKind is the type vocabulary of detail mini-schemas.
type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
	kindEnum
	kindStringArray
	kindAny
)

// fieldSpec describes one key of a detail payload.
type fieldSpec struct {
	kind     fieldKind
	required bool
	enum     []string
}

// detailSpec is the mini-schema attached to a code. Unknown keys are allowed;
// required keys must be present and typed.
type detailSpec struct {
	fields map[string]fieldSpec
}

func req(k fieldKind, enum ...string) fieldSpec  { return fieldSpec{kind: k, required: true, enum: enum} }
func opt(k fieldKind, enum ...string) fieldSpec  { return fieldSpec{kind: k, required: false, enum: enum} }

// codeRegistry maps every known code to its severity and detail schema.
var codeRegistry = map[Code]struct {
	severity Severity
	details  detailSpec
}{
	CodeDefsTargetMissing:    {SeverityWarn, detailSpec{fields: map[string]fieldSpec{"ref": req(kindString), "scope": opt(kindString)}}},
	CodeDefsLifted:           {SeverityNote, detailSpec{fields: map[string]fieldSpec{"scope": opt(kindString)}}},
	CodeAllOfCompacted:       {SeverityNote, detailSpec{fields: map[string]fieldSpec{"removed": req(kindNumber)}}},
	CodeOneOfCollapsed:       {SeverityNote, detailSpec{}},
	CodePNamesEnumRewritten:  {SeverityNote, detailSpec{fields: map[string]fieldSpec{"names": req(kindStringArray)}}},
	CodeConditionalLifted:    {SeverityNote, detailSpec{fields: map[string]fieldSpec{"policy": req(kindEnum, "never", "safe", "aggressive"), "branch": opt(kindEnum, "then", "else")}}},
	CodeTypeArrayNormalized:  {SeverityNote, detailSpec{fields: map[string]fieldSpec{"types": req(kindStringArray)}}},
	CodeExclusiveBoundsMoved: {SeverityNote, detailSpec{fields: map[string]fieldSpec{"keyword": req(kindEnum, "exclusiveMinimum", "exclusiveMaximum")}}},
	CodeDialectNormalized:    {SeverityNote, detailSpec{fields: map[string]fieldSpec{"from": opt(kindString), "to": req(kindString)}}},

	CodeUnsatRequiredAPFalse:      {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"missing": req(kindStringArray)}}},
	CodeUnsatAPFalseEmptyCoverage: {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"minProperties": opt(kindNumber)}}},
	CodeUnsatRequiredVsPNames:     {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"property": req(kindString), "allowed": opt(kindStringArray)}}},
	CodeUnsatPatternPNames:        {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"pattern": req(kindString)}}},
	CodeUnsatRequiredPNames:       {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"property": req(kindString), "pattern": req(kindString)}}},
	CodeUnsatMinPropsPNames:       {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"minProperties": req(kindNumber), "nameCount": req(kindNumber)}}},
	CodeUnsatMinPropsVsCoverage:   {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"minProperties": req(kindNumber), "coverageSize": req(kindNumber)}}},
	CodeUnsatNumericBounds:        {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"reason": req(kindEnum, "rangeEmpty", "integerDomainEmpty"), "minimum": opt(kindString), "maximum": opt(kindString)}}},
	CodeContainsUnsatBySum:        {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"minimaSum": req(kindNumber), "maxItems": req(kindNumber)}}},
	CodeContainsNeedMinGtMax:      {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"minContains": req(kindNumber), "maxContains": req(kindNumber)}}},
	CodeUnsatBudgetExhausted:      {SeverityFatalUnsat, detailSpec{fields: map[string]fieldSpec{"budget": req(kindString)}}},

	CodeComplexityCapEnum:     {SeverityCapped, detailSpec{fields: map[string]fieldSpec{"observed": req(kindNumber), "limit": req(kindNumber)}}},
	CodeComplexityCapPatterns: {SeverityCapped, detailSpec{fields: map[string]fieldSpec{"reason": req(kindEnum, "witnessDomainExhausted", "candidateBudget", "complexity"), "observed": opt(kindNumber), "limit": opt(kindNumber)}}},
	CodeComplexityCapBranches: {SeverityCapped, detailSpec{fields: map[string]fieldSpec{"observed": req(kindNumber), "limit": req(kindNumber)}}},
	CodeRegexCompileError:     {SeverityWarn, detailSpec{fields: map[string]fieldSpec{"source": req(kindString), "error": req(kindString)}}},
	CodeRegexComplexityCapped: {SeverityCapped, detailSpec{fields: map[string]fieldSpec{"context": req(kindEnum, "coverage", "rewrite"), "observed": req(kindNumber), "limit": req(kindNumber)}}},
	CodeNameAutomatonCapped:   {SeverityCapped, detailSpec{fields: map[string]fieldSpec{"observed": req(kindNumber), "limit": req(kindNumber), "fallback": opt(kindEnum, "bfs", "beam", "none")}}},
	CodeSolverTimeout:         {SeverityCapped, detailSpec{fields: map[string]fieldSpec{"timeoutMs": req(kindNumber), "reason": req(kindString), "problemKind": opt(kindString)}}},
	CodeDynamicScopeBounded:   {SeverityCapped, detailSpec{fields: map[string]fieldSpec{"depth": req(kindNumber), "maxRefDepth": req(kindNumber)}}},
	CodePlannerCapHit:         {SeverityWarn, detailSpec{fields: map[string]fieldSpec{"dimension": req(kindString), "scopeType": req(kindEnum, "dimension", "schema", "operation"), "scopeKey": req(kindString), "totalTargets": req(kindNumber), "plannedTargets": req(kindNumber), "unplannedTargets": req(kindNumber)}}},

	CodeAPFalseUnsafePattern:     {SeverityFailFast, detailSpec{fields: map[string]fieldSpec{"pattern": req(kindString), "reason": req(kindString)}}},
	CodeExternalRefUnresolved:    {SeverityFailFast, detailSpec{fields: map[string]fieldSpec{"ref": req(kindString)}}},
	CodeSchemaInternalRefMissing: {SeverityFailFast, detailSpec{fields: map[string]fieldSpec{"ref": req(kindString)}}},
	CodeValidationCompileError:   {SeverityFailFast, detailSpec{fields: map[string]fieldSpec{"error": req(kindString)}}},
	CodeAjvFlagsMismatch:         {SeverityFailFast, detailSpec{fields: map[string]fieldSpec{"instance": req(kindEnum, "source", "planning", "both"), "diff": opt(kindStringArray)}}},

	CodeRepairPNamesPatternEnum: {SeverityWarn, detailSpec{fields: map[string]fieldSpec{"property": req(kindString)}}},
	CodeRepairEvalGuardFail:     {SeverityWarn, detailSpec{fields: map[string]fieldSpec{"from": req(kindString), "to": opt(kindString), "reason": req(kindEnum, "notEvaluated")}}},
	CodeResolverSkippedDialect:  {SeverityWarn, detailSpec{fields: map[string]fieldSpec{"uri": req(kindString), "dialect": req(kindString)}}},
	CodeCoverageThresholdNotMet: {SeverityWarn, detailSpec{fields: map[string]fieldSpec{"overall": req(kindNumber), "threshold": req(kindNumber)}}},
}

// KnownCode reports whether code belongs to the closed enumeration.
func KnownCode(code Code) bool {
	_, ok := codeRegistry[code]
	return ok
}

// CodeSeverity returns the severity class of a known code.
func CodeSeverity(code Code) (Severity, bool) {
	entry, ok := codeRegistry[code]
	return entry.severity, ok
}

func checkField(spec fieldSpec, value any) bool {
	switch spec.kind {
	case kindString:
		_, ok := value.(string)
		return ok
	case kindNumber:
		switch value.(type) {
		case float64, int, int64, uint64:
			return true
		}
		return false
	case kindBool:
		_, ok := value.(bool)
		return ok
	case kindEnum:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, e := range spec.enum {
			if s == e {
				return true
			}
		}
		return false
	case kindStringArray:
		if _, ok := value.([]string); ok {
			return true
		}
		raw, ok := value.([]any)
		if !ok {
			return false
		}
		for _, v := range raw {
			if _, ok := v.(string); !ok {
				return false
			}
		}
		return true
	case kindAny:
		return true
	}
	return false
}

// detailsShadowCanonPath walks a details payload and reports whether any nested
// object carries a canonPath key.
func detailsShadowCanonPath(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		for k, nested := range t {
			if k == "canonPath" {
				return true
			}
			if detailsShadowCanonPath(nested) {
				return true
			}
		}
	case []any:
		for _, nested := range t {
			if detailsShadowCanonPath(nested) {
				return true
			}
		}
	}
	return false
}

// ValidateEnvelope checks an envelope against the closed code set, the
// per-code detail schema, and the anti-shadowing invariant.
func ValidateEnvelope(e Envelope) error {
	entry, ok := codeRegistry[e.Code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDiagnosticCode, e.Code)
	}
	if detailsShadowCanonPath(map[string]any(e.Details)) {
		return fmt.Errorf("%w: %s", ErrCanonPathShadowed, e.Code)
	}
	for name, spec := range entry.details.fields {
		value, present := e.Details[name]
		if !present {
			if spec.required {
				return fmt.Errorf("%w: %s missing %q", ErrDetailSchemaViolation, e.Code, name)
			}
			continue
		}
		if !checkField(spec, value) {
			return fmt.Errorf("%w: %s field %q", ErrDetailSchemaViolation, e.Code, name)
		}
	}
	return nil
}

// Bus is the append-only diagnostics stream for a single pipeline run.
// Consumers read after a phase completes; there are no subscribers.
type Bus struct {
	entries []Envelope
}

// NewBus returns an empty diagnostics bus.
func NewBus() *Bus {
	return &Bus{}
}

// Emit appends an envelope. Malformed envelopes are a programming error and
// panic; every emit site owns a registered code.
func (b *Bus) Emit(e Envelope) {
	if err := ValidateEnvelope(e); err != nil {
		panic(err)
	}
	b.entries = append(b.entries, e)
}

// EmitAll appends envelopes from another collection, preserving order.
func (b *Bus) EmitAll(envelopes []Envelope) {
	for _, e := range envelopes {
		b.Emit(e)
	}
}

// Entries returns the envelopes in emission order, grouped by phase order.
// Within a phase the original emission order is preserved.
func (b *Bus) Entries() []Envelope {
	out := make([]Envelope, len(b.entries))
	copy(out, b.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return phaseRank(out[i].Phase) < phaseRank(out[j].Phase)
	})
	return out
}

// ByPhase returns the envelopes emitted during one phase, in order.
func (b *Bus) ByPhase(phase Phase) []Envelope {
	var out []Envelope
	for _, e := range b.entries {
		if e.Phase == phase {
			out = append(out, e)
		}
	}
	return out
}

// ByCode returns the envelopes carrying the given code, in emission order.
func (b *Bus) ByCode(code Code) []Envelope {
	var out []Envelope
	for _, e := range b.entries {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out
}

// HasFatal reports whether any emitted code is a fatal UNSAT proof.
func (b *Bus) HasFatal() bool {
	for _, e := range b.entries {
		if sev, ok := CodeSeverity(e.Code); ok && sev == SeverityFatalUnsat {
			return true
		}
	}
	return false
}

// Len returns the number of emitted envelopes.
func (b *Bus) Len() int {
	return len(b.entries)
}

func phaseRank(p Phase) int {
	switch p {
	case PhaseNormalize:
		return 0
	case PhaseCompose:
		return 1
	case PhaseGenerate:
		return 2
	case PhaseRepair:
		return 3
	case PhaseValidate:
		return 4
	}
	return 5
}

// Localize renders the envelope's message through the bundle localizer,
// falling back to the raw code when no translation exists.
func (e Envelope) Localize(localizer *i18n.Localizer) string {
	if localizer == nil {
		return string(e.Code)
	}
	vars := i18n.Vars{}
	for k, v := range e.Details {
		vars[k] = v
	}
	msg := localizer.Get(string(e.Code), vars)
	if msg == "" {
		return string(e.Code)
	}
	return msg
}
