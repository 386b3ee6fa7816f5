package foundrydata

import (
	"regexp"
	"regexp/syntax"
	"strings"
)

// DefaultMaxRegexComplexity bounds the complexity score of patterns the
// analyzer will lift or enumerate.
const DefaultMaxRegexComplexity = 512

// maxSimpleQuantifier bounds repetition counts accepted by the
// simpleClassQuantified lifting class.
const maxSimpleQuantifier = 64

// RegexScan summarizes the structural features of a pattern source.
type RegexScan struct {
	AnchoredStart    bool `json:"anchoredStart"`
	AnchoredEnd      bool `json:"anchoredEnd"`
	HasLookAround    bool `json:"hasLookAround"`
	HasBackReference bool `json:"hasBackReference"`
	ComplexityCapped bool `json:"complexityCapped"`
}

// RegexComplexity is the analyzer's cost estimate for a pattern.
type RegexComplexity struct {
	ComplexityScore  int `json:"complexityScore"`
	QuantifiedGroups int `json:"quantifiedGroups"`
}

// LiftClass classifies how a pattern may be lifted into an enumerable or
// generable form.
type LiftClass string

// Lifting classes, from most to least exploitable.
const (
	LiftAlternationOfLiterals LiftClass = "strict/alternationOfLiterals"
	LiftSimpleClassQuantified LiftClass = "strict/simpleClassQuantified"
	LiftSubstring             LiftClass = "substring"
	LiftNotSimpleEnough       LiftClass = "notSimpleEnough"
	LiftLookaroundOrBackref   LiftClass = "lookaroundOrBackref"
	LiftComplexityCap         LiftClass = "complexityCap"
	LiftCompileError          LiftClass = "compileError"
)

// LiftDecision is the outcome of DecideAnchoredSubsetLifting.
type LiftDecision struct {
	Class LiftClass
	// Literals holds the alternation members for LiftAlternationOfLiterals.
	Literals []string
	// Rewritten holds the substring wrapping for LiftSubstring.
	Rewritten string
}

// hasLookAround reports lexical lookaround constructs. Go's regexp rejects
// them at compile time, but the scan must classify the source even when the
// oracle dialect accepts it.
func hasLookAround(source string) bool {
	for _, marker := range []string{"(?=", "(?!", "(?<=", "(?<!"} {
		if strings.Contains(source, marker) {
			return true
		}
	}
	return false
}

// hasBackReference reports \1..\9 outside character classes.
func hasBackReference(source string) bool {
	inClass := false
	for i := 0; i < len(source); i++ {
		switch source[i] {
		case '\\':
			if i+1 < len(source) {
				c := source[i+1]
				if !inClass && c >= '1' && c <= '9' {
					return true
				}
				i++
			}
		case '[':
			inClass = true
		case ']':
			inClass = false
		}
	}
	return false
}

// ScanRegexSource classifies a pattern source without compiling it to a
// matcher. ComplexityCapped is judged against DefaultMaxRegexComplexity.
func ScanRegexSource(source string) RegexScan {
	scan := RegexScan{
		HasLookAround:    hasLookAround(source),
		HasBackReference: hasBackReference(source),
	}
	scan.AnchoredStart = strings.HasPrefix(source, "^")
	scan.AnchoredEnd = strings.HasSuffix(source, "$") && !strings.HasSuffix(source, "\\$")
	scan.ComplexityCapped = ComputeRegexComplexity(source).ComplexityScore > DefaultMaxRegexComplexity
	return scan
}

// ComputeRegexComplexity scores a pattern as source length plus the number of
// quantified groups.
func ComputeRegexComplexity(source string) RegexComplexity {
	quantified := 0
	re, err := syntax.Parse(source, syntax.Perl)
	if err == nil {
		quantified = countQuantified(re)
	} else {
		// Unparseable sources are scored lexically.
		for i := 0; i < len(source); i++ {
			switch source[i] {
			case '*', '+', '?', '{':
				quantified++
			}
		}
	}
	return RegexComplexity{
		ComplexityScore:  len(source) + quantified,
		QuantifiedGroups: quantified,
	}
}

func countQuantified(re *syntax.Regexp) int {
	n := 0
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		n++
	}
	for _, sub := range re.Sub {
		n += countQuantified(sub)
	}
	return n
}

// AnchoredSafe reports whether a pattern is safe for name reasoning: it
// compiles, is fully anchored, carries no lookaround or backreference, and
// stays under the complexity cap.
func AnchoredSafe(source string, maxComplexity int) bool {
	if maxComplexity <= 0 {
		maxComplexity = DefaultMaxRegexComplexity
	}
	scan := ScanRegexSource(source)
	if !scan.AnchoredStart || !scan.AnchoredEnd || scan.HasLookAround || scan.HasBackReference {
		return false
	}
	if ComputeRegexComplexity(source).ComplexityScore > maxComplexity {
		return false
	}
	_, err := regexp.Compile(source)
	return err == nil
}

// DecideAnchoredSubsetLifting classifies a pattern for lifting. Anchored
// alternations of literals become enumerable sets; anchored concatenations of
// bounded character classes stay generable; safe unanchored patterns are
// wrapped as substring matches.
func DecideAnchoredSubsetLifting(source string) LiftDecision {
	if hasLookAround(source) || hasBackReference(source) {
		return LiftDecision{Class: LiftLookaroundOrBackref}
	}
	if ComputeRegexComplexity(source).ComplexityScore > DefaultMaxRegexComplexity {
		return LiftDecision{Class: LiftComplexityCap}
	}
	re, err := syntax.Parse(source, syntax.Perl)
	if err != nil {
		return LiftDecision{Class: LiftCompileError}
	}
	if _, err := regexp.Compile(source); err != nil {
		return LiftDecision{Class: LiftCompileError}
	}

	scan := ScanRegexSource(source)
	if scan.AnchoredStart && scan.AnchoredEnd {
		if lits, ok := lexicalLiteralAlternation(source); ok {
			return LiftDecision{Class: LiftAlternationOfLiterals, Literals: lits}
		}
		if lits, ok := literalAlternation(re); ok {
			return LiftDecision{Class: LiftAlternationOfLiterals, Literals: lits}
		}
		if simpleClassQuantified(re) {
			return LiftDecision{Class: LiftSimpleClassQuantified}
		}
		return LiftDecision{Class: LiftNotSimpleEnough}
	}
	// Unanchored but otherwise safe: wrap as a substring match.
	return LiftDecision{Class: LiftSubstring, Rewritten: "^.*(?:" + source + ").*$"}
}

// literalAlternation matches ^(?:lit1|lit2|…)$ and single-literal ^lit$.
func literalAlternation(re *syntax.Regexp) ([]string, bool) {
	body, ok := anchoredBody(re)
	if !ok {
		return nil, false
	}
	switch body.Op {
	case syntax.OpLiteral:
		return []string{string(body.Rune)}, true
	case syntax.OpAlternate:
		lits := make([]string, 0, len(body.Sub))
		for _, sub := range body.Sub {
			if sub.Op != syntax.OpLiteral {
				return nil, false
			}
			lits = append(lits, string(sub.Rune))
		}
		return lits, true
	case syntax.OpEmptyMatch:
		return []string{""}, true
	case syntax.OpCharClass:
		// The parser folds single-character alternations into a class.
		return expandSmallClass(body)
	case syntax.OpCapture:
		inner := *body.Sub[0]
		return literalAlternation(wrapAnchored(&inner))
	}
	return nil, false
}

// expandSmallClass turns a discrete character class into its member literals,
// refusing classes wider than 256 code points.
func expandSmallClass(re *syntax.Regexp) ([]string, bool) {
	var lits []string
	for i := 0; i+1 < len(re.Rune); i += 2 {
		lo, hi := re.Rune[i], re.Rune[i+1]
		if int(hi-lo)+1+len(lits) > 256 {
			return nil, false
		}
		for r := lo; r <= hi; r++ {
			lits = append(lits, string(r))
		}
	}
	if len(lits) == 0 {
		return nil, false
	}
	return lits, true
}

// lexicalLiteralAlternation recognizes the exact ^(?:lit1|lit2|…)$ shape the
// propertyNames rewrite produces, before the parser factors common prefixes.
func lexicalLiteralAlternation(source string) ([]string, bool) {
	if !strings.HasPrefix(source, "^(?:") || !strings.HasSuffix(source, ")$") {
		return nil, false
	}
	body := source[len("^(?:") : len(source)-len(")$")]
	var lits []string
	var current strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch c {
		case '\\':
			if i+1 >= len(body) {
				return nil, false
			}
			next := body[i+1]
			// Only identity escapes of metacharacters count as literal text.
			if strings.IndexByte(`\.+*?()|[]{}^$`, next) < 0 {
				return nil, false
			}
			current.WriteByte(next)
			i++
		case '|':
			lits = append(lits, current.String())
			current.Reset()
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$':
			return nil, false
		default:
			current.WriteByte(c)
		}
	}
	lits = append(lits, current.String())
	return lits, true
}

// anchoredBody strips ^…$ from a parsed pattern and returns the inner expression.
func anchoredBody(re *syntax.Regexp) (*syntax.Regexp, bool) {
	if re.Op != syntax.OpConcat || len(re.Sub) < 2 {
		return nil, false
	}
	first, last := re.Sub[0], re.Sub[len(re.Sub)-1]
	if first.Op != syntax.OpBeginLine && first.Op != syntax.OpBeginText {
		return nil, false
	}
	if last.Op != syntax.OpEndLine && last.Op != syntax.OpEndText {
		return nil, false
	}
	inner := re.Sub[1 : len(re.Sub)-1]
	switch len(inner) {
	case 0:
		return &syntax.Regexp{Op: syntax.OpEmptyMatch}, true
	case 1:
		return inner[0], true
	default:
		return &syntax.Regexp{Op: syntax.OpConcat, Sub: inner}, true
	}
}

func wrapAnchored(body *syntax.Regexp) *syntax.Regexp {
	return &syntax.Regexp{Op: syntax.OpConcat, Sub: []*syntax.Regexp{
		{Op: syntax.OpBeginText},
		body,
		{Op: syntax.OpEndText},
	}}
}

// simpleClassQuantified accepts concatenations of character classes, literals
// and non-capturing groups whose quantifiers are bounded by
// maxSimpleQuantifier.
func simpleClassQuantified(re *syntax.Regexp) bool {
	body, ok := anchoredBody(re)
	if !ok {
		return false
	}
	return simpleBody(body)
}

func simpleBody(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpLiteral, syntax.OpCharClass, syntax.OpEmptyMatch:
		return true
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if !simpleBody(sub) {
				return false
			}
		}
		return true
	case syntax.OpCapture:
		return simpleBody(re.Sub[0])
	case syntax.OpRepeat:
		if re.Max < 0 || re.Max > maxSimpleQuantifier {
			return false
		}
		return simpleBody(re.Sub[0])
	case syntax.OpQuest:
		return simpleBody(re.Sub[0])
	case syntax.OpAlternate:
		for _, sub := range re.Sub {
			if !simpleBody(sub) {
				return false
			}
		}
		return true
	}
	return false
}

// patternCache caches compiled patterns per analyzer, mirroring the compiled
// pattern caching the schema engine does for patternProperties.
type patternCache struct {
	compiled map[string]*regexp.Regexp
	failed   map[string]string
}

func newPatternCache() *patternCache {
	return &patternCache{
		compiled: make(map[string]*regexp.Regexp),
		failed:   make(map[string]string),
	}
}

// compile returns the compiled pattern or the cached compile error message.
func (c *patternCache) compile(source string) (*regexp.Regexp, string) {
	if re, ok := c.compiled[source]; ok {
		return re, ""
	}
	if msg, ok := c.failed[source]; ok {
		return nil, msg
	}
	re, err := regexp.Compile(source)
	if err != nil {
		c.failed[source] = err.Error()
		return nil, err.Error()
	}
	c.compiled[source] = re
	return re, ""
}
