package foundrydata

import (
	"fmt"
	"strings"

	"github.com/foundrydata/foundrydata-go/pkg/xorshift"
)

const synthAlphabet = "abcdefghijklmnopqrstuvwxyz"

// stringValue generates a string honoring length, pattern, and format
// constraints. Lengths are measured in code points.
func (g *generator) stringValue(node map[string]any, canonPath string, rng *xorshift.Source) (any, bool) {
	minLength, _ := getInt(node, "minLength")
	maxLength, hasMax := getInt(node, "maxLength")
	if !hasMax {
		maxLength = -1
	}
	if maxLength >= 0 && minLength > maxLength {
		return nil, false
	}

	var s string
	exact := false
	switch {
	case getString(node, "pattern") != "":
		s, exact = g.patternString(node, canonPath, minLength, maxLength, rng)
	case getString(node, "format") != "":
		s = formatString(getString(node, "format"), rng)
	default:
		s = synthString(minLength, maxLength, rng)
	}

	// Pad or trim toward the length window. A pattern-exact value is left
	// untouched: reshaping it would break the very match it carries.
	if !exact {
		if n := codePointLength(s); n < minLength {
			s += strings.Repeat("x", minLength-n)
		}
		if maxLength >= 0 && codePointLength(s) > maxLength {
			runes := []rune(s)
			s = string(runes[:maxLength])
		}
	}

	n := codePointLength(s)
	if _, has := node["minLength"]; has && n == minLength {
		g.record(CoverageEvent{Dimension: DimBoundaries, Kind: KindStringMinLengthHit, CanonPath: canonPath})
	}
	if hasMax && n == maxLength {
		g.record(CoverageEvent{Dimension: DimBoundaries, Kind: KindStringMaxLengthHit, CanonPath: canonPath})
	}
	return s, true
}

// patternString materializes a string for the node's pattern. The second
// result reports whether the value already satisfies both the pattern and the
// length window; only non-exact fallbacks may be padded or trimmed.
func (g *generator) patternString(node map[string]any, canonPath string, minLength, maxLength int, rng *xorshift.Source) (string, bool) {
	source := getString(node, "pattern")
	decision, cached := g.eff.Lifts[JoinPointer(canonPath, "pattern")]
	if !cached {
		decision = DecideAnchoredSubsetLifting(source)
	}

	if decision.Class == LiftAlternationOfLiterals {
		fits := make([]string, 0, len(decision.Literals))
		for _, lit := range decision.Literals {
			n := codePointLength(lit)
			if n >= minLength && (maxLength < 0 || n <= maxLength) {
				fits = append(fits, lit)
			}
		}
		if len(fits) > 0 {
			return fits[rng.Pick(len(fits))], true
		}
	}

	re, compileErr := g.patterns.compile(source)
	if compileErr != "" {
		g.diag(Envelope{
			Code:      CodeRegexCompileError,
			CanonPath: canonPath,
			Phase:     PhaseGenerate,
			Details:   map[string]any{"source": source, "error": compileErr},
		})
		return synthString(minLength, maxLength, rng), false
	}

	budget := g.witnessBudget(source, minLength, maxLength)
	g.metrics.PatternWitnesses++
	witness, outcome := FindPatternWitness(re, budget)
	if outcome == WitnessFound {
		n := codePointLength(witness)
		exact := n >= minLength && (maxLength < 0 || n <= maxLength)
		return witness, exact
	}
	g.metrics.RegexCapped++
	g.diag(Envelope{
		Code:      CodeComplexityCapPatterns,
		CanonPath: canonPath,
		Phase:     PhaseGenerate,
		Details:   map[string]any{"reason": string(outcome)},
	})
	// Conservative continuation: emit a synthetic string; repair or
	// validation will cull it if the pattern truly matters.
	return synthString(minLength, maxLength, rng), false
}

// witnessBudget seeds the witness search from the node's own length window
// and the pattern's literal runes. An explicit plan budget keeps its
// MaxLength and Alphabet; its MinLength is raised to the node's minLength,
// and unset fields are derived from the node.
func (g *generator) witnessBudget(source string, minLength, maxLength int) WitnessBudget {
	budget := WitnessBudget{}
	if g.eff.Plan.PatternWitness != nil {
		budget = *g.eff.Plan.PatternWitness
	}
	if budget.MinLength < minLength {
		budget.MinLength = minLength
	}
	if budget.MaxLength <= 0 {
		budget.MaxLength = minLength + 8
		if budget.MaxLength < 8 {
			budget.MaxLength = 8
		}
		if maxLength >= 0 && budget.MaxLength > maxLength {
			budget.MaxLength = maxLength
		}
	}
	if budget.Alphabet == "" {
		budget.Alphabet = PatternAlphabet(source)
	}
	return budget
}

// synthString builds a plain word inside the length window.
func synthString(minLength, maxLength int, rng *xorshift.Source) string {
	target := 8
	if minLength > target {
		target = minLength
	}
	if maxLength >= 0 && target > maxLength {
		target = maxLength
	}
	var sb strings.Builder
	for i := 0; i < target; i++ {
		sb.WriteByte(synthAlphabet[rng.IntN(len(synthAlphabet))])
	}
	return sb.String()
}

// formatString returns a deterministic value for the common string formats.
// Unknown formats fall back to a plain word.
func formatString(format string, rng *xorshift.Source) string {
	switch format {
	case "uuid":
		return fmt.Sprintf("%08x-%04x-4%03x-8%03x-%012x",
			rng.Next(), rng.Next()&0xffff, rng.Next()&0xfff, rng.Next()&0xfff,
			uint64(rng.Next())<<16|uint64(rng.Next()&0xffff))
	case "date-time":
		return fmt.Sprintf("20%02d-%02d-%02dT%02d:%02d:%02dZ",
			rng.IntN(30), 1+rng.IntN(12), 1+rng.IntN(28),
			rng.IntN(24), rng.IntN(60), rng.IntN(60))
	case "date":
		return fmt.Sprintf("20%02d-%02d-%02d", rng.IntN(30), 1+rng.IntN(12), 1+rng.IntN(28))
	case "time":
		return fmt.Sprintf("%02d:%02d:%02dZ", rng.IntN(24), rng.IntN(60), rng.IntN(60))
	case "email":
		return synthString(6, 10, rng) + "@example.com"
	case "hostname":
		return synthString(4, 10, rng) + ".example.com"
	case "uri", "iri":
		return "https://example.com/" + synthString(4, 10, rng)
	case "ipv4":
		return fmt.Sprintf("%d.%d.%d.%d", 1+rng.IntN(223), rng.IntN(256), rng.IntN(256), 1+rng.IntN(254))
	case "ipv6":
		return fmt.Sprintf("2001:db8::%x", rng.Next()&0xffff)
	default:
		return synthString(4, 12, rng)
	}
}
