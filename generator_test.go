package foundrydata

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func composeFor(t *testing.T, schema any) *EffectiveSchema {
	t.Helper()
	cr := mustCompose(t, schema)
	require.False(t, cr.Unsat, "fixture must be satisfiable")
	return cr.Effective
}

func TestGenerateDeterministic(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "integer", "minimum": float64(0)},
			"name": map[string]any{"type": "string", "minLength": float64(1)},
			"tag":  map[string]any{"enum": []any{"a", "b", "c"}},
		},
		"required":             []any{"id", "name"},
		"additionalProperties": false,
	}
	eff := composeFor(t, schema)

	first := GenerateItems(eff, GenerateOptions{Count: 8, Seed: 37})
	second := GenerateItems(eff, GenerateOptions{Count: 8, Seed: 37})
	require.Len(t, first.Items, 8)
	assert.Equal(t, string(canonicalJSON(first.Items)), string(canonicalJSON(second.Items)))

	other := GenerateItems(eff, GenerateOptions{Count: 8, Seed: 38})
	assert.NotEqual(t, string(canonicalJSON(first.Items)), string(canonicalJSON(other.Items)))
}

func TestGenerateSimpleObjectShape(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "integer", "minimum": float64(0)},
			"name": map[string]any{"type": "string", "minLength": float64(1)},
		},
		"required":             []any{"id", "name"},
		"additionalProperties": false,
	}
	eff := composeFor(t, schema)
	out := GenerateItems(eff, GenerateOptions{Count: 5, Seed: 37})
	require.Len(t, out.Items, 5)
	for _, item := range out.Items {
		obj := asMap(item)
		require.NotNil(t, obj)
		name, ok := obj["name"].(string)
		require.True(t, ok)
		assert.GreaterOrEqual(t, codePointLength(name), 1)
		switch id := obj["id"].(type) {
		case int64:
			assert.GreaterOrEqual(t, id, int64(0))
		case float64:
			assert.GreaterOrEqual(t, id, float64(0))
		default:
			t.Fatalf("id has unexpected type %T", obj["id"])
		}
	}
}

func TestGenerateUnionTypePriority(t *testing.T) {
	eff := composeFor(t, map[string]any{"type": []any{"string", "integer"}})
	out := GenerateItems(eff, GenerateOptions{Count: 4, Seed: 9})
	for _, item := range out.Items {
		_, isInt := item.(int64)
		_, isFloat := item.(float64)
		assert.True(t, isInt || isFloat, "integer ranks before string, got %T", item)
	}
}

func TestGenerateConstAndEnum(t *testing.T) {
	eff := composeFor(t, map[string]any{"const": map[string]any{"k": "v"}})
	out := GenerateItems(eff, GenerateOptions{Count: 2, Seed: 1})
	require.Len(t, out.Items, 2)
	assert.True(t, jsonEqual(out.Items[0], map[string]any{"k": "v"}))

	eff = composeFor(t, map[string]any{"enum": []any{"red", "green", "blue", "yellow"}})
	out = GenerateItems(eff, GenerateOptions{Count: 16, Seed: 777})
	allowed := map[string]bool{"red": true, "green": true, "blue": true, "yellow": true}
	for _, item := range out.Items {
		s, ok := item.(string)
		require.True(t, ok)
		assert.True(t, allowed[s])
	}
}

func TestGenerateEnumHint(t *testing.T) {
	eff := composeFor(t, map[string]any{"enum": []any{"red", "green", "blue", "yellow"}})
	for want := 0; want < 4; want++ {
		out := GenerateItems(eff, GenerateOptions{
			Count: 1,
			Seed:  1,
			Hints: []CoverageHint{{Kind: HintCoverEnumValue, CanonPath: RootPointer, ValueIndex: want}},
		})
		require.Len(t, out.Items, 1)
		values := []string{"red", "green", "blue", "yellow"}
		assert.Equal(t, values[want], out.Items[0])
		assert.Empty(t, out.UnsatisfiedHints)
	}
}

func TestGenerateBranchHint(t *testing.T) {
	schema := map[string]any{
		"oneOf": []any{
			map[string]any{"const": "left"},
			map[string]any{"const": "right"},
			map[string]any{"const": "center"},
		},
	}
	eff := composeFor(t, schema)
	for index, want := range []string{"left", "right", "center"} {
		out := GenerateItems(eff, GenerateOptions{
			Count: 1,
			Seed:  2024,
			Hints: []CoverageHint{{Kind: HintPreferBranch, CanonPath: "#/oneOf", BranchIndex: index}},
		})
		require.Len(t, out.Items, 1)
		assert.Equal(t, want, out.Items[0])
	}
}

func TestGenerateMustCoverDropsInadmissibleRequired(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ok": map[string]any{"type": "string"},
		},
		"required":             []any{"ok"},
		"additionalProperties": false,
	}
	eff := composeFor(t, schema)
	// Narrow the admissible set behind the composer's back so the generator
	// faces a required key outside coverage.
	eff.Coverage[RootPointer] = newCoverageIndex(RootPointer, []string{"other"}, nil, nil, []string{"other"}, true)

	out := GenerateItems(eff, GenerateOptions{Count: 1, Seed: 5})
	require.Len(t, out.Items, 1)
	obj := asMap(out.Items[0])
	_, present := obj["ok"]
	assert.False(t, present, "key outside coverage must be dropped, never emitted")

	dropped := false
	for _, d := range out.Diagnostics {
		if d.Code == CodeRepairPNamesPatternEnum {
			dropped = true
		}
	}
	assert.True(t, dropped)
	assert.Equal(t, 1, out.Metrics.RequiredDropped)
}

func TestGenerateStringLengthsInCodePoints(t *testing.T) {
	eff := composeFor(t, map[string]any{
		"type":      "string",
		"minLength": float64(5),
		"maxLength": float64(5),
	})
	out := GenerateItems(eff, GenerateOptions{Count: 3, Seed: 11})
	for _, item := range out.Items {
		s := item.(string)
		assert.Equal(t, 5, codePointLength(s))
	}
}

func TestGeneratePatternLiteralAlternation(t *testing.T) {
	eff := composeFor(t, map[string]any{
		"type":    "string",
		"pattern": "^(?:foo|bar)$",
	})
	out := GenerateItems(eff, GenerateOptions{Count: 6, Seed: 3})
	for _, item := range out.Items {
		assert.Contains(t, []any{"foo", "bar"}, item)
	}
}

func TestGeneratePatternWitnessHonorsMinLength(t *testing.T) {
	eff := composeFor(t, map[string]any{
		"type":      "string",
		"pattern":   "^(ab)+$",
		"minLength": float64(4),
	})
	out := GenerateItems(eff, GenerateOptions{Count: 3, Seed: 13})
	re := regexp.MustCompile("^(ab)+$")
	require.Len(t, out.Items, 3)
	for _, item := range out.Items {
		s := item.(string)
		assert.True(t, re.MatchString(s), "witness %q must still match after length handling", s)
		assert.GreaterOrEqual(t, codePointLength(s), 4)
	}
	assert.Empty(t, out.Diagnostics, "a reachable witness needs no cap diagnostic")
}

func TestGenerateArrayContainsFirstThenPadding(t *testing.T) {
	schema := map[string]any{
		"type":        "array",
		"minItems":    float64(4),
		"uniqueItems": true,
		"contains":    map[string]any{"const": "needle"},
		"items":       map[string]any{"type": "integer", "minimum": float64(0)},
	}
	eff := composeFor(t, schema)
	out := GenerateItems(eff, GenerateOptions{Count: 2, Seed: 21})
	require.NotEmpty(t, out.Items)
	for _, item := range out.Items {
		arr := asSlice(item)
		require.GreaterOrEqual(t, len(arr), 4)
		assert.Equal(t, "needle", arr[0], "contains requirement fills first")
		seen := map[string]bool{}
		for _, member := range arr {
			key := string(canonicalJSON(member))
			assert.False(t, seen[key], "uniqueItems violated")
			seen[key] = true
		}
	}
}

func TestGeneratePrefixItems(t *testing.T) {
	eff := composeFor(t, map[string]any{
		"type": "array",
		"prefixItems": []any{
			map[string]any{"const": "head"},
			map[string]any{"type": "integer", "minimum": float64(1), "maximum": float64(1)},
		},
		"minItems": float64(2),
	})
	out := GenerateItems(eff, GenerateOptions{Count: 1, Seed: 8})
	require.Len(t, out.Items, 1)
	arr := asSlice(out.Items[0])
	require.Len(t, arr, 2)
	assert.Equal(t, "head", arr[0])
	assert.EqualValues(t, 1, arr[1])
}

func TestGeneratePreferExamples(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"examples": []any{map[string]any{"sample": true}},
		"properties": map[string]any{
			"sample": map[string]any{"type": "boolean"},
		},
	}
	eff := composeFor(t, schema)
	out := GenerateItems(eff, GenerateOptions{Count: 3, Seed: 4, PreferExamples: true})
	require.Len(t, out.Items, 3)
	assert.True(t, jsonEqual(out.Items[0], map[string]any{"sample": true}), "example is emitted verbatim first")
	assert.Equal(t, 1, out.Metrics.ExamplesEmitted)
}

func TestGenerateEmitsCoverageEvents(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kind": map[string]any{"enum": []any{"x", "y"}},
		},
		"required": []any{"kind"},
	}
	eff := composeFor(t, schema)
	acc := &recordingSink{}
	out := GenerateItems(eff, GenerateOptions{Count: 1, Seed: 6, Sink: acc})
	require.Len(t, out.Items, 1)

	kinds := map[TargetKind]bool{}
	for _, e := range acc.events {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[KindSchemaNode])
	assert.True(t, kinds[KindPropertyPresent])
	assert.True(t, kinds[KindEnumValueHit])
}

type recordingSink struct {
	events []CoverageEvent
}

func (r *recordingSink) Record(e CoverageEvent) {
	r.events = append(r.events, e)
}

func TestGenerateBoundaryEvents(t *testing.T) {
	eff := composeFor(t, map[string]any{
		"type":    "integer",
		"minimum": float64(5),
		"maximum": float64(5),
	})
	sink := &recordingSink{}
	out := GenerateItems(eff, GenerateOptions{Count: 1, Seed: 2, Sink: sink})
	require.Len(t, out.Items, 1)
	assert.EqualValues(t, 5, out.Items[0])

	hitMin, hitMax := false, false
	for _, e := range sink.events {
		if e.Kind == KindNumericMinHit {
			hitMin = true
		}
		if e.Kind == KindNumericMaxHit {
			hitMax = true
		}
	}
	assert.True(t, hitMin)
	assert.True(t, hitMax)
}
