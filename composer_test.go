package foundrydata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompose(t *testing.T, schema any) *ComposeResult {
	t.Helper()
	cr, err := Compose(schema, nil)
	require.NoError(t, err)
	return cr
}

func fatalCodes(cr *ComposeResult) []Code {
	out := make([]Code, 0, len(cr.Diag.Fatal))
	for _, e := range cr.Diag.Fatal {
		out = append(out, e.Code)
	}
	return out
}

func TestComposeSatisfiableObject(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "integer", "minimum": float64(0)},
			"name": map[string]any{"type": "string", "minLength": float64(1)},
		},
		"required":             []any{"id", "name"},
		"additionalProperties": false,
	})
	assert.False(t, cr.Unsat)
	assert.False(t, cr.FailFast)

	idx := cr.Effective.Coverage["#"]
	require.NotNil(t, idx)
	assert.True(t, idx.Has("id"))
	assert.True(t, idx.Has("name"))
	assert.False(t, idx.Has("other"))
	names, ok := idx.Enumerate()
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name"}, names)
}

func TestComposeUnsatRequiredAPFalse(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"a": map[string]any{}},
		"required":             []any{"a", "ghost"},
		"additionalProperties": false,
	})
	assert.True(t, cr.Unsat)
	assert.Contains(t, fatalCodes(cr), CodeUnsatRequiredAPFalse)
}

func TestComposeUnsatRequiredVsPropertyNamesEnum(t *testing.T) {
	// The normalizer rewrites propertyNames.enum; the composer must still
	// attribute the conflict to propertyNames.
	cr := mustCompose(t, map[string]any{
		"type":          "object",
		"required":      []any{"forbidden"},
		"propertyNames": map[string]any{"enum": []any{"allowed"}},
	})
	assert.True(t, cr.Unsat)
	require.Contains(t, fatalCodes(cr), CodeUnsatRequiredVsPNames)
	for _, e := range cr.Diag.Fatal {
		if e.Code == CodeUnsatRequiredVsPNames {
			assert.Equal(t, "forbidden", e.Details["property"])
		}
	}
}

func TestComposeUnsatRequiredPNamesPattern(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"type":          "object",
		"required":      []any{"UPPER"},
		"propertyNames": map[string]any{"pattern": "^[a-z]+$"},
	})
	assert.True(t, cr.Unsat)
	assert.Contains(t, fatalCodes(cr), CodeUnsatRequiredPNames)
}

func TestComposeUnsatMinPropsPNames(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"type":          "object",
		"minProperties": float64(3),
		"propertyNames": map[string]any{"pattern": "^(?:a|b)$"},
	})
	assert.True(t, cr.Unsat)
	assert.Contains(t, fatalCodes(cr), CodeUnsatMinPropsPNames)
}

func TestComposeUnsatNumericBounds(t *testing.T) {
	tests := []struct {
		name   string
		schema map[string]any
		reason string
	}{
		{
			name:   "empty range",
			schema: map[string]any{"type": "number", "minimum": float64(10), "maximum": float64(5)},
			reason: "rangeEmpty",
		},
		{
			name: "no integer in open interval",
			schema: map[string]any{
				"type":             "integer",
				"exclusiveMinimum": float64(1),
				"exclusiveMaximum": float64(2),
			},
			reason: "integerDomainEmpty",
		},
		{
			name: "multiple outside range",
			schema: map[string]any{
				"type":       "number",
				"minimum":    float64(7),
				"maximum":    float64(9),
				"multipleOf": float64(10),
			},
			reason: "integerDomainEmpty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cr := mustCompose(t, tt.schema)
			require.True(t, cr.Unsat)
			require.Contains(t, fatalCodes(cr), CodeUnsatNumericBounds)
			assert.Equal(t, tt.reason, cr.Diag.Fatal[0].Details["reason"])
		})
	}
}

func TestComposeContainsUnsatBySum(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"type":        "array",
		"maxItems":    float64(1),
		"contains":    map[string]any{"const": "x"},
		"minContains": float64(2),
	})
	assert.True(t, cr.Unsat)
	assert.Contains(t, fatalCodes(cr), CodeContainsUnsatBySum)
}

func TestComposeContainsMinGtMax(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"type":        "array",
		"contains":    map[string]any{"type": "string"},
		"minContains": float64(3),
		"maxContains": float64(1),
	})
	assert.True(t, cr.Unsat)
	assert.Contains(t, fatalCodes(cr), CodeContainsNeedMinGtMax)
}

func TestComposeBranchPlanPrefersDiscriminant(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"oneOf": []any{
			map[string]any{
				"type":          "object",
				"required":      []any{"a", "b", "c"},
				"minProperties": float64(3),
			},
			map[string]any{
				"type":       "object",
				"properties": map[string]any{"kind": map[string]any{"const": "left"}},
				"required":   []any{"kind"},
			},
		},
	})
	plan := cr.Effective.Branches["#/oneOf"]
	require.NotNil(t, plan)
	require.Len(t, plan.Order, 2)
	assert.Equal(t, 1, plan.Order[0], "discriminant branch ranks first")
	assert.True(t, plan.Scores[1].Discriminant)
}

func TestComposeBranchTrialFlagsUnsatBranch(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"anyOf": []any{
			map[string]any{"type": "number", "minimum": float64(5), "maximum": float64(1)},
			map[string]any{"type": "string"},
		},
	})
	assert.False(t, cr.Unsat, "a live branch keeps the node satisfiable")
	require.NotEmpty(t, cr.Diag.UnsatHints)
	assert.Equal(t, "#/anyOf/0", cr.Diag.UnsatHints[0].CanonPath)

	plan := cr.Effective.Branches["#/anyOf"]
	require.NotNil(t, plan)
	assert.Equal(t, 1, plan.Order[0], "the unsat branch sinks to the back")
}

func TestComposeBranchCap(t *testing.T) {
	branches := make([]any, DefaultMaxBranches+4)
	for i := range branches {
		branches[i] = map[string]any{"type": "string"}
	}
	cr := mustCompose(t, map[string]any{"oneOf": branches})

	capped := false
	for _, e := range cr.Diag.Run {
		if e.Code == CodeComplexityCapBranches {
			capped = true
			assert.Equal(t, DefaultMaxBranches+4, e.Details["observed"])
		}
	}
	assert.True(t, capped)
	assert.True(t, cr.Effective.Branches["#/oneOf"].Capped)
}

func TestComposeAPFalseUnsafePatternFailsFast(t *testing.T) {
	cr := mustCompose(t, map[string]any{
		"type": "object",
		"patternProperties": map[string]any{
			"^(?=x).*$": map[string]any{},
		},
		"additionalProperties": false,
	})
	assert.True(t, cr.FailFast)
	found := false
	for _, e := range cr.Diag.Warn {
		if e.Code == CodeAPFalseUnsafePattern {
			found = true
		}
	}
	assert.True(t, found)
}

func TestComposeEnumCap(t *testing.T) {
	values := make([]any, DefaultMaxEnumSize+1)
	for i := range values {
		values[i] = float64(i)
	}
	cr := mustCompose(t, map[string]any{"enum": values})
	capped := false
	for _, e := range cr.Diag.Run {
		if e.Code == CodeComplexityCapEnum {
			capped = true
		}
	}
	assert.True(t, capped)
}

func TestComposeDoesNotMutateCanonical(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer", "minimum": float64(0)},
		},
	}
	nr := mustNormalize(t, schema)
	before := string(canonicalJSON(nr.CanonSchema))
	_ = composeCanonical(nr, nil)
	assert.Equal(t, before, string(canonicalJSON(nr.CanonSchema)))
}
