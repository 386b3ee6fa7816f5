package foundrydata

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNormalize(t *testing.T, schema any) *NormalizeResult {
	t.Helper()
	nr, err := Normalize(schema, nil)
	require.NoError(t, err)
	return nr
}

func TestNormalizeSetsCanonicalDialect(t *testing.T) {
	nr := mustNormalize(t, map[string]any{"type": "string"})
	root := asMap(nr.CanonSchema)
	assert.Equal(t, CanonicalDialect, root["$schema"])
	hasNote := false
	for _, note := range nr.Notes {
		if note.Code == CodeDialectNormalized {
			hasNote = true
		}
	}
	assert.True(t, hasNote)
}

func TestNormalizeLiftsDefinitions(t *testing.T) {
	schema := map[string]any{
		"definitions": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"properties": map[string]any{
			"n": map[string]any{"$ref": "#/definitions/name"},
		},
	}
	nr := mustNormalize(t, schema)
	root := asMap(nr.CanonSchema)

	_, hasLegacy := root["definitions"]
	assert.False(t, hasLegacy)
	defs := asMap(root["$defs"])
	require.NotNil(t, defs)
	assert.Contains(t, defs, "name")

	// Local definition refs follow the lifted home.
	prop := asMap(asMap(root["properties"])["n"])
	assert.Equal(t, "#/$defs/name", prop["$ref"])

	// The canonical $defs entry maps back to the legacy location.
	orig, ok := nr.PtrMap.Original("#/$defs/name")
	require.True(t, ok)
	assert.Equal(t, "#/definitions/name", orig)
}

func TestNormalizeRefAcrossIDBoundaryUntouched(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"inner": map[string]any{
				"$id":  "https://example.com/inner",
				"$ref": "#/definitions/x",
			},
		},
	}
	nr := mustNormalize(t, schema)
	inner := asMap(asMap(asMap(nr.CanonSchema)["properties"])["inner"])
	assert.Equal(t, "#/definitions/x", inner["$ref"], "cross-boundary ref stays put")

	found := false
	for _, note := range nr.Notes {
		if note.Code == CodeDefsTargetMissing {
			found = true
			assert.Equal(t, "#/definitions/x", note.Details["ref"])
		}
	}
	assert.True(t, found)
}

func TestNormalizeCompactsNeutralAllOf(t *testing.T) {
	schema := map[string]any{
		"allOf": []any{
			true,
			map[string]any{},
			map[string]any{"type": "string"},
		},
	}
	nr := mustNormalize(t, schema)
	kept := asSlice(asMap(nr.CanonSchema)["allOf"])
	require.Len(t, kept, 1)
	assert.Equal(t, "string", asMap(kept[0])["type"])
}

func TestNormalizeCollapsesSingleOneOf(t *testing.T) {
	schema := map[string]any{
		"oneOf": []any{map[string]any{"const": float64(1)}},
	}
	nr := mustNormalize(t, schema)
	root := asMap(nr.CanonSchema)
	_, hasOneOf := root["oneOf"]
	assert.False(t, hasOneOf)
	assert.Equal(t, float64(1), root["const"])

	// The hoisted keyword maps back to the original branch location.
	orig, ok := nr.PtrMap.Original("#/const")
	require.True(t, ok)
	assert.Equal(t, "#/oneOf/0/const", orig)
}

func TestNormalizeRewritesPropertyNamesEnum(t *testing.T) {
	schema := map[string]any{
		"type":          "object",
		"propertyNames": map[string]any{"enum": []any{"alpha", "beta"}},
	}
	nr := mustNormalize(t, schema)
	root := asMap(nr.CanonSchema)

	_, hasPNames := root["propertyNames"]
	assert.False(t, hasPNames)
	ap, _ := root["additionalProperties"].(bool)
	assert.False(t, ap)

	patterns := asMap(root["patternProperties"])
	require.Len(t, patterns, 1)
	source := sortedKeys(patterns)[0]
	assert.Equal(t, "^(?:alpha|beta)$", source)

	// Both rewritten keywords carry reverse entries to propertyNames.enum.
	for _, canon := range []string{
		JoinPointer("#", "patternProperties", source),
		"#/additionalProperties",
	} {
		orig, ok := nr.PtrMap.Original(canon)
		require.True(t, ok, canon)
		assert.Equal(t, "#/propertyNames/enum", orig)
	}
}

func TestNormalizeExclusiveBoundsDraft4(t *testing.T) {
	schema := map[string]any{
		"type":             "number",
		"minimum":          float64(3),
		"exclusiveMinimum": true,
		"maximum":          float64(10),
		"exclusiveMaximum": false,
	}
	nr := mustNormalize(t, schema)
	root := asMap(nr.CanonSchema)
	assert.Equal(t, float64(3), root["exclusiveMinimum"])
	_, hasMin := root["minimum"]
	assert.False(t, hasMin)
	assert.Equal(t, float64(10), root["maximum"])
	_, hasExclMax := root["exclusiveMaximum"]
	assert.False(t, hasExclMax)
}

func TestNormalizeTupleItems(t *testing.T) {
	schema := map[string]any{
		"type": "array",
		"items": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "integer"},
		},
		"additionalItems": map[string]any{"type": "boolean"},
	}
	nr := mustNormalize(t, schema)
	root := asMap(nr.CanonSchema)
	prefix := asSlice(root["prefixItems"])
	require.Len(t, prefix, 2)
	assert.Equal(t, "boolean", asMap(root["items"])["type"])
	_, hasLegacy := root["additionalItems"]
	assert.False(t, hasLegacy)

	orig, ok := nr.PtrMap.Original("#/prefixItems/0")
	require.True(t, ok)
	assert.Equal(t, "#/items/0", orig)
}

func TestNormalizeTypeArray(t *testing.T) {
	nr := mustNormalize(t, map[string]any{"type": []any{"string", "string", "null"}})
	root := asMap(nr.CanonSchema)
	assert.Equal(t, []any{"string", "null"}, root["type"])

	nr = mustNormalize(t, map[string]any{"type": []any{"integer"}})
	assert.Equal(t, "integer", asMap(nr.CanonSchema)["type"])
}

func TestNormalizeConditionalSafePolicy(t *testing.T) {
	discriminant := map[string]any{
		"properties": map[string]any{"kind": map[string]any{"const": "a"}},
		"required":   []any{"kind"},
	}
	schema := map[string]any{
		"if":   discriminant,
		"then": map[string]any{"required": []any{"aField"}},
		"else": map[string]any{"required": []any{"bField"}},
	}
	nr := mustNormalize(t, schema)
	root := asMap(nr.CanonSchema)
	_, hasIf := root["if"]
	assert.False(t, hasIf)
	arms := asSlice(root["anyOf"])
	require.Len(t, arms, 2)

	// Non-discriminant conditions stay untouched under the safe policy.
	opaque := map[string]any{
		"if":   map[string]any{"minProperties": float64(2)},
		"then": map[string]any{"required": []any{"x"}},
	}
	nr = mustNormalize(t, opaque)
	_, hasIf = asMap(nr.CanonSchema)["if"]
	assert.True(t, hasIf)
}

func TestNormalizeIdempotent(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"definitions": map[string]any{
			"id": map[string]any{"type": "integer", "minimum": float64(0)},
		},
		"properties": map[string]any{
			"id":   map[string]any{"$ref": "#/definitions/id"},
			"name": map[string]any{"type": "string", "minLength": float64(1)},
		},
		"required":             []any{"id", "name"},
		"additionalProperties": false,
	}
	once := mustNormalize(t, schema)
	twice := mustNormalize(t, once.CanonSchema)
	if diff := cmp.Diff(once.CanonSchema, twice.CanonSchema); diff != "" {
		t.Fatalf("normalize is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestNormalizePtrMapCompleteness(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
		},
		"oneOf": []any{
			map[string]any{"required": []any{"a"}},
			map[string]any{"required": []any{"b"}},
		},
	}
	nr := mustNormalize(t, schema)

	var check func(v any, canonPath string)
	check = func(v any, canonPath string) {
		_, ok := nr.PtrMap.Original(canonPath)
		assert.True(t, ok, "missing ptrMap entry for %s", canonPath)
		node := asMap(v)
		if node == nil {
			return
		}
		for _, key := range mapSchemaKeywords {
			members := asMap(node[key])
			for _, name := range sortedKeys(members) {
				check(members[name], JoinPointer(canonPath, key, name))
			}
		}
		for _, key := range singleSchemaKeywords {
			if child, ok := node[key]; ok && isSchemaValue(child) {
				check(child, JoinPointer(canonPath, key))
			}
		}
		for _, key := range listSchemaKeywords {
			for i, child := range asSlice(node[key]) {
				check(child, branchCanonPath(canonPath, key, i))
			}
		}
	}
	check(nr.CanonSchema, RootPointer)
	assert.Empty(t, nr.PtrMap.CheckInverse())
}
