package foundrydata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairFillsMissingRequired(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "integer", "minimum": float64(3)},
			"name": map[string]any{"type": "string"},
		},
		"required":             []any{"id", "name"},
		"additionalProperties": false,
	}
	eff := composeFor(t, schema)

	validate := func(item any) bool {
		obj := asMap(item)
		_, hasID := obj["id"]
		_, hasName := obj["name"]
		return hasID && hasName
	}

	outcome := RepairItem(map[string]any{"name": "x"}, eff, RepairOptions{Attempts: 2}, validate)
	assert.True(t, outcome.Repaired)
	require.Len(t, outcome.Actions, 1)
	assert.Equal(t, ActionFillRequired, outcome.Actions[0].Action)
	obj := asMap(outcome.Item)
	assert.EqualValues(t, 3, obj["id"], "type default honors the numeric minimum")
}

func TestRepairDropsExtraneousKey(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
		},
		"additionalProperties": false,
	}
	eff := composeFor(t, schema)

	validate := func(item any) bool {
		obj := asMap(item)
		_, hasGhost := obj["ghost"]
		return !hasGhost
	}

	outcome := RepairItem(map[string]any{"a": "keep", "ghost": 1}, eff, RepairOptions{Attempts: 1}, validate)
	assert.True(t, outcome.Repaired)
	obj := asMap(outcome.Item)
	_, present := obj["ghost"]
	assert.False(t, present)
	assert.Equal(t, "keep", obj["a"])
	// Renaming was considered first but the only admissible name is taken,
	// so the drop path fires.
	require.Len(t, outcome.Actions, 1)
	assert.Equal(t, ActionDropExtraneous, outcome.Actions[0].Action)
}

func TestRepairRenamesToAdmissibleName(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"alpha": map[string]any{"type": "string"},
		},
		"additionalProperties": false,
	}
	eff := composeFor(t, schema)

	validate := func(item any) bool {
		obj := asMap(item)
		_, ok := obj["alpha"]
		return ok && len(obj) == 1
	}

	outcome := RepairItem(map[string]any{"wrong": "payload"}, eff, RepairOptions{Attempts: 1}, validate)
	assert.True(t, outcome.Repaired)
	obj := asMap(outcome.Item)
	assert.Equal(t, "payload", obj["alpha"], "value survives the rename")
	require.Len(t, outcome.Actions, 1)
	assert.Equal(t, ActionRenameProperty, outcome.Actions[0].Action)
	assert.Equal(t, "wrong", outcome.Actions[0].Details["from"])
	assert.Equal(t, "alpha", outcome.Actions[0].Details["to"])
}

func TestRepairCoercesToLiftedEnum(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"color": map[string]any{"type": "string", "pattern": "^(?:red|blue)$"},
		},
		"required": []any{"color"},
	}
	eff := composeFor(t, schema)

	validate := func(item any) bool {
		obj := asMap(item)
		c, _ := obj["color"].(string)
		return c == "red" || c == "blue"
	}

	outcome := RepairItem(map[string]any{"color": "purple"}, eff, RepairOptions{Attempts: 1}, validate)
	assert.True(t, outcome.Repaired)
	obj := asMap(outcome.Item)
	assert.Equal(t, "red", obj["color"])
	require.Len(t, outcome.Actions, 1)
	assert.Equal(t, ActionCoerceToEnum, outcome.Actions[0].Action)
}

func TestRepairSurrendersWhenNoSafeEditApplies(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"n": map[string]any{"type": "integer"},
		},
	}
	eff := composeFor(t, schema)

	// A validator that never passes: repair must give up, not loop.
	validate := func(any) bool { return false }
	outcome := RepairItem(map[string]any{"n": int64(1)}, eff, RepairOptions{Attempts: 3}, validate)
	assert.False(t, outcome.Repaired)
	assert.True(t, jsonEqual(outcome.Item, map[string]any{"n": int64(1)}))
}

func TestRepairAttemptsClamped(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"type": "string"},
			"c": map[string]any{"type": "string"},
			"d": map[string]any{"type": "string"},
			"e": map[string]any{"type": "string"},
		},
		"required":             []any{"a", "b", "c", "d", "e"},
		"additionalProperties": false,
	}
	eff := composeFor(t, schema)
	validate := func(item any) bool { return len(asMap(item)) == 5 }

	// Asking for 10 attempts still performs at most three edits.
	outcome := RepairItem(map[string]any{}, eff, RepairOptions{Attempts: 10}, validate)
	assert.False(t, outcome.Repaired)
	assert.LessOrEqual(t, len(outcome.Actions), MaxRepairAttempts)
}

func TestRepairItemDoesNotMutateInput(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "string"},
		},
		"required":             []any{"x"},
		"additionalProperties": false,
	}
	eff := composeFor(t, schema)
	input := map[string]any{}
	_ = RepairItem(input, eff, RepairOptions{Attempts: 1}, func(any) bool { return false })
	assert.Empty(t, input, "repair edits a copy, never the caller's value")
}
