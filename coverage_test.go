package foundrydata

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzeFor(t *testing.T, schema any, dims ...Dimension) *AnalyzerOutput {
	t.Helper()
	cr := mustCompose(t, schema)
	return AnalyzeCoverage(AnalyzerInput{
		Effective:         cr.Effective,
		PlanDiag:          cr.Diag.Fatal,
		DimensionsEnabled: dims,
	})
}

func targetsOfKind(targets []Target, kind TargetKind) []Target {
	var out []Target
	for _, t := range targets {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

func TestAnalyzerOneOfBranchTargets(t *testing.T) {
	schema := map[string]any{
		"oneOf": []any{
			map[string]any{"const": "left"},
			map[string]any{"const": "right"},
			map[string]any{"const": "center"},
		},
	}
	out := analyzeFor(t, schema, DimBranches)
	branches := targetsOfKind(out.Targets, KindOneOfBranch)
	require.Len(t, branches, 3, "exactly one target per branch")
	for i, target := range branches {
		assert.Equal(t, i, target.Params["branchIndex"])
		assert.Equal(t, StatusActive, target.Status)
	}
}

func TestAnalyzerEnumTargets(t *testing.T) {
	out := analyzeFor(t, map[string]any{"enum": []any{"red", "green", "blue", "yellow"}}, DimEnum)
	hits := targetsOfKind(out.Targets, KindEnumValueHit)
	require.Len(t, hits, 4)
	seen := map[int]bool{}
	for _, target := range hits {
		idx := target.Params["enumIndex"].(int)
		seen[idx] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true}, seen)
}

func TestAnalyzerStructureAndBoundaries(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"n": map[string]any{"type": "integer", "minimum": float64(0), "maximum": float64(9)},
			"s": map[string]any{"type": "string", "minLength": float64(1)},
		},
	}
	out := analyzeFor(t, schema, DimStructure, DimBoundaries)
	assert.NotEmpty(t, targetsOfKind(out.Targets, KindSchemaNode))
	assert.Len(t, targetsOfKind(out.Targets, KindPropertyPresent), 2)
	assert.Len(t, targetsOfKind(out.Targets, KindNumericMinHit), 1)
	assert.Len(t, targetsOfKind(out.Targets, KindNumericMaxHit), 1)
	assert.Len(t, targetsOfKind(out.Targets, KindStringMinLengthHit), 1)
}

func TestAnalyzerDeterministicOutput(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"enum": []any{1.0, 2.0}},
			"b": map[string]any{"type": "string", "maxLength": float64(4)},
		},
		"oneOf": []any{
			map[string]any{"required": []any{"a"}},
			map[string]any{"required": []any{"b"}},
		},
	}
	first := analyzeFor(t, schema)
	second := analyzeFor(t, schema)
	if diff := cmp.Diff(first.Targets, second.Targets); diff != "" {
		t.Fatalf("targets differ between runs:\n%s", diff)
	}
	if diff := cmp.Diff(first.Graph, second.Graph); diff != "" {
		t.Fatalf("graph differs between runs:\n%s", diff)
	}
}

func TestTargetIDStability(t *testing.T) {
	id1 := ComputeTargetID(DimEnum, KindEnumValueHit, "#/properties/tag", "", map[string]any{"enumIndex": 2})
	id2 := ComputeTargetID(DimEnum, KindEnumValueHit, "#/properties/tag", "", map[string]any{"enumIndex": 2, "weight": 5.0})
	assert.Equal(t, id1, id2, "non-identity params never affect the id")

	id3 := ComputeTargetID(DimEnum, KindEnumValueHit, "#/properties/tag", "", map[string]any{"enumIndex": 3})
	assert.NotEqual(t, id1, id3)

	id4 := ComputeTargetID(DimEnum, KindEnumValueHit, "#/properties/tag", "op-a", map[string]any{"enumIndex": 2})
	assert.NotEqual(t, id1, id4, "operationKey participates in identity")
}

func TestTargetIDCollisionFreeAcrossRun(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"enum": []any{"x", "y", "z"}},
			"b": map[string]any{"type": "integer", "minimum": float64(0), "maximum": float64(5)},
		},
		"oneOf": []any{
			map[string]any{"required": []any{"a"}},
			map[string]any{"required": []any{"b"}},
		},
	}
	out := analyzeFor(t, schema)
	seen := map[string]bool{}
	for _, target := range out.Targets {
		assert.False(t, seen[target.ID], "duplicate id %s", target.ID)
		seen[target.ID] = true
	}
}

func TestPlannerCapsDeterministic(t *testing.T) {
	schema := map[string]any{"enum": []any{"a", "b", "c", "d", "e", "f"}}
	analyzed := analyzeFor(t, schema, DimEnum)

	config := PlannerConfig{
		Budget: PlannerBudget{MaxInstances: 100},
		Caps: &PlannerCaps{
			MaxTargetsPerDimension: map[Dimension]int{DimEnum: 4},
		},
		DimensionsEnabled: []Dimension{DimEnum},
	}
	out := PlanCoverage(analyzed.Targets, config)

	planned, unplanned := 0, 0
	for _, target := range out.Targets {
		if target.Meta["planned"] == true {
			planned++
		} else {
			unplanned++
		}
	}
	assert.Equal(t, 4, planned, "planned targets never exceed the cap")
	require.Len(t, out.CapHits, 1)
	hit := out.CapHits[0]
	assert.Equal(t, "dimension", hit.ScopeType)
	assert.Equal(t, hit.TotalTargets, hit.PlannedTargets+hit.UnplannedTargets)
	assert.Equal(t, 4, hit.PlannedTargets)

	// Re-planning yields the identical selection.
	again := PlanCoverage(analyzed.Targets, config)
	if diff := cmp.Diff(out.Targets, again.Targets); diff != "" {
		t.Fatalf("cap application is not deterministic:\n%s", diff)
	}
}

func TestPlannerUnitsAndSeeds(t *testing.T) {
	schema := map[string]any{"enum": []any{"a", "b", "c"}}
	analyzed := analyzeFor(t, schema, DimEnum)
	out := PlanCoverage(analyzed.Targets, PlannerConfig{Budget: PlannerBudget{MaxInstances: 10}})
	require.Len(t, out.Units, 3, "one unit per planned target")
	for _, unit := range out.Units {
		assert.Equal(t, 1, unit.Count)
		assert.Zero(t, unit.Seed, "seeds are assigned post-hoc")
	}

	AssignTestUnitSeeds(out.Units, 2024)
	seeds := map[uint32]bool{}
	for _, unit := range out.Units {
		assert.NotZero(t, unit.Seed)
		seeds[unit.Seed] = true
	}
	assert.Len(t, seeds, 3, "unit seeds are pairwise distinct")

	// Reassignment is reproducible.
	again := PlanCoverage(analyzed.Targets, PlannerConfig{Budget: PlannerBudget{MaxInstances: 10}})
	AssignTestUnitSeeds(again.Units, 2024)
	for i := range out.Units {
		assert.Equal(t, out.Units[i].Seed, again.Units[i].Seed)
	}
}

func TestPlannerHints(t *testing.T) {
	schema := map[string]any{
		"oneOf": []any{
			map[string]any{"const": "left"},
			map[string]any{"const": "right"},
		},
	}
	analyzed := analyzeFor(t, schema, DimBranches)
	out := PlanCoverage(analyzed.Targets, PlannerConfig{Budget: PlannerBudget{MaxInstances: 10}})
	require.Len(t, out.Units, 2)
	for _, unit := range out.Units {
		require.Len(t, unit.Hints, 1)
		assert.Equal(t, HintPreferBranch, unit.Hints[0].Kind)
		assert.Equal(t, "#/oneOf", unit.Hints[0].CanonPath)
	}
}

func TestAccumulatorResolvesEvents(t *testing.T) {
	targets := []Target{
		{
			ID: ComputeTargetID(DimEnum, KindEnumValueHit, "#", "", map[string]any{"enumIndex": 0}),
			Dimension: DimEnum, Kind: KindEnumValueHit, CanonPath: "#",
			Params: map[string]any{"enumIndex": 0}, Status: StatusActive,
		},
		{
			ID: ComputeTargetID(DimEnum, KindEnumValueHit, "#", "", map[string]any{"enumIndex": 1}),
			Dimension: DimEnum, Kind: KindEnumValueHit, CanonPath: "#",
			Params: map[string]any{"enumIndex": 1}, Status: StatusActive,
		},
	}
	acc := NewAccumulator(targets)
	acc.Record(CoverageEvent{Dimension: DimEnum, Kind: KindEnumValueHit, CanonPath: "#", Params: map[string]any{"enumIndex": 0}})
	// Unresolvable events are ignored silently.
	acc.Record(CoverageEvent{Dimension: DimEnum, Kind: KindEnumValueHit, CanonPath: "#/other", Params: map[string]any{"enumIndex": 9}})

	assert.Equal(t, 1, acc.HitCount())
	assert.True(t, acc.HitByID(targets[0].ID))
	assert.False(t, acc.HitByID(targets[1].ID))
}

func TestAccumulatorDeprecatedNotIndexed(t *testing.T) {
	targets := []Target{
		{
			ID: "deprecated-target", Dimension: DimOperations, Kind: KindSchemaReused,
			CanonPath: "#", Status: StatusDeprecated,
		},
	}
	acc := NewAccumulator(targets)
	acc.Record(CoverageEvent{Dimension: DimOperations, Kind: KindSchemaReused, CanonPath: "#"})
	assert.Zero(t, acc.HitCount())
	assert.False(t, acc.HitByID("deprecated-target"))
}

func TestStreamingAccumulatorTwoPhaseCommit(t *testing.T) {
	targets := []Target{
		{
			ID: ComputeTargetID(DimStructure, KindSchemaNode, "#", "", nil),
			Dimension: DimStructure, Kind: KindSchemaNode, CanonPath: "#", Status: StatusActive,
		},
	}
	acc := NewAccumulator(targets)

	rejected := acc.NewInstanceState()
	rejected.Record(CoverageEvent{Dimension: DimStructure, Kind: KindSchemaNode, CanonPath: "#"})
	rejected.Discard()
	assert.Zero(t, acc.HitCount(), "discarded instances leave no trace")

	committed := acc.NewInstanceState()
	committed.Record(CoverageEvent{Dimension: DimStructure, Kind: KindSchemaNode, CanonPath: "#"})
	acc.CommitInstance(committed)
	assert.Equal(t, 1, acc.HitCount())
	assert.Zero(t, committed.Len(), "commit resets the per-instance state")
}

func TestEvaluatorRatiosAndThreshold(t *testing.T) {
	targets := []Target{
		{ID: "t1", Dimension: DimStructure, Kind: KindSchemaNode, CanonPath: "#", Status: StatusActive},
		{ID: "t2", Dimension: DimStructure, Kind: KindSchemaNode, CanonPath: "#/a", Status: StatusActive},
		{ID: "t3", Dimension: DimBranches, Kind: KindOneOfBranch, CanonPath: "#/oneOf/0", Status: StatusActive},
		{ID: "t4", Dimension: DimBranches, Kind: KindOneOfBranch, CanonPath: "#/oneOf/1", Status: StatusUnreachable},
		{ID: "t5", Dimension: DimEnum, Kind: KindEnumValueHit, CanonPath: "#", Status: StatusDeprecated},
	}
	for i := range targets {
		targets[i].Params = nil
	}
	acc := NewAccumulator(targets)
	acc.Record(CoverageEvent{Dimension: DimStructure, Kind: KindSchemaNode, CanonPath: "#"})
	acc.Record(CoverageEvent{Dimension: DimBranches, Kind: KindOneOfBranch, CanonPath: "#/oneOf/0"})

	out := EvaluateCoverage(targets, acc, EvaluateConfig{Thresholds: &Thresholds{Overall: 0.8}})
	// Denominator 4 (active + unreachable, deprecated excluded), 2 hits.
	assert.InDelta(t, 0.5, out.Metrics.Overall, 1e-9)
	assert.Equal(t, CoverageMinNotMet, out.Metrics.CoverageStatus)
	assert.InDelta(t, 0.5, out.Metrics.ByDimension["structure"], 1e-9)
	assert.InDelta(t, 0.5, out.Metrics.ByDimension["branches"], 1e-9)
	assert.Equal(t, 3, out.Metrics.TargetsByStatus["active"])
	assert.Equal(t, 1, out.Metrics.TargetsByStatus["unreachable"])
	assert.Equal(t, 1, out.Metrics.TargetsByStatus["deprecated"])
	require.Len(t, out.UncoveredTargets, 1)
	assert.Equal(t, "t2", out.UncoveredTargets[0].ID)

	// Excluding unreachable raises the ratio: 2 hits over 3.
	out = EvaluateCoverage(targets, acc, EvaluateConfig{ExcludeUnreachable: true})
	assert.InDelta(t, 2.0/3.0, out.Metrics.Overall, 1e-9)
	assert.Equal(t, CoverageOK, out.Metrics.CoverageStatus)
}

func TestEvaluatorUnreachableFromUnsat(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dead": map[string]any{
				"type": "number", "minimum": float64(9), "maximum": float64(1),
			},
		},
		"required": []any{"dead"},
	}
	cr := mustCompose(t, schema)
	require.True(t, cr.Unsat)
	out := AnalyzeCoverage(AnalyzerInput{
		Effective:         cr.Effective,
		PlanDiag:          cr.Diag.Fatal,
		DimensionsEnabled: []Dimension{DimStructure, DimBoundaries},
	})
	unreachable := 0
	for _, target := range out.Targets {
		if target.Status == StatusUnreachable {
			unreachable++
			assert.True(t, PointerHasPrefix(target.CanonPath, "#/properties/dead"))
		}
	}
	assert.Greater(t, unreachable, 0)
}

func TestReportModeSummaryDropsTargets(t *testing.T) {
	report := &CoverageReport{
		Version: CoverageReportVersion,
		Targets: []Target{{ID: "x"}},
		UncoveredTargets: []Target{{ID: "y"}},
	}
	report.ApplyReportMode(ReportSummary)
	assert.Nil(t, report.Targets)
	assert.Len(t, report.UncoveredTargets, 1, "uncovered targets always survive")
	assert.NotNil(t, report.UnsatisfiedHints)
	assert.NotNil(t, report.Diagnostics.Notes)
}
