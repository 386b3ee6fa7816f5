package foundrydata

import (
	"sort"
	"strings"
	"time"

	"github.com/foundrydata/foundrydata-go/pkg/xorshift"
)

// Profile is a planner preset.
type Profile string

// Planner profiles.
const (
	ProfileQuick    Profile = "quick"
	ProfileBalanced Profile = "balanced"
	ProfileThorough Profile = "thorough"
)

// PlannerCaps bound how many targets get planned per scope.
type PlannerCaps struct {
	MaxTargetsPerDimension map[Dimension]int `json:"maxTargetsPerDimension,omitempty"`
	MaxTargetsPerSchema    int               `json:"maxTargetsPerSchema,omitempty"`
	MaxTargetsPerOperation int               `json:"maxTargetsPerOperation,omitempty"`
}

// PlannerBudget is the instance budget the plan must fit.
type PlannerBudget struct {
	MaxInstances int `json:"maxInstances"`
	SoftTimeMs   int `json:"softTimeMs,omitempty"`
}

// PlannerConfig configures the coverage planner.
type PlannerConfig struct {
	Budget            PlannerBudget
	DimensionsEnabled []Dimension
	DimensionPriority []Dimension
	Caps              *PlannerCaps
	Profile           Profile
}

// PlannerCapHit records one cap rejection scope.
type PlannerCapHit struct {
	Dimension        string `json:"dimension"`
	ScopeType        string `json:"scopeType"` // dimension | schema | operation
	ScopeKey         string `json:"scopeKey"`
	TotalTargets     int    `json:"totalTargets"`
	PlannedTargets   int    `json:"plannedTargets"`
	UnplannedTargets int    `json:"unplannedTargets"`
}

// TestUnitScope narrows a unit to an operation or schema subtree.
type TestUnitScope struct {
	OperationKey string   `json:"operationKey,omitempty"`
	SchemaPaths  []string `json:"schemaPaths,omitempty"`
}

// TestUnit is one seeded generation work item.
type TestUnit struct {
	ID    string         `json:"id"`
	Seed  uint32         `json:"seed"`
	Count int            `json:"count"`
	Hints []CoverageHint `json:"hints,omitempty"`
	Scope TestUnitScope  `json:"scope"`
}

// PlanOutput is the planner's result.
type PlanOutput struct {
	Units   []TestUnit
	Targets []Target // input targets with meta.planned annotations
	CapHits []PlannerCapHit
	// TimedOut is set when the soft time budget cut selection short; the
	// targets reached before the trip are the partial plan.
	TimedOut bool
}

// profileCaps returns the preset for a profile. Explicit caps always win.
func profileCaps(profile Profile) *PlannerCaps {
	switch profile {
	case ProfileQuick:
		return &PlannerCaps{
			MaxTargetsPerDimension: map[Dimension]int{
				DimStructure:  32,
				DimBranches:   16,
				DimEnum:       16,
				DimBoundaries: 16,
				DimOperations: 8,
			},
			MaxTargetsPerSchema:    64,
			MaxTargetsPerOperation: 16,
		}
	case ProfileThorough:
		return &PlannerCaps{}
	default: // balanced
		return &PlannerCaps{
			MaxTargetsPerDimension: map[Dimension]int{
				DimStructure:  256,
				DimBranches:   128,
				DimEnum:       128,
				DimBoundaries: 128,
				DimOperations: 64,
			},
			MaxTargetsPerSchema:    512,
			MaxTargetsPerOperation: 128,
		}
	}
}

// ProfileInstanceBudget is the recommended instance count for a profile.
func ProfileInstanceBudget(profile Profile) int {
	switch profile {
	case ProfileQuick:
		return 16
	case ProfileThorough:
		return 256
	default:
		return 64
	}
}

// PlanCoverage selects the planned target subset under the configured caps
// and materializes one TestUnit per planned target. Cap application is
// deterministic: targets are visited in the documented sort order and a
// rejected target gets meta.planned=false plus a PlannerCapHit for its scope.
func PlanCoverage(targets []Target, config PlannerConfig) *PlanOutput {
	caps := config.Caps
	if caps == nil {
		caps = profileCaps(config.Profile)
	}
	priority := config.DimensionPriority
	if len(priority) == 0 {
		priority = AllDimensions
	}
	priorityRank := map[Dimension]int{}
	for i, d := range priority {
		priorityRank[d] = i
	}
	enabled := map[Dimension]bool{}
	if len(config.DimensionsEnabled) == 0 {
		for _, d := range AllDimensions {
			enabled[d] = true
		}
	} else {
		for _, d := range config.DimensionsEnabled {
			enabled[d] = true
		}
	}

	out := &PlanOutput{Targets: make([]Target, len(targets))}
	copy(out.Targets, targets)

	order := make([]int, len(out.Targets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		a, b := out.Targets[order[x]], out.Targets[order[y]]
		aOp, bOp := a.OperationKey != "", b.OperationKey != ""
		if aOp != bOp {
			return aOp
		}
		ra, rb := rankOf(priorityRank, a.Dimension), rankOf(priorityRank, b.Dimension)
		if ra != rb {
			return ra < rb
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.CanonPath != b.CanonPath {
			return a.CanonPath < b.CanonPath
		}
		return a.ID < b.ID
	})

	dimCount := map[Dimension]int{}
	schemaCount := map[string]int{}
	opCount := map[string]int{}
	type scopeStat struct{ total, planned int }
	dimStats := map[Dimension]*scopeStat{}
	schemaStats := map[string]*scopeStat{}
	opStats := map[string]*scopeStat{}

	stat := func(m map[string]*scopeStat, key string) *scopeStat {
		if m[key] == nil {
			m[key] = &scopeStat{}
		}
		return m[key]
	}

	var started time.Time
	if config.Budget.SoftTimeMs > 0 {
		started = time.Now()
	}

	var planned []int
	for n, i := range order {
		t := &out.Targets[i]
		if t.Meta == nil {
			t.Meta = map[string]any{}
		}
		if !started.IsZero() && !out.TimedOut && n%64 == 0 {
			if time.Since(started).Milliseconds() > int64(config.Budget.SoftTimeMs) {
				out.TimedOut = true
			}
		}
		if out.TimedOut {
			t.Meta["planned"] = false
			continue
		}
		if !enabled[t.Dimension] || t.Status != StatusActive {
			t.Meta["planned"] = false
			continue
		}
		schemaScope := schemaScopeOf(t.CanonPath)
		ds := dimStats[t.Dimension]
		if ds == nil {
			ds = &scopeStat{}
			dimStats[t.Dimension] = ds
		}
		ds.total++
		stat(schemaStats, schemaScope).total++
		if t.OperationKey != "" {
			stat(opStats, t.OperationKey).total++
		}

		rejected := false
		if limit, ok := caps.MaxTargetsPerDimension[t.Dimension]; ok && limit > 0 && dimCount[t.Dimension] >= limit {
			rejected = true
		}
		if caps.MaxTargetsPerSchema > 0 && schemaCount[schemaScope] >= caps.MaxTargetsPerSchema {
			rejected = true
		}
		if t.OperationKey != "" && caps.MaxTargetsPerOperation > 0 && opCount[t.OperationKey] >= caps.MaxTargetsPerOperation {
			rejected = true
		}
		if rejected {
			t.Meta["planned"] = false
			continue
		}

		t.Meta["planned"] = true
		dimCount[t.Dimension]++
		schemaCount[schemaScope]++
		if t.OperationKey != "" {
			opCount[t.OperationKey]++
		}
		ds.planned++
		stat(schemaStats, schemaScope).planned++
		if t.OperationKey != "" {
			stat(opStats, t.OperationKey).planned++
		}
		planned = append(planned, i)
	}

	// One cap hit per scope whose configured cap rejected something.
	for _, d := range AllDimensions {
		s := dimStats[d]
		limit, configured := caps.MaxTargetsPerDimension[d]
		if s == nil || !configured || limit <= 0 || s.planned == s.total {
			continue
		}
		out.CapHits = append(out.CapHits, PlannerCapHit{
			Dimension:        string(d),
			ScopeType:        "dimension",
			ScopeKey:         string(d),
			TotalTargets:     s.total,
			PlannedTargets:   s.planned,
			UnplannedTargets: s.total - s.planned,
		})
	}
	if caps.MaxTargetsPerSchema > 0 {
		for _, key := range sortedStatKeys(schemaStats) {
			s := schemaStats[key]
			if s.planned == s.total || s.planned < caps.MaxTargetsPerSchema {
				continue
			}
			out.CapHits = append(out.CapHits, PlannerCapHit{
				ScopeType:        "schema",
				ScopeKey:         key,
				TotalTargets:     s.total,
				PlannedTargets:   s.planned,
				UnplannedTargets: s.total - s.planned,
			})
		}
	}
	if caps.MaxTargetsPerOperation > 0 {
		for _, key := range sortedStatKeys(opStats) {
			s := opStats[key]
			if s.planned == s.total || s.planned < caps.MaxTargetsPerOperation {
				continue
			}
			out.CapHits = append(out.CapHits, PlannerCapHit{
				ScopeType:        "operation",
				ScopeKey:         key,
				TotalTargets:     s.total,
				PlannedTargets:   s.planned,
				UnplannedTargets: s.total - s.planned,
			})
		}
	}

	// One unit per planned target, clipped to the instance budget.
	maxUnits := len(planned)
	if config.Budget.MaxInstances > 0 && maxUnits > config.Budget.MaxInstances {
		maxUnits = config.Budget.MaxInstances
	}
	for _, i := range planned[:maxUnits] {
		t := out.Targets[i]
		out.Units = append(out.Units, TestUnit{
			ID:    "tu-" + t.ID,
			Count: 1,
			Hints: hintsForTarget(t),
			Scope: TestUnitScope{OperationKey: t.OperationKey, SchemaPaths: []string{t.CanonPath}},
		})
	}
	return out
}

func rankOf(ranks map[Dimension]int, d Dimension) int {
	if r, ok := ranks[d]; ok {
		return r
	}
	return len(ranks)
}

// schemaScopeOf buckets a canonical path to its top-level subtree for the
// per-schema cap.
func schemaScopeOf(canonPath string) string {
	segments := SplitPointer(canonPath)
	if len(segments) == 0 {
		return RootPointer
	}
	depth := 2
	if len(segments) < depth {
		depth = len(segments)
	}
	return JoinPointer(RootPointer, segments[:depth]...)
}

func sortedStatKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// hintsForTarget derives the generation hints that steer a run toward one
// target.
func hintsForTarget(t Target) []CoverageHint {
	switch t.Kind {
	case KindOneOfBranch, KindAnyOfBranch:
		index, _ := t.Params["branchIndex"].(int)
		return []CoverageHint{{
			Kind:        HintPreferBranch,
			CanonPath:   parentPointer(t.CanonPath),
			BranchIndex: index,
		}}
	case KindPropertyPresent:
		name, _ := t.Params["propertyName"].(string)
		return []CoverageHint{{
			Kind:         HintEnsurePropertyPresence,
			CanonPath:    JoinPointer(t.CanonPath, "properties", name),
			PropertyName: name,
			Present:      true,
		}}
	case KindEnumValueHit:
		index, _ := t.Params["enumIndex"].(int)
		return []CoverageHint{{
			Kind:       HintCoverEnumValue,
			CanonPath:  t.CanonPath,
			ValueIndex: index,
		}}
	}
	return nil
}

// parentPointer trims the last segment of a canonical pointer.
func parentPointer(canonPath string) string {
	i := strings.LastIndexByte(canonPath, '/')
	if i < 0 {
		return RootPointer
	}
	return canonPath[:i]
}

// AssignTestUnitSeeds derives each unit's seed from the master seed and the
// unit's identity, after planning, so plan edits never reshuffle sibling
// seeds.
func AssignTestUnitSeeds(units []TestUnit, masterSeed uint32) {
	for i := range units {
		label := units[i].ID + "|" + units[i].Scope.key()
		units[i].Seed = xorshift.Derive(masterSeed, label).Next()
	}
}

func (s TestUnitScope) key() string {
	parts := make([]string, 0, 1+len(s.SchemaPaths))
	if s.OperationKey != "" {
		parts = append(parts, s.OperationKey)
	}
	parts = append(parts, s.SchemaPaths...)
	return strings.Join(parts, ",")
}
