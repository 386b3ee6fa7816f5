package foundrydata

import "go.uber.org/zap"

// CoverageConfig configures the coverage subsystem for a run.
type CoverageConfig struct {
	Mode               CoverageMode
	DimensionsEnabled  []Dimension
	DimensionPriority  []Dimension
	Profile            Profile
	Caps               *PlannerCaps
	MinCoverage        float64
	ReportMode         ReportMode
	ExcludeUnreachable bool
	SelectedOperations []string
}

// effectiveDimensions resolves the dimension list: explicit dimensions always
// win; the profile only fills in when the user passed none.
func (c *CoverageConfig) effectiveDimensions() []Dimension {
	if c == nil {
		return nil
	}
	if len(c.DimensionsEnabled) > 0 {
		return c.DimensionsEnabled
	}
	if c.Profile == ProfileQuick {
		return []Dimension{DimStructure, DimBranches, DimEnum}
	}
	return AllDimensions
}

// PipelineOptions configure a full pipeline run.
type PipelineOptions struct {
	Count          int
	Seed           uint32
	RepairAttempts int
	PreferExamples bool
	SkipValidation bool

	Normalize *NormalizeOptions
	Plan      *PlanOptions
	Validate  *ValidateOptions
	// PlanningValidate carries the oracle flags consulted during generation
	// and repair. It defaults to Validate; a divergent flag set is an
	// AJV_FLAGS_MISMATCH fail-fast before any instance is produced.
	PlanningValidate *ValidateOptions
	Coverage         *CoverageConfig

	Registry           *ResolutionRegistry
	StrictExternalRefs bool

	// OperationKey stamps operation-scoped coverage events for OpenAPI runs.
	OperationKey string
	Operations   []OperationInfo

	// Adapter overrides the shared validator adapter, mainly for tests.
	Adapter *ValidatorAdapter

	// Logger receives phase-transition debug logs; generation output never
	// flows through it. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o *PipelineOptions) withDefaults() PipelineOptions {
	out := PipelineOptions{}
	if o != nil {
		out = *o
	}
	if out.Count <= 0 {
		out.Count = 1
	}
	if out.RepairAttempts <= 0 {
		out.RepairAttempts = 1
	}
	if out.RepairAttempts > MaxRepairAttempts {
		out.RepairAttempts = MaxRepairAttempts
	}
	if out.Adapter == nil {
		out.Adapter = defaultAdapter
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Coverage == nil {
		out.Coverage = &CoverageConfig{Mode: CoverageOff}
	}
	if out.Coverage.Mode == "" {
		out.Coverage.Mode = CoverageOff
	}
	if out.Coverage.ReportMode == "" {
		out.Coverage.ReportMode = ReportFull
	}
	return out
}
