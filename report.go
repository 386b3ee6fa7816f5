package foundrydata

// FoundryVersion is the engine version stamped into reports.
const FoundryVersion = "1.0.0"

// CoverageReportVersion is the on-disk report format identifier.
const CoverageReportVersion = "coverage-report/v1"

// ReportMode selects how much target detail a report carries.
type ReportMode string

// Report modes.
const (
	ReportFull    ReportMode = "full"
	ReportSummary ReportMode = "summary"
)

// CoverageMode is the coverage subsystem's operating mode.
type CoverageMode string

// Coverage modes.
const (
	CoverageOff     CoverageMode = "off"
	CoverageMeasure CoverageMode = "measure"
	CoverageGuided  CoverageMode = "guided"
)

// ReportEngine identifies the generating engine. The oracle major version
// keeps its historical wire name.
type ReportEngine struct {
	FoundryVersion string       `json:"foundryVersion"`
	CoverageMode   CoverageMode `json:"coverageMode"`
	AjvMajor       int          `json:"ajvMajor"`
}

// ReportRun captures the run parameters that shaped the report.
type ReportRun struct {
	Seed               uint32   `json:"seed"`
	MasterSeed         uint32   `json:"masterSeed"`
	MaxInstances       int      `json:"maxInstances"`
	ActualInstances    int      `json:"actualInstances"`
	DimensionsEnabled  []string `json:"dimensionsEnabled"`
	ExcludeUnreachable bool     `json:"excludeUnreachable"`
	StartedAt          string   `json:"startedAt"`
	DurationMs         int64    `json:"durationMs"`
	OperationsScope    string   `json:"operationsScope,omitempty"`
	SelectedOperations []string `json:"selectedOperations,omitempty"`
}

// ReportDiagnostics is the diagnostics block of a report.
type ReportDiagnostics struct {
	PlannerCapsHit []PlannerCapHit `json:"plannerCapsHit"`
	Notes          []string        `json:"notes"`
}

// CoverageReport is the versioned, transport-ready coverage result.
type CoverageReport struct {
	Version          string            `json:"version"`
	ReportMode       ReportMode        `json:"reportMode"`
	Engine           ReportEngine      `json:"engine"`
	Run              ReportRun         `json:"run"`
	Metrics          CoverageMetrics   `json:"metrics"`
	Targets          []Target          `json:"targets"`
	UncoveredTargets []Target          `json:"uncoveredTargets"`
	UnsatisfiedHints []CoverageHint    `json:"unsatisfiedHints"`
	Diagnostics      ReportDiagnostics `json:"diagnostics"`
}

// ApplyReportMode pares the report down for transport. Summary mode drops the
// full target array; uncoveredTargets always survive so a failing gate stays
// actionable.
func (r *CoverageReport) ApplyReportMode(mode ReportMode) {
	r.ReportMode = mode
	if mode == ReportSummary {
		r.Targets = nil
	}
	if r.Targets == nil && mode == ReportFull {
		r.Targets = []Target{}
	}
	if r.UncoveredTargets == nil {
		r.UncoveredTargets = []Target{}
	}
	if r.UnsatisfiedHints == nil {
		r.UnsatisfiedHints = []CoverageHint{}
	}
	if r.Diagnostics.PlannerCapsHit == nil {
		r.Diagnostics.PlannerCapsHit = []PlannerCapHit{}
	}
	if r.Diagnostics.Notes == nil {
		r.Diagnostics.Notes = []string{}
	}
}
