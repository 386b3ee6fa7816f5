package foundrydata

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonschema"
	"go.uber.org/zap"
)

// PipelineStatus is the overall run verdict.
type PipelineStatus string

// Pipeline statuses.
const (
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
)

// StageStatus is one phase's verdict.
type StageStatus string

// Stage statuses.
const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageRecord is the orchestrator's account of one phase.
type StageRecord struct {
	Phase  Phase       `json:"phase"`
	Status StageStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// TimelineEntry records when a phase ran.
type TimelineEntry struct {
	Phase      Phase  `json:"phase"`
	StartedAt  string `json:"startedAt"`
	DurationMs int64  `json:"durationMs"`
}

// PipelineError is a user-facing failure entry.
type PipelineError struct {
	Code            Code   `json:"code"`
	Message         string `json:"message"`
	FailureCategory string `json:"failureCategory,omitempty"` // schema-bug | ajv-config | input
	FailureKind     string `json:"failureKind,omitempty"`
}

// PipelineArtifacts carries every phase output the orchestrator owns.
type PipelineArtifacts struct {
	Canonical      any              `json:"-"`
	Effective      *EffectiveSchema `json:"-"`
	Generated      []any            `json:"-"`
	Repaired       []any            `json:"-"`
	RepairActions  []RepairAction   `json:"repairActions,omitempty"`
	Validation     []*ValidateResult `json:"-"`
	CoverageReport *CoverageReport  `json:"-"`
}

// PipelineResult is the full outcome of one run.
type PipelineResult struct {
	RunID          string            `json:"runId"`
	Status         PipelineStatus    `json:"status"`
	Stages         []StageRecord     `json:"stages"`
	Metrics        MetricsSnapshot   `json:"metrics"`
	Timeline       []TimelineEntry   `json:"timeline"`
	Errors         []PipelineError   `json:"errors"`
	Diagnostics    []Envelope        `json:"diagnostics"`
	Artifacts      PipelineArtifacts `json:"artifacts"`
	Items          []any             `json:"-"`
	InstancesValid int               `json:"instancesValid"`
	Unsat          bool              `json:"unsat"`
	FailFast       bool              `json:"failFast"`
}

type pipelineRun struct {
	opts    PipelineOptions
	logger  *zap.Logger
	bus     *Bus
	metrics *metricsRecorder
	result  *PipelineResult
}

// ExecutePipeline runs Normalize → Compose → Generate → Repair → Validate on
// one schema, layering coverage when enabled. The orchestrator owns every
// phase artifact for the duration of the run; components receive read-only
// inputs and return fresh outputs.
func ExecutePipeline(ctx context.Context, schema any, opts *PipelineOptions) (*PipelineResult, error) {
	o := opts.withDefaults()
	run := &pipelineRun{
		opts:    o,
		logger:  o.Logger,
		bus:     NewBus(),
		metrics: newMetricsRecorder(),
		result: &PipelineResult{
			RunID:  uuid.NewString(),
			Status: PipelineCompleted,
		},
	}
	result := run.execute(ctx, schema)
	if result.Status == PipelineFailed {
		return result, ErrPipelineFailed
	}
	return result, nil
}

func (r *pipelineRun) stage(phase Phase, status StageStatus, errMsg string) {
	r.result.Stages = append(r.result.Stages, StageRecord{Phase: phase, Status: status, Error: errMsg})
}

func (r *pipelineRun) timeline(phase Phase, start time.Time) {
	r.result.Timeline = append(r.result.Timeline, TimelineEntry{
		Phase:      phase,
		StartedAt:  start.UTC().Format(time.RFC3339),
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func (r *pipelineRun) fail(code Code, message, category, kind string) {
	r.result.Status = PipelineFailed
	r.result.Errors = append(r.result.Errors, PipelineError{
		Code:            code,
		Message:         message,
		FailureCategory: category,
		FailureKind:     kind,
	})
}

func (r *pipelineRun) skipRemaining(phases ...Phase) {
	for _, phase := range phases {
		r.stage(phase, StageSkipped, "")
	}
}

func (r *pipelineRun) execute(ctx context.Context, schema any) *PipelineResult {
	runStart := time.Now()
	defer func() {
		r.result.Diagnostics = r.bus.Entries()
		r.result.Metrics = r.metrics.finish()
		r.result.Metrics.ItemsValid = r.result.InstancesValid
	}()

	// --- normalize ---
	var nr *NormalizeResult
	var normErr error
	start := time.Now()
	r.metrics.timePhase(PhaseNormalize, func() {
		nr, normErr = Normalize(schema, r.opts.Normalize)
	})
	r.timeline(PhaseNormalize, start)
	if normErr != nil {
		r.stage(PhaseNormalize, StageFailed, normErr.Error())
		r.skipRemaining(PhaseCompose, PhaseGenerate, PhaseRepair, PhaseValidate)
		r.fail(CodeValidationCompileError, normErr.Error(), "input", "normalize")
		return r.result
	}
	r.bus.EmitAll(nr.Notes)
	r.stage(PhaseNormalize, StageCompleted, "")
	r.result.Artifacts.Canonical = nr.CanonSchema
	r.logger.Debug("phase completed", zap.String("phase", "normalize"), zap.Int("ptrMapEntries", nr.PtrMap.Len()))

	// External references must be resolvable before planning starts.
	refEnvelopes, refErr := CheckExternalRefs(schema, r.opts.Registry, r.opts.StrictExternalRefs)
	r.bus.EmitAll(refEnvelopes)
	if refErr != nil {
		r.stage(PhaseCompose, StageFailed, refErr.Error())
		r.skipRemaining(PhaseGenerate, PhaseRepair, PhaseValidate)
		r.result.FailFast = true
		r.fail(CodeExternalRefUnresolved, refErr.Error(), "input", "external-ref")
		return r.result
	}

	// --- compose ---
	var cr *ComposeResult
	start = time.Now()
	r.metrics.timePhase(PhaseCompose, func() {
		cr = composeCanonical(nr, &ComposeOptions{Seed: r.opts.Seed, Plan: r.opts.Plan})
	})
	r.timeline(PhaseCompose, start)
	r.bus.EmitAll(cr.Diag.Warn)
	r.bus.EmitAll(cr.Diag.Run)
	r.bus.EmitAll(cr.Diag.Fatal)
	r.result.Artifacts.Effective = cr.Effective

	if cr.FailFast {
		r.stage(PhaseCompose, StageFailed, "unsafe pattern under additionalProperties:false")
		r.skipRemaining(PhaseGenerate, PhaseRepair, PhaseValidate)
		r.result.FailFast = true
		r.fail(CodeAPFalseUnsafePattern, "unsafe pattern under additionalProperties:false", "schema-bug", "ap-false-pattern")
		return r.result
	}
	r.stage(PhaseCompose, StageCompleted, "")
	if cr.Unsat {
		// Provable infeasibility is a result, not an error: downstream phases
		// are skipped and the diagnostics tell the story.
		r.result.Unsat = true
		r.skipRemaining(PhaseGenerate, PhaseRepair, PhaseValidate)
		return r.result
	}

	// --- coverage planning ---
	coverage := r.opts.Coverage
	coverageOn := coverage.Mode == CoverageMeasure || coverage.Mode == CoverageGuided
	var analyzed *AnalyzerOutput
	var planOut *PlanOutput
	var acc *Accumulator
	if coverageOn {
		analyzed = AnalyzeCoverage(AnalyzerInput{
			Effective:         cr.Effective,
			PlanDiag:          cr.Diag.Fatal,
			DimensionsEnabled: coverage.effectiveDimensions(),
			Operations:        r.opts.Operations,
		})
		budget := PlannerBudget{MaxInstances: r.opts.Count}
		if r.opts.Plan != nil {
			budget.SoftTimeMs = r.opts.Plan.SoftTimeMs
		}
		planOut = PlanCoverage(analyzed.Targets, PlannerConfig{
			Budget:            budget,
			DimensionsEnabled: coverage.effectiveDimensions(),
			DimensionPriority: coverage.DimensionPriority,
			Caps:              coverage.Caps,
			Profile:           coverage.Profile,
		})
		AssignTestUnitSeeds(planOut.Units, r.opts.Seed)
		if planOut.TimedOut {
			r.bus.Emit(Envelope{
				Code:      CodeSolverTimeout,
				CanonPath: RootPointer,
				Phase:     PhaseCompose,
				Details:   map[string]any{"timeoutMs": budget.SoftTimeMs, "reason": "softTimeBudget", "problemKind": "plannerSelection"},
			})
		}
		acc = NewAccumulator(planOut.Targets)
		for _, hit := range planOut.CapHits {
			r.bus.Emit(Envelope{
				Code:      CodePlannerCapHit,
				CanonPath: RootPointer,
				Phase:     PhaseCompose,
				Details: map[string]any{
					"dimension":        hit.Dimension,
					"scopeType":        hit.ScopeType,
					"scopeKey":         hit.ScopeKey,
					"totalTargets":     hit.TotalTargets,
					"plannedTargets":   hit.PlannedTargets,
					"unplannedTargets": hit.UnplannedTargets,
				},
			})
		}
	}

	// --- oracle flag consistency, then compile up front ---
	// The source instance validates the final items; the planning instance is
	// what generate/repair consult. Their flag sets must agree before any
	// candidate is produced.
	var sourceOpts ValidateOptions
	if r.opts.Validate != nil {
		sourceOpts = *r.opts.Validate
	}
	planningOpts := sourceOpts
	if r.opts.PlanningValidate != nil {
		planningOpts = *r.opts.PlanningValidate
	}
	if !r.opts.SkipValidation {
		if mismatch := CheckFlagConsistency(sourceOpts, planningOpts); mismatch != nil {
			r.bus.Emit(*mismatch)
			r.skipRemaining(PhaseGenerate, PhaseRepair)
			r.stage(PhaseValidate, StageFailed, "oracle flag mismatch between source and planning instances")
			r.result.FailFast = true
			r.fail(CodeAjvFlagsMismatch, "oracle flag mismatch between source and planning instances", "ajv-config", "flags")
			return r.result
		}
	}

	var oracle *jsonschema.Schema
	var compileEnvelopes []Envelope
	var compileErr error
	if !r.opts.SkipValidation {
		vopts := sourceOpts
		vopts.Registry = r.opts.Registry
		vopts.Plan = r.opts.Plan
		oracle, compileEnvelopes, compileErr = r.opts.Adapter.Compile(schema, vopts)
		r.bus.EmitAll(compileEnvelopes)
	}

	isValid := func(item any) bool {
		if oracle == nil {
			return true
		}
		return r.opts.Adapter.ValidateInstance(oracle, item).Valid
	}

	// --- generate (+ streaming accumulation and repair per candidate) ---
	type slot struct {
		item     any
		repaired bool
		valid    bool
	}
	var slots []slot
	var genDiags []Envelope
	var genMetrics GenerateMetrics
	var unsatisfied []CoverageHint

	start = time.Now()
	r.metrics.timePhase(PhaseGenerate, func() {
		produced := 0
		emit := func(label string, seed uint32, hints []CoverageHint, operationKey string) {
			var sink EventSink = NopSink
			var state *InstanceState
			if acc != nil {
				state = acc.NewInstanceState()
				sink = state
			}
			out := GenerateItems(cr.Effective, GenerateOptions{
				Count:          1,
				Seed:           seed,
				PreferExamples: false,
				Hints:          hints,
				OperationKey:   operationKey,
				StreamLabel:    label,
				Sink:           sink,
			})
			genDiags = append(genDiags, out.Diagnostics...)
			addGenMetrics(&genMetrics, out.Metrics)
			unsatisfied = append(unsatisfied, out.UnsatisfiedHints...)
			if len(out.Items) == 0 {
				if state != nil {
					state.Discard()
				}
				return
			}
			item := out.Items[0]
			itemStart := time.Now()
			valid := isValid(item)
			repaired := false
			if !valid && oracle != nil {
				outcome := RepairItem(item, cr.Effective, RepairOptions{Attempts: r.opts.RepairAttempts}, isValid)
				genDiags = append(genDiags, outcome.Diagnostics...)
				r.result.Artifacts.RepairActions = append(r.result.Artifacts.RepairActions, outcome.Actions...)
				r.metrics.snapshot.RepairAttempts += len(outcome.Actions)
				if outcome.Repaired {
					item = outcome.Item
					valid = true
					repaired = true
					r.result.Artifacts.Repaired = append(r.result.Artifacts.Repaired, item)
				}
			}
			r.metrics.observeItem(time.Since(itemStart))
			if state != nil {
				if valid || r.opts.SkipValidation {
					acc.CommitInstance(state)
					if valid && operationKey != "" {
						// A validated instance covers the operation's response.
						for _, op := range r.opts.Operations {
							if op.Key == operationKey {
								acc.Record(CoverageEvent{
									Dimension:    DimOperations,
									Kind:         KindOpResponseCovered,
									CanonPath:    op.CanonPath,
									OperationKey: op.Key,
								})
							}
						}
					}
				} else {
					state.Discard()
				}
			}
			slots = append(slots, slot{item: item, repaired: repaired, valid: valid})
			produced++
		}

		if r.opts.PreferExamples {
			if example, ok := rootExample(cr.Effective.Canonical); ok {
				slots = append(slots, slot{item: example, valid: isValid(example)})
				produced++
			}
		}

		if coverageOn && coverage.Mode == CoverageGuided {
			for _, unit := range planOut.Units {
				if produced >= r.opts.Count {
					break
				}
				emit(unit.ID+"|"+unit.Scope.key(), unit.Seed, unit.Hints, unit.Scope.OperationKey)
			}
		}
		// Bounded top-up: at most Count*3 attempts, so a slot that
		// repeatedly fails to fill is not spun on.
		for i := 0; produced < r.opts.Count && i < r.opts.Count*3; i++ {
			emit("item"+strconv.Itoa(i), r.opts.Seed, nil, r.opts.OperationKey)
		}
	})
	r.timeline(PhaseGenerate, start)
	r.bus.EmitAll(genDiags)
	r.metrics.snapshot.NameAutomaton = genMetrics
	r.metrics.snapshot.ItemsGenerated = len(slots)
	r.stage(PhaseGenerate, StageCompleted, "")

	repairedCount := 0
	for _, s := range slots {
		r.result.Artifacts.Generated = append(r.result.Artifacts.Generated, s.item)
		if s.repaired {
			repairedCount++
		}
	}
	r.metrics.snapshot.ItemsRepaired = repairedCount
	if repairedCount > 0 {
		r.stage(PhaseRepair, StageCompleted, "")
	} else {
		r.stage(PhaseRepair, StageSkipped, "")
	}

	// --- validate ---
	start = time.Now()
	if r.opts.SkipValidation {
		r.stage(PhaseValidate, StageSkipped, "")
		for _, s := range slots {
			r.result.Items = append(r.result.Items, s.item)
		}
	} else if compileErr != nil {
		// Items may still have been generated; the phase itself failed.
		r.stage(PhaseValidate, StageFailed, compileErr.Error())
		r.result.FailFast = true
		r.fail(CodeValidationCompileError, compileErr.Error(), "ajv-config", "compile")
	} else {
		r.metrics.timePhase(PhaseValidate, func() {
			for _, s := range slots {
				verdict := r.opts.Adapter.ValidateInstance(oracle, s.item)
				r.result.Artifacts.Validation = append(r.result.Artifacts.Validation, verdict)
				if verdict.Valid {
					r.result.Items = append(r.result.Items, s.item)
					r.result.InstancesValid++
				} else {
					r.metrics.snapshot.ItemsInvalid++
				}
			}
		})
		r.stage(PhaseValidate, StageCompleted, "")
	}
	r.timeline(PhaseValidate, start)

	// --- coverage evaluation ---
	if coverageOn {
		report := r.buildReport(planOut, acc, unsatisfied, runStart)
		r.result.Artifacts.CoverageReport = report
		if report.Metrics.CoverageStatus == CoverageMinNotMet {
			r.bus.Emit(Envelope{
				Code:      CodeCoverageThresholdNotMet,
				CanonPath: RootPointer,
				Phase:     PhaseValidate,
				Details:   map[string]any{"overall": report.Metrics.Overall, "threshold": coverage.MinCoverage},
			})
		}
	}

	return r.result
}

func (r *pipelineRun) buildReport(planOut *PlanOutput, acc *Accumulator, unsatisfied []CoverageHint, started time.Time) *CoverageReport {
	coverage := r.opts.Coverage
	var thresholds *Thresholds
	if coverage.MinCoverage > 0 {
		thresholds = &Thresholds{Overall: coverage.MinCoverage}
	}
	eval := EvaluateCoverage(planOut.Targets, acc, EvaluateConfig{
		Thresholds:         thresholds,
		ExcludeUnreachable: coverage.ExcludeUnreachable,
	})

	dims := coverage.effectiveDimensions()
	dimNames := make([]string, len(dims))
	for i, d := range dims {
		dimNames[i] = string(d)
	}
	report := &CoverageReport{
		Version: CoverageReportVersion,
		Engine: ReportEngine{
			FoundryVersion: FoundryVersion,
			CoverageMode:   coverage.Mode,
			AjvMajor:       EngineMajor,
		},
		Run: ReportRun{
			Seed:               r.opts.Seed,
			MasterSeed:         r.opts.Seed,
			MaxInstances:       r.opts.Count,
			ActualInstances:    r.metrics.snapshot.ItemsGenerated,
			DimensionsEnabled:  dimNames,
			ExcludeUnreachable: coverage.ExcludeUnreachable,
			StartedAt:          started.UTC().Format(time.RFC3339),
			DurationMs:         time.Since(started).Milliseconds(),
			SelectedOperations: coverage.SelectedOperations,
		},
		Metrics:          eval.Metrics,
		Targets:          planOut.Targets,
		UncoveredTargets: eval.UncoveredTargets,
		UnsatisfiedHints: unsatisfied,
		Diagnostics: ReportDiagnostics{
			PlannerCapsHit: planOut.CapHits,
		},
	}
	report.ApplyReportMode(coverage.ReportMode)
	return report
}

func addGenMetrics(total *GenerateMetrics, delta GenerateMetrics) {
	total.CandidatesBuilt += delta.CandidatesBuilt
	total.RegexCapped += delta.RegexCapped
	total.PatternWitnesses += delta.PatternWitnesses
	total.NameDrawsCapped += delta.NameDrawsCapped
	total.UniqueRetries += delta.UniqueRetries
	total.ExamplesEmitted += delta.ExamplesEmitted
	total.RequiredDropped += delta.RequiredDropped
}

// GenerateStream is the streaming front of the pipeline: items arrive on a
// channel while the full result and coverage report resolve once the run
// finishes.
type GenerateStream struct {
	items  chan any
	done   chan struct{}
	result *PipelineResult
}

// Items returns the channel of valid instances.
func (s *GenerateStream) Items() <-chan any {
	return s.items
}

// Result blocks until the run completes and returns the full PipelineResult.
func (s *GenerateStream) Result() *PipelineResult {
	<-s.done
	return s.result
}

// Coverage blocks until the run completes and returns the coverage report,
// or nil when coverage was off.
func (s *GenerateStream) Coverage() *CoverageReport {
	<-s.done
	return s.result.Artifacts.CoverageReport
}

// Generate runs the pipeline asynchronously and streams valid instances.
func Generate(ctx context.Context, k int, seed uint32, schema any, opts *PipelineOptions) *GenerateStream {
	o := opts.withDefaults()
	o.Count = k
	o.Seed = seed
	stream := &GenerateStream{
		items: make(chan any, k),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(stream.done)
		defer close(stream.items)
		result, _ := ExecutePipeline(ctx, schema, &o)
		stream.result = result
		for _, item := range result.Items {
			select {
			case stream.items <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return stream
}
