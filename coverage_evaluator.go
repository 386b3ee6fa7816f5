package foundrydata

import "sort"

// CoverageStatus is the evaluator's verdict.
type CoverageStatus string

// Coverage statuses.
const (
	CoverageOK              CoverageStatus = "ok"
	CoverageMinNotMet       CoverageStatus = "minCoverageNotMet"
)

// Thresholds gate the run's coverage outcome.
type Thresholds struct {
	Overall float64 `json:"overall"`
}

// CoverageMetrics is the metrics block of the coverage report.
type CoverageMetrics struct {
	CoverageStatus  CoverageStatus     `json:"coverageStatus"`
	Overall         float64            `json:"overall"`
	ByDimension     map[string]float64 `json:"byDimension"`
	ByOperation     map[string]float64 `json:"byOperation"`
	TargetsByStatus map[string]int     `json:"targetsByStatus"`
	Thresholds      *Thresholds        `json:"thresholds,omitempty"`
}

// EvaluateConfig tunes the evaluator.
type EvaluateConfig struct {
	Thresholds *Thresholds
	// ExcludeUnreachable removes unreachable targets from denominators.
	ExcludeUnreachable bool
}

// EvaluateOutput carries the metrics plus the always-present uncovered list.
type EvaluateOutput struct {
	Metrics          CoverageMetrics
	UncoveredTargets []Target
}

// EvaluateCoverage computes per-dimension and per-operation ratios over the
// hit bitmap. A ratio's denominator is the active target count, plus the
// unreachable count unless excluded. Deprecated targets never count.
func EvaluateCoverage(targets []Target, acc *Accumulator, config EvaluateConfig) *EvaluateOutput {
	type tally struct{ hit, denom int }
	byDim := map[string]*tally{}
	byOp := map[string]*tally{}
	byStatus := map[string]int{}
	overall := &tally{}

	counted := func(t *Target) bool {
		switch t.Status {
		case StatusActive:
			return true
		case StatusUnreachable:
			return !config.ExcludeUnreachable
		}
		return false
	}

	var uncovered []Target
	for i := range targets {
		t := &targets[i]
		byStatus[string(t.Status)]++
		if t.Status == StatusDeprecated {
			continue
		}
		hit := t.Status == StatusActive && acc != nil && acc.HitByID(t.ID)
		if t.Status == StatusActive && !hit {
			uncovered = append(uncovered, *t)
		}
		if !counted(t) {
			continue
		}
		overall.denom++
		dim := byDim[string(t.Dimension)]
		if dim == nil {
			dim = &tally{}
			byDim[string(t.Dimension)] = dim
		}
		dim.denom++
		var op *tally
		if t.OperationKey != "" {
			op = byOp[t.OperationKey]
			if op == nil {
				op = &tally{}
				byOp[t.OperationKey] = op
			}
			op.denom++
		}
		if hit {
			overall.hit++
			dim.hit++
			if op != nil {
				op.hit++
			}
		}
	}

	ratio := func(t *tally) float64 {
		if t.denom == 0 {
			return 1
		}
		return float64(t.hit) / float64(t.denom)
	}

	metrics := CoverageMetrics{
		CoverageStatus:  CoverageOK,
		Overall:         ratio(overall),
		ByDimension:     map[string]float64{},
		ByOperation:     map[string]float64{},
		TargetsByStatus: byStatus,
		Thresholds:      config.Thresholds,
	}
	for dim, t := range byDim {
		metrics.ByDimension[dim] = ratio(t)
	}
	for op, t := range byOp {
		metrics.ByOperation[op] = ratio(t)
	}
	if config.Thresholds != nil && config.Thresholds.Overall > 0 && metrics.Overall < config.Thresholds.Overall {
		metrics.CoverageStatus = CoverageMinNotMet
	}

	sort.SliceStable(uncovered, func(i, j int) bool {
		if uncovered[i].Dimension != uncovered[j].Dimension {
			return dimensionRank(uncovered[i].Dimension) < dimensionRank(uncovered[j].Dimension)
		}
		if uncovered[i].CanonPath != uncovered[j].CanonPath {
			return uncovered[i].CanonPath < uncovered[j].CanonPath
		}
		return uncovered[i].ID < uncovered[j].ID
	})
	return &EvaluateOutput{Metrics: metrics, UncoveredTargets: uncovered}
}
