package foundrydata

import (
	"runtime"
	"sort"
	"time"
)

// MetricsSnapshot is the per-run performance and counter summary surfaced by
// the orchestrator. Timing fields are excluded from determinism guarantees.
type MetricsSnapshot struct {
	PhaseDurationsMs map[string]int64   `json:"phaseDurationsMs"`
	ItemsGenerated   int                `json:"itemsGenerated"`
	ItemsValid       int                `json:"itemsValid"`
	ItemsInvalid     int                `json:"itemsInvalid"`
	ItemsRepaired    int                `json:"itemsRepaired"`
	RepairAttempts   int                `json:"repairAttempts"`
	MemoryPeakMB     float64            `json:"memoryPeakMB"`
	LatencyQuantiles map[string]float64 `json:"latencyQuantiles"`
	NameAutomaton    GenerateMetrics    `json:"generator"`
}

type metricsRecorder struct {
	snapshot  MetricsSnapshot
	latencies []float64
}

func newMetricsRecorder() *metricsRecorder {
	return &metricsRecorder{
		snapshot: MetricsSnapshot{
			PhaseDurationsMs: map[string]int64{},
			LatencyQuantiles: map[string]float64{},
		},
	}
}

// timePhase runs fn and records its wall-clock duration under the phase name.
func (m *metricsRecorder) timePhase(phase Phase, fn func()) {
	start := time.Now()
	fn()
	m.snapshot.PhaseDurationsMs[string(phase)] = time.Since(start).Milliseconds()
}

// observeItem records one per-item validation latency in milliseconds.
func (m *metricsRecorder) observeItem(d time.Duration) {
	m.latencies = append(m.latencies, float64(d.Microseconds())/1000)
}

// finish computes quantiles and sets MemoryPeakMB to the heap in use at the
// time of the call. Memory is not sampled during the run, so the value is not
// a maximum over the run.
func (m *metricsRecorder) finish() MetricsSnapshot {
	if len(m.latencies) > 0 {
		sorted := make([]float64, len(m.latencies))
		copy(sorted, m.latencies)
		sort.Float64s(sorted)
		quantile := func(q float64) float64 {
			idx := int(q * float64(len(sorted)-1))
			return sorted[idx]
		}
		m.snapshot.LatencyQuantiles["p50"] = quantile(0.50)
		m.snapshot.LatencyQuantiles["p95"] = quantile(0.95)
		m.snapshot.LatencyQuantiles["p99"] = quantile(0.99)
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.snapshot.MemoryPeakMB = float64(stats.HeapInuse) / (1 << 20)
	return m.snapshot
}
