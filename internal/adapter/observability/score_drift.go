package observability

import (
	"log/slog"
	"sync"
)

// Metrics tracked by the score drift monitor.
const (
	DriftFinalScore   = "final_score_percentage"
	DriftContentScore = "avg_content_score"
)

// ScoreDriftMonitor watches rolling means of interview scores per model.
// The first full window becomes the baseline; later windows are compared to it
// and a warning is logged when the absolute drift exceeds the threshold.
type ScoreDriftMonitor struct {
	mu         sync.Mutex
	windowSize int
	threshold  float64
	model      string
	baseline   map[string]float64
	recent     map[string][]float64
}

// NewScoreDriftMonitor creates a monitor for one model.
func NewScoreDriftMonitor(model string, windowSize int, threshold float64) *ScoreDriftMonitor {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &ScoreDriftMonitor{
		windowSize: windowSize,
		threshold:  threshold,
		model:      model,
		baseline:   make(map[string]float64),
		recent:     make(map[string][]float64),
	}
}

// SetBaseline pins the baseline for a metric instead of learning it.
func (m *ScoreDriftMonitor) SetBaseline(metric string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline[metric] = v
	slog.Info("score baseline pinned", slog.String("metric", metric), slog.String("model", m.model), slog.Float64("baseline", v))
}

func (m *ScoreDriftMonitor) baselineFor(metric string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.baseline[metric]
	return v, ok
}

// Record adds one observation and returns the current drift (0 until a baseline exists).
func (m *ScoreDriftMonitor) Record(metric string, v float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := append(m.recent[metric], v)
	if len(w) > m.windowSize {
		w = w[len(w)-m.windowSize:]
	}
	m.recent[metric] = w
	if len(w) < m.windowSize {
		return 0
	}
	avg := mean(w)
	base, ok := m.baseline[metric]
	if !ok {
		m.baseline[metric] = avg
		slog.Info("score baseline learned",
			slog.String("metric", metric),
			slog.String("model", m.model),
			slog.Float64("baseline", avg))
		return 0
	}
	drift := avg - base
	if drift < 0 {
		drift = -drift
	}
	ScoreDriftGauge.WithLabelValues(metric, m.model).Set(drift)
	if drift > m.threshold {
		slog.Warn("score drift detected",
			slog.String("metric", metric),
			slog.String("model", m.model),
			slog.Float64("drift", drift),
			slog.Float64("threshold", m.threshold))
	}
	return drift
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
