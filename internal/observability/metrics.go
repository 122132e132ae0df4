package observability

import (
	"errors"
	"time"

	"github.com/goosewin/glot/internal/apperr"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records pipeline runs. It satisfies pipeline.Recorder.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// MustNewMetrics registers the collectors with reg, or the default registerer
// when reg is nil. Registering twice on the same registry reuses the existing
// collectors.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glot",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glot",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Wall time of pipeline runs, including the backend call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	m := &Metrics{runs: runs, duration: duration}
	if existing, ok := register(reg, runs).(*prometheus.CounterVec); ok {
		m.runs = existing
	}
	if existing, ok := register(reg, duration).(*prometheus.HistogramVec); ok {
		m.duration = existing
	}
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector
		}
		panic(err)
	}
	return c
}

// Observe counts a run. Successful runs use the "ok" outcome, classified
// failures the error kind name and anything else "error".
func (m *Metrics) Observe(backend string, err error, elapsed time.Duration) {
	m.runs.WithLabelValues(backend, Outcome(err)).Inc()
	m.duration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// Outcome is the metric label for a run result.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := apperr.KindOf(err); kind != apperr.KindUnknown {
		return kind.String()
	}
	return "error"
}
