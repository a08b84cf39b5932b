// Package telemetry times operations. Every finished trace feeds a latency
// histogram; traces slower than the configured threshold are also logged
// with their per-step breakdown.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eduapp/pkg/logger"
)

var (
	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eduapp_operation_duration_seconds",
		Help:    "Latency of store access operations.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"op"})
	opErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eduapp_operation_errors_total",
		Help: "Failed store access operations by error kind.",
	}, []string{"op", "kind"})
)

func init() {
	prometheus.MustRegister(opDuration, opErrors)
}

// slowNanos is the slow-trace threshold; 0 disables slow logging.
var slowNanos atomic.Int64

// Init sets the threshold above which finished traces are logged.
func Init(slowThreshold time.Duration) {
	slowNanos.Store(int64(slowThreshold))
}

// Close disables slow-trace logging.
func Close() {
	slowNanos.Store(0)
}

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Steps    []Step    `json:"steps"`
	TotalMS  float64   `json:"total_ms"`
	failed   string
	lastMark time.Time
	done     bool
}

// Track starts a trace for the named operation.
func Track(name string) *Trace {
	now := time.Now()
	return &Trace{Name: name, Start: now, lastMark: now}
}

// Mark records the time elapsed since the previous mark under label.
func (tr *Trace) Mark(label string) {
	now := time.Now()
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: now.Sub(tr.lastMark).Seconds() * 1000})
	tr.lastMark = now
}

// Fail tags the trace with an error kind; Finish counts it.
func (tr *Trace) Fail(kind string) {
	tr.failed = kind
}

// Finish records the trace. Only the first call has an effect, so it is safe
// to defer alongside an explicit call.
func (tr *Trace) Finish() {
	if tr == nil || tr.done {
		return
	}
	tr.done = true
	total := time.Since(tr.Start)
	tr.TotalMS = total.Seconds() * 1000

	opDuration.WithLabelValues(tr.Name).Observe(total.Seconds())
	if tr.failed != "" {
		opErrors.WithLabelValues(tr.Name, tr.failed).Inc()
	}

	slow := slowNanos.Load()
	if slow <= 0 || int64(total) < slow {
		return
	}
	var sum float64
	for _, s := range tr.Steps {
		sum += s.Duration
	}
	if rest := tr.TotalMS - sum; rest > 0.001 {
		tr.Steps = append(tr.Steps, Step{Name: "unmarked", Duration: rest})
	}
	logger.Warn("slow_operation", "op", tr.Name, "total_ms", tr.TotalMS, "steps", tr.Steps, "error_kind", tr.failed)
}
