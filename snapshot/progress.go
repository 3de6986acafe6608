package snapshot

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/acropolis/internal/xlog"
)

// tickInterval and stallThreshold emit a progress tick at least once per
// second and flag a stall once 2 s pass with no progress.
const (
	tickInterval   = 1 * time.Second
	stallThreshold = 2 * time.Second
)

// ProgressSource reports a monotonically non-decreasing progress counter
// (bytes read, items dispatched). ProgressMonitor polls it on a ticker;
// it never calls back into the operation being monitored.
type ProgressSource func() int64

// ProgressMonitor emits progress ticks and stall warnings during
// long-running operations, purely observationally: it never affects
// correctness or causes a failure.
type ProgressMonitor struct {
	label  string
	source ProgressSource
	log    *xlog.Logger

	gauge prometheus.Gauge
	stall prometheus.Counter
}

// NewProgressMonitor builds a monitor for an operation identified by
// label (used as a metric/log field), polling source for its current
// progress value.
func NewProgressMonitor(label string, source ProgressSource, reg prometheus.Registerer, logger *xlog.Logger) *ProgressMonitor {
	if logger == nil {
		logger = xlog.New("progressmonitor")
	}
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "acropolis",
		Subsystem:   "bootstrap",
		Name:        "progress_units",
		Help:        "Monotonic progress counter for a long-running bootstrap operation.",
		ConstLabels: prometheus.Labels{"operation": label},
	})
	stall := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "acropolis",
		Subsystem:   "bootstrap",
		Name:        "stall_warnings_total",
		Help:        "Count of stall warnings emitted for a long-running bootstrap operation.",
		ConstLabels: prometheus.Labels{"operation": label},
	})
	if reg != nil {
		reg.MustRegister(gauge, stall)
	}
	return &ProgressMonitor{label: label, source: source, log: logger, gauge: gauge, stall: stall}
}

// Run polls source on a ticker until ctx is done, logging a progress tick
// at least once per second and a stall warning whenever more than
// stallThreshold elapses without the counter advancing. Run blocks; call
// it from its own goroutine alongside the operation it watches.
func (p *ProgressMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	last := p.source()
	lastProgressAt := time.Now()
	p.gauge.Set(float64(last))

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cur := p.source()
			p.gauge.Set(float64(cur))
			p.log.Debug("progress", "operation", p.label, "value", humanize.Comma(cur))
			if cur > last {
				last = cur
				lastProgressAt = now
				continue
			}
			if now.Sub(lastProgressAt) > stallThreshold {
				p.stall.Inc()
				p.log.Warn("no progress observed", "operation", p.label, "value", humanize.Comma(cur), "stalled for", now.Sub(lastProgressAt))
			}
		}
	}
}
