package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type promExporter struct {
	calls     *prometheus.CounterVec
	errors    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

var (
	promOnce sync.Once
	promInst *promExporter
)

func globalPromExporter() *promExporter {
	promOnce.Do(func() {
		promInst = &promExporter{
			calls: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "beacon",
				Subsystem: "host",
				Name:      "calls_total",
				Help:      "Total operations handled, labeled by operation",
			}, []string{"op"}),
			errors: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "beacon",
				Subsystem: "host",
				Name:      "errors_total",
				Help:      "Failed operations, labeled by operation",
			}, []string{"op"}),
			durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "beacon",
				Subsystem: "host",
				Name:      "operation_duration_seconds",
				Help:      "Operation latency distribution",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}
	})
	return promInst
}

// EnablePrometheus attaches the process-wide prometheus collectors to this
// registry. Subsequent Observe calls feed both layers.
func (r *Registry) EnablePrometheus() {
	r.prom = globalPromExporter()
}

func (p *promExporter) observe(op string, d time.Duration, err error) {
	p.calls.WithLabelValues(op).Inc()
	if err != nil {
		p.errors.WithLabelValues(op).Inc()
	}
	p.durations.WithLabelValues(op).Observe(d.Seconds())
}
