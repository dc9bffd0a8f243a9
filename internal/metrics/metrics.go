// Package metrics tracks per-operation counters and latencies with lock-free
// atomics, and exports the aggregate through prometheus.
package metrics

import (
	"sync"
	"time"
)

// cacheHitThreshold is the latency under which a call is counted as a cache
// hit. Heuristic, not load-bearing.
const cacheHitThreshold = 100 * time.Microsecond

// Registry holds one Record per operation name.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	prom    *promExporter
}

// NewRegistry creates an empty metrics registry. Prometheus collectors are
// registered once per process via EnablePrometheus.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Record returns the record for op, creating it on first use.
func (r *Registry) Record(op string) *Record {
	r.mu.RLock()
	rec, ok := r.records[op]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok = r.records[op]; ok {
		return rec
	}
	rec = newRecord(op)
	r.records[op] = rec
	return rec
}

// Snapshot returns a point-in-time copy of every record.
func (r *Registry) Snapshot() []RecordSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordSnapshot, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Snapshot())
	}
	return out
}

// Observe records one completed call for op.
func (r *Registry) Observe(op string, d time.Duration, err error) {
	rec := r.Record(op)
	rec.observe(d, err)
	if r.prom != nil {
		r.prom.observe(op, d, err)
	}
}

// Time starts a TimingGuard for op. The guard records on Stop.
func (r *Registry) Time(op string) *TimingGuard {
	return &TimingGuard{reg: r, op: op, start: time.Now()}
}

// TimingGuard records an operation's duration when stopped. Constructed via
// Registry.Time; safe to stop exactly once.
type TimingGuard struct {
	reg     *Registry
	op      string
	start   time.Time
	stopped bool
	err     error
}

// Fail marks the guarded operation as failed.
func (g *TimingGuard) Fail(err error) { g.err = err }

// Stop records the elapsed duration. Subsequent calls are no-ops.
func (g *TimingGuard) Stop() {
	if g.stopped {
		return
	}
	g.stopped = true
	g.reg.Observe(g.op, time.Since(g.start), g.err)
}
