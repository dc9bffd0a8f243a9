package metrics

import (
	"sync/atomic"
	"time"
)

// Record is the lock-free per-operation metric block.
type Record struct {
	op                  string
	totalCalls          atomic.Int64
	totalErrors         atomic.Int64
	totalDurationNs     atomic.Int64
	cacheHits           atomic.Int64
	totalBackendLatency atomic.Int64
	lastUpdateEpoch     atomic.Int64
}

func newRecord(op string) *Record {
	return &Record{op: op}
}

func (r *Record) observe(d time.Duration, err error) {
	r.totalCalls.Add(1)
	if err != nil {
		r.totalErrors.Add(1)
	}
	ns := d.Nanoseconds()
	r.totalDurationNs.Add(ns)
	r.totalBackendLatency.Add(ns)
	if d < cacheHitThreshold {
		r.cacheHits.Add(1)
	}
	r.lastUpdateEpoch.Store(time.Now().Unix())
}

// RecordSnapshot is a point-in-time copy of a Record.
type RecordSnapshot struct {
	Op                    string `json:"op"`
	TotalCalls            int64  `json:"total_calls"`
	TotalErrors           int64  `json:"total_errors"`
	TotalDurationNs       int64  `json:"total_duration_ns"`
	CacheHits             int64  `json:"cache_hits"`
	TotalBackendLatencyNs int64  `json:"total_backend_latency_ns"`
	LastUpdateEpoch       int64  `json:"last_update_epoch"`
}

// Snapshot copies the record's counters.
func (r *Record) Snapshot() RecordSnapshot {
	return RecordSnapshot{
		Op:                    r.op,
		TotalCalls:            r.totalCalls.Load(),
		TotalErrors:           r.totalErrors.Load(),
		TotalDurationNs:       r.totalDurationNs.Load(),
		CacheHits:             r.cacheHits.Load(),
		TotalBackendLatencyNs: r.totalBackendLatency.Load(),
		LastUpdateEpoch:       r.lastUpdateEpoch.Load(),
	}
}

// MeanLatency returns the average call duration, or zero with no calls.
func (s RecordSnapshot) MeanLatency() time.Duration {
	if s.TotalCalls == 0 {
		return 0
	}
	return time.Duration(s.TotalDurationNs / s.TotalCalls)
}
