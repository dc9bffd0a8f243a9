package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAccumulates(t *testing.T) {
	r := NewRegistry()

	r.Observe("search", 10*time.Millisecond, nil)
	r.Observe("search", 20*time.Millisecond, errors.New("x"))

	s := r.Record("search").Snapshot()
	assert.Equal(t, int64(2), s.TotalCalls)
	assert.Equal(t, int64(1), s.TotalErrors)
	assert.Equal(t, (30 * time.Millisecond).Nanoseconds(), s.TotalDurationNs)
	assert.Equal(t, 15*time.Millisecond, s.MeanLatency())
	assert.NotZero(t, s.LastUpdateEpoch)
}

func TestCacheHitHeuristic(t *testing.T) {
	r := NewRegistry()

	r.Observe("cache", 50*time.Microsecond, nil) // under the 100µs threshold
	r.Observe("cache", 5*time.Millisecond, nil)

	s := r.Record("cache").Snapshot()
	assert.Equal(t, int64(1), s.CacheHits)
}

func TestTimingGuard(t *testing.T) {
	r := NewRegistry()

	g := r.Time("op")
	time.Sleep(time.Millisecond)
	g.Stop()
	g.Stop() // second stop is a no-op

	s := r.Record("op").Snapshot()
	assert.Equal(t, int64(1), s.TotalCalls)
	assert.GreaterOrEqual(t, s.TotalDurationNs, time.Millisecond.Nanoseconds())
}

func TestTimingGuardFailure(t *testing.T) {
	r := NewRegistry()

	g := r.Time("op")
	g.Fail(errors.New("boom"))
	g.Stop()

	s := r.Record("op").Snapshot()
	assert.Equal(t, int64(1), s.TotalErrors)
}

func TestHealthScore(t *testing.T) {
	r := NewRegistry()

	t.Run("IdleIsHealthy", func(t *testing.T) {
		h := r.Health()
		assert.InDelta(t, 1.0, h.Latency, 0.01)
		assert.InDelta(t, 1.0, h.Violation, 0.01)
		assert.GreaterOrEqual(t, h.Overall, 0.0)
		assert.LessOrEqual(t, h.Overall, 1.0)
	})

	t.Run("ErrorsDragViolation", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			r.Observe("flaky", time.Millisecond, errors.New("x"))
		}
		h := r.Health()
		assert.Less(t, h.Violation, 0.1)
	})
}

func TestDashboard(t *testing.T) {
	r := NewRegistry()
	r.Observe("a", time.Millisecond, nil)
	r.Observe("b", time.Millisecond, nil)

	d := r.Dashboard()
	require.Len(t, d.Records, 2)
}
