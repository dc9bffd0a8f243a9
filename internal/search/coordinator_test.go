package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon/internal/lifecycle"
	"github.com/beaconkit/beacon/internal/metrics"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// scriptedPlugin returns canned items, optionally delayed or failing.
type scriptedPlugin struct {
	id    string
	items []plugin.ActionItem
	delay time.Duration
	err   error
}

func (p *scriptedPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{ID: p.id, Name: p.id, Version: "1", Kind: plugin.KindNative}
}
func (p *scriptedPlugin) Initialize(context.Context, plugin.HostServices) error { return nil }
func (p *scriptedPlugin) Search(ctx context.Context, _ string) ([]plugin.ActionItem, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.items, p.err
}
func (p *scriptedPlugin) ExecuteCommand(context.Context, string, map[string]any) (any, error) {
	return nil, nil
}
func (p *scriptedPlugin) ExecuteAction(context.Context, string, map[string]any) (any, error) {
	return nil, nil
}
func (p *scriptedPlugin) BackgroundRefresh(context.Context) error { return nil }
func (p *scriptedPlugin) Cleanup(context.Context) error           { return nil }

func (p *scriptedPlugin) Kind() plugin.Kind { return plugin.KindNative }

// fakeTargets serves scripted plugins straight to the coordinator.
type fakeTargets struct {
	plugins   []*scriptedPlugin
	successes int
	errors    int
}

func (f *fakeTargets) SearchTargets() []lifecycle.SearchTarget {
	out := make([]lifecycle.SearchTarget, len(f.plugins))
	for i, p := range f.plugins {
		out[i] = lifecycle.SearchTarget{PluginID: p.id, Wrapper: p}
	}
	return out
}
func (f *fakeTargets) RecordSuccess(string, time.Duration) { f.successes++ }
func (f *fakeTargets) RecordError(string, string)          { f.errors++ }

func item(id string, score float32, actions ...string) plugin.ActionItem {
	ai := plugin.ActionItem{ID: id, Title: id, Score: score}
	for _, a := range actions {
		ai.Actions = append(ai.Actions, plugin.ItemAction{ID: a, Title: a})
	}
	return ai
}

func newCoordinator(cfg Config, targets TargetSource) (*Coordinator, *ActionMap) {
	actions := NewActionMap()
	return NewCoordinator(cfg, targets, actions, metrics.NewRegistry(), nil), actions
}

func TestMergeOrdering(t *testing.T) {
	targets := &fakeTargets{plugins: []*scriptedPlugin{
		{id: "p1", items: []plugin.ActionItem{item("a", 30)}},
		{id: "p2", items: []plugin.ActionItem{item("b", 80), item("c", 30)}},
	}}
	c, _ := newCoordinator(Config{}, targets)

	snap := c.Search(context.Background(), "q")
	require.Len(t, snap.Items, 3)

	// b(80) first; the 30-point tie breaks by plugin id: p1/a before p2/c.
	assert.Equal(t, "b", snap.Items[0].Item.ID)
	assert.Equal(t, "a", snap.Items[1].Item.ID)
	assert.Equal(t, "c", snap.Items[2].Item.ID)
}

func TestActionMappingRecorded(t *testing.T) {
	targets := &fakeTargets{plugins: []*scriptedPlugin{
		{id: "p1", items: []plugin.ActionItem{item("x", 10, "x.open", "x.copy")}},
	}}
	c, actions := newCoordinator(Config{}, targets)

	c.Search(context.Background(), "q")

	for _, id := range []string{"x", "x.open", "x.copy"} {
		owner, ok := actions.Lookup(id)
		require.True(t, ok, "mapping for %s", id)
		assert.Equal(t, "p1", owner)
	}

	t.Run("ClearedOnUnregister", func(t *testing.T) {
		actions.RemovePlugin("p1")
		_, ok := actions.Lookup("x.open")
		assert.False(t, ok)
	})
}

func TestZeroPlugins(t *testing.T) {
	c, _ := newCoordinator(Config{}, &fakeTargets{})
	snap := c.Search(context.Background(), "anything")
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.Failed)
}

func TestResultCapAndTruncation(t *testing.T) {
	var items []plugin.ActionItem
	for i := 0; i < 10; i++ {
		items = append(items, item(string(rune('a'+i)), float32(i)))
	}
	targets := &fakeTargets{plugins: []*scriptedPlugin{{id: "p", items: items}}}
	c, _ := newCoordinator(Config{ResultCap: 5}, targets)

	snap := c.Search(context.Background(), "q")
	assert.Len(t, snap.Items, 5)
	assert.True(t, snap.Truncated)
	// highest scores survive
	assert.Equal(t, "j", snap.Items[0].Item.ID)
}

func TestFailingPluginOmitted(t *testing.T) {
	targets := &fakeTargets{plugins: []*scriptedPlugin{
		{id: "ok", items: []plugin.ActionItem{item("a", 50)}},
		{id: "boom", err: errors.New("kaput")},
	}}
	c, _ := newCoordinator(Config{}, targets)

	snap := c.Search(context.Background(), "q")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, []string{"boom"}, snap.Failed)
	assert.Equal(t, 1, targets.errors, "failure recorded in health")
	assert.Equal(t, 1, targets.successes)
}

func TestSlowPluginTimedOut(t *testing.T) {
	targets := &fakeTargets{plugins: []*scriptedPlugin{
		{id: "fast", items: []plugin.ActionItem{item("f", 10)}},
		{id: "slow", delay: 500 * time.Millisecond, items: []plugin.ActionItem{item("s", 99)}},
	}}
	c, _ := newCoordinator(Config{PerPluginTimeout: 30 * time.Millisecond}, targets)

	start := time.Now()
	snap := c.Search(context.Background(), "q")
	elapsed := time.Since(start)

	require.Len(t, snap.Items, 1)
	assert.Equal(t, "f", snap.Items[0].Item.ID)
	assert.Contains(t, snap.Failed, "slow")
	assert.Less(t, elapsed, 300*time.Millisecond, "deadline bounds the fan-out")
}

func TestSupersedingSearchCancelsPrevious(t *testing.T) {
	targets := &fakeTargets{plugins: []*scriptedPlugin{
		{id: "slow", delay: 200 * time.Millisecond, items: []plugin.ActionItem{item("s", 1)}},
	}}
	c, _ := newCoordinator(Config{PerPluginTimeout: time.Second}, targets)
	sub := c.Results().Subscribe()

	done := make(chan Snapshot, 1)
	go func() { done <- c.Search(context.Background(), "first") }()
	time.Sleep(20 * time.Millisecond)

	second := c.Search(context.Background(), "second")
	assert.Equal(t, "second", second.Query)

	<-done

	// Only the superseding run publishes a snapshot.
	var published []string
	for {
		select {
		case s := <-sub:
			published = append(published, s.Query)
			continue
		default:
		}
		break
	}
	assert.Equal(t, []string{"second"}, published)
}

func TestIndexObservation(t *testing.T) {
	targets := &fakeTargets{plugins: []*scriptedPlugin{
		{id: "p", items: []plugin.ActionItem{item("a", 1), item("b", 2)}},
	}}
	c, _ := newCoordinator(Config{}, targets)
	c.Search(context.Background(), "q")

	e, ok := c.Index().Entry("p")
	require.True(t, ok)
	assert.Equal(t, 2, e.LastCount)
	assert.Equal(t, int64(2), e.TotalItems)
	assert.False(t, e.LastResultAt.IsZero())
}
