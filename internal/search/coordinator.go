// Package search fans a query out across active plugins, merges the ranked
// results deterministically, and maintains the action→plugin index the
// dispatcher routes by. Fuzzy matching is a plugin concern; the coordinator
// does no string matching itself.
package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/beaconkit/beacon/internal/events"
	"github.com/beaconkit/beacon/internal/lifecycle"
	"github.com/beaconkit/beacon/internal/metrics"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// Config tunes the coordinator.
type Config struct {
	PerPluginTimeout time.Duration // default 150ms
	ResultCap        int           // default 50
}

func (c *Config) fillDefaults() {
	if c.PerPluginTimeout <= 0 {
		c.PerPluginTimeout = 150 * time.Millisecond
	}
	if c.ResultCap <= 0 {
		c.ResultCap = 50
	}
}

// Result is one plugin's scored item tagged with its emitter.
type Result struct {
	PluginID string
	Item     plugin.ActionItem
}

// Snapshot is the merged outcome of one fan-out run.
type Snapshot struct {
	Query     string
	Items     []Result
	Truncated bool
	// Failed lists plugins whose search errored or timed out; their results
	// are silently omitted from Items.
	Failed      []string
	CompletedAt time.Time
}

// TargetSource yields the plugins eligible for fan-out and receives health
// outcomes. Implemented by the lifecycle manager.
type TargetSource interface {
	SearchTargets() []lifecycle.SearchTarget
	RecordSuccess(pluginID string, d time.Duration)
	RecordError(pluginID string, reason string)
}

// Coordinator runs fan-out searches. A new query supersedes an in-flight
// one: the previous run's context is cancelled and late results discarded.
type Coordinator struct {
	cfg     Config
	targets TargetSource
	actions *ActionMap
	metrics *metrics.Registry
	logger  *slog.Logger

	results *events.Bus[Snapshot]
	index   *Index

	mu         sync.Mutex
	cancelPrev context.CancelFunc
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config, targets TargetSource, actions *ActionMap, reg *metrics.Registry, logger *slog.Logger) *Coordinator {
	cfg.fillDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		targets: targets,
		actions: actions,
		metrics: reg,
		logger:  logger,
		results: events.NewBus[Snapshot]("search.results", 8),
		index:   NewIndex(),
	}
}

// Results exposes the CurrentSearchResults snapshot bus.
func (c *Coordinator) Results() *events.Bus[Snapshot] { return c.results }

// Index exposes the recent-results index.
func (c *Coordinator) Index() *Index { return c.index }

// Search fans the query out and returns the merged snapshot. Zero eligible
// plugins yields an empty snapshot and no error.
func (c *Coordinator) Search(ctx context.Context, query string) Snapshot {
	// Supersede any in-flight run.
	c.mu.Lock()
	if c.cancelPrev != nil {
		c.cancelPrev()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelPrev = cancel
	c.mu.Unlock()

	guard := c.metrics.Time("search.fanout")
	defer guard.Stop()

	targets := c.targets.SearchTargets()

	type outcome struct {
		pluginID string
		items    []plugin.ActionItem
		err      error
	}
	outcomes := make(chan outcome, len(targets))

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(t lifecycle.SearchTarget) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(runCtx, c.cfg.PerPluginTimeout)
			defer cancel()

			start := time.Now()
			items, err := t.Wrapper.Search(callCtx, query)
			elapsed := time.Since(start)

			if err != nil {
				c.targets.RecordError(t.PluginID, err.Error())
			} else {
				c.targets.RecordSuccess(t.PluginID, elapsed)
			}
			// Late results are discarded: a superseded run's channel is
			// drained by the collector that owns it, never a newer one.
			select {
			case outcomes <- outcome{pluginID: t.PluginID, items: items, err: err}:
			case <-runCtx.Done():
			}
		}(target)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var (
		merged []Result
		failed []string
	)
	for o := range outcomes {
		if o.err != nil {
			failed = append(failed, o.pluginID)
			continue
		}
		for _, item := range o.items {
			merged = append(merged, Result{PluginID: o.pluginID, Item: item})
		}
		c.index.Observe(o.pluginID, len(o.items))
	}

	snap := c.merge(query, merged, failed)

	// A superseded run publishes nothing.
	if runCtx.Err() == nil {
		c.results.Publish(snap)
	}
	return snap
}

// merge orders results by descending score, breaking ties by plugin_id then
// item id for a deterministic outcome, truncates to the cap, and records
// action mappings for everything that survived.
func (c *Coordinator) merge(query string, results []Result, failed []string) Snapshot {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Item.Score != b.Item.Score {
			return a.Item.Score > b.Item.Score
		}
		if a.PluginID != b.PluginID {
			return a.PluginID < b.PluginID
		}
		return a.Item.ID < b.Item.ID
	})

	truncated := false
	if len(results) > c.cfg.ResultCap {
		results = results[:c.cfg.ResultCap]
		truncated = true
	}

	for _, r := range results {
		c.actions.Record(r.Item.ID, r.PluginID)
		for _, action := range r.Item.Actions {
			c.actions.Record(action.ID, r.PluginID)
		}
	}

	return Snapshot{
		Query:       query,
		Items:       results,
		Truncated:   truncated,
		Failed:      failed,
		CompletedAt: time.Now(),
	}
}

// Index tracks per-plugin recent search outcomes for the launcher view.
type Index struct {
	mu      sync.RWMutex
	entries map[string]IndexEntry
}

// IndexEntry is one plugin's recent-result record.
type IndexEntry struct {
	LastResultAt time.Time
	LastCount    int
	TotalItems   int64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]IndexEntry)}
}

// Observe records one search outcome for a plugin.
func (ix *Index) Observe(pluginID string, count int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e := ix.entries[pluginID]
	e.LastResultAt = time.Now()
	e.LastCount = count
	e.TotalItems += int64(count)
	ix.entries[pluginID] = e
}

// Entry returns a plugin's recent-result record.
func (ix *Index) Entry(pluginID string) (IndexEntry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[pluginID]
	return e, ok
}

// Remove drops a plugin's record.
func (ix *Index) Remove(pluginID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, pluginID)
}
