// Package lifecycle owns every loaded plugin: one record per plugin with a
// state machine, heartbeat-driven health, and eviction. Lifecycle events
// affecting a plugin are serialized with that plugin's requests; across
// plugins nothing is ordered.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beaconkit/beacon/internal/capability"
	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/internal/events"
	"github.com/beaconkit/beacon/internal/metrics"
	"github.com/beaconkit/beacon/internal/wrapper"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// State is a plugin's lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateInactive     State = "inactive"
	StateError        State = "error"
	StateRemoved      State = "removed"
)

// EventKind tags lifecycle events.
type EventKind string

const (
	EventRegistered    EventKind = "registered"
	EventStarted       EventKind = "started"
	EventStopped       EventKind = "stopped"
	EventError         EventKind = "error"
	EventUnregistered  EventKind = "unregistered"
	EventStatusChanged EventKind = "status_changed"
)

// Event is one lifecycle transition notification.
type Event struct {
	Kind     EventKind
	PluginID string
	State    State
	Reason   string
}

// Health is the per-plugin health block.
type Health struct {
	LastHeartbeat time.Time
	Successes     int64
	Errors        int64
	// TotalLatency accumulates successful call durations for reporting.
	TotalLatency time.Duration
}

// Score returns successes/(successes+errors), or 1 with no data.
func (h Health) Score() float64 {
	total := h.Successes + h.Errors
	if total == 0 {
		return 1
	}
	return float64(h.Successes) / float64(total)
}

type record struct {
	mu       sync.Mutex
	wrapper  wrapper.Wrapper
	manifest plugin.Manifest
	state    State
	reason   string
	health   Health
	cancel   context.CancelFunc
	token    string // plaintext held only until handed to the plugin
}

// ServicesProvider hands out the capability-gated host services for a
// plugin. Implemented by the bridge.
type ServicesProvider interface {
	Services(pluginID string) plugin.HostServices
}

// SinkRegistry attaches and detaches per-plugin response sinks. Implemented
// by the bridge pump.
type SinkRegistry interface {
	UnregisterSink(pluginID string)
}

// ActionMapCleaner evicts a plugin's action mappings on unregister.
// Implemented by search.ActionMap.
type ActionMapCleaner interface {
	RemovePlugin(pluginID string)
}

// Config tunes the lifecycle manager.
type Config struct {
	TickInterval       time.Duration // default 1s
	HeartbeatInactive  time.Duration // default 60s: Active -> Inactive
	HeartbeatUnhealthy time.Duration // default 30s: half of the skip condition
	HealthThreshold    float64       // default 0.8
	ShutdownDrain      time.Duration // default 2s
	TokenTTL           time.Duration
}

func (c *Config) fillDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.HeartbeatInactive <= 0 {
		c.HeartbeatInactive = 60 * time.Second
	}
	if c.HeartbeatUnhealthy <= 0 {
		c.HeartbeatUnhealthy = 30 * time.Second
	}
	if c.HealthThreshold <= 0 {
		c.HealthThreshold = 0.8
	}
	if c.ShutdownDrain <= 0 {
		c.ShutdownDrain = 2 * time.Second
	}
}

// Manager holds one record per loaded plugin.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]*record

	caps     *capability.Index
	tokens   *capability.TokenStore
	services ServicesProvider
	sinks    SinkRegistry
	resolver *wrapper.ExportResolver
	actions  ActionMapCleaner
	metrics  *metrics.Registry

	bus *events.Bus[Event]

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Deps bundles the manager's collaborators.
type Deps struct {
	Capabilities *capability.Index
	Tokens       *capability.TokenStore
	Services     ServicesProvider
	Sinks        SinkRegistry
	Resolver     *wrapper.ExportResolver
	Actions      ActionMapCleaner
	Metrics      *metrics.Registry
	Logger       *slog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config, deps Deps) *Manager {
	cfg.fillDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		records:    make(map[string]*record),
		caps:       deps.Capabilities,
		tokens:     deps.Tokens,
		services:   deps.Services,
		sinks:      deps.Sinks,
		resolver:   deps.Resolver,
		actions:    deps.Actions,
		metrics:    deps.Metrics,
		bus:        events.NewBus[Event]("lifecycle", 64),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Events exposes the lifecycle event bus.
func (m *Manager) Events() *events.Bus[Event] { return m.bus }

func (m *Manager) emit(kind EventKind, pluginID string, state State, reason string) {
	m.bus.Publish(Event{Kind: kind, PluginID: pluginID, State: state, Reason: reason})
}

// Register takes ownership of a wrapper: capability registration, token
// issue, and asynchronous initialization. The plugin surfaces as
// Initializing immediately; Active or Error follows from init.
func (m *Manager) Register(w wrapper.Wrapper) error {
	manifest := w.Manifest()
	if err := capability.ValidatePluginID(manifest.ID); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.records[manifest.ID]; exists {
		m.mu.Unlock()
		return errs.InvalidInput("plugin already registered")
	}
	rec := &record{
		wrapper:  w,
		manifest: manifest,
		state:    StateInitializing,
	}
	m.records[manifest.ID] = rec
	m.mu.Unlock()

	caps := manifest.Capabilities.CapabilitySet()
	if err := m.caps.Register(manifest.ID, caps, manifest.Permissions.Extended()); err != nil {
		m.dropRecord(manifest.ID)
		return err
	}

	perms, _ := m.caps.Permissions(manifest.ID)
	token, err := m.tokens.GenerateToken(manifest.ID, perms)
	if err != nil {
		m.caps.Unregister(manifest.ID)
		m.dropRecord(manifest.ID)
		return err
	}
	rec.mu.Lock()
	rec.token = token
	rec.mu.Unlock()

	if m.resolver != nil {
		m.resolver.Track(manifest.ID, w)
	}

	m.emit(EventRegistered, manifest.ID, StateInitializing, "")
	m.logger.Info("plugin registered",
		"plugin", manifest.ID, "kind", w.Kind(), "version", manifest.Version)

	initCtx, cancel := context.WithCancel(m.rootCtx)
	rec.mu.Lock()
	rec.cancel = cancel
	rec.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.initialize(initCtx, rec)
	}()
	return nil
}

// initialize runs the wrapper's Initialize and drives the first transition.
func (m *Manager) initialize(ctx context.Context, rec *record) {
	var host plugin.HostServices
	if m.services != nil {
		host = m.services.Services(rec.manifest.ID)
	}

	err := rec.wrapper.Initialize(ctx, host)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state == StateRemoved {
		return
	}
	if err != nil {
		rec.state = StateError
		rec.reason = err.Error()
		m.emit(EventError, rec.manifest.ID, StateError, err.Error())
		m.logger.Warn("plugin init failed", "plugin", rec.manifest.ID, "error", err)
		return
	}
	rec.state = StateActive
	rec.health.LastHeartbeat = time.Now()
	m.emit(EventStarted, rec.manifest.ID, StateActive, "")
}

func (m *Manager) dropRecord(pluginID string) {
	m.mu.Lock()
	delete(m.records, pluginID)
	m.mu.Unlock()
}

func (m *Manager) record(pluginID string) (*record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[pluginID]
	return rec, ok
}

// State returns a plugin's current state.
func (m *Manager) State(pluginID string) (State, bool) {
	rec, ok := m.record(pluginID)
	if !ok {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, true
}

// Wrapper returns the live wrapper for a plugin.
func (m *Manager) Wrapper(pluginID string) (wrapper.Wrapper, bool) {
	rec, ok := m.record(pluginID)
	if !ok {
		return nil, false
	}
	return rec.wrapper, true
}

// Token returns the plaintext token issued at registration. The lifecycle
// manager hands it to the plugin exactly once and forgets it.
func (m *Manager) Token(pluginID string) (string, bool) {
	rec, ok := m.record(pluginID)
	if !ok {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	token := rec.token
	rec.token = ""
	return token, token != ""
}

// RecordSuccess feeds a successful plugin call into health tracking. Every
// success doubles as a heartbeat.
func (m *Manager) RecordSuccess(pluginID string, d time.Duration) {
	rec, ok := m.record(pluginID)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.health.Successes++
	rec.health.TotalLatency += d
	rec.health.LastHeartbeat = time.Now()
	if rec.state == StateInactive {
		rec.state = StateActive
		m.emit(EventStatusChanged, pluginID, StateActive, "heartbeat recovered")
	}
}

// RecordError feeds a failed plugin call into health tracking.
func (m *Manager) RecordError(pluginID string, reason string) {
	rec, ok := m.record(pluginID)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.health.Errors++
	if rec.state == StateActive {
		m.emit(EventError, pluginID, rec.state, reason)
	}
}

// Heartbeat marks the plugin alive without recording a call outcome.
func (m *Manager) Heartbeat(pluginID string) {
	rec, ok := m.record(pluginID)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.health.LastHeartbeat = time.Now()
	if rec.state == StateInactive {
		rec.state = StateActive
		m.emit(EventStatusChanged, pluginID, StateActive, "heartbeat recovered")
	}
}

// Health returns a copy of the plugin's health block.
func (m *Manager) Health(pluginID string) (Health, bool) {
	rec, ok := m.record(pluginID)
	if !ok {
		return Health{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.health, true
}

// Healthy reports whether the search fan-out should include the plugin.
// A plugin is skipped only when its score fell below threshold AND it has
// been silent past the unhealthy heartbeat window.
func (m *Manager) Healthy(pluginID string) bool {
	rec, ok := m.record(pluginID)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return m.healthyLocked(rec)
}

func (m *Manager) healthyLocked(rec *record) bool {
	if rec.health.Score() >= m.cfg.HealthThreshold {
		return true
	}
	return time.Since(rec.health.LastHeartbeat) < m.cfg.HeartbeatUnhealthy
}

// SearchTarget is one plugin eligible for search fan-out.
type SearchTarget struct {
	PluginID string
	Wrapper  wrapper.Wrapper
}

// SearchTargets returns the Active, healthy plugins declaring the search
// capability.
func (m *Manager) SearchTargets() []SearchTarget {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	var out []SearchTarget
	for _, rec := range recs {
		rec.mu.Lock()
		eligible := rec.state == StateActive && m.healthyLocked(rec)
		rec.mu.Unlock()
		if !eligible {
			continue
		}
		if ok, err := m.caps.VerifyCapability(rec.manifest.ID, plugin.CapSearch); err != nil || !ok {
			continue
		}
		out = append(out, SearchTarget{PluginID: rec.manifest.ID, Wrapper: rec.wrapper})
	}
	return out
}

// PluginInfo is one plugin's entry in the Plugins snapshot.
type PluginInfo struct {
	ID      string
	Kind    plugin.Kind
	Version string
	State   State
	Reason  string
	Health  Health
}

// Plugins returns a snapshot of every loaded plugin.
func (m *Manager) Plugins() []PluginInfo {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	out := make([]PluginInfo, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, PluginInfo{
			ID:      rec.manifest.ID,
			Kind:    rec.wrapper.Kind(),
			Version: rec.manifest.Version,
			State:   rec.state,
			Reason:  rec.reason,
			Health:  rec.health,
		})
		rec.mu.Unlock()
	}
	return out
}

// Tick drives the heartbeat state machine. Runs at the maintenance cadence
// (default 1 Hz), independent of request traffic.
func (m *Manager) Tick() {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.state == StateActive && now.Sub(rec.health.LastHeartbeat) > m.cfg.HeartbeatInactive {
			rec.state = StateInactive
			m.emit(EventStatusChanged, rec.manifest.ID, StateInactive, "no heartbeat")
			m.logger.Warn("plugin went inactive", "plugin", rec.manifest.ID)
		}
		rec.mu.Unlock()
	}
}

// Unregister tears a plugin down: cancels in-flight work, evicts action
// mappings, revokes the token, and drops per-plugin channels.
func (m *Manager) Unregister(ctx context.Context, pluginID string) error {
	rec, ok := m.record(pluginID)
	if !ok {
		return errs.NotFound("plugin " + pluginID)
	}

	rec.mu.Lock()
	if rec.state == StateRemoved {
		rec.mu.Unlock()
		return nil
	}
	rec.state = StateRemoved
	cancel := rec.cancel
	rec.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := rec.wrapper.Cleanup(ctx); err != nil {
		m.logger.Warn("plugin cleanup failed", "plugin", pluginID, "error", err)
	}

	if m.actions != nil {
		m.actions.RemovePlugin(pluginID)
	}
	if m.sinks != nil {
		m.sinks.UnregisterSink(pluginID)
	}
	if m.resolver != nil {
		m.resolver.Untrack(pluginID)
	}
	m.tokens.RevokeAll(pluginID)
	m.caps.Unregister(pluginID)
	m.dropRecord(pluginID)

	m.emit(EventUnregistered, pluginID, StateRemoved, "")
	m.logger.Info("plugin unregistered", "plugin", pluginID)
	return nil
}

// Shutdown cancels all plugin work at the root and waits up to the drain
// window for cooperative teardown before returning.
func (m *Manager) Shutdown(ctx context.Context) {
	m.rootCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownDrain):
		m.logger.Warn("lifecycle drain window elapsed, forcing teardown")
	case <-ctx.Done():
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Unregister(ctx, id)
	}
}
