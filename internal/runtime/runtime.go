// Package runtime is the composition root: it builds every service, wires
// the event buses between them, and owns startup and shutdown. There are no
// global singletons; everything the subsystems need is passed by reference
// from here.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/beaconkit/beacon/internal/bridge"
	"github.com/beaconkit/beacon/internal/builtin"
	"github.com/beaconkit/beacon/internal/cache"
	"github.com/beaconkit/beacon/internal/capability"
	"github.com/beaconkit/beacon/internal/clipboard"
	"github.com/beaconkit/beacon/internal/config"
	"github.com/beaconkit/beacon/internal/dispatch"
	"github.com/beaconkit/beacon/internal/hotkey"
	"github.com/beaconkit/beacon/internal/launcher"
	"github.com/beaconkit/beacon/internal/lifecycle"
	"github.com/beaconkit/beacon/internal/loader"
	"github.com/beaconkit/beacon/internal/metrics"
	"github.com/beaconkit/beacon/internal/notify"
	"github.com/beaconkit/beacon/internal/search"
	"github.com/beaconkit/beacon/internal/storage"
	"github.com/beaconkit/beacon/internal/wrapper"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// launcherToggleAction is the action id bound to the global launcher hotkey.
const launcherToggleAction = "beacon.toggle_launcher"

// Runtime composes the plugin host.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	Metrics   *metrics.Registry
	Caps      *capability.Index
	Tokens    *capability.TokenStore
	Cache     *cache.Manager
	Storage   *storage.Store
	Clipboard *clipboard.Actor
	Notify    *notify.Manager
	HTTP      *bridge.HTTPExecutor
	Bridge    *bridge.Bridge
	Pump      *bridge.Pump
	Resolver  *wrapper.ExportResolver
	Natives   *wrapper.NativeRegistry
	Lifecycle *lifecycle.Manager
	Actions   *search.ActionMap
	Search    *search.Coordinator
	Dispatch  *dispatch.Dispatcher
	Hotkeys   *hotkey.Registry
	Launcher  *launcher.Coordinator
	Scanner   *loader.Scanner
	Watcher   *loader.Watcher
	Logs      *lifecycle.LogBuffer

	mappings *notify.MappingStore
	cron     *cron.Cron

	dirsMu     sync.Mutex
	pluginDirs map[string]string       // dir -> plugin id
	cronJobs   map[string][]cron.EntryID // plugin id -> scheduled refresh jobs

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// Options overrides platform collaborators; nil fields use platform
// defaults.
type Options struct {
	ClipboardPort clipboard.Port
	NotifyBackend notify.Backend
	HotkeyBackend hotkey.Backend
	WindowPort    launcher.WindowPort
}

// New builds the full runtime from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logs := lifecycle.NewLogBuffer(1000)
	logger = slog.New(lifecycle.TeeHandler(logger.Handler(), logs))

	r := &Runtime{cfg: cfg, logger: logger, pluginDirs: make(map[string]string), cronJobs: make(map[string][]cron.EntryID)}
	r.Logs = logs
	r.rootCtx, r.rootCancel = context.WithCancel(context.Background())

	r.Metrics = metrics.NewRegistry()
	r.Metrics.EnablePrometheus()

	r.Caps = capability.NewIndex()
	r.Tokens = capability.NewTokenStore(cfg.Tokens.Salt, cfg.Tokens.TTL)
	r.Cache = cache.NewManager(cfg.Cache.PressureThreshold)

	store, err := storage.NewStore(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}
	r.Storage = store

	clipPort := opts.ClipboardPort
	if clipPort == nil {
		clipPort = &clipboard.MemoryPort{}
	}
	r.Clipboard = clipboard.NewActor(clipPort)

	notifyBackend := opts.NotifyBackend
	if notifyBackend == nil {
		notifyBackend, err = notify.NewPlatformBackend()
		if err != nil {
			return nil, err
		}
	}
	r.mappings, err = notify.OpenMappingStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	r.Notify, err = notify.NewManager(notifyBackend, r.mappings)
	if err != nil {
		return nil, err
	}

	r.HTTP = bridge.NewHTTPExecutor(bridge.HTTPConfig{
		MaxAttempts:        cfg.HTTP.MaxAttempts,
		BackoffBase:        cfg.HTTP.BackoffBase,
		BackoffCap:         cfg.HTTP.BackoffCap,
		Jitter:             cfg.HTTP.Jitter,
		MaxInflightPerHost: cfg.HTTP.MaxInflightPerHost,
		MaxQueuedPerHost:   cfg.HTTP.MaxQueued,
		RequestTimeout:     cfg.Timeouts.HTTP,
	})

	r.Resolver = wrapper.NewExportResolver()
	r.Natives = wrapper.NewNativeRegistry()
	builtin.RegisterAll(r.Natives)

	r.Bridge = bridge.New(bridge.Config{
		ServiceTimeout:     cfg.Timeouts.ServiceCall,
		HTTPTimeout:        cfg.Timeouts.HTTP,
		CacheDefaultBudget: cfg.Cache.DefaultBudgetBytes,
	}, bridge.Deps{
		Capabilities: r.Caps,
		Clipboard:    r.Clipboard,
		Storage:      r.Storage,
		HTTP:         r.HTTP,
		Notify:       r.Notify,
		Cache:        r.Cache,
		Callbacks:    r.Resolver,
		Metrics:      r.Metrics,
		Logger:       logger,
	})
	r.Pump = bridge.NewPump(r.Bridge, 256, 4)

	r.Actions = search.NewActionMap()

	r.Lifecycle = lifecycle.NewManager(lifecycle.Config{
		TickInterval:       cfg.Lifecycle.TickInterval,
		HeartbeatInactive:  cfg.Lifecycle.HeartbeatInactive,
		HeartbeatUnhealthy: cfg.Lifecycle.HeartbeatUnhealthy,
		HealthThreshold:    cfg.Lifecycle.HealthThreshold,
		ShutdownDrain:      cfg.Timeouts.ShutdownDrain,
		TokenTTL:           cfg.Tokens.TTL,
	}, lifecycle.Deps{
		Capabilities: r.Caps,
		Tokens:       r.Tokens,
		Services:     r.Bridge,
		Sinks:        r.Pump,
		Resolver:     r.Resolver,
		Actions:      r.Actions,
		Metrics:      r.Metrics,
		Logger:       logger,
	})

	r.Search = search.NewCoordinator(search.Config{
		PerPluginTimeout: cfg.Timeouts.SearchPerPlugin,
		ResultCap:        cfg.Search.ResultCap,
	}, r.Lifecycle, r.Actions, r.Metrics, logger)

	r.Dispatch = dispatch.NewDispatcher(dispatch.Config{
		ExecuteTimeout: cfg.Timeouts.ActionExecute,
	}, r.Lifecycle, r.Actions, r.Caps, r.Metrics, logger)

	hotkeyBackend := opts.HotkeyBackend
	if hotkeyBackend == nil {
		hotkeyBackend, err = hotkey.NewPlatformBackend(cfg.Hotkey.WaylandBackend, logger)
		if err != nil {
			logger.Warn("hotkey backend unavailable, registrations are host-side only", "error", err)
			hotkeyBackend = hotkey.NewNullBackend()
		}
	}
	r.Hotkeys = hotkey.NewRegistry(hotkeyBackend, cfg.Timeouts.CaptureSession, logger)

	r.Launcher = launcher.NewCoordinator(opts.WindowPort, launcher.GeometryConfig{
		WidthRatio:  cfg.Launcher.WidthRatio,
		HeightRatio: cfg.Launcher.HeightRatio,
		MaxWidth:    cfg.Launcher.MaxWidth,
		MaxHeight:   cfg.Launcher.MaxHeight,
	}, logger)

	r.Scanner = loader.NewScanner(loader.Config{
		Roots:           cfg.PluginDirs,
		MaxDepth:        cfg.Discovery.MaxDepth,
		ManifestMaxSize: cfg.Discovery.ManifestMaxSize,
		BatchSize:       cfg.Discovery.BatchSize,
	}, logger)
	r.Watcher = loader.NewWatcher(r.Scanner, logger, r.onPluginChange)

	r.cron = cron.New()
	return r, nil
}

// Start brings the runtime up: workers, schedulers, discovery, hotkeys.
func (r *Runtime) Start(ctx context.Context) error {
	r.Pump.Start(r.rootCtx)
	r.Hotkeys.Start(r.rootCtx)

	// Maintenance cadences. UI-adjacent systems tick fast; sweeps are slow.
	r.cron.AddFunc("@every "+r.cfg.Lifecycle.TickInterval.String(), r.Lifecycle.Tick)
	r.cron.AddFunc("@every "+r.cfg.Cache.MonitorInterval.String(), r.Cache.Sweep)
	r.cron.AddFunc("@every "+r.cfg.Tokens.SweepInterval.String(), func() {
		if n := r.Tokens.CleanupExpired(); n > 0 {
			r.logger.Debug("token sweep", "removed", n)
		}
	})
	r.cron.Start()

	// Wire hotkey presses and launcher intents.
	go r.routeHotkeys()

	// Launcher toggle binding.
	if _, err := r.Hotkeys.Register(hotkey.Binding{
		Definition: hotkey.Definition{
			Modifiers:   hotkey.ModSuper,
			Code:        "space",
			Description: "Toggle Beacon",
		},
		ActionID:  launcherToggleAction,
		Requester: "core",
	}, false); err != nil {
		r.logger.Warn("launcher hotkey registration failed", "error", err)
	}

	// Initial plugin discovery and load.
	discovered, err := r.Scanner.Discover(ctx)
	if err != nil {
		return err
	}
	for _, dp := range discovered {
		if err := r.LoadPlugin(ctx, dp); err != nil {
			r.logger.Warn("plugin load failed", "plugin", dp.ID, "error", err)
		}
	}

	if err := r.Watcher.Start(r.rootCtx); err != nil {
		r.logger.Warn("hot reload unavailable", "error", err)
	}

	r.logger.Info("beacon host started", "plugins", len(discovered))
	return nil
}

// routeHotkeys turns hotkey events into launcher transitions or dispatch
// intents.
func (r *Runtime) routeHotkeys() {
	sub := r.Hotkeys.Events().Subscribe()
	for {
		select {
		case <-r.rootCtx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Kind != hotkey.EventPressed {
				continue
			}
			if ev.ActionID == launcherToggleAction {
				r.Launcher.Handle(launcher.LauncherEvent{Kind: launcher.EventToggleShow})
				continue
			}
			go func(actionID string) {
				if _, err := r.Dispatch.Dispatch(r.rootCtx, dispatch.Request{ActionID: actionID}); err != nil {
					r.logger.Warn("hotkey action failed", "action", actionID, "error", err)
				}
			}(ev.ActionID)
		}
	}
}

// LoadPlugin constructs the wrapper for one discovered plugin and registers
// it with the lifecycle manager.
func (r *Runtime) LoadPlugin(ctx context.Context, dp loader.DiscoveredPlugin) error {
	var (
		w   wrapper.Wrapper
		err error
	)
	switch dp.Kind {
	case plugin.KindNative:
		impl, nerr := r.Natives.New(dp.ID)
		if nerr != nil {
			return nerr
		}
		w = wrapper.NewNative(impl)
	case plugin.KindWasm:
		wasm, werr := wrapper.LoadWasm(ctx, dp.EntryPath, wrapper.WasmConfig{
			MemoryLimitBytes: r.cfg.Wasm.MemoryLimitBytes,
			ArgLimitBytes:    r.cfg.Wasm.ArgLimitBytes,
		}, r.Pump, r.logger)
		if werr != nil {
			return werr
		}
		r.Pump.RegisterSink(dp.ID, wasm)
		w = wasm
	default: // javascript, incl. adapted raycast
		w, err = wrapper.LoadJS(dp.EntryPath, dp.Manifest, r.logger)
		if err != nil {
			return err
		}
	}
	if err := r.Lifecycle.Register(w); err != nil {
		return err
	}
	r.dirsMu.Lock()
	r.pluginDirs[dp.Dir] = dp.ID
	r.dirsMu.Unlock()

	r.scheduleRefresh(dp.ID, w)
	return nil
}

// scheduleRefresh registers background_refresh jobs for plugins declaring
// interval commands. Successful refreshes double as heartbeats.
func (r *Runtime) scheduleRefresh(pluginID string, w wrapper.Wrapper) {
	manifest := w.Manifest()
	if !manifest.Capabilities.BackgroundRefresh {
		return
	}

	var entries []cron.EntryID
	for _, c := range manifest.Commands {
		if c.Interval == "" {
			continue
		}
		interval, err := time.ParseDuration(c.Interval)
		if err != nil || interval < time.Second {
			r.logger.Warn("invalid refresh interval", "plugin", pluginID, "command", c.ID, "interval", c.Interval)
			continue
		}
		id, err := r.cron.AddFunc("@every "+interval.String(), func() {
			ctx, cancel := context.WithTimeout(r.rootCtx, r.cfg.Timeouts.ActionExecute)
			defer cancel()
			start := time.Now()
			if err := w.BackgroundRefresh(ctx); err != nil {
				r.Lifecycle.RecordError(pluginID, err.Error())
				return
			}
			r.Lifecycle.RecordSuccess(pluginID, time.Since(start))
		})
		if err == nil {
			entries = append(entries, id)
		}
	}
	if len(entries) > 0 {
		r.dirsMu.Lock()
		r.cronJobs[pluginID] = entries
		r.dirsMu.Unlock()
	}
}

// unscheduleRefresh drops a plugin's refresh jobs on unregister.
func (r *Runtime) unscheduleRefresh(pluginID string) {
	r.dirsMu.Lock()
	entries := r.cronJobs[pluginID]
	delete(r.cronJobs, pluginID)
	r.dirsMu.Unlock()
	for _, id := range entries {
		r.cron.Remove(id)
	}
}

// onPluginChange reacts to hot-reload events from the watcher.
func (r *Runtime) onPluginChange(ch loader.Change) {
	ctx := r.rootCtx

	switch ch.Kind {
	case loader.ChangeRemoved:
		r.dirsMu.Lock()
		id, known := r.pluginDirs[ch.Dir]
		delete(r.pluginDirs, ch.Dir)
		r.dirsMu.Unlock()
		if known {
			r.unscheduleRefresh(id)
			r.Lifecycle.Unregister(ctx, id)
		}
	case loader.ChangeUpdated:
		dp, err := r.Scanner.Validate(ch.Dir)
		if err != nil {
			r.logger.Warn("changed plugin failed validation", "dir", ch.Dir, "error", err)
			return
		}
		if _, loaded := r.Lifecycle.State(dp.ID); loaded {
			r.unscheduleRefresh(dp.ID)
			r.Lifecycle.Unregister(ctx, dp.ID)
		}
		if err := r.LoadPlugin(ctx, dp); err != nil {
			r.logger.Warn("plugin reload failed", "plugin", dp.ID, "error", err)
		} else {
			r.logger.Info("plugin reloaded", "plugin", dp.ID)
		}
	}
}

// RunSearch fans a query out and feeds the launcher state machine.
func (r *Runtime) RunSearch(ctx context.Context, query string) search.Snapshot {
	r.Launcher.Handle(launcher.LauncherEvent{Kind: launcher.EventSearchStarted, Query: query})
	return r.Search.Search(ctx, query)
}

// ExecuteAction dispatches an action and drives the launcher transition.
func (r *Runtime) ExecuteAction(ctx context.Context, actionID string, args map[string]any) (any, error) {
	out, err := r.Dispatch.Dispatch(ctx, dispatch.Request{ActionID: actionID, Args: args})
	if err == nil {
		r.Launcher.Handle(launcher.LauncherEvent{Kind: launcher.EventExecute, ActionID: actionID})
	}
	return out, err
}

// Shutdown tears the runtime down: root cancellation, cooperative drain,
// then forced teardown.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.Launcher.Handle(launcher.LauncherEvent{Kind: launcher.EventSystemShutdown})
	r.Watcher.Stop()
	r.cron.Stop()
	r.Hotkeys.Stop()

	r.Lifecycle.Shutdown(ctx)
	r.rootCancel()
	r.Pump.Stop()
	r.Clipboard.Close()
	if r.mappings != nil {
		r.mappings.Close()
	}
	r.logger.Info("beacon host stopped")
}
