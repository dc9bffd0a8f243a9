// Package bridge mediates plugin→host calls for services plugins are not
// allowed to perform themselves. Every call resolves plugin_id → capability
// check → service executor; a missing capability fails with CapabilityDenied
// before any service work happens. Clipboard, HTTP, and notification calls
// run under a per-call deadline; storage and cache calls run synchronously
// without one.
package bridge

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/beaconkit/beacon/internal/cache"
	"github.com/beaconkit/beacon/internal/capability"
	"github.com/beaconkit/beacon/internal/clipboard"
	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/internal/metrics"
	"github.com/beaconkit/beacon/internal/notify"
	"github.com/beaconkit/beacon/internal/storage"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// CallbackTarget resolves a plugin runtime and invokes one of its exports.
// Implemented by the wrapper layer; the bridge stays runtime-agnostic.
type CallbackTarget interface {
	InvokeExport(ctx context.Context, pluginID, export string, payload []byte) ([]byte, error)
}

// Config carries the bridge's tunables.
type Config struct {
	ServiceTimeout time.Duration
	// Per-service overrides; zero means use ServiceTimeout.
	ClipboardTimeout time.Duration
	StorageTimeout   time.Duration // not applied: storage calls carry no deadline
	HTTPTimeout      time.Duration
	NotifyTimeout    time.Duration

	CacheDefaultBudget int64
}

func (c Config) timeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if c.ServiceTimeout > 0 {
		return c.ServiceTimeout
	}
	return 30 * time.Second
}

// Bridge routes service requests to executors behind the capability gate.
type Bridge struct {
	cfg  Config
	caps *capability.Index

	clipboard *clipboard.Actor
	store     *storage.Store
	http      *HTTPExecutor
	notify    *notify.Manager
	cache     *cache.Manager
	callbacks CallbackTarget

	metrics *metrics.Registry
	logger  *slog.Logger
}

// Deps bundles the bridge's service executors.
type Deps struct {
	Capabilities *capability.Index
	Clipboard    *clipboard.Actor
	Storage      *storage.Store
	HTTP         *HTTPExecutor
	Notify       *notify.Manager
	Cache        *cache.Manager
	Callbacks    CallbackTarget
	Metrics      *metrics.Registry
	Logger       *slog.Logger
}

// New creates a bridge over the given executors.
func New(cfg Config, deps Deps) *Bridge {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:       cfg,
		caps:      deps.Capabilities,
		clipboard: deps.Clipboard,
		store:     deps.Storage,
		http:      deps.HTTP,
		notify:    deps.Notify,
		cache:     deps.Cache,
		callbacks: deps.Callbacks,
		metrics:   deps.Metrics,
		logger:    logger,
	}
}

// SetCallbackTarget wires the wrapper layer in after construction; the
// wrapper layer itself depends on the bridge, so this breaks the cycle at
// startup.
func (b *Bridge) SetCallbackTarget(t CallbackTarget) { b.callbacks = t }

// require checks the capability gate for one call.
func (b *Bridge) require(pluginID, cap string) error {
	ok, err := b.caps.VerifyCapability(pluginID, cap)
	if err != nil {
		return err
	}
	if !ok {
		return errs.CapabilityDenied(cap)
	}
	return nil
}

// bound applies the per-call timeout and normalizes the context error.
func (b *Bridge) bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

func mapCtxErr(op string, err error) error {
	switch err {
	case context.DeadlineExceeded:
		return errs.Timeout(op)
	case context.Canceled:
		return errs.Cancelled()
	}
	return err
}

// Services returns the capability-gated HostServices view for one plugin.
// This is the handle wrappers pass to plugin code.
func (b *Bridge) Services(pluginID string) plugin.HostServices {
	return &pluginServices{bridge: b, pluginID: pluginID}
}

// pluginServices binds the bridge to one plugin id; every plugin gets its
// own gated view of the host services.
type pluginServices struct {
	bridge   *Bridge
	pluginID string
}

func (s *pluginServices) observe(op string) *metrics.TimingGuard {
	return s.bridge.metrics.Time("bridge." + op)
}

func (s *pluginServices) ClipboardRead(ctx context.Context) (string, error) {
	guard := s.observe("clipboard_read")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapClipboard); err != nil {
		guard.Fail(err)
		return "", err
	}
	ctx, cancel := s.bridge.bound(ctx, s.bridge.cfg.timeout(s.bridge.cfg.ClipboardTimeout))
	defer cancel()

	text, err := s.bridge.clipboard.ReadText(ctx)
	if err != nil {
		err = mapCtxErr("clipboard_read", err)
		guard.Fail(err)
	}
	return text, err
}

func (s *pluginServices) ClipboardWrite(ctx context.Context, text string) error {
	guard := s.observe("clipboard_write")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapClipboard); err != nil {
		guard.Fail(err)
		return err
	}
	ctx, cancel := s.bridge.bound(ctx, s.bridge.cfg.timeout(s.bridge.cfg.ClipboardTimeout))
	defer cancel()

	if err := s.bridge.clipboard.WriteText(ctx, text); err != nil {
		err = mapCtxErr("clipboard_write", err)
		guard.Fail(err)
		return err
	}
	return nil
}

func (s *pluginServices) StorageRead(ctx context.Context, key string) (string, error) {
	guard := s.observe("storage_read")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapStorage); err != nil {
		guard.Fail(err)
		return "", err
	}
	v, err := s.bridge.store.Read(s.pluginID, key)
	if err != nil {
		guard.Fail(err)
	}
	return v, err
}

func (s *pluginServices) StorageWrite(ctx context.Context, key, value string) error {
	guard := s.observe("storage_write")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapStorage); err != nil {
		guard.Fail(err)
		return err
	}
	if err := s.bridge.store.Write(s.pluginID, key, value); err != nil {
		guard.Fail(err)
		return err
	}
	return nil
}

func (s *pluginServices) HTTPRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*plugin.HTTPResponse, error) {
	guard := s.observe("http")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapNetwork); err != nil {
		guard.Fail(err)
		return nil, err
	}
	ctx, cancel := s.bridge.bound(ctx, s.bridge.cfg.timeout(s.bridge.cfg.HTTPTimeout))
	defer cancel()

	resp, err := s.bridge.http.Do(ctx, method, url, headers, body)
	if err != nil {
		err = mapCtxErr("http", err)
		guard.Fail(err)
	}
	return resp, err
}

func (s *pluginServices) Notify(ctx context.Context, title, body, icon string) (string, error) {
	guard := s.observe("notify")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapNotifications); err != nil {
		guard.Fail(err)
		return "", err
	}
	ctx, cancel := s.bridge.bound(ctx, s.bridge.cfg.timeout(s.bridge.cfg.NotifyTimeout))
	defer cancel()

	localID, err := s.bridge.notify.Show(ctx, notify.Notification{Title: title, Body: body, Icon: icon})
	if err != nil {
		err = mapCtxErr("notify", err)
		guard.Fail(err)
		return "", err
	}
	return strconv.FormatUint(localID, 10), nil
}

func (s *pluginServices) CacheRead(ctx context.Context, partition, key string) ([]byte, bool, error) {
	guard := s.observe("cache_read")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapCache); err != nil {
		guard.Fail(err)
		return nil, false, err
	}
	return s.bridge.cache.Read(partitionFor(s.pluginID, partition), key)
}

func (s *pluginServices) CacheWrite(ctx context.Context, partition, key string, value []byte) error {
	guard := s.observe("cache_write")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapCache); err != nil {
		guard.Fail(err)
		return err
	}
	return s.bridge.cache.Write(partitionFor(s.pluginID, partition), key, value, s.bridge.cfg.CacheDefaultBudget)
}

func (s *pluginServices) CacheInvalidate(ctx context.Context, partition, key string) (bool, error) {
	guard := s.observe("cache_invalidate")
	defer guard.Stop()

	if err := s.bridge.require(s.pluginID, plugin.CapCache); err != nil {
		guard.Fail(err)
		return false, err
	}
	return s.bridge.cache.Invalidate(partitionFor(s.pluginID, partition), key)
}

func (s *pluginServices) Log(_ context.Context, level, message string, fields map[string]any) {
	attrs := make([]any, 0, 2*len(fields)+2)
	attrs = append(attrs, "plugin", s.pluginID)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	switch level {
	case "debug":
		s.bridge.logger.Debug(message, attrs...)
	case "warn":
		s.bridge.logger.Warn(message, attrs...)
	case "error":
		s.bridge.logger.Error(message, attrs...)
	default:
		s.bridge.logger.Info(message, attrs...)
	}
}

// partitionFor namespaces plugin cache partitions to prevent cross-plugin
// collisions.
func partitionFor(pluginID, partition string) string {
	return "plugin:" + pluginID + ":" + partition
}
