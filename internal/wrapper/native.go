package wrapper

import (
	"context"
	"time"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// defaultLockWait bounds how long a caller waits for the plugin's state
// lock before failing with ResourceExhausted instead of blocking indefinitely.
const defaultLockWait = 2 * time.Second

// NativeWrapper runs an in-process Go plugin. A single-slot semaphore
// guarantees single-threaded access to the plugin's mutable state; waiters
// fail after a bounded wait rather than queueing forever.
type NativeWrapper struct {
	impl     plugin.Plugin
	manifest plugin.Manifest
	sem      chan struct{}
	lockWait time.Duration
}

// NewNative wraps an in-process plugin implementation.
func NewNative(impl plugin.Plugin) *NativeWrapper {
	return &NativeWrapper{
		impl:     impl,
		manifest: impl.Manifest(),
		sem:      make(chan struct{}, 1),
		lockWait: defaultLockWait,
	}
}

func (w *NativeWrapper) Kind() plugin.Kind { return plugin.KindNative }

func (w *NativeWrapper) Manifest() plugin.Manifest { return w.manifest }

// acquire takes the plugin lock, honoring both the bounded wait and the
// caller's context.
func (w *NativeWrapper) acquire(ctx context.Context) (release func(), err error) {
	t := time.NewTimer(w.lockWait)
	defer t.Stop()
	select {
	case w.sem <- struct{}{}:
		return func() { <-w.sem }, nil
	case <-t.C:
		return nil, errs.ResourceExhausted("plugin lock " + w.manifest.ID)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Timeout("plugin lock")
		}
		return nil, errs.Cancelled()
	}
}

func (w *NativeWrapper) Initialize(ctx context.Context, host plugin.HostServices) error {
	release, err := w.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return w.impl.Initialize(ctx, host)
}

func (w *NativeWrapper) Search(ctx context.Context, query string) ([]plugin.ActionItem, error) {
	release, err := w.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return w.impl.Search(ctx, query)
}

func (w *NativeWrapper) ExecuteCommand(ctx context.Context, commandID string, args map[string]any) (any, error) {
	release, err := w.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return w.impl.ExecuteCommand(ctx, commandID, args)
}

func (w *NativeWrapper) ExecuteAction(ctx context.Context, actionID string, args map[string]any) (any, error) {
	release, err := w.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return w.impl.ExecuteAction(ctx, actionID, args)
}

func (w *NativeWrapper) BackgroundRefresh(ctx context.Context) error {
	release, err := w.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return w.impl.BackgroundRefresh(ctx)
}

func (w *NativeWrapper) Cleanup(ctx context.Context) error {
	release, err := w.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return w.impl.Cleanup(ctx)
}
