package wrapper

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// jsInterruptToken is the value goja reports when the host interrupts an
// overrunning script.
const jsInterruptToken = "deadline"

// JSWrapper runs a JavaScript/TypeScript extension on the embedded goja
// runtime. The plugin's entry module registers handlers as top-level
// functions; each call runs the handler once under the caller's deadline.
// No event loop runs: a handler that returns a promise must have settled it
// by the time the call returns, and a still-pending promise is reported as
// an error. The curated host surface mirrors the Raycast API shape:
// toast/HUD notifications, clipboard access, console logging, action-item
// CRUD, and storage.
type JSWrapper struct {
	manifest plugin.Manifest
	logger   *slog.Logger

	mu       sync.Mutex
	vm       *goja.Runtime
	services plugin.HostServices

	// items registered through the CRUD shim; the search fallback filters
	// these when the plugin exports no search handler.
	items map[string]plugin.ActionItem
}

// LoadJS reads and evaluates a plugin entry module from disk.
func LoadJS(path string, manifest plugin.Manifest, logger *slog.Logger) (*JSWrapper, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.PlatformFailure("read js entry", err)
	}
	return LoadJSSource(string(src), manifest, logger)
}

// LoadJSSource evaluates a plugin entry module from source.
func LoadJSSource(source string, manifest plugin.Manifest, logger *slog.Logger) (*JSWrapper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &JSWrapper{
		manifest: manifest,
		logger:   logger,
		vm:       goja.New(),
		items:    make(map[string]plugin.ActionItem),
	}
	w.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	w.installShims()

	if _, err := w.vm.RunScript(manifest.ID, source); err != nil {
		return nil, errs.PluginFault(manifest.ID, "evaluate entry: "+err.Error())
	}
	return w, nil
}

func (w *JSWrapper) Kind() plugin.Kind { return plugin.KindJavaScript }

func (w *JSWrapper) Manifest() plugin.Manifest { return w.manifest }

// installShims builds the curated host-function set. Shims call back into
// the capability-gated services handle, so a plugin without the matching
// capability gets the same CapabilityDenied it would over the bridge.
func (w *JSWrapper) installShims() {
	vm := w.vm

	logFn := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			msg := strings.Join(parts, " ")
			attrs := []any{"plugin", w.manifest.ID, "runtime", "js"}
			switch level {
			case "warn":
				w.logger.Warn(msg, attrs...)
			case "error":
				w.logger.Error(msg, attrs...)
			default:
				w.logger.Info(msg, attrs...)
			}
			return goja.Undefined()
		}
	}
	console := vm.NewObject()
	console.Set("log", logFn("info"))
	console.Set("warn", logFn("warn"))
	console.Set("error", logFn("error"))
	vm.Set("console", console)

	beacon := vm.NewObject()

	beacon.Set("showToast", func(opts map[string]any) (string, error) {
		if w.services == nil {
			return "", errs.Internal("services not bound")
		}
		title, _ := opts["title"].(string)
		message, _ := opts["message"].(string)
		return w.services.Notify(context.Background(), title, message, "")
	})
	beacon.Set("showHUD", func(text string) (string, error) {
		if w.services == nil {
			return "", errs.Internal("services not bound")
		}
		return w.services.Notify(context.Background(), text, "", "")
	})

	clip := vm.NewObject()
	clip.Set("readText", func() (string, error) {
		if w.services == nil {
			return "", errs.Internal("services not bound")
		}
		return w.services.ClipboardRead(context.Background())
	})
	clip.Set("copy", func(text string) error {
		if w.services == nil {
			return errs.Internal("services not bound")
		}
		return w.services.ClipboardWrite(context.Background(), text)
	})
	beacon.Set("Clipboard", clip)

	store := vm.NewObject()
	store.Set("getItem", func(key string) (string, error) {
		if w.services == nil {
			return "", errs.Internal("services not bound")
		}
		v, err := w.services.StorageRead(context.Background(), key)
		if errs.IsKind(err, errs.KindNotFound) {
			return "", nil
		}
		return v, err
	})
	store.Set("setItem", func(key, value string) error {
		if w.services == nil {
			return errs.Internal("services not bound")
		}
		return w.services.StorageWrite(context.Background(), key, value)
	})
	beacon.Set("storage", store)

	items := vm.NewObject()
	items.Set("create", func(item plugin.ActionItem) {
		now := time.Now()
		item.CreatedAt = now
		item.UpdatedAt = now
		w.items[item.ID] = item
	})
	items.Set("update", func(item plugin.ActionItem) bool {
		prev, ok := w.items[item.ID]
		if !ok {
			return false
		}
		item.CreatedAt = prev.CreatedAt
		item.UpdatedAt = time.Now()
		w.items[item.ID] = item
		return true
	})
	items.Set("remove", func(id string) bool {
		_, ok := w.items[id]
		delete(w.items, id)
		return ok
	})
	beacon.Set("items", items)

	vm.Set("beacon", beacon)
	// The same object is also exposed as the global raycast. Entry modules
	// run as plain scripts; "@raycast/api" imports are not rewritten.
	vm.Set("raycast", beacon)
}

// handler looks up an optional top-level function.
func (w *JSWrapper) handler(name string) (goja.Callable, bool) {
	v := w.vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	fn, ok := goja.AssertFunction(v)
	return fn, ok
}

// call invokes a handler under the caller's deadline, resolving a returned
// promise if the handler is async.
func (w *JSWrapper) call(ctx context.Context, name string, args ...any) (goja.Value, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fn, ok := w.handler(name)
	if !ok {
		return nil, errs.NotFound("js handler " + name)
	}

	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = w.vm.ToValue(a)
	}

	// Interrupt the VM when the context expires; goja aborts the running
	// script with the interrupt token.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.vm.Interrupt(jsInterruptToken)
		case <-done:
		}
	}()
	defer func() {
		close(done)
		w.vm.ClearInterrupt()
	}()

	v, err := fn(goja.Undefined(), vals...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Timeout("js " + name)
		}
		if ctx.Err() == context.Canceled {
			return nil, errs.Cancelled()
		}
		return nil, errs.PluginFault(w.manifest.ID, name+": "+err.Error())
	}

	// Async handlers return a promise; synchronous host shims settle it by
	// the time the call stack unwinds, so a still-pending promise means the
	// handler awaited something the runtime cannot progress.
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return p.Result(), nil
		case goja.PromiseStateRejected:
			return nil, errs.PluginFault(w.manifest.ID, name+": "+p.Result().String())
		default:
			return nil, errs.PluginFault(w.manifest.ID, name+": unresolved promise")
		}
	}
	return v, nil
}

// --- plugin.Plugin ---

func (w *JSWrapper) Initialize(ctx context.Context, host plugin.HostServices) error {
	w.mu.Lock()
	w.services = host
	w.mu.Unlock()

	if _, ok := w.handlerLocked("initialize"); !ok {
		return nil
	}
	_, err := w.call(ctx, "initialize")
	return err
}

// handlerLocked is handler with its own locking, for presence checks.
func (w *JSWrapper) handlerLocked(name string) (goja.Callable, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handler(name)
}

func (w *JSWrapper) Search(ctx context.Context, query string) ([]plugin.ActionItem, error) {
	if _, ok := w.handlerLocked("search"); !ok {
		return w.fallbackSearch(query), nil
	}

	v, err := w.call(ctx, "search", query)
	if err != nil {
		return nil, err
	}

	var items []plugin.ActionItem
	w.mu.Lock()
	exportErr := w.vm.ExportTo(v, &items)
	w.mu.Unlock()
	if exportErr != nil {
		return nil, errs.PluginFault(w.manifest.ID, "search result shape: "+exportErr.Error())
	}
	return items, nil
}

// fallbackSearch filters CRUD-registered items by title substring when the
// plugin exports no search handler.
func (w *JSWrapper) fallbackSearch(query string) []plugin.ActionItem {
	w.mu.Lock()
	defer w.mu.Unlock()

	q := strings.ToLower(query)
	var out []plugin.ActionItem
	for _, item := range w.items {
		if q == "" || strings.Contains(strings.ToLower(item.Title), q) {
			out = append(out, item)
		}
	}
	return out
}

func (w *JSWrapper) ExecuteCommand(ctx context.Context, commandID string, args map[string]any) (any, error) {
	v, err := w.call(ctx, "executeCommand", commandID, args)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

func (w *JSWrapper) ExecuteAction(ctx context.Context, actionID string, args map[string]any) (any, error) {
	v, err := w.call(ctx, "executeAction", actionID, args)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

func (w *JSWrapper) BackgroundRefresh(ctx context.Context) error {
	if _, ok := w.handlerLocked("backgroundRefresh"); !ok {
		return nil
	}
	_, err := w.call(ctx, "backgroundRefresh")
	return err
}

func (w *JSWrapper) Cleanup(ctx context.Context) error {
	if _, ok := w.handlerLocked("cleanup"); ok {
		if _, err := w.call(ctx, "cleanup"); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = make(map[string]plugin.ActionItem)
	return nil
}
