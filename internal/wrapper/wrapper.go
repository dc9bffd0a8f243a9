// Package wrapper puts the three plugin runtimes (native in-process, WASM
// via wazero, JavaScript via goja) behind the one pkg/plugin contract. The
// lifecycle manager owns wrappers; nothing above this package knows which
// runtime backs a plugin.
package wrapper

import (
	"context"
	"sync"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// Wrapper is what the lifecycle manager holds per plugin: the uniform
// contract plus runtime identification.
type Wrapper interface {
	plugin.Plugin
	Kind() plugin.Kind
}

// NativeRegistry holds the native plugin constructors compiled into the
// host. builtin.RegisterAll adds the builtin plugins when the runtime is
// built; the runtime resolves native manifest ids against it on load.
type NativeRegistry struct {
	mu           sync.RWMutex
	constructors map[string]func() plugin.Plugin
}

// NewNativeRegistry creates an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{constructors: make(map[string]func() plugin.Plugin)}
}

// Register adds a constructor for a native plugin id.
func (r *NativeRegistry) Register(id string, ctor func() plugin.Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[id] = ctor
}

// New constructs the native plugin registered under id.
func (r *NativeRegistry) New(id string) (plugin.Plugin, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("native plugin " + id)
	}
	return ctor(), nil
}

// Registered returns the known native plugin ids.
func (r *NativeRegistry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		out = append(out, id)
	}
	return out
}

// ExportResolver satisfies the bridge's CallbackTarget over a set of live
// wrappers. Only WASM wrappers expose raw exports; other kinds reject.
type ExportResolver struct {
	mu       sync.RWMutex
	wrappers map[string]Wrapper
}

// NewExportResolver creates an empty resolver.
func NewExportResolver() *ExportResolver {
	return &ExportResolver{wrappers: make(map[string]Wrapper)}
}

// Track registers a live wrapper for callback resolution.
func (r *ExportResolver) Track(pluginID string, w Wrapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wrappers[pluginID] = w
}

// Untrack removes a wrapper on unregister.
func (r *ExportResolver) Untrack(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.wrappers, pluginID)
}

// InvokeExport resolves the plugin's runtime and executes the named export.
func (r *ExportResolver) InvokeExport(ctx context.Context, pluginID, export string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	w, ok := r.wrappers[pluginID]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("plugin " + pluginID)
	}
	wasm, ok := w.(*WasmWrapper)
	if !ok {
		return nil, errs.InvalidInput("callback target kind")
	}
	return wasm.invokeRaw(ctx, export, payload)
}
