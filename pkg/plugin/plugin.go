// Package plugin defines the unified contract for Beacon plugins.
//
// Plugins can be implemented as any of:
//   - native Go plugins compiled into the host (in-process)
//   - WASM modules (portable, sandboxed, via wazero)
//   - JavaScript/TypeScript extensions (embedded goja runtime)
//
// The host doesn't care which runtime backs a plugin - all three are wrapped
// behind this interface and managed uniformly by the lifecycle manager.
package plugin

import (
	"context"
)

// Kind identifies the runtime backing a plugin.
type Kind string

const (
	KindNative     Kind = "native"
	KindWasm       Kind = "wasm"
	KindJavaScript Kind = "javascript"
	// KindRaycast is accepted in manifests; the loader adapts a Raycast
	// extension manifest into the javascript runtime.
	KindRaycast Kind = "raycast"
)

// Valid reports whether k names a known plugin kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNative, KindWasm, KindJavaScript, KindRaycast:
		return true
	}
	return false
}

// Plugin is the uniform contract all three runtimes implement.
// Every operation is asynchronous from the host's point of view: calls run on
// the shared worker pool and must honor ctx cancellation at suspension points.
type Plugin interface {
	// Manifest returns the plugin's declared metadata. Called at load time
	// and cheap to call repeatedly.
	Manifest() Manifest

	// Initialize is called once after loading, before the plugin serves
	// requests. The HostServices handle is how the plugin calls back into
	// host-provided services; plugins store it for later use.
	Initialize(ctx context.Context, host HostServices) error

	// Search returns scored action items for a query. Scores are in [0,100];
	// the host re-ranks across plugins. Fuzzy matching is the plugin's
	// concern, not the host's.
	Search(ctx context.Context, query string) ([]ActionItem, error)

	// ExecuteCommand invokes a manifest-declared command by id.
	ExecuteCommand(ctx context.Context, commandID string, args map[string]any) (any, error)

	// ExecuteAction invokes an action previously emitted from a search result.
	ExecuteAction(ctx context.Context, actionID string, args map[string]any) (any, error)

	// BackgroundRefresh is called on the plugin's declared interval when it
	// has the background capability.
	BackgroundRefresh(ctx context.Context) error

	// Cleanup is called before unloading. Plugins should release resources
	// and finish pending work.
	Cleanup(ctx context.Context) error
}

// HTTPResponse is the result of a host-mediated HTTP request. A response with
// a 5xx status is still a successful bridge call; only transport-level
// failures surface as errors.
type HTTPResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body"`
}

// HostServices is the capability-gated surface plugins use to reach
// host-provided services. Implementations enforce the plugin's declared
// capability set on every call; a missing capability fails with a
// CapabilityDenied error before any service work happens.
type HostServices interface {
	// Clipboard
	ClipboardRead(ctx context.Context) (string, error)
	ClipboardWrite(ctx context.Context, text string) error

	// Per-plugin key/value storage. Writing an empty value deletes the key.
	StorageRead(ctx context.Context, key string) (string, error)
	StorageWrite(ctx context.Context, key, value string) error

	// Outbound HTTP with host-side retry and per-domain rate limiting.
	HTTPRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*HTTPResponse, error)

	// Notify shows a desktop notification and returns the local id used to
	// dismiss it later.
	Notify(ctx context.Context, title, body, icon string) (string, error)

	// Partitioned in-memory cache.
	CacheRead(ctx context.Context, partition, key string) ([]byte, bool, error)
	CacheWrite(ctx context.Context, partition, key string, value []byte) error
	CacheInvalidate(ctx context.Context, partition, key string) (bool, error)

	// Log writes a structured line attributed to the plugin.
	Log(ctx context.Context, level, message string, fields map[string]any)
}
