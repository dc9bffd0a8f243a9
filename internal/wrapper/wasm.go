package wrapper

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/beaconkit/beacon/internal/bridge"
	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// wasmPageSize is the WebAssembly linear memory page granularity.
const wasmPageSize = 65536

// Guest exports every WASM plugin provides.
const (
	expManifest          = "plugin_manifest"
	expInitialize        = "plugin_initialize"
	expSearch            = "plugin_search"
	expExecuteCommand    = "plugin_execute_command"
	expExecuteAction     = "plugin_execute_action"
	expBackgroundRefresh = "plugin_background_refresh"
	expCleanup           = "plugin_cleanup"
	expAlloc             = "plugin_alloc"
	expServiceResponse   = "plugin_service_response"
)

// WasmConfig tunes the per-plugin WASM sandbox.
type WasmConfig struct {
	// MemoryLimitBytes caps guest linear memory per call (default 32 MiB).
	MemoryLimitBytes uint64
	// ArgLimitBytes caps any single string argument crossing the boundary
	// (default 1 MiB).
	ArgLimitBytes uint32
}

func (c *WasmConfig) fillDefaults() {
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = 32 << 20
	}
	if c.ArgLimitBytes == 0 {
		c.ArgLimitBytes = 1 << 20
	}
}

// WasmWrapper runs one sandboxed WASM plugin. Arguments are JSON encoded
// into plugin linear memory; responses are read back from a packed
// ptr<<32|len result.
type WasmWrapper struct {
	cfg      WasmConfig
	manifest plugin.Manifest
	logger   *slog.Logger

	// pump receives the async service requests raised by host shims.
	pump *bridge.Pump

	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
}

// LoadWasm compiles and instantiates a WASM plugin from a file.
func LoadWasm(ctx context.Context, path string, cfg WasmConfig, pump *bridge.Pump, logger *slog.Logger) (*WasmWrapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.PlatformFailure("read wasm", err)
	}
	return LoadWasmBytes(ctx, data, cfg, pump, logger)
}

// LoadWasmBytes compiles and instantiates a WASM plugin from raw bytes.
func LoadWasmBytes(ctx context.Context, data []byte, cfg WasmConfig, pump *bridge.Pump, logger *slog.Logger) (*WasmWrapper, error) {
	cfg.fillDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	w := &WasmWrapper{cfg: cfg, pump: pump, logger: logger}

	pages := uint32(cfg.MemoryLimitBytes / wasmPageSize)
	rcfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)
	w.runtime = wazero.NewRuntimeWithConfig(ctx, rcfg)

	// Host function shims live in the "beacon" module.
	_, err := w.runtime.NewHostModuleBuilder("beacon").
		NewFunctionBuilder().WithFunc(w.hostLog).Export("host_log").
		NewFunctionBuilder().WithFunc(w.hostServiceRequest).Export("host_service_request").
		Instantiate(ctx)
	if err != nil {
		w.runtime.Close(ctx)
		return nil, errs.PlatformFailure("wasm host module", err)
	}

	wasi_snapshot_preview1.MustInstantiate(ctx, w.runtime)

	compiled, err := w.runtime.CompileModule(ctx, data)
	if err != nil {
		w.runtime.Close(ctx)
		return nil, errs.PlatformFailure("wasm compile", err)
	}

	mcfg := wazero.NewModuleConfig().
		WithRandSource(rand.Reader).
		WithSysWalltime().
		WithSysNanotime().
		WithStartFunctions("_initialize")
	w.module, err = w.runtime.InstantiateModule(ctx, compiled, mcfg)
	if err != nil {
		w.runtime.Close(ctx)
		return nil, errs.PlatformFailure("wasm instantiate", err)
	}

	// The manifest export is mandatory; it is how the plugin self-describes.
	raw, err := w.invokeRaw(ctx, expManifest, nil)
	if err != nil {
		w.runtime.Close(ctx)
		return nil, err
	}
	if err := json.Unmarshal(raw, &w.manifest); err != nil {
		w.runtime.Close(ctx)
		return nil, errs.PluginFault("", "manifest JSON: "+err.Error())
	}
	return w, nil
}

func (w *WasmWrapper) Kind() plugin.Kind { return plugin.KindWasm }

func (w *WasmWrapper) Manifest() plugin.Manifest { return w.manifest }

// --- host shims ---

// hostLog reads a level byte and a string from guest memory and forwards it
// to the host logger.
func (w *WasmWrapper) hostLog(_ context.Context, m api.Module, level, ptr, size uint32) {
	msg, ok := w.readBytes(m, ptr, size)
	if !ok {
		return
	}
	attrs := []any{"plugin", w.manifest.ID, "runtime", "wasm"}
	switch level {
	case 0:
		w.logger.Debug(string(msg), attrs...)
	case 2:
		w.logger.Warn(string(msg), attrs...)
	case 3:
		w.logger.Error(string(msg), attrs...)
	default:
		w.logger.Info(string(msg), attrs...)
	}
}

// hostServiceRequest copies a JSON-encoded service request out of guest
// memory, stamps it with a generated request id, enqueues it on the bridge,
// and immediately returns the request id to the guest (packed ptr<<32|len),
// or 0 on failure. The reply arrives later via plugin_service_response.
func (w *WasmWrapper) hostServiceRequest(ctx context.Context, m api.Module, ptr, size uint32) uint64 {
	if size > w.cfg.ArgLimitBytes {
		return 0
	}
	raw, ok := w.readBytes(m, ptr, size)
	if !ok {
		return 0
	}

	var req bridge.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return 0
	}
	req.PluginID = w.manifest.ID
	req.RequestID = uuid.NewString()

	if w.pump == nil {
		return 0
	}
	if err := w.pump.Enqueue(req); err != nil {
		return 0
	}

	out, err := w.writeGuest(ctx, m, []byte(req.RequestID))
	if err != nil {
		return 0
	}
	return out
}

// --- memory helpers ---

func (w *WasmWrapper) readBytes(m api.Module, ptr, size uint32) ([]byte, bool) {
	if m == nil || size == 0 {
		return nil, false
	}
	if size > w.cfg.ArgLimitBytes {
		return nil, false
	}
	mem := m.Memory()
	if mem == nil {
		return nil, false
	}
	data, ok := mem.Read(ptr, size)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// writeGuest allocates guest memory via plugin_alloc and copies data in,
// returning the packed ptr/len.
func (w *WasmWrapper) writeGuest(ctx context.Context, m api.Module, data []byte) (uint64, error) {
	alloc := m.ExportedFunction(expAlloc)
	if alloc == nil {
		return 0, errs.PluginFault(w.manifest.ID, "missing plugin_alloc export")
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(res) == 0 {
		return 0, errs.PluginFault(w.manifest.ID, "plugin_alloc failed")
	}
	ptr := uint32(res[0])
	if !m.Memory().Write(ptr, data) {
		return 0, errs.ResourceExhausted("wasm memory")
	}
	return uint64(ptr)<<32 | uint64(len(data)), nil
}

// invokeRaw calls a guest export with a byte payload and reads the packed
// result. Callers hold no locks; the wrapper serializes module access.
func (w *WasmWrapper) invokeRaw(ctx context.Context, export string, payload []byte) ([]byte, error) {
	if uint32(len(payload)) > w.cfg.ArgLimitBytes {
		return nil, errs.ResourceExhausted("wasm argument size")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.module == nil {
		return nil, errs.Internal("wasm module closed")
	}
	fn := w.module.ExportedFunction(export)
	if fn == nil {
		return nil, errs.PluginFault(w.manifest.ID, "missing export "+export)
	}

	var args []uint64
	if len(payload) > 0 {
		packed, err := w.writeGuest(ctx, w.module, payload)
		if err != nil {
			return nil, err
		}
		args = []uint64{packed >> 32, packed & 0xFFFFFFFF}
	} else {
		args = []uint64{0, 0}
	}

	results, err := fn.Call(ctx, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Timeout("wasm " + export)
		}
		if ctx.Err() == context.Canceled {
			return nil, errs.Cancelled()
		}
		return nil, errs.PluginFault(w.manifest.ID, fmt.Sprintf("%s: %v", export, err))
	}
	if len(results) == 0 {
		return nil, nil
	}

	packed := results[0]
	if packed == 0 {
		return nil, nil
	}
	ptr := uint32(packed >> 32)
	size := uint32(packed & 0xFFFFFFFF)
	out, ok := w.readBytes(w.module, ptr, size)
	if !ok {
		return nil, errs.PluginFault(w.manifest.ID, export+": unreadable result")
	}
	return out, nil
}

// invokeJSON marshals in, calls the export, and unmarshals the reply into
// out when non-nil.
func (w *WasmWrapper) invokeJSON(ctx context.Context, export string, in any, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return errs.Internal("marshal wasm argument")
		}
	}
	raw, err := w.invokeRaw(ctx, export, payload)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.PluginFault(w.manifest.ID, export+": result JSON: "+err.Error())
	}
	return nil
}

// --- plugin.Plugin ---

func (w *WasmWrapper) Initialize(ctx context.Context, _ plugin.HostServices) error {
	// WASM plugins reach host services through the shim channel, not the
	// direct interface; initialize only passes identity context.
	return w.invokeJSON(ctx, expInitialize, map[string]string{"plugin_id": w.manifest.ID}, nil)
}

func (w *WasmWrapper) Search(ctx context.Context, query string) ([]plugin.ActionItem, error) {
	var items []plugin.ActionItem
	err := w.invokeJSON(ctx, expSearch, map[string]string{"query": query}, &items)
	return items, err
}

func (w *WasmWrapper) ExecuteCommand(ctx context.Context, commandID string, args map[string]any) (any, error) {
	var out any
	err := w.invokeJSON(ctx, expExecuteCommand, map[string]any{"command_id": commandID, "args": args}, &out)
	return out, err
}

func (w *WasmWrapper) ExecuteAction(ctx context.Context, actionID string, args map[string]any) (any, error) {
	var out any
	err := w.invokeJSON(ctx, expExecuteAction, map[string]any{"action_id": actionID, "args": args}, &out)
	return out, err
}

func (w *WasmWrapper) BackgroundRefresh(ctx context.Context) error {
	return w.invokeJSON(ctx, expBackgroundRefresh, nil, nil)
}

func (w *WasmWrapper) Cleanup(ctx context.Context) error {
	err := w.invokeJSON(ctx, expCleanup, nil, nil)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runtime != nil {
		w.runtime.Close(ctx)
		w.runtime = nil
		w.module = nil
	}
	return err
}

// Deliver implements bridge.ResponseSink: service responses are handed back
// to the guest through the plugin_service_response export, indexed by
// request id.
func (w *WasmWrapper) Deliver(resp bridge.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if _, err := w.invokeRaw(context.Background(), expServiceResponse, payload); err != nil {
		w.logger.Warn("wasm service response delivery failed",
			"plugin", w.manifest.ID, "request_id", resp.RequestID, "error", err)
	}
}
