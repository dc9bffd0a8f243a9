package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/beaconkit/beacon/internal/errs"
)

// RequestKind tags the service request union.
type RequestKind string

const (
	ReqClipboardRead  RequestKind = "clipboard_read"
	ReqClipboardWrite RequestKind = "clipboard_write"
	ReqNotification   RequestKind = "notification"
	ReqHTTP           RequestKind = "http"
	ReqStorageRead    RequestKind = "storage_read"
	ReqStorageWrite   RequestKind = "storage_write"
	ReqWasmCallback   RequestKind = "wasm_callback"
)

// Request is the tagged union carried over the bridge's async channel. Only
// the fields for the tagged kind are meaningful.
type Request struct {
	Kind      RequestKind `json:"kind"`
	PluginID  string      `json:"plugin_id"`
	RequestID string      `json:"request_id"`

	// clipboard / storage
	Text  string `json:"text,omitempty"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// notification
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Icon  string `json:"icon,omitempty"`

	// http
	Method   string            `json:"method,omitempty"`
	URL      string            `json:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	HTTPBody []byte            `json:"http_body,omitempty"`

	// wasm callback
	Export  string `json:"export,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// Response carries the result back to the requesting plugin, correlated by
// request id. Responses may arrive in any order.
type Response struct {
	PluginID  string          `json:"plugin_id"`
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// ResponseSink receives a plugin's service responses. Wrappers register one
// per plugin; the WASM wrapper turns deliveries into callback-export
// invocations.
type ResponseSink interface {
	Deliver(resp Response)
}

// Pump owns the bridge's bounded async request channel and worker pool.
type Pump struct {
	bridge  *Bridge
	reqs    chan Request
	workers int

	mu    sync.RWMutex
	sinks map[string]ResponseSink

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewPump creates the async request pump. Capacity bounds the request
// channel; a full channel fails enqueuers with ResourceExhausted.
func NewPump(b *Bridge, capacity, workers int) *Pump {
	if capacity <= 0 {
		capacity = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &Pump{
		bridge:  b,
		reqs:    make(chan Request, capacity),
		workers: workers,
		sinks:   make(map[string]ResponseSink),
		stop:    make(chan struct{}),
	}
}

// RegisterSink attaches a plugin's response sink.
func (p *Pump) RegisterSink(pluginID string, sink ResponseSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks[pluginID] = sink
}

// UnregisterSink detaches a plugin's sink on unregister. Responses for a
// detached plugin are dropped as orphaned.
func (p *Pump) UnregisterSink(pluginID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sinks, pluginID)
}

// Enqueue submits a request without blocking.
func (p *Pump) Enqueue(req Request) error {
	select {
	case p.reqs <- req:
		return nil
	default:
		return errs.ResourceExhausted("bridge request queue")
	}
}

// Start launches the worker pool.
func (p *Pump) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.stop:
					return
				case req := <-p.reqs:
					p.deliver(p.bridge.Execute(ctx, req))
				}
			}
		}()
	}
}

// Stop shuts the pump down and waits for workers to drain.
func (p *Pump) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Pump) deliver(resp Response) {
	p.mu.RLock()
	sink, ok := p.sinks[resp.PluginID]
	p.mu.RUnlock()
	if ok {
		sink.Deliver(resp)
	}
}

// Execute runs one request synchronously through the gated services and
// shapes the response.
func (b *Bridge) Execute(ctx context.Context, req Request) Response {
	resp := Response{PluginID: req.PluginID, RequestID: req.RequestID}
	svc := b.Services(req.PluginID)

	fail := func(err error) Response {
		resp.OK = false
		resp.Error = err.Error()
		resp.ErrorKind = errs.KindOf(err).String()
		return resp
	}
	succeed := func(v any) Response {
		data, err := json.Marshal(v)
		if err != nil {
			return fail(errs.Internal("marshal response"))
		}
		resp.OK = true
		resp.Result = data
		return resp
	}

	switch req.Kind {
	case ReqClipboardRead:
		text, err := svc.ClipboardRead(ctx)
		if err != nil {
			return fail(err)
		}
		return succeed(text)
	case ReqClipboardWrite:
		if err := svc.ClipboardWrite(ctx, req.Text); err != nil {
			return fail(err)
		}
		return succeed(nil)
	case ReqNotification:
		id, err := svc.Notify(ctx, req.Title, req.Body, req.Icon)
		if err != nil {
			return fail(err)
		}
		return succeed(id)
	case ReqHTTP:
		r, err := svc.HTTPRequest(ctx, req.Method, req.URL, req.Headers, req.HTTPBody)
		if err != nil {
			return fail(err)
		}
		return succeed(r)
	case ReqStorageRead:
		v, err := svc.StorageRead(ctx, req.Key)
		if err != nil {
			return fail(err)
		}
		return succeed(v)
	case ReqStorageWrite:
		if err := svc.StorageWrite(ctx, req.Key, req.Value); err != nil {
			return fail(err)
		}
		return succeed(nil)
	case ReqWasmCallback:
		out, err := b.wasmCallback(ctx, req)
		if err != nil {
			return fail(err)
		}
		return succeed(out)
	}
	return fail(errs.InvalidInput("request kind"))
}

// wasmCallbackAttempts bounds the callback retry loop; a failed export call
// gets one more try before the error surfaces.
const wasmCallbackAttempts = 2

// wasmCallback invokes a named export of the requesting plugin with the
// given bytes under a bounded deadline.
func (b *Bridge) wasmCallback(ctx context.Context, req Request) ([]byte, error) {
	if b.callbacks == nil {
		return nil, errs.Internal("no callback target wired")
	}
	if req.Export == "" {
		return nil, errs.InvalidInput("export")
	}

	var lastErr error
	for attempt := 0; attempt < wasmCallbackAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, b.cfg.timeout(0))
		out, err := b.callbacks.InvokeExport(callCtx, req.PluginID, req.Export, req.Payload)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errs.IsKind(err, errs.KindCancelled) || ctx.Err() != nil {
			break
		}
		// Transient runtime failures get a short breather.
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, errs.Cancelled()
		}
	}
	return nil, lastErr
}
