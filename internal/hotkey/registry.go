package hotkey

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/internal/events"
)

// defaultCaptureTimeout bounds a capture session.
const defaultCaptureTimeout = 10 * time.Second

// escapeCode cancels an active capture session.
const escapeCode = "escape"

// Registry owns the binding conflict index, capture sessions, and the
// backend connection.
type Registry struct {
	logger  *slog.Logger
	backend Backend
	bus     *events.Bus[Event]

	captureTimeout time.Duration

	mu       sync.Mutex
	bindings map[string]Binding // Definition.Key() -> binding

	capture       *captureSession
	pressesCancel context.CancelFunc
}

type captureSession struct {
	id     string
	cancel context.CancelFunc
}

// NewRegistry creates a registry over the given backend. A nil backend is
// allowed for headless runs: registration succeeds host-side only.
func NewRegistry(backend Backend, captureTimeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if captureTimeout <= 0 {
		captureTimeout = defaultCaptureTimeout
	}
	return &Registry{
		logger:         logger,
		backend:        backend,
		bus:            events.NewBus[Event]("hotkey", 32),
		captureTimeout: captureTimeout,
		bindings:       make(map[string]Binding),
	}
}

// Events exposes the hotkey event bus.
func (r *Registry) Events() *events.Bus[Event] { return r.bus }

// Start begins pumping backend presses into HandlePress.
func (r *Registry) Start(ctx context.Context) {
	if r.backend == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.pressesCancel = cancel
	r.mu.Unlock()

	go func() {
		presses := r.backend.Presses()
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-presses:
				if !ok {
					return
				}
				r.HandlePress(p)
			}
		}
	}()
}

// Stop halts press pumping and closes the backend.
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel := r.pressesCancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if r.backend != nil {
		r.backend.Close()
	}
}

// Register inserts a binding. An exact (modifiers, code) collision emits
// ConflictDetected and rejects unless override was requested; an override
// replaces the prior binding and returns it for audit. Suspicious non-exact
// collisions (superset modifiers on the same code) warn without rejecting.
func (r *Registry) Register(b Binding, override bool) (*Binding, error) {
	key := b.Definition.Key()

	r.mu.Lock()
	prior, conflict := r.bindings[key]
	if conflict && !override {
		r.mu.Unlock()
		r.bus.Publish(Event{Kind: EventConflictDetected, Binding: b, Prior: &prior})
		return nil, errs.InvalidInput("hotkey conflict " + b.Definition.String())
	}

	for _, existing := range r.bindings {
		if existing.Definition.Code == b.Definition.Code &&
			b.Definition.Modifiers.Supersets(existing.Definition.Modifiers) {
			r.bus.Publish(Event{Kind: EventConflictWarning, Binding: b, Prior: &existing})
			r.logger.Warn("suspicious hotkey overlap",
				"new", b.Definition.String(), "existing", existing.Definition.String())
		}
	}

	r.bindings[key] = b
	r.mu.Unlock()

	if r.backend != nil {
		if err := r.backend.Register(b.Definition); err != nil {
			r.mu.Lock()
			if conflict {
				r.bindings[key] = prior
			} else {
				delete(r.bindings, key)
			}
			r.mu.Unlock()
			return nil, errs.PlatformFailure("hotkey backend", err)
		}
	}

	ev := Event{Kind: EventRegisterCompleted, Binding: b}
	var priorOut *Binding
	if conflict {
		p := prior
		priorOut = &p
		ev.Prior = priorOut
	}
	r.bus.Publish(ev)
	return priorOut, nil
}

// Unregister removes a binding by definition.
func (r *Registry) Unregister(def Definition) error {
	key := def.Key()

	r.mu.Lock()
	_, ok := r.bindings[key]
	if !ok {
		r.mu.Unlock()
		return errs.NotFound("hotkey " + def.String())
	}
	delete(r.bindings, key)
	r.mu.Unlock()

	if r.backend != nil {
		if err := r.backend.Unregister(def); err != nil {
			return errs.PlatformFailure("hotkey backend", err)
		}
	}
	return nil
}

// Binding returns the active binding for a definition.
func (r *Registry) Binding(def Definition) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[def.Key()]
	return b, ok
}

// Bindings returns all active bindings.
func (r *Registry) Bindings() []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	return out
}

// StartCapture opens a capture session: until the deadline, presses become
// CaptureCompleted events instead of executing. Escape cancels. Returns the
// session id.
func (r *Registry) StartCapture(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		return "", errs.ResourceExhausted("capture session")
	}

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, r.captureTimeout)
	r.capture = &captureSession{id: id, cancel: cancel}

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		active := r.capture != nil && r.capture.id == id
		if active {
			r.capture = nil
		}
		r.mu.Unlock()
		if active && ctx.Err() == context.DeadlineExceeded {
			r.bus.Publish(Event{Kind: EventCaptureCancelled, SessionID: id})
		}
	}()

	r.bus.Publish(Event{Kind: EventCaptureStarted, SessionID: id})
	return id, nil
}

// CancelCapture ends an active capture session without a result.
func (r *Registry) CancelCapture(sessionID string) {
	r.mu.Lock()
	active := r.capture != nil && r.capture.id == sessionID
	var cancel context.CancelFunc
	if active {
		cancel = r.capture.cancel
		r.capture = nil
	}
	r.mu.Unlock()

	if active {
		cancel()
		r.bus.Publish(Event{Kind: EventCaptureCancelled, SessionID: sessionID})
	}
}

// HandlePress routes one observed key press: to the capture session when
// one is active, otherwise to the bound action as a Pressed event.
func (r *Registry) HandlePress(p Press) {
	r.mu.Lock()
	capture := r.capture
	r.mu.Unlock()

	if capture != nil {
		if p.Definition.Code == escapeCode {
			r.CancelCapture(capture.id)
			return
		}
		r.mu.Lock()
		if r.capture != nil && r.capture.id == capture.id {
			r.capture.cancel()
			r.capture = nil
		}
		r.mu.Unlock()
		r.bus.Publish(Event{
			Kind:       EventCaptureCompleted,
			SessionID:  capture.id,
			Definition: p.Definition,
		})
		return
	}

	b, ok := r.Binding(p.Definition)
	if !ok {
		return
	}
	r.bus.Publish(Event{Kind: EventPressed, Binding: b, ActionID: b.ActionID, Definition: p.Definition})
}
