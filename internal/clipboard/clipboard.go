// Package clipboard serializes all clipboard access through a single-writer
// actor. The platform adapter is an external collaborator behind the Port
// interface; the actor isolates its blocking calls on a dedicated goroutine
// and the rest of the host talks to it by message only.
package clipboard

import (
	"context"
	"sync"

	"github.com/beaconkit/beacon/internal/errs"
)

// ContentType enumerates the clipboard payload kinds the host understands.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentHTML  ContentType = "html"
	ContentFiles ContentType = "files"
	ContentImage ContentType = "image"
)

// Content is one clipboard payload.
type Content struct {
	Type  ContentType
	Text  string
	HTML  string
	Files []string
	Image []byte
}

// Port is the platform clipboard adapter. Calls may block briefly on the
// platform clipboard; the actor confines them to its own goroutine.
type Port interface {
	Read(ctx context.Context, want ContentType) (Content, error)
	Write(ctx context.Context, c Content) error
}

type request struct {
	ctx   context.Context
	write bool
	want  ContentType
	value Content
	reply chan result
}

type result struct {
	content Content
	err     error
}

// Actor is the single-writer clipboard owner.
type Actor struct {
	port Port
	reqs chan request

	stopOnce sync.Once
	stop     chan struct{}
}

// NewActor starts the clipboard actor over the given platform port.
func NewActor(port Port) *Actor {
	a := &Actor{
		port: port,
		reqs: make(chan request, 16),
		stop: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Actor) loop() {
	for {
		select {
		case <-a.stop:
			return
		case req := <-a.reqs:
			var res result
			if req.write {
				res.err = a.port.Write(req.ctx, req.value)
			} else {
				res.content, res.err = a.port.Read(req.ctx, req.want)
			}
			select {
			case req.reply <- res:
			case <-req.ctx.Done():
			}
		}
	}
}

func (a *Actor) do(ctx context.Context, req request) (Content, error) {
	req.ctx = ctx
	req.reply = make(chan result, 1)

	select {
	case a.reqs <- req:
	default:
		return Content{}, errs.ResourceExhausted("clipboard queue")
	}

	select {
	case res := <-req.reply:
		return res.content, res.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Content{}, errs.Timeout("clipboard")
		}
		return Content{}, errs.Cancelled()
	}
}

// ReadText reads the clipboard's text payload.
func (a *Actor) ReadText(ctx context.Context) (string, error) {
	c, err := a.do(ctx, request{want: ContentText})
	return c.Text, err
}

// WriteText replaces the clipboard with a text payload.
func (a *Actor) WriteText(ctx context.Context, text string) error {
	_, err := a.do(ctx, request{write: true, value: Content{Type: ContentText, Text: text}})
	return err
}

// Read reads a payload of the given content type.
func (a *Actor) Read(ctx context.Context, want ContentType) (Content, error) {
	return a.do(ctx, request{want: want})
}

// Write replaces the clipboard with the given payload.
func (a *Actor) Write(ctx context.Context, c Content) error {
	_, err := a.do(ctx, request{write: true, value: c})
	return err
}

// Close stops the actor. In-flight requests finish; queued ones are dropped.
func (a *Actor) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// MemoryPort is an in-process Port used by tests and headless runs.
type MemoryPort struct {
	mu      sync.Mutex
	content Content
}

// Read returns the stored payload regardless of the requested type; OS-level
// format negotiation belongs to real platform adapters.
func (m *MemoryPort) Read(_ context.Context, _ ContentType) (Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content, nil
}

func (m *MemoryPort) Write(_ context.Context, c Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = c
	return nil
}
