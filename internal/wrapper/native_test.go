package wrapper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// blockingPlugin parks inside Search until released.
type blockingPlugin struct {
	stubPlugin
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPlugin) Search(ctx context.Context, query string) ([]plugin.ActionItem, error) {
	close(p.entered)
	<-p.release
	return nil, nil
}

// stubPlugin is a minimal no-op plugin implementation.
type stubPlugin struct {
	id string
}

func (p *stubPlugin) Manifest() plugin.Manifest {
	id := p.id
	if id == "" {
		id = "stub"
	}
	return plugin.Manifest{ID: id, Name: "Stub", Version: "1.0.0", Kind: plugin.KindNative}
}

func (p *stubPlugin) Initialize(context.Context, plugin.HostServices) error { return nil }
func (p *stubPlugin) Search(context.Context, string) ([]plugin.ActionItem, error) {
	return []plugin.ActionItem{{ID: "one", Title: "One", Score: 10}}, nil
}
func (p *stubPlugin) ExecuteCommand(context.Context, string, map[string]any) (any, error) {
	return "command-ok", nil
}
func (p *stubPlugin) ExecuteAction(context.Context, string, map[string]any) (any, error) {
	return "action-ok", nil
}
func (p *stubPlugin) BackgroundRefresh(context.Context) error { return nil }
func (p *stubPlugin) Cleanup(context.Context) error           { return nil }

func TestNativePassthrough(t *testing.T) {
	w := NewNative(&stubPlugin{})
	ctx := context.Background()

	assert.Equal(t, plugin.KindNative, w.Kind())
	assert.Equal(t, "stub", w.Manifest().ID)

	items, err := w.Search(ctx, "q")
	require.NoError(t, err)
	require.Len(t, items, 1)

	out, err := w.ExecuteAction(ctx, "one", nil)
	require.NoError(t, err)
	assert.Equal(t, "action-ok", out)
}

func TestNativeLockContention(t *testing.T) {
	p := &blockingPlugin{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	w := NewNative(p)
	w.lockWait = 50 * time.Millisecond

	go w.Search(context.Background(), "hold")
	<-p.entered

	_, err := w.ExecuteAction(context.Background(), "a", nil)
	assert.True(t, errs.IsKind(err, errs.KindResourceExhausted),
		"bounded wait must fail with lock contention, got %v", err)

	close(p.release)
}

func TestNativeLockRespectsContext(t *testing.T) {
	p := &blockingPlugin{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	w := NewNative(p)

	go w.Search(context.Background(), "hold")
	<-p.entered
	defer close(p.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := w.ExecuteAction(ctx, "a", nil)
	assert.True(t, errs.IsKind(err, errs.KindTimeout))
}

func TestNativeRegistry(t *testing.T) {
	r := NewNativeRegistry()
	r.Register("calc", func() plugin.Plugin { return &stubPlugin{id: "calc"} })

	p, err := r.New("calc")
	require.NoError(t, err)
	assert.Equal(t, "calc", p.Manifest().ID)

	_, err = r.New("ghost")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
