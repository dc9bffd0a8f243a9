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

// fakeServices records host-service calls from JS shims.
type fakeServices struct {
	clipboard string
	stored    map[string]string
	toasts    []string
}

func newFakeServices() *fakeServices {
	return &fakeServices{stored: make(map[string]string)}
}

func (f *fakeServices) ClipboardRead(context.Context) (string, error) { return f.clipboard, nil }
func (f *fakeServices) ClipboardWrite(_ context.Context, text string) error {
	f.clipboard = text
	return nil
}
func (f *fakeServices) StorageRead(_ context.Context, key string) (string, error) {
	v, ok := f.stored[key]
	if !ok {
		return "", errs.NotFound("storage key " + key)
	}
	return v, nil
}
func (f *fakeServices) StorageWrite(_ context.Context, key, value string) error {
	if value == "" {
		delete(f.stored, key)
		return nil
	}
	f.stored[key] = value
	return nil
}
func (f *fakeServices) HTTPRequest(context.Context, string, string, map[string]string, []byte) (*plugin.HTTPResponse, error) {
	return &plugin.HTTPResponse{Status: 200}, nil
}
func (f *fakeServices) Notify(_ context.Context, title, body, _ string) (string, error) {
	f.toasts = append(f.toasts, title)
	return "1", nil
}
func (f *fakeServices) CacheRead(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, nil
}
func (f *fakeServices) CacheWrite(context.Context, string, string, []byte) error { return nil }
func (f *fakeServices) CacheInvalidate(context.Context, string, string) (bool, error) {
	return false, nil
}
func (f *fakeServices) Log(context.Context, string, string, map[string]any) {}

func jsManifest() plugin.Manifest {
	return plugin.Manifest{ID: "jsplug", Name: "JS Plug", Version: "1.0.0", Kind: plugin.KindJavaScript}
}

func TestJSSearchHandler(t *testing.T) {
	const src = `
function search(query) {
	return [
		{id: "a", title: "Alpha " + query, score: 80},
		{id: "b", title: "Beta", score: 20},
	];
}`
	w, err := LoadJSSource(src, jsManifest(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(context.Background(), newFakeServices()))

	items, err := w.Search(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Alpha x", items[0].Title)
	assert.InDelta(t, 80, items[0].Score, 0.01)
}

func TestJSAsyncHandler(t *testing.T) {
	const src = `
async function executeAction(id, args) {
	return "done:" + id;
}`
	w, err := LoadJSSource(src, jsManifest(), nil)
	require.NoError(t, err)

	out, err := w.ExecuteAction(context.Background(), "act", nil)
	require.NoError(t, err)
	assert.Equal(t, "done:act", out)
}

func TestJSRejectedPromise(t *testing.T) {
	const src = `
async function executeAction(id) {
	throw new Error("boom");
}`
	w, err := LoadJSSource(src, jsManifest(), nil)
	require.NoError(t, err)

	_, err = w.ExecuteAction(context.Background(), "act", nil)
	assert.True(t, errs.IsKind(err, errs.KindPluginError))
}

func TestJSToastShim(t *testing.T) {
	const src = `
function executeAction(id) {
	beacon.showToast({title: "Hello", message: "World"});
	return true;
}`
	w, err := LoadJSSource(src, jsManifest(), nil)
	require.NoError(t, err)

	svc := newFakeServices()
	require.NoError(t, w.Initialize(context.Background(), svc))

	_, err = w.ExecuteAction(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello"}, svc.toasts)
}

func TestJSClipboardAndStorageShims(t *testing.T) {
	const src = `
function executeCommand(id) {
	beacon.Clipboard.copy("from-js");
	beacon.storage.setItem("k", "v");
	return beacon.storage.getItem("k");
}`
	w, err := LoadJSSource(src, jsManifest(), nil)
	require.NoError(t, err)

	svc := newFakeServices()
	require.NoError(t, w.Initialize(context.Background(), svc))

	out, err := w.ExecuteCommand(context.Background(), "c", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", out)
	assert.Equal(t, "from-js", svc.clipboard)
}

func TestJSItemCRUDFallbackSearch(t *testing.T) {
	const src = `
function initialize() {
	beacon.items.create({id: "1", title: "Open Settings", score: 50});
	beacon.items.create({id: "2", title: "Lock Screen", score: 40});
}`
	w, err := LoadJSSource(src, jsManifest(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(context.Background(), newFakeServices()))

	items, err := w.Search(context.Background(), "settings")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Open Settings", items[0].Title)
	assert.False(t, items[0].CreatedAt.IsZero())
}

func TestJSDeadlineInterrupt(t *testing.T) {
	const src = `
function search(q) {
	for (;;) {}
}`
	w, err := LoadJSSource(src, jsManifest(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = w.Search(ctx, "q")
	assert.True(t, errs.IsKind(err, errs.KindTimeout), "got %v", err)
}

func TestJSMissingHandler(t *testing.T) {
	w, err := LoadJSSource(`var x = 1;`, jsManifest(), nil)
	require.NoError(t, err)

	_, err = w.ExecuteAction(context.Background(), "a", nil)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
