package runtime

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon/internal/config"
	"github.com/beaconkit/beacon/internal/hotkey"
	"github.com/beaconkit/beacon/internal/launcher"
	"github.com/beaconkit/beacon/internal/lifecycle"
	"github.com/beaconkit/beacon/pkg/plugin"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.PluginDirs = []string{filepath.Join(dir, "plugins")}
	cfg.StorageRoot = filepath.Join(dir, "storage")
	cfg.DBPath = ":memory:"
	cfg.Hotkey.WaylandBackend = "null"
	return cfg
}

func writeJSPlugin(t *testing.T, root, id, source string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	m := plugin.Manifest{
		ID:      id,
		Name:    id,
		Version: "1.0.0",
		License: "MIT",
		Kind:    plugin.KindJavaScript,
		Capabilities: plugin.ManifestCapabilities{
			Search:       true,
			QuickActions: true,
		},
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(source), 0o644))
}

func startRuntime(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	rt, err := New(cfg, nil, Options{HotkeyBackend: hotkey.NewNullBackend()})
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Shutdown(ctx)
	})
	return rt
}

func waitActive(t *testing.T, rt *Runtime, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := rt.Lifecycle.State(id)
		return ok && st == lifecycle.StateActive
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEndToEndSearchAndDispatch(t *testing.T) {
	cfg := testConfig(t)
	writeJSPlugin(t, cfg.PluginDirs[0], "notes", `
function search(query) {
	return [{
		id: "note:" + query,
		title: "Note: " + query,
		score: 70,
		actions: [{id: "note.open:" + query, title: "Open"}],
	}];
}
function executeAction(id, args) {
	return "opened " + id;
}`)

	rt := startRuntime(t, cfg)
	waitActive(t, rt, "notes")

	snap := rt.RunSearch(context.Background(), "todo")
	require.NotEmpty(t, snap.Items)
	assert.Equal(t, "Note: todo", snap.Items[0].Item.Title)
	assert.Equal(t, launcher.StateSearchMode, rt.Launcher.State())

	t.Run("ActionRoutedToOwner", func(t *testing.T) {
		out, err := rt.ExecuteAction(context.Background(), "note.open:todo", nil)
		require.NoError(t, err)
		assert.Equal(t, "opened note.open:todo", out)
		assert.Equal(t, launcher.StateBackground, rt.Launcher.State(),
			"execute returns the launcher to background")
	})
}

func TestBuiltinCalcThroughFanout(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(cfg.PluginDirs[0], "calc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	m := plugin.Manifest{ID: "calc", Name: "Calculator", Version: "1.0.0", License: "MIT", Kind: plugin.KindNative}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), data, 0o644))

	rt := startRuntime(t, cfg)
	waitActive(t, rt, "calc")

	snap := rt.RunSearch(context.Background(), "2+2")
	require.NotEmpty(t, snap.Items)
	assert.Equal(t, "4", snap.Items[0].Item.Title)
}

func TestFailingPluginRecordsErrors(t *testing.T) {
	cfg := testConfig(t)
	writeJSPlugin(t, cfg.PluginDirs[0], "broken", `
function search(query) {
	throw new Error("always fails");
}`)

	rt := startRuntime(t, cfg)
	waitActive(t, rt, "broken")

	for i := 0; i < 5; i++ {
		rt.RunSearch(context.Background(), "q")
	}
	health, ok := rt.Lifecycle.Health("broken")
	require.True(t, ok)
	assert.Equal(t, int64(0), health.Successes)
	assert.GreaterOrEqual(t, health.Errors, int64(5))
}

func TestHotkeyTogglesLauncher(t *testing.T) {
	cfg := testConfig(t)
	backend := hotkey.NewNullBackend()

	rt, err := New(cfg, nil, Options{HotkeyBackend: backend})
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Shutdown(ctx)
	})

	require.Equal(t, launcher.StateBackground, rt.Launcher.State())

	backend.Inject(hotkey.Press{
		Definition: hotkey.Definition{Modifiers: hotkey.ModSuper, Code: "space"},
		Timestamp:  time.Now(),
	})

	require.Eventually(t, func() bool {
		return rt.Launcher.State() == launcher.StateLauncherActive
	}, 2*time.Second, 10*time.Millisecond)
}
