package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon/internal/capability"
	"github.com/beaconkit/beacon/internal/metrics"
	"github.com/beaconkit/beacon/internal/wrapper"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// testPlugin is a controllable in-process plugin.
type testPlugin struct {
	id       string
	initErr  error
	cleaned  bool
	searched bool
}

func (p *testPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:      p.id,
		Name:    p.id,
		Version: "1.0.0",
		Kind:    plugin.KindNative,
		Capabilities: plugin.ManifestCapabilities{
			Search: true,
		},
	}
}

func (p *testPlugin) Initialize(context.Context, plugin.HostServices) error { return p.initErr }
func (p *testPlugin) Search(context.Context, string) ([]plugin.ActionItem, error) {
	p.searched = true
	return nil, nil
}
func (p *testPlugin) ExecuteCommand(context.Context, string, map[string]any) (any, error) {
	return nil, nil
}
func (p *testPlugin) ExecuteAction(context.Context, string, map[string]any) (any, error) {
	return nil, nil
}
func (p *testPlugin) BackgroundRefresh(context.Context) error { return nil }
func (p *testPlugin) Cleanup(context.Context) error {
	p.cleaned = true
	return nil
}

type fakeActions struct {
	removed []string
}

func (f *fakeActions) RemovePlugin(id string) { f.removed = append(f.removed, id) }

func newTestManager(t *testing.T, cfg Config) (*Manager, *capability.Index, *fakeActions) {
	t.Helper()
	caps := capability.NewIndex()
	actions := &fakeActions{}
	m := NewManager(cfg, Deps{
		Capabilities: caps,
		Tokens:       capability.NewTokenStore("salt", time.Hour),
		Resolver:     wrapper.NewExportResolver(),
		Actions:      actions,
		Metrics:      metrics.NewRegistry(),
	})
	return m, caps, actions
}

func waitForState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := m.State(id)
		return ok && st == want
	}, 2*time.Second, 5*time.Millisecond, "plugin %s never reached %s", id, want)
}

func TestRegisterReachesActive(t *testing.T) {
	m, caps, _ := newTestManager(t, Config{})
	sub := m.Events().Subscribe()

	require.NoError(t, m.Register(wrapper.NewNative(&testPlugin{id: "foo"})))
	waitForState(t, m, "foo", StateActive)

	t.Run("EventsInOrder", func(t *testing.T) {
		ev := <-sub
		assert.Equal(t, EventRegistered, ev.Kind)
		ev = <-sub
		assert.Equal(t, EventStarted, ev.Kind)
	})

	t.Run("CapabilitiesRegistered", func(t *testing.T) {
		ok, err := caps.VerifyCapability("foo", plugin.CapSearch)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("TokenIssuedOnce", func(t *testing.T) {
		token, ok := m.Token("foo")
		require.True(t, ok)
		assert.NotEmpty(t, token)

		_, ok = m.Token("foo")
		assert.False(t, ok, "plaintext handed out exactly once")
	})
}

func TestInitFailureMovesToError(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})

	require.NoError(t, m.Register(wrapper.NewNative(&testPlugin{id: "bad", initErr: errors.New("nope")})))
	waitForState(t, m, "bad", StateError)

	infos := m.Plugins()
	require.Len(t, infos, 1)
	assert.Equal(t, "nope", infos[0].Reason)
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	require.NoError(t, m.Register(wrapper.NewNative(&testPlugin{id: "dup"})))
	assert.Error(t, m.Register(wrapper.NewNative(&testPlugin{id: "dup"})))
}

func TestHealthScoreAndSkip(t *testing.T) {
	m, _, _ := newTestManager(t, Config{
		HealthThreshold:    0.8,
		HeartbeatUnhealthy: 20 * time.Millisecond,
	})
	require.NoError(t, m.Register(wrapper.NewNative(&testPlugin{id: "flaky"})))
	waitForState(t, m, "flaky", StateActive)

	// 1 success, 4 errors: score 0.2 under threshold.
	m.RecordSuccess("flaky", time.Millisecond)
	for i := 0; i < 4; i++ {
		m.RecordError("flaky", "x")
	}

	h, ok := m.Health("flaky")
	require.True(t, ok)
	assert.InDelta(t, 0.2, h.Score(), 0.001)

	t.Run("RecentHeartbeatKeepsEligible", func(t *testing.T) {
		assert.True(t, m.Healthy("flaky"), "low score alone does not skip")
		assert.NotEmpty(t, m.SearchTargets())
	})

	t.Run("SilentAndUnhealthySkipped", func(t *testing.T) {
		time.Sleep(30 * time.Millisecond)
		assert.False(t, m.Healthy("flaky"))
		assert.Empty(t, m.SearchTargets())
	})

	t.Run("SuccessRestoresEligibility", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			m.RecordSuccess("flaky", time.Millisecond)
		}
		assert.True(t, m.Healthy("flaky"))
	})
}

func TestTickMarksInactive(t *testing.T) {
	m, _, _ := newTestManager(t, Config{HeartbeatInactive: 10 * time.Millisecond})
	require.NoError(t, m.Register(wrapper.NewNative(&testPlugin{id: "quiet"})))
	waitForState(t, m, "quiet", StateActive)

	time.Sleep(20 * time.Millisecond)
	m.Tick()

	st, _ := m.State("quiet")
	assert.Equal(t, StateInactive, st)

	t.Run("HeartbeatRecovers", func(t *testing.T) {
		m.Heartbeat("quiet")
		st, _ := m.State("quiet")
		assert.Equal(t, StateActive, st)
	})
}

func TestUnregister(t *testing.T) {
	m, caps, actions := newTestManager(t, Config{})
	p := &testPlugin{id: "gone"}
	require.NoError(t, m.Register(wrapper.NewNative(p)))
	waitForState(t, m, "gone", StateActive)

	require.NoError(t, m.Unregister(context.Background(), "gone"))

	assert.True(t, p.cleaned, "wrapper cleanup invoked")
	assert.Equal(t, []string{"gone"}, actions.removed, "action mappings evicted")

	_, err := caps.VerifyCapability("gone", plugin.CapSearch)
	assert.Error(t, err, "capability records dropped")

	_, ok := m.State("gone")
	assert.False(t, ok)

	t.Run("SecondUnregisterFails", func(t *testing.T) {
		err := m.Unregister(context.Background(), "gone")
		assert.Error(t, err)
	})
}

func TestShutdownDrains(t *testing.T) {
	m, _, _ := newTestManager(t, Config{ShutdownDrain: 100 * time.Millisecond})
	p := &testPlugin{id: "s"}
	require.NoError(t, m.Register(wrapper.NewNative(p)))
	waitForState(t, m, "s", StateActive)

	m.Shutdown(context.Background())
	assert.True(t, p.cleaned)
	assert.Empty(t, m.Plugins())
}
