package hotkey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmdShiftSpace() Definition {
	return Definition{Modifiers: ModSuper | ModShift, Code: "space", Description: "launcher"}
}

func drain(sub <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-sub:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestRegisterAndConflict(t *testing.T) {
	r := NewRegistry(NewNullBackend(), 0, nil)
	sub := r.Events().Subscribe()

	first := Binding{Definition: cmdShiftSpace(), ActionID: "toggle_launcher", Requester: "core"}
	prior, err := r.Register(first, false)
	require.NoError(t, err)
	assert.Nil(t, prior)

	evs := drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, EventRegisterCompleted, evs[0].Kind)

	t.Run("ExactConflictRejected", func(t *testing.T) {
		second := Binding{Definition: cmdShiftSpace(), ActionID: "command_palette"}
		_, err := r.Register(second, false)
		require.Error(t, err)

		evs := drain(sub)
		require.Len(t, evs, 1)
		assert.Equal(t, EventConflictDetected, evs[0].Kind)

		// Active binding unchanged.
		b, ok := r.Binding(cmdShiftSpace())
		require.True(t, ok)
		assert.Equal(t, "toggle_launcher", b.ActionID)
	})

	t.Run("OverrideReplacesAndReturnsPrior", func(t *testing.T) {
		second := Binding{Definition: cmdShiftSpace(), ActionID: "command_palette"}
		prior, err := r.Register(second, true)
		require.NoError(t, err)
		require.NotNil(t, prior)
		assert.Equal(t, "toggle_launcher", prior.ActionID)

		b, _ := r.Binding(cmdShiftSpace())
		assert.Equal(t, "command_palette", b.ActionID)
	})
}

func TestUniquenessInvariant(t *testing.T) {
	r := NewRegistry(NewNullBackend(), 0, nil)
	def := cmdShiftSpace()

	_, err := r.Register(Binding{Definition: def, ActionID: "a"}, false)
	require.NoError(t, err)
	_, err = r.Register(Binding{Definition: def, ActionID: "b"}, false)
	require.Error(t, err)

	count := 0
	for _, b := range r.Bindings() {
		if b.Definition.Key() == def.Key() {
			count++
		}
	}
	assert.Equal(t, 1, count, "at most one active binding per (modifiers, code)")
}

func TestSupersetModifierWarns(t *testing.T) {
	r := NewRegistry(NewNullBackend(), 0, nil)
	sub := r.Events().Subscribe()

	_, err := r.Register(Binding{
		Definition: Definition{Modifiers: ModSuper, Code: "space"},
		ActionID:   "a",
	}, false)
	require.NoError(t, err)
	drain(sub)

	// Superset modifiers on the same code: warn, do not reject.
	_, err = r.Register(Binding{
		Definition: Definition{Modifiers: ModSuper | ModShift, Code: "space"},
		ActionID:   "b",
	}, false)
	require.NoError(t, err)

	evs := drain(sub)
	kinds := make([]EventKind, len(evs))
	for i, e := range evs {
		kinds[i] = e.Kind
	}
	assert.Contains(t, kinds, EventConflictWarning)
	assert.Contains(t, kinds, EventRegisterCompleted)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(NewNullBackend(), 0, nil)
	def := cmdShiftSpace()
	_, err := r.Register(Binding{Definition: def, ActionID: "a"}, false)
	require.NoError(t, err)

	require.NoError(t, r.Unregister(def))
	_, ok := r.Binding(def)
	assert.False(t, ok)

	assert.Error(t, r.Unregister(def), "second unregister fails")
}

func TestPressRouting(t *testing.T) {
	backend := NewNullBackend()
	r := NewRegistry(backend, 0, nil)
	sub := r.Events().Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	def := cmdShiftSpace()
	_, err := r.Register(Binding{Definition: def, ActionID: "toggle"}, false)
	require.NoError(t, err)
	drain(sub)

	backend.Inject(Press{Definition: def, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		for _, e := range drain(sub) {
			if e.Kind == EventPressed && e.ActionID == "toggle" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestCaptureFlow(t *testing.T) {
	r := NewRegistry(NewNullBackend(), time.Second, nil)
	sub := r.Events().Subscribe()

	id, err := r.StartCapture(context.Background())
	require.NoError(t, err)
	drain(sub)

	t.Run("SecondCaptureRejected", func(t *testing.T) {
		_, err := r.StartCapture(context.Background())
		assert.Error(t, err)
	})

	t.Run("PressBecomesCaptureCompleted", func(t *testing.T) {
		def := Definition{Modifiers: ModControl, Code: "k"}
		r.HandlePress(Press{Definition: def, Timestamp: time.Now()})

		evs := drain(sub)
		require.Len(t, evs, 1)
		assert.Equal(t, EventCaptureCompleted, evs[0].Kind)
		assert.Equal(t, id, evs[0].SessionID)
		assert.Equal(t, def, evs[0].Definition)
	})

	t.Run("PressAfterCaptureExecutesNormally", func(t *testing.T) {
		def := cmdShiftSpace()
		_, err := r.Register(Binding{Definition: def, ActionID: "toggle"}, false)
		require.NoError(t, err)
		drain(sub)

		r.HandlePress(Press{Definition: def})
		evs := drain(sub)
		require.Len(t, evs, 1)
		assert.Equal(t, EventPressed, evs[0].Kind)
	})
}

func TestCaptureEscapeCancels(t *testing.T) {
	r := NewRegistry(NewNullBackend(), time.Second, nil)
	sub := r.Events().Subscribe()

	id, err := r.StartCapture(context.Background())
	require.NoError(t, err)
	drain(sub)

	r.HandlePress(Press{Definition: Definition{Code: "escape"}})

	evs := drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, EventCaptureCancelled, evs[0].Kind)
	assert.Equal(t, id, evs[0].SessionID)
}

func TestCaptureDeadline(t *testing.T) {
	r := NewRegistry(NewNullBackend(), 20*time.Millisecond, nil)
	sub := r.Events().Subscribe()

	_, err := r.StartCapture(context.Background())
	require.NoError(t, err)
	drain(sub)

	require.Eventually(t, func() bool {
		for _, e := range drain(sub) {
			if e.Kind == EventCaptureCancelled {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Registry usable again after expiry.
	_, err = r.StartCapture(context.Background())
	assert.NoError(t, err)
}

func TestKeymaps(t *testing.T) {
	t.Run("XdgTrigger", func(t *testing.T) {
		assert.Equal(t, "<Control><Shift>space",
			xdgTrigger(Definition{Modifiers: ModControl | ModShift, Code: "space"}))
		assert.Equal(t, "<Super>Return",
			xdgTrigger(Definition{Modifiers: ModSuper, Code: "enter"}))
		assert.Equal(t, "a", xdgTrigger(Definition{Code: "a"}))
	})

	t.Run("KdeSequence", func(t *testing.T) {
		keys := kdeKeySequence(Definition{Modifiers: ModControl | ModShift, Code: "space"})
		assert.Equal(t, []int32{qtKeyShift, qtKeyControl, qtKeySpace}, keys)

		keys = kdeKeySequence(Definition{Modifiers: ModSuper, Code: "f5"})
		assert.Equal(t, []int32{qtKeyMeta, qtKeyF1 + 4}, keys)

		assert.Empty(t, kdeKeySequence(Definition{Code: "unmappable-key"}))
	})

	t.Run("QtLetters", func(t *testing.T) {
		assert.Equal(t, int32('A'), qtKeyCode("a"))
		assert.Equal(t, int32('Z'), qtKeyCode("z"))
		assert.Equal(t, int32('7'), qtKeyCode("7"))
	})
}
