package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon/internal/errs"
)

// fakeBackend records calls and hands out fixed platform ids.
type fakeBackend struct {
	nextPlatformID uint32
	shown          []Notification
	dismissed      []uint32
}

func (f *fakeBackend) Name() string { return "linux-dbus" }

func (f *fakeBackend) Show(_ context.Context, n Notification) (uint32, error) {
	f.shown = append(f.shown, n)
	return f.nextPlatformID, nil
}

func (f *fakeBackend) Dismiss(_ context.Context, id uint32) error {
	f.dismissed = append(f.dismissed, id)
	return nil
}

func newTestManager(t *testing.T, backend Backend) (*Manager, *MappingStore) {
	t.Helper()
	store, err := OpenMappingStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m, err := NewManager(backend, store)
	require.NoError(t, err)
	return m, store
}

func TestShowDismissRoundTrip(t *testing.T) {
	backend := &fakeBackend{nextPlatformID: 42}
	m, store := newTestManager(t, backend)
	ctx := context.Background()

	localID, err := m.Show(ctx, Notification{Title: "Hi", Body: "There"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), localID)

	t.Run("MappingPersisted", func(t *testing.T) {
		mapping, err := store.Lookup(localID, "linux-dbus")
		require.NoError(t, err)
		assert.Equal(t, uint32(42), mapping.PlatformID)
		assert.Equal(t, "linux-dbus", mapping.Platform)
		assert.NotZero(t, mapping.CreatedAt)
	})

	t.Run("DismissTargetsPlatformID", func(t *testing.T) {
		require.NoError(t, m.Dismiss(ctx, localID))
		require.Len(t, backend.dismissed, 1)
		assert.Equal(t, uint32(42), backend.dismissed[0])
	})

	t.Run("MappingGoneAfterDismiss", func(t *testing.T) {
		_, err := store.Lookup(localID, "linux-dbus")
		assert.True(t, errs.IsKind(err, errs.KindNotFound))
	})
}

func TestDismissUnknown(t *testing.T) {
	m, _ := newTestManager(t, &fakeBackend{})
	err := m.Dismiss(context.Background(), 999)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestEmptyTitleRejected(t *testing.T) {
	m, _ := newTestManager(t, &fakeBackend{})
	_, err := m.Show(context.Background(), Notification{Body: "no title"})
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}

func TestLocalIDResumesAfterRestart(t *testing.T) {
	store, err := OpenMappingStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(Mapping{LocalID: 7, PlatformID: 1, Platform: "linux-dbus", CreatedAt: 1}))

	m, err := NewManager(&fakeBackend{nextPlatformID: 9}, store)
	require.NoError(t, err)

	localID, err := m.Show(context.Background(), Notification{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), localID, "sequence continues past persisted ids")
}
