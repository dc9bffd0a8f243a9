// Package notify delivers desktop notifications through one platform backend
// per OS and keeps a persistent local_id ↔ platform_id mapping so dismissal
// can target the right platform handle across sessions.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/beaconkit/beacon/internal/errs"
)

// Notification is a host- or plugin-originated notification request.
type Notification struct {
	Title string
	Body  string
	Icon  string
}

// Backend is the common contract every platform implementation satisfies.
// Platform ids are whatever the OS hands back (a u32 on D-Bus).
type Backend interface {
	// Name identifies the backend in mappings, e.g. "linux-dbus".
	Name() string
	// Show delivers the notification and returns the platform id.
	Show(ctx context.Context, n Notification) (uint32, error)
	// Dismiss closes a previously shown notification. Best-effort on
	// platforms without a close call.
	Dismiss(ctx context.Context, platformID uint32) error
}

// Manager assigns local ids, delegates to the platform backend, and persists
// the id mapping.
type Manager struct {
	backend  Backend
	mappings *MappingStore
	nextID   atomic.Uint64
}

// NewManager creates a manager over the given backend and mapping store.
func NewManager(backend Backend, mappings *MappingStore) (*Manager, error) {
	m := &Manager{backend: backend, mappings: mappings}
	// Resume the local id sequence past anything already persisted.
	maxID, err := mappings.MaxLocalID()
	if err != nil {
		return nil, err
	}
	m.nextID.Store(maxID)
	return m, nil
}

// Show delivers a notification and returns its local id.
func (m *Manager) Show(ctx context.Context, n Notification) (uint64, error) {
	if n.Title == "" {
		return 0, errs.InvalidInput("notification title")
	}

	platformID, err := m.backend.Show(ctx, n)
	if err != nil {
		return 0, err
	}

	localID := m.nextID.Add(1)
	if err := m.mappings.Insert(Mapping{
		LocalID:    localID,
		PlatformID: platformID,
		Platform:   m.backend.Name(),
		CreatedAt:  uint64(time.Now().Unix()),
	}); err != nil {
		return 0, err
	}
	return localID, nil
}

// Dismiss closes the notification identified by a local id, resolving the
// platform handle through the persisted mapping.
func (m *Manager) Dismiss(ctx context.Context, localID uint64) error {
	mapping, err := m.mappings.Lookup(localID, m.backend.Name())
	if err != nil {
		return err
	}
	if err := m.backend.Dismiss(ctx, mapping.PlatformID); err != nil {
		return err
	}
	return m.mappings.Delete(localID)
}
