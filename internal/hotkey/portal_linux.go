//go:build linux

package hotkey

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/beaconkit/beacon/internal/errs"
)

const (
	portalDest      = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	portalIface     = "org.freedesktop.portal.GlobalShortcuts"
	portalActivated = portalIface + ".Activated"
)

// PortalBackend implements global shortcuts via the XDG desktop portal
// GlobalShortcuts interface. The portal pushes Activated signals; no
// polling.
type PortalBackend struct {
	conn    *dbus.Conn
	session dbus.ObjectPath
	presses chan Press

	mu     sync.Mutex
	byID   map[string]Definition // shortcut id -> definition
	nextID int
	closed bool
}

// NewPortalBackend connects to the session bus and creates a shortcuts
// session.
func NewPortalBackend() (*PortalBackend, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, errs.PlatformFailure("dbus session", err)
	}

	b := &PortalBackend{
		conn:    conn,
		presses: make(chan Press, 32),
		byID:    make(map[string]Definition),
	}

	obj := conn.Object(portalDest, portalPath)
	var handle dbus.ObjectPath
	opts := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant("beacon"),
		"session_handle_token": dbus.MakeVariant("beacon_session"),
	}
	if call := obj.Call(portalIface+".CreateSession", 0, opts); call.Err != nil {
		return nil, errs.PlatformFailure("portal CreateSession", call.Err)
	} else if err := call.Store(&handle); err != nil {
		return nil, errs.PlatformFailure("portal CreateSession reply", err)
	}
	b.session = handle

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(portalIface),
		dbus.WithMatchMember("Activated"),
	); err != nil {
		return nil, errs.PlatformFailure("portal signal match", err)
	}

	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)
	go b.pump(signals)

	return b, nil
}

func (b *PortalBackend) Name() string { return "wayland-portal" }

func (b *PortalBackend) pump(signals chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != portalActivated || len(sig.Body) < 3 {
			continue
		}
		shortcutID, ok := sig.Body[1].(string)
		if !ok {
			continue
		}
		b.mu.Lock()
		def, known := b.byID[shortcutID]
		closed := b.closed
		b.mu.Unlock()
		if !known || closed {
			continue
		}
		select {
		case b.presses <- Press{Definition: def, Timestamp: time.Now()}:
		default:
		}
	}
}

// Register binds one shortcut through BindShortcuts with the GTK-named
// trigger as preferred_trigger.
func (b *PortalBackend) Register(def Definition) error {
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("beacon-%d", b.nextID)
	b.byID[id] = def
	b.mu.Unlock()

	shortcuts := []struct {
		ID   string
		Opts map[string]dbus.Variant
	}{{
		ID: id,
		Opts: map[string]dbus.Variant{
			"description":       dbus.MakeVariant(def.Description),
			"preferred_trigger": dbus.MakeVariant(xdgTrigger(def)),
		},
	}}

	obj := b.conn.Object(portalDest, portalPath)
	call := obj.Call(portalIface+".BindShortcuts", 0,
		b.session, shortcuts, "", map[string]dbus.Variant{})
	if call.Err != nil {
		b.mu.Lock()
		delete(b.byID, id)
		b.mu.Unlock()
		return errs.PlatformFailure("portal BindShortcuts", call.Err)
	}
	return nil
}

// Unregister drops the host-side mapping. The portal offers no unbind for a
// single shortcut; a rebind of the session would be needed to shrink the
// platform set, so stale ids are simply ignored on press.
func (b *PortalBackend) Unregister(def Definition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, d := range b.byID {
		if d.Key() == def.Key() {
			delete(b.byID, id)
			return nil
		}
	}
	return errs.NotFound("portal shortcut " + def.String())
}

func (b *PortalBackend) Presses() <-chan Press { return b.presses }

func (b *PortalBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
