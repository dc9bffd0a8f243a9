//go:build linux

package notify

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/beaconkit/beacon/internal/errs"
)

const (
	dbusDest      = "org.freedesktop.Notifications"
	dbusPath      = "/org/freedesktop/Notifications"
	dbusNotify    = "org.freedesktop.Notifications.Notify"
	dbusClose     = "org.freedesktop.Notifications.CloseNotification"
	appName       = "beacon"
	defaultExpiry = int32(5000) // ms
)

// DBusBackend delivers notifications over the session bus per the
// org.freedesktop.Notifications interface.
type DBusBackend struct {
	conn *dbus.Conn
}

// NewDBusBackend connects to the session bus.
func NewDBusBackend() (*DBusBackend, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, errs.PlatformFailure("dbus session", err)
	}
	return &DBusBackend{conn: conn}, nil
}

func (b *DBusBackend) Name() string { return "linux-dbus" }

// Show calls Notify(app_name, replaces_id=0, icon, summary, body, actions,
// hints, timeout) and returns the u32 platform id.
func (b *DBusBackend) Show(ctx context.Context, n Notification) (uint32, error) {
	obj := b.conn.Object(dbusDest, dbusPath)

	var platformID uint32
	call := obj.CallWithContext(ctx, dbusNotify, 0,
		appName,
		uint32(0), // replaces_id
		n.Icon,
		n.Title,
		n.Body,
		[]string{},               // actions
		map[string]dbus.Variant{}, // hints
		defaultExpiry,
	)
	if call.Err != nil {
		return 0, errs.PlatformFailure("dbus Notify", call.Err)
	}
	if err := call.Store(&platformID); err != nil {
		return 0, errs.PlatformFailure("dbus Notify reply", err)
	}
	return platformID, nil
}

// Dismiss calls CloseNotification with the platform id recorded at show.
func (b *DBusBackend) Dismiss(ctx context.Context, platformID uint32) error {
	obj := b.conn.Object(dbusDest, dbusPath)
	if call := obj.CallWithContext(ctx, dbusClose, 0, platformID); call.Err != nil {
		return errs.PlatformFailure("dbus CloseNotification", call.Err)
	}
	return nil
}

// NewPlatformBackend returns the notification backend for this OS.
func NewPlatformBackend() (Backend, error) {
	return NewDBusBackend()
}
