//go:build linux

package hotkey

import (
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/beaconkit/beacon/internal/errs"
)

const (
	kdeDest      = "org.kde.kglobalaccel"
	kdePath      = "/kglobalaccel"
	kdeIface     = "org.kde.KGlobalAccel"
	kdeComponent = "beacon"
	kdePressed   = "org.kde.kglobalaccel.Component.globalShortcutPressed"

	// setShortcutKeys flag: autoloading per KGlobalAccel convention.
	kdeSetShortcutFlag = uint32(4)
)

// KdeBackend implements global shortcuts via the KGlobalAccel D-Bus
// interface. KDE pushes globalShortcutPressed signals.
type KdeBackend struct {
	conn    *dbus.Conn
	presses chan Press

	mu       sync.Mutex
	byAction map[string]Definition // action unique name -> definition
	closed   bool
}

// NewKdeBackend connects to the session bus and subscribes to component
// press signals.
func NewKdeBackend() (*KdeBackend, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, errs.PlatformFailure("dbus session", err)
	}

	b := &KdeBackend{
		conn:     conn,
		presses:  make(chan Press, 32),
		byAction: make(map[string]Definition),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.kde.kglobalaccel.Component"),
		dbus.WithMatchMember("globalShortcutPressed"),
	); err != nil {
		return nil, errs.PlatformFailure("kde signal match", err)
	}

	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)
	go b.pump(signals)

	return b, nil
}

func (b *KdeBackend) Name() string { return "wayland-kde" }

func (b *KdeBackend) pump(signals chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != kdePressed || len(sig.Body) < 3 {
			continue
		}
		component, _ := sig.Body[0].(string)
		action, _ := sig.Body[1].(string)
		if component != kdeComponent {
			continue
		}
		b.mu.Lock()
		def, known := b.byAction[action]
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

// actionName derives the KGlobalAccel action unique name for a definition.
func actionName(def Definition) string {
	return "beacon_" + def.Key()
}

// Register performs doRegister then setShortcutKeys with the Qt key code
// sequence.
func (b *KdeBackend) Register(def Definition) error {
	keys := kdeKeySequence(def)
	if len(keys) == 0 {
		return errs.InvalidInput("unmappable key " + def.Code)
	}

	action := actionName(def)
	actionID := []string{kdeComponent, action, "Beacon", def.Description}

	obj := b.conn.Object(kdeDest, kdePath)
	if call := obj.Call(kdeIface+".doRegister", 0, actionID); call.Err != nil {
		return errs.PlatformFailure("kde doRegister", call.Err)
	}

	// Wire shape is a(ai): an array of single-field structs, each holding
	// one Qt key sequence.
	type keySeq struct {
		Keys []int32
	}
	keyStructs := []keySeq{{Keys: keys}}
	if call := obj.Call(kdeIface+".setShortcutKeys", 0, actionID, keyStructs, kdeSetShortcutFlag); call.Err != nil {
		return errs.PlatformFailure("kde setShortcutKeys", call.Err)
	}

	b.mu.Lock()
	b.byAction[action] = def
	b.mu.Unlock()
	return nil
}

// Unregister removes the shortcut from KGlobalAccel.
func (b *KdeBackend) Unregister(def Definition) error {
	action := actionName(def)

	b.mu.Lock()
	_, known := b.byAction[action]
	delete(b.byAction, action)
	b.mu.Unlock()
	if !known {
		return errs.NotFound("kde shortcut " + def.String())
	}

	obj := b.conn.Object(kdeDest, kdePath)
	var ok bool
	call := obj.Call(kdeIface+".unregister", 0, kdeComponent, action)
	if call.Err != nil {
		return errs.PlatformFailure("kde unregister", call.Err)
	}
	call.Store(&ok)
	return nil
}

func (b *KdeBackend) Presses() <-chan Press { return b.presses }

func (b *KdeBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
