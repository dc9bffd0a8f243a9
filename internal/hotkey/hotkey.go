// Package hotkey manages global shortcut registration: a conflict-checked
// binding registry, capture sessions, and per-platform backends presenting
// a uniform push-style press event regardless of how the platform actually
// delivers keys.
package hotkey

import (
	"strings"
	"time"
)

// Modifiers is the platform-neutral modifier bitset.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModControl
	ModAlt
	ModSuper
)

// Has reports whether all given modifier bits are set.
func (m Modifiers) Has(bits Modifiers) bool { return m&bits == bits }

// Supersets reports whether m strictly contains other.
func (m Modifiers) Supersets(other Modifiers) bool {
	return m != other && m&other == other
}

func (m Modifiers) String() string {
	var parts []string
	if m.Has(ModControl) {
		parts = append(parts, "ctrl")
	}
	if m.Has(ModShift) {
		parts = append(parts, "shift")
	}
	if m.Has(ModAlt) {
		parts = append(parts, "alt")
	}
	if m.Has(ModSuper) {
		parts = append(parts, "super")
	}
	return strings.Join(parts, "+")
}

// Definition is the platform-neutral description of one shortcut. Code is a
// lowercase key name ("space", "a", "f1"); mapping to backend-specific
// identifiers is the backend's responsibility.
type Definition struct {
	Modifiers   Modifiers `json:"modifiers"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
}

// Key returns the conflict-index key: exactly one active binding may hold
// each (modifiers, code) tuple.
func (d Definition) Key() string {
	return d.Modifiers.String() + "|" + strings.ToLower(d.Code)
}

func (d Definition) String() string {
	if d.Modifiers == 0 {
		return d.Code
	}
	return d.Modifiers.String() + "+" + d.Code
}

// Binding ties a shortcut definition to an action.
type Binding struct {
	Definition Definition `json:"definition"`
	ActionID   string     `json:"action_id"`
	Requester  string     `json:"requester"`
}

// Press is one observed key press, uniform across backends.
type Press struct {
	Definition Definition
	Timestamp  time.Time
}

// EventKind tags hotkey subsystem events.
type EventKind string

const (
	EventRegisterCompleted EventKind = "register_completed"
	EventConflictDetected  EventKind = "conflict_detected"
	EventConflictWarning   EventKind = "conflict_warning"
	EventPressed           EventKind = "pressed"
	EventCaptureStarted    EventKind = "capture_started"
	EventCaptureCompleted  EventKind = "capture_completed"
	EventCaptureCancelled  EventKind = "capture_cancelled"
)

// Event is one hotkey subsystem notification.
type Event struct {
	Kind       EventKind
	Binding    Binding
	Prior      *Binding // set on override replacements
	Definition Definition
	SessionID  string
	ActionID   string
}
