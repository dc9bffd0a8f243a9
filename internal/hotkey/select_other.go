//go:build !linux

package hotkey

import "log/slog"

// NewPlatformBackend returns the hotkey backend for this OS. The Carbon
// event-tap listener (macOS) and the Win32 RegisterHotKey listener ship in
// the platform layer; the core falls back to the null backend when neither
// is wired in.
func NewPlatformBackend(preference string, logger *slog.Logger) (Backend, error) {
	return NewNullBackend(), nil
}
