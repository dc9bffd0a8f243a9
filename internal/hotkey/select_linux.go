//go:build linux

package hotkey

import (
	"log/slog"
	"os"
	"strings"
)

// NewPlatformBackend selects the hotkey backend for this session. Order:
// explicit user preference, then compositor detection, then the portal as
// the fallback. On plain X11 sessions the XGrabKey listener lives in the
// platform layer; absent one, the portal still works on most desktops.
func NewPlatformBackend(preference string, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch preference {
	case "kde":
		return NewKdeBackend()
	case "portal":
		return NewPortalBackend()
	case "null":
		return NewNullBackend(), nil
	}

	desktop := strings.ToLower(os.Getenv("XDG_CURRENT_DESKTOP"))
	if strings.Contains(desktop, "kde") {
		if b, err := NewKdeBackend(); err == nil {
			return b, nil
		}
		logger.Warn("KGlobalAccel unavailable, falling back to portal")
	}

	return NewPortalBackend()
}
