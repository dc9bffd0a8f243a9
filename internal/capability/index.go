// Package capability is the single source of truth for what a plugin may do
// and how it proves identity: per-plugin capability sets, derived permission
// sets, and the hashed token store.
package capability

import (
	"runtime"
	"sync"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// Index maps plugins to their registered capability and permission sets.
// A plugin's capability set is immutable after registration.
type Index struct {
	mu    sync.RWMutex
	caps  map[string]plugin.CapabilitySet
	perms map[string]plugin.PermissionSet
	// platformDenied lists capability names the host policy refuses on the
	// current platform.
	platformDenied map[string]bool
}

// NewIndex creates an empty index with the current platform's policy.
func NewIndex() *Index {
	return &Index{
		caps:           make(map[string]plugin.CapabilitySet),
		perms:          make(map[string]plugin.PermissionSet),
		platformDenied: platformDeniedCapabilities(runtime.GOOS),
	}
}

// platformDeniedCapabilities returns capabilities the host refuses per OS.
func platformDeniedCapabilities(goos string) map[string]bool {
	denied := make(map[string]bool)
	// Realtime UI channels need a compositor conduit we only ship on
	// desktop platforms.
	switch goos {
	case "linux", "darwin", "windows":
	default:
		denied[plugin.CapRealtime] = true
		denied[plugin.CapNotifications] = true
	}
	return denied
}

// Register stores a plugin's capability set and derives its permission set.
// Fails if the plugin is already registered: capability sets never change
// in place.
func (ix *Index) Register(pluginID string, caps plugin.CapabilitySet, extended []string) error {
	if err := ValidatePluginID(pluginID); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.caps[pluginID]; exists {
		return errs.InvalidInput("plugin_id already registered")
	}

	perms := plugin.DerivePermissions(caps)
	perms.Extended = extended

	ix.caps[pluginID] = caps
	ix.perms[pluginID] = perms
	return nil
}

// Unregister drops a plugin's capability and permission records.
func (ix *Index) Unregister(pluginID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.caps, pluginID)
	delete(ix.perms, pluginID)
}

// VerifyCapability returns true only if the plugin registered a capability of
// the given name and the host policy grants it on this platform.
func (ix *Index) VerifyCapability(pluginID, name string) (bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	caps, ok := ix.caps[pluginID]
	if !ok {
		return false, errs.NotFound("plugin " + pluginID)
	}
	if ix.platformDenied[name] {
		return false, nil
	}
	return caps.Has(name), nil
}

// Capabilities returns the registered capability set for a plugin.
func (ix *Index) Capabilities(pluginID string) (plugin.CapabilitySet, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	caps, ok := ix.caps[pluginID]
	return caps, ok
}

// Permissions returns the derived permission set for a plugin.
func (ix *Index) Permissions(pluginID string) (plugin.PermissionSet, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.perms[pluginID]
	return p, ok
}

// ValidatePluginID checks the stable plugin id format: ASCII alphanumeric
// plus underscore and dash, 1-256 bytes.
func ValidatePluginID(id string) error {
	if len(id) == 0 || len(id) > 256 {
		return errs.InvalidInput("plugin_id length")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return errs.InvalidInput("plugin_id charset")
		}
	}
	return nil
}
