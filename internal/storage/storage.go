// Package storage implements the per-plugin key/value store. Values live as
// flat files under <root>/<plugin_id>/<key>; writing an empty value deletes
// the key.
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/beaconkit/beacon/internal/capability"
	"github.com/beaconkit/beacon/internal/errs"
)

// Store is the on-disk per-plugin key/value store.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory, creating it if
// needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.PlatformFailure("storage root", err)
	}
	return &Store{root: root}, nil
}

// validKey accepts filesystem-safe keys: no separators, no traversal, and a
// sane length bound.
func validKey(key string) error {
	if key == "" || len(key) > 255 {
		return errs.InvalidInput("storage key length")
	}
	if strings.ContainsAny(key, "/\\") || key == "." || key == ".." {
		return errs.InvalidInput("storage key charset")
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return errs.InvalidInput("storage key charset")
		}
	}
	return nil
}

func (s *Store) path(pluginID, key string) (string, error) {
	if err := capability.ValidatePluginID(pluginID); err != nil {
		return "", err
	}
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, pluginID, key), nil
}

// Read returns the stored value, or NotFound when absent.
func (s *Store) Read(pluginID, key string) (string, error) {
	p, err := s.path(pluginID, key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return "", errs.NotFound("storage key " + key)
	}
	if err != nil {
		return "", errs.PlatformFailure("storage read", err)
	}
	return string(data), nil
}

// Write stores a value. An empty value is interpreted as delete.
func (s *Store) Write(pluginID, key, value string) error {
	p, err := s.path(pluginID, key)
	if err != nil {
		return err
	}
	if value == "" {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errs.PlatformFailure("storage delete", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errs.PlatformFailure("storage mkdir", err)
	}
	if err := os.WriteFile(p, []byte(value), 0o644); err != nil {
		return errs.PlatformFailure("storage write", err)
	}
	return nil
}

// Purge removes a plugin's entire storage directory.
func (s *Store) Purge(pluginID string) error {
	if err := capability.ValidatePluginID(pluginID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, pluginID)); err != nil {
		return errs.PlatformFailure("storage purge", err)
	}
	return nil
}
