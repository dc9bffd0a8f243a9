package search

import "sync"

// ActionMap is the global action_id → plugin_id index. Entries are written
// as search results merge and cleared when plugins unregister.
type ActionMap struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewActionMap creates an empty map.
func NewActionMap() *ActionMap {
	return &ActionMap{m: make(map[string]string)}
}

// Record maps an action id to its emitting plugin.
func (a *ActionMap) Record(actionID, pluginID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[actionID] = pluginID
}

// Lookup resolves an action id to the owning plugin.
func (a *ActionMap) Lookup(actionID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pluginID, ok := a.m[actionID]
	return pluginID, ok
}

// RemovePlugin evicts every entry owned by a plugin. Called on unregister.
func (a *ActionMap) RemovePlugin(pluginID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, owner := range a.m {
		if owner == pluginID {
			delete(a.m, id)
		}
	}
}

// Len returns the number of live mappings.
func (a *ActionMap) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.m)
}
