// Package cache provides named in-memory partitions with LRU/TTL semantics,
// per-partition memory budgets, and eviction events. The cache never calls
// into plugins.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/internal/events"
)

// EvictionReason classifies why an entry left a partition.
type EvictionReason string

const (
	ReasonMemoryPressure     EvictionReason = "memory_pressure"
	ReasonManualInvalidation EvictionReason = "manual_invalidation"
	ReasonTTLExpired         EvictionReason = "ttl_expired"
	ReasonReplaced           EvictionReason = "replaced"
)

// EvictionEvent is emitted whenever a value leaves a partition.
type EvictionEvent struct {
	Partition string
	Key       string
	Reason    EvictionReason
	ValueSize int
}

// PressureEvent is emitted by partition monitors when usage crosses the soft
// threshold. Monitors observe; they never evict.
type PressureEvent struct {
	Partition string
	UsedBytes int64
	Budget    int64
	Usage     float64
}

// PartitionConfig is immutable after the partition is created.
type PartitionConfig struct {
	Name        string
	BudgetBytes int64
	DefaultTTL  time.Duration // zero means no TTL
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero when no TTL
	elem      *list.Element
}

// Partition is one named cache region. Reads and writes never suspend.
type Partition struct {
	cfg  PartitionConfig
	mu   sync.Mutex
	data map[string]*entry
	lru  *list.List // front = most recent
	used int64

	evictions *events.Bus[EvictionEvent]
}

func newPartition(cfg PartitionConfig, evictions *events.Bus[EvictionEvent]) *Partition {
	return &Partition{
		cfg:       cfg,
		data:      make(map[string]*entry),
		lru:       list.New(),
		evictions: evictions,
	}
}

// Config returns the partition's immutable configuration.
func (p *Partition) Config() PartitionConfig { return p.cfg }

// Read returns a shared view of the stored bytes. Callers must not mutate
// the returned slice.
func (p *Partition) Read(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.data[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		p.removeLocked(e, ReasonTTLExpired)
		return nil, false
	}
	p.lru.MoveToFront(e.elem)
	return e.value, true
}

// Write inserts or replaces an entry, evicting per LRU until the partition
// is back under budget. A replaced value emits an eviction event.
func (p *Partition) Write(key string, value []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.data[key]; ok {
		p.removeLocked(old, ReasonReplaced)
	}

	e := &entry{key: key, value: value}
	if p.cfg.DefaultTTL > 0 {
		e.expiresAt = time.Now().Add(p.cfg.DefaultTTL)
	}
	e.elem = p.lru.PushFront(e)
	p.data[key] = e
	p.used += int64(len(value))

	for p.cfg.BudgetBytes > 0 && p.used > p.cfg.BudgetBytes {
		back := p.lru.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry)
		if victim == e {
			// A single over-budget value stays resident; the monitor will
			// report the pressure.
			break
		}
		p.removeLocked(victim, ReasonMemoryPressure)
	}
}

// Invalidate removes a key, reporting whether it existed.
func (p *Partition) Invalidate(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.data[key]
	if !ok {
		return false
	}
	p.removeLocked(e, ReasonManualInvalidation)
	return true
}

// UsedBytes returns the current memory accounting for the partition.
func (p *Partition) UsedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Len returns the number of live entries.
func (p *Partition) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

// sweepExpired drops entries past their TTL. Called by the manager's
// maintenance tick.
func (p *Partition) sweepExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var victims []*entry
	for _, e := range p.data {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		p.removeLocked(e, ReasonTTLExpired)
	}
	return len(victims)
}

func (p *Partition) removeLocked(e *entry, reason EvictionReason) {
	delete(p.data, e.key)
	p.lru.Remove(e.elem)
	p.used -= int64(len(e.value))
	if p.evictions != nil {
		p.evictions.Publish(EvictionEvent{
			Partition: p.cfg.Name,
			Key:       e.key,
			Reason:    reason,
			ValueSize: len(e.value),
		})
	}
}

// Manager owns all partitions. Partition configuration is fixed at creation.
type Manager struct {
	mu         sync.RWMutex
	partitions map[string]*Partition

	evictions *events.Bus[EvictionEvent]
	pressure  *events.Bus[PressureEvent]

	pressureThreshold float64
}

// NewManager creates an empty partition manager.
func NewManager(pressureThreshold float64) *Manager {
	if pressureThreshold <= 0 || pressureThreshold > 1 {
		pressureThreshold = 0.9
	}
	return &Manager{
		partitions:        make(map[string]*Partition),
		evictions:         events.NewBus[EvictionEvent]("cache.evictions", 64),
		pressure:          events.NewBus[PressureEvent]("cache.pressure", 16),
		pressureThreshold: pressureThreshold,
	}
}

// Evictions exposes the eviction event bus.
func (m *Manager) Evictions() *events.Bus[EvictionEvent] { return m.evictions }

// Pressure exposes the memory-pressure observation bus.
func (m *Manager) Pressure() *events.Bus[PressureEvent] { return m.pressure }

// CreatePartition registers a new partition. Fails if the name exists:
// partition configuration is immutable after creation.
func (m *Manager) CreatePartition(cfg PartitionConfig) (*Partition, error) {
	if cfg.Name == "" {
		return nil, errs.InvalidInput("partition name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.partitions[cfg.Name]; exists {
		return nil, errs.InvalidInput("partition already exists")
	}
	p := newPartition(cfg, m.evictions)
	m.partitions[cfg.Name] = p
	return p, nil
}

// Partition returns a partition by name.
func (m *Manager) Partition(name string) (*Partition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[name]
	return p, ok
}

// getOrCreate returns the named partition, creating it with the default
// budget for service-bridge callers that address partitions lazily.
func (m *Manager) getOrCreate(name string, defaultBudget int64) *Partition {
	if p, ok := m.Partition(name); ok {
		return p
	}
	p, err := m.CreatePartition(PartitionConfig{Name: name, BudgetBytes: defaultBudget})
	if err != nil {
		// Lost the race; the winner's partition serves.
		p, _ = m.Partition(name)
	}
	return p
}

// Read fetches a value by (partition, key).
func (m *Manager) Read(partition, key string) ([]byte, bool, error) {
	p, ok := m.Partition(partition)
	if !ok {
		return nil, false, errs.NotFound("partition " + partition)
	}
	v, hit := p.Read(key)
	return v, hit, nil
}

// Write stores a value, creating the partition with a default budget when
// absent.
func (m *Manager) Write(partition, key string, value []byte, defaultBudget int64) error {
	p := m.getOrCreate(partition, defaultBudget)
	if p == nil {
		return errs.InvalidInput("partition name")
	}
	p.Write(key, value)
	return nil
}

// Invalidate removes a key, reporting whether it existed.
func (m *Manager) Invalidate(partition, key string) (bool, error) {
	p, ok := m.Partition(partition)
	if !ok {
		return false, errs.NotFound("partition " + partition)
	}
	return p.Invalidate(key), nil
}

// Sweep drops expired entries across all partitions and emits pressure
// observations for partitions over the soft threshold. Wired to the
// maintenance scheduler.
func (m *Manager) Sweep() {
	now := time.Now()

	m.mu.RLock()
	parts := make([]*Partition, 0, len(m.partitions))
	for _, p := range m.partitions {
		parts = append(parts, p)
	}
	m.mu.RUnlock()

	for _, p := range parts {
		p.sweepExpired(now)
		budget := p.cfg.BudgetBytes
		if budget <= 0 {
			continue
		}
		used := p.UsedBytes()
		usage := float64(used) / float64(budget)
		if usage >= m.pressureThreshold {
			m.pressure.Publish(PressureEvent{
				Partition: p.cfg.Name,
				UsedBytes: used,
				Budget:    budget,
				Usage:     usage,
			})
		}
	}
}
