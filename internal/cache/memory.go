package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
)

// DefaultMemorySize is the default LRU capacity.
const DefaultMemorySize = 1000

// Memory is a concurrent-safe LRU cache with per-entry expiry.
type Memory struct {
	mu         sync.Mutex
	entries    map[fingerprint.Fingerprint]*list.Element
	order      *list.List // front=newest, back=oldest
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type memoryEntry struct {
	key       fingerprint.Fingerprint
	result    *model.Result
	expiresAt time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates a Memory cache holding at most maxEntries results.
func NewMemory(maxEntries int, defaultTTL time.Duration, opts ...MemoryOption) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMemorySize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	m := &Memory{
		entries:    make(map[fingerprint.Fingerprint]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name implements Cache.
func (m *Memory) Name() string { return "memory" }

// Get implements Cache. Expired entries are removed on read.
func (m *Memory) Get(_ context.Context, fp fingerprint.Fingerprint) (*model.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[fp]
	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}

	entry := el.Value.(*memoryEntry)
	if !m.now().Before(entry.expiresAt) {
		m.removeElement(el)
		m.misses.Add(1)
		return nil, false, nil
	}

	m.order.MoveToFront(el)
	m.hits.Add(1)
	return entry.result.Clone(), true, nil
}

// Set implements Cache, evicting the least recently used entry at capacity.
func (m *Memory) Set(_ context.Context, fp fingerprint.Fingerprint, res *model.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	entry := &memoryEntry{key: fp, result: res.Clone(), expiresAt: m.now().Add(ttl)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[fp]; ok {
		el.Value = entry
		m.order.MoveToFront(el)
		return nil
	}

	for len(m.entries) >= m.maxEntries {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeElement(oldest)
	}

	m.entries[fp] = m.order.PushFront(entry)
	return nil
}

// InvalidateAll implements Cache.
func (m *Memory) InvalidateAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[fingerprint.Fingerprint]*list.Element)
	m.order.Init()
	return nil
}

// Len returns the number of entries, including expired ones not yet read.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stats implements StatsReporter.
func (m *Memory) Stats(context.Context) Stats {
	entries := m.Len()
	hits := m.hits.Load()
	misses := m.misses.Load()

	return Stats{
		Backend:    m.Name(),
		Entries:    entries,
		MaxEntries: m.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate(hits, misses),
	}
}

func (m *Memory) removeElement(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*memoryEntry).key)
}
