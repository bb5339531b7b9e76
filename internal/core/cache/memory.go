package cache

import (
	"context"
	"sync"
	"time"

	"github.com/guiyumin/tubefetch/internal/core/extractor"
)

type memoryEntry struct {
	meta    extractor.VideoMetadata
	expires time.Time
}

// Memory is an in-process TTL cache. Expired entries are dropped on access.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (*extractor.VideoMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	meta := e.meta
	return &meta, true, nil
}

func (m *Memory) Set(_ context.Context, key string, meta *extractor.VideoMetadata) error {
	if meta == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = memoryEntry{meta: *meta, expires: now.Add(m.ttl)}
	return nil
}

// Len returns the number of entries, including ones not yet evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
