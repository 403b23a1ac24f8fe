package cache

import (
	"context"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryProvider is a size-bounded in-process cache with per-key expiry.
type MemoryProvider struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryProvider creates a cache holding at most size keys.
func NewMemoryProvider(size int) (*MemoryProvider, error) {
	if size <= 0 {
		size = 128
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &MemoryProvider{entries: entries, now: time.Now}, nil
}

// Get returns a copy of the cached value or ErrCacheMiss.
func (m *MemoryProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := m.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.entries.Remove(key)
		return nil, ErrCacheMiss
	}
	return slices.Clone(entry.value), nil
}

// Set stores a copy of value. A non-positive ttl never expires.
func (m *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := memoryEntry{value: slices.Clone(value)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries.Add(key, entry)
	return nil
}

// Del removes key.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

// Close purges all entries.
func (m *MemoryProvider) Close() error {
	m.entries.Purge()
	return nil
}
