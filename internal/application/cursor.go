package application

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// MemoryCursorStore keeps cursors for the lifetime of the process only.
type MemoryCursorStore struct {
	mu     sync.RWMutex
	blocks map[string]uint64
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{blocks: make(map[string]uint64)}
}

func (m *MemoryCursorStore) LastProcessedBlock(_ context.Context, key string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	block, ok := m.blocks[key]
	return block, ok, nil
}

func (m *MemoryCursorStore) SetLastProcessedBlock(_ context.Context, key string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block > m.blocks[key] {
		m.blocks[key] = block
	}
	return nil
}

func (m *MemoryCursorStore) ClearLastProcessedBlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, key)
	return nil
}

// maxSetter is implemented by caches that raise a numeric value atomically.
type maxSetter interface {
	SetMax(ctx context.Context, key string, value uint64) error
}

// CacheCursorStore persists cursors in the shared cache store so a restarted
// process resumes instead of starting from genesis. Caches without an atomic
// max-update fall back to read-then-write, which is monotonic only with a
// single writer.
type CacheCursorStore struct {
	cache Cache
}

func NewCacheCursorStore(cache Cache) (*CacheCursorStore, error) {
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	return &CacheCursorStore{cache: cache}, nil
}

func (c *CacheCursorStore) LastProcessedBlock(ctx context.Context, key string) (uint64, bool, error) {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return block, true, nil
}

func (c *CacheCursorStore) SetLastProcessedBlock(ctx context.Context, key string, block uint64) error {
	if setter, ok := c.cache.(maxSetter); ok {
		err := setter.SetMax(ctx, key, block)
		if !errors.Is(err, errors.ErrUnsupported) {
			return err
		}
	}
	current, ok, err := c.LastProcessedBlock(ctx, key)
	if err != nil {
		return err
	}
	if ok && current >= block {
		return nil
	}
	return c.cache.Set(ctx, key, strconv.FormatUint(block, 10))
}

// ClearLastProcessedBlock overwrites the cursor with zero, which Scanner
// reads as the configured start block.
func (c *CacheCursorStore) ClearLastProcessedBlock(ctx context.Context, key string) error {
	return c.cache.Set(ctx, key, "0")
}
