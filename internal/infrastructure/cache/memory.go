package cache

import (
	"context"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

type MemoryConfig struct {
	// MaxSizeMB bounds the store; the oldest entries are overwritten once
	// it is reached. Zero means unbounded.
	MaxSizeMB int
}

// Memory is a process-local store. Entries are never expired by time, only
// displaced when MaxSizeMB is reached.
type Memory struct {
	cache *bigcache.BigCache
}

func NewMemory(cfg MemoryConfig) (*Memory, error) {
	cache, err := bigcache.New(context.Background(), bigcache.Config{
		Shards:             256,
		LifeWindow:         10 * 365 * 24 * time.Hour,
		CleanWindow:        0,
		MaxEntriesInWindow: 100_000,
		MaxEntrySize:       256,
		HardMaxCacheSize:   cfg.MaxSizeMB,
	})
	if err != nil {
		return nil, err
	}
	return &Memory{cache: cache}, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	value, err := m.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(value), true, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	return m.cache.Set(key, []byte(value))
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	return m.cache.Close()
}
