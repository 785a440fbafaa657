package cache

import (
	"context"
	"errors"
	"log/slog"
)

// Store is a cache backend that can report its readiness.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Ping(ctx context.Context) error
	Close() error
}

// MaxSetter is implemented by stores that raise a numeric value atomically.
type MaxSetter interface {
	SetMax(ctx context.Context, key string, value uint64) error
}

// Layered fronts a shared store with a process-local one. Only keys accepted
// by localKey pass through the local layer, and it never invalidates them,
// so localKey must accept write-once keys only. Every other key goes
// straight to the shared store, which other processes may update.
type Layered struct {
	local    Store
	shared   Store
	localKey func(key string) bool
}

func NewLayered(local, shared Store, localKey func(key string) bool) (*Layered, error) {
	if local == nil || shared == nil {
		return nil, errors.New("layered cache requires both stores")
	}
	if localKey == nil {
		return nil, errors.New("layered cache requires a local key filter")
	}
	return &Layered{local: local, shared: shared, localKey: localKey}, nil
}

func (l *Layered) Get(ctx context.Context, key string) (string, bool, error) {
	if !l.localKey(key) {
		return l.shared.Get(ctx, key)
	}
	if value, ok, err := l.local.Get(ctx, key); err == nil && ok {
		return value, true, nil
	}
	value, ok, err := l.shared.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	if err := l.local.Set(ctx, key, value); err != nil {
		slog.Debug("local cache fill failed", "key", key, "err", err)
	}
	return value, true, nil
}

// Set writes the shared store first; the local layer only mirrors what the
// shared store accepted.
func (l *Layered) Set(ctx context.Context, key, value string) error {
	if err := l.shared.Set(ctx, key, value); err != nil {
		return err
	}
	if !l.localKey(key) {
		return nil
	}
	return l.local.Set(ctx, key, value)
}

// SetMax delegates to the shared store. It reports errors.ErrUnsupported when
// the shared store has no atomic max-update or the key is served locally.
func (l *Layered) SetMax(ctx context.Context, key string, value uint64) error {
	shared, ok := l.shared.(MaxSetter)
	if !ok || l.localKey(key) {
		return errors.ErrUnsupported
	}
	return shared.SetMax(ctx, key, value)
}

func (l *Layered) Ping(ctx context.Context) error {
	return l.shared.Ping(ctx)
}

func (l *Layered) Close() error {
	return errors.Join(l.local.Close(), l.shared.Close())
}
