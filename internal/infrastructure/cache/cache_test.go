package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := NewRedis(RedisConfig{Addr: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	store, err := NewMemory(MemoryConfig{MaxSizeMB: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	store, err := newInMemoryBadger()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// writeOnce admits fee keys to the local layer, as the fee engine's filter does.
func writeOnce(key string) bool {
	return strings.HasPrefix(key, "fee:") || strings.HasPrefix(key, "block:")
}

func TestStores_GetSet(t *testing.T) {
	redisStore, _ := newTestRedis(t)
	layered, err := NewLayered(newTestMemory(t), newTestBadger(t), writeOnce)
	require.NoError(t, err)

	stores := map[string]Store{
		"redis":   redisStore,
		"memory":  newTestMemory(t),
		"badger":  newTestBadger(t),
		"layered": layered,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := store.Get(ctx, "fee:0xabc")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, "fee:0xabc", "0.756"))
			require.NoError(t, store.Set(ctx, "fee:0xabc", "0.756"))

			value, ok, err := store.Get(ctx, "fee:0xabc")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "0.756", value)
			assert.NoError(t, store.Ping(ctx))
		})
	}
}

func TestRedis_WritesWithoutExpiry(t *testing.T) {
	store, server := newTestRedis(t)
	require.NoError(t, store.Set(context.Background(), "rate:ETH:USDC:1", "1800"))

	assert.Zero(t, server.TTL("rate:ETH:USDC:1"))
}

func TestRedis_SurfacesConnectionErrors(t *testing.T) {
	store, server := newTestRedis(t)
	server.Close()

	_, _, err := store.Get(context.Background(), "fee:0xabc")
	assert.Error(t, err)
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewRedis_FailsWhenUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := NewRedis(RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestLayered_FillsLocalFromShared(t *testing.T) {
	ctx := context.Background()
	local := newTestMemory(t)
	shared, _ := newTestRedis(t)
	require.NoError(t, shared.Set(ctx, "block:1620299304", "12381234"))
	layered, err := NewLayered(local, shared, writeOnce)
	require.NoError(t, err)

	value, ok, err := layered.Get(ctx, "block:1620299304")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "12381234", value)

	value, ok, err = local.Get(ctx, "block:1620299304")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12381234", value)
}

func TestLayered_ServesLocalWhenSharedIsDown(t *testing.T) {
	ctx := context.Background()
	shared, server := newTestRedis(t)
	layered, err := NewLayered(newTestMemory(t), shared, writeOnce)
	require.NoError(t, err)
	require.NoError(t, layered.Set(ctx, "fee:0x1", "1"))
	server.Close()

	value, ok, err := layered.Get(ctx, "fee:0x1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", value)
	assert.Error(t, layered.Set(ctx, "fee:0x2", "2"))
}

func TestNewLayered_RequiresKeyFilter(t *testing.T) {
	_, err := NewLayered(newTestMemory(t), newTestBadger(t), nil)
	assert.Error(t, err)
}

func TestLayered_MutableKeysStayShared(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	newProcess := func() *Layered {
		shared, err := NewRedis(RedisConfig{Addr: server.Addr()})
		require.NoError(t, err)
		layered, err := NewLayered(newTestMemory(t), shared, writeOnce)
		require.NoError(t, err)
		t.Cleanup(func() { _ = layered.Close() })
		return layered
	}
	api, scanner := newProcess(), newProcess()

	require.NoError(t, api.Set(ctx, "task:01HZ", `{"state":"PENDING"}`))
	value, _, err := api.Get(ctx, "task:01HZ")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"PENDING"}`, value)

	require.NoError(t, scanner.Set(ctx, "task:01HZ", `{"state":"SUCCESS"}`))
	value, _, err = api.Get(ctx, "task:01HZ")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"SUCCESS"}`, value)

	require.NoError(t, scanner.Set(ctx, "cursor:pool:tokentx", "500"))
	_, _, err = scanner.Get(ctx, "cursor:pool:tokentx")
	require.NoError(t, err)
	require.NoError(t, api.Set(ctx, "cursor:pool:tokentx", "0"))
	value, _, err = scanner.Get(ctx, "cursor:pool:tokentx")
	require.NoError(t, err)
	assert.Equal(t, "0", value)

	_, ok, err := scanner.local.Get(ctx, "cursor:pool:tokentx")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, api.Set(ctx, "fee:0x1", "0.756"))
	value, ok, err = api.local.Get(ctx, "fee:0x1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.756", value)
}

func TestRedis_SetMaxNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedis(t)

	require.NoError(t, store.SetMax(ctx, "cursor:k", 120))
	require.NoError(t, store.SetMax(ctx, "cursor:k", 80))
	value, err := server.Get("cursor:k")
	require.NoError(t, err)
	assert.Equal(t, "120", value)

	require.NoError(t, store.SetMax(ctx, "cursor:k", 121))
	value, err = server.Get("cursor:k")
	require.NoError(t, err)
	assert.Equal(t, "121", value)

	require.NoError(t, server.Set("cursor:bad", "garbage"))
	assert.Error(t, store.SetMax(ctx, "cursor:bad", 1))
}

func TestLayered_SetMax(t *testing.T) {
	ctx := context.Background()
	shared, server := newTestRedis(t)
	layered, err := NewLayered(newTestMemory(t), shared, writeOnce)
	require.NoError(t, err)

	require.NoError(t, layered.SetMax(ctx, "cursor:k", 7))
	value, err := server.Get("cursor:k")
	require.NoError(t, err)
	assert.Equal(t, "7", value)

	assert.True(t, errors.Is(layered.SetMax(ctx, "fee:0x1", 7), errors.ErrUnsupported))

	overBadger, err := NewLayered(newTestMemory(t), newTestBadger(t), writeOnce)
	require.NoError(t, err)
	assert.True(t, errors.Is(overBadger.SetMax(ctx, "cursor:k", 7), errors.ErrUnsupported))
}
