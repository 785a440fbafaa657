package config

import (
	"testing"
	"time"

	"feeindex/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(EnvMap{"RPC_URL": "http://node:8545"})
	require.NoError(t, err)

	assert.Equal(t, DefaultPoolAddress, cfg.PoolAddress)
	assert.Equal(t, "ETH", cfg.BaseSymbol)
	assert.Equal(t, "USDC", cfg.QuoteSymbol)
	assert.Equal(t, domain.ActionTokenTransfers, cfg.ActionType)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 500, cfg.MaxFeesPerRequest)
	assert.Equal(t, uint64(DefaultScanStartBlock), cfg.ScanStartBlock)
	assert.Equal(t, uint64(DefaultScanEndBlock), cfg.ScanEndBlock)
	assert.Equal(t, 10*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.Equal(t, "cache", cfg.CursorBackend)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(EnvMap{
		"RPC_URL":              "http://node:8545",
		"POOL_ADDRESS":         "0x8AD599C3A0FF1DE082011EFDDC58F1908EB6E6D8",
		"ACTION_TYPE":          "txlist",
		"PAGE_SIZE":            "50",
		"MAX_FEES_PER_REQUEST": "200",
		"SCAN_INTERVAL":        "30s",
		"KAFKA_BROKERS":        " kafka-1:9092, ,kafka-2:9092 ",
		"CURSOR_BACKEND":       "sqlite",
		"STATE_DB_DSN":         "data/state.db",
		"QUOTE_SYMBOL":         "usdt",
	})
	require.NoError(t, err)

	assert.Equal(t, "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8", cfg.PoolAddress)
	assert.Equal(t, domain.ActionNormal, cfg.ActionType)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 200, cfg.MaxFeesPerRequest)
	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "USDT", cfg.QuoteSymbol)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]EnvMap{
		"missing rpc":        {},
		"bad pool":           {"RPC_URL": "x", "POOL_ADDRESS": "pool"},
		"bad action":         {"RPC_URL": "x", "ACTION_TYPE": "balance"},
		"bad page size":      {"RPC_URL": "x", "PAGE_SIZE": "ten"},
		"zero cap":           {"RPC_URL": "x", "MAX_FEES_PER_REQUEST": "0"},
		"inverted window":    {"RPC_URL": "x", "SCAN_START_BLOCK": "10", "SCAN_END_BLOCK": "5"},
		"bad interval":       {"RPC_URL": "x", "SCAN_INTERVAL": "soon"},
		"bad cache backend":  {"RPC_URL": "x", "CACHE_BACKEND": "memcached"},
		"mysql without dsn":  {"RPC_URL": "x", "CURSOR_BACKEND": "mysql"},
		"bad cursor backend": {"RPC_URL": "x", "CURSOR_BACKEND": "etcd"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(env)
			assert.Error(t, err)
		})
	}
}

func TestLoad_NilSource(t *testing.T) {
	_, err := Load(nil)
	assert.Error(t, err)
}
