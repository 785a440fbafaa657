package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"feeindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

const (
	DefaultPoolAddress = "0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640"
	// Block in which the default pool was created.
	DefaultScanStartBlock = 12376729
	DefaultScanEndBlock   = 99999999
)

type Config struct {
	RPCURL          string
	EtherscanURL    string
	EtherscanAPIKey string
	PriceAPIURL     string
	PriceAPIKey     string

	PoolAddress string
	BaseSymbol  string
	QuoteSymbol string
	ActionType  domain.ActionType

	PageSize          int
	MaxFeesPerRequest int
	ScanStartBlock    uint64
	ScanEndBlock      uint64
	ScanInterval      time.Duration
	CallTimeout       time.Duration
	CallRetries       int

	HTTPAddr       string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CacheBackend   string
	CachePath      string
	LocalCacheMB   int
	CursorBackend  string
	StateDBDSN     string
	KafkaBrokers   []string
	KafkaScanTopic string
	KafkaFeeTopic  string
	KafkaGroupID   string
	OtelEndpoint   string

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

var (
	cacheBackends  = []string{"redis", "memory", "badger"}
	cursorBackends = []string{"cache", "memory", "sqlite", "mysql"}
)

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL := lookup(source, "RPC_URL", "")
	if rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	pool := strings.ToLower(lookup(source, "POOL_ADDRESS", DefaultPoolAddress))
	if !common.IsHexAddress(pool) {
		return Config{}, fmt.Errorf("invalid POOL_ADDRESS: %q", pool)
	}
	action, ok := domain.ParseActionType(lookup(source, "ACTION_TYPE", ""))
	if !ok {
		return Config{}, fmt.Errorf("invalid ACTION_TYPE: %s", action)
	}

	pageSize, err := parseIntEnv(source, "PAGE_SIZE", 100)
	if err != nil {
		return Config{}, err
	}
	maxFees, err := parseIntEnv(source, "MAX_FEES_PER_REQUEST", 500)
	if err != nil {
		return Config{}, err
	}
	if pageSize <= 0 || maxFees <= 0 {
		return Config{}, errors.New("PAGE_SIZE and MAX_FEES_PER_REQUEST must be positive")
	}
	startBlock, err := parseUintEnv(source, "SCAN_START_BLOCK", DefaultScanStartBlock)
	if err != nil {
		return Config{}, err
	}
	endBlock, err := parseUintEnv(source, "SCAN_END_BLOCK", DefaultScanEndBlock)
	if err != nil {
		return Config{}, err
	}
	if endBlock < startBlock {
		return Config{}, fmt.Errorf("SCAN_END_BLOCK %d is before SCAN_START_BLOCK %d", endBlock, startBlock)
	}
	scanInterval, err := parseDurationEnv(source, "SCAN_INTERVAL", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	callTimeout, err := parseDurationEnv(source, "CALL_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	callRetries, err := parseIntEnv(source, "CALL_RETRIES", 2)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := parseIntEnv(source, "REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	localCacheMB, err := parseIntEnv(source, "LOCAL_CACHE_MB", 64)
	if err != nil {
		return Config{}, err
	}
	logMaxSizeMB, err := parseIntEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseIntEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	cacheBackend := strings.ToLower(lookup(source, "CACHE_BACKEND", "redis"))
	if !lo.Contains(cacheBackends, cacheBackend) {
		return Config{}, fmt.Errorf("invalid CACHE_BACKEND: %s", cacheBackend)
	}
	cursorBackend := strings.ToLower(lookup(source, "CURSOR_BACKEND", "cache"))
	if !lo.Contains(cursorBackends, cursorBackend) {
		return Config{}, fmt.Errorf("invalid CURSOR_BACKEND: %s", cursorBackend)
	}
	stateDBDSN := lookup(source, "STATE_DB_DSN", "")
	if (cursorBackend == "sqlite" || cursorBackend == "mysql") && stateDBDSN == "" {
		return Config{}, fmt.Errorf("STATE_DB_DSN is required for CURSOR_BACKEND=%s", cursorBackend)
	}

	return Config{
		RPCURL:            rpcURL,
		EtherscanURL:      lookup(source, "ETHERSCAN_URL", "https://api.etherscan.io/api"),
		EtherscanAPIKey:   lookup(source, "ETHERSCAN_API_KEY", ""),
		PriceAPIURL:       lookup(source, "PRICE_API_URL", "https://min-api.cryptocompare.com"),
		PriceAPIKey:       lookup(source, "PRICE_API_KEY", ""),
		PoolAddress:       pool,
		BaseSymbol:        strings.ToUpper(lookup(source, "BASE_SYMBOL", "ETH")),
		QuoteSymbol:       strings.ToUpper(lookup(source, "QUOTE_SYMBOL", "USDC")),
		ActionType:        action,
		PageSize:          pageSize,
		MaxFeesPerRequest: maxFees,
		ScanStartBlock:    startBlock,
		ScanEndBlock:      endBlock,
		ScanInterval:      scanInterval,
		CallTimeout:       callTimeout,
		CallRetries:       callRetries,
		HTTPAddr:          lookup(source, "HTTP_ADDR", ":8080"),
		RedisAddr:         lookup(source, "REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     lookup(source, "REDIS_PASSWORD", ""),
		RedisDB:           redisDB,
		CacheBackend:      cacheBackend,
		CachePath:         lookup(source, "CACHE_PATH", "data/cache"),
		LocalCacheMB:      localCacheMB,
		CursorBackend:     cursorBackend,
		StateDBDSN:        stateDBDSN,
		KafkaBrokers:      parseList(source, "KAFKA_BROKERS"),
		KafkaScanTopic:    lookup(source, "KAFKA_SCAN_TOPIC", "feeindex-scan-requests"),
		KafkaFeeTopic:     lookup(source, "KAFKA_FEE_TOPIC", ""),
		KafkaGroupID:      lookup(source, "KAFKA_GROUP_ID", "feeindex-scanner"),
		OtelEndpoint:      lookup(source, "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:          lookup(source, "LOG_LEVEL", "info"),
		LogFormat:         lookup(source, "LOG_FORMAT", "text"),
		LogFile:           lookup(source, "LOG_FILE", ""),
		LogMaxSizeMB:      logMaxSizeMB,
		LogMaxBackups:     logMaxBackups,
	}, nil
}

// lookup returns the trimmed value of key, or defaultValue when unset or blank.
func lookup(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw := lookup(source, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseIntEnv(source EnvSource, key string, defaultValue int) (int, error) {
	raw := lookup(source, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := lookup(source, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseList(source EnvSource, key string) []string {
	raw := lookup(source, key, "")
	if raw == "" {
		return nil
	}
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}
