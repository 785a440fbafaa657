// Package bootstrap wires configuration into the fee engine and its
// collaborators. Every binary builds its object graph here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"feeindex/internal/application"
	"feeindex/internal/config"
	"feeindex/internal/infrastructure/cache"
	"feeindex/internal/infrastructure/cryptocompare"
	"feeindex/internal/infrastructure/etherscan"
	"feeindex/internal/infrastructure/ethrpc"
	"feeindex/internal/infrastructure/kafka"
	"feeindex/internal/infrastructure/mysql"
	"feeindex/internal/infrastructure/sqlite"
	"feeindex/internal/interfaces/httpapi"
)

type cursorBackend interface {
	application.CursorStore
	application.CursorResetter
}

// App holds the long-lived components of one process.
type App struct {
	Config   config.Config
	Metrics  *httpapi.Metrics
	Cache    cache.Store
	RPC      *ethrpc.Client
	Oracle   *application.RateOracle
	Service  *application.Service
	Scanner  *application.Scanner
	Tasks    *application.TaskTracker
	Producer *kafka.Producer

	closers []func() error
}

// Build opens every backend named by cfg. On error, whatever was already
// opened is closed again.
func Build(cfg config.Config, metrics *httpapi.Metrics) (*App, error) {
	if metrics == nil {
		metrics = httpapi.NewMetrics()
	}
	app := &App{Config: cfg, Metrics: metrics}
	if err := app.build(); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build() error {
	cfg, metrics := a.Config, a.Metrics

	store, err := OpenCache(cfg)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	a.Cache = store
	a.closers = append(a.closers, store.Close)

	explorerClient, err := etherscan.NewClient(etherscan.Config{
		BaseURL: cfg.EtherscanURL,
		APIKey:  cfg.EtherscanAPIKey,
		Pool:    cfg.PoolAddress,
		Timeout: cfg.CallTimeout,
		Retries: cfg.CallRetries,
	})
	if err != nil {
		return err
	}
	priceClient, err := cryptocompare.NewClient(cryptocompare.Config{
		BaseURL: cfg.PriceAPIURL,
		APIKey:  cfg.PriceAPIKey,
		Base:    cfg.BaseSymbol,
		Quote:   cfg.QuoteSymbol,
		Timeout: cfg.CallTimeout,
		Retries: cfg.CallRetries,
	})
	if err != nil {
		return err
	}
	a.RPC, err = ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL, Timeout: cfg.CallTimeout})
	if err != nil {
		return err
	}

	a.Oracle, err = application.NewRateOracle(priceClient, store, metrics, application.RateOracleConfig{
		Base:  cfg.BaseSymbol,
		Quote: cfg.QuoteSymbol,
	})
	if err != nil {
		return err
	}
	calc, err := application.NewCalculator(a.Oracle)
	if err != nil {
		return err
	}
	explorer, err := application.NewChainExplorer(explorerClient, store, metrics)
	if err != nil {
		return err
	}
	node, err := application.NewNodeClient(a.RPC, cfg.PoolAddress)
	if err != nil {
		return err
	}
	a.Service, err = application.NewService(store, explorer, node, calc, metrics, application.ServiceConfig{
		Action:   cfg.ActionType,
		PageSize: cfg.PageSize,
		MaxFees:  cfg.MaxFeesPerRequest,
	})
	if err != nil {
		return err
	}

	cursors, err := a.openCursors(store)
	if err != nil {
		return fmt.Errorf("cursor store: %w", err)
	}

	var publisher application.FeePublisher
	if len(cfg.KafkaBrokers) > 0 {
		a.Producer, err = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:   cfg.KafkaBrokers,
			Pool:      cfg.PoolAddress,
			ScanTopic: cfg.KafkaScanTopic,
			FeeTopic:  cfg.KafkaFeeTopic,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.Producer.Close)
		publisher = a.Producer
	}

	a.Scanner, err = application.NewScanner(explorer, calc, store, cursors, publisher, metrics, application.ScannerConfig{
		Pool:       cfg.PoolAddress,
		StartBlock: cfg.ScanStartBlock,
		EndBlock:   cfg.ScanEndBlock,
		PageSize:   cfg.PageSize,
	})
	if err != nil {
		return err
	}
	a.Tasks, err = application.NewTaskTracker(store)
	if err != nil {
		return err
	}
	return nil
}

// OpenCache opens the configured backend. A redis backend is fronted by a
// process-local bigcache layer unless LOCAL_CACHE_MB is zero. Only write-once
// keys use that layer; task and cursor state is always read from redis.
func OpenCache(cfg config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemory(cache.MemoryConfig{MaxSizeMB: cfg.LocalCacheMB})
	case "badger":
		return cache.NewBadger(cfg.CachePath)
	case "redis", "":
		shared, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		if cfg.LocalCacheMB <= 0 {
			return shared, nil
		}
		local, err := cache.NewMemory(cache.MemoryConfig{MaxSizeMB: cfg.LocalCacheMB})
		if err != nil {
			_ = shared.Close()
			return nil, err
		}
		return cache.NewLayered(local, shared, application.WriteOnceKey)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
}

func (a *App) openCursors(store cache.Store) (cursorBackend, error) {
	switch a.Config.CursorBackend {
	case "memory":
		return application.NewMemoryCursorStore(), nil
	case "sqlite":
		cursors, err := sqlite.NewCursorStore(a.Config.StateDBDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cursors.Close)
		return cursors, nil
	case "mysql":
		cursors, err := mysql.NewCursorStore(a.Config.StateDBDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cursors.Close)
		return cursors, nil
	case "cache", "":
		return application.NewCacheCursorStore(store)
	default:
		return nil, fmt.Errorf("unsupported cursor backend %q", a.Config.CursorBackend)
	}
}

// Dispatcher returns the kafka producer when brokers are configured and an
// in-process dispatcher bound to ctx otherwise.
func (a *App) Dispatcher(ctx context.Context) (application.ScanDispatcher, error) {
	if a.Producer != nil {
		return a.Producer, nil
	}
	slog.Info("no kafka brokers configured, scans run in process")
	return application.NewLocalDispatcher(ctx, a.Scanner, a.Tasks)
}

func (a *App) HTTPDeps(dispatcher application.ScanDispatcher) httpapi.Deps {
	return httpapi.Deps{
		Fees:       a.Service,
		Rates:      a.Oracle,
		Scanner:    a.Scanner,
		Tasks:      a.Tasks,
		Dispatcher: dispatcher,
		Cache:      a.Cache,
		RPC:        a.RPC,
		Action:     a.Config.ActionType,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
