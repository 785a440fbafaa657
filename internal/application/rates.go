package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"feeindex/internal/domain"

	"github.com/shopspring/decimal"
)

// RateOracle resolves historical exchange rates through the cache and the
// price-history collaborator. Only successful lookups are cached.
type RateOracle struct {
	source   PriceHistory
	cache    Cache
	observer Observer
	base     string
	quote    string
}

type RateOracleConfig struct {
	Base  string
	Quote string
}

func NewRateOracle(source PriceHistory, cache Cache, observer Observer, cfg RateOracleConfig) (*RateOracle, error) {
	if source == nil || cache == nil {
		return nil, errors.New("rate oracle dependencies must not be nil")
	}
	if cfg.Base == "" {
		cfg.Base = "ETH"
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDC"
	}
	return &RateOracle{
		source:   source,
		cache:    cache,
		observer: observerOrNoop(observer),
		base:     strings.ToUpper(cfg.Base),
		quote:    strings.ToUpper(cfg.Quote),
	}, nil
}

// Rate returns the rate at ts. Degraded outcomes come back as a zero rate
// with a non-OK status and a nil error.
func (o *RateOracle) Rate(ctx context.Context, ts int64) (decimal.Decimal, domain.RateStatus, error) {
	key := rateKey(o.base, o.quote, ts)
	if raw, ok := cacheGet(ctx, o.cache, o.observer, nsRate, key); ok {
		if rate, err := parseCachedDecimal(raw); err == nil {
			return rate, domain.RateOK, nil
		}
		slog.Warn("discarding malformed cached rate", "key", key, "value", raw)
	}

	rate, err := o.source.RateAt(ctx, ts)
	switch {
	case err == nil:
	case errors.Is(err, ErrRateUnavailable):
		slog.Error("fx rate unavailable, returning zero rate", "timestamp", ts)
		o.observer.OnDegradedRate(domain.RateUnavailable)
		return decimal.Zero, domain.RateUnavailable, nil
	case errors.Is(err, ErrRateLimited):
		slog.Error("fx rate lookup throttled, returning zero rate", "timestamp", ts)
		o.observer.OnDegradedRate(domain.RateLimited)
		return decimal.Zero, domain.RateLimited, nil
	default:
		return decimal.Zero, "", err
	}

	cacheSet(ctx, o.cache, key, rate.String())
	return rate, domain.RateOK, nil
}

// Pair returns the base and quote symbols.
func (o *RateOracle) Pair() (string, string) {
	return o.base, o.quote
}
