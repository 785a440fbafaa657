package application

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"feeindex/internal/domain"
)

// ChainExplorer resolves block bounds (cached) and fetches explorer pages
// (never cached).
type ChainExplorer struct {
	source   Explorer
	cache    Cache
	observer Observer
}

func NewChainExplorer(source Explorer, cache Cache, observer Observer) (*ChainExplorer, error) {
	if source == nil || cache == nil {
		return nil, errors.New("chain explorer dependencies must not be nil")
	}
	return &ChainExplorer{source: source, cache: cache, observer: observerOrNoop(observer)}, nil
}

// ResolveBlock returns the nearest block at or before ts.
func (e *ChainExplorer) ResolveBlock(ctx context.Context, ts int64) (uint64, error) {
	key := blockKey(ts)
	if raw, ok := cacheGet(ctx, e.cache, e.observer, nsBlock, key); ok {
		if block, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return block, nil
		}
		slog.Warn("discarding malformed cached block number", "key", key, "value", raw)
	}

	block, err := e.source.BlockNumberByTime(ctx, ts)
	if err != nil {
		return 0, err
	}
	cacheSet(ctx, e.cache, key, strconv.FormatUint(block, 10))
	return block, nil
}

// FetchPage issues exactly one explorer call and returns its records verbatim.
func (e *ChainExplorer) FetchPage(ctx context.Context, query domain.PageQuery) ([]domain.TransactionRecord, error) {
	return e.source.Transfers(ctx, query)
}
