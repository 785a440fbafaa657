package application

import (
	"context"

	"feeindex/internal/domain"

	"github.com/shopspring/decimal"
)

// Cache is the shared key/value store. Values never expire.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// PriceHistory returns the quote closest to ts. Implementations return
// ErrRateUnavailable or ErrRateLimited for the degraded outcomes.
type PriceHistory interface {
	RateAt(ctx context.Context, ts int64) (decimal.Decimal, error)
}

// Explorer is the block-explorer collaborator. BlockNumberByTime returns
// ErrInvalidTimestamp when the explorer rejects the timestamp.
type Explorer interface {
	BlockNumberByTime(ctx context.Context, ts int64) (uint64, error)
	Transfers(ctx context.Context, query domain.PageQuery) ([]domain.TransactionRecord, error)
}

// Node is the RPC collaborator. TransactionByHash returns
// ErrTransactionNotFound for unknown hashes.
type Node interface {
	TransactionByHash(ctx context.Context, hash string) (domain.TransactionRecord, error)
}

// CursorStore persists the background scanner watermark per key.
type CursorStore interface {
	LastProcessedBlock(ctx context.Context, key string) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, key string, block uint64) error
}

// CursorResetter is implemented by cursor stores that support an operator
// reset back to the configured start block.
type CursorResetter interface {
	ClearLastProcessedBlock(ctx context.Context, key string) error
}

// FeePublisher receives fees computed by the background scanner.
type FeePublisher interface {
	PublishFees(ctx context.Context, fees []domain.Fee) error
}

// Observer receives engine events for metrics.
type Observer interface {
	OnCacheLookup(namespace string, hit bool)
	OnDegradedRate(status domain.RateStatus)
	OnScanProgress(action domain.ActionType, cursor uint64, computed int)
}

type noopObserver struct{}

func (noopObserver) OnCacheLookup(string, bool)                    {}
func (noopObserver) OnDegradedRate(domain.RateStatus)              {}
func (noopObserver) OnScanProgress(domain.ActionType, uint64, int) {}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return noopObserver{}
	}
	return o
}
