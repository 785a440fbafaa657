package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"feeindex/internal/domain"
)

const (
	defaultPageSize = 100
	defaultMaxFees  = 500
)

type ServiceConfig struct {
	Action   domain.ActionType
	PageSize int
	MaxFees  int
}

// Service answers foreground fee queries: by transaction hash and over a
// time range. Invocations are independent and share only the cache.
type Service struct {
	cache    Cache
	explorer *ChainExplorer
	node     *NodeClient
	calc     *Calculator
	observer Observer
	cfg      ServiceConfig
}

func NewService(cache Cache, explorer *ChainExplorer, node *NodeClient, calc *Calculator, observer Observer, cfg ServiceConfig) (*Service, error) {
	if cache == nil || explorer == nil || node == nil || calc == nil {
		return nil, errors.New("service dependencies must not be nil")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxFees <= 0 {
		cfg.MaxFees = defaultMaxFees
	}
	if cfg.Action == "" {
		cfg.Action = domain.ActionTokenTransfers
	}
	return &Service{
		cache:    cache,
		explorer: explorer,
		node:     node,
		calc:     calc,
		observer: observerOrNoop(observer),
		cfg:      cfg,
	}, nil
}

// FeeByHash returns the fee of a single pool transaction. A degraded fee is
// returned uncached so a later call can price it.
func (s *Service) FeeByHash(ctx context.Context, hash string) (domain.Fee, error) {
	hash = strings.TrimSpace(hash)
	if !validTxHash(hash) {
		return domain.Fee{}, fmt.Errorf("%w: %q", ErrInvalidTransactionHash, hash)
	}
	if fee, ok := cachedFee(ctx, s.cache, s.observer, hash); ok {
		return fee, nil
	}

	record, err := s.node.Lookup(ctx, hash)
	if err != nil {
		return domain.Fee{}, err
	}
	if !s.node.TracksPool(record) {
		return domain.Fee{}, &NotTrackedPoolError{TxHash: hash, Pool: s.node.Pool()}
	}

	fee, err := s.calc.CalculateRecord(ctx, record)
	if err != nil {
		return domain.Fee{}, err
	}
	fee.TxHash = hash
	storeFee(ctx, s.cache, fee)
	return fee, nil
}

// FeesByTimeRange walks explorer pages for [Start, End] and returns at most
// MaxFees fees in page order. Pagination stops on the cap, on a rate-limited
// price lookup, or on a page that yields no new fees.
func (s *Service) FeesByTimeRange(ctx context.Context, query domain.RangeQuery) (domain.RangeResult, error) {
	if query.Action == "" {
		query.Action = s.cfg.Action
	}
	if _, ok := domain.ParseActionType(string(query.Action)); !ok {
		return domain.RangeResult{}, fmt.Errorf("%w: %s", ErrUnknownActionType, query.Action)
	}

	startBlock, err := s.resolveBound(ctx, query.Start, query)
	if err != nil {
		return domain.RangeResult{}, err
	}
	endBlock, err := s.resolveBound(ctx, query.End, query)
	if err != nil {
		return domain.RangeResult{}, err
	}

	result := domain.RangeResult{
		Fees:       []domain.Fee{},
		StartBlock: startBlock,
		EndBlock:   endBlock,
		Outcome:    domain.OutcomeComplete,
	}
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		records, err := s.explorer.FetchPage(ctx, domain.PageQuery{
			Action:     query.Action,
			StartBlock: startBlock,
			EndBlock:   endBlock,
			Page:       page,
			PageSize:   s.cfg.PageSize,
		})
		if err != nil {
			return domain.RangeResult{}, err
		}
		result.Pages = page
		if len(records) == 0 && page == 1 {
			result.Outcome = domain.OutcomeNoTransactions
			return result, nil
		}

		fees, status, err := s.processPage(ctx, records, seen)
		if err != nil {
			return domain.RangeResult{}, err
		}
		if len(records) > 0 {
			result.LastTimestamp = records[len(records)-1].Timestamp
		}
		result.Fees = append(result.Fees, fees...)
		if status.Degraded() {
			result.Degraded = status
		}

		if len(result.Fees) >= s.cfg.MaxFees {
			result.Fees = result.Fees[:s.cfg.MaxFees]
			result.Outcome = domain.OutcomeTruncated
			slog.Info("fee cap reached, use a separate request for the remainder",
				"fees", len(result.Fees),
				"last_timestamp", result.LastTimestamp,
			)
			return result, nil
		}
		if status == domain.RateLimited {
			result.Outcome = domain.OutcomePartial
			return result, nil
		}
		if len(fees) == 0 {
			return result, nil
		}
	}
}

func (s *Service) resolveBound(ctx context.Context, ts int64, query domain.RangeQuery) (uint64, error) {
	block, err := s.explorer.ResolveBlock(ctx, ts)
	if errors.Is(err, ErrInvalidTimestamp) {
		return 0, &InvalidTimestampError{Start: query.Start, End: query.End}
	}
	return block, err
}

// processPage prices the unseen records of one page. A degraded rate stops
// the page at that record and is returned as the page status.
func (s *Service) processPage(ctx context.Context, records []domain.TransactionRecord, seen map[string]struct{}) ([]domain.Fee, domain.RateStatus, error) {
	var fees []domain.Fee
	for _, record := range records {
		hash := strings.ToLower(record.Hash)
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}

		if fee, ok := cachedFee(ctx, s.cache, s.observer, record.Hash); ok {
			fees = append(fees, fee)
			continue
		}
		fee, err := s.calc.CalculateRecord(ctx, record)
		if err != nil {
			return nil, "", err
		}
		if fee.Status.Degraded() {
			return fees, fee.Status, nil
		}
		fees = append(fees, fee)
		storeFee(ctx, s.cache, fee)
	}
	return fees, domain.RateOK, nil
}
