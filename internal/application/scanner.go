package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"feeindex/internal/domain"
)

type ScannerConfig struct {
	Pool       string
	StartBlock uint64
	EndBlock   uint64
	PageSize   int
}

// Scanner walks the explorer history of the pool from a persisted cursor to
// a fixed terminal block, pricing and caching every uncached transaction.
// It advances the block window itself rather than the page number.
type Scanner struct {
	explorer  *ChainExplorer
	calc      *Calculator
	cache     Cache
	cursors   CursorStore
	publisher FeePublisher
	observer  Observer
	cfg       ScannerConfig
	running   sync.Mutex
}

func NewScanner(explorer *ChainExplorer, calc *Calculator, cache Cache, cursors CursorStore, publisher FeePublisher, observer Observer, cfg ScannerConfig) (*Scanner, error) {
	if explorer == nil || calc == nil || cache == nil || cursors == nil {
		return nil, errors.New("scanner dependencies must not be nil")
	}
	if cfg.Pool == "" {
		return nil, errors.New("scanner requires a pool address")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.EndBlock == 0 {
		cfg.EndBlock = 99999999
	}
	return &Scanner{
		explorer:  explorer,
		calc:      calc,
		cache:     cache,
		cursors:   cursors,
		publisher: publisher,
		observer:  observerOrNoop(observer),
		cfg:       cfg,
	}, nil
}

// Cursor returns the block the next scan of action starts from.
func (s *Scanner) Cursor(ctx context.Context, action domain.ActionType) (uint64, error) {
	last, ok, err := s.cursors.LastProcessedBlock(ctx, cursorKey(s.cfg.Pool, action))
	if err != nil {
		return 0, err
	}
	if !ok || last < s.cfg.StartBlock {
		return s.cfg.StartBlock, nil
	}
	return last, nil
}

// ResetCursor moves the cursor of action back to the start block. It fails
// while a scan is running.
func (s *Scanner) ResetCursor(ctx context.Context, action domain.ActionType) error {
	resetter, ok := s.cursors.(CursorResetter)
	if !ok {
		return errors.New("cursor store does not support reset")
	}
	if !s.running.TryLock() {
		return ErrScanInProgress
	}
	defer s.running.Unlock()
	slog.Warn("resetting scan cursor", "action", action, "start", s.cfg.StartBlock)
	return resetter.ClearLastProcessedBlock(ctx, cursorKey(s.cfg.Pool, action))
}

// Run scans until the explorer has no records past the cursor, or until a
// price lookup is degraded. Progress is persisted after every page so a
// later Run resumes near where this one stopped.
func (s *Scanner) Run(ctx context.Context, action domain.ActionType) (domain.ScanReport, error) {
	if !s.running.TryLock() {
		return domain.ScanReport{}, ErrScanInProgress
	}
	defer s.running.Unlock()

	if action == "" {
		action = domain.ActionTokenTransfers
	}
	cursor, err := s.Cursor(ctx, action)
	if err != nil {
		return domain.ScanReport{}, err
	}
	report := domain.ScanReport{Action: action, State: domain.ScanComplete, From: cursor, Cursor: cursor}

	slog.Info("historic scan started", "action", action, "cursor", cursor, "end", s.cfg.EndBlock)
	page := 1
	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		if cursor > s.cfg.EndBlock {
			return report, nil
		}

		records, err := s.explorer.FetchPage(ctx, domain.PageQuery{
			Action:     action,
			StartBlock: cursor,
			EndBlock:   s.cfg.EndBlock,
			Page:       page,
			PageSize:   s.cfg.PageSize,
		})
		if err != nil {
			return report, err
		}
		report.Pages++
		if len(records) == 0 {
			slog.Info("finished processing all historic transactions", "action", action, "cursor", cursor)
			return report, nil
		}

		progress, err := s.processPage(ctx, records)
		report.Computed += len(progress.fees)
		report.Cached += progress.cached

		advanced := progress.ok && progress.lastBlock > cursor
		if advanced {
			if perr := s.cursors.SetLastProcessedBlock(ctx, cursorKey(s.cfg.Pool, action), progress.lastBlock); perr != nil {
				return report, perr
			}
			cursor = progress.lastBlock
			report.Cursor = cursor
		}
		s.publish(ctx, progress.fees)
		s.observer.OnScanProgress(action, cursor, len(progress.fees))

		if err != nil {
			return report, err
		}
		if progress.status.Degraded() {
			report.State = domain.ScanStopped
			report.Degraded = progress.status
			slog.Warn("historic scan stopped early", "action", action, "status", progress.status, "cursor", cursor)
			return report, nil
		}

		// A window start inside a block with more records than a page would
		// otherwise return the same page forever.
		if advanced {
			page = 1
		} else {
			page++
		}
	}
}

type pageProgress struct {
	fees      []domain.Fee
	cached    int
	lastBlock uint64
	ok        bool
	status    domain.RateStatus
}

func (s *Scanner) processPage(ctx context.Context, records []domain.TransactionRecord) (pageProgress, error) {
	progress := pageProgress{status: domain.RateOK}
	for _, record := range records {
		if _, hit := cachedFee(ctx, s.cache, s.observer, record.Hash); hit {
			progress.cached++
		} else {
			fee, err := s.calc.CalculateRecord(ctx, record)
			if err != nil {
				return progress, err
			}
			if fee.Status.Degraded() {
				progress.status = fee.Status
				return progress, nil
			}
			storeFee(ctx, s.cache, fee)
			progress.fees = append(progress.fees, fee)
		}
		progress.lastBlock = record.BlockNumber
		progress.ok = true
	}
	return progress, nil
}

func (s *Scanner) publish(ctx context.Context, fees []domain.Fee) {
	if s.publisher == nil || len(fees) == 0 {
		return
	}
	if err := s.publisher.PublishFees(ctx, fees); err != nil {
		slog.Warn("fee publish failed", "count", len(fees), "err", err)
	}
}

// Pool returns the scanned pool address.
func (s *Scanner) Pool() string {
	return strings.ToLower(s.cfg.Pool)
}
