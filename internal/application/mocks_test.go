package application

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"feeindex/internal/domain"

	"github.com/shopspring/decimal"
)

const testPool = "0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640"

type mockCache struct {
	mu     sync.Mutex
	values map[string]string
	gets   int
	sets   int
}

func newMockCache() *mockCache {
	return &mockCache{values: make(map[string]string)}
}

func (m *mockCache) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *mockCache) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.values[key] = value
	return nil
}

func (m *mockCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

type mockPrices struct {
	mu    sync.Mutex
	rate  decimal.Decimal
	rates map[int64]decimal.Decimal
	errs  map[int64]error
	calls int
}

func newMockPrices(rate string) *mockPrices {
	return &mockPrices{
		rate:  decimal.RequireFromString(rate),
		rates: make(map[int64]decimal.Decimal),
		errs:  make(map[int64]error),
	}
}

func (m *mockPrices) RateAt(ctx context.Context, ts int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.errs[ts]; ok {
		return decimal.Zero, err
	}
	if rate, ok := m.rates[ts]; ok {
		return rate, nil
	}
	return m.rate, nil
}

func (m *mockPrices) fail(ts int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[ts] = err
}

func (m *mockPrices) heal(ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errs, ts)
}

func (m *mockPrices) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockExplorer struct {
	blocks    map[int64]uint64
	invalid   map[int64]bool
	pages     map[int][]domain.TransactionRecord
	transfers func(query domain.PageQuery) []domain.TransactionRecord
	queries   []domain.PageQuery
	blockHits int
}

func newMockExplorer() *mockExplorer {
	return &mockExplorer{
		blocks:  make(map[int64]uint64),
		invalid: make(map[int64]bool),
		pages:   make(map[int][]domain.TransactionRecord),
	}
}

func (m *mockExplorer) BlockNumberByTime(ctx context.Context, ts int64) (uint64, error) {
	m.blockHits++
	if m.invalid[ts] {
		return 0, ErrInvalidTimestamp
	}
	if block, ok := m.blocks[ts]; ok {
		return block, nil
	}
	return uint64(ts / 12), nil
}

func (m *mockExplorer) Transfers(ctx context.Context, query domain.PageQuery) ([]domain.TransactionRecord, error) {
	m.queries = append(m.queries, query)
	if m.transfers != nil {
		return m.transfers(query), nil
	}
	return m.pages[query.Page], nil
}

type mockNode struct {
	txs   map[string]domain.TransactionRecord
	calls int
}

func (m *mockNode) TransactionByHash(ctx context.Context, hash string) (domain.TransactionRecord, error) {
	m.calls++
	tx, ok := m.txs[hash]
	if !ok {
		return domain.TransactionRecord{}, ErrTransactionNotFound
	}
	return tx, nil
}

type mockPublisher struct {
	fees []domain.Fee
}

func (m *mockPublisher) PublishFees(ctx context.Context, fees []domain.Fee) error {
	m.fees = append(m.fees, fees...)
	return nil
}

func testHash(i int) string {
	return fmt.Sprintf("0x%064x", i)
}

// record builds a 20 gwei * 21000 gas transfer, 0.00042 ETH.
func record(i int, block uint64, ts int64) domain.TransactionRecord {
	return domain.TransactionRecord{
		Hash:        testHash(i),
		BlockNumber: block,
		Timestamp:   ts,
		From:        testPool,
		To:          "0x0000000000000000000000000000000000000001",
		GasPrice:    big.NewInt(20_000_000_000),
		GasUsed:     big.NewInt(21_000),
	}
}

type fixture struct {
	cache    *mockCache
	prices   *mockPrices
	explorer *mockExplorer
	node     *mockNode
	oracle   *RateOracle
	calc     *Calculator
	chain    *ChainExplorer
	service  *Service
}

func newFixture(maxFees, pageSize int) *fixture {
	f := &fixture{
		cache:    newMockCache(),
		prices:   newMockPrices("1800"),
		explorer: newMockExplorer(),
		node:     &mockNode{txs: make(map[string]domain.TransactionRecord)},
	}
	f.oracle, _ = NewRateOracle(f.prices, f.cache, nil, RateOracleConfig{Base: "ETH", Quote: "USDC"})
	f.calc, _ = NewCalculator(f.oracle)
	f.chain, _ = NewChainExplorer(f.explorer, f.cache, nil)
	nodeClient, _ := NewNodeClient(f.node, testPool)
	f.service, _ = NewService(f.cache, f.chain, nodeClient, f.calc, nil, ServiceConfig{
		PageSize: pageSize,
		MaxFees:  maxFees,
	})
	return f
}

func amounts(fees []domain.Fee) []string {
	out := make([]string, 0, len(fees))
	for _, fee := range fees {
		out = append(out, fee.Amount.String())
	}
	return out
}

func hashes(fees []domain.Fee) []string {
	out := make([]string, 0, len(fees))
	for _, fee := range fees {
		out = append(out, fee.TxHash)
	}
	return out
}
