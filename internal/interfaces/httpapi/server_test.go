package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"feeindex/internal/application"
	"feeindex/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFees struct {
	fee       domain.Fee
	feeErr    error
	result    domain.RangeResult
	rangeErr  error
	lastQuery domain.RangeQuery
}

func (f *fakeFees) FeeByHash(ctx context.Context, hash string) (domain.Fee, error) {
	if f.feeErr != nil {
		return domain.Fee{}, f.feeErr
	}
	fee := f.fee
	fee.TxHash = hash
	return fee, nil
}

func (f *fakeFees) FeesByTimeRange(ctx context.Context, query domain.RangeQuery) (domain.RangeResult, error) {
	f.lastQuery = query
	return f.result, f.rangeErr
}

type fakeRates struct {
	status domain.RateStatus
}

func (f fakeRates) Rate(ctx context.Context, ts int64) (decimal.Decimal, domain.RateStatus, error) {
	if f.status.Degraded() {
		return decimal.Zero, f.status, nil
	}
	return decimal.RequireFromString("3000.5"), domain.RateOK, nil
}

func (fakeRates) Pair() (string, string) { return "ETH", "USDC" }

type fakeCursor struct{ block uint64 }

func (f fakeCursor) Cursor(ctx context.Context, action domain.ActionType) (uint64, error) {
	return f.block, nil
}

type fakeTasks struct{ tasks map[string]domain.ScanTask }

func (f *fakeTasks) Create(ctx context.Context, action domain.ActionType) (domain.ScanTask, error) {
	task := domain.ScanTask{ID: "01HZTASK", Action: action, State: domain.TaskPending}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeTasks) Get(ctx context.Context, id string) (domain.ScanTask, error) {
	if task, ok := f.tasks[id]; ok {
		return task, nil
	}
	return domain.ScanTask{ID: id, State: domain.TaskPending}, nil
}

type fakeDispatcher struct {
	dispatched []domain.ScanTask
	err        error
}

func (f *fakeDispatcher) DispatchScan(ctx context.Context, task domain.ScanTask) error {
	f.dispatched = append(f.dispatched, task)
	return f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeRPC struct{ err error }

func (f fakeRPC) LatestBlockNumber(ctx context.Context) (uint64, error) { return 17_000_000, f.err }

type fixture struct {
	fees       *fakeFees
	tasks      *fakeTasks
	dispatcher *fakeDispatcher
	deps       Deps
}

func newFixture() *fixture {
	f := &fixture{
		fees: &fakeFees{fee: domain.Fee{
			Amount: decimal.RequireFromString("12.345"),
			Status: domain.RateOK,
		}},
		tasks:      &fakeTasks{tasks: map[string]domain.ScanTask{}},
		dispatcher: &fakeDispatcher{},
	}
	f.deps = Deps{
		Fees:       f.fees,
		Rates:      fakeRates{},
		Scanner:    fakeCursor{block: 12376800},
		Tasks:      f.tasks,
		Dispatcher: f.dispatcher,
		Cache:      fakePinger{},
		RPC:        fakeRPC{},
	}
	return f
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	server, err := NewServer(f.deps, NewMetrics(), BuildInfo{Version: "test"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	body := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{}, nil, BuildInfo{})
	assert.Error(t, err)
}

func TestFeeByHash(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodGet, "/v1/fee/0xabc")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", body["tx_hash"])
	assert.Equal(t, "12.345", body["fee"])
	assert.Equal(t, "ok", body["status"])
}

func TestFeeByHash_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{
			name:   "not found",
			err:    application.ErrTransactionNotFound,
			status: http.StatusBadRequest,
			msg:    "transaction not found",
		},
		{
			name:   "not tracked pool",
			err:    &application.NotTrackedPoolError{TxHash: "0xabc", Pool: "0xpool"},
			status: http.StatusBadRequest,
			msg:    "transaction with hash: 0xabc is not a 0xpool pool transaction",
		},
		{
			name:   "upstream with status",
			err:    &application.UpstreamError{Service: "etherscan", StatusCode: 503, Message: "down"},
			status: http.StatusServiceUnavailable,
			msg:    "etherscan: status 503: down",
		},
		{
			name:   "upstream transport",
			err:    &application.UpstreamError{Service: "rpc", Message: "connection refused"},
			status: http.StatusBadGateway,
			msg:    "rpc: connection refused",
		},
		{
			name:   "internal",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			msg:    "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.fees.feeErr = tt.err
			rec, body := f.do(t, http.MethodGet, "/v1/fee/0xabc")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, body["message"])
		})
	}
}

func TestFeesByRange(t *testing.T) {
	f := newFixture()
	f.fees.result = domain.RangeResult{
		Fees: []domain.Fee{
			{TxHash: "0x01", Amount: decimal.RequireFromString("1.5"), Status: domain.RateOK},
			{TxHash: "0x02", Amount: decimal.RequireFromString("2"), Status: domain.RateOK},
		},
		LastTimestamp: 1620299400,
		Outcome:       domain.OutcomeComplete,
		StartBlock:    12376729,
		EndBlock:      12376800,
		Pages:         1,
	}

	rec, body := f.do(t, http.MethodGet, "/v1/fee?start_time=1620299304&end_time=1620299400&action_type=txlist")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RangeQuery{Start: 1620299304, End: 1620299400, Action: domain.ActionNormal}, f.fees.lastQuery)

	fees := body["fees"].([]any)
	require.Len(t, fees, 2)
	assert.Equal(t, "0x01", fees[0].(map[string]any)["tx_hash"])
	assert.Equal(t, "1.5", fees[0].(map[string]any)["fee"])
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(1620299400), body["last_timestamp"])
	assert.Equal(t, "complete", body["outcome"])
	assert.NotContains(t, body, "degraded")
}

func TestFeesByRange_DefaultsAction(t *testing.T) {
	f := newFixture()
	f.fees.result = domain.RangeResult{Fees: []domain.Fee{}, Outcome: domain.OutcomeNoTransactions}

	rec, body := f.do(t, http.MethodGet, "/v1/fee?start_time=10&end_time=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ActionTokenTransfers, f.fees.lastQuery.Action)
	assert.Equal(t, []any{}, body["fees"])
	assert.Equal(t, "no_transactions", body["outcome"])
}

func TestFeesByRange_BadParams(t *testing.T) {
	for _, target := range []string{
		"/v1/fee?end_time=20",
		"/v1/fee?start_time=abc&end_time=20",
		"/v1/fee?start_time=-1&end_time=20",
		"/v1/fee?start_time=30&end_time=20",
		"/v1/fee?start_time=10&end_time=20&action_type=swaps",
	} {
		t.Run(target, func(t *testing.T) {
			f := newFixture()
			rec, body := f.do(t, http.MethodGet, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["message"])
			assert.Zero(t, f.fees.lastQuery)
		})
	}
}

func TestFeesByRange_InvalidTimestamp(t *testing.T) {
	f := newFixture()
	f.fees.rangeErr = &application.InvalidTimestampError{Start: 1, End: 1}

	rec, body := f.do(t, http.MethodGet, "/v1/fee?start_time=1&end_time=1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid timestamp start time: 1, end time: 1", body["message"])
}

func TestRate(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodGet, "/v1/rate?timestamp=1620299304")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3000.5", body["rate"])
	assert.Equal(t, "ETH", body["base"])
	assert.Equal(t, "ok", body["status"])

	f.deps.Rates = fakeRates{status: domain.RateLimited}
	rec, body = f.do(t, http.MethodGet, "/v1/rate?timestamp=1620299304")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", body["rate"])
	assert.Equal(t, "rate_limited", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/v1/rate")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanAndStatus(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodPost, "/v1/scan?action_type=txlistinternal")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "01HZTASK", body["task_id"])
	assert.Equal(t, "PENDING", body["state"])
	require.Len(t, f.dispatcher.dispatched, 1)
	assert.Equal(t, domain.ActionInternal, f.dispatcher.dispatched[0].Action)

	rec, body = f.do(t, http.MethodGet, "/v1/status/01HZTASK")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "txlistinternal", body["action"])

	rec, body = f.do(t, http.MethodGet, "/v1/status/unknown")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", body["state"])
}

func TestScan_Errors(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/v1/scan?action_type=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.dispatcher.dispatched)

	f.dispatcher.err = application.ErrScanInProgress
	rec, _ = f.do(t, http.MethodPost, "/v1/scan")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCursor(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodGet, "/v1/scan/cursor")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(12376800), body["cursor"])
	assert.Equal(t, "tokentx", body["action"])
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.deps.Cache = fakePinger{err: errors.New("down")}
	rec, body := f.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "cache not ready", body["message"])

	f.deps.Cache = fakePinger{}
	f.deps.RPC = fakeRPC{err: errors.New("down")}
	rec, body = f.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "rpc not ready", body["message"])
}

func TestVersionAndMetrics(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", body["version"])

	server, err := NewServer(f.deps, NewMetrics(), BuildInfo{})
	require.NoError(t, err)
	handler := server.Handler()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/fee/0xabc", nil))

	metricsRec := httptest.NewRecorder()
	handler.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRec.Code)
	out := metricsRec.Body.String()
	assert.Contains(t, out, `feeindex_http_requests_total{code="200",route="fee_by_hash"} 1`)
	assert.Contains(t, out, `feeindex_lookups_total{kind="hash",outcome="ok"} 1`)
}
