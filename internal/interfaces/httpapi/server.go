package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"feeindex/internal/application"
	"feeindex/internal/domain"

	"github.com/shopspring/decimal"
)

type FeeService interface {
	FeeByHash(ctx context.Context, hash string) (domain.Fee, error)
	FeesByTimeRange(ctx context.Context, query domain.RangeQuery) (domain.RangeResult, error)
}

type RateService interface {
	Rate(ctx context.Context, ts int64) (decimal.Decimal, domain.RateStatus, error)
	Pair() (string, string)
}

type ScanCursor interface {
	Cursor(ctx context.Context, action domain.ActionType) (uint64, error)
}

type TaskStore interface {
	Create(ctx context.Context, action domain.ActionType) (domain.ScanTask, error)
	Get(ctx context.Context, id string) (domain.ScanTask, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Deps struct {
	Fees       FeeService
	Rates      RateService
	Scanner    ScanCursor
	Tasks      TaskStore
	Dispatcher application.ScanDispatcher
	Cache      Pinger
	RPC        RPCStatus
	Action     domain.ActionType
}

type Server struct {
	deps      Deps
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(deps Deps, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if deps.Fees == nil || deps.Rates == nil || deps.Scanner == nil || deps.Tasks == nil || deps.Dispatcher == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if deps.Action == "" {
		deps.Action = domain.ActionTokenTransfers
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{deps: deps, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.metrics.instrument(name, h))
	}
	route("GET /healthz", "healthz", s.handleHealth)
	route("GET /readyz", "readyz", s.handleReady)
	route("GET /v1/fee/{hash}", "fee_by_hash", s.handleFeeByHash)
	route("GET /v1/fee", "fees_by_range", s.handleFeesByRange)
	route("GET /v1/rate", "rate", s.handleRate)
	route("POST /v1/scan", "scan", s.handleScan)
	route("GET /v1/status/{id}", "status", s.handleStatus)
	route("GET /v1/scan/cursor", "cursor", s.handleCursor)
	route("GET /version", "version", s.handleVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.Handler())
}

// ServeMetrics exposes only the health check and the metrics endpoint, for
// processes without the fee API.
func ServeMetrics(ctx context.Context, addr string, metrics *Metrics) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return serve(ctx, addr, mux)
}

// serve runs handler on addr until ctx is done.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "cache not ready")
			return
		}
	}
	if s.deps.RPC != nil {
		if _, err := s.deps.RPC.LatestBlockNumber(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "rpc not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type feeResponse struct {
	TxHash string            `json:"tx_hash"`
	Fee    decimal.Decimal   `json:"fee"`
	Status domain.RateStatus `json:"status"`
}

func toFeeResponse(fee domain.Fee) feeResponse {
	return feeResponse{TxHash: fee.TxHash, Fee: fee.Amount, Status: fee.Status}
}

func (s *Server) handleFeeByHash(w http.ResponseWriter, r *http.Request) {
	fee, err := s.deps.Fees.FeeByHash(r.Context(), r.PathValue("hash"))
	if err != nil {
		s.metrics.OnLookup("hash", "error")
		s.respondFailure(w, err)
		return
	}
	s.metrics.OnLookup("hash", string(fee.Status))
	respondJSON(w, http.StatusOK, toFeeResponse(fee))
}

type rangeResponse struct {
	Fees          []feeResponse       `json:"fees"`
	Count         int                 `json:"count"`
	LastTimestamp int64               `json:"last_timestamp"`
	Outcome       domain.RangeOutcome `json:"outcome"`
	Degraded      domain.RateStatus   `json:"degraded,omitempty"`
	StartBlock    uint64              `json:"start_block"`
	EndBlock      uint64              `json:"end_block"`
	Pages         int                 `json:"pages"`
}

func (s *Server) handleFeesByRange(w http.ResponseWriter, r *http.Request) {
	query, err := parseRangeQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if query.Action == "" {
		query.Action = s.deps.Action
	}

	result, err := s.deps.Fees.FeesByTimeRange(r.Context(), query)
	if err != nil {
		s.metrics.OnLookup("range", "error")
		s.respondFailure(w, err)
		return
	}
	s.metrics.OnLookup("range", string(result.Outcome))

	fees := make([]feeResponse, 0, len(result.Fees))
	for _, fee := range result.Fees {
		fees = append(fees, toFeeResponse(fee))
	}
	respondJSON(w, http.StatusOK, rangeResponse{
		Fees:          fees,
		Count:         len(fees),
		LastTimestamp: result.LastTimestamp,
		Outcome:       result.Outcome,
		Degraded:      result.Degraded,
		StartBlock:    result.StartBlock,
		EndBlock:      result.EndBlock,
		Pages:         result.Pages,
	})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	ts, err := parseTimestamp(r, "timestamp")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, status, err := s.deps.Rates.Rate(r.Context(), ts)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	base, quote := s.deps.Rates.Pair()
	respondJSON(w, http.StatusOK, map[string]any{
		"timestamp": ts,
		"base":      base,
		"quote":     quote,
		"rate":      rate,
		"status":    status,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	action, err := s.parseAction(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.deps.Tasks.Create(r.Context(), action)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	if err := s.deps.Dispatcher.DispatchScan(r.Context(), task); err != nil {
		s.respondFailure(w, err)
		return
	}
	slog.Info("scan task dispatched", "task_id", task.ID, "action", action)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"task_id": task.ID,
		"state":   task.State,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	action, err := s.parseAction(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cursor, err := s.deps.Scanner.Cursor(r.Context(), action)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"action": action,
		"cursor": cursor,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

// respondFailure maps engine errors: caller mistakes are 400, collaborator
// failures carry the upstream status when there is one.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	var upstream *application.UpstreamError
	switch {
	case application.IsClientError(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrScanInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &upstream):
		s.metrics.OnUpstreamError(upstream.Service)
		status := http.StatusBadGateway
		if upstream.StatusCode >= 400 {
			status = upstream.StatusCode
		}
		slog.Warn("upstream failure", "service", upstream.Service, "status", upstream.StatusCode, "err", err)
		respondError(w, status, upstream.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		slog.Error("request failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) parseAction(r *http.Request) (domain.ActionType, error) {
	raw := r.URL.Query().Get("action_type")
	if raw == "" {
		return s.deps.Action, nil
	}
	action, ok := domain.ParseActionType(raw)
	if !ok {
		return "", errors.New("unknown action_type: " + raw)
	}
	return action, nil
}

func parseRangeQuery(r *http.Request) (domain.RangeQuery, error) {
	start, err := parseTimestamp(r, "start_time")
	if err != nil {
		return domain.RangeQuery{}, err
	}
	end, err := parseTimestamp(r, "end_time")
	if err != nil {
		return domain.RangeQuery{}, err
	}
	if end < start {
		return domain.RangeQuery{}, errors.New("start_time must not be after end_time")
	}
	raw := r.URL.Query().Get("action_type")
	action, ok := domain.ParseActionType(raw)
	if !ok {
		return domain.RangeQuery{}, errors.New("unknown action_type: " + raw)
	}
	if raw == "" {
		action = ""
	}
	return domain.RangeQuery{Start: start, End: end, Action: action}, nil
}

func parseTimestamp(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, errors.New(key + " is required")
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, errors.New("invalid " + key)
	}
	return value, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}
