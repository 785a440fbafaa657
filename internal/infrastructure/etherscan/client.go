package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"feeindex/internal/application"
	"feeindex/internal/domain"
	"feeindex/internal/infrastructure/telemetry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "etherscan"
	noTransactions = "No transactions found"
	defaultTimeout = 10 * time.Second
)

type Config struct {
	BaseURL string
	APIKey  string
	Pool    string
	Timeout time.Duration
	Retries int
}

// Client talks to the Etherscan account and block modules for one pool.
type Client struct {
	http     *resty.Client
	apiKey   string
	pool     string
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("etherscan url is required")
	}
	if !common.IsHexAddress(cfg.Pool) {
		return nil, errors.New("etherscan pool address is invalid")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(250*time.Millisecond).
		SetHeader("Accept", "application/json")
	return &Client{
		http:     httpClient,
		apiKey:   cfg.APIKey,
		pool:     strings.ToLower(cfg.Pool),
		validate: validator.New(),
		tracer:   otel.Tracer("feeindex/etherscan"),
	}, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type transferRow struct {
	BlockNumber string `json:"blockNumber" validate:"required,numeric"`
	TimeStamp   string `json:"timeStamp" validate:"required,numeric"`
	Hash        string `json:"hash" validate:"required,startswith=0x"`
	From        string `json:"from" validate:"omitempty,eth_addr"`
	To          string `json:"to" validate:"omitempty,eth_addr"`
	GasPrice    string `json:"gasPrice" validate:"omitempty,numeric"`
	GasUsed     string `json:"gasUsed" validate:"required,numeric"`
}

// BlockNumberByTime returns the closest block mined at or before ts.
func (c *Client) BlockNumberByTime(ctx context.Context, ts int64) (uint64, error) {
	ctx, span := c.tracer.Start(ctx, "etherscan.getblocknobytime", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.Int64("timestamp", ts))

	block, err := c.blockNumberByTime(ctx, ts)
	telemetry.EndSpan(span, err)
	return block, err
}

func (c *Client) blockNumberByTime(ctx context.Context, ts int64) (uint64, error) {
	env, err := c.get(ctx, map[string]string{
		"module":    "block",
		"action":    "getblocknobytime",
		"timestamp": strconv.FormatInt(ts, 10),
		"closest":   "before",
	})
	if err != nil {
		return 0, err
	}

	var result string
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, c.malformed(fmt.Errorf("decode block number: %w", err))
	}
	if env.Status != "1" {
		if timestampRejected(env.Message, result) {
			return 0, fmt.Errorf("%w: %d", application.ErrInvalidTimestamp, ts)
		}
		return 0, c.rejected(env.Message, result)
	}
	if err := c.validate.Var(result, "required,numeric"); err != nil {
		return 0, c.malformed(fmt.Errorf("block number %q: %w", result, err))
	}
	return strconv.ParseUint(result, 10, 64)
}

// Answers to a block lookup for a timestamp that is malformed or outside
// the chain's history.
var timestampMarkers = []string{
	"invalid timestamp",
	"no closest block found",
}

func timestampRejected(message, result string) bool {
	text := strings.ToLower(message + " " + result)
	for _, marker := range timestampMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Transfers returns one page of the pool's account listing, ascending.
func (c *Client) Transfers(ctx context.Context, query domain.PageQuery) ([]domain.TransactionRecord, error) {
	ctx, span := c.tracer.Start(ctx, "etherscan.account_listing", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("action", string(query.Action)),
		attribute.Int64("start_block", int64(query.StartBlock)),
		attribute.Int64("end_block", int64(query.EndBlock)),
		attribute.Int("page", query.Page),
	)

	records, err := c.transfers(ctx, query)
	span.SetAttributes(attribute.Int("records", len(records)))
	telemetry.EndSpan(span, err)
	return records, err
}

func (c *Client) transfers(ctx context.Context, query domain.PageQuery) ([]domain.TransactionRecord, error) {
	action := query.Action
	if action == "" {
		action = domain.ActionTokenTransfers
	}
	env, err := c.get(ctx, map[string]string{
		"module":     "account",
		"action":     string(action),
		"address":    c.pool,
		"page":       strconv.Itoa(query.Page),
		"offset":     strconv.Itoa(query.PageSize),
		"startblock": strconv.FormatUint(query.StartBlock, 10),
		"endblock":   strconv.FormatUint(query.EndBlock, 10),
		"sort":       "asc",
	})
	if err != nil {
		return nil, err
	}

	if env.Status != "1" {
		if env.Message == noTransactions {
			return []domain.TransactionRecord{}, nil
		}
		var detail string
		_ = json.Unmarshal(env.Result, &detail)
		return nil, c.rejected(env.Message, detail)
	}

	var rows []transferRow
	if err := json.Unmarshal(env.Result, &rows); err != nil {
		return nil, c.malformed(fmt.Errorf("decode listing: %w", err))
	}
	records := make([]domain.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		record, err := c.toRecord(row)
		if err != nil {
			return nil, c.malformed(err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (c *Client) toRecord(row transferRow) (domain.TransactionRecord, error) {
	if err := c.validate.Struct(row); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("row %s: %w", row.Hash, err)
	}
	block, err := strconv.ParseUint(row.BlockNumber, 10, 64)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	ts, err := strconv.ParseInt(row.TimeStamp, 10, 64)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	gasUsed, ok := new(big.Int).SetString(row.GasUsed, 10)
	if !ok {
		return domain.TransactionRecord{}, fmt.Errorf("row %s: bad gasUsed %q", row.Hash, row.GasUsed)
	}
	// Internal transactions carry no gas price of their own.
	gasPrice := new(big.Int)
	if row.GasPrice != "" {
		if _, ok := gasPrice.SetString(row.GasPrice, 10); !ok {
			return domain.TransactionRecord{}, fmt.Errorf("row %s: bad gasPrice %q", row.Hash, row.GasPrice)
		}
	}
	return domain.TransactionRecord{
		Hash:        strings.ToLower(row.Hash),
		BlockNumber: block,
		Timestamp:   ts,
		From:        strings.ToLower(row.From),
		To:          strings.ToLower(row.To),
		GasPrice:    gasPrice,
		GasUsed:     gasUsed,
	}, nil
}

func (c *Client) get(ctx context.Context, params map[string]string) (envelope, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(params)
	if c.apiKey != "" {
		req.SetQueryParam("apikey", c.apiKey)
	}
	resp, err := req.Get("")
	if err != nil {
		return envelope{}, &application.UpstreamError{
			Service:   serviceName,
			Message:   "request failed",
			Transient: true,
			Err:       err,
		}
	}
	if resp.StatusCode() != http.StatusOK {
		return envelope{}, &application.UpstreamError{
			Service:    serviceName,
			StatusCode: resp.StatusCode(),
			Message:    strings.TrimSpace(resp.String()),
			Transient:  resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500,
		}
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return envelope{}, c.malformed(err)
	}
	if len(env.Result) == 0 {
		return envelope{}, c.malformed(errors.New("response has no result"))
	}
	return env, nil
}

// rejected maps an in-band NOTOK answer. Etherscan reports throttling with
// HTTP 200 and a "Max rate limit reached" result.
func (c *Client) rejected(message, detail string) error {
	text := strings.TrimSpace(message + ": " + detail)
	if strings.Contains(strings.ToLower(detail), "rate limit") {
		return &application.UpstreamError{
			Service:    serviceName,
			StatusCode: http.StatusTooManyRequests,
			Message:    text,
			Transient:  true,
		}
	}
	return &application.UpstreamError{Service: serviceName, Message: text}
}

func (c *Client) malformed(err error) error {
	return &application.UpstreamError{Service: serviceName, Message: "malformed response", Err: err}
}
