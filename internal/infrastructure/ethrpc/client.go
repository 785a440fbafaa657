package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"feeindex/internal/application"
	"feeindex/internal/domain"
	"feeindex/internal/infrastructure/telemetry"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "node"
	defaultTimeout = 10 * time.Second
)

type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
	tracer     trace.Tracer
}

type Config struct {
	URL     string
	Timeout time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracer:     otel.Tracer("feeindex/ethrpc"),
	}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// TransactionByHash joins the transaction with its receipt and the timestamp
// of its block. Pending and unknown transactions are reported as not found.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (domain.TransactionRecord, error) {
	ctx, span := c.tracer.Start(ctx, "ethrpc.transaction_by_hash", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("tx.hash", hash))

	record, err := c.transactionByHash(ctx, hash)
	if errors.Is(err, application.ErrTransactionNotFound) {
		telemetry.EndSpan(span, nil)
	} else {
		telemetry.EndSpan(span, err)
	}
	return record, err
}

func (c *Client) transactionByHash(ctx context.Context, hash string) (domain.TransactionRecord, error) {
	var tx *rpcTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []any{hash}, &tx); err != nil {
		return domain.TransactionRecord{}, err
	}
	if tx == nil || tx.BlockNumber == nil {
		return domain.TransactionRecord{}, fmt.Errorf("%w: %s", application.ErrTransactionNotFound, hash)
	}

	var receipt *rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &receipt); err != nil {
		return domain.TransactionRecord{}, err
	}
	if receipt == nil || receipt.GasUsed == nil {
		return domain.TransactionRecord{}, fmt.Errorf("%w: %s has no receipt", application.ErrTransactionNotFound, hash)
	}

	var block *rpcBlock
	if err := c.call(ctx, "eth_getBlockByNumber", []any{tx.BlockNumber.String(), false}, &block); err != nil {
		return domain.TransactionRecord{}, err
	}
	if block == nil || block.Timestamp == nil {
		return domain.TransactionRecord{}, c.malformed(fmt.Errorf("block %s not returned", tx.BlockNumber))
	}

	gasPrice := receipt.EffectiveGasPrice
	if gasPrice == nil {
		gasPrice = tx.GasPrice
	}
	if gasPrice == nil {
		return domain.TransactionRecord{}, c.malformed(fmt.Errorf("transaction %s has no gas price", hash))
	}

	to := ""
	if tx.To != nil {
		to = strings.ToLower(*tx.To)
	}
	return domain.TransactionRecord{
		Hash:        strings.ToLower(tx.Hash),
		BlockNumber: uint64(*tx.BlockNumber),
		Timestamp:   int64(*block.Timestamp),
		From:        strings.ToLower(tx.From),
		To:          to,
		GasPrice:    new(big.Int).Set(gasPrice.ToInt()),
		GasUsed:     new(big.Int).SetUint64(uint64(*receipt.GasUsed)),
	}, nil
}

type rpcTransaction struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          *string         `json:"to"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
}

type rpcReceipt struct {
	GasUsed           *hexutil.Uint64 `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
}

type rpcBlock struct {
	Timestamp *hexutil.Uint64 `json:"timestamp"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &application.UpstreamError{Service: serviceName, Message: method + " failed", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &application.UpstreamError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    method,
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return c.malformed(err)
	}
	if decoded.Error != nil {
		return &application.UpstreamError{
			Service: serviceName,
			Message: fmt.Sprintf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message),
		}
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return c.malformed(errors.New("rpc result is empty"))
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return c.malformed(err)
	}
	return nil
}

func (c *Client) malformed(err error) error {
	return &application.UpstreamError{Service: serviceName, Message: "malformed response", Err: err}
}
