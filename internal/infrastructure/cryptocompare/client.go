package cryptocompare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"feeindex/internal/application"
	"feeindex/internal/infrastructure/telemetry"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "cryptocompare"
	// statusNoData is returned by the histominute endpoint for gaps in its history.
	statusNoData     = 550
	rateLimitMessage = "rate limit"
	defaultTimeout   = 10 * time.Second
)

type Config struct {
	BaseURL string
	APIKey  string
	Base    string
	Quote   string
	Timeout time.Duration
	Retries int
}

// Client reads minute candles from the CryptoCompare histominute endpoint.
type Client struct {
	http     *resty.Client
	apiKey   string
	base     string
	quote    string
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("price api url is required")
	}
	if cfg.Base == "" || cfg.Quote == "" {
		return nil, errors.New("price pair is required")
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
		base:     strings.ToUpper(cfg.Base),
		quote:    strings.ToUpper(cfg.Quote),
		validate: validator.New(),
		tracer:   otel.Tracer("feeindex/cryptocompare"),
	}, nil
}

type histoResponse struct {
	Response string          `json:"Response" validate:"required"`
	Message  string          `json:"Message"`
	Data     json.RawMessage `json:"Data"`
}

type histoData struct {
	Data []candle `json:"Data" validate:"dive"`
}

type candle struct {
	Time int64           `json:"time" validate:"gt=0"`
	Open decimal.Decimal `json:"open"`
}

// RateAt returns the opening price of the minute candle closest to ts.
func (c *Client) RateAt(ctx context.Context, ts int64) (decimal.Decimal, error) {
	ctx, span := c.tracer.Start(ctx, "cryptocompare.histominute", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.Int64("timestamp", ts),
		attribute.String("pair", c.base+"/"+c.quote),
	)

	rate, err := c.rateAt(ctx, ts)
	if errors.Is(err, application.ErrRateUnavailable) || errors.Is(err, application.ErrRateLimited) {
		span.SetAttributes(attribute.String("degraded", err.Error()))
		telemetry.EndSpan(span, nil)
		return rate, err
	}
	telemetry.EndSpan(span, err)
	return rate, err
}

func (c *Client) rateAt(ctx context.Context, ts int64) (decimal.Decimal, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fsym":  c.base,
			"tsym":  c.quote,
			"limit": "1",
			"toTs":  strconv.FormatInt(ts, 10),
		})
	if c.apiKey != "" {
		req.SetQueryParam("api_key", c.apiKey)
	}
	resp, err := req.Get("/data/v2/histominute")
	if err != nil {
		return decimal.Zero, &application.UpstreamError{
			Service:   serviceName,
			Message:   "request failed",
			Transient: true,
			Err:       err,
		}
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case statusNoData:
		return decimal.Zero, application.ErrRateUnavailable
	case http.StatusTooManyRequests:
		return decimal.Zero, application.ErrRateLimited
	default:
		return decimal.Zero, &application.UpstreamError{
			Service:    serviceName,
			StatusCode: resp.StatusCode(),
			Message:    strings.TrimSpace(resp.String()),
			Transient:  resp.StatusCode() >= 500,
		}
	}

	var body histoResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return decimal.Zero, c.malformed(err)
	}
	if err := c.validate.Struct(body); err != nil {
		return decimal.Zero, c.malformed(err)
	}
	if body.Response != "Success" {
		if strings.Contains(strings.ToLower(body.Message), rateLimitMessage) {
			return decimal.Zero, application.ErrRateLimited
		}
		return decimal.Zero, &application.UpstreamError{Service: serviceName, Message: body.Message}
	}

	if len(body.Data) == 0 || string(body.Data) == "null" {
		return decimal.Zero, application.ErrRateUnavailable
	}
	var data histoData
	if err := json.Unmarshal(body.Data, &data); err != nil {
		return decimal.Zero, c.malformed(err)
	}
	if err := c.validate.Struct(data); err != nil {
		return decimal.Zero, c.malformed(err)
	}
	best, ok := closest(data.Data, ts)
	if !ok || !best.Open.IsPositive() {
		return decimal.Zero, application.ErrRateUnavailable
	}
	return best.Open, nil
}

// closest prefers the later candle on a tie.
func closest(candles []candle, ts int64) (candle, bool) {
	var (
		best     candle
		bestDist int64 = -1
	)
	for _, c := range candles {
		dist := c.Time - ts
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist <= bestDist {
			best, bestDist = c, dist
		}
	}
	return best, bestDist >= 0
}

func (c *Client) malformed(err error) error {
	return &application.UpstreamError{Service: serviceName, Message: fmt.Sprintf("malformed response: %v", err), Err: err}
}
