package cryptocompare

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"feeindex/internal/application"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, status int, body string) (*Client, *[]url.Values) {
	t.Helper()
	var seen []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/v2/histominute", r.URL.Path)
		seen = append(seen, r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "secret", Base: "eth", Quote: "usdc"})
	require.NoError(t, err)
	return client, &seen
}

func TestRateAt_PicksClosestCandle(t *testing.T) {
	client, seen := newTestClient(t, http.StatusOK, `{"Response":"Success","Message":"","Data":{"Data":[
		{"time":1620299220,"open":3401.5,"close":3402},
		{"time":1620299280,"open":3405.25,"close":3409}
	]}}`)

	rate, err := client.RateAt(context.Background(), 1620299304)
	require.NoError(t, err)
	assert.Equal(t, "3405.25", rate.String())

	query := (*seen)[0]
	assert.Equal(t, "ETH", query.Get("fsym"))
	assert.Equal(t, "USDC", query.Get("tsym"))
	assert.Equal(t, "1", query.Get("limit"))
	assert.Equal(t, "1620299304", query.Get("toTs"))
	assert.Equal(t, "secret", query.Get("api_key"))
}

func TestRateAt_Classification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{
			name:   "no data status",
			status: 550,
			body:   `{}`,
			want:   application.ErrRateUnavailable,
		},
		{
			name:   "throttled status",
			status: http.StatusTooManyRequests,
			body:   `{}`,
			want:   application.ErrRateLimited,
		},
		{
			name:   "in-band rate limit",
			status: http.StatusOK,
			body:   `{"Response":"Error","Message":"You are over your rate limit please upgrade your account!","Data":{}}`,
			want:   application.ErrRateLimited,
		},
		{
			name:   "empty candles",
			status: http.StatusOK,
			body:   `{"Response":"Success","Data":{"Data":[]}}`,
			want:   application.ErrRateUnavailable,
		},
		{
			name:   "zero candle",
			status: http.StatusOK,
			body:   `{"Response":"Success","Data":{"Data":[{"time":1620299280,"open":0}]}}`,
			want:   application.ErrRateUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, tc.status, tc.body)

			rate, err := client.RateAt(context.Background(), 1620299304)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.True(t, rate.IsZero())
		})
	}
}

func TestRateAt_OtherFailuresAreUpstreamErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   int
	}{
		{name: "server error", status: http.StatusBadGateway, body: `oops`, code: http.StatusBadGateway},
		{name: "in-band error", status: http.StatusOK, body: `{"Response":"Error","Message":"fsym param is invalid"}`},
		{name: "garbage", status: http.StatusOK, body: `not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, tc.status, tc.body)

			_, err := client.RateAt(context.Background(), 1620299304)
			var upstream *application.UpstreamError
			require.True(t, errors.As(err, &upstream), "got %v", err)
			assert.Equal(t, tc.code, upstream.StatusCode)
			assert.False(t, errors.Is(err, application.ErrRateLimited))
			assert.False(t, errors.Is(err, application.ErrRateUnavailable))
		})
	}
}

func TestClosest_PrefersLaterOnTie(t *testing.T) {
	best, ok := closest([]candle{{Time: 90}, {Time: 110}}, 100)
	require.True(t, ok)
	assert.Equal(t, int64(110), best.Time)

	_, ok = closest(nil, 100)
	assert.False(t, ok)
}
