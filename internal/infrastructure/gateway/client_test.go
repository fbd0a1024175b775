package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_autopilot/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "key-1", time.Second)
}

func TestGetQuoteDecodesCoin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/coin/ABC", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		io.WriteString(w, `{"coin":{"symbol":"ABC","name":"Abc","currentPrice":0.5,"marketCap":5000,"volume24h":900,"poolBaseCurrencyAmount":1200,"change24h":-12.5,"creatorId":"u1"}}`)
	})

	q, err := c.GetQuote(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 0.5, q.Price)
	assert.Equal(t, 1200.0, q.PoolDepth)
	assert.Equal(t, -12.5, q.Change24hPct)
	assert.Equal(t, "u1", q.CreatorID)
}

func TestServerErrorsAreTransient(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasPrefix(r.URL.Path, "/api/v1/portfolio") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetHoldings(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.True(t, domain.IsRetryable(err))

	_, _, err = c.GetNewListings(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestClientErrorsAreNotRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Insufficient balance"}`)
	})

	_, err := c.SubmitTrade(context.Background(), "ABC", domain.DirectionBuy, 10)
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Insufficient balance", apiErr.Message)
}

func TestSubmitTradeSell(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"type":"SELL"`)
		io.WriteString(w, `{"success":true,"type":"SELL","coinName":"Abc","amount":100,"price":0.4,"totalReceived":39.5,"newPrice":0.39}`)
	})

	res, err := c.SubmitTrade(context.Background(), "abc", domain.DirectionSell, 100)
	require.NoError(t, err)
	assert.Equal(t, "ABC", res.Symbol)
	assert.Equal(t, 39.5, res.UsdValue)
	assert.Equal(t, 100.0, res.CoinAmount)
}

func TestRecentTradesKeepsCursorWhenEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "whale", r.URL.Query().Get("account"))
		io.WriteString(w, `{"trades":[{"id":"t1","userId":"whale","coinSymbol":"ABC","type":"buy","amount":10,"price":2,"totalValue":20,"timestamp":"2026-01-02T15:04:05Z"},{"id":"t2","type":"transfer"}]}`)
	})

	trades, next, err := c.GetRecentTrades(context.Background(), "whale", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", next)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.DirectionBuy, trades[0].Direction)
	assert.Equal(t, 20.0, trades[0].UsdValue)
}
