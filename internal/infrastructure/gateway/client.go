package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/vitos/coin_autopilot/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Client talks to the market REST API. It implements domain.MarketGateway.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	group   singleflight.Group
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// APIError is a non-retryable rejection from the market API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market api %d: %s", e.Status, e.Message)
}

func (c *Client) sendRequest(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := method + " " + strings.SplitN(path, "?", 2)[0]
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &domain.TransientError{Op: op, Err: &APIError{Status: resp.StatusCode, Message: errorMessage(respBody)}}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case resp.StatusCode >= 400:
		return &APIError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

type coinWire struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	CreatorID    string    `json:"creatorId"`
	CurrentPrice float64   `json:"currentPrice"`
	MarketCap    float64   `json:"marketCap"`
	Volume24h    float64   `json:"volume24h"`
	PoolBase     float64   `json:"poolBaseCurrencyAmount"`
	Change24h    float64   `json:"change24h"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = strings.ToUpper(symbol)
	v, err, _ := c.group.Do("quote:"+symbol, func() (any, error) {
		var resp struct {
			Coin coinWire `json:"coin"`
		}
		if err := c.sendRequest(ctx, http.MethodGet, "/api/v1/coin/"+url.PathEscape(symbol), nil, &resp); err != nil {
			return nil, err
		}
		w := resp.Coin
		if w.CurrentPrice <= 0 {
			return nil, fmt.Errorf("quote %s: %w: non-positive price", symbol, domain.ErrDataInconsistency)
		}
		return &domain.Quote{
			Symbol:       w.Symbol,
			Name:         w.Name,
			Price:        w.CurrentPrice,
			MarketCap:    w.MarketCap,
			Volume24h:    w.Volume24h,
			PoolDepth:    w.PoolBase,
			Change24hPct: w.Change24h,
			CreatorID:    w.CreatorID,
			CreatedAt:    w.CreatedAt,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	q := *v.(*domain.Quote)
	return &q, nil
}

func (c *Client) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	v, err, _ := c.group.Do("holdings", func() (any, error) {
		var resp struct {
			Coins []struct {
				Symbol           string  `json:"symbol"`
				Quantity         float64 `json:"quantity"`
				AvgPurchasePrice float64 `json:"avgPurchasePrice"`
				CurrentPrice     float64 `json:"currentPrice"`
				Value            float64 `json:"value"`
			} `json:"coinHoldings"`
		}
		if err := c.sendRequest(ctx, http.MethodGet, "/api/v1/portfolio", nil, &resp); err != nil {
			return nil, err
		}
		out := make([]domain.Holding, 0, len(resp.Coins))
		for _, h := range resp.Coins {
			out = append(out, domain.Holding{
				Symbol:           h.Symbol,
				Quantity:         h.Quantity,
				AvgPurchasePrice: h.AvgPurchasePrice,
				CurrentPrice:     h.CurrentPrice,
				CostBasis:        h.Quantity * h.AvgPurchasePrice,
				Value:            h.Value,
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]domain.Holding)
	return append([]domain.Holding(nil), shared...), nil
}

func (c *Client) GetNewListings(ctx context.Context, cursor string) ([]domain.Coin, string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp struct {
		Coins []struct {
			coinWire
			Liquidity float64 `json:"liquidity"`
		} `json:"coins"`
		NextCursor string `json:"nextCursor"`
	}
	if err := c.sendRequest(ctx, http.MethodGet, withQuery("/api/v1/market/new", q), nil, &resp); err != nil {
		return nil, "", err
	}
	out := make([]domain.Coin, 0, len(resp.Coins))
	for _, w := range resp.Coins {
		liq := w.Liquidity
		if liq == 0 {
			liq = w.PoolBase
		}
		out = append(out, domain.Coin{
			Symbol:       w.Symbol,
			Name:         w.Name,
			CreatorID:    w.CreatorID,
			Price:        w.CurrentPrice,
			MarketCapUsd: w.MarketCap,
			LiquidityUsd: liq,
			CreatedAt:    w.CreatedAt,
		})
	}
	next := resp.NextCursor
	if next == "" {
		next = cursor
	}
	return out, next, nil
}

func (c *Client) GetRecentTrades(ctx context.Context, accountID, cursor string) ([]domain.Trade, string, error) {
	q := url.Values{}
	if accountID != "" {
		q.Set("account", accountID)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp struct {
		Trades []struct {
			ID         string    `json:"id"`
			UserID     string    `json:"userId"`
			Symbol     string    `json:"coinSymbol"`
			CoinName   string    `json:"coinName"`
			Type       string    `json:"type"`
			Amount     float64   `json:"amount"`
			Price      float64   `json:"price"`
			TotalValue float64   `json:"totalValue"`
			Timestamp  time.Time `json:"timestamp"`
		} `json:"trades"`
		NextCursor string `json:"nextCursor"`
	}
	if err := c.sendRequest(ctx, http.MethodGet, withQuery("/api/v1/trades", q), nil, &resp); err != nil {
		return nil, "", err
	}
	out := make([]domain.Trade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		dir := domain.Direction(strings.ToUpper(t.Type))
		if !dir.Valid() {
			continue
		}
		out = append(out, domain.Trade{
			ID:         t.ID,
			AccountID:  t.UserID,
			Symbol:     t.Symbol,
			CoinName:   t.CoinName,
			Direction:  dir,
			CoinAmount: t.Amount,
			Price:      t.Price,
			UsdValue:   t.TotalValue,
			Timestamp:  t.Timestamp,
		})
	}
	next := resp.NextCursor
	if next == "" {
		next = cursor
	}
	return out, next, nil
}

func (c *Client) GetTopHolders(ctx context.Context, symbol string, limit int) ([]domain.HolderShare, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var resp struct {
		Holders []struct {
			UserID     string  `json:"userId"`
			Percentage float64 `json:"percentage"`
			Quantity   float64 `json:"quantity"`
		} `json:"holders"`
	}
	path := withQuery("/api/v1/coin/"+url.PathEscape(strings.ToUpper(symbol))+"/holders", q)
	if err := c.sendRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.HolderShare, 0, len(resp.Holders))
	for _, h := range resp.Holders {
		out = append(out, domain.HolderShare{AccountID: h.UserID, Percentage: h.Percentage, Quantity: h.Quantity})
	}
	return out, nil
}

func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	var resp struct {
		Candles []domain.Candle `json:"candlestickData"`
	}
	path := withQuery("/api/v1/coin/"+url.PathEscape(strings.ToUpper(symbol))+"/candles", q)
	if err := c.sendRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Candles, nil
}

func (c *Client) SubmitTrade(ctx context.Context, symbol string, direction domain.Direction, amount float64) (*domain.TradeResult, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid direction %q", direction)
	}
	if amount <= 0 {
		return nil, errors.New("trade amount must be positive")
	}
	payload := map[string]any{
		"type":   string(direction),
		"amount": amount,
	}
	var resp struct {
		Success  bool    `json:"success"`
		Type     string  `json:"type"`
		CoinName string  `json:"coinName"`
		Amount   float64 `json:"amount"`
		Price    float64 `json:"price"`
		Total    float64 `json:"totalCost"`
		Proceeds float64 `json:"totalReceived"`
		NewPrice float64 `json:"newPrice"`
		Message  string  `json:"message"`
	}
	path := "/api/v1/trade/" + url.PathEscape(strings.ToUpper(symbol))
	if err := c.sendRequest(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Status: http.StatusOK, Message: resp.Message}
	}
	usd := resp.Total
	if direction == domain.DirectionSell {
		usd = resp.Proceeds
	}
	if usd == 0 {
		usd = resp.Amount * resp.Price
	}
	return &domain.TradeResult{
		Symbol:     strings.ToUpper(symbol),
		CoinName:   resp.CoinName,
		Direction:  direction,
		CoinAmount: resp.Amount,
		Price:      resp.Price,
		UsdValue:   usd,
		NewPrice:   resp.NewPrice,
	}, nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
