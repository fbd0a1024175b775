package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/infrastructure/storage"
	"github.com/vitos/coin_autopilot/internal/usecase"
	"go.uber.org/zap"
)

type submitCall struct {
	Symbol    string
	Direction domain.Direction
	Amount    float64
}

// fakeGateway is an in-memory market. Submitted trades fill at the quoted price and update holdings.
type fakeGateway struct {
	mu          sync.Mutex
	quotes      map[string]*domain.Quote
	holdings    []domain.Holding
	holdingsErr error
	listings    []domain.Coin
	trades      map[string][]domain.Trade
	tradesErr   error
	holders     map[string][]domain.HolderShare
	candles     map[string][]domain.Candle
	submitErrs  []error
	submits     []submitCall
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		quotes:  map[string]*domain.Quote{},
		trades:  map[string][]domain.Trade{},
		holders: map[string][]domain.HolderShare{},
		candles: map[string][]domain.Candle{},
	}
}

func (g *fakeGateway) setQuote(q domain.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[q.Symbol] = &q
}

func (g *fakeGateway) setPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.quotes[symbol]
	if !ok {
		q = &domain.Quote{Symbol: symbol}
		g.quotes[symbol] = q
	}
	q.Price = price
}

func (g *fakeGateway) hold(symbol string, qty, avg, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holdings = append(g.holdings, domain.Holding{
		Symbol:           symbol,
		Quantity:         qty,
		AvgPurchasePrice: avg,
		CurrentPrice:     price,
		CostBasis:        qty * avg,
		Value:            qty * price,
	})
}

func (g *fakeGateway) failNextSubmits(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErrs = append(g.submitErrs, errs...)
}

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

func (g *fakeGateway) lastSubmit() submitCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits[len(g.submits)-1]
}

func (g *fakeGateway) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.quotes[symbol]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (g *fakeGateway) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holdingsErr != nil {
		return nil, g.holdingsErr
	}
	out := make([]domain.Holding, len(g.holdings))
	copy(out, g.holdings)
	return out, nil
}

func (g *fakeGateway) GetNewListings(ctx context.Context, cursor string) ([]domain.Coin, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Coin(nil), g.listings...), "next", nil
}

func (g *fakeGateway) GetRecentTrades(ctx context.Context, accountID, cursor string) ([]domain.Trade, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tradesErr != nil {
		return nil, cursor, g.tradesErr
	}
	return append([]domain.Trade(nil), g.trades[accountID]...), "next", nil
}

func (g *fakeGateway) GetTopHolders(ctx context.Context, symbol string, limit int) ([]domain.HolderShare, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.holders[symbol]
	if !ok {
		return nil, &domain.TransientError{Op: "holders", Err: domain.ErrNotFound}
	}
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (g *fakeGateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.candles[symbol], nil
}

func (g *fakeGateway) SubmitTrade(ctx context.Context, symbol string, direction domain.Direction, amount float64) (*domain.TradeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, submitCall{Symbol: symbol, Direction: direction, Amount: amount})
	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		return nil, err
	}

	price := 1.0
	if q, ok := g.quotes[symbol]; ok && q.Price > 0 {
		price = q.Price
	}
	res := &domain.TradeResult{Symbol: symbol, Direction: direction, Price: price, NewPrice: price}
	if direction == domain.DirectionBuy {
		res.UsdValue = amount
		res.CoinAmount = amount / price
	} else {
		res.CoinAmount = amount
		res.UsdValue = amount * price
	}
	g.applyFill(symbol, direction, res.CoinAmount, price)
	return res, nil
}

func (g *fakeGateway) applyFill(symbol string, direction domain.Direction, qty, price float64) {
	for i := range g.holdings {
		if g.holdings[i].Symbol != symbol {
			continue
		}
		if direction == domain.DirectionBuy {
			g.holdings[i].ApplyBuy(qty, price)
			return
		}
		g.holdings[i].ApplySell(qty, price)
		if g.holdings[i].Quantity <= 0 {
			g.holdings = append(g.holdings[:i], g.holdings[i+1:]...)
		}
		return
	}
	if direction == domain.DirectionBuy {
		h := domain.Holding{Symbol: symbol}
		h.ApplyBuy(qty, price)
		g.holdings = append(g.holdings, h)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	// onPublish, when set, runs after the event is recorded.
	onPublish func(domain.Event)
}

func (p *recordingPublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	hook := p.onPublish
	p.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (p *recordingPublisher) setHook(fn func(domain.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPublish = fn
}

func (p *recordingPublisher) ofType(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	ctx       context.Context
	store     *storage.SQLiteStore
	gw        *fakeGateway
	pub       *recordingPublisher
	configs   *usecase.ConfigService
	portfolio *usecase.PortfolioView
	executor  *usecase.TradeExecutor
	gate      *usecase.RiskGate
	sentinels *usecase.SentinelService
}

// newHarness wires the services against an in-memory store with no rate limit and no retries.
func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	h := &harness{
		ctx:   context.Background(),
		store: store,
		gw:    newFakeGateway(),
		pub:   &recordingPublisher{},
	}
	h.configs = usecase.NewConfigService(store, logger)
	h.portfolio = usecase.NewPortfolioView(h.gw, logger)
	h.executor = usecase.NewTradeExecutor(h.gw, store, h.portfolio, h.pub, logger)
	h.gate = usecase.NewRiskGate(h.configs, store, h.executor, logger)
	h.sentinels = usecase.NewSentinelService(h.configs, store, h.gw, h.portfolio, h.gate, h.pub, logger)

	h.setLimits(t, domain.RiskLimits{})
	return h
}

func (h *harness) setLimits(t *testing.T, limits domain.RiskLimits) {
	t.Helper()
	_, err := h.configs.UpdateRiskLimits(h.ctx, limits)
	require.NoError(t, err)
}

func (h *harness) record(t *testing.T, symbol string, dir domain.Direction, usd float64, at time.Time, source string) {
	t.Helper()
	require.NoError(t, h.store.RecordTrade(h.ctx, &domain.TransactionRecord{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		TradeType:  domain.TradeType(dir),
		CoinAmount: usd,
		Price:      1,
		UsdValue:   usd,
		Timestamp:  at,
		Source:     source,
	}))
}

func buy(symbol string, usd float64) domain.TradeRequest {
	return domain.TradeRequest{
		Symbol:    symbol,
		Direction: domain.DirectionBuy,
		Amount:    usd,
		UsdValue:  usd,
		Source:    domain.SourceManual,
	}
}
