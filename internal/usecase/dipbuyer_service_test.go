package usecase_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/usecase"
	"go.uber.org/zap"
)

func newDipBuyer(t *testing.T, h *harness, cfg domain.DipBuyerConfig) *usecase.DipBuyerService {
	t.Helper()
	_, err := h.configs.UpdateDipBuyer(h.ctx, cfg)
	require.NoError(t, err)
	return usecase.NewDipBuyerService(h.configs, h.store, h.store, h.store, h.gw, h.portfolio, h.gate, h.sentinels, h.pub, zap.NewNop())
}

func dipConfig() domain.DipBuyerConfig {
	cfg := domain.DefaultDipBuyerConfig()
	cfg.Enabled = true
	cfg.UseMomentumAnalysis = false
	return cfg
}

// healthyDip sets up a liquid coin with spread-out holders and a $2000 sell from a small holder.
func healthyDip(h *harness) {
	h.gw.setQuote(domain.Quote{
		Symbol:       "DIP",
		Price:        1,
		MarketCap:    100_000,
		Volume24h:    50_000,
		PoolDepth:    10_000,
		Change24hPct: -10,
		CreatorID:    "creator",
	})
	h.gw.holders["DIP"] = []domain.HolderShare{
		{AccountID: "h1", Percentage: 4},
		{AccountID: "h2", Percentage: 4},
		{AccountID: "h3", Percentage: 4},
		{AccountID: "h4", Percentage: 4},
		{AccountID: "h5", Percentage: 4},
	}
	h.gw.trades[""] = []domain.Trade{{
		ID:        "sell-1",
		AccountID: "seller",
		Symbol:    "DIP",
		Direction: domain.DirectionSell,
		UsdValue:  2_000,
		Timestamp: time.Now(),
	}}
}

func TestDipBuyer_BuysConfidentDip(t *testing.T) {
	h := newHarness(t)
	cfg := dipConfig()
	cfg.AutoSentinel = domain.AutoSentinelConfig{AutoCreateSentinel: true, TakeProfitPct: domain.Float(30)}
	d := newDipBuyer(t, h, cfg)
	healthyDip(h)

	summary, err := d.Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"DIP"}, summary.Bought)
	require.Equal(t, 1, h.gw.submitCount())
	assert.Equal(t, 10.0, h.gw.lastSubmit().Amount)

	log, total, err := d.Log(h.ctx, domain.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	entry := log[0]
	assert.Equal(t, domain.DipBought, entry.Decision)
	assert.GreaterOrEqual(t, entry.Confidence, cfg.MinConfidenceScore)
	assert.LessOrEqual(t, entry.Confidence, 1.0)
	assert.Len(t, entry.Signals, 4)
	assert.NotEmpty(t, entry.TransactionID)

	sentinels, err := h.sentinels.List(h.ctx)
	require.NoError(t, err)
	require.Len(t, sentinels, 1)
	assert.Equal(t, domain.SourceDipBuyer, sentinels[0].Source)
	assert.Len(t, h.pub.ofType(domain.EventDipBuyerTriggered), 1)

	// The same coin is now in cooldown.
	summary, err = d.Tick(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Bought)
	assert.Equal(t, 1, summary.Rejected["coin cooldown"])
	assert.Equal(t, 1, h.gw.submitCount())
}

func TestDipBuyer_ReplayedPageDoesNotRebuy(t *testing.T) {
	h := newHarness(t)
	cfg := dipConfig()
	cfg.CooldownPerCoinSecs = 0
	d := newDipBuyer(t, h, cfg)
	healthyDip(h)
	h.gw.trades[""] = append(h.gw.trades[""], domain.Trade{
		ID:        "sell-2",
		AccountID: "seller",
		Symbol:    "DIP",
		Direction: domain.DirectionSell,
		UsdValue:  2_000,
		Timestamp: time.Now().Add(time.Second),
	})

	// Pausing after the first fill leaves the page half done, so the cursor stays.
	var once sync.Once
	h.pub.setHook(func(ev domain.Event) {
		if ev.Type == domain.EventTradeExecuted {
			once.Do(d.Loop().Pause)
		}
	})

	summary, err := d.Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"DIP"}, summary.Bought)
	assert.Contains(t, summary.Errors, "stopped before submission")
	require.Equal(t, 1, h.gw.submitCount())

	d.Loop().Resume()
	summary, err = d.Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"DIP"}, summary.Bought)
	assert.Equal(t, 1, summary.Rejected["already bought"])
	assert.Equal(t, 2, h.gw.submitCount())

	log, _, err := d.Log(h.ctx, domain.Page{})
	require.NoError(t, err)
	bought := map[string]int{}
	for _, e := range log {
		if e.Decision == domain.DipBought {
			bought[e.TradeID]++
		}
	}
	assert.Equal(t, map[string]int{"sell-1": 1, "sell-2": 1}, bought)
}

func TestDipBuyer_ScaleByConfidence(t *testing.T) {
	h := newHarness(t)
	cfg := dipConfig()
	cfg.ScaleByConfidence = true
	d := newDipBuyer(t, h, cfg)
	healthyDip(h)

	_, err := d.Tick(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.gw.submitCount())

	log, _, err := d.Log(h.ctx, domain.Page{})
	require.NoError(t, err)
	require.Len(t, log, 1)
	confidence := log[0].Confidence
	require.Less(t, confidence, 1.0)

	want := math.Floor(cfg.BuyAmountUsd*confidence*100) / 100
	assert.InDelta(t, want, h.gw.lastSubmit().Amount, 1e-9)
	assert.Less(t, h.gw.lastSubmit().Amount, cfg.BuyAmountUsd)
	assert.InDelta(t, want, log[0].BuyUsd, 1e-9)
}

func TestDipBuyer_TopHolderSellerIsHardRejected(t *testing.T) {
	h := newHarness(t)
	cfg := dipConfig()
	cfg.SkipTopNHolders = 3
	cfg.MinConfidenceScore = 0
	d := newDipBuyer(t, h, cfg)
	healthyDip(h)
	h.gw.holders["DIP"][0] = domain.HolderShare{AccountID: "seller", Percentage: 4}

	summary, err := d.Tick(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Bought)
	assert.Equal(t, 1, summary.Rejected["whale dump"])
	assert.Equal(t, 0, summary.Scored)
	assert.Equal(t, 0, h.gw.submitCount())
}

func TestDipBuyer_LowConfidenceIsLogged(t *testing.T) {
	h := newHarness(t)
	d := newDipBuyer(t, h, dipConfig())
	healthyDip(h)
	h.gw.setQuote(domain.Quote{Symbol: "DIP", Price: 1, MarketCap: 10_000_000, Volume24h: 600, PoolDepth: 1_000_000_000})
	h.gw.holders["DIP"] = []domain.HolderShare{{AccountID: "insider", Percentage: 90}}

	summary, err := d.Tick(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Bought)
	assert.Equal(t, 1, summary.Rejected["low confidence"])
	assert.Equal(t, 0, h.gw.submitCount())

	log, _, err := d.Log(h.ctx, domain.Page{})
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, domain.DipRejected, log[0].Decision)
	assert.Len(t, log[0].Signals, 4)
	assert.Less(t, log[0].Confidence, 0.6)
}

func TestDipBuyer_PreFilters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.DipBuyerConfig, *domain.Quote)
		reason string
	}{
		{"blacklisted", func(c *domain.DipBuyerConfig, _ *domain.Quote) { c.BlacklistedCoins = []string{"dip"} }, "blacklisted"},
		{"volume", func(_ *domain.DipBuyerConfig, q *domain.Quote) { q.Volume24h = 100 }, "volume too low"},
		{"market cap", func(c *domain.DipBuyerConfig, _ *domain.Quote) { c.MaxMarketCap = 50_000 }, "market cap out of range"},
		{"dumped", func(_ *domain.DipBuyerConfig, q *domain.Quote) { q.Change24hPct = -75 }, "already dumped"},
		{"slippage", func(c *domain.DipBuyerConfig, _ *domain.Quote) { c.MaxBuySlippagePct = 0.01 }, "slippage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			healthyDip(h)
			cfg := dipConfig()
			q, err := h.gw.GetQuote(h.ctx, "DIP")
			require.NoError(t, err)
			tc.mutate(&cfg, q)
			h.gw.setQuote(*q)
			d := newDipBuyer(t, h, cfg)

			summary, err := d.Tick(h.ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Rejected[tc.reason], "rejections: %v", summary.Rejected)
			assert.Equal(t, 0, h.gw.submitCount())
		})
	}
}

func TestDipBuyer_TierAndPortfolioSizing(t *testing.T) {
	h := newHarness(t)
	cfg := dipConfig()
	cfg.UseCoinTiers = true
	cfg.Tiers = []domain.CoinTier{{Name: "micro", MinMcap: 0, MaxMcap: 1_000_000, BuyAmountUsd: 25}}
	d := newDipBuyer(t, h, cfg)
	healthyDip(h)

	_, err := d.Tick(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.gw.submitCount())
	assert.Equal(t, 25.0, h.gw.lastSubmit().Amount)

	log, _, err := d.Log(h.ctx, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, "micro", log[0].Tier)

	h2 := newHarness(t)
	cfg = dipConfig()
	cfg.PortfolioAware = true
	cfg.MaxPositionPct = 10
	d2 := newDipBuyer(t, h2, cfg)
	healthyDip(h2)
	h2.gw.hold("OTHER", 100, 1, 1)
	h2.gw.hold("DIP", 5, 1, 1)

	_, err = d2.Tick(h2.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h2.gw.submitCount())
	assert.InDelta(t, 5.5, h2.gw.lastSubmit().Amount, 1e-9)
}

func TestDipBuyer_DailyBuyCap(t *testing.T) {
	h := newHarness(t)
	cfg := dipConfig()
	cfg.MaxDailyBuys = 2
	d := newDipBuyer(t, h, cfg)
	healthyDip(h)
	for i := 0; i < 2; i++ {
		h.record(t, "OTHER", domain.DirectionBuy, 10, time.Now().Add(-time.Hour), domain.SourceDipBuyer)
	}

	summary, err := d.Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rejected["daily buy cap"])
	assert.Equal(t, 0, h.gw.submitCount())
}

func TestNormalizeWeights(t *testing.T) {
	sum := func(w domain.SignalWeights) float64 {
		return w.SellImpact + w.HolderSafety + w.Momentum + w.VolumeQuality
	}

	w := usecase.NormalizeWeights(domain.SignalWeights{SellImpact: 35, HolderSafety: 25, Momentum: 20, VolumeQuality: 20}, true)
	assert.InDelta(t, 1.0, sum(w), 1e-9)
	assert.InDelta(t, 0.35, w.SellImpact, 1e-9)

	w = usecase.NormalizeWeights(domain.SignalWeights{SellImpact: 1, HolderSafety: 1, Momentum: 2}, false)
	assert.InDelta(t, 1.0, sum(w), 1e-9)
	assert.Zero(t, w.Momentum)
	assert.InDelta(t, 0.5, w.SellImpact, 1e-9)

	w = usecase.NormalizeWeights(domain.SignalWeights{}, true)
	assert.InDelta(t, 0.25, w.Momentum, 1e-9)
	assert.InDelta(t, 1.0, sum(w), 1e-9)
}

func TestScoreDip_ConfidenceStaysInRange(t *testing.T) {
	inputs := []usecase.DipSignalInput{
		{},
		{SellUsd: 1e12, PoolDepth: 1, Volume24h: 1e12, MarketCap: 1},
		{SellUsd: 100, PoolDepth: 1e6, Volume24h: 1e6, MarketCap: 1e6, UseMomentum: true},
		{SellUsd: 500, PoolDepth: 5_000, Volume24h: 100, MarketCap: 1e5, Holders: []domain.HolderShare{{AccountID: "a", Percentage: 100}}},
	}
	weights := []domain.SignalWeights{
		{},
		{SellImpact: 1e9, HolderSafety: 1e-9, Momentum: 3, VolumeQuality: 42},
		{SellImpact: 0.35, HolderSafety: 0.25, Momentum: 0.2, VolumeQuality: 0.2},
	}
	for _, in := range inputs {
		for _, w := range weights {
			c, breakdown := usecase.ScoreDip(in, w)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
			require.Len(t, breakdown, 4)
			for _, b := range breakdown {
				assert.GreaterOrEqual(t, b.Score, 0.0, b.Name)
				assert.LessOrEqual(t, b.Score, 1.0, b.Name)
			}
		}
	}
}

func TestDipSignals(t *testing.T) {
	assert.InDelta(t, 0.75, usecase.PriceDropFromSell(10_000, 10_000), 1e-9)

	score, _ := usecase.SellImpactSignal(1_000_000, 10_000)
	assert.InDelta(t, 0.5, score, 1e-9)
	score, _ = usecase.SellImpactSignal(100, 0)
	assert.Zero(t, score)

	spread := []domain.HolderShare{
		{AccountID: "a", Percentage: 4}, {AccountID: "b", Percentage: 4}, {AccountID: "c", Percentage: 4},
		{AccountID: "d", Percentage: 4}, {AccountID: "creator", Percentage: 4},
	}
	score, _ = usecase.HolderSafetySignal(spread, "creator")
	assert.InDelta(t, 1.0, score, 1e-9)
	spread[4].Percentage = 15
	score, _ = usecase.HolderSafetySignal(spread, "creator")
	assert.Less(t, score, 0.6)
	score, _ = usecase.HolderSafetySignal(nil, "")
	assert.Equal(t, 0.5, score)

	score, _ = usecase.MomentumSignal(make([]domain.Candle, 5))
	assert.Equal(t, 0.5, score)

	falling := make([]domain.Candle, 20)
	for i := range falling {
		p := 2 - float64(i)*0.05
		falling[i] = domain.Candle{Open: p + 0.05, High: p + 0.05, Low: p, Close: p}
	}
	last := &falling[len(falling)-1]
	last.Open, last.Close, last.High, last.Low = last.Close, last.Close, last.Close, last.Close-0.2
	score, _ = usecase.MomentumSignal(falling)
	assert.Greater(t, score, 0.9)

	score, _ = usecase.VolumeQualitySignal(0, 1_000, 10)
	assert.Zero(t, score)

	assert.InDelta(t, 1.0, usecase.BuySlippagePct(10, 1_000), 1e-9)
	assert.True(t, math.IsInf(usecase.BuySlippagePct(10, 0), 1))
}
