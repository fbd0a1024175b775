package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/usecase"
	"go.uber.org/zap"
)

func newSniper(t *testing.T, h *harness, cfg domain.SniperConfig) *usecase.SniperService {
	t.Helper()
	_, err := h.configs.UpdateSniper(h.ctx, cfg)
	require.NoError(t, err)
	return usecase.NewSniperService(h.configs, h.store, h.store, h.store, h.gw, h.gate, h.sentinels, h.pub, zap.NewNop())
}

func sniperConfig() domain.SniperConfig {
	cfg := domain.DefaultSniperConfig()
	cfg.Enabled = true
	cfg.BuyAmountUsd = 10
	cfg.MaxMarketCapUsd = 50_000
	cfg.MaxCoinAgeSecs = 300
	return cfg
}

func TestSniper_SkipsCoinAboveMarketCap(t *testing.T) {
	h := newHarness(t)
	s := newSniper(t, h, sniperConfig())
	h.gw.listings = []domain.Coin{{Symbol: "BIG", Price: 1, MarketCapUsd: 80_000, CreatedAt: time.Now()}}

	summary, err := s.Tick(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Bought)
	require.Len(t, summary.Skipped, 1)
	assert.Contains(t, summary.Skipped[0].Reason, "market cap")
	assert.Equal(t, 0, h.gw.submitCount())

	_, total, err := s.ListSniped(h.ctx, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSniper_SkipsCoinWithoutCreationTime(t *testing.T) {
	h := newHarness(t)
	s := newSniper(t, h, sniperConfig())
	h.gw.listings = []domain.Coin{{Symbol: "ANON", Price: 1, MarketCapUsd: 10_000}}

	summary, err := s.Tick(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Bought)
	require.Len(t, summary.Skipped, 1)
	assert.Equal(t, "creation time unknown", summary.Skipped[0].Reason)
	assert.Equal(t, 0, h.gw.submitCount())
}

func TestSniper_BuysOnceAndSpawnsSentinel(t *testing.T) {
	h := newHarness(t)
	cfg := sniperConfig()
	cfg.AutoSentinel = domain.AutoSentinelConfig{AutoCreateSentinel: true, StopLossPct: domain.Float(-20)}
	s := newSniper(t, h, cfg)

	h.gw.setPrice("NEW", 0.5)
	h.gw.listings = []domain.Coin{
		{Symbol: "NEW", Name: "New Coin", Price: 0.5, MarketCapUsd: 10_000, CreatedAt: time.Now().Add(-time.Minute)},
		{Symbol: "OLD", Price: 1, MarketCapUsd: 10_000, CreatedAt: time.Now().Add(-time.Hour)},
	}

	summary, err := s.Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW"}, summary.Bought)
	assert.Equal(t, 1, h.gw.submitCount())
	assert.Equal(t, 10.0, h.gw.lastSubmit().Amount)

	sniped, total, err := s.ListSniped(h.ctx, domain.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "NEW", sniped[0].Symbol)
	assert.NotEmpty(t, sniped[0].TransactionID)

	sentinels, err := h.sentinels.List(h.ctx)
	require.NoError(t, err)
	require.Len(t, sentinels, 1)
	assert.Equal(t, 0.5, sentinels[0].EntryPrice)
	assert.Equal(t, domain.SourceSniper, sentinels[0].Source)

	events := h.pub.ofType(domain.EventSniperTriggered)
	require.Len(t, events, 1)
	assert.True(t, events[0].Payload.(domain.SniperTriggeredPayload).Sentinel)

	summary, err = s.Tick(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Bought)
	assert.Equal(t, 1, h.gw.submitCount())

	st, err := h.store.GetEngineState(h.ctx, domain.SourceSniper)
	require.NoError(t, err)
	assert.Equal(t, "next", st.Cursors["listings"])
	assert.Equal(t, int64(1), st.TradeCount)
}

func TestSniper_DailySpendCap(t *testing.T) {
	h := newHarness(t)
	cfg := sniperConfig()
	cfg.MaxDailySpendUsd = 15
	s := newSniper(t, h, cfg)

	now := time.Now()
	h.gw.listings = []domain.Coin{
		{Symbol: "AAA", Price: 1, MarketCapUsd: 1_000, CreatedAt: now},
		{Symbol: "BBB", Price: 1, MarketCapUsd: 1_000, CreatedAt: now},
	}

	summary, err := s.Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, summary.Bought)
	require.Len(t, summary.Skipped, 1)
	assert.Contains(t, summary.Skipped[0].Reason, "daily spend")
}

func TestSniper_FailedBuyReleasesClaim(t *testing.T) {
	h := newHarness(t)
	s := newSniper(t, h, sniperConfig())
	h.gw.listings = []domain.Coin{{Symbol: "AAA", Price: 1, MarketCapUsd: 1_000, CreatedAt: time.Now()}}
	h.gw.failNextSubmits(assert.AnError)

	summary, err := s.Tick(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Bought)
	assert.Len(t, summary.Errors, 1)

	summary, err = s.Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, summary.Bought)
}

func TestSniper_DisabledDoesNothing(t *testing.T) {
	h := newHarness(t)
	cfg := sniperConfig()
	cfg.Enabled = false
	s := newSniper(t, h, cfg)
	h.gw.listings = []domain.Coin{{Symbol: "AAA", Price: 1, MarketCapUsd: 1_000, CreatedAt: time.Now()}}

	summary, err := s.Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "disabled", summary.Skip)
	assert.Equal(t, 0, h.gw.submitCount())
}
