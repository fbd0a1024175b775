package usecase_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/usecase"
	"go.uber.org/zap"
)

func countingLoop(name string, ticks *atomic.Int64) *usecase.Loop {
	return usecase.NewLoop(name, func(context.Context) time.Duration { return 5 * time.Millisecond }, func(ctx context.Context) (any, error) {
		ticks.Add(1)
		return nil, nil
	}, zap.NewNop())
}

func TestEngines_DisabledEnginesStartPaused(t *testing.T) {
	h := newHarness(t)
	var sniperTicks, mirrorTicks atomic.Int64

	sniperCfg := domain.DefaultSniperConfig()
	sniperCfg.Enabled = true
	_, err := h.configs.UpdateSniper(h.ctx, sniperCfg)
	require.NoError(t, err)

	engines := usecase.NewEngines(h.configs, h.store, zap.NewNop(),
		countingLoop(domain.ConfigSniper, &sniperTicks),
		countingLoop(domain.ConfigMirror, &mirrorTicks))

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	require.NoError(t, engines.StartAll(ctx))
	defer engines.StopAll()

	require.Eventually(t, func() bool { return sniperTicks.Load() > 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, mirrorTicks.Load())

	require.NoError(t, engines.Enable(h.ctx, domain.ConfigMirror))
	require.Eventually(t, func() bool { return mirrorTicks.Load() > 0 }, time.Second, 5*time.Millisecond)

	cfg, err := h.configs.Mirror(h.ctx)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)

	require.NoError(t, engines.Disable(h.ctx, domain.ConfigSniper))
	l, err := engines.Loop(domain.ConfigSniper)
	require.NoError(t, err)
	assert.True(t, l.Paused())

	status, err := engines.Status(h.ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, domain.ConfigSniper, status[0].Name)
	assert.False(t, status[0].Enabled)
	assert.True(t, status[1].Enabled)
}

func TestEngines_UnknownEngine(t *testing.T) {
	h := newHarness(t)
	engines := usecase.NewEngines(h.configs, h.store, zap.NewNop())

	assert.ErrorIs(t, engines.Enable(h.ctx, "nope"), domain.ErrNotFound)
	_, err := engines.RunNow(h.ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMaintenance_PrunesOldRecords(t *testing.T) {
	h := newHarness(t)
	old := time.Now().Add(-40 * 24 * time.Hour)

	for _, id := range []string{"old-done", "old-pending"} {
		claimed, err := h.store.ClaimMirroredTrade(h.ctx, &domain.MirroredTrade{SourceTradeID: id, Symbol: "ABC", Direction: domain.DirectionBuy, CreatedAt: old})
		require.NoError(t, err)
		require.True(t, claimed)
	}
	require.NoError(t, h.store.FinishMirroredTrade(h.ctx, &domain.MirroredTrade{SourceTradeID: "old-done", Status: domain.MirrorExecuted}))
	_, err := h.store.ClaimMirroredTrade(h.ctx, &domain.MirroredTrade{SourceTradeID: "fresh", Symbol: "ABC", Direction: domain.DirectionBuy, CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, h.store.SaveDipBuyerLog(h.ctx, &domain.DipBuyerLogEntry{ID: "d1", Symbol: "ABC", Decision: domain.DipRejected, CreatedAt: old}))
	require.NoError(t, h.store.SaveDipBuyerLog(h.ctx, &domain.DipBuyerLogEntry{ID: "d2", Symbol: "ABC", Decision: domain.DipRejected, CreatedAt: time.Now()}))

	m := usecase.NewMaintenance(h.store, h.store, h.store, 30, zap.NewNop())
	res, err := m.Prune(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MirroredTrades)
	assert.Equal(t, int64(1), res.DipBuyerLog)

	require.NoError(t, m.LogStats(h.ctx))
}

func TestMaintenance_RejectsBadSpec(t *testing.T) {
	h := newHarness(t)
	m := usecase.NewMaintenance(h.store, h.store, h.store, 30, zap.NewNop())
	assert.Error(t, m.Schedule(h.ctx, "not a spec", ""))
	assert.NoError(t, m.Schedule(h.ctx, "0 0 3 * * *", "0 0 * * * *"))
}
