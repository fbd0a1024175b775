package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_autopilot/internal/domain"
)

func TestRiskGate_MaxPositionRejectsBeforeExecutor(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{MaxPositionUsd: 100})

	_, err := h.gate.Submit(h.ctx, buy("ABC", 150))
	require.ErrorIs(t, err, domain.ErrPolicyRejection)
	assert.Equal(t, 0, h.gw.submitCount())
	assert.Empty(t, h.pub.ofType(domain.EventTradeExecuted))

	rec, err := h.gate.Submit(h.ctx, buy("ABC", 100))
	require.NoError(t, err)
	assert.Equal(t, 100.0, rec.UsdValue)
	assert.Equal(t, domain.SourceManual, rec.Source)
}

func TestRiskGate_DailyTradeCount(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{MaxDailyTradesCount: 5})

	for i := 0; i < 5; i++ {
		_, err := h.gate.Submit(h.ctx, buy("ABC", 10))
		require.NoError(t, err, "trade %d", i+1)
	}
	_, err := h.gate.Submit(h.ctx, buy("ABC", 10))
	require.ErrorIs(t, err, domain.ErrPolicyRejection)
	assert.Equal(t, 5, h.gw.submitCount())

	var rejection *domain.PolicyRejection
	require.True(t, errors.As(err, &rejection))
	assert.Contains(t, rejection.Reason, "daily trade count")
}

func TestRiskGate_RollingWindowIgnoresOldTrades(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{MaxDailyTradesCount: 5})

	now := time.Now()
	for i := 0; i < 5; i++ {
		h.record(t, "OLD", domain.DirectionBuy, 10, now.Add(-25*time.Hour), domain.SourceSniper)
	}
	for i := 0; i < 4; i++ {
		h.record(t, "NEW", domain.DirectionBuy, 10, now.Add(-23*time.Hour), domain.SourceSniper)
	}

	_, err := h.gate.Submit(h.ctx, buy("ABC", 10))
	require.NoError(t, err)

	_, err = h.gate.Submit(h.ctx, buy("ABC", 10))
	assert.ErrorIs(t, err, domain.ErrPolicyRejection)
}

func TestRiskGate_DailyVolume(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{MaxDailyVolumeUsd: 100})

	_, err := h.gate.Submit(h.ctx, buy("ABC", 60))
	require.NoError(t, err)
	_, err = h.gate.Submit(h.ctx, buy("ABC", 50))
	require.ErrorIs(t, err, domain.ErrPolicyRejection)
	_, err = h.gate.Submit(h.ctx, buy("ABC", 40))
	require.NoError(t, err)
}

func TestRiskGate_LossCooldownBlocksOnlyBuys(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{CooldownAfterLossSecs: 3600})

	require.NoError(t, h.store.RecordTrade(h.ctx, &domain.TransactionRecord{
		ID:          "loss",
		Symbol:      "ABC",
		TradeType:   domain.TradeTypeSell,
		CoinAmount:  10,
		Price:       0.5,
		UsdValue:    5,
		Timestamp:   time.Now().Add(-time.Minute),
		Source:      domain.SourceSentinel,
		RealizedPnL: -5,
	}))

	_, err := h.gate.Submit(h.ctx, buy("XYZ", 10))
	require.ErrorIs(t, err, domain.ErrPolicyRejection)

	_, err = h.gate.Submit(h.ctx, domain.TradeRequest{
		Symbol:    "ABC",
		Direction: domain.DirectionSell,
		Amount:    1,
		UsdValue:  1,
		Source:    domain.SourceManual,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.submitCount())
}

func TestRiskGate_RateLimitSpacesSubmissionsAcrossEngines(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{RateLimitMs: 100})

	start := time.Now()
	var wg sync.WaitGroup
	for _, source := range []string{domain.SourceSniper, domain.SourceMirror, domain.SourceDipBuyer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := buy("ABC", 10)
			req.Source = source
			_, err := h.gate.Submit(h.ctx, req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// First submission is immediate, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
	assert.Equal(t, 3, h.gw.submitCount())
}

func TestRiskGate_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{RetryCount: 2, RetryDelayMs: 1})

	transient := &domain.TransientError{Op: "submit", Err: errors.New("503")}
	h.gw.failNextSubmits(transient, transient)

	rec, err := h.gate.Submit(h.ctx, buy("ABC", 10))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, h.gw.submitCount())

	events := h.pub.ofType(domain.EventTradeExecuted)
	require.Len(t, events, 1)
	assert.True(t, events[0].Payload.(domain.TradeExecutedPayload).Success)
}

func TestRiskGate_GivesUpAfterRetryCount(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{RetryCount: 2, RetryDelayMs: 1})

	transient := &domain.TransientError{Op: "submit", Err: errors.New("timeout")}
	h.gw.failNextSubmits(transient, transient, transient, transient)

	_, err := h.gate.Submit(h.ctx, buy("ABC", 10))
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 3, h.gw.submitCount())

	events := h.pub.ofType(domain.EventTradeExecuted)
	require.Len(t, events, 1)
	payload := events[0].Payload.(domain.TradeExecutedPayload)
	assert.False(t, payload.Success)
	assert.Contains(t, payload.Reason, "timeout")
}

func TestRiskGate_DoesNotRetryPermanentErrors(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{RetryCount: 3, RetryDelayMs: 1})

	h.gw.failNextSubmits(errors.New("insufficient balance"))

	_, err := h.gate.Submit(h.ctx, buy("ABC", 10))
	require.Error(t, err)
	assert.Equal(t, 1, h.gw.submitCount())
}

func TestRiskGate_CancelledContextStopsRetryWait(t *testing.T) {
	h := newHarness(t)
	h.setLimits(t, domain.RiskLimits{RetryCount: 5, RetryDelayMs: 10_000})

	transient := &domain.TransientError{Op: "submit", Err: errors.New("503")}
	h.gw.failNextSubmits(transient, transient, transient)

	ctx, cancel := context.WithTimeout(h.ctx, 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.gate.Submit(ctx, buy("ABC", 10))
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, h.gw.submitCount())
}

func TestTradeExecutor_RecordsRealizedPnL(t *testing.T) {
	h := newHarness(t)
	h.gw.hold("ABC", 100, 2, 3)
	h.gw.setPrice("ABC", 3)
	_, err := h.portfolio.Refresh(h.ctx)
	require.NoError(t, err)

	rec, err := h.executor.Execute(h.ctx, domain.TradeRequest{
		Symbol:    "ABC",
		Direction: domain.DirectionSell,
		Amount:    50,
		UsdValue:  150,
		Source:    domain.SourceManual,
	})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rec.RealizedPnL, 1e-9)

	held, ok := h.portfolio.Snapshot().Find("ABC")
	require.True(t, ok)
	assert.InDelta(t, 50.0, held.Quantity, 1e-9)

	txs, total, err := h.store.ListTransactions(h.ctx, domain.SourceManual, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, rec.ID, txs[0].ID)
}

func TestTradeExecutor_UnrecordedFillIsFatal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Close())

	_, err := h.executor.Execute(h.ctx, buy("ABC", 10))
	require.ErrorIs(t, err, domain.ErrFatal)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, 1, h.gw.submitCount())
}

func TestTradeExecutor_RejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)

	_, err := h.executor.Execute(h.ctx, buy("ABC", 0))
	assert.Error(t, err)
	_, err = h.executor.Execute(h.ctx, domain.TradeRequest{Symbol: "ABC", Direction: "HOLD", Amount: 1})
	assert.Error(t, err)
	assert.Equal(t, 0, h.gw.submitCount())
}
