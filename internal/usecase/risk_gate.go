package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const dailyWindow = 24 * time.Hour

// RiskGate is the single path to the trade executor. Submissions are serialized:
// authorization, rate limiting, retries and the record write happen under one lock.
type RiskGate struct {
	configs  *ConfigService
	trades   domain.TradeRepository
	executor *TradeExecutor
	limiter  *rate.Limiter
	logger   *zap.Logger
	mu       sync.Mutex
	now      func() time.Time
}

func NewRiskGate(configs *ConfigService, trades domain.TradeRepository, executor *TradeExecutor, logger *zap.Logger) *RiskGate {
	return &RiskGate{
		configs:  configs,
		trades:   trades,
		executor: executor,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		logger:   logger,
		now:      time.Now,
	}
}

// Authorize checks req against the current risk limits without submitting anything.
func (g *RiskGate) Authorize(ctx context.Context, req domain.TradeRequest) error {
	limits, err := g.configs.RiskLimits(ctx)
	if err != nil {
		return err
	}
	return g.authorize(ctx, limits, req)
}

func (g *RiskGate) authorize(ctx context.Context, limits domain.RiskLimits, req domain.TradeRequest) error {
	if limits.MaxPositionUsd > 0 && req.UsdValue > limits.MaxPositionUsd {
		return &domain.PolicyRejection{Reason: fmt.Sprintf("trade size $%.2f exceeds max position $%.2f", req.UsdValue, limits.MaxPositionUsd)}
	}

	now := g.now()
	if limits.MaxDailyTradesCount > 0 || limits.MaxDailyVolumeUsd > 0 {
		stats, err := g.trades.TradeStatsSince(ctx, "", "", now.Add(-dailyWindow))
		if err != nil {
			return err
		}
		if limits.MaxDailyTradesCount > 0 && stats.Count >= limits.MaxDailyTradesCount {
			return &domain.PolicyRejection{Reason: fmt.Sprintf("daily trade count %d reached limit %d", stats.Count, limits.MaxDailyTradesCount)}
		}
		if limits.MaxDailyVolumeUsd > 0 {
			volume := decimal.NewFromFloat(stats.VolumeUsd).Add(decimal.NewFromFloat(req.UsdValue))
			if volume.GreaterThan(decimal.NewFromFloat(limits.MaxDailyVolumeUsd)) {
				return &domain.PolicyRejection{Reason: fmt.Sprintf("daily volume would reach $%s, limit $%.2f", volume.StringFixed(2), limits.MaxDailyVolumeUsd)}
			}
		}
	}

	if req.Direction == domain.DirectionBuy && limits.CooldownAfterLossSecs > 0 {
		lossAt, err := g.trades.LastLossAt(ctx)
		if err != nil {
			return err
		}
		if !lossAt.IsZero() {
			until := lossAt.Add(time.Duration(limits.CooldownAfterLossSecs) * time.Second)
			if now.Before(until) {
				return &domain.PolicyRejection{Reason: fmt.Sprintf("loss cooldown active for %s", until.Sub(now).Round(time.Second))}
			}
		}
	}
	return nil
}

// Submit authorizes req, waits for the rate limiter and executes it, retrying transient failures
// with exponential backoff. Once an attempt starts it runs to completion even if ctx is cancelled.
func (g *RiskGate) Submit(ctx context.Context, req domain.TradeRequest) (*domain.TransactionRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limits, err := g.configs.RiskLimits(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.authorize(ctx, limits, req); err != nil {
		g.logger.Info("Trade rejected by risk gate",
			zap.String("symbol", req.Symbol),
			zap.String("direction", string(req.Direction)),
			zap.String("source", req.Source),
			zap.Error(err))
		return nil, err
	}

	if limits.RateLimitMs > 0 {
		g.limiter.SetLimit(rate.Every(time.Duration(limits.RateLimitMs) * time.Millisecond))
	} else {
		g.limiter.SetLimit(rate.Inf)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	delay := time.Duration(limits.RetryDelayMs) * time.Millisecond
	b := &backoff.Backoff{
		Min:    delay,
		Max:    delay << uint(limits.RetryCount),
		Factor: 2,
	}
	submitCtx := context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		rec, err := g.executor.Execute(submitCtx, req)
		if err == nil {
			return rec, nil
		}
		if !domain.IsRetryable(err) || attempt >= limits.RetryCount {
			g.executor.ReportFailure(req, err)
			return nil, err
		}

		wait := time.Duration(0)
		if delay > 0 {
			wait = b.Duration()
		}
		g.logger.Warn("Transient trade failure, retrying",
			zap.String("symbol", req.Symbol),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", limits.RetryCount),
			zap.Duration("backoff", wait),
			zap.Error(err))

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				g.executor.ReportFailure(req, err)
				return nil, fmt.Errorf("retry aborted: %w", err)
			}
		}
	}
}
