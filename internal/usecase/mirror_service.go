package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

type MirrorSummary struct {
	Accounts int      `json:"accounts"`
	Seen     int      `json:"seen"`
	Mirrored int      `json:"mirrored"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
	Skip     string   `json:"skip,omitempty"`
}

// MirrorService copies trades of tracked accounts at a scaled size.
type MirrorService struct {
	configs   *ConfigService
	repo      domain.MirrorRepository
	state     domain.EngineStateRepository
	gateway   domain.MarketGateway
	portfolio *PortfolioView
	gate      *RiskGate
	sentinels *SentinelService
	publisher domain.Publisher
	logger    *zap.Logger
	loop      *Loop
	now       func() time.Time
}

func NewMirrorService(configs *ConfigService, repo domain.MirrorRepository, state domain.EngineStateRepository, gateway domain.MarketGateway,
	portfolio *PortfolioView, gate *RiskGate, sentinels *SentinelService, publisher domain.Publisher, logger *zap.Logger) *MirrorService {
	s := &MirrorService{
		configs:   configs,
		repo:      repo,
		state:     state,
		gateway:   gateway,
		portfolio: portfolio,
		gate:      gate,
		sentinels: sentinels,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	s.loop = NewLoop(domain.ConfigMirror, s.interval, func(ctx context.Context) (any, error) {
		return s.Tick(ctx)
	}, logger)
	return s
}

func (s *MirrorService) Loop() *Loop {
	return s.loop
}

func (s *MirrorService) interval(ctx context.Context) time.Duration {
	cfg, err := s.configs.Mirror(ctx)
	if err != nil {
		return domain.DefaultMirrorConfig().Interval()
	}
	return cfg.Interval()
}

func (s *MirrorService) History(ctx context.Context, page domain.Page) ([]*domain.MirroredTrade, int, error) {
	return s.repo.ListMirroredTrades(ctx, page)
}

// MirrorSize scales a whale trade and caps it at maxTradeUsd (0 = no cap).
func MirrorSize(whaleUsd, scaleFactor, maxTradeUsd float64) float64 {
	size := whaleUsd * scaleFactor
	if maxTradeUsd > 0 {
		size = math.Min(size, maxTradeUsd)
	}
	return size
}

// Tick polls every tracked account once.
func (s *MirrorService) Tick(ctx context.Context) (*MirrorSummary, error) {
	summary := &MirrorSummary{Errors: []string{}}
	defer s.publishTick(summary)

	cfg, err := s.configs.Mirror(ctx)
	if err != nil {
		return summary, err
	}
	if !cfg.Enabled {
		summary.Skip = "disabled"
		return summary, nil
	}
	if len(cfg.TrackedAccounts) == 0 {
		summary.Skip = "no tracked accounts"
		return summary, nil
	}

	st, err := s.state.GetEngineState(ctx, domain.SourceMirror)
	if err != nil {
		return summary, err
	}
	if _, err := s.portfolio.Refresh(ctx); err != nil {
		summary.Skip = "holdings unavailable"
		summary.Errors = append(summary.Errors, err.Error())
		if errors.Is(err, domain.ErrTransient) {
			return summary, nil
		}
		return summary, err
	}

	for _, account := range cfg.TrackedAccounts {
		if s.loop.Paused() || ctx.Err() != nil {
			break
		}
		summary.Accounts++
		trades, next, err := s.gateway.GetRecentTrades(ctx, account, st.Cursors[account])
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", account, err))
			continue
		}
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) })

		complete := true
		for _, t := range trades {
			if s.loop.Paused() || ctx.Err() != nil {
				summary.Errors = append(summary.Errors, "stopped before submission")
				complete = false
				break
			}
			summary.Seen++
			status, err := s.mirror(ctx, cfg, t)
			switch status {
			case domain.MirrorExecuted:
				summary.Mirrored++
			case domain.MirrorSkipped:
				summary.Skipped++
			case domain.MirrorFailed:
				summary.Failed++
			}
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s %s: %v", account, t.ID, err))
				if errors.Is(err, domain.ErrFatal) {
					return summary, err
				}
			}
		}
		// Keep the old cursor when interrupted so the remaining trades are seen next tick.
		if complete {
			st.Cursors[account] = next
		}
	}

	st.LastRunAt = s.now()
	st.LastError = ""
	if err := s.state.SaveEngineState(ctx, st); err != nil {
		s.logger.Error("Failed to save engine state", zap.String("engine", st.Name), zap.Error(err))
	}
	return summary, nil
}

// skipReason decides whether a whale trade is copied and at what USD size.
func (s *MirrorService) skipReason(cfg domain.MirrorConfig, t domain.Trade, size float64) string {
	if cfg.MaxLatencySecs > 0 && !t.Timestamp.IsZero() && s.now().Sub(t.Timestamp) > time.Duration(cfg.MaxLatencySecs)*time.Second {
		return fmt.Sprintf("trade is older than %ds", cfg.MaxLatencySecs)
	}
	if t.Direction == domain.DirectionSell && !cfg.MirrorSells {
		return "sell mirroring disabled"
	}
	if size <= 0 || size < cfg.MinTradeUsd {
		return fmt.Sprintf("mirrored size $%.2f below minimum $%.2f", size, cfg.MinTradeUsd)
	}
	h, held := s.portfolio.Snapshot().Find(t.Symbol)
	held = held && h.Quantity > 0
	if t.Direction == domain.DirectionBuy && cfg.SkipIfAlreadyHeld && held {
		return "already held"
	}
	if t.Direction == domain.DirectionSell && !held {
		return "not held"
	}
	return ""
}

func (s *MirrorService) mirror(ctx context.Context, cfg domain.MirrorConfig, t domain.Trade) (domain.MirrorStatus, error) {
	size := MirrorSize(t.UsdValue, cfg.ScaleFactor, cfg.MaxTradeUsd)
	m := &domain.MirroredTrade{
		SourceTradeID: t.ID,
		AccountID:     t.AccountID,
		Symbol:        t.Symbol,
		Direction:     t.Direction,
		WhaleUsd:      t.UsdValue,
		MirroredUsd:   size,
		CreatedAt:     s.now(),
	}
	claimed, err := s.repo.ClaimMirroredTrade(ctx, m)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", nil
	}

	if reason := s.skipReason(cfg, t, size); reason != "" {
		m.Status, m.Reason = domain.MirrorSkipped, reason
		s.finish(ctx, m)
		return m.Status, nil
	}

	req := domain.TradeRequest{
		Symbol:    t.Symbol,
		Direction: t.Direction,
		Amount:    size,
		UsdValue:  size,
		Source:    domain.SourceMirror,
		Reason:    "mirror " + t.AccountID,
	}
	if t.Direction == domain.DirectionSell {
		h, _ := s.portfolio.Snapshot().Find(t.Symbol)
		price := t.Price
		if price <= 0 {
			price = h.CurrentPrice
		}
		qty := h.Quantity
		if price > 0 {
			qty = math.Min(size/price, h.Quantity)
		}
		req.Amount = qty
	}

	rec, err := s.gate.Submit(ctx, req)
	if err != nil {
		m.Status, m.Reason = domain.MirrorFailed, err.Error()
		if errors.Is(err, domain.ErrPolicyRejection) {
			m.Status = domain.MirrorSkipped
		}
		s.finish(ctx, m)
		return m.Status, err
	}

	m.Status, m.TransactionID, m.MirroredUsd = domain.MirrorExecuted, rec.ID, rec.UsdValue
	s.finish(ctx, m)

	spawned := false
	if t.Direction == domain.DirectionBuy {
		spawned = s.sentinels.SpawnAuto(ctx, t.Symbol, rec.Price, cfg.AutoSentinel, domain.SourceMirror)
	}
	s.logger.Info("Mirrored trade",
		zap.String("account", t.AccountID),
		zap.String("symbol", t.Symbol),
		zap.String("direction", string(t.Direction)),
		zap.Float64("whale_usd", t.UsdValue),
		zap.Float64("usd", rec.UsdValue),
		zap.Bool("sentinel", spawned))
	return m.Status, nil
}

func (s *MirrorService) finish(ctx context.Context, m *domain.MirroredTrade) {
	if err := s.repo.FinishMirroredTrade(context.WithoutCancel(ctx), m); err != nil {
		s.logger.Error("Failed to finish mirrored trade", zap.String("trade_id", m.SourceTradeID), zap.Error(err))
	}
}

func (s *MirrorService) publishTick(summary *MirrorSummary) {
	s.publisher.Publish(domain.Event{Type: domain.EventMirrorTick, At: s.now(), Payload: summary})
}
