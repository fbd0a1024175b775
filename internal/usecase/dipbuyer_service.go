package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	feedCursor     = "feed"
	candleInterval = "5m"
	candleLimit    = 50
	holderLookup   = 10
)

type DipBuyerSummary struct {
	Candidates int            `json:"candidates"`
	Scored     int            `json:"scored"`
	Bought     []string       `json:"bought"`
	Rejected   map[string]int `json:"rejected"`
	Errors     []string       `json:"errors"`
	Skip       string         `json:"skip,omitempty"`
}

// dipBudget tracks the rolling daily buy count and spend within a tick.
type dipBudget struct {
	buys  int
	spent decimal.Decimal
}

// DipBuyerService buys into large sells when a weighted confidence score clears the threshold.
type DipBuyerService struct {
	configs   *ConfigService
	repo      domain.DipBuyerRepository
	trades    domain.TradeRepository
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

func NewDipBuyerService(configs *ConfigService, repo domain.DipBuyerRepository, trades domain.TradeRepository, state domain.EngineStateRepository,
	gateway domain.MarketGateway, portfolio *PortfolioView, gate *RiskGate, sentinels *SentinelService, publisher domain.Publisher, logger *zap.Logger) *DipBuyerService {
	s := &DipBuyerService{
		configs:   configs,
		repo:      repo,
		trades:    trades,
		state:     state,
		gateway:   gateway,
		portfolio: portfolio,
		gate:      gate,
		sentinels: sentinels,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	s.loop = NewLoop(domain.ConfigDipBuyer, s.interval, func(ctx context.Context) (any, error) {
		return s.Tick(ctx)
	}, logger)
	return s
}

func (s *DipBuyerService) Loop() *Loop {
	return s.loop
}

func (s *DipBuyerService) interval(ctx context.Context) time.Duration {
	cfg, err := s.configs.DipBuyer(ctx)
	if err != nil {
		return domain.DefaultDipBuyerConfig().Interval()
	}
	return cfg.Interval()
}

func (s *DipBuyerService) Log(ctx context.Context, page domain.Page) ([]*domain.DipBuyerLogEntry, int, error) {
	return s.repo.ListDipBuyerLog(ctx, page)
}

// minSellFloor is the smallest sell any tier could accept; smaller sells are dropped without a quote.
func minSellFloor(cfg domain.DipBuyerConfig) float64 {
	floor := cfg.MinSellValueUsd
	if !cfg.UseCoinTiers {
		return floor
	}
	for _, t := range cfg.Tiers {
		if t.MinSellValueUsd != nil && *t.MinSellValueUsd < floor {
			floor = *t.MinSellValueUsd
		}
	}
	return floor
}

// Tick scans the global trade feed once.
func (s *DipBuyerService) Tick(ctx context.Context) (*DipBuyerSummary, error) {
	summary := &DipBuyerSummary{Bought: []string{}, Rejected: map[string]int{}, Errors: []string{}}

	cfg, err := s.configs.DipBuyer(ctx)
	if err != nil {
		return summary, err
	}
	if !cfg.Enabled {
		summary.Skip = "disabled"
		return summary, nil
	}

	st, err := s.state.GetEngineState(ctx, domain.SourceDipBuyer)
	if err != nil {
		return summary, err
	}
	trades, next, err := s.gateway.GetRecentTrades(ctx, "", st.Cursors[feedCursor])
	if err != nil {
		summary.Skip = "trade feed unavailable"
		summary.Errors = append(summary.Errors, err.Error())
		if errors.Is(err, domain.ErrTransient) {
			return summary, nil
		}
		return summary, err
	}

	if _, err := s.portfolio.Refresh(ctx); err != nil {
		if cfg.PortfolioAware {
			summary.Skip = "holdings unavailable"
			summary.Errors = append(summary.Errors, err.Error())
			return summary, nil
		}
		s.logger.Warn("Holdings refresh failed", zap.Error(err))
	}

	stats, err := s.trades.TradeStatsSince(ctx, domain.SourceDipBuyer, domain.DirectionBuy, s.now().Add(-dailyWindow))
	if err != nil {
		return summary, err
	}
	budget := &dipBudget{buys: stats.Count, spent: decimal.NewFromFloat(stats.VolumeUsd)}

	floor := minSellFloor(cfg)
	candidates := lo.Filter(trades, func(t domain.Trade, _ int) bool {
		return t.Direction == domain.DirectionSell && t.UsdValue >= floor
	})
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Timestamp.Before(candidates[j].Timestamp) })
	summary.Candidates = len(candidates)

	complete := true
	for _, t := range candidates {
		if s.loop.Paused() || ctx.Err() != nil {
			summary.Errors = append(summary.Errors, "stopped before submission")
			complete = false
			break
		}
		entry, err := s.evaluate(ctx, cfg, t, budget)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", t.Symbol, err))
			if errors.Is(err, domain.ErrFatal) {
				return summary, err
			}
		}
		if entry == nil {
			continue
		}
		if len(entry.Signals) > 0 {
			summary.Scored++
			if err := s.repo.SaveDipBuyerLog(context.WithoutCancel(ctx), entry); err != nil {
				s.logger.Error("Failed to save dip buyer log", zap.String("symbol", entry.Symbol), zap.Error(err))
			}
		}
		switch entry.Decision {
		case domain.DipBought:
			summary.Bought = append(summary.Bought, entry.Symbol)
		case domain.DipRejected:
			summary.Rejected[rejectKey(entry.Reason)]++
		}
	}

	if complete {
		st.Cursors[feedCursor] = next
	}
	st.LastRunAt = s.now()
	st.LastError = ""
	if err := s.state.SaveEngineState(ctx, st); err != nil {
		s.logger.Error("Failed to save engine state", zap.String("engine", st.Name), zap.Error(err))
	}
	return summary, nil
}

// rejectKey groups reasons for the summary by dropping the details after the colon.
func rejectKey(reason string) string {
	for i, r := range reason {
		if r == ':' {
			return reason[:i]
		}
	}
	return reason
}

func reject(entry *domain.DipBuyerLogEntry, format string, args ...any) *domain.DipBuyerLogEntry {
	entry.Decision = domain.DipRejected
	entry.Reason = fmt.Sprintf(format, args...)
	return entry
}

// evaluate runs the pre-filters, scoring, sizing and slippage guard for one sell, buying on accept.
func (s *DipBuyerService) evaluate(ctx context.Context, cfg domain.DipBuyerConfig, t domain.Trade, budget *dipBudget) (*domain.DipBuyerLogEntry, error) {
	entry := &domain.DipBuyerLogEntry{
		ID:        uuid.NewString(),
		Symbol:    t.Symbol,
		TradeID:   t.ID,
		SellerID:  t.AccountID,
		SellUsd:   t.UsdValue,
		CreatedAt: s.now(),
	}
	if cfg.IsBlacklisted(t.Symbol) {
		return reject(entry, "blacklisted"), nil
	}

	q, err := s.gateway.GetQuote(ctx, t.Symbol)
	if err != nil {
		return nil, err
	}

	minSell, minVolume, maxSlippage, buyUsd := cfg.MinSellValueUsd, cfg.MinVolume24h, cfg.MaxBuySlippagePct, cfg.BuyAmountUsd
	if cfg.UseCoinTiers {
		if tier, ok := cfg.TierFor(q.MarketCap); ok {
			entry.Tier = tier.Name
			if tier.BuyAmountUsd > 0 {
				buyUsd = tier.BuyAmountUsd
			}
			if tier.MinSellValueUsd != nil {
				minSell = *tier.MinSellValueUsd
			}
			if tier.MinVolume24h != nil {
				minVolume = *tier.MinVolume24h
			}
			if tier.MaxBuySlippagePct != nil {
				maxSlippage = *tier.MaxBuySlippagePct
			}
		}
	}

	now := s.now()
	switch {
	case t.UsdValue < minSell:
		return reject(entry, "sell too small: $%.2f below $%.2f", t.UsdValue, minSell), nil
	case q.Volume24h < minVolume:
		return reject(entry, "volume too low: $%.0f below $%.0f", q.Volume24h, minVolume), nil
	case cfg.MinMarketCap > 0 && q.MarketCap < cfg.MinMarketCap:
		return reject(entry, "market cap out of range: $%.0f below $%.0f", q.MarketCap, cfg.MinMarketCap), nil
	case cfg.MaxMarketCap > 0 && q.MarketCap > cfg.MaxMarketCap:
		return reject(entry, "market cap out of range: $%.0f above $%.0f", q.MarketCap, cfg.MaxMarketCap), nil
	case cfg.MaxPriceDropPct < 0 && q.Change24hPct < cfg.MaxPriceDropPct:
		return reject(entry, "already dumped: 24h change %.1f%%", q.Change24hPct), nil
	case cfg.MaxDailyBuys > 0 && budget.buys >= cfg.MaxDailyBuys:
		return reject(entry, "daily buy cap: %d buys", budget.buys), nil
	case cfg.MaxDailySpendUsd > 0 && budget.spent.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MaxDailySpendUsd)):
		return reject(entry, "daily spend cap: $%s spent", budget.spent.StringFixed(2)), nil
	}

	if cfg.CooldownPerCoinSecs > 0 {
		last, err := s.trades.LastBuyAt(ctx, domain.SourceDipBuyer, t.Symbol)
		if err != nil {
			return nil, err
		}
		if !last.IsZero() && now.Sub(last) < time.Duration(cfg.CooldownPerCoinSecs)*time.Second {
			return reject(entry, "coin cooldown: bought %s ago", now.Sub(last).Round(time.Second)), nil
		}
	}

	holders, candles, err := s.fetchSignalData(ctx, cfg, t.Symbol)
	if err != nil {
		if cfg.SkipTopNHolders > 0 {
			return reject(entry, "holder data unavailable: %v", err), nil
		}
		s.logger.Debug("Holder data unavailable", zap.String("symbol", t.Symbol), zap.Error(err))
	}
	if cfg.SkipTopNHolders > 0 {
		top := lo.Slice(holders, 0, cfg.SkipTopNHolders)
		if _, i, ok := lo.FindIndexOf(top, func(h domain.HolderShare) bool { return h.AccountID == t.AccountID }); ok {
			return reject(entry, "whale dump: seller is top holder #%d", i+1), nil
		}
	}

	confidence, signals := ScoreDip(DipSignalInput{
		SellUsd:     t.UsdValue,
		PoolDepth:   q.PoolDepth,
		Volume24h:   q.Volume24h,
		MarketCap:   q.MarketCap,
		CreatorID:   q.CreatorID,
		Holders:     holders,
		Candles:     candles,
		UseMomentum: cfg.UseMomentumAnalysis,
	}, cfg.SignalWeights)
	entry.Confidence, entry.Signals = confidence, signals

	s.logger.Info("Dip candidate scored",
		zap.String("symbol", t.Symbol),
		zap.Float64("sell_usd", t.UsdValue),
		zap.Float64("confidence", confidence),
		zap.Any("signals", signals))

	if confidence < cfg.MinConfidenceScore {
		return reject(entry, "low confidence: %.2f below %.2f", confidence, cfg.MinConfidenceScore), nil
	}

	if cfg.ScaleByConfidence {
		buyUsd *= confidence
	}
	if cfg.PortfolioAware && cfg.MaxPositionPct > 0 {
		p := s.portfolio.Snapshot()
		if total := p.TotalValue(); total > 0 {
			held, _ := p.Find(t.Symbol)
			room := total*cfg.MaxPositionPct/100 - held.Value
			if room <= 0 {
				return reject(entry, "position cap: %.1f%% of portfolio reached", cfg.MaxPositionPct), nil
			}
			buyUsd = math.Min(buyUsd, room)
		}
	}
	if cfg.MaxDailySpendUsd > 0 {
		if budget.spent.Add(decimal.NewFromFloat(buyUsd)).GreaterThan(decimal.NewFromFloat(cfg.MaxDailySpendUsd)) {
			return reject(entry, "daily spend cap: $%.2f would exceed $%.2f", buyUsd, cfg.MaxDailySpendUsd), nil
		}
	}
	buyUsd = math.Floor(buyUsd*100) / 100
	if buyUsd <= 0 {
		return reject(entry, "buy size too small"), nil
	}
	if slip := BuySlippagePct(buyUsd, q.PoolDepth); maxSlippage > 0 && slip > maxSlippage {
		return reject(entry, "slippage: %.2f%% above %.2f%%", slip, maxSlippage), nil
	}
	if s.loop.Paused() || ctx.Err() != nil {
		return reject(entry, "stopped before submission"), nil
	}

	// A replayed feed page must not buy the same sell twice.
	if t.ID != "" {
		claimed, err := s.repo.ClaimDipTrade(ctx, t.ID, t.Symbol, now)
		if err != nil {
			return nil, fmt.Errorf("claim dip trade %s: %w", t.ID, err)
		}
		if !claimed {
			return reject(entry, "already bought: trade %s", t.ID), nil
		}
	}

	entry.BuyUsd = buyUsd
	rec, err := s.gate.Submit(ctx, domain.TradeRequest{
		Symbol:    t.Symbol,
		Direction: domain.DirectionBuy,
		Amount:    buyUsd,
		UsdValue:  buyUsd,
		Source:    domain.SourceDipBuyer,
		Reason:    fmt.Sprintf("dip confidence %.2f", confidence),
	})
	if err != nil {
		// A fatal error means the fill happened, so the claim stays.
		if t.ID != "" && !errors.Is(err, domain.ErrFatal) {
			if rerr := s.repo.ReleaseDipTrade(context.WithoutCancel(ctx), t.ID); rerr != nil {
				s.logger.Error("Failed to release dip claim", zap.String("trade_id", t.ID), zap.Error(rerr))
			}
		}
		if errors.Is(err, domain.ErrPolicyRejection) {
			return reject(entry, "risk gate: %v", err), nil
		}
		entry.Decision, entry.Reason = domain.DipFailed, err.Error()
		return entry, err
	}

	budget.buys++
	budget.spent = budget.spent.Add(decimal.NewFromFloat(rec.UsdValue))
	entry.Decision, entry.Reason, entry.TransactionID, entry.BuyUsd = domain.DipBought, "confidence passed", rec.ID, rec.UsdValue

	spawned := s.sentinels.SpawnAuto(ctx, t.Symbol, rec.Price, cfg.AutoSentinel, domain.SourceDipBuyer)
	s.logger.Info("Dip bought",
		zap.String("symbol", t.Symbol),
		zap.Float64("usd", rec.UsdValue),
		zap.Float64("price", rec.Price),
		zap.Float64("confidence", confidence),
		zap.String("tier", entry.Tier),
		zap.Bool("sentinel", spawned))

	s.publisher.Publish(domain.Event{
		Type: domain.EventDipBuyerTriggered,
		At:   s.now(),
		Payload: domain.DipBuyerTriggeredPayload{
			Symbol:     t.Symbol,
			BuyUsd:     rec.UsdValue,
			Price:      rec.Price,
			Confidence: confidence,
			SellUsd:    t.UsdValue,
			Sentinel:   spawned,
		},
	})
	return entry, nil
}

// fetchSignalData loads holders and candles concurrently. Candle failures only neutralize momentum.
func (s *DipBuyerService) fetchSignalData(ctx context.Context, cfg domain.DipBuyerConfig, symbol string) ([]domain.HolderShare, []domain.Candle, error) {
	var (
		holders []domain.HolderShare
		candles []domain.Candle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		holders, err = s.gateway.GetTopHolders(gctx, symbol, max(holderLookup, cfg.SkipTopNHolders))
		return err
	})
	if cfg.UseMomentumAnalysis {
		g.Go(func() error {
			c, err := s.gateway.GetCandles(gctx, symbol, candleInterval, candleLimit)
			if err != nil {
				s.logger.Debug("Candles unavailable", zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			candles = c
			return nil
		})
	}
	err := g.Wait()
	return holders, candles, err
}
