package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

const listingsCursor = "listings"

type SkipItem struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type SniperSummary struct {
	Seen    int        `json:"seen"`
	Bought  []string   `json:"bought"`
	Skipped []SkipItem `json:"skipped"`
	Errors  []string   `json:"errors"`
	Skip    string     `json:"skip,omitempty"`
}

// SniperService buys newly listed coins that pass the configured filters.
type SniperService struct {
	configs   *ConfigService
	repo      domain.SniperRepository
	trades    domain.TradeRepository
	state     domain.EngineStateRepository
	gateway   domain.MarketGateway
	gate      *RiskGate
	sentinels *SentinelService
	publisher domain.Publisher
	logger    *zap.Logger
	loop      *Loop
	now       func() time.Time
}

func NewSniperService(configs *ConfigService, repo domain.SniperRepository, trades domain.TradeRepository, state domain.EngineStateRepository,
	gateway domain.MarketGateway, gate *RiskGate, sentinels *SentinelService, publisher domain.Publisher, logger *zap.Logger) *SniperService {
	s := &SniperService{
		configs:   configs,
		repo:      repo,
		trades:    trades,
		state:     state,
		gateway:   gateway,
		gate:      gate,
		sentinels: sentinels,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	s.loop = NewLoop(domain.ConfigSniper, s.interval, func(ctx context.Context) (any, error) {
		return s.Tick(ctx)
	}, logger)
	return s
}

func (s *SniperService) Loop() *Loop {
	return s.loop
}

func (s *SniperService) interval(ctx context.Context) time.Duration {
	cfg, err := s.configs.Sniper(ctx)
	if err != nil {
		return domain.DefaultSniperConfig().Interval()
	}
	return cfg.Interval()
}

func (s *SniperService) ListSniped(ctx context.Context, page domain.Page) ([]*domain.SnipedSymbol, int, error) {
	return s.repo.ListSniped(ctx, page)
}

func (s *SniperService) ClearSniped(ctx context.Context) (int64, error) {
	n, err := s.repo.ClearSniped(ctx)
	if err == nil {
		s.logger.Info("Sniped symbols cleared", zap.Int64("count", n))
	}
	return n, err
}

// filter returns the reason a listing is skipped, or "" when it qualifies.
func (s *SniperService) filter(cfg domain.SniperConfig, coin domain.Coin, spent decimal.Decimal) string {
	switch {
	case cfg.IsCreatorBlacklisted(coin.CreatorID):
		return "creator blacklisted"
	case cfg.MaxCoinAgeSecs > 0 && coin.CreatedAt.IsZero():
		return "creation time unknown"
	case cfg.MaxCoinAgeSecs > 0 && coin.Age(s.now()) > time.Duration(cfg.MaxCoinAgeSecs)*time.Second:
		return fmt.Sprintf("coin age %s exceeds %ds", coin.Age(s.now()).Round(time.Second), cfg.MaxCoinAgeSecs)
	case cfg.MaxMarketCapUsd > 0 && coin.MarketCapUsd > cfg.MaxMarketCapUsd:
		return fmt.Sprintf("market cap $%.0f exceeds $%.0f", coin.MarketCapUsd, cfg.MaxMarketCapUsd)
	case cfg.MinLiquidityUsd > 0 && coin.LiquidityUsd < cfg.MinLiquidityUsd:
		return fmt.Sprintf("liquidity $%.0f below $%.0f", coin.LiquidityUsd, cfg.MinLiquidityUsd)
	case cfg.MaxDailySpendUsd > 0 && spent.Add(decimal.NewFromFloat(cfg.BuyAmountUsd)).GreaterThan(decimal.NewFromFloat(cfg.MaxDailySpendUsd)):
		return fmt.Sprintf("daily spend $%s would exceed $%.2f", spent.StringFixed(2), cfg.MaxDailySpendUsd)
	}
	return ""
}

// Tick polls the new-listing feed once.
func (s *SniperService) Tick(ctx context.Context) (*SniperSummary, error) {
	summary := &SniperSummary{Bought: []string{}, Skipped: []SkipItem{}, Errors: []string{}}

	cfg, err := s.configs.Sniper(ctx)
	if err != nil {
		return summary, err
	}
	if !cfg.Enabled {
		summary.Skip = "disabled"
		return summary, nil
	}

	st, err := s.state.GetEngineState(ctx, domain.SourceSniper)
	if err != nil {
		return summary, err
	}

	coins, next, err := s.gateway.GetNewListings(ctx, st.Cursors[listingsCursor])
	if err != nil {
		summary.Skip = "listings unavailable"
		summary.Errors = append(summary.Errors, err.Error())
		st.LastError = err.Error()
		st.LastRunAt = s.now()
		s.saveState(ctx, st)
		if errors.Is(err, domain.ErrTransient) {
			return summary, nil
		}
		return summary, err
	}
	summary.Seen = len(coins)

	stats, err := s.trades.TradeStatsSince(ctx, domain.SourceSniper, domain.DirectionBuy, s.now().Add(-dailyWindow))
	if err != nil {
		return summary, err
	}
	spent := decimal.NewFromFloat(stats.VolumeUsd)

	complete := true
	for _, coin := range coins {
		if reason := s.filter(cfg, coin, spent); reason != "" {
			summary.Skipped = append(summary.Skipped, SkipItem{Symbol: coin.Symbol, Reason: reason})
			s.logger.Debug("Listing skipped", zap.String("symbol", coin.Symbol), zap.String("reason", reason))
			continue
		}
		if s.loop.Paused() || ctx.Err() != nil {
			summary.Errors = append(summary.Errors, "stopped before submission")
			complete = false
			break
		}

		usd, err := s.snipe(ctx, cfg, coin)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", coin.Symbol, err))
			if errors.Is(err, domain.ErrFatal) {
				return summary, err
			}
			continue
		}
		if usd == 0 {
			summary.Skipped = append(summary.Skipped, SkipItem{Symbol: coin.Symbol, Reason: "already sniped"})
			continue
		}
		spent = spent.Add(decimal.NewFromFloat(usd))
		summary.Bought = append(summary.Bought, coin.Symbol)
	}

	if complete {
		st.Cursors[listingsCursor] = next
	}
	st.LastRunAt = s.now()
	st.LastError = ""
	s.saveState(ctx, st)
	return summary, nil
}

// snipe claims the symbol and buys it. It returns 0 when the symbol was sniped before.
func (s *SniperService) snipe(ctx context.Context, cfg domain.SniperConfig, coin domain.Coin) (float64, error) {
	claim := &domain.SnipedSymbol{
		Symbol:    coin.Symbol,
		CoinName:  coin.Name,
		BuyUsd:    cfg.BuyAmountUsd,
		Price:     coin.Price,
		CreatedAt: s.now(),
	}
	claimed, err := s.repo.ClaimSniped(ctx, claim)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, nil
	}

	rec, err := s.gate.Submit(ctx, domain.TradeRequest{
		Symbol:    coin.Symbol,
		Direction: domain.DirectionBuy,
		Amount:    cfg.BuyAmountUsd,
		UsdValue:  cfg.BuyAmountUsd,
		Source:    domain.SourceSniper,
		Reason:    "new listing",
	})
	if err != nil {
		if relErr := s.repo.ReleaseSniped(context.WithoutCancel(ctx), coin.Symbol); relErr != nil {
			s.logger.Error("Failed to release sniped claim", zap.String("symbol", coin.Symbol), zap.Error(relErr))
		}
		return 0, err
	}

	claim.BuyUsd, claim.Price, claim.TransactionID = rec.UsdValue, rec.Price, rec.ID
	if err := s.repo.CompleteSniped(ctx, claim); err != nil {
		s.logger.Error("Failed to complete sniped record", zap.String("symbol", coin.Symbol), zap.Error(err))
	}

	spawned := s.sentinels.SpawnAuto(ctx, coin.Symbol, rec.Price, cfg.AutoSentinel, domain.SourceSniper)
	s.logger.Info("Sniped new listing",
		zap.String("symbol", coin.Symbol),
		zap.Float64("usd", rec.UsdValue),
		zap.Float64("price", rec.Price),
		zap.Float64("market_cap", coin.MarketCapUsd),
		zap.Bool("sentinel", spawned))

	s.publisher.Publish(domain.Event{
		Type: domain.EventSniperTriggered,
		At:   s.now(),
		Payload: domain.SniperTriggeredPayload{
			Symbol:    coin.Symbol,
			CoinName:  coin.Name,
			BuyUsd:    rec.UsdValue,
			Price:     rec.Price,
			Sentinel:  spawned,
			MarketCap: coin.MarketCapUsd,
		},
	})
	usd := rec.UsdValue
	if usd <= 0 {
		usd = cfg.BuyAmountUsd
	}
	return usd, nil
}

func (s *SniperService) saveState(ctx context.Context, st *domain.EngineState) {
	if err := s.state.SaveEngineState(ctx, st); err != nil {
		s.logger.Error("Failed to save engine state", zap.String("engine", st.Name), zap.Error(err))
	}
}
