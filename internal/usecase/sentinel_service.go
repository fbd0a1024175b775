package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const quoteFetchConcurrency = 4

// CreateSentinelRequest is a user request for a new sentinel. EntryPrice 0 means
// use the holding's average purchase price, falling back to the current quote.
type CreateSentinelRequest struct {
	Symbol          string   `json:"symbol"`
	EntryPrice      float64  `json:"entry_price"`
	StopLossPct     *float64 `json:"stop_loss_pct"`
	TakeProfitPct   *float64 `json:"take_profit_pct"`
	TrailingStopPct *float64 `json:"trailing_stop_pct"`
	SellPercentage  float64  `json:"sell_percentage"`
}

func (r CreateSentinelRequest) thresholds() domain.SentinelThresholds {
	sell := r.SellPercentage
	if sell == 0 {
		sell = 100
	}
	return domain.SentinelThresholds{
		StopLossPct:     r.StopLossPct,
		TakeProfitPct:   r.TakeProfitPct,
		TrailingStopPct: r.TrailingStopPct,
		SellPercentage:  sell,
	}
}

type SoldItem struct {
	SentinelID string               `json:"sentinel_id"`
	Symbol     string               `json:"symbol"`
	Reason     domain.TriggerReason `json:"reason"`
	Quantity   float64              `json:"quantity"`
	UsdValue   float64              `json:"usd_value"`
}

// MonitorSummary reports one monitor run.
type MonitorSummary struct {
	Checked       int        `json:"checked"`
	Triggered     int        `json:"triggered"`
	Sold          []SoldItem `json:"sold"`
	Errors        []string   `json:"errors"`
	SyncedRemoved int        `json:"synced_removed"`
	SyncedAdded   int        `json:"synced_added"`
	Skipped       string     `json:"skipped,omitempty"`
}

type SyncResult struct {
	Removed int `json:"removed"`
	Added   int `json:"added"`
}

type SentinelService struct {
	configs   *ConfigService
	repo      domain.SentinelRepository
	gateway   domain.MarketGateway
	portfolio *PortfolioView
	gate      *RiskGate
	publisher domain.Publisher
	evaluator *SentinelEvaluator
	logger    *zap.Logger
	loop      *Loop
	syncMu    sync.Mutex
	now       func() time.Time
}

func NewSentinelService(configs *ConfigService, repo domain.SentinelRepository, gateway domain.MarketGateway, portfolio *PortfolioView, gate *RiskGate, publisher domain.Publisher, logger *zap.Logger) *SentinelService {
	s := &SentinelService{
		configs:   configs,
		repo:      repo,
		gateway:   gateway,
		portfolio: portfolio,
		gate:      gate,
		publisher: publisher,
		evaluator: NewSentinelEvaluator(),
		logger:    logger,
		now:       time.Now,
	}
	s.loop = NewLoop(domain.ConfigSentinel, s.interval, func(ctx context.Context) (any, error) {
		return s.Monitor(ctx)
	}, logger)
	return s
}

func (s *SentinelService) Loop() *Loop {
	return s.loop
}

func (s *SentinelService) interval(ctx context.Context) time.Duration {
	cfg, err := s.configs.Sentinel(ctx)
	if err != nil {
		return domain.DefaultSentinelConfig().Interval()
	}
	return cfg.Interval()
}

// Create validates and stores a user sentinel. Invalid thresholds are never persisted.
func (s *SentinelService) Create(ctx context.Context, req CreateSentinelRequest) (*domain.Sentinel, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, &domain.ConfigError{Field: "symbol", Reason: "is required"}
	}
	t := req.thresholds()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if req.EntryPrice < 0 {
		return nil, &domain.ConfigError{Field: "entry_price", Reason: "must not be negative"}
	}

	entry := req.EntryPrice
	if entry == 0 {
		var err error
		if entry, err = s.resolveEntryPrice(ctx, symbol); err != nil {
			return nil, err
		}
	}
	return s.save(ctx, symbol, entry, t, domain.SourceManual)
}

func (s *SentinelService) resolveEntryPrice(ctx context.Context, symbol string) (float64, error) {
	if h, ok := s.portfolio.Snapshot().Find(symbol); ok && h.AvgPurchasePrice > 0 {
		return h.AvgPurchasePrice, nil
	}
	q, err := s.gateway.GetQuote(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("resolve entry price for %s: %w", symbol, err)
	}
	return q.Price, nil
}

func (s *SentinelService) save(ctx context.Context, symbol string, entry float64, t domain.SentinelThresholds, source string) (*domain.Sentinel, error) {
	sen := &domain.Sentinel{
		ID:               uuid.NewString(),
		Symbol:           symbol,
		EntryPrice:       entry,
		StopLossPct:      t.StopLossPct,
		TakeProfitPct:    t.TakeProfitPct,
		TrailingStopPct:  t.TrailingStopPct,
		SellPercentage:   t.SellPercentage,
		HighestPriceSeen: entry,
		IsActive:         true,
		Source:           source,
		CreatedAt:        s.now(),
	}
	if err := s.repo.SaveSentinel(ctx, sen); err != nil {
		return nil, err
	}
	s.logger.Info("Sentinel created",
		zap.String("id", sen.ID),
		zap.String("symbol", symbol),
		zap.Float64("entry", entry),
		zap.String("source", source))
	return sen, nil
}

// SpawnAuto creates the sentinel an engine configured after a successful buy.
// It returns false when auto creation is off or the symbol already has a live sentinel.
func (s *SentinelService) SpawnAuto(ctx context.Context, symbol string, entry float64, auto domain.AutoSentinelConfig, source string) bool {
	if !auto.AutoCreateSentinel || entry <= 0 {
		return false
	}
	t := auto.Thresholds()
	if err := t.Validate(); err != nil {
		s.logger.Warn("Auto sentinel skipped, invalid thresholds", zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	pending, err := s.repo.ListPendingSentinels(ctx)
	if err != nil {
		s.logger.Error("Auto sentinel skipped", zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	if lo.ContainsBy(pending, func(p *domain.Sentinel) bool { return p.Symbol == symbol }) {
		return false
	}
	if _, err := s.save(ctx, symbol, entry, t, source); err != nil {
		s.logger.Error("Failed to create auto sentinel", zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	return true
}

func (s *SentinelService) Get(ctx context.Context, id string) (*domain.Sentinel, error) {
	return s.repo.GetSentinel(ctx, id)
}

func (s *SentinelService) List(ctx context.Context) ([]*domain.Sentinel, error) {
	return s.repo.ListSentinels(ctx)
}

// Update replaces the thresholds of a live sentinel. Triggered sentinels report ErrNotFound.
func (s *SentinelService) Update(ctx context.Context, id string, t domain.SentinelThresholds) (*domain.Sentinel, error) {
	if t.SellPercentage == 0 {
		t.SellPercentage = 100
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateThresholds(ctx, id, t); err != nil {
		return nil, err
	}
	return s.repo.GetSentinel(ctx, id)
}

func (s *SentinelService) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteSentinel(ctx, id)
}

// Toggle pauses or resumes one sentinel. A paused sentinel keeps tracking its peak.
func (s *SentinelService) Toggle(ctx context.Context, id string, active bool) error {
	return s.repo.SetSentinelActive(ctx, id, active)
}

func (s *SentinelService) PauseAll(ctx context.Context) (int64, error) {
	n, err := s.repo.SetAllSentinelsActive(ctx, false)
	if err == nil {
		s.logger.Info("All sentinels paused", zap.Int64("count", n))
	}
	return n, err
}

func (s *SentinelService) ResumeAll(ctx context.Context) (int64, error) {
	n, err := s.repo.SetAllSentinelsActive(ctx, true)
	if err == nil {
		s.logger.Info("All sentinels resumed", zap.Int64("count", n))
	}
	return n, err
}

// ApplyDefaultsToAll overwrites thresholds of every live sentinel with the configured defaults.
func (s *SentinelService) ApplyDefaultsToAll(ctx context.Context) (int64, error) {
	cfg, err := s.configs.Sentinel(ctx)
	if err != nil {
		return 0, err
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return 0, err
	}
	n, err := s.repo.ApplyThresholdsToAll(ctx, cfg.Defaults)
	if err == nil {
		s.logger.Info("Applied default thresholds", zap.Int64("count", n))
	}
	return n, err
}

func (s *SentinelService) CleanupTriggered(ctx context.Context) (int64, error) {
	return s.repo.DeleteTriggeredSentinels(ctx)
}

// Sync reconciles sentinels with live holdings: live sentinels for unheld symbols are removed,
// and untracked holdings worth at least the configured minimum get a sentinel with the defaults.
func (s *SentinelService) Sync(ctx context.Context) (SyncResult, error) {
	cfg, err := s.configs.Sentinel(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	cutoff := s.now()
	p, err := s.portfolio.Refresh(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	return s.syncWith(ctx, cfg, p, cutoff, true)
}

// syncWith only removes sentinels created before cutoff, the instant the holdings were requested.
func (s *SentinelService) syncWith(ctx context.Context, cfg domain.SentinelConfig, p domain.Portfolio, cutoff time.Time, add bool) (SyncResult, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	var res SyncResult
	held := lo.FilterMap(p.Holdings, func(h domain.Holding, _ int) (string, bool) {
		return h.Symbol, h.Quantity > 0
	})
	removed, err := s.repo.DeletePendingSentinelsNotIn(ctx, held, cutoff)
	if err != nil {
		return res, err
	}
	res.Removed = int(removed)
	if !add {
		return res, nil
	}

	if err := cfg.Defaults.Validate(); err != nil {
		return res, err
	}
	pending, err := s.repo.ListPendingSentinels(ctx)
	if err != nil {
		return res, err
	}
	tracked := lo.SliceToMap(pending, func(sen *domain.Sentinel) (string, struct{}) {
		return sen.Symbol, struct{}{}
	})

	for _, h := range p.Holdings {
		if h.Quantity <= 0 || h.Value < cfg.MinHoldingValueUsd || cfg.IsBlacklisted(h.Symbol) {
			continue
		}
		if _, ok := tracked[h.Symbol]; ok {
			continue
		}
		entry := h.AvgPurchasePrice
		if entry <= 0 {
			entry = h.CurrentPrice
		}
		if entry <= 0 {
			continue
		}
		if _, err := s.save(ctx, h.Symbol, entry, cfg.Defaults, "sync"); err != nil {
			return res, err
		}
		tracked[h.Symbol] = struct{}{}
		res.Added++
	}

	if res.Removed > 0 || res.Added > 0 {
		s.logger.Info("Sentinels synced with portfolio", zap.Int("removed", res.Removed), zap.Int("added", res.Added))
	}
	return res, nil
}

// CheckNow runs a monitor pass immediately, serialized with the background loop.
func (s *SentinelService) CheckNow(ctx context.Context) (*MonitorSummary, error) {
	res, err := s.loop.RunOnce(ctx)
	summary, _ := res.(*MonitorSummary)
	return summary, err
}

// Monitor is one tick of the sentinel loop.
func (s *SentinelService) Monitor(ctx context.Context) (*MonitorSummary, error) {
	summary := &MonitorSummary{Sold: []SoldItem{}, Errors: []string{}}

	cfg, err := s.configs.Sentinel(ctx)
	if err != nil {
		return summary, err
	}
	if !cfg.Enabled {
		summary.Skipped = "disabled"
		return summary, nil
	}

	cutoff := s.now()
	p, err := s.portfolio.Refresh(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrTransient) {
			summary.Skipped = "holdings unavailable"
			summary.Errors = append(summary.Errors, err.Error())
			return summary, nil
		}
		return summary, err
	}

	if synced, err := s.syncWith(ctx, cfg, p, cutoff, cfg.AutoManage); err != nil {
		summary.Errors = append(summary.Errors, "sync: "+err.Error())
	} else {
		summary.SyncedRemoved, summary.SyncedAdded = synced.Removed, synced.Added
	}

	pending, err := s.repo.ListPendingSentinels(ctx)
	if err != nil {
		return summary, err
	}
	if len(pending) == 0 {
		return summary, nil
	}

	prices, priceErrs := s.fetchPrices(ctx, lo.Uniq(lo.Map(pending, func(sen *domain.Sentinel, _ int) string {
		return sen.Symbol
	})))
	summary.Errors = append(summary.Errors, priceErrs...)

	for _, sen := range pending {
		price, ok := prices[sen.Symbol]
		if !ok {
			continue
		}
		summary.Checked++

		ev := s.evaluator.Evaluate(sen, price)
		if ev.Peak > sen.HighestPriceSeen {
			if err := s.repo.RaiseHighestPrice(ctx, sen.ID, ev.Peak); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: raise peak: %v", sen.Symbol, err))
			}
		}
		if !sen.IsActive || !ev.Fired {
			continue
		}
		if s.loop.Paused() || ctx.Err() != nil {
			summary.Errors = append(summary.Errors, "stopped before submission")
			break
		}

		h, held := s.portfolio.Snapshot().Find(sen.Symbol)
		if !held || h.Quantity <= 0 {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v: not held, awaiting sync", sen.Symbol, domain.ErrDataInconsistency))
			continue
		}

		item, err := s.fire(ctx, sen, ev, price, h)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", sen.Symbol, err))
			if errors.Is(err, domain.ErrFatal) {
				return summary, err
			}
		}
		if item != nil {
			summary.Triggered++
			if item.UsdValue > 0 {
				summary.Sold = append(summary.Sold, *item)
			}
		}
	}

	if summary.Triggered > 0 || len(summary.Errors) > 0 {
		s.logger.Info("Sentinel monitor run",
			zap.Int("checked", summary.Checked),
			zap.Int("triggered", summary.Triggered),
			zap.Int("sold", len(summary.Sold)),
			zap.Int("errors", len(summary.Errors)))
	}
	return summary, nil
}

func (s *SentinelService) fetchPrices(ctx context.Context, symbols []string) (map[string]float64, []string) {
	var (
		mu     sync.Mutex
		prices = make(map[string]float64, len(symbols))
		errs   []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFetchConcurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			q, err := s.gateway.GetQuote(gctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: quote: %v", sym, err))
				return nil
			}
			prices[sym] = q.Price
			return nil
		})
	}
	_ = g.Wait()
	return prices, errs
}

// fire claims the trigger before submitting, so a concurrent tick never sells twice.
// The sentinel is terminal once claimed, whether or not the sell succeeds.
func (s *SentinelService) fire(ctx context.Context, sen *domain.Sentinel, ev Evaluation, price float64, h domain.Holding) (*SoldItem, error) {
	claimed, err := s.repo.ClaimSentinelTrigger(ctx, sen.ID, s.now(), ev.Reason)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}

	qty := s.evaluator.SellQuantity(sen, h.Quantity)
	s.logger.Info("Sentinel triggered",
		zap.String("id", sen.ID),
		zap.String("symbol", sen.Symbol),
		zap.String("reason", string(ev.Reason)),
		zap.Float64("price", price),
		zap.Float64("level", ev.Level),
		zap.Float64("quantity", qty))

	rec, err := s.gate.Submit(ctx, domain.TradeRequest{
		Symbol:    sen.Symbol,
		Direction: domain.DirectionSell,
		Amount:    qty,
		UsdValue:  qty * price,
		Source:    domain.SourceSentinel,
		Reason:    string(ev.Reason),
	})

	payload := domain.SentinelTriggeredPayload{
		SentinelID: sen.ID,
		Symbol:     sen.Symbol,
		Reason:     ev.Reason,
		Price:      price,
		Quantity:   qty,
		Success:    err == nil,
	}
	item := &SoldItem{SentinelID: sen.ID, Symbol: sen.Symbol, Reason: ev.Reason, Quantity: qty}
	if err != nil {
		payload.Error = err.Error()
	} else {
		payload.Price = rec.Price
		item.Quantity = rec.CoinAmount
		item.UsdValue = rec.UsdValue
	}
	s.publisher.Publish(domain.Event{Type: domain.EventSentinelTriggered, At: s.now(), Payload: payload})
	return item, err
}
