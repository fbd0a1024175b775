package usecase

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

// PortfolioView caches the last holdings fetched from the gateway.
// Engines refresh it at tick start and read snapshots; only the trade executor mutates it.
type PortfolioView struct {
	gateway     domain.MarketGateway
	logger      *zap.Logger
	mu          sync.RWMutex
	holdings    []domain.Holding
	refreshedAt time.Time
}

func NewPortfolioView(gateway domain.MarketGateway, logger *zap.Logger) *PortfolioView {
	return &PortfolioView{gateway: gateway, logger: logger}
}

// Refresh fetches holdings from the gateway and replaces the snapshot.
func (p *PortfolioView) Refresh(ctx context.Context) (domain.Portfolio, error) {
	holdings, err := p.gateway.GetHoldings(ctx)
	if err != nil {
		return p.Snapshot(), err
	}

	// The view owns its slice; Apply edits it in place.
	p.mu.Lock()
	p.holdings = slices.Clone(holdings)
	p.refreshedAt = time.Now()
	p.mu.Unlock()

	return domain.Portfolio{Holdings: holdings}, nil
}

// Snapshot returns a copy of the last known holdings.
func (p *PortfolioView) Snapshot() domain.Portfolio {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Holding, len(p.holdings))
	copy(out, p.holdings)
	return domain.Portfolio{Holdings: out}
}

func (p *PortfolioView) RefreshedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshedAt
}

// Apply folds an executed trade into the snapshot so later decisions in the same tick see it.
func (p *PortfolioView) Apply(rec *domain.TransactionRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i := range p.holdings {
		if p.holdings[i].Symbol == rec.Symbol {
			idx = i
			break
		}
	}

	switch rec.TradeType {
	case domain.TradeTypeBuy:
		if idx < 0 {
			p.holdings = append(p.holdings, domain.Holding{Symbol: rec.Symbol})
			idx = len(p.holdings) - 1
		}
		p.holdings[idx].ApplyBuy(rec.CoinAmount, rec.Price)
	case domain.TradeTypeSell:
		if idx < 0 {
			p.logger.Warn("Sold symbol missing from holdings snapshot", zap.String("symbol", rec.Symbol))
			return
		}
		p.holdings[idx].ApplySell(rec.CoinAmount, rec.Price)
		if p.holdings[idx].Quantity <= 0 {
			p.holdings = append(p.holdings[:idx], p.holdings[idx+1:]...)
		}
	}
}
