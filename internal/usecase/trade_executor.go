package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

type TradeExecutor struct {
	gateway   domain.MarketGateway
	trades    domain.TradeRepository
	portfolio *PortfolioView
	publisher domain.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewTradeExecutor(gateway domain.MarketGateway, trades domain.TradeRepository, portfolio *PortfolioView, publisher domain.Publisher, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		gateway:   gateway,
		trades:    trades,
		portfolio: portfolio,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute submits one attempt. Callers go through the RiskGate, which owns retries.
func (e *TradeExecutor) Execute(ctx context.Context, req domain.TradeRequest) (*domain.TransactionRecord, error) {
	if !req.Direction.Valid() {
		return nil, fmt.Errorf("invalid direction: %s", req.Direction)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid amount %f for %s", req.Amount, req.Symbol)
	}

	res, err := e.gateway.SubmitTrade(ctx, req.Symbol, req.Direction, req.Amount)
	if err != nil {
		return nil, err
	}

	rec := &domain.TransactionRecord{
		ID:         uuid.NewString(),
		Symbol:     res.Symbol,
		CoinName:   res.CoinName,
		TradeType:  domain.TradeType(req.Direction),
		CoinAmount: res.CoinAmount,
		Price:      res.Price,
		UsdValue:   res.UsdValue,
		Timestamp:  e.now(),
		Source:     req.Source,
	}
	if rec.Symbol == "" {
		rec.Symbol = req.Symbol
	}
	if req.Direction == domain.DirectionSell {
		if h, ok := e.portfolio.Snapshot().Find(rec.Symbol); ok && h.AvgPurchasePrice > 0 {
			rec.RealizedPnL = (rec.Price - h.AvgPurchasePrice) * rec.CoinAmount
		}
	}

	if err := e.trades.RecordTrade(ctx, rec); err != nil {
		// The exchange filled the order; retrying would trade twice.
		e.logger.Error("Trade filled but not recorded",
			zap.String("symbol", rec.Symbol),
			zap.String("direction", string(req.Direction)),
			zap.Float64("usd", rec.UsdValue),
			zap.Error(err))
		return nil, domain.Fatal(fmt.Errorf("record trade %s: %w", rec.ID, err))
	}
	e.portfolio.Apply(rec)

	e.logger.Info("Trade executed",
		zap.String("symbol", rec.Symbol),
		zap.String("direction", string(req.Direction)),
		zap.Float64("coins", rec.CoinAmount),
		zap.Float64("price", rec.Price),
		zap.Float64("usd", rec.UsdValue),
		zap.String("source", req.Source))

	e.publisher.Publish(domain.Event{
		Type: domain.EventTradeExecuted,
		At:   rec.Timestamp,
		Payload: domain.TradeExecutedPayload{
			Symbol:    rec.Symbol,
			Direction: req.Direction,
			Price:     rec.Price,
			UsdValue:  rec.UsdValue,
			Source:    req.Source,
			Success:   true,
		},
	})
	return rec, nil
}

// ReportFailure emits the trade-executed failure notification for a request that did not fill.
func (e *TradeExecutor) ReportFailure(req domain.TradeRequest, err error) {
	e.logger.Warn("Trade failed",
		zap.String("symbol", req.Symbol),
		zap.String("direction", string(req.Direction)),
		zap.String("source", req.Source),
		zap.Error(err))
	e.publisher.Publish(domain.Event{
		Type: domain.EventTradeExecuted,
		At:   e.now(),
		Payload: domain.TradeExecutedPayload{
			Symbol:    req.Symbol,
			Direction: req.Direction,
			UsdValue:  req.UsdValue,
			Source:    req.Source,
			Success:   false,
			Reason:    err.Error(),
		},
	})
}
