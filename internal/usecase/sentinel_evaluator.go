package usecase

import "github.com/vitos/coin_autopilot/internal/domain"

type SentinelEvaluator struct{}

func NewSentinelEvaluator() *SentinelEvaluator {
	return &SentinelEvaluator{}
}

// Evaluation is the outcome of checking one sentinel against a price.
type Evaluation struct {
	Peak   float64
	Fired  bool
	Reason domain.TriggerReason
	Level  float64 // price level that was crossed
}

// Evaluate checks trailing stop, then stop loss, then take profit; the first match wins.
// Peak is the updated highest price seen and is only raised when a trailing stop is set.
func (e *SentinelEvaluator) Evaluate(s *domain.Sentinel, price float64) Evaluation {
	ev := Evaluation{Peak: s.HighestPriceSeen}
	if s.Triggered() || price <= 0 {
		return ev
	}

	if s.TrailingStopPct != nil {
		if price > ev.Peak {
			ev.Peak = price
		}
		level := ev.Peak * (1 - *s.TrailingStopPct/100)
		if price <= level {
			ev.Fired, ev.Reason, ev.Level = true, domain.TriggerTrailingStop, level
			return ev
		}
	}

	if s.StopLossPct != nil {
		// StopLossPct is stored negative, e.g. -15
		level := s.EntryPrice * (1 + *s.StopLossPct/100)
		if price <= level {
			ev.Fired, ev.Reason, ev.Level = true, domain.TriggerStopLoss, level
			return ev
		}
	}

	if s.TakeProfitPct != nil {
		level := s.EntryPrice * (1 + *s.TakeProfitPct/100)
		if price >= level {
			ev.Fired, ev.Reason, ev.Level = true, domain.TriggerTakeProfit, level
			return ev
		}
	}
	return ev
}

// SellQuantity is the share of the held quantity a triggered sentinel sells.
func (e *SentinelEvaluator) SellQuantity(s *domain.Sentinel, held float64) float64 {
	pct := s.SellPercentage
	if pct <= 0 || pct > 100 {
		pct = 100
	}
	return held * pct / 100
}
