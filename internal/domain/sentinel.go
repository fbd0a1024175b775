package domain

import "time"

type TriggerReason string

const (
	TriggerTrailingStop TriggerReason = "trailing_stop"
	TriggerStopLoss     TriggerReason = "stop_loss"
	TriggerTakeProfit   TriggerReason = "take_profit"
)

// Sentinel is a per-holding sell trigger. Optional thresholds are nil when unset.
type Sentinel struct {
	ID               string        `json:"id"`
	Symbol           string        `json:"symbol"`
	EntryPrice       float64       `json:"entry_price"`
	StopLossPct      *float64      `json:"stop_loss_pct"`     // negative, e.g. -15
	TakeProfitPct    *float64      `json:"take_profit_pct"`   // positive
	TrailingStopPct  *float64      `json:"trailing_stop_pct"` // distance from peak
	SellPercentage   float64       `json:"sell_percentage"`   // 1-100
	HighestPriceSeen float64       `json:"highest_price_seen"`
	IsActive         bool          `json:"is_active"`
	TriggeredAt      *time.Time    `json:"triggered_at"`
	TriggerReason    TriggerReason `json:"trigger_reason,omitempty"`
	Source           string        `json:"source"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Triggered reports whether the sentinel reached its terminal state.
func (s *Sentinel) Triggered() bool {
	return s.TriggeredAt != nil
}

// SentinelThresholds is the mutable trigger set of a sentinel.
type SentinelThresholds struct {
	StopLossPct     *float64 `json:"stop_loss_pct"`
	TakeProfitPct   *float64 `json:"take_profit_pct"`
	TrailingStopPct *float64 `json:"trailing_stop_pct"`
	SellPercentage  float64  `json:"sell_percentage"`
}

// Validate enforces the creation invariants: at least one trigger, sane signs and a 1-100 sell share.
func (t SentinelThresholds) Validate() error {
	if t.StopLossPct == nil && t.TakeProfitPct == nil && t.TrailingStopPct == nil {
		return &ConfigError{Field: "thresholds", Reason: "at least one of stop loss, take profit or trailing stop must be set"}
	}
	if t.StopLossPct != nil && (*t.StopLossPct >= 0 || *t.StopLossPct <= -100) {
		return &ConfigError{Field: "stop_loss_pct", Reason: "must be negative and greater than -100"}
	}
	if t.TakeProfitPct != nil && *t.TakeProfitPct <= 0 {
		return &ConfigError{Field: "take_profit_pct", Reason: "must be positive"}
	}
	if t.TrailingStopPct != nil && (*t.TrailingStopPct <= 0 || *t.TrailingStopPct >= 100) {
		return &ConfigError{Field: "trailing_stop_pct", Reason: "must be between 0 and 100"}
	}
	if t.SellPercentage < 1 || t.SellPercentage > 100 {
		return &ConfigError{Field: "sell_percentage", Reason: "must be between 1 and 100"}
	}
	return nil
}

func (s *Sentinel) Thresholds() SentinelThresholds {
	return SentinelThresholds{
		StopLossPct:     s.StopLossPct,
		TakeProfitPct:   s.TakeProfitPct,
		TrailingStopPct: s.TrailingStopPct,
		SellPercentage:  s.SellPercentage,
	}
}

// Float returns a pointer to v, for optional threshold fields.
func Float(v float64) *float64 {
	return &v
}
