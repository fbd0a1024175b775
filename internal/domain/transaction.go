package domain

import "time"

type TradeType string

const (
	TradeTypeBuy      TradeType = "BUY"
	TradeTypeSell     TradeType = "SELL"
	TradeTypeTransfer TradeType = "TRANSFER"
)

// Trade sources. Every submission is attributed to the engine or path that originated it.
const (
	SourceManual   = "manual"
	SourceSentinel = "sentinel"
	SourceSniper   = "sniper"
	SourceMirror   = "mirror"
	SourceDipBuyer = "dipbuyer"
)

// TransactionRecord is an append-only record of an executed trade.
type TransactionRecord struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	CoinName    string    `json:"coin_name"`
	TradeType   TradeType `json:"trade_type"`
	CoinAmount  float64   `json:"coin_amount"`
	Price       float64   `json:"price"`
	UsdValue    float64   `json:"usd_value"`
	Timestamp   time.Time `json:"timestamp"`
	IsTransfer  bool      `json:"is_transfer"`
	Source      string    `json:"source"`
	RealizedPnL float64   `json:"realized_pnl"`
}

// TradeRequest is what engines and manual paths hand to the risk gate.
// Amount is USD for buys and coin quantity for sells; UsdValue is the USD estimate used for limits.
type TradeRequest struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Amount    float64   `json:"amount"`
	UsdValue  float64   `json:"usd_value"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
}

// TradeWindowStats aggregates trades over a rolling window.
type TradeWindowStats struct {
	Count     int     `json:"count"`
	VolumeUsd float64 `json:"volume_usd"`
}

// Page is a limit/offset pagination request.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
