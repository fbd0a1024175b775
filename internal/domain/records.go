package domain

import "time"

// SnipedSymbol records a coin bought by the sniper; a symbol is never sniped twice.
type SnipedSymbol struct {
	Symbol        string    `json:"symbol"`
	CoinName      string    `json:"coin_name"`
	BuyUsd        float64   `json:"buy_usd"`
	Price         float64   `json:"price"`
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type MirrorStatus string

const (
	MirrorPending  MirrorStatus = "pending"
	MirrorExecuted MirrorStatus = "executed"
	MirrorSkipped  MirrorStatus = "skipped"
	MirrorFailed   MirrorStatus = "failed"
)

// MirroredTrade deduplicates whale trades by their source trade id.
type MirroredTrade struct {
	SourceTradeID string       `json:"source_trade_id"`
	AccountID     string       `json:"account_id"`
	Symbol        string       `json:"symbol"`
	Direction     Direction    `json:"direction"`
	WhaleUsd      float64      `json:"whale_usd"`
	MirroredUsd   float64      `json:"mirrored_usd"`
	Status        MirrorStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type DipDecision string

const (
	DipBought   DipDecision = "bought"
	DipRejected DipDecision = "rejected"
	DipFailed   DipDecision = "failed"
)

// SignalBreakdown is one signal's contribution to a confidence score.
type SignalBreakdown struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
	Reason   string  `json:"reason"`
}

// DipBuyerLogEntry is the audit record of a scored dip candidate.
type DipBuyerLogEntry struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	TradeID       string            `json:"trade_id"`
	SellerID      string            `json:"seller_id"`
	SellUsd       float64           `json:"sell_usd"`
	Confidence    float64           `json:"confidence"`
	Decision      DipDecision       `json:"decision"`
	Reason        string            `json:"reason"`
	BuyUsd        float64           `json:"buy_usd"`
	Tier          string            `json:"tier,omitempty"`
	Signals       []SignalBreakdown `json:"signals"`
	TransactionID string            `json:"transaction_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// EngineState is the durable per-engine cursor and last-run bookkeeping.
type EngineState struct {
	Name        string            `json:"name"`
	Cursors     map[string]string `json:"cursors"`
	LastRunAt   time.Time         `json:"last_run_at"`
	LastError   string            `json:"last_error"`
	LastTradeAt time.Time         `json:"last_trade_at"`
	TradeCount  int64             `json:"trade_count"`
}
