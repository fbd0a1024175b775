package domain

import "time"

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Quote is a point-in-time view of a coin's market.
type Quote struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	Price        float64   `json:"price"`
	MarketCap    float64   `json:"market_cap"`
	Volume24h    float64   `json:"volume_24h"`
	PoolDepth    float64   `json:"pool_depth"` // USD reserve of the pool
	Change24hPct float64   `json:"change_24h_pct"`
	CreatorID    string    `json:"creator_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Coin is an entry of the new-listing feed.
type Coin struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	CreatorID    string    `json:"creator_id"`
	Price        float64   `json:"price"`
	MarketCapUsd float64   `json:"market_cap_usd"`
	LiquidityUsd float64   `json:"liquidity_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

// Age returns how old the coin is at the given instant.
func (c Coin) Age(now time.Time) time.Duration {
	if c.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(c.CreatedAt)
}

// Trade is a public trade from the recent-trades feed.
type Trade struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Symbol     string    `json:"symbol"`
	CoinName   string    `json:"coin_name"`
	Direction  Direction `json:"direction"`
	CoinAmount float64   `json:"coin_amount"`
	Price      float64   `json:"price"`
	UsdValue   float64   `json:"usd_value"`
	Timestamp  time.Time `json:"timestamp"`
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type HolderShare struct {
	AccountID  string  `json:"account_id"`
	Percentage float64 `json:"percentage"` // 0-100
	Quantity   float64 `json:"quantity"`
}

// TradeResult is what the market returns for an accepted trade.
type TradeResult struct {
	Symbol     string    `json:"symbol"`
	CoinName   string    `json:"coin_name"`
	Direction  Direction `json:"direction"`
	CoinAmount float64   `json:"coin_amount"`
	Price      float64   `json:"price"`
	UsdValue   float64   `json:"usd_value"`
	NewPrice   float64   `json:"new_price"`
}
