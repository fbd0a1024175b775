package domain

import "time"

type EventType string

const (
	EventSentinelTriggered EventType = "sentinel-triggered"
	EventTradeExecuted     EventType = "trade-executed"
	EventSniperTriggered   EventType = "sniper-triggered"
	EventMirrorTick        EventType = "mirror-tick"
	EventDipBuyerTriggered EventType = "dipbuyer-triggered"
)

type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Publisher is the fire-and-forget side of the notification bus.
type Publisher interface {
	Publish(ev Event)
}

type TradeExecutedPayload struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`
	UsdValue  float64   `json:"usd_value"`
	Source    string    `json:"source"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

type SentinelTriggeredPayload struct {
	SentinelID string        `json:"sentinel_id"`
	Symbol     string        `json:"symbol"`
	Reason     TriggerReason `json:"reason"`
	Price      float64       `json:"price"`
	Quantity   float64       `json:"quantity"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}

type SniperTriggeredPayload struct {
	Symbol    string  `json:"symbol"`
	CoinName  string  `json:"coin_name"`
	BuyUsd    float64 `json:"buy_usd"`
	Price     float64 `json:"price"`
	Sentinel  bool    `json:"sentinel"`
	MarketCap float64 `json:"market_cap"`
}

type DipBuyerTriggeredPayload struct {
	Symbol     string  `json:"symbol"`
	BuyUsd     float64 `json:"buy_usd"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	SellUsd    float64 `json:"sell_usd"`
	Sentinel   bool    `json:"sentinel"`
}
