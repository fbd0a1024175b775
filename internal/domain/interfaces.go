package domain

import (
	"context"
	"time"
)

// MarketGateway is the external market API. Every call may fail transiently.
type MarketGateway interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetHoldings(ctx context.Context) ([]Holding, error)
	GetNewListings(ctx context.Context, cursor string) ([]Coin, string, error)
	// GetRecentTrades returns trades of accountID, or the global feed when accountID is empty.
	GetRecentTrades(ctx context.Context, accountID, cursor string) ([]Trade, string, error)
	GetTopHolders(ctx context.Context, symbol string, limit int) ([]HolderShare, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	// SubmitTrade buys amount USD or sells amount coins.
	SubmitTrade(ctx context.Context, symbol string, direction Direction, amount float64) (*TradeResult, error)
}

// ConfigRepository stores versioned configuration documents.
type ConfigRepository interface {
	// LoadConfig decodes the named document into dst and returns its version, or ErrNotFound.
	LoadConfig(ctx context.Context, name string, dst any) (int, error)
	// SaveConfig stores cfg and returns the new version.
	SaveConfig(ctx context.Context, name string, cfg any) (int, error)
}

// SentinelRepository stores sentinels. Bulk and claim operations are single conditional writes.
type SentinelRepository interface {
	SaveSentinel(ctx context.Context, s *Sentinel) error
	GetSentinel(ctx context.Context, id string) (*Sentinel, error)
	ListSentinels(ctx context.Context) ([]*Sentinel, error)
	ListPendingSentinels(ctx context.Context) ([]*Sentinel, error)
	DeleteSentinel(ctx context.Context, id string) error
	UpdateThresholds(ctx context.Context, id string, t SentinelThresholds) error
	SetSentinelActive(ctx context.Context, id string, active bool) error
	SetAllSentinelsActive(ctx context.Context, active bool) (int64, error)
	ApplyThresholdsToAll(ctx context.Context, t SentinelThresholds) (int64, error)
	RaiseHighestPrice(ctx context.Context, id string, price float64) error
	// ClaimSentinelTrigger marks the sentinel triggered; false means someone else already did.
	ClaimSentinelTrigger(ctx context.Context, id string, at time.Time, reason TriggerReason) (bool, error)
	DeleteTriggeredSentinels(ctx context.Context) (int64, error)
	// DeletePendingSentinelsNotIn removes live sentinels created before cutoff whose symbol is not listed.
	DeletePendingSentinelsNotIn(ctx context.Context, symbols []string, cutoff time.Time) (int64, error)
}

// TradeRepository stores transaction records and answers rolling-window questions.
type TradeRepository interface {
	// RecordTrade writes the record and bumps the source engine's trade counters in one transaction.
	RecordTrade(ctx context.Context, rec *TransactionRecord) error
	ListTransactions(ctx context.Context, source string, page Page) ([]*TransactionRecord, int, error)
	TradeStatsSince(ctx context.Context, source string, direction Direction, since time.Time) (TradeWindowStats, error)
	LastLossAt(ctx context.Context) (time.Time, error)
	LastBuyAt(ctx context.Context, source, symbol string) (time.Time, error)
}

type SniperRepository interface {
	ClaimSniped(ctx context.Context, s *SnipedSymbol) (bool, error)
	CompleteSniped(ctx context.Context, s *SnipedSymbol) error
	ReleaseSniped(ctx context.Context, symbol string) error
	ListSniped(ctx context.Context, page Page) ([]*SnipedSymbol, int, error)
	ClearSniped(ctx context.Context) (int64, error)
}

type MirrorRepository interface {
	ClaimMirroredTrade(ctx context.Context, m *MirroredTrade) (bool, error)
	FinishMirroredTrade(ctx context.Context, m *MirroredTrade) error
	ListMirroredTrades(ctx context.Context, page Page) ([]*MirroredTrade, int, error)
	PruneMirroredTrades(ctx context.Context, before time.Time) (int64, error)
}

type DipBuyerRepository interface {
	// ClaimDipTrade reserves a feed trade for buying; false means it was claimed before.
	ClaimDipTrade(ctx context.Context, tradeID, symbol string, at time.Time) (bool, error)
	ReleaseDipTrade(ctx context.Context, tradeID string) error
	SaveDipBuyerLog(ctx context.Context, e *DipBuyerLogEntry) error
	ListDipBuyerLog(ctx context.Context, page Page) ([]*DipBuyerLogEntry, int, error)
	PruneDipBuyerLog(ctx context.Context, before time.Time) (int64, error)
}

type EngineStateRepository interface {
	GetEngineState(ctx context.Context, name string) (*EngineState, error)
	SaveEngineState(ctx context.Context, st *EngineState) error
}
