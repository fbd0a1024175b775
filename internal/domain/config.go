package domain

import (
	"strings"
	"time"
)

// Names of the persisted configuration documents.
const (
	ConfigSentinel   = "sentinel"
	ConfigSniper     = "sniper"
	ConfigMirror     = "mirror"
	ConfigDipBuyer   = "dipbuyer"
	ConfigRiskLimits = "risk"
)

// RiskLimits apply to every trade submission regardless of origin. Zero means no limit.
type RiskLimits struct {
	Version               int     `json:"version"`
	MaxPositionUsd        float64 `json:"max_position_usd"`
	MaxDailyTradesCount   int     `json:"max_daily_trades_count"`
	MaxDailyVolumeUsd     float64 `json:"max_daily_volume_usd"`
	CooldownAfterLossSecs int     `json:"cooldown_after_loss_secs"`
	RetryCount            int     `json:"retry_count"`
	RetryDelayMs          int     `json:"retry_delay_ms"`
	RateLimitMs           int     `json:"rate_limit_ms"`
}

func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		RetryCount:   2,
		RetryDelayMs: 500,
		RateLimitMs:  1000,
	}
}

func (r RiskLimits) Validate() error {
	switch {
	case r.MaxPositionUsd < 0:
		return &ConfigError{Field: "max_position_usd", Reason: "must not be negative"}
	case r.MaxDailyTradesCount < 0:
		return &ConfigError{Field: "max_daily_trades_count", Reason: "must not be negative"}
	case r.MaxDailyVolumeUsd < 0:
		return &ConfigError{Field: "max_daily_volume_usd", Reason: "must not be negative"}
	case r.CooldownAfterLossSecs < 0:
		return &ConfigError{Field: "cooldown_after_loss_secs", Reason: "must not be negative"}
	case r.RetryCount < 0 || r.RetryCount > 10:
		return &ConfigError{Field: "retry_count", Reason: "must be between 0 and 10"}
	case r.RetryDelayMs < 0:
		return &ConfigError{Field: "retry_delay_ms", Reason: "must not be negative"}
	case r.RateLimitMs < 0:
		return &ConfigError{Field: "rate_limit_ms", Reason: "must not be negative"}
	}
	return nil
}

// AutoSentinelConfig describes the sentinel an engine spawns after a successful buy.
type AutoSentinelConfig struct {
	AutoCreateSentinel bool     `json:"auto_create_sentinel"`
	StopLossPct        *float64 `json:"stop_loss_pct"`
	TakeProfitPct      *float64 `json:"take_profit_pct"`
	TrailingStopPct    *float64 `json:"trailing_stop_pct"`
	SellPercentage     float64  `json:"sell_percentage"`
}

func (a AutoSentinelConfig) Thresholds() SentinelThresholds {
	sell := a.SellPercentage
	if sell == 0 {
		sell = 100
	}
	return SentinelThresholds{
		StopLossPct:     a.StopLossPct,
		TakeProfitPct:   a.TakeProfitPct,
		TrailingStopPct: a.TrailingStopPct,
		SellPercentage:  sell,
	}
}

func (a AutoSentinelConfig) Validate() error {
	if !a.AutoCreateSentinel {
		return nil
	}
	return a.Thresholds().Validate()
}

// SentinelConfig controls the monitor loop and portfolio auto-management.
type SentinelConfig struct {
	Version            int                `json:"version"`
	Enabled            bool               `json:"enabled"`
	CheckIntervalSecs  int                `json:"check_interval_secs"`
	AutoManage         bool               `json:"auto_manage"`
	MinHoldingValueUsd float64            `json:"min_holding_value_usd"`
	Blacklist          []string           `json:"blacklist"`
	Defaults           SentinelThresholds `json:"defaults"`
}

func DefaultSentinelConfig() SentinelConfig {
	return SentinelConfig{
		Enabled:            true,
		CheckIntervalSecs:  10,
		MinHoldingValueUsd: 1,
		Blacklist:          []string{},
		Defaults: SentinelThresholds{
			StopLossPct:    Float(-15),
			TakeProfitPct:  Float(50),
			SellPercentage: 100,
		},
	}
}

func (c SentinelConfig) Validate() error {
	if c.CheckIntervalSecs < 1 {
		return &ConfigError{Field: "check_interval_secs", Reason: "must be at least 1"}
	}
	if c.MinHoldingValueUsd < 0 {
		return &ConfigError{Field: "min_holding_value_usd", Reason: "must not be negative"}
	}
	return c.Defaults.Validate()
}

func (c SentinelConfig) Interval() time.Duration {
	return secs(c.CheckIntervalSecs, 10)
}

func (c SentinelConfig) IsBlacklisted(symbol string) bool {
	return containsFold(c.Blacklist, symbol)
}

// SniperConfig drives the new-listing auto-buyer.
type SniperConfig struct {
	Version             int                `json:"version"`
	Enabled             bool               `json:"enabled"`
	BuyAmountUsd        float64            `json:"buy_amount_usd"`
	MaxCoinAgeSecs      int64              `json:"max_coin_age_secs"`
	MaxMarketCapUsd     float64            `json:"max_market_cap_usd"`
	MinLiquidityUsd     float64            `json:"min_liquidity_usd"`
	MaxDailySpendUsd    float64            `json:"max_daily_spend_usd"`
	BlacklistedCreators []string           `json:"blacklisted_creators"`
	PollIntervalSecs    int                `json:"poll_interval_secs"`
	AutoSentinel        AutoSentinelConfig `json:"auto_sentinel"`
}

func DefaultSniperConfig() SniperConfig {
	return SniperConfig{
		BuyAmountUsd:        10,
		MaxCoinAgeSecs:      300,
		MaxDailySpendUsd:    100,
		BlacklistedCreators: []string{},
		PollIntervalSecs:    15,
	}
}

func (c SniperConfig) Validate() error {
	switch {
	case c.BuyAmountUsd <= 0:
		return &ConfigError{Field: "buy_amount_usd", Reason: "must be positive"}
	case c.MaxCoinAgeSecs < 0 || c.MaxMarketCapUsd < 0 || c.MinLiquidityUsd < 0 || c.MaxDailySpendUsd < 0:
		return &ConfigError{Field: "filters", Reason: "must not be negative"}
	case c.PollIntervalSecs < 1:
		return &ConfigError{Field: "poll_interval_secs", Reason: "must be at least 1"}
	}
	return c.AutoSentinel.Validate()
}

func (c SniperConfig) Interval() time.Duration {
	return secs(c.PollIntervalSecs, 15)
}

func (c SniperConfig) IsCreatorBlacklisted(creator string) bool {
	return containsFold(c.BlacklistedCreators, creator)
}

// MirrorConfig drives whale copy-trading.
type MirrorConfig struct {
	Version           int                `json:"version"`
	Enabled           bool               `json:"enabled"`
	TrackedAccounts   []string           `json:"tracked_accounts"`
	ScaleFactor       float64            `json:"scale_factor"`
	MaxTradeUsd       float64            `json:"max_trade_usd"`
	MinTradeUsd       float64            `json:"min_trade_usd"`
	MaxLatencySecs    int                `json:"max_latency_secs"`
	SkipIfAlreadyHeld bool               `json:"skip_if_already_held"`
	MirrorSells       bool               `json:"mirror_sells"`
	PollIntervalSecs  int                `json:"poll_interval_secs"`
	AutoSentinel      AutoSentinelConfig `json:"auto_sentinel"`
}

func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		TrackedAccounts:  []string{},
		ScaleFactor:      0.1,
		MaxTradeUsd:      50,
		MinTradeUsd:      1,
		MaxLatencySecs:   60,
		MirrorSells:      true,
		PollIntervalSecs: 10,
	}
}

func (c MirrorConfig) Validate() error {
	switch {
	case c.ScaleFactor <= 0:
		return &ConfigError{Field: "scale_factor", Reason: "must be positive"}
	case c.MaxTradeUsd < 0 || c.MinTradeUsd < 0:
		return &ConfigError{Field: "trade_usd", Reason: "must not be negative"}
	case c.MaxLatencySecs < 0:
		return &ConfigError{Field: "max_latency_secs", Reason: "must not be negative"}
	case c.PollIntervalSecs < 1:
		return &ConfigError{Field: "poll_interval_secs", Reason: "must be at least 1"}
	}
	return c.AutoSentinel.Validate()
}

func (c MirrorConfig) Interval() time.Duration {
	return secs(c.PollIntervalSecs, 10)
}

// SignalWeights are raw weights; they are normalized before scoring.
type SignalWeights struct {
	SellImpact    float64 `json:"sell_impact"`
	HolderSafety  float64 `json:"holder_safety"`
	Momentum      float64 `json:"momentum"`
	VolumeQuality float64 `json:"volume_quality"`
}

// CoinTier overrides dip buyer parameters for a [MinMcap, MaxMcap) market cap bracket.
type CoinTier struct {
	Name              string   `json:"name"`
	MinMcap           float64  `json:"min_mcap"`
	MaxMcap           float64  `json:"max_mcap"` // 0 = unbounded
	BuyAmountUsd      float64  `json:"buy_amount_usd"`
	MinSellValueUsd   *float64 `json:"min_sell_value_usd"`
	MinVolume24h      *float64 `json:"min_volume_24h"`
	MaxBuySlippagePct *float64 `json:"max_buy_slippage_pct"`
}

func (t CoinTier) Contains(mcap float64) bool {
	if mcap < t.MinMcap {
		return false
	}
	return t.MaxMcap <= 0 || mcap < t.MaxMcap
}

// DipBuyerConfig drives confidence-scored dip buying.
type DipBuyerConfig struct {
	Version             int                `json:"version"`
	Enabled             bool               `json:"enabled"`
	PollIntervalSecs    int                `json:"poll_interval_secs"`
	BuyAmountUsd        float64            `json:"buy_amount_usd"`
	MinSellValueUsd     float64            `json:"min_sell_value_usd"`
	MinVolume24h        float64            `json:"min_volume_24h"`
	MinMarketCap        float64            `json:"min_market_cap"`
	MaxMarketCap        float64            `json:"max_market_cap"`
	MaxPriceDropPct     float64            `json:"max_price_drop_pct"` // negative, e.g. -60
	SkipTopNHolders     int                `json:"skip_top_n_holders"`
	MaxDailyBuys        int                `json:"max_daily_buys"`
	MaxDailySpendUsd    float64            `json:"max_daily_spend_usd"`
	CooldownPerCoinSecs int                `json:"cooldown_per_coin_secs"`
	MinConfidenceScore  float64            `json:"min_confidence_score"`
	SignalWeights       SignalWeights      `json:"signal_weights"`
	UseMomentumAnalysis bool               `json:"use_momentum_analysis"`
	UseCoinTiers        bool               `json:"use_coin_tiers"`
	Tiers               []CoinTier         `json:"tiers"`
	ScaleByConfidence   bool               `json:"scale_by_confidence"`
	PortfolioAware      bool               `json:"portfolio_aware"`
	MaxPositionPct      float64            `json:"max_position_pct"`
	MaxBuySlippagePct   float64            `json:"max_buy_slippage_pct"`
	BlacklistedCoins    []string           `json:"blacklisted_coins"`
	AutoSentinel        AutoSentinelConfig `json:"auto_sentinel"`
}

func DefaultDipBuyerConfig() DipBuyerConfig {
	return DipBuyerConfig{
		PollIntervalSecs:    8,
		BuyAmountUsd:        10,
		MinSellValueUsd:     100,
		MinVolume24h:        500,
		MaxPriceDropPct:     -60,
		SkipTopNHolders:     3,
		MaxDailyBuys:        20,
		MaxDailySpendUsd:    200,
		CooldownPerCoinSecs: 1800,
		MinConfidenceScore:  0.6,
		SignalWeights: SignalWeights{
			SellImpact:    0.35,
			HolderSafety:  0.25,
			Momentum:      0.2,
			VolumeQuality: 0.2,
		},
		UseMomentumAnalysis: true,
		Tiers:               []CoinTier{},
		MaxBuySlippagePct:   5,
		BlacklistedCoins:    []string{},
	}
}

func (c DipBuyerConfig) Validate() error {
	switch {
	case c.PollIntervalSecs < 1:
		return &ConfigError{Field: "poll_interval_secs", Reason: "must be at least 1"}
	case c.BuyAmountUsd <= 0:
		return &ConfigError{Field: "buy_amount_usd", Reason: "must be positive"}
	case c.MinConfidenceScore < 0 || c.MinConfidenceScore > 1:
		return &ConfigError{Field: "min_confidence_score", Reason: "must be between 0 and 1"}
	case c.MaxMarketCap > 0 && c.MaxMarketCap < c.MinMarketCap:
		return &ConfigError{Field: "max_market_cap", Reason: "must not be below min_market_cap"}
	case c.MaxPriceDropPct > 0:
		return &ConfigError{Field: "max_price_drop_pct", Reason: "must be zero or negative"}
	case c.MaxPositionPct < 0 || c.MaxPositionPct > 100:
		return &ConfigError{Field: "max_position_pct", Reason: "must be between 0 and 100"}
	case c.SkipTopNHolders < 0 || c.MaxDailyBuys < 0 || c.CooldownPerCoinSecs < 0:
		return &ConfigError{Field: "limits", Reason: "must not be negative"}
	case c.MaxDailySpendUsd < 0 || c.MaxBuySlippagePct < 0 || c.MinSellValueUsd < 0 || c.MinVolume24h < 0:
		return &ConfigError{Field: "thresholds", Reason: "must not be negative"}
	}
	w := c.SignalWeights
	if w.SellImpact < 0 || w.HolderSafety < 0 || w.Momentum < 0 || w.VolumeQuality < 0 {
		return &ConfigError{Field: "signal_weights", Reason: "must not be negative"}
	}
	for _, t := range c.Tiers {
		if t.MaxMcap > 0 && t.MaxMcap <= t.MinMcap {
			return &ConfigError{Field: "tiers", Reason: "tier " + t.Name + " has an empty market cap bracket"}
		}
		if t.BuyAmountUsd < 0 {
			return &ConfigError{Field: "tiers", Reason: "tier " + t.Name + " buy amount must not be negative"}
		}
	}
	return c.AutoSentinel.Validate()
}

func (c DipBuyerConfig) Interval() time.Duration {
	return secs(c.PollIntervalSecs, 8)
}

func (c DipBuyerConfig) IsBlacklisted(symbol string) bool {
	return containsFold(c.BlacklistedCoins, symbol)
}

// TierFor returns the first tier whose bracket contains mcap.
func (c DipBuyerConfig) TierFor(mcap float64) (CoinTier, bool) {
	for _, t := range c.Tiers {
		if t.Contains(mcap) {
			return t, true
		}
	}
	return CoinTier{}, false
}

func secs(n int, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
