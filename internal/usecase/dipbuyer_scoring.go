package usecase

import (
	"fmt"
	"math"

	"github.com/cinar/indicator"
	"github.com/samber/lo"
	"github.com/vitos/coin_autopilot/internal/domain"
)

// Signal names as they appear in the dip buyer log.
const (
	SignalSellImpact    = "sell_impact"
	SignalHolderSafety  = "holder_safety"
	SignalMomentum      = "momentum"
	SignalVolumeQuality = "volume_quality"
)

const (
	rsiPeriod         = 14
	minMomentumCandle = rsiPeriod + 1
	// A price drop of this size or more earns the full sell impact score.
	fullImpactDrop = 0.15
	// Drops beyond this look like a collapse rather than a dip.
	crashDrop = 0.6
)

// DipSignalInput is the market data the four dip signals are computed from.
type DipSignalInput struct {
	SellUsd     float64
	PoolDepth   float64
	Volume24h   float64
	MarketCap   float64
	CreatorID   string
	Holders     []domain.HolderShare
	Candles     []domain.Candle
	UseMomentum bool
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// NormalizeWeights scales weights to sum to 1. Momentum is zeroed when disabled.
// If every weight is zero the enabled signals share equally.
func NormalizeWeights(w domain.SignalWeights, useMomentum bool) domain.SignalWeights {
	if !useMomentum {
		w.Momentum = 0
	}
	w.SellImpact = math.Max(0, w.SellImpact)
	w.HolderSafety = math.Max(0, w.HolderSafety)
	w.Momentum = math.Max(0, w.Momentum)
	w.VolumeQuality = math.Max(0, w.VolumeQuality)

	sum := w.SellImpact + w.HolderSafety + w.Momentum + w.VolumeQuality
	if sum <= 0 {
		if useMomentum {
			return domain.SignalWeights{SellImpact: 0.25, HolderSafety: 0.25, Momentum: 0.25, VolumeQuality: 0.25}
		}
		third := 1.0 / 3
		return domain.SignalWeights{SellImpact: third, HolderSafety: third, VolumeQuality: third}
	}
	return domain.SignalWeights{
		SellImpact:    w.SellImpact / sum,
		HolderSafety:  w.HolderSafety / sum,
		Momentum:      w.Momentum / sum,
		VolumeQuality: w.VolumeQuality / sum,
	}
}

// ScoreDip combines the four signals into a confidence in [0,1] and returns the breakdown.
func ScoreDip(in DipSignalInput, weights domain.SignalWeights) (float64, []domain.SignalBreakdown) {
	w := NormalizeWeights(weights, in.UseMomentum)

	impact, impactWhy := SellImpactSignal(in.SellUsd, in.PoolDepth)
	safety, safetyWhy := HolderSafetySignal(in.Holders, in.CreatorID)
	momentum, momentumWhy := 0.0, "momentum analysis disabled"
	if in.UseMomentum {
		momentum, momentumWhy = MomentumSignal(in.Candles)
	}
	volume, volumeWhy := VolumeQualitySignal(in.Volume24h, in.MarketCap, in.SellUsd)

	breakdown := []domain.SignalBreakdown{
		{Name: SignalSellImpact, Score: impact, Weight: w.SellImpact, Reason: impactWhy},
		{Name: SignalHolderSafety, Score: safety, Weight: w.HolderSafety, Reason: safetyWhy},
		{Name: SignalMomentum, Score: momentum, Weight: w.Momentum, Reason: momentumWhy},
		{Name: SignalVolumeQuality, Score: volume, Weight: w.VolumeQuality, Reason: volumeWhy},
	}
	for i := range breakdown {
		breakdown[i].Weighted = breakdown[i].Score * breakdown[i].Weight
	}
	confidence := lo.SumBy(breakdown, func(b domain.SignalBreakdown) float64 { return b.Weighted })
	return clamp01(confidence), breakdown
}

// PriceDropFromSell is the fractional price drop a sell of sellUsd causes in a
// constant-product pool holding poolUsd on the quote side.
func PriceDropFromSell(sellUsd, poolUsd float64) float64 {
	if poolUsd <= 0 || sellUsd <= 0 {
		return 0
	}
	r := poolUsd / (poolUsd + sellUsd)
	return 1 - r*r
}

// SellImpactSignal rewards sells that pushed the price down meaningfully, but not a collapse.
func SellImpactSignal(sellUsd, poolUsd float64) (float64, string) {
	if poolUsd <= 0 {
		return 0, "pool depth unknown"
	}
	drop := PriceDropFromSell(sellUsd, poolUsd)
	score := clamp01(drop / fullImpactDrop)
	if drop > crashDrop {
		score *= 0.5
		return score, fmt.Sprintf("sell moved price %.1f%%, looks like a collapse", drop*100)
	}
	return score, fmt.Sprintf("sell moved price %.1f%%", drop*100)
}

// HolderSafetySignal penalizes concentrated supply and a creator still holding a large share.
func HolderSafetySignal(holders []domain.HolderShare, creatorID string) (float64, string) {
	if len(holders) == 0 {
		return 0.5, "holder data unavailable"
	}
	top := lo.Slice(holders, 0, 5)
	concentration := lo.SumBy(top, func(h domain.HolderShare) float64 { return h.Percentage })
	score := clamp01(1 - (concentration-20)/60)
	reason := fmt.Sprintf("top %d hold %.1f%%", len(top), concentration)

	if creatorID != "" {
		if c, ok := lo.Find(holders, func(h domain.HolderShare) bool { return h.AccountID == creatorID }); ok && c.Percentage > 10 {
			score *= 0.5
			reason += fmt.Sprintf(", creator holds %.1f%%", c.Percentage)
		}
	}
	return score, reason
}

// MomentumSignal looks for seller exhaustion: a low RSI and a long lower wick on the last candle.
func MomentumSignal(candles []domain.Candle) (float64, string) {
	if len(candles) < minMomentumCandle {
		return 0.5, fmt.Sprintf("only %d candles, neutral", len(candles))
	}
	closes := lo.Map(candles, func(c domain.Candle, _ int) float64 { return c.Close })
	_, rsi := indicator.RsiPeriod(rsiPeriod, closes)
	last := lo.LastOrEmpty(rsi)
	rsiScore := clamp01((50 - last) / 30)

	c := candles[len(candles)-1]
	wickScore := 0.0
	if rng := c.High - c.Low; rng > 0 {
		wickScore = clamp01((math.Min(c.Open, c.Close) - c.Low) / rng)
	}
	score := clamp01(0.6*rsiScore + 0.4*wickScore)
	return score, fmt.Sprintf("RSI %.1f, lower wick %.0f%% of range", last, wickScore*100)
}

// VolumeQualitySignal favors actively traded coins where the sell is small relative to daily volume.
func VolumeQualitySignal(volume24h, marketCap, sellUsd float64) (float64, string) {
	if volume24h <= 0 {
		return 0, "no 24h volume"
	}
	turnover := 0.0
	if marketCap > 0 {
		turnover = volume24h / marketCap
	}
	share := clamp01(sellUsd / volume24h)
	score := clamp01(0.7*clamp01(turnover/0.5) + 0.3*(1-share))
	return score, fmt.Sprintf("turnover %.2f, sell is %.0f%% of 24h volume", turnover, share*100)
}

// BuySlippagePct estimates the slippage of buying buyUsd against a pool holding poolUsd.
func BuySlippagePct(buyUsd, poolUsd float64) float64 {
	if poolUsd <= 0 {
		return math.Inf(1)
	}
	return buyUsd / poolUsd * 100
}
