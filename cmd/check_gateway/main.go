package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/coin_autopilot/internal/config"
	"github.com/vitos/coin_autopilot/internal/infrastructure/gateway"
)

// check_gateway exercises the read-only gateway endpoints with the configured credentials.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	symbol := flag.String("symbol", "", "coin to quote")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing gateway interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Gateway.BaseURL)
	if len(cfg.Gateway.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", cfg.Gateway.APIKey[:4])
	}

	client := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	ctx := context.Background()

	// 2. Check Holdings (authenticated)
	holdings, err := client.GetHoldings(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get holdings: %v\n", err)
	} else {
		fmt.Printf("✅ Holdings: %d coins\n", len(holdings))
		for _, h := range holdings {
			fmt.Printf("   %s qty=%f avg=%f value=%.2f\n", h.Symbol, h.Quantity, h.AvgPurchasePrice, h.Value)
		}
	}

	// 3. Check New Listings
	coins, cursor, err := client.GetNewListings(ctx, "")
	if err != nil {
		fmt.Printf("❌ Failed to get listings: %v\n", err)
	} else {
		fmt.Printf("✅ New listings: %d (cursor %q)\n", len(coins), cursor)
	}

	// 4. Check Global Trade Feed
	trades, _, err := client.GetRecentTrades(ctx, "", "")
	if err != nil {
		fmt.Printf("❌ Failed to get trade feed: %v\n", err)
	} else {
		fmt.Printf("✅ Recent trades: %d\n", len(trades))
	}

	// 5. Check Quote
	sym := *symbol
	if sym == "" && len(coins) > 0 {
		sym = coins[0].Symbol
	}
	if sym == "" {
		return
	}
	q, err := client.GetQuote(ctx, sym)
	if err != nil {
		fmt.Printf("❌ Failed to get quote: %v\n", err)
		return
	}
	fmt.Printf("✅ %s price=%f mcap=%.0f vol24h=%.0f pool=%.0f change=%.2f%%\n",
		q.Symbol, q.Price, q.MarketCap, q.Volume24h, q.PoolDepth, q.Change24hPct)
}
