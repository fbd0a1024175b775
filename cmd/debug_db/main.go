package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "autopilot.db", "sqlite database")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	sentinels, err := store.ListSentinels(ctx)
	if err != nil {
		fmt.Printf("Failed to list sentinels: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d sentinels:\n", len(sentinels))
	for _, s := range sentinels {
		state := "active"
		switch {
		case s.Triggered():
			state = "triggered (" + string(s.TriggerReason) + ")"
		case !s.IsActive:
			state = "paused"
		}
		fmt.Printf("- %s %s entry=%f peak=%f sell=%.0f%% %s\n", s.ID, s.Symbol, s.EntryPrice, s.HighestPriceSeen, s.SellPercentage, state)
	}

	fmt.Println("Engine state:")
	for _, name := range []string{domain.ConfigSentinel, domain.ConfigSniper, domain.ConfigMirror, domain.ConfigDipBuyer} {
		st, err := store.GetEngineState(ctx, name)
		if err != nil {
			fmt.Printf("  ❌ %s: %v\n", name, err)
			continue
		}
		fmt.Printf("  %s trades=%d last_run=%v last_trade=%v cursors=%v\n", name, st.TradeCount, st.LastRunAt, st.LastTradeAt, st.Cursors)
		if st.LastError != "" {
			fmt.Printf("    last error: %s\n", st.LastError)
		}
	}

	txs, total, err := store.ListTransactions(ctx, "", domain.Page{Limit: 10})
	if err != nil {
		fmt.Printf("Failed to list transactions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Last %d of %d transactions:\n", len(txs), total)
	for _, t := range txs {
		fmt.Printf("  %s %s %s %f @ %f = $%.2f pnl=%.2f [%s]\n",
			t.Timestamp.Format("2006-01-02 15:04:05"), t.TradeType, t.Symbol, t.CoinAmount, t.Price, t.UsdValue, t.RealizedPnL, t.Source)
	}
}
