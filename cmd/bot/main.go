package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/coin_autopilot/internal/config"
	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/infrastructure/events"
	"github.com/vitos/coin_autopilot/internal/infrastructure/gateway"
	"github.com/vitos/coin_autopilot/internal/infrastructure/logger"
	"github.com/vitos/coin_autopilot/internal/infrastructure/storage"
	"github.com/vitos/coin_autopilot/internal/usecase"
	"github.com/vitos/coin_autopilot/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Market Gateway
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Event Bus (+ optional Redis fan-out)
	bus := events.NewBus(log.Named("events"))
	var history web.EventHistory
	if cfg.Events.RedisAddr != "" {
		sink := events.NewRedisSink(cfg.Events.RedisAddr, cfg.Events.RedisChannel, log.Named("redis"))
		defer sink.Close()
		history = sink
		go func() {
			if err := sink.Run(ctx, bus, cfg.Events.Buffer); err != nil {
				log.Error("Redis event sink stopped", zap.Error(err))
			}
		}()
	}

	// 6. Init Services
	configs := usecase.NewConfigService(store, log)
	if err := configs.Seed(ctx); err != nil {
		log.Fatal("Failed to seed configuration", zap.Error(err))
	}
	portfolio := usecase.NewPortfolioView(gw, log)
	executor := usecase.NewTradeExecutor(gw, store, portfolio, bus, log)
	gate := usecase.NewRiskGate(configs, store, executor, log)

	sentinels := usecase.NewSentinelService(configs, store, gw, portfolio, gate, bus,
		logger.ForEngine(log, cfg.Logging, domain.ConfigSentinel))
	sniper := usecase.NewSniperService(configs, store, store, store, gw, gate, sentinels, bus,
		logger.ForEngine(log, cfg.Logging, domain.ConfigSniper))
	mirror := usecase.NewMirrorService(configs, store, store, gw, portfolio, gate, sentinels, bus,
		logger.ForEngine(log, cfg.Logging, domain.ConfigMirror))
	dipBuyer := usecase.NewDipBuyerService(configs, store, store, store, gw, portfolio, gate, sentinels, bus,
		logger.ForEngine(log, cfg.Logging, domain.ConfigDipBuyer))

	if _, err := portfolio.Refresh(ctx); err != nil {
		log.Warn("Initial portfolio refresh failed", zap.Error(err))
	}

	// 7. Start Engines
	engines := usecase.NewEngines(configs, store, log, sentinels.Loop(), sniper.Loop(), mirror.Loop(), dipBuyer.Loop())
	if err := engines.StartAll(ctx); err != nil {
		log.Fatal("Failed to start engines", zap.Error(err))
	}

	// 8. Maintenance Jobs
	maintenance := usecase.NewMaintenance(store, store, store, cfg.Maintenance.RetentionDays, log.Named("maintenance"))
	if err := maintenance.Schedule(ctx, cfg.Maintenance.PruneSpec, cfg.Maintenance.StatsSpec); err != nil {
		log.Fatal("Failed to schedule maintenance", zap.Error(err))
	}
	maintenance.Start()

	// 9. Start Server
	server := web.NewServer(cfg.Server.Port, cfg.Server.JWTSecret, web.Services{
		Configs:   configs,
		Engines:   engines,
		Gate:      gate,
		Portfolio: portfolio,
		Sentinels: sentinels,
		Sniper:    sniper,
		Mirror:    mirror,
		DipBuyer:  dipBuyer,
		Trades:    store,
		History:   history,
	}, bus, log.Named("web"))
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()
	if cfg.Server.JWTSecret == "" {
		log.Warn("API is running without authentication")
	}

	// 10. Wait for Shutdown
	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	maintenance.Stop()
	engines.StopAll()
}
