package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

type PruneResult struct {
	MirroredTrades int64 `json:"mirrored_trades"`
	DipBuyerLog    int64 `json:"dipbuyer_log"`
}

// Maintenance runs housekeeping jobs on cron schedules (six-field specs with seconds).
type Maintenance struct {
	cron      *cron.Cron
	mirrors   domain.MirrorRepository
	dipLog    domain.DipBuyerRepository
	trades    domain.TradeRepository
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewMaintenance(mirrors domain.MirrorRepository, dipLog domain.DipBuyerRepository, trades domain.TradeRepository, retentionDays int, logger *zap.Logger) *Maintenance {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Maintenance{
		cron:      cron.New(cron.WithSeconds()),
		mirrors:   mirrors,
		dipLog:    dipLog,
		trades:    trades,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
	}
}

// Schedule registers the prune and stats jobs. An empty spec disables that job.
func (m *Maintenance) Schedule(ctx context.Context, pruneSpec, statsSpec string) error {
	if pruneSpec != "" {
		if _, err := m.cron.AddFunc(pruneSpec, func() {
			if _, err := m.Prune(ctx); err != nil {
				m.logger.Error("Prune job failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("prune spec %q: %w", pruneSpec, err)
		}
	}
	if statsSpec != "" {
		if _, err := m.cron.AddFunc(statsSpec, func() {
			if err := m.LogStats(ctx); err != nil {
				m.logger.Error("Stats job failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("stats spec %q: %w", statsSpec, err)
		}
	}
	return nil
}

func (m *Maintenance) Start() {
	m.logger.Info("Maintenance scheduler started", zap.Int("jobs", len(m.cron.Entries())))
	m.cron.Start()
}

func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("Maintenance scheduler stopped")
}

// Prune drops finished mirror dedup rows and dip buyer log entries older than the retention window.
func (m *Maintenance) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	before := m.now().Add(-m.retention)

	n, err := m.mirrors.PruneMirroredTrades(ctx, before)
	if err != nil {
		return res, err
	}
	res.MirroredTrades = n

	n, err = m.dipLog.PruneDipBuyerLog(ctx, before)
	if err != nil {
		return res, err
	}
	res.DipBuyerLog = n

	m.logger.Info("Pruned old records",
		zap.Time("before", before),
		zap.Int64("mirrored_trades", res.MirroredTrades),
		zap.Int64("dipbuyer_log", res.DipBuyerLog))
	return res, nil
}

// LogStats writes the rolling 24h totals per source.
func (m *Maintenance) LogStats(ctx context.Context) error {
	since := m.now().Add(-dailyWindow)
	fields := make([]zap.Field, 0, 12)
	for _, src := range []string{"", domain.SourceManual, domain.SourceSentinel, domain.SourceSniper, domain.SourceMirror, domain.SourceDipBuyer} {
		st, err := m.trades.TradeStatsSince(ctx, src, "", since)
		if err != nil {
			return err
		}
		name := src
		if name == "" {
			name = "total"
		}
		fields = append(fields, zap.Int(name+"_trades", st.Count), zap.Float64(name+"_usd", st.VolumeUsd))
	}
	m.logger.Info("24h trade stats", fields...)
	return nil
}
