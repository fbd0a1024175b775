package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

type validator interface {
	Validate() error
}

// ConfigService reads and writes the persisted engine configs and risk limits.
// Engines call the getters at the start of every tick, so updates apply without restart.
type ConfigService struct {
	repo   domain.ConfigRepository
	logger *zap.Logger
	mu     sync.Mutex
}

func NewConfigService(repo domain.ConfigRepository, logger *zap.Logger) *ConfigService {
	return &ConfigService{repo: repo, logger: logger}
}

// loadConfig decodes the named document over defaults. A missing document yields the defaults at version 0.
func loadConfig[T any](ctx context.Context, repo domain.ConfigRepository, name string, defaults T) (T, int, error) {
	cfg := defaults
	version, err := repo.LoadConfig(ctx, name, &cfg)
	if errors.Is(err, domain.ErrNotFound) {
		return defaults, 0, nil
	}
	if err != nil {
		return defaults, 0, err
	}
	return cfg, version, nil
}

func saveConfig[T validator](ctx context.Context, repo domain.ConfigRepository, name string, cfg T) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	return repo.SaveConfig(ctx, name, cfg)
}

func (s *ConfigService) Sentinel(ctx context.Context) (domain.SentinelConfig, error) {
	cfg, v, err := loadConfig(ctx, s.repo, domain.ConfigSentinel, domain.DefaultSentinelConfig())
	cfg.Version = v
	return cfg, err
}

func (s *ConfigService) UpdateSentinel(ctx context.Context, cfg domain.SentinelConfig) (domain.SentinelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := saveConfig(ctx, s.repo, domain.ConfigSentinel, cfg)
	if err != nil {
		return cfg, err
	}
	cfg.Version = v
	s.logger.Info("Sentinel config updated", zap.Int("version", v))
	return cfg, nil
}

func (s *ConfigService) Sniper(ctx context.Context) (domain.SniperConfig, error) {
	cfg, v, err := loadConfig(ctx, s.repo, domain.ConfigSniper, domain.DefaultSniperConfig())
	cfg.Version = v
	return cfg, err
}

func (s *ConfigService) UpdateSniper(ctx context.Context, cfg domain.SniperConfig) (domain.SniperConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := saveConfig(ctx, s.repo, domain.ConfigSniper, cfg)
	if err != nil {
		return cfg, err
	}
	cfg.Version = v
	s.logger.Info("Sniper config updated", zap.Int("version", v))
	return cfg, nil
}

func (s *ConfigService) Mirror(ctx context.Context) (domain.MirrorConfig, error) {
	cfg, v, err := loadConfig(ctx, s.repo, domain.ConfigMirror, domain.DefaultMirrorConfig())
	cfg.Version = v
	return cfg, err
}

func (s *ConfigService) UpdateMirror(ctx context.Context, cfg domain.MirrorConfig) (domain.MirrorConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := saveConfig(ctx, s.repo, domain.ConfigMirror, cfg)
	if err != nil {
		return cfg, err
	}
	cfg.Version = v
	s.logger.Info("Mirror config updated", zap.Int("version", v))
	return cfg, nil
}

func (s *ConfigService) DipBuyer(ctx context.Context) (domain.DipBuyerConfig, error) {
	cfg, v, err := loadConfig(ctx, s.repo, domain.ConfigDipBuyer, domain.DefaultDipBuyerConfig())
	cfg.Version = v
	return cfg, err
}

func (s *ConfigService) UpdateDipBuyer(ctx context.Context, cfg domain.DipBuyerConfig) (domain.DipBuyerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := saveConfig(ctx, s.repo, domain.ConfigDipBuyer, cfg)
	if err != nil {
		return cfg, err
	}
	cfg.Version = v
	s.logger.Info("Dip buyer config updated", zap.Int("version", v))
	return cfg, nil
}

func (s *ConfigService) RiskLimits(ctx context.Context) (domain.RiskLimits, error) {
	cfg, v, err := loadConfig(ctx, s.repo, domain.ConfigRiskLimits, domain.DefaultRiskLimits())
	cfg.Version = v
	return cfg, err
}

func (s *ConfigService) UpdateRiskLimits(ctx context.Context, cfg domain.RiskLimits) (domain.RiskLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := saveConfig(ctx, s.repo, domain.ConfigRiskLimits, cfg)
	if err != nil {
		return cfg, err
	}
	cfg.Version = v
	s.logger.Info("Risk limits updated", zap.Int("version", v))
	return cfg, nil
}

// SetEnabled flips the enabled flag of an engine config in place.
func (s *ConfigService) SetEnabled(ctx context.Context, engine string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		v   int
		err error
	)
	switch engine {
	case domain.ConfigSentinel:
		var cfg domain.SentinelConfig
		if cfg, _, err = loadConfig(ctx, s.repo, engine, domain.DefaultSentinelConfig()); err == nil {
			cfg.Enabled = enabled
			v, err = saveConfig(ctx, s.repo, engine, cfg)
		}
	case domain.ConfigSniper:
		var cfg domain.SniperConfig
		if cfg, _, err = loadConfig(ctx, s.repo, engine, domain.DefaultSniperConfig()); err == nil {
			cfg.Enabled = enabled
			v, err = saveConfig(ctx, s.repo, engine, cfg)
		}
	case domain.ConfigMirror:
		var cfg domain.MirrorConfig
		if cfg, _, err = loadConfig(ctx, s.repo, engine, domain.DefaultMirrorConfig()); err == nil {
			cfg.Enabled = enabled
			v, err = saveConfig(ctx, s.repo, engine, cfg)
		}
	case domain.ConfigDipBuyer:
		var cfg domain.DipBuyerConfig
		if cfg, _, err = loadConfig(ctx, s.repo, engine, domain.DefaultDipBuyerConfig()); err == nil {
			cfg.Enabled = enabled
			v, err = saveConfig(ctx, s.repo, engine, cfg)
		}
	default:
		return fmt.Errorf("unknown engine %q: %w", engine, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	s.logger.Info("Engine toggled", zap.String("engine", engine), zap.Bool("enabled", enabled), zap.Int("version", v))
	return nil
}

// Seed writes default documents for every config that was never saved.
func (s *ConfigService) Seed(ctx context.Context) error {
	seeds := map[string]validator{
		domain.ConfigSentinel:   domain.DefaultSentinelConfig(),
		domain.ConfigSniper:     domain.DefaultSniperConfig(),
		domain.ConfigMirror:     domain.DefaultMirrorConfig(),
		domain.ConfigDipBuyer:   domain.DefaultDipBuyerConfig(),
		domain.ConfigRiskLimits: domain.DefaultRiskLimits(),
	}
	for name, def := range seeds {
		var raw map[string]any
		_, err := s.repo.LoadConfig(ctx, name, &raw)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if _, err := saveConfig(ctx, s.repo, name, def); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		s.logger.Info("Seeded default config", zap.String("name", name))
	}
	return nil
}
