package logger

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vitos/coin_autopilot/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Encoding == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return zc.Build()
}

// NewFileLogger writes JSON lines to path in addition to stdout.
func NewFileLogger(path string, level string) (*zap.Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(parseLevel(level))
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stdout", path}

	return zc.Build()
}

// ForEngine returns a named logger for an engine, backed by its own file when a log dir is configured.
func ForEngine(base *zap.Logger, cfg config.LoggingConfig, engine string) *zap.Logger {
	if cfg.EngineLogDir == "" {
		return base.Named(engine)
	}
	l, err := NewFileLogger(filepath.Join(cfg.EngineLogDir, engine+".log"), cfg.Level)
	if err != nil {
		base.Error("Failed to init engine logger, using default", zap.String("engine", engine), zap.Error(err))
		return base.Named(engine)
	}
	return l.Named(engine)
}
