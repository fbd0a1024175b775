package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type EngineStatus struct {
	Name    string              `json:"name"`
	Enabled bool                `json:"enabled"`
	Loop    LoopStatus          `json:"loop"`
	State   *domain.EngineState `json:"state,omitempty"`
}

// Engines owns the engine loops and keeps them in step with the persisted enabled flags.
type Engines struct {
	configs *ConfigService
	state   domain.EngineStateRepository
	logger  *zap.Logger

	order []string
	loops map[string]*Loop

	mu  sync.Mutex
	ctx context.Context
}

func NewEngines(configs *ConfigService, state domain.EngineStateRepository, logger *zap.Logger, loops ...*Loop) *Engines {
	e := &Engines{
		configs: configs,
		state:   state,
		logger:  logger,
		loops:   make(map[string]*Loop, len(loops)),
	}
	for _, l := range loops {
		e.order = append(e.order, l.Name())
		e.loops[l.Name()] = l
	}
	return e
}

func (e *Engines) Loop(name string) (*Loop, error) {
	l, ok := e.loops[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q: %w", name, domain.ErrNotFound)
	}
	return l, nil
}

func (e *Engines) enabled(ctx context.Context, name string) (bool, error) {
	switch name {
	case domain.ConfigSentinel:
		cfg, err := e.configs.Sentinel(ctx)
		return cfg.Enabled, err
	case domain.ConfigSniper:
		cfg, err := e.configs.Sniper(ctx)
		return cfg.Enabled, err
	case domain.ConfigMirror:
		cfg, err := e.configs.Mirror(ctx)
		return cfg.Enabled, err
	case domain.ConfigDipBuyer:
		cfg, err := e.configs.DipBuyer(ctx)
		return cfg.Enabled, err
	}
	return false, fmt.Errorf("unknown engine %q: %w", name, domain.ErrNotFound)
}

// StartAll starts every loop. Disabled engines start paused so enabling them needs no restart.
func (e *Engines) StartAll(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	for _, name := range e.order {
		on, err := e.enabled(ctx, name)
		if err != nil {
			return err
		}
		l := e.loops[name]
		if !on {
			l.Pause()
		}
		l.Start(ctx)
		e.logger.Info("Engine registered", zap.String("engine", name), zap.Bool("enabled", on))
	}
	return nil
}

// StopAll stops every loop and waits for in-flight ticks.
func (e *Engines) StopAll() {
	var g errgroup.Group
	for _, l := range e.loops {
		g.Go(func() error {
			l.Stop()
			return nil
		})
	}
	_ = g.Wait()
}

// Enable persists the flag, resumes the loop and restarts it if a fatal error stopped it.
func (e *Engines) Enable(ctx context.Context, name string) error {
	l, err := e.Loop(name)
	if err != nil {
		return err
	}
	if err := e.configs.SetEnabled(ctx, name, true); err != nil {
		return err
	}
	l.Resume()

	e.mu.Lock()
	runCtx := e.ctx
	e.mu.Unlock()
	if runCtx != nil && runCtx.Err() == nil && !l.Status().Running {
		l.Start(runCtx)
	}
	return nil
}

// Disable persists the flag and pauses the loop. An in-flight trade still completes.
func (e *Engines) Disable(ctx context.Context, name string) error {
	l, err := e.Loop(name)
	if err != nil {
		return err
	}
	if err := e.configs.SetEnabled(ctx, name, false); err != nil {
		return err
	}
	l.Pause()
	return nil
}

// RunNow wakes the loop, or runs a tick inline when the loop is not running.
func (e *Engines) RunNow(ctx context.Context, name string) (any, error) {
	l, err := e.Loop(name)
	if err != nil {
		return nil, err
	}
	if l.Status().Running && !l.Paused() {
		l.Trigger()
		return nil, nil
	}
	return l.RunOnce(ctx)
}

func (e *Engines) Status(ctx context.Context) ([]EngineStatus, error) {
	out := make([]EngineStatus, 0, len(e.order))
	for _, name := range e.order {
		on, err := e.enabled(ctx, name)
		if err != nil {
			return nil, err
		}
		st, err := e.state.GetEngineState(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, EngineStatus{
			Name:    name,
			Enabled: on,
			Loop:    e.loops[name].Status(),
			State:   st,
		})
	}
	return out, nil
}
