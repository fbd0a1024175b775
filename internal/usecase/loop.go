package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

// TickFunc runs one engine cycle and returns a summary for status reporting.
type TickFunc func(ctx context.Context) (any, error)

// IntervalFunc returns the delay before the next cycle. It is read after every tick.
type IntervalFunc func(ctx context.Context) time.Duration

type LoopStatus struct {
	Name        string    `json:"name"`
	Running     bool      `json:"running"`
	Paused      bool      `json:"paused"`
	Fatal       bool      `json:"fatal"`
	LastRunAt   time.Time `json:"last_run_at"`
	NextRunAt   time.Time `json:"next_run_at"`
	LastError   string    `json:"last_error,omitempty"`
	Ticks       int64     `json:"ticks"`
	LastSummary any       `json:"last_summary,omitempty"`
}

// Loop runs an engine on its own goroutine. It wakes on its interval or on Trigger,
// and stops on Stop, on ctx cancellation, or on a tick error wrapping domain.ErrFatal.
type Loop struct {
	name     string
	interval IntervalFunc
	tick     TickFunc
	logger   *zap.Logger

	trigger chan struct{}
	paused  atomic.Bool
	tickMu  sync.Mutex

	mu      sync.Mutex
	status  LoopStatus
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewLoop(name string, interval IntervalFunc, tick TickFunc, logger *zap.Logger) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		status:   LoopStatus{Name: name},
	}
}

func (l *Loop) Name() string {
	return l.name
}

// Start launches the loop goroutine. Starting a running loop is a no-op; a loop stopped by a fatal error can be restarted.
func (l *Loop) Start(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.status.Running = true
	l.status.Fatal = false

	go l.run(ctx, l.done)
	l.logger.Info("Engine loop started", zap.String("engine", l.name))
}

// Stop cancels the loop and waits for the current tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger wakes the loop for an immediate run. Requests coalesce.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Pause stops further submissions; a tick in progress finishes its in-flight trade and skips the rest.
func (l *Loop) Pause() {
	l.paused.Store(true)
}

func (l *Loop) Resume() {
	l.paused.Store(false)
	l.Trigger()
}

func (l *Loop) Paused() bool {
	return l.paused.Load()
}

func (l *Loop) Status() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.status
	st.Paused = l.paused.Load()
	return st
}

// RunOnce executes a tick synchronously, serialized with the background loop.
func (l *Loop) RunOnce(ctx context.Context) (any, error) {
	return l.runTick(ctx)
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		l.mu.Lock()
		l.running = false
		l.status.Running = false
		l.status.NextRunAt = time.Time{}
		l.mu.Unlock()
	}()

	for {
		if !l.paused.Load() {
			if _, err := l.runTick(ctx); errors.Is(err, domain.ErrFatal) {
				l.mu.Lock()
				l.status.Fatal = true
				l.mu.Unlock()
				l.logger.Error("Engine loop stopped on fatal error", zap.String("engine", l.name), zap.Error(err))
				return
			}
		}
		if ctx.Err() != nil {
			l.logger.Info("Engine loop stopped", zap.String("engine", l.name))
			return
		}

		wait := l.interval(ctx)
		l.mu.Lock()
		l.status.NextRunAt = time.Now().Add(wait)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-l.trigger:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("Engine loop stopped", zap.String("engine", l.name))
			return
		}
	}
}

func (l *Loop) runTick(ctx context.Context) (any, error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	start := time.Now()
	summary, err := l.tick(ctx)

	l.mu.Lock()
	l.status.LastRunAt = start
	l.status.Ticks++
	if summary != nil {
		l.status.LastSummary = summary
	}
	if err != nil {
		l.status.LastError = err.Error()
	} else {
		l.status.LastError = ""
	}
	l.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Error("Engine tick failed", zap.String("engine", l.name), zap.Error(err))
	} else {
		l.logger.Debug("Engine tick done", zap.String("engine", l.name), zap.Duration("took", time.Since(start)))
	}
	return summary, err
}
