package usecase_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/usecase"
	"go.uber.org/zap"
)

func hourly(context.Context) time.Duration { return time.Hour }

func TestLoop_RunsImmediatelyAndOnTrigger(t *testing.T) {
	var ticks atomic.Int64
	loop := usecase.NewLoop("test", hourly, func(ctx context.Context) (any, error) {
		return ticks.Add(1), nil
	}, zap.NewNop())

	loop.Start(context.Background())
	defer loop.Stop()

	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, 5*time.Millisecond)
	loop.Trigger()
	require.Eventually(t, func() bool { return ticks.Load() == 2 }, time.Second, 5*time.Millisecond)

	st := loop.Status()
	assert.True(t, st.Running)
	assert.False(t, st.NextRunAt.IsZero())
}

func TestLoop_FatalErrorStopsLoop(t *testing.T) {
	var ticks atomic.Int64
	loop := usecase.NewLoop("test", func(context.Context) time.Duration { return time.Millisecond }, func(ctx context.Context) (any, error) {
		ticks.Add(1)
		return nil, domain.Fatal(errors.New("database is closed"))
	}, zap.NewNop())

	loop.Start(context.Background())
	require.Eventually(t, func() bool { return !loop.Status().Running }, time.Second, 5*time.Millisecond)

	st := loop.Status()
	assert.True(t, st.Fatal)
	assert.Contains(t, st.LastError, "database is closed")
	assert.Equal(t, int64(1), ticks.Load())
}

func TestLoop_NonFatalErrorKeepsRunning(t *testing.T) {
	var ticks atomic.Int64
	loop := usecase.NewLoop("test", func(context.Context) time.Duration { return time.Millisecond }, func(ctx context.Context) (any, error) {
		ticks.Add(1)
		return nil, &domain.TransientError{Op: "quote", Err: errors.New("timeout")}
	}, zap.NewNop())

	loop.Start(context.Background())
	defer loop.Stop()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, loop.Status().Running)
	assert.False(t, loop.Status().Fatal)
}

func TestLoop_PausedSkipsTicksButRunOnceWorks(t *testing.T) {
	var ticks atomic.Int64
	loop := usecase.NewLoop("test", func(context.Context) time.Duration { return time.Millisecond }, func(ctx context.Context) (any, error) {
		return ticks.Add(1), nil
	}, zap.NewNop())

	loop.Pause()
	loop.Start(context.Background())
	defer loop.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, ticks.Load())
	assert.True(t, loop.Status().Paused)

	res, err := loop.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res)

	loop.Resume()
	require.Eventually(t, func() bool { return ticks.Load() > 1 }, time.Second, 5*time.Millisecond)
}

func TestLoop_StopWaitsForTick(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	loop := usecase.NewLoop("test", hourly, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return nil, ctx.Err()
	}, zap.NewNop())

	loop.Start(context.Background())
	<-started
	loop.Stop()
	assert.True(t, finished.Load())
	assert.False(t, loop.Status().Running)
}
