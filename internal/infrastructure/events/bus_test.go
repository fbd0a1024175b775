package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus(zap.NewNop())
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	bus.Publish(domain.Event{Type: domain.EventTradeExecuted})

	for _, ch := range []<-chan domain.Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, domain.EventTradeExecuted, ev.Type)
			assert.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(zap.NewNop())
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(domain.Event{Type: domain.EventMirrorTick})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Equal(t, int64(4), bus.Dropped())
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop())
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)
	assert.Zero(t, bus.Subscribers())
	bus.Publish(domain.Event{Type: domain.EventMirrorTick})
}

func TestRedisSinkUnreachableServer(t *testing.T) {
	sink := NewRedisSink("127.0.0.1:1", "autopilot:events", zap.NewNop())
	assert.Equal(t, "autopilot:events:recent", sink.recentKey())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, sink.Run(ctx, NewBus(zap.NewNop()), 4))

	_, err := sink.Recent(ctx, 10)
	require.Error(t, err)
	assert.NoError(t, sink.Close())
}
