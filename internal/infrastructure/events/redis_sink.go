package events

import (
	"context"

	json "github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

const recentEventsKeep = 200

// RedisSink mirrors bus events to a Redis pub/sub channel and keeps a capped list of recent ones.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisSink(addr, channel string, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		logger:  logger,
	}
}

func (s *RedisSink) recentKey() string {
	return s.channel + ":recent"
}

// Run forwards events from the bus until ctx is done.
func (s *RedisSink) Run(ctx context.Context, bus *Bus, buffer int) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return err
	}
	ch, cancel := bus.Subscribe(buffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.forward(ctx, ev); err != nil {
				s.logger.Warn("Failed to forward event to redis", zap.String("type", string(ev.Type)), zap.Error(err))
			}
		}
	}
}

func (s *RedisSink) forward(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.channel, data)
	pipe.LPush(ctx, s.recentKey(), data)
	pipe.LTrim(ctx, s.recentKey(), 0, recentEventsKeep-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit of the most recently forwarded events, newest first.
func (s *RedisSink) Recent(ctx context.Context, limit int64) ([]map[string]any, error) {
	if limit <= 0 || limit > recentEventsKeep {
		limit = recentEventsKeep
	}
	raw, err := s.client.LRange(ctx, s.recentKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		var ev map[string]any
		if err := json.UnmarshalString(r, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
