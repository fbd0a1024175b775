package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/coin_autopilot/internal/domain"
	"go.uber.org/zap"
)

// Bus fans events out to subscribers. Publish never blocks; a full subscriber misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan domain.Event
	nextID  int
	dropped atomic.Int64
	logger  *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan domain.Event),
		logger: logger,
	}
}

func (b *Bus) Publish(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			n := b.dropped.Add(1)
			b.logger.Warn("Event dropped for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("type", string(ev.Type)),
				zap.Int64("dropped_total", n))
		}
	}
}

// Subscribe returns a buffered event channel and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
