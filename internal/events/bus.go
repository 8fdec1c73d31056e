package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
)

// defaultBusBuffer is the per-subscriber channel depth.
const defaultBusBuffer = 64

// Bus fans events out to subscribers over bounded channels. A slow
// subscriber loses its oldest undelivered events rather than stalling
// the pipeline, mirroring the ring buffer's eviction policy.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Event
	buffer int
	closed bool
	log    zerolog.Logger
}

// NewBus creates a bus with the given per-subscriber buffer depth.
// Zero or negative uses the default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBusBuffer
	}
	return &Bus{
		buffer: buffer,
		log:    logging.WithComponent("events"),
	}
}

// Subscribe registers a new subscriber channel. The channel is closed
// when the bus closes.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to every subscriber without blocking. When
// a subscriber's buffer is full its oldest event is discarded to make
// room.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case dropped := <-ch:
				b.log.Debug().
					Str("dropped", string(dropped.EventType())).
					Str("event", string(ev.EventType())).
					Msg("Subscriber buffer full, dropped oldest event")
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
