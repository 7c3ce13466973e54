// Package realtime fans row-change events out to live subscribers.
package realtime

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/log"
	"github.com/vovakirdan/deploydeck/internal/metrics"
)

// ErrHubClosed is returned once the hub's Run loop has exited.
var ErrHubClosed = errors.New("realtime hub closed")

// DefaultBuffer is the per-subscriber event buffer when none is configured.
const DefaultBuffer = 64

// Publisher accepts events for delivery to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev backend.Event) error
}

// Subscriber is one live feed registered with the hub.
// Events is closed when the subscriber is removed or the hub stops.
type Subscriber struct {
	ID         string
	Collection string
	Filter     backend.EventFilter
	Events     chan backend.Event
}

// Hub owns the subscriber set. All mutations happen inside Run.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	publish    chan backend.Event
	done       chan struct{}

	buffer int
	log    *zerolog.Logger
}

// NewHub creates a hub; call Run to start it.
func NewHub(logger *zerolog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		publish:    make(chan backend.Event),
		done:       make(chan struct{}),
		buffer:     buffer,
		log:        log.OrNop(logger),
	}
}

// Run processes registrations and publishes until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	subscribers := make(map[*Subscriber]struct{})
	defer func() {
		close(h.done)
		for s := range subscribers {
			close(s.Events)
		}
		metrics.RealtimeSubscribers.Sub(float64(len(subscribers)))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.register:
			subscribers[s] = struct{}{}
			metrics.RealtimeSubscribers.Inc()
			h.log.Debug().Str("subscriber_id", s.ID).Str("collection", s.Collection).Msg("subscriber registered")
		case s := <-h.unregister:
			if _, ok := subscribers[s]; !ok {
				continue
			}
			delete(subscribers, s)
			close(s.Events)
			metrics.RealtimeSubscribers.Dec()
			h.log.Debug().Str("subscriber_id", s.ID).Msg("subscriber removed")
		case ev := <-h.publish:
			metrics.RealtimeEventsPublished.WithLabelValues(ev.Collection, string(ev.Type)).Inc()
			for s := range subscribers {
				if !s.Filter.Matches(s.Collection, ev) {
					continue
				}
				select {
				case s.Events <- ev:
				default:
					metrics.RealtimeEventsDropped.Inc()
					h.log.Warn().Str("subscriber_id", s.ID).Str("collection", ev.Collection).Msg("subscriber buffer full, event dropped")
				}
			}
		}
	}
}

// Subscribe registers a subscriber for events on collection passing filter.
func (h *Hub) Subscribe(ctx context.Context, collection string, filter backend.EventFilter) (*Subscriber, error) {
	s := &Subscriber{
		ID:         uuid.NewString(),
		Collection: collection,
		Filter:     filter,
		Events:     make(chan backend.Event, h.buffer),
	}
	select {
	case h.register <- s:
		return s, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes s and closes its Events channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Publish hands ev to the Run loop.
func (h *Hub) Publish(ctx context.Context, ev backend.Event) error {
	select {
	case h.publish <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
