package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/log"
)

// RedisRelay routes published events through a Redis pub/sub channel so
// every server instance, the publisher included, feeds them to its hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     *zerolog.Logger
}

// NewRedisRelay builds a relay delivering into hub.
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		log:     log.OrNop(logger),
	}
}

// Publish sends ev to Redis. Local subscribers receive it once Run reads
// it back.
func (r *RedisRelay) Publish(ctx context.Context, ev backend.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel and forwards events to the hub
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				r.log.Warn().Msg("relay channel closed")
				return nil
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				r.log.Warn().Err(err).Msg("relay dropped malformed event")
				continue
			}
			if err := r.hub.Publish(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func decodeEvent(payload []byte) (backend.Event, error) {
	var ev backend.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	if _, err := backend.ParseEventType(string(ev.Type)); err != nil {
		return ev, err
	}
	if !backend.KnownCollection(ev.Collection) {
		return ev, fmt.Errorf("%w: %s", backend.ErrUnknownCollection, ev.Collection)
	}
	return ev, nil
}
