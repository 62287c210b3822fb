package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"ridedispatch/pkg/cache"
	"ridedispatch/pkg/logger"

	"github.com/google/uuid"
)

// relayMessage is the frame exchanged between server instances over redis.
type relayMessage struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Relay publishes to the local hub and to a redis topic so connections held
// by other instances receive the message too.
type Relay struct {
	cache  *cache.RedisCache
	topic  string
	hub    *Hub
	origin string
	logger *logger.Logger
}

func NewRelay(redisCache *cache.RedisCache, topic string, hub *Hub, log *logger.Logger) *Relay {
	return &Relay{
		cache:  redisCache,
		topic:  topic,
		hub:    hub,
		origin: uuid.NewString(),
		logger: log.WithField("component", "websocket_relay"),
	}
}

func (r *Relay) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.hub.Publish(ctx, channel, payload); err != nil {
		return err
	}

	msg := relayMessage{Origin: r.origin, Channel: channel, Payload: payload}
	if err := r.cache.Publish(ctx, r.topic, msg); err != nil {
		return fmt.Errorf("failed to relay message: %w", err)
	}
	return nil
}

// Run forwards messages published by other instances to the local hub
// until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.cache.Subscribe(ctx, r.topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.topic, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, raw string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.logger.WithError(err).Warn("Discarding malformed relay message")
		return
	}
	if msg.Origin == r.origin || msg.Channel == "" {
		return
	}
	if err := r.hub.Publish(ctx, msg.Channel, msg.Payload); err != nil {
		r.logger.WithError(err).WithField("channel", msg.Channel).Warn("Relay delivery failed")
	}
}
