package backend

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logger "github.com/roomline/roomline/middleware/log"
)

// RedisChannel implements Channel over Redis pub/sub. One topic maps to
// two Redis channels: {prefix}:{topic}:broadcast for ephemeral
// application events and {prefix}:{topic}:rows for committed rows. The
// per-topic channel names give the server-side filtering the contract
// asks for.
type RedisChannel struct {
	client *redis.Client
	prefix string
	event  string
	log    *logger.Logger
}

func NewRedisChannel(client *redis.Client, prefix, event string, log *logger.Logger) *RedisChannel {
	return &RedisChannel{
		client: client,
		prefix: prefix,
		event:  event,
		log:    log,
	}
}

// broadcastEnvelope wraps application events so several event names can
// share one broadcast channel.
type broadcastEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (c *RedisChannel) broadcastChannel(topicID string) string {
	return fmt.Sprintf("%s:%s:broadcast", c.prefix, topicID)
}

func (c *RedisChannel) rowChannel(topicID string) string {
	return fmt.Sprintf("%s:%s:rows", c.prefix, topicID)
}

func (c *RedisChannel) Subscribe(ctx context.Context, topicID string) (Subscription, error) {
	broadcastCh := c.broadcastChannel(topicID)
	rowCh := c.rowChannel(topicID)

	pubsub := c.client.Subscribe(ctx, broadcastCh, rowCh)
	// Wait for confirmation that the subscription is created.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topicID, err)
	}

	sub := &redisSubscription{
		pubsub:      pubsub,
		broadcastCh: broadcastCh,
		event:       c.event,
		log:         c.log,
		broadcasts:  make(chan []byte, 64),
		rows:        make(chan []byte, 64),
	}
	go sub.pump()
	return sub, nil
}

func (c *RedisChannel) Publish(ctx context.Context, topicID, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast payload: %w", err)
	}
	envelope, err := json.Marshal(broadcastEnvelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to encode broadcast envelope: %w", err)
	}
	if err := c.client.Publish(ctx, c.broadcastChannel(topicID), envelope).Err(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topicID, err)
	}
	return nil
}

// PublishRow publishes a committed row notification. This is the
// platform's half of the contract; the bridge uses it after an insert.
func (c *RedisChannel) PublishRow(ctx context.Context, topicID string, row any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row payload: %w", err)
	}
	if err := c.client.Publish(ctx, c.rowChannel(topicID), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish row to topic %s: %w", topicID, err)
	}
	return nil
}

// EventName returns the fixed broadcast event name configured for the
// platform.
func (c *RedisChannel) EventName() string {
	return c.event
}

type redisSubscription struct {
	pubsub      *redis.PubSub
	broadcastCh string
	event       string
	log         *logger.Logger

	broadcasts chan []byte
	rows       chan []byte
}

// pump demultiplexes the Redis subscription into the two logical
// streams. It exits, closing both streams, when the subscription is
// closed.
func (s *redisSubscription) pump() {
	defer close(s.broadcasts)
	defer close(s.rows)

	for msg := range s.pubsub.Channel() {
		if msg.Channel == s.broadcastCh {
			var envelope broadcastEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				s.log.Warn("dropping malformed broadcast envelope", zap.Error(err))
				continue
			}
			if envelope.Event != s.event {
				continue
			}
			s.broadcasts <- envelope.Payload
		} else {
			s.rows <- []byte(msg.Payload)
		}
	}
}

func (s *redisSubscription) Broadcasts() <-chan []byte {
	return s.broadcasts
}

func (s *redisSubscription) Rows() <-chan []byte {
	return s.rows
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
