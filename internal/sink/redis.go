package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wallwatch/wallwatch/internal/events"
)

// eventEnvelope is the wire shape published to the Redis channel: a
// JSON object carrying the kind tag and the common fields, with the
// variant's own JSON encoding embedded under "event", matching the teacher's "publish the JSON directly, no double
// encoding" convention in internal/publisher/redis.go.
type eventEnvelope struct {
	Kind   string          `json:"kind"`
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"`
	Price  string          `json:"price"`
	At     string          `json:"at"`
	Event  json.RawMessage `json:"event"`
}

// RedisSink publishes each event as JSON to a single Redis pub/sub
// channel, grounded on the teacher's RedisPublisher.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisSink creates a Redis pub/sub sink publishing to channel.
func NewRedisSink(client *redis.Client, channel string, logger *zap.Logger) *RedisSink {
	return &RedisSink{client: client, channel: channel, logger: logger.Named("redis_sink")}
}

func (s *RedisSink) Name() string { return "redis" }

// Deliver publishes ev to the configured channel. Errors are returned
// to the caller (a QueuedSink), which logs and counts them — a Redis
// hiccup never reaches the ingestion loop.
func (s *RedisSink) Deliver(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sink: marshal event: %w", err)
	}

	envelope := eventEnvelope{
		Kind:   string(ev.GetKind()),
		Symbol: ev.GetSymbol(),
		Side:   string(ev.GetSide()),
		Price:  ev.GetPrice().String(),
		At:     ev.GetAt().Format("2006-01-02T15:04:05.000Z07:00"),
		Event:  payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("sink: marshal envelope: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("sink: publish to redis: %w", err)
	}
	return nil
}
