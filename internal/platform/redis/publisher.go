// Package redis mirrors batch events onto Redis pub/sub so processes other
// than the API server can follow a batch.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/events"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	URL           string
	ChannelPrefix string
}

// publishClient is the subset of *redis.Client the publisher uses.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Publisher is an events.EventHandler that publishes every event as JSON on
// the batch's channel.
type Publisher struct {
	rdb    publishClient
	prefix string
	logger *slog.Logger
}

var _ events.EventHandler = (*Publisher)(nil)

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newPublisher(rdb, cfg.ChannelPrefix, logger), nil
}

func newPublisher(rdb publishClient, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With("component", "redis_publisher"),
	}
}

// Channel returns the pub/sub channel for a batch.
func (p *Publisher) Channel(batchID uuid.UUID) string {
	return p.prefix + batchID.String()
}

// HandleEvent implements events.EventHandler.
func (p *Publisher) HandleEvent(ctx context.Context, event *events.BatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	channel := p.Channel(event.BatchID)
	receivers, err := p.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s failed: %w", channel, err)
	}

	p.logger.DebugContext(ctx, "event published",
		"channel", channel,
		"event_type", event.Type,
		"receivers", receivers)
	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
