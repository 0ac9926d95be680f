package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/freshnest/booking-api/pkg/jobs"
)

type channelPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisPublisher adapts a Redis client to the channelPublisher
// contract used by the fanout queue.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps a Redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends a message on a pub/sub channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// Event is the payload fanned out to downstream collaborators
// (notification dispatch, analytics) after a core decision commits.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload,omitempty"`
}

// Notifier publishes post-commit events to a Redis channel through an
// in-memory queue so request handling never blocks on downstream
// delivery.
type Notifier struct {
	queue   *jobs.Queue
	logger  *zap.Logger
	channel string
}

// NotifierConfig tunes the fanout queue.
type NotifierConfig struct {
	Channel    string
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// NewNotifier builds and starts the fanout queue.
func NewNotifier(publisher channelPublisher, cfg NotifierConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Channel == "" {
		cfg.Channel = "booking.events"
	}

	n := &Notifier{logger: logger, channel: cfg.Channel}
	n.queue = jobs.NewQueue("events", func(ctx context.Context, task jobs.Task) error {
		body, err := json.Marshal(task.Payload)
		if err != nil {
			// Unserialisable payloads are dropped, not retried.
			logger.Error("failed to encode event", zap.String("event_type", task.Type), zap.Error(err))
			return nil
		}
		return publisher.Publish(ctx, cfg.Channel, body)
	}, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	n.queue.Start()
	return n
}

// Publish enqueues an event for asynchronous delivery. Failures are
// logged, never surfaced: the core decision already committed.
func (n *Notifier) Publish(eventType string, payload interface{}) {
	if n == nil {
		return
	}
	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	if err := n.queue.Enqueue(jobs.Task{ID: event.ID, Type: eventType, Payload: event}); err != nil {
		n.logger.Warn("dropping event, queue unavailable",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// Close drains and stops the fanout queue.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.queue.Stop()
}
