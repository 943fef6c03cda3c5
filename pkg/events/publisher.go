// Package events publishes session lifecycle events to Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/turnscribe/pkg/logging"
)

// DefaultChannelPrefix is used when no prefix is configured.
const DefaultChannelPrefix = "turnscribe.sessions"

// Event types, also used as channel suffixes.
const (
	TypeSessionCompleted = "session.completed"
	TypeSessionFailed    = "session.failed"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with a fresh ID.
func NewBaseEvent(eventType, runID string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Source:    "turnscribe",
		Version:   "1.0",
	}
}

// SessionCompletedEvent is published after a session is materialized.
type SessionCompletedEvent struct {
	BaseEvent

	Session         string   `json:"session"`
	Path            string   `json:"path"`
	TurnCount       int      `json:"turn_count"`
	Speakers        []string `json:"speakers"`
	IssueCount      int      `json:"issue_count"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// SessionFailedEvent is published when a run aborts.
type SessionFailedEvent struct {
	BaseEvent

	Stage           string  `json:"stage"`
	Code            string  `json:"code"`
	Message         string  `json:"message"`
	Retryable       bool    `json:"retryable"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// CompletedParams contains parameters for a completion event.
type CompletedParams struct {
	RunID      string
	Session    string
	Path       string
	TurnCount  int
	Speakers   []string
	IssueCount int
	Duration   time.Duration
}

// FailedParams contains parameters for a failure event.
type FailedParams struct {
	RunID     string
	Stage     string
	Code      string
	Message   string
	Retryable bool
	Duration  time.Duration
}

// redisClient is the part of *redis.Client the publisher uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Publisher publishes session events to Redis.
type Publisher struct {
	client redisClient
	prefix string
	logger logging.Logger
}

// PublisherConfig holds Redis connection configuration.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
	// ChannelPrefix is prepended to event types ("<prefix>.session.completed").
	ChannelPrefix string
}

// NewPublisher creates a publisher over an existing client.
func NewPublisher(client *redis.Client, prefix string, logger logging.Logger) *Publisher {
	return newPublisher(client, prefix, logger)
}

func newPublisher(client redisClient, prefix string, logger logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// NewPublisherFromConfig creates a publisher with a new Redis connection.
func NewPublisherFromConfig(cfg PublisherConfig, logger logging.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewPublisher(client, cfg.ChannelPrefix, logger), nil
}

// Channel returns the channel an event type is published on.
func (p *Publisher) Channel(eventType string) string {
	return p.prefix + "." + eventType
}

// PublishCompleted publishes a session.completed event.
func (p *Publisher) PublishCompleted(ctx context.Context, params CompletedParams) error {
	event := SessionCompletedEvent{
		BaseEvent:       NewBaseEvent(TypeSessionCompleted, params.RunID),
		Session:         params.Session,
		Path:            params.Path,
		TurnCount:       params.TurnCount,
		Speakers:        params.Speakers,
		IssueCount:      params.IssueCount,
		DurationSeconds: params.Duration.Seconds(),
	}
	if event.Speakers == nil {
		event.Speakers = []string{}
	}
	return p.publish(ctx, p.Channel(TypeSessionCompleted), event)
}

// PublishFailed publishes a session.failed event.
func (p *Publisher) PublishFailed(ctx context.Context, params FailedParams) error {
	event := SessionFailedEvent{
		BaseEvent:       NewBaseEvent(TypeSessionFailed, params.RunID),
		Stage:           params.Stage,
		Code:            params.Code,
		Message:         params.Message,
		Retryable:       params.Retryable,
		DurationSeconds: params.Duration.Seconds(),
	}
	return p.publish(ctx, p.Channel(TypeSessionFailed), event)
}

func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
