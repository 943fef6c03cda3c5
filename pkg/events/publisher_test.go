package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type published struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.sent = append(f.sent, published{channel: channel, payload: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestBaseEvent(t *testing.T) {
	event := NewBaseEvent(TypeSessionCompleted, "rn-0000001abcde")

	if event.EventType != TypeSessionCompleted {
		t.Errorf("unexpected event type: %s", event.EventType)
	}
	if _, err := uuid.Parse(event.EventID); err != nil {
		t.Errorf("event id %q is not a uuid: %v", event.EventID, err)
	}
	if event.Source != "turnscribe" {
		t.Errorf("unexpected source: %s", event.Source)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}

func TestPublishCompleted(t *testing.T) {
	client := &fakeRedis{}
	p := newPublisher(client, "", nil)

	err := p.PublishCompleted(context.Background(), CompletedParams{
		RunID:     "rn-0000001abcde",
		Session:   "20261019-140307",
		Path:      "sessions/20261019-140307",
		TurnCount: 2,
		Speakers:  []string{"S1", "S2"},
		Duration:  1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("PublishCompleted: %v", err)
	}

	if len(client.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(client.sent))
	}
	if got := client.sent[0].channel; got != "turnscribe.sessions.session.completed" {
		t.Errorf("channel = %s", got)
	}

	var event SessionCompletedEvent
	if err := json.Unmarshal(client.sent[0].payload, &event); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if event.Session != "20261019-140307" || event.TurnCount != 2 || event.DurationSeconds != 1.5 {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.RunID != "rn-0000001abcde" {
		t.Errorf("run id = %q", event.RunID)
	}
}

func TestPublishFailed(t *testing.T) {
	client := &fakeRedis{}
	p := newPublisher(client, "meetings", nil)

	err := p.PublishFailed(context.Background(), FailedParams{
		Stage:     "recognize",
		Code:      "engine_unavailable",
		Message:   "connection refused",
		Retryable: true,
	})
	if err != nil {
		t.Fatalf("PublishFailed: %v", err)
	}
	if got := client.sent[0].channel; got != "meetings.session.failed" {
		t.Errorf("channel = %s", got)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(client.sent[0].payload, &raw); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if raw["event_type"] != TypeSessionFailed || raw["retryable"] != true {
		t.Errorf("unexpected payload: %v", raw)
	}
}

func TestPublishError(t *testing.T) {
	p := newPublisher(&fakeRedis{err: errors.New("connection reset")}, "", nil)

	err := p.PublishFailed(context.Background(), FailedParams{Stage: "normalize"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClose(t *testing.T) {
	client := &fakeRedis{}
	if err := newPublisher(client, "", nil).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !client.closed {
		t.Error("client not closed")
	}
}
