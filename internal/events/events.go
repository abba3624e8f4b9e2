// Package events 发布领域事件，供下游消费者订阅。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	MessageProcessed = "message.processed"
	MessageFailed    = "message.failed"
	ThreadDeleted    = "thread.deleted"
	InsightRefreshed = "insight.refreshed"
)

// Event is the envelope written to every backend.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OwnerID    string         `json:"ownerId"`
	ThreadID   string         `json:"threadId,omitempty"`
	MessageID  string         `json:"messageId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// New stamps an event with an id and the current time.
func New(eventType, ownerID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OwnerID:    ownerID,
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", e.Type, err)
	}
	return raw, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps events in memory. Tests use it to assert publication.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events drains what has been recorded so far.
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
