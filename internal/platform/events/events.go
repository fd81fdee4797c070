// Package events carries domain events out of the service. Publishing is
// fire-and-forget: a Publisher never reports delivery failures to the caller
// and must not block it for long.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentConfirmed = "appointment.confirmed"
	AppointmentDeclined  = "appointment.declined"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentCompleted = "appointment.completed"
)

// Event is a flat, serialisable record of something that happened.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Key        string            `json:"key"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data"`
}

// New stamps an event with an id and time.
func New(eventType, key string, data map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Fanout publishes to each publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) {
	for _, p := range f {
		p.Publish(ctx, evt)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, evt Event) {
	select {
	case r.ch <- evt:
	default:
	}
}

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
