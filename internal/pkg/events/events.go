// Package events defines the narrow notification contract the ledger core
// publishes through. Delivery (push, websocket, email) is somebody else's job.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeTransactionCreated = "transaction.created"
	TypeRedemptionUpdated  = "redemption.updated"
)

// Event is a committed ledger fact addressed to one child's account.
type Event struct {
	Type       string      `json:"type"`
	ChildID    uuid.UUID   `json:"child_id"`
	Balance    int64       `json:"balance"`
	Data       interface{} `json:"data,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Publisher delivers events after the writes they describe have committed.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory; tests use it to assert delivery.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
