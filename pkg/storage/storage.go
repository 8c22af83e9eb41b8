// Package storage defines the ledger of processed webhook deliveries.
//
// The ledger makes webhook handling idempotent: the provider retries
// deliveries, and each event ID must be acted on once.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConnectDB       = errors.New("unable to establish DB connection")
	ErrDBNotResponding = errors.New("DB not responding")

	ErrEventExists   = errors.New("event already processed")
	ErrEventNotFound = errors.New("event not found")
	ErrEmptyEventID  = errors.New("event ID not provided")
)

// Event is a processed webhook delivery.
type Event struct {
	ID       string    `json:"id" bson:"_id"`
	Type     string    `json:"type" bson:"type"`
	Received time.Time `json:"received" bson:"received"`
}

type Storage interface {
	// AddEvent records ev. It returns ErrEventExists if ev.ID is already
	// recorded.
	AddEvent(ctx context.Context, ev Event) error
	// Event returns the recorded event with id, or ErrEventNotFound.
	Event(ctx context.Context, id string) (Event, error)
}
