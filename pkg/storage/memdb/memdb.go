package memdb

import (
	"context"
	"sync"
	"time"

	"subscriptions/pkg/storage"
)

type Store struct {
	mu     sync.Mutex
	events map[string]storage.Event
}

func New() *Store {
	db := Store{
		events: make(map[string]storage.Event),
	}

	return &db
}

func (db *Store) AddEvent(ctx context.Context, ev storage.Event) error {
	if ev.ID == "" {
		return storage.ErrEmptyEventID
	}
	if ev.Received.IsZero() {
		ev.Received = time.Now().UTC()
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.events[ev.ID]; ok {
		return storage.ErrEventExists
	}
	db.events[ev.ID] = ev

	return nil
}

func (db *Store) Event(ctx context.Context, id string) (storage.Event, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ev, ok := db.events[id]
	if !ok {
		return storage.Event{}, storage.ErrEventNotFound
	}

	return ev, nil
}
