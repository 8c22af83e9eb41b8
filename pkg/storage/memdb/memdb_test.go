package memdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"subscriptions/pkg/storage"
)

func TestStore_AddEvent(t *testing.T) {
	db := New()
	ctx := context.Background()

	ev := storage.Event{ID: "evt_1", Type: "checkout.session.completed"}
	if err := db.AddEvent(ctx, ev); err != nil {
		t.Fatalf("unexpected error adding event: %v", err)
	}

	err := db.AddEvent(ctx, ev)
	if !errors.Is(err, storage.ErrEventExists) {
		t.Errorf("want error %v, got %v", storage.ErrEventExists, err)
	}

	got, err := db.Event(ctx, "evt_1")
	if err != nil {
		t.Fatalf("unexpected error retrieving event: %v", err)
	}
	if got.Type != ev.Type {
		t.Errorf("want type %q, got %q", ev.Type, got.Type)
	}
	if got.Received.IsZero() {
		t.Error("want received time to be set")
	}
}

func TestStore_AddEventEmptyID(t *testing.T) {
	db := New()

	err := db.AddEvent(context.Background(), storage.Event{Type: "invoice.paid"})
	if !errors.Is(err, storage.ErrEmptyEventID) {
		t.Errorf("want error %v, got %v", storage.ErrEmptyEventID, err)
	}
}

func TestStore_Event(t *testing.T) {
	db := New()
	ctx := context.Background()
	received := time.Date(2025, 1, 12, 10, 0, 0, 0, time.UTC)

	if err := db.AddEvent(ctx, storage.Event{ID: "evt_1", Type: "invoice.paid", Received: received}); err != nil {
		t.Fatalf("unexpected error adding event: %v", err)
	}

	got, err := db.Event(ctx, "evt_1")
	if err != nil {
		t.Fatalf("unexpected error retrieving event: %v", err)
	}
	if !got.Received.Equal(received) {
		t.Errorf("want received %v, got %v", received, got.Received)
	}

	_, err = db.Event(ctx, "evt_unknown")
	if !errors.Is(err, storage.ErrEventNotFound) {
		t.Errorf("want error %v, got %v", storage.ErrEventNotFound, err)
	}
}

func TestStore_AddEventConcurrent(t *testing.T) {
	db := New()
	ctx := context.Background()

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := db.AddEvent(ctx, storage.Event{ID: "evt_same"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("want exactly one successful insert, got %d", created)
	}
}
