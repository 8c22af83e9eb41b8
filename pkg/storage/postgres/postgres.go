package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscriptions/pkg/storage"
)

const schema = `
	CREATE TABLE IF NOT EXISTS webhook_events (
		id       TEXT PRIMARY KEY,
		type     TEXT NOT NULL DEFAULT '',
		received TIMESTAMPTZ NOT NULL
	)
`

type Store struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, conStr string) (*Store, error) {
	db, err := pgxpool.Connect(ctx, conStr)
	if err != nil {
		return nil, err
	}
	s := Store{
		db: db,
	}

	return &s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

// Migrate creates the webhook_events table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// AddEvent inserts the event unless a row with the same ID exists, in which
// case it returns storage.ErrEventExists. Concurrent deliveries of one event
// are resolved by the primary key.
func (s *Store) AddEvent(ctx context.Context, ev storage.Event) error {
	if ev.ID == "" {
		return storage.ErrEmptyEventID
	}
	if ev.Received.IsZero() {
		ev.Received = time.Now().UTC()
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (id, type, received)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`,
		ev.ID,
		ev.Type,
		ev.Received,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrEventExists
	}

	return nil
}

// Event retrieves a recorded event by ID.
func (s *Store) Event(ctx context.Context, id string) (ev storage.Event, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT id, type, received
		FROM webhook_events
		WHERE id = $1
	`,
		id,
	).Scan(
		&ev.ID,
		&ev.Type,
		&ev.Received,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = storage.ErrEventNotFound
		}
		return
	}

	ev.Received = ev.Received.UTC()
	return
}
