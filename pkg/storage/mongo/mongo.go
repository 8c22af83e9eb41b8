package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"subscriptions/pkg/storage"
)

const eventsCollection = "webhook_events"

type Storage struct {
	client *mongo.Client
	dbName string
}

func New(ctx context.Context, conf *Config) (*Storage, error) {
	client, err := mongo.Connect(ctx, conf.Options())
	if err != nil {
		return nil, err
	}

	s := Storage{client: client, dbName: conf.DBName}
	if err := s.createCollection(ctx, eventsCollection); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	return &s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Storage) Close(ctx context.Context) {
	s.client.Disconnect(ctx)
}

// AddEvent inserts the event keyed by its ID. A duplicate key error from the
// server is reported as storage.ErrEventExists.
func (s *Storage) AddEvent(ctx context.Context, ev storage.Event) error {
	if ev.ID == "" {
		return storage.ErrEmptyEventID
	}
	if ev.Received.IsZero() {
		ev.Received = time.Now().UTC()
	}

	coll := s.client.Database(s.dbName).Collection(eventsCollection)
	_, err := coll.InsertOne(ctx, ev)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrEventExists
		}
		return err
	}

	return nil
}

// Event retrieves a recorded event by ID.
func (s *Storage) Event(ctx context.Context, id string) (storage.Event, error) {
	coll := s.client.Database(s.dbName).Collection(eventsCollection)

	var ev storage.Event
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&ev)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return storage.Event{}, storage.ErrEventNotFound
		}
		return storage.Event{}, err
	}

	ev.Received = ev.Received.UTC()
	return ev, nil
}

// createCollection creates a collection with the given name in the database if it doesn't already exist.
func (s *Storage) createCollection(ctx context.Context, collName string) error {
	collExists, err := collectionExists(ctx, s.client.Database(s.dbName), collName)
	if err != nil {
		return err
	}

	if !collExists {
		err := s.client.Database(s.dbName).CreateCollection(ctx, collName)
		if err != nil {
			return err
		}
	}

	return nil
}

// collectionExists checks if a collection with the given name exists in the database.
func collectionExists(ctx context.Context, db *mongo.Database, collName string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("failed to list collection names: %w", err)
	}

	for _, name := range names {
		if name == collName {
			return true, nil
		}
	}

	return false, nil
}
