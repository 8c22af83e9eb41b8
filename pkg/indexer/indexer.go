// Package indexer copies JSON messages from Kafka topics into Elasticsearch
// indices.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

var (
	ErrIndexDocument = errors.New("failed to index document")
	// ErrMalformedDocument marks messages that can never be indexed. They
	// are skipped instead of retried.
	ErrMalformedDocument = errors.New("malformed document")
)

// retryDelay is the pause before a message that failed to index is handed
// to the workers again. It doubles up to maxRetryDelay.
var retryDelay = time.Second

const maxRetryDelay = 30 * time.Second

// Stream maps a Kafka topic to an Elasticsearch index. IDFields name the
// top-level JSON fields whose values are concatenated into the document ID.
// Without IDFields Elasticsearch generates the ID.
type Stream struct {
	Topic    string   `toml:"topic"`
	Index    string   `toml:"index"`
	IDFields []string `toml:"idFields"`
}

type Job struct {
	Stream Stream
	Msg    kafka.Message
	// Done receives the result of indexing Msg. It must be buffered.
	Done chan<- error
}

// Reader is the subset of *kafka.Reader used by Consume. Offsets are
// committed explicitly.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Indexer struct {
	es *elasticsearch.Client
}

func New(es *elasticsearch.Client) *Indexer {
	return &Indexer{es: es}
}

// Index stores the message of job as a document. Redelivered messages
// overwrite the document with the same ID.
func (ix *Indexer) Index(ctx context.Context, job Job) (string, error) {
	id, err := DocumentID(job.Msg.Value, job.Stream.IDFields)
	if err != nil {
		return "", err
	}

	opts := []func(*esapi.IndexRequest){ix.es.Index.WithContext(ctx)}
	if id != "" {
		opts = append(opts, ix.es.Index.WithDocumentID(id))
	}

	res, err := ix.es.Index(job.Stream.Index, bytes.NewReader(job.Msg.Value), opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIndexDocument, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusBadRequest {
		return "", fmt.Errorf("%w: %w: %s", ErrIndexDocument, ErrMalformedDocument, res.Status())
	}
	if res.IsError() {
		return "", fmt.Errorf("%w: %s", ErrIndexDocument, res.Status())
	}

	return id, nil
}

// DocumentID builds a document ID from the named fields of a JSON object.
// Missing fields contribute nothing.
func DocumentID(value []byte, fields []string) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if len(fields) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, f := range fields {
		v, ok := doc[f]
		if !ok || v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return "", fmt.Errorf("%w: field %s: %v", ErrMalformedDocument, f, err)
		}
		b.WriteString(s)
	}

	return b.String(), nil
}

// Consume fetches messages of stream from r and hands them to the workers
// one at a time. An offset is committed only once its message is indexed or
// found malformed, so a message is never lost; after a crash or a failed
// commit it is indexed again under the same document ID. Consume returns
// when ctx is cancelled.
func Consume(ctx context.Context, r Reader, stream Stream, jobs chan<- Job) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[indexer][%s] failed to fetch message from Kafka: %v", stream.Topic, err)
			continue
		}
		log.Debugf("[indexer][%s] received message: %s", stream.Topic, string(msg.Value))

		if !deliver(ctx, stream, msg, jobs) {
			return
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[indexer][%s] failed to commit offset %d: %v", stream.Topic, msg.Offset, err)
		}
	}
}

// deliver hands msg to the workers until it is indexed or rejected as
// malformed. It reports false if ctx is cancelled first.
func deliver(ctx context.Context, stream Stream, msg kafka.Message, jobs chan<- Job) bool {
	delay := retryDelay
	for {
		done := make(chan error, 1)
		select {
		case jobs <- Job{Stream: stream, Msg: msg, Done: done}:
		case <-ctx.Done():
			return false
		}

		var err error
		select {
		case err = <-done:
		case <-ctx.Done():
			return false
		}

		switch {
		case err == nil:
			return true
		case errors.Is(err, ErrMalformedDocument):
			log.Errorf("[indexer][%s] skipping message at offset %d: %v", stream.Topic, msg.Offset, err)
			return true
		}

		log.Warnf("[indexer][%s] retrying message at offset %d in %v", stream.Topic, msg.Offset, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

// Worker indexes jobs until the channel is closed or ctx is cancelled. The
// result of each job is sent to its Done channel.
func Worker(ctx context.Context, ix *Indexer, jobs <-chan Job, workerID int) {
	for {
		select {
		case <-ctx.Done():
			log.Infof("[indexer][workerID:%d] context cancelled, exiting worker", workerID)
			return

		case job, ok := <-jobs:
			if !ok {
				log.Infof("[indexer][workerID:%d] jobs channel closed, exiting worker", workerID)
				return
			}

			id, err := ix.Index(ctx, job)
			if job.Done != nil {
				job.Done <- err
			}
			if err != nil {
				log.Errorf("[indexer][workerID:%d] %s -> %s: %v", workerID, job.Stream.Topic, job.Stream.Index, err)
				continue
			}
			log.Infof("[indexer][workerID:%d][%s] document indexed in %s", workerID, shorten(id), job.Stream.Index)
		}
	}
}

func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
