package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"subscriptions/pkg/indexer"
)

type Config struct {
	LogLevel     string   `toml:"logLevel"`
	KafkaBrokers []string `toml:"kafkaBrokers"`
	KafkaGroupID string   `toml:"kafkaGroupID"`

	ElasticSearchNodes []string `toml:"elasticSearchNodes"`

	NumWorkers int              `toml:"numWorkers"`
	Streams    []indexer.Stream `toml:"streams"`
}

func main() {
	var (
		configPath string
		logLevel   string
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("[eventkeeper] shutting down gracefully...")
		cancel()
	}()

	flag.StringVar(&configPath, "config", "cmd/eventkeeper/config.toml", "Path to TOML config file")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.Parse()

	var cfg Config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		log.Fatalf("[eventkeeper] failed to load config file %s: %v", configPath, err)
	}

	// Override config with flags if set
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	if len(cfg.Streams) == 0 {
		log.Fatal("[eventkeeper] no streams configured")
	}
	if cfg.KafkaGroupID == "" {
		log.Fatal("[eventkeeper] kafkaGroupID is required to commit offsets")
	}
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.ElasticSearchNodes})
	if err != nil {
		log.Fatalf("[eventkeeper] error creating the client: %s", err)
	}
	ix := indexer.New(es)

	// Each stream has at most one message in flight.
	jobs := make(chan indexer.Job, len(cfg.Streams))

	var workers sync.WaitGroup
	workers.Add(cfg.NumWorkers)
	for workerID := 0; workerID < cfg.NumWorkers; workerID++ {
		go func(id int) {
			defer workers.Done()
			indexer.Worker(ctx, ix, jobs, id)
		}(workerID)
	}

	var readers sync.WaitGroup
	for _, stream := range cfg.Streams {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    stream.Topic,
			GroupID:  cfg.KafkaGroupID,
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		})

		readers.Add(1)
		go func(stream indexer.Stream) {
			defer func() {
				r.Close()
				readers.Done()
			}()
			log.Infof("[eventkeeper] indexing topic %s into %s", stream.Topic, stream.Index)
			indexer.Consume(ctx, r, stream, jobs)
		}(stream)
	}

	readers.Wait()
	close(jobs)
	workers.Wait()
}
