package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"subscriptions/pkg/api"
	"subscriptions/pkg/config"
	"subscriptions/pkg/events"
	"subscriptions/pkg/payments"
	"subscriptions/pkg/storage"
	"subscriptions/pkg/storage/memdb"
	"subscriptions/pkg/storage/mongo"
	"subscriptions/pkg/storage/postgres"
	"subscriptions/pkg/timetags"
	"subscriptions/pkg/web"
)

func main() {
	var (
		configPath string
		envPath    string
		httpAddr   string
		logLevel   string
		prefix     string
		kafkaAddr  string
		dev        bool
	)

	flag.StringVar(&configPath, "servconf", "cmd/server/config.toml", "Path to TOML config file")
	flag.StringVar(&envPath, "envfile", ".env", "Path to .env file with Stripe secrets")
	flag.StringVar(&httpAddr, "http", "", "HTTP server address in the form 'host:port'.")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.StringVar(&prefix, "prefix", "", "Path the subscription routes are mounted under, e.g. '/subscriptions'.")
	flag.StringVar(&kafkaAddr, "kafka", "", "Kafka server address in the form 'host:port'.")
	flag.BoolVar(&dev, "dev", false, "Run the server in development mode with in-memory DB.")
	flag.Parse()

	if err := config.LoadEnvFile(envPath); err != nil {
		log.Fatalf("[server] failed to load env file %s: %v", envPath, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	// Override config with flags if set
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if prefix != "" {
		cfg.MountPrefix = prefix
	}
	if kafkaAddr != "" {
		cfg.Kafka.Addr = kafkaAddr
	}
	if dev {
		cfg.Storage = config.StorageMemory
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[server] invalid configuration: %v", err)
	}
	log.SetLevel(cfg.Level())
	log.Debugf("[server] configuration: %s", cfg)

	if !strings.Contains(cfg.HTTPAddr, ":") {
		log.Warn("[server] use ':' before port number, e.g. ':8080'")
	}

	setupCtx, setupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer setupCancel()

	db, closeDB, err := openStorage(setupCtx, cfg.Storage)
	if err != nil {
		log.Fatalf("[server] failed to initialize storage: %v", err)
	}

	var (
		logWriter   *kafka.Writer
		eventWriter *kafka.Writer
	)
	if cfg.Kafka.Addr != "" {
		if cfg.Kafka.LogTopic != "" {
			logWriter = newKafkaWriter(setupCtx, cfg.Kafka.Addr, cfg.Kafka.LogTopic, cfg.Kafka.Batch)
		}
		if cfg.Kafka.EventTopic != "" {
			eventWriter = newKafkaWriter(setupCtx, cfg.Kafka.Addr, cfg.Kafka.EventTopic, cfg.Kafka.Batch)
		}
	} else {
		log.Warnf("[server] kafka was not configured, logs and billing events will not be sent to Kafka")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("[server] invalid timezone %q: %v", cfg.Timezone, err)
	}
	renderer, err := web.New(timetags.NewLibrary(loc))
	if err != nil {
		log.Fatalf("[server] failed to load templates: %v", err)
	}

	apiConf := api.Config{
		ServiceName: cfg.ServiceName,
		Prefix:      cfg.MountPrefix,
		BaseURL:     cfg.BaseURL(),
		Provider: payments.NewStripe(payments.StripeConfig{
			PublishableKey: cfg.Stripe.PublishableKey,
			SecretKey:      cfg.Stripe.SecretKey,
			WebhookSecret:  cfg.Stripe.WebhookSecret,
			PriceID:        cfg.Stripe.PriceID,
			APIURL:         cfg.Stripe.APIURL,
		}, nil),
		Storage:  db,
		Renderer: renderer,
	}
	// Typed nil writers must not reach the interfaces.
	if logWriter != nil {
		apiConf.LogWriter = logWriter
	}
	if eventWriter != nil {
		apiConf.Publisher = events.NewPublisher(eventWriter)
	}

	api, err := api.New(apiConf)
	if err != nil {
		log.Fatalf("[server] failed to create API: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("[server] starting on %v, routes mounted at %q", cfg.HTTPAddr, cfg.MountPrefix)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] failed to start: %v", err)
			return
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] HTTP server shutdown error: %v", err)
	} else {
		log.Info("[server] HTTP server shut down gracefully")
	}

	for _, w := range []*kafka.Writer{logWriter, eventWriter} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			log.Errorf("[server] failed to flush Kafka writer for topic %s: %v", w.Topic, err)
		}
	}

	closeDB(shutdownCtx)
	log.Info("[server] disconnected from DB")
}

// openStorage connects the webhook event ledger selected by kind. The
// returned func releases the connection.
func openStorage(ctx context.Context, kind string) (storage.Storage, func(context.Context), error) {
	switch kind {
	case config.StoragePostgres:
		conf := postgres.Config{
			User:     getenv("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getenv("POSTGRES_PORT", "5432"),
			DBName:   getenv("POSTGRES_DB", "subscriptions"),
			SSLMode:  os.Getenv("POSTGRES_SSLMODE"),
		}
		if !conf.IsValid() {
			return nil, nil, fmt.Errorf("invalid postgres config: %s", conf)
		}

		db, err := postgres.New(ctx, conf.ConString())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrConnectDB, err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrDBNotResponding, err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
		log.Infof("[server] connected to postgres: %s", conf)
		return db, func(context.Context) { db.Close() }, nil

	case config.StorageMongo:
		conf, err := mongo.NewConfig()
		if err != nil {
			return nil, nil, err
		}

		db, err := mongo.New(ctx, conf)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrConnectDB, err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close(ctx)
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrDBNotResponding, err)
		}
		log.Infof("[server] connected to mongo at %s:%s", conf.Host, conf.Port)
		return db, db.Close, nil

	default:
		log.Info("[server] running with in-memory event storage")
		return memdb.New(), func(context.Context) {}, nil
	}
}

func newKafkaWriter(ctx context.Context, broker, topic string, batch int) *kafka.Writer {
	w := events.NewWriter(broker, topic, batch)
	if err := events.CreateTopic(ctx, broker, topic); err != nil {
		log.Warnf("[server] failed to create Kafka topic %s: %v", topic, err)
	}
	return w
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
