package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"lifecycle/internal/broker"
	"lifecycle/internal/couchbase"
	"lifecycle/internal/lifecycle"
	"lifecycle/internal/lifecycle/connection"
	"lifecycle/internal/lifecycle/metrics"
	"lifecycle/internal/lifecycle/publisher"
	"lifecycle/internal/lifecycle/tracing"
	"lifecycle/internal/users"
)

type Config struct {
	Broker    broker.Config
	Reconnect connection.ReconnectPolicy
	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
	Couchbase couchbase.Config

	UsersCollection string        `env:"COUCHBASE_USERS_COLLECTION" envDefault:"users"`
	UserCount       int           `env:"USER_COUNT" envDefault:"100"`
	Workers         int           `env:"WORKERS" envDefault:"8"`
	VerifyTimeout   time.Duration `env:"VERIFY_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}
	if err := cfg.Broker.Validate(); err != nil {
		log.Fatalf("invalid broker config: %v", err)
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	registry := metrics.NewRegistry()
	registry.SetSystemInfo("e2e", time.Now().Format(time.RFC3339))

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	dialer, err := broker.NewDialer(cfg.Broker, logger)
	if err != nil {
		logger.Fatal("failed to create broker dialer", zap.Error(err))
	}
	mgr, err := connection.NewManager(dialer, cfg.Broker.Brokers, logger,
		connection.WithObserver(registry),
		connection.WithReconnectPolicy(cfg.Reconnect),
	)
	if err != nil {
		logger.Fatal("failed to create connection manager", zap.Error(err))
	}
	defer mgr.Close()

	// startup continues degraded when the broker is down
	if _, err := mgr.Connect(ctx); err != nil {
		logger.Warn("broker unreachable, lifecycle events will not be published",
			zap.Strings("brokers", cfg.Broker.Brokers),
			zap.Error(err))
	}
	go mgr.Watch(ctx)

	metricsServer := metrics.NewServer(cfg.Metrics, registry, func() bool {
		return mgr.State() == lifecycle.Connected
	}, logger)
	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server", zap.Error(err))
		}
	}()

	basePublisher, err := publisher.NewPublisher(mgr, logger)
	if err != nil {
		logger.Fatal("failed to create publisher", zap.Error(err))
	}
	guard, err := publisher.NewGuard(basePublisher, mgr, logger, registry)
	if err != nil {
		logger.Fatal("failed to create guard", zap.Error(err))
	}
	metricsPublisher := publisher.NewMetricsPublisher(guard, registry)
	tracedPublisher := publisher.NewTracedPublisher(metricsPublisher, tracer, cfg.Broker.Topic)
	notifier, err := publisher.NewNotifier(tracedPublisher, cfg.Broker.AckTimeout)
	if err != nil {
		logger.Fatal("failed to create notifier", zap.Error(err))
	}

	cluster, bucket, err := couchbase.Connect(cfg.Couchbase)
	if err != nil {
		logger.Fatal("failed to connect to couchbase", zap.Error(err))
	}
	defer cluster.Close(nil)

	store, err := couchbase.NewStore[users.User](bucket, cfg.Couchbase.Scope, cfg.UsersCollection)
	if err != nil {
		logger.Fatal("failed to create users store", zap.Error(err))
	}
	service, err := users.NewService(store, notifier, logger.Named("users"), users.WithRecorder(registry))
	if err != nil {
		logger.Fatal("failed to create users service", zap.Error(err))
	}

	start := time.Now()
	ids, err := run(ctx, service, cfg.UserCount, cfg.Workers)
	if err != nil {
		logger.Error("workload failed", zap.Error(err))
		return
	}
	logger.Info("workload complete",
		zap.Int("users", len(ids)),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("connection_state", mgr.State().String()))

	if mgr.State() != lifecycle.Connected {
		logger.Warn("skipping verification while degraded")
		return
	}

	verifyCtx, verifyCancel := context.WithTimeout(ctx, cfg.VerifyTimeout)
	defer verifyCancel()
	if err := verify(verifyCtx, cfg.Broker, ids, logger); err != nil {
		logger.Error("verification failed", zap.Error(err))
		return
	}

	fmt.Printf("\n\n TEST COMPLETE IN %.2f seconds\n", time.Since(start).Seconds())
}

// run creates count users across workers and deletes each one after it is
// created, returning the ids that went through both mutations.
func run(ctx context.Context, service *users.Service, count, workers int) ([]string, error) {
	var (
		mu  sync.Mutex
		ids = make([]string, 0, count)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := 0; i < count; i++ {
		g.Go(func() error {
			user, err := service.Create(gctx, fmt.Sprintf("user-%04d", i), fmt.Sprintf("user-%04d@example.com", i))
			if err != nil {
				return fmt.Errorf("failed to create user %d: %w", i, err)
			}
			if _, err := service.Delete(gctx, user.ID); err != nil {
				return fmt.Errorf("failed to delete user %s: %w", user.ID, err)
			}

			mu.Lock()
			ids = append(ids, user.ID)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return ids, nil
}

// verify reads the topic back and checks that every id saw user_created
// followed by user_deleted on a single partition.
func verify(ctx context.Context, config broker.Config, ids []string, logger *zap.Logger) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     "lifecycle-e2e-" + uuid.NewString(),
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	type seen struct {
		types     []string
		partition int
	}
	want := make(map[string]*seen, len(ids))
	for _, id := range ids {
		want[id] = nil
	}

	var complete int
	for complete < len(ids) {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("read stopped with %d of %d users complete: %w", complete, len(ids), err)
		}

		key := string(msg.Key)
		s, ok := want[key]
		if !ok {
			continue
		}
		if s == nil {
			s = &seen{partition: msg.Partition}
			want[key] = s
		}
		if s.partition != msg.Partition {
			return fmt.Errorf("key %s written to partitions %d and %d", key, s.partition, msg.Partition)
		}

		var body struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(msg.Value, &body); err != nil {
			return fmt.Errorf("failed to decode message at offset %d: %w", msg.Offset, err)
		}
		s.types = append(s.types, body.EventType)

		if len(s.types) == 2 {
			if s.types[0] != string(lifecycle.UserCreated) || s.types[1] != string(lifecycle.UserDeleted) {
				return fmt.Errorf("key %s observed %v out of order", key, s.types)
			}
			complete++
		}
	}

	logger.Info("per-key order verified", zap.Int("users", complete))
	return nil
}
