package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/mergington/internal/api"
	"example.com/mergington/internal/config"
	"example.com/mergington/internal/domain"
	"example.com/mergington/internal/outbox"
	"example.com/mergington/internal/persistence/memory"
	"example.com/mergington/internal/persistence/postgres"
	httptransport "example.com/mergington/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roster, closeRoster, err := openRoster(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open roster", slog.String("backend", cfg.RosterBackend), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeRoster()

	opts := []domain.Option{domain.WithLogger(logger)}

	var publisher *outbox.Publisher
	if cfg.PublishingEnabled() {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		pubOpts := []outbox.Option{
			outbox.WithLogger(logger.With(slog.String("component", "outbox"))),
			outbox.WithBufferSize(cfg.PublishBufferSize),
			outbox.WithBatchSize(cfg.PublishBatchSize),
			outbox.WithFlushInterval(cfg.PublishFlushInterval),
		}
		if cfg.SchemaRegistryURL != "" {
			pubOpts = append(pubOpts, outbox.WithSchemaRegistry(outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)))
		}
		publisher = outbox.NewPublisher(producer, pubOpts...)
		opts = append(opts, domain.WithPublisher(publisher))
	}

	pubCtx, stopPublisher := context.WithCancel(ctx)
	defer stopPublisher()
	if publisher != nil {
		go publisher.Start(pubCtx)
	}

	service := domain.NewService(roster, opts...)

	mux := http.NewServeMux()
	api.NewHandler(service, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		api.RequestLogger(logger, api.CORS(cfg.CORSAllowedOrigin, mux)),
	)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("signup-service listening",
			slog.String("address", cfg.HTTPAddress),
			slog.String("backend", cfg.RosterBackend),
			slog.Bool("publishing", publisher != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-shutdownCh
	logger.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}

	// Stop the publisher only after in-flight requests have queued their events.
	stopPublisher()
	if publisher != nil {
		publisher.Wait()
	}
}

func openRoster(ctx context.Context, cfg config.Config, logger *slog.Logger) (domain.Roster, func(), error) {
	if cfg.RosterBackend != config.BackendPostgres {
		return memory.NewSeededRoster(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	roster := postgres.NewRoster(pool)
	if err := roster.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	seeded, err := roster.Seed(ctx, domain.DefaultActivities())
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if seeded {
		logger.Info("seeded empty roster", slog.Int("activities", len(domain.DefaultActivities())))
	}
	return roster, pool.Close, nil
}
