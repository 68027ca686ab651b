package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/taskdeck/taskdeck/cli/helpers"
	"github.com/taskdeck/taskdeck/engine/executor"
	"github.com/taskdeck/taskdeck/engine/infra/monitoring"
	"github.com/taskdeck/taskdeck/engine/infra/postgres"
	"github.com/taskdeck/taskdeck/engine/infra/server"
	"github.com/taskdeck/taskdeck/engine/secret"
	"github.com/taskdeck/taskdeck/engine/streaming"
	"github.com/taskdeck/taskdeck/engine/task/orchestrator"
	"github.com/taskdeck/taskdeck/engine/task/stream"
	"github.com/taskdeck/taskdeck/engine/tool"
	"github.com/taskdeck/taskdeck/pkg/config"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const (
	recoverTimeout = 30 * time.Second
	closeTimeout   = 5 * time.Second
)

// ServeCmd runs the HTTP API together with the background stream consumers.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Run the taskdeck API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, config.FromContext(ctx))
		},
	}
	cmd.Flags().String("host", "", "Host to bind the server to (env: SERVER_HOST)")
	cmd.Flags().Int("port", 0, "Port to run the server on (env: SERVER_PORT)")
	cmd.Flags().Bool("cors", false, "Enable CORS (env: SERVER_CORS_ENABLED)")
	cmd.Flags().String("db-conn", "", "Database connection string (env: DB_CONN_STRING)")
	cmd.Flags().Bool("auto-migrate", true, "Apply migrations on startup (env: DB_AUTO_MIGRATE)")
	cmd.Flags().String("redis-url", "", "Redis URL for live progress fan-out (env: REDIS_URL)")
	cmd.Flags().String("executor-url", "", "Agent executor base URL (env: EXECUTOR_BASE_URL)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.FromContext(ctx)
	if err := helpers.EnsurePortAvailable(ctx, cfg.Server.Host, cfg.Server.Port); err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.ApplyMigrations(ctx, cfg.Database.DSN()); err != nil {
			return err
		}
	}
	store, err := postgres.NewStore(ctx, postgres.ConfigFromApp(&cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		store.Close(closeCtx)
	}()

	mon := monitoring.NewMonitoringServiceWithFallback(ctx, monitoring.ConfigFromApp(&cfg.Monitoring))
	if err := mon.Register(store.Collector()); err != nil {
		log.Warn("Database pool metrics unavailable", "error", err)
	}
	metrics := mon.Streaming()

	cipher, err := secret.New(cfg.Crypto.PublicKey.Value(), cfg.Crypto.PrivateKey.Value())
	if err != nil {
		return fmt.Errorf("failed to load crypto keypair: %w", err)
	}
	tasks := postgres.NewTaskRepo(store.Pool())
	progress := postgres.NewProgressRepo(store.Pool())
	toolRepo := postgres.NewToolRepo(store.Pool())
	catalog := tool.NewCatalog(toolRepo, cfg.Tools.CatalogCacheSize, cfg.Tools.CatalogCacheTTL)
	exec := executor.NewClient(executor.Config{
		BaseURL:        cfg.Executor.BaseURL,
		RequestTimeout: cfg.Executor.RequestTimeout,
	})

	consumer := stream.NewConsumer(tasks, progress, exec, stream.Options{
		IdleTimeout:        cfg.Executor.StreamIdleTimeout,
		MaxDuration:        cfg.Executor.StreamMaxDuration,
		ReconnectAttempts:  cfg.Executor.StreamReconnectAttempts,
		ReconnectBaseDelay: cfg.Executor.StreamReconnectBaseDelay,
	}).WithRecorder(metrics)
	deps := &server.Deps{
		Database:    store,
		Monitoring:  mon,
		Connections: metrics,
	}
	feed, closeFeed, err := openFeed(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if feed != nil {
		defer closeFeed()
		consumer = consumer.WithPublisher(feed)
		deps.Live = feed
	}
	supervisor := stream.NewSupervisor(consumer, cfg.Executor.MaxConsumers)
	deps.Consumers = supervisor.Active

	deps.Tasks = orchestrator.NewService(orchestrator.Deps{
		Tasks:       tasks,
		Progress:    progress,
		LLMConfigs:  postgres.NewLLMConfigRepo(store.Pool()),
		Preferences: postgres.NewPreferenceRepo(store.Pool()),
		Tools:       tool.NewResolver(toolRepo, catalog, cipher),
		Executor:    exec,
		Consumers:   supervisor,
		Cipher:      cipher,
		Recorder:    metrics,
	})

	recoverCtx, cancelRecover := context.WithTimeout(ctx, recoverTimeout)
	attached, err := supervisor.Recover(recoverCtx, tasks)
	cancelRecover()
	if err != nil {
		log.Error("Failed to recover stream consumers", "error", err)
	} else if attached > 0 {
		log.Info("Recovered stream consumers", "count", attached)
	}

	srv, err := server.NewServer(ctx, cfg, deps)
	if err != nil {
		return err
	}
	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Runtime.ShutdownTimeout)
	defer cancel()
	if err := supervisor.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("Stream consumers did not stop cleanly", "error", err)
	} else if err != nil {
		log.Warn("Timed out waiting for stream consumers", "active", supervisor.Active())
	}
	return runErr
}

func openFeed(ctx context.Context, cfg *config.RedisConfig) (streaming.Feed, func(), error) {
	if cfg.URL == "" {
		logger.FromContext(ctx).Info("Redis URL not set, live progress falls back to polling")
		return nil, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	feed, err := streaming.NewRedisPublisher(client, &streaming.RedisOptions{
		Prefix:     cfg.Prefix,
		MaxEntries: cfg.MaxEntries,
		TTL:        cfg.TTL,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return feed, func() { _ = client.Close() }, nil
}
