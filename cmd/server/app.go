package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/config"
	"github.com/fukkingsnow/arq-sub003/internal/events"
	"github.com/fukkingsnow/arq-sub003/internal/pipeline"
	"github.com/fukkingsnow/arq-sub003/internal/platform/logger"
	"github.com/fukkingsnow/arq-sub003/internal/platform/postgres"
	redisstore "github.com/fukkingsnow/arq-sub003/internal/platform/redis"
	"github.com/fukkingsnow/arq-sub003/internal/queue"
	"github.com/fukkingsnow/arq-sub003/internal/service"
	"github.com/fukkingsnow/arq-sub003/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"
)

// shutdownTimeout bounds how long graceful shutdown may take.
const shutdownTimeout = 15 * time.Second

// run assembles the application from configuration and serves it,
// blocking until a shutdown signal arrives.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	store, cleanup, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	broker := queue.NewBroker(store,
		time.Duration(cfg.Queue.LeaseSeconds)*time.Second, log)
	broadcaster := events.NewBroadcaster(log)
	engine := pipeline.NewEngine(log)

	registry := worker.NewRegistry()
	if err := registry.Register(worker.JobTypeEcho, worker.NewEchoHandler()); err != nil {
		return fmt.Errorf("failed to register echo handler: %w", err)
	}
	chatHandler := worker.NewChatMessageHandler(engine, cfg.Pipeline.LogExecution)
	if err := registry.Register(worker.JobTypeChatMessage, chatHandler); err != nil {
		return fmt.Errorf("failed to register chat handler: %w", err)
	}

	pool := worker.NewPool(broker, cfg.Queue.Name, registry, broadcaster, worker.PoolConfig{
		Concurrency:     cfg.Queue.Concurrency,
		ReclaimInterval: time.Duration(cfg.Queue.ReclaimIntervalSeconds) * time.Second,
		HandlerTimeout:  time.Duration(cfg.Queue.HandlerTimeoutSeconds) * time.Second,
	}, log)
	broker.RegisterWorker(cfg.Queue.Name, pool)

	taskService := service.NewTaskService(broker, broadcaster, cfg.Queue.Name, log)

	router := newRouter(taskService, engine)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}

	// stop the worker pools and wait for in-flight jobs to settle
	broker.Shutdown()

	log.Info("shutdown complete")
	return nil
}

// buildStore constructs the configured JobStore backend and returns a
// cleanup function that releases its resources.
func buildStore(cfg *config.Config, log *slog.Logger) (queue.JobStore, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.Migrate(context.Background(), db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("using postgres job store")
		return postgres.NewPostgresJobStore(db), func() { _ = db.Close() }, nil

	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Store.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("using redis job store", "addr", cfg.Store.RedisAddr)
		return redisstore.NewRedisJobStore(rdb), func() { _ = rdb.Close() }, nil

	default:
		log.Warn("using in-memory job store, jobs are lost on restart")
		return queue.NewMemoryJobStore(), func() {}, nil
	}
}
