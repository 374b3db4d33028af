package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"backend-tagmap/internal/config"
	"backend-tagmap/internal/db"
	"backend-tagmap/internal/logging"
	"backend-tagmap/internal/metrics"
	"backend-tagmap/internal/queue"
	"backend-tagmap/internal/store"

	"github.com/hibiken/asynq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	pool, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Error("connect database", "event", "startup", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	server := asynq.NewServer(redisOpt(cfg), serverConfig(cfg))
	processor := queue.NewProcessor(store.NewPostgres(pool), metrics.New(), logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker started", "event", "startup", "concurrency", serverConfig(cfg).Concurrency)
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", "event", "shutdown", "error", err)
		os.Exit(1)
	}
}

func redisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
}

func serverConfig(cfg config.Config) asynq.Config {
	n := cfg.WorkerConcurrency
	if n < 1 {
		n = 1
	}
	return asynq.Config{
		Concurrency: n,
		Queues:      map[string]int{"default": 1},
	}
}
