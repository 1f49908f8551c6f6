package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/config"
	"github.com/salesloop/salesloop/pkg/engine"
	"github.com/salesloop/salesloop/pkg/eventbus"
	"github.com/salesloop/salesloop/pkg/queue"
	"github.com/salesloop/salesloop/pkg/services"
	"github.com/salesloop/salesloop/pkg/store/postgres"
	redisclient "github.com/salesloop/salesloop/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	workflowRepo := postgres.NewWorkflowRepository(db.DB())
	runRepo := postgres.NewRunRepository(db.DB())
	auditRepo := postgres.NewAuditRepository(db.DB())

	var runQueue queue.RunQueue
	if cfg.Engine.QueueDriver == "memory" {
		runQueue = queue.NewMemoryQueue(0)
	} else {
		runQueue = queue.NewRedisQueue(redis.Client(), "sl:runs")
	}

	crm := services.NewHTTPClient(cfg.Services.CRMBaseURL, cfg.Services.APIKey, cfg.Engine.CallTimeout)

	retry := engine.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Engine.MaxAttempts
	retry.BaseDelay = cfg.Engine.RetryBaseDelay

	executor := engine.NewExecutor(crm, crm, crm, crm, retry, cfg.Engine.CallTimeout, logger)

	eng := engine.New(workflowRepo, runRepo, auditRepo, runQueue, executor, crm, engine.Config{
		Workers:   cfg.Engine.Workers,
		StepLimit: cfg.Engine.StepLimit,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.NewBus(redis.Client())
	events := bus.Subscribe(ctx, eventbus.AllChannels()...)
	go func() {
		for event := range events {
			if err := eng.OnEvent(ctx, *event); err != nil {
				logger.Error("failed to handle event", zap.String("event_id", event.ID.String()), zap.Error(err))
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.Engine.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := eng.Tick(ctx); err != nil && err != context.Canceled {
					logger.Error("tick failed", zap.Error(err))
				}
			}
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	go eng.Start(ctx)

	logger.Info("workflow engine started",
		zap.Int("workers", cfg.Engine.Workers),
		zap.Duration("tick_interval", cfg.Engine.TickInterval),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("workflow engine shutting down")
}
