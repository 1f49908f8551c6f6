package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/apiserver"
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
	bus := eventbus.NewBus(redis.Client())

	// The API server shares the engine's control surface (cancel, list)
	// but never starts workers; step execution lives in cmd/engine.
	runQueue := queue.NewRedisQueue(redis.Client(), "sl:runs")
	crm := services.NewHTTPClient(cfg.Services.CRMBaseURL, cfg.Services.APIKey, cfg.Engine.CallTimeout)
	executor := engine.NewExecutor(crm, crm, crm, crm, engine.DefaultRetryPolicy(), cfg.Engine.CallTimeout, logger)
	eng := engine.New(workflowRepo, runRepo, auditRepo, runQueue, executor, crm, engine.Config{
		StepLimit: cfg.Engine.StepLimit,
	}, logger)

	server := apiserver.NewServer(workflowRepo, runRepo, auditRepo, eng, bus, cfg, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	go func() {
		logger.Info("starting API server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}
