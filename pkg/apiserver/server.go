package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/apiserver/handlers"
	"github.com/salesloop/salesloop/pkg/apiserver/middleware"
	"github.com/salesloop/salesloop/pkg/auth"
	"github.com/salesloop/salesloop/pkg/config"
	"github.com/salesloop/salesloop/pkg/engine"
	"github.com/salesloop/salesloop/pkg/eventbus"
	"github.com/salesloop/salesloop/pkg/store"
)

type Server struct {
	router *gin.Engine
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(
	workflows store.WorkflowStore,
	runs store.RunStore,
	audit store.AuditLog,
	eng *engine.Engine,
	bus *eventbus.Bus,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{cfg: cfg, logger: logger}
	s.setupRouter(workflows, runs, audit, eng, bus)
	return s
}

func (s *Server) setupRouter(
	workflows store.WorkflowStore,
	runs store.RunStore,
	audit store.AuditLog,
	eng *engine.Engine,
	bus *eventbus.Bus,
) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	tokens := auth.NewTokenManager([]byte(s.cfg.Auth.JWTSecret), s.cfg.Auth.TokenTTL)

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(tokens))

		workflowHandler := handlers.NewWorkflowHandler(workflows, s.logger)
		api.POST("/workflows", workflowHandler.Create)
		api.GET("/workflows", workflowHandler.List)
		api.GET("/workflows/:id", workflowHandler.Get)
		api.PUT("/workflows/:id", workflowHandler.Update)
		api.DELETE("/workflows/:id", workflowHandler.Delete)
		api.POST("/workflows/:id/activate", workflowHandler.SetActive(true))
		api.POST("/workflows/:id/deactivate", workflowHandler.SetActive(false))

		runHandler := handlers.NewRunHandler(eng, runs, s.logger)
		api.GET("/runs", runHandler.List)
		api.GET("/runs/:id", runHandler.Get)
		api.POST("/runs/:id/cancel", runHandler.Cancel)

		auditHandler := handlers.NewAuditHandler(audit, s.logger)
		api.GET("/audit", auditHandler.Query)

		eventHandler := handlers.NewEventHandler(bus, s.logger)
		api.POST("/events", eventHandler.Publish)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
