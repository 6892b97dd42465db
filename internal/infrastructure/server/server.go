// Package server wires every component together and runs the HTTP API.
package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/bioinfoflow/backend/internal/api/http"
	"github.com/bioinfoflow/backend/internal/api/middleware"
	"github.com/bioinfoflow/backend/internal/api/ws"
	"github.com/bioinfoflow/backend/internal/ai"
	"github.com/bioinfoflow/backend/internal/conversation"
	"github.com/bioinfoflow/backend/internal/files"
	"github.com/bioinfoflow/backend/internal/infrastructure/config"
	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/infrastructure/monitoring"
	"github.com/bioinfoflow/backend/internal/monitor"
	"github.com/bioinfoflow/backend/internal/pipeline"
	"github.com/bioinfoflow/backend/internal/shared/paths"
	"github.com/bioinfoflow/backend/internal/terminal"
)

// Server wraps the HTTP router and the long-lived components behind it.
type Server struct {
	router  *gin.Engine
	store   *terminal.Store
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("initializing backend",
		zap.String("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Data.Dir),
	)

	layout := paths.New(cfg.Data.Dir)
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("prepare data directories: %w", err)
	}

	metrics := monitoring.NewMetrics()

	// Terminal subsystem.
	store := terminal.NewStore(layout, terminal.StoreConfig{
		IdleTimeout:     cfg.Terminal.IdleTimeout,
		ReapInterval:    cfg.Terminal.ReapInterval,
		KillGracePeriod: cfg.Terminal.KillGracePeriod,
	}, logger).WithLifecycle(metrics)
	executor := terminal.NewExecutor(store, terminal.ExecutorConfig{
		CommandTimeout: cfg.Terminal.CommandTimeout,
		MaxOutputBytes: cfg.Terminal.MaxOutputBytes,
	}, logger).WithObserver(metrics)

	// AI client plus the services that consume it.
	generator := ai.New(cfg.AI, logger)
	if !generator.Configured() {
		logger.Warn("AI client not configured, responses fall back to canned replies")
	}

	filesvc := files.NewService(layout, logger)
	convStore := conversation.NewStore(layout, logger)
	workflows := pipeline.NewService(layout, generator, filesvc, store.Controller(), cfg.Pipeline, logger)
	conversations := conversation.NewService(convStore, generator, workflows, logger)
	monitorsvc := monitor.NewService(store.Registry())

	handlers := apihttp.NewHandlers(conversations, filesvc, store, executor, workflows, monitorsvc, layout, logger)
	wsHandler := ws.NewHandler(store, metrics.WSConnections, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/conversations", handlers.ListConversations)
		api.POST("/conversations", handlers.CreateConversation)
		api.GET("/conversations/:conversation_id", handlers.GetConversation)
		api.PUT("/conversations/:conversation_id", handlers.RenameConversation)
		api.PUT("/conversations/:conversation_id/mode", handlers.SetConversationMode)
		api.DELETE("/conversations/:conversation_id", handlers.DeleteConversation)
		api.POST("/conversations/:conversation_id/messages", handlers.SendMessage)

		api.GET("/files", handlers.ListFiles)
		api.GET("/files/search", handlers.SearchFiles)
		api.POST("/files", handlers.CreateFile)
		api.POST("/files/mkdir", handlers.CreateDirectory)
		api.GET("/files/export", handlers.ExportFiles)
		api.GET("/files/content/*filepath", handlers.GetFileContent)
		api.PUT("/files/content/*filepath", handlers.UpdateFileContent)
		api.DELETE("/files/content/*filepath", handlers.DeleteFile)

		api.POST("/terminal/sessions", handlers.CreateTerminalSession)
		api.GET("/terminal/sessions", handlers.ListTerminalSessions)
		api.GET("/terminal/sessions/:session_id", handlers.GetTerminalSession)
		api.DELETE("/terminal/sessions/:session_id", handlers.TerminateTerminalSession)
		api.POST("/terminal/sessions/:session_id/execute", handlers.ExecuteCommand)
		api.POST("/terminal/sessions/:session_id/commands/:command_id/terminate", handlers.TerminateCommand)

		api.GET("/workflows", handlers.ListWorkflows)
		api.POST("/workflows", handlers.CreateWorkflow)
		api.GET("/workflows/:workflow_id", handlers.GetWorkflow)
		api.POST("/workflows/:workflow_id/steps/:step_id/execute", handlers.ExecuteWorkflowStep)

		api.GET("/monitor/info", handlers.MonitorInfo)
		api.GET("/monitor/metrics", handlers.MonitorMetrics)
		api.GET("/monitor/history", handlers.MonitorHistory)
		api.GET("/monitor/processes", handlers.MonitorProcesses)
	}

	router.GET("/ws/terminal", wsHandler.HandleConnection)

	logger.Info("server initialized")
	return &Server{
		router:  router,
		store:   store,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Router exposes the configured engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close stops the terminal reaper and kills remaining session processes.
func (s *Server) Close() error {
	s.logger.Info("shutting down")
	s.store.Stop()
	return s.logger.Sync()
}
