// Package http holds the gin request handlers for the REST API.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bioinfoflow/backend/internal/conversation"
	"github.com/bioinfoflow/backend/internal/files"
	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/monitor"
	"github.com/bioinfoflow/backend/internal/pipeline"
	"github.com/bioinfoflow/backend/internal/shared/paths"
	"github.com/bioinfoflow/backend/internal/terminal"
)

// Handlers bundles the services the API exposes.
type Handlers struct {
	conversations *conversation.Service
	filesvc       *files.Service
	store         *terminal.Store
	executor      *terminal.Executor
	workflows     *pipeline.Service
	monitorsvc    *monitor.Service
	layout        paths.Layout
	logger        *logging.Logger
	startedAt     time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(
	conversations *conversation.Service,
	filesvc *files.Service,
	store *terminal.Store,
	executor *terminal.Executor,
	workflows *pipeline.Service,
	monitorsvc *monitor.Service,
	layout paths.Layout,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		conversations: conversations,
		filesvc:       filesvc,
		store:         store,
		executor:      executor,
		workflows:     workflows,
		monitorsvc:    monitorsvc,
		layout:        layout,
		logger:        logger,
		startedAt:     time.Now(),
	}
}

// Root reports service identity.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "bioinfoflow-backend",
		"status":  "running",
	})
}

// Health reports liveness plus a few cheap internals.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
		"sessions":       h.store.Count(),
		"timestamp":      time.Now().Unix(),
	})
}
