package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bioinfoflow/backend/internal/pipeline"
)

// ListWorkflows lists workflow summaries, optionally filtered by
// conversation.
func (h *Handlers) ListWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": h.workflows.List(c.Query("conversation_id"))})
}

// GetWorkflow returns one workflow plan with its steps.
func (h *Handlers) GetWorkflow(c *gin.Context) {
	w, err := h.workflows.Get(c.Param("workflow_id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, w)
}

type createWorkflowRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Goal           string `json:"goal" binding:"required"`
}

// CreateWorkflow plans a new workflow for an analysis goal.
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id and goal are required"})
		return
	}

	w, err := h.workflows.CreateWorkflow(c.Request.Context(), req.ConversationID, req.Goal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, w)
}

type executeStepRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

// ExecuteWorkflowStep runs one step of a workflow. Blocks until the step
// finishes or times out.
func (h *Handlers) ExecuteWorkflowStep(c *gin.Context) {
	var req executeStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	step, err := h.workflows.ExecuteStep(
		c.Request.Context(),
		c.Param("workflow_id"),
		c.Param("step_id"),
		req.ConversationID,
	)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, pipeline.ErrStepNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, step)
}
