package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bioinfoflow/backend/internal/terminal"
)

type createSessionRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

// CreateTerminalSession opens a new session bound to a conversation.
func (h *Handlers) CreateTerminalSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	session, err := h.store.CreateSession(req.ConversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session.Detail())
}

// ListTerminalSessions lists sessions for a conversation, most recently
// active first.
func (h *Handlers) ListTerminalSessions(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": h.store.ListByConversation(conversationID)})
}

// GetTerminalSession returns one session with its command history.
func (h *Handlers) GetTerminalSession(c *gin.Context) {
	session, err := h.store.Get(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session.Detail())
}

type executeRequest struct {
	Command string `json:"command"`
}

// ExecuteCommand runs a command in a session and returns the finalized
// record. Blocks for up to the command timeout.
func (h *Handlers) ExecuteCommand(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	view, err := h.executor.Execute(c.Param("session_id"), req.Command)
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, terminal.ErrEmptyCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": "command must not be empty"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, view)
	}
}

// TerminateCommand cancels one running command in a session.
func (h *Handlers) TerminateCommand(c *gin.Context) {
	sessionID := c.Param("session_id")
	commandID := c.Param("command_id")

	if _, err := h.store.Get(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	terminated := h.executor.Cancel(sessionID, commandID)
	c.JSON(http.StatusOK, gin.H{"terminated": terminated})
}

// TerminateTerminalSession destroys a session and its processes.
func (h *Handlers) TerminateTerminalSession(c *gin.Context) {
	if !h.store.Terminate(c.Param("session_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "terminal session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
