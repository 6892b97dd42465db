package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bioinfoflow/backend/internal/conversation"
)

// ListConversations returns conversation summaries, newest first.
func (h *Handlers) ListConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversations": h.conversations.Store().List()})
}

// GetConversation returns one conversation with its transcript.
func (h *Handlers) GetConversation(c *gin.Context) {
	conv, err := h.conversations.Store().Get(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

type createConversationRequest struct {
	Title string `json:"title"`
	Mode  string `json:"mode"`
}

// CreateConversation starts a new conversation.
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	_ = c.ShouldBindJSON(&req) // all fields optional

	conv, err := h.conversations.Store().Create(req.Title, conversation.Mode(req.Mode))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

type renameConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

// RenameConversation updates a conversation's title.
func (h *Handlers) RenameConversation(c *gin.Context) {
	var req renameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	conv, err := h.conversations.Store().Rename(c.Param("conversation_id"), req.Title)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, conversation.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SetConversationMode switches between chat and agent modes.
func (h *Handlers) SetConversationMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}

	conv, err := h.conversations.Store().SetMode(c.Param("conversation_id"), conversation.Mode(req.Mode))
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, conv)
}

// DeleteConversation removes a conversation.
func (h *Handlers) DeleteConversation(c *gin.Context) {
	if !h.conversations.Store().Delete(c.Param("conversation_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage appends a user message and returns the bot reply.
func (h *Handlers) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	exchange, err := h.conversations.SendMessage(c.Request.Context(), c.Param("conversation_id"), req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, conversation.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, exchange)
}
