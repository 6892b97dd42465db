package http

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bioinfoflow/backend/internal/files"
)

func fileErrStatus(err error) int {
	switch {
	case errors.Is(err, files.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, files.ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// wildcardPath extracts the workspace-relative path from a *filepath route
// param, which gin returns with a leading slash.
func wildcardPath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("filepath"), "/")
}

// ListFiles returns the workspace tree for a conversation.
func (h *Handlers) ListFiles(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	entries, err := h.filesvc.List(conversationID, c.Query("path"))
	if err != nil {
		c.JSON(fileErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": entries})
}

// SearchFiles finds workspace files by name substring or glob pattern.
func (h *Handlers) SearchFiles(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	var (
		entries []files.Entry
		err     error
	)
	if pattern := c.Query("pattern"); pattern != "" {
		entries, err = h.filesvc.Glob(c.Request.Context(), conversationID, pattern)
	} else {
		entries, err = h.filesvc.Search(c.Request.Context(), conversationID, c.Query("q"))
	}
	if err != nil {
		c.JSON(fileErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": entries})
}

type createFileRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Name           string `json:"name" binding:"required"`
	Path           string `json:"path"`
	Content        string `json:"content"`
}

// CreateFile writes a new workspace file.
func (h *Handlers) CreateFile(c *gin.Context) {
	var req createFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id and name are required"})
		return
	}

	entry, err := h.filesvc.CreateFile(req.ConversationID, req.Path, req.Name, req.Content)
	if err != nil {
		c.JSON(fileErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type createDirRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Name           string `json:"name" binding:"required"`
	Path           string `json:"path"`
}

// CreateDirectory creates a workspace directory.
func (h *Handlers) CreateDirectory(c *gin.Context) {
	var req createDirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id and name are required"})
		return
	}

	entry, err := h.filesvc.CreateDirectory(req.ConversationID, req.Path, req.Name)
	if err != nil {
		c.JSON(fileErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// GetFileContent reads one workspace file.
func (h *Handlers) GetFileContent(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	content, err := h.filesvc.Content(conversationID, wildcardPath(c))
	if err != nil {
		c.JSON(fileErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, content)
}

type updateFileRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Content        string `json:"content"`
}

// UpdateFileContent overwrites one workspace file.
func (h *Handlers) UpdateFileContent(c *gin.Context) {
	var req updateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	entry, err := h.filesvc.Update(req.ConversationID, wildcardPath(c), req.Content)
	if err != nil {
		c.JSON(fileErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// DeleteFile removes a workspace file or directory.
func (h *Handlers) DeleteFile(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	ok, err := h.filesvc.Delete(conversationID, wildcardPath(c))
	if err != nil {
		c.JSON(fileErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ExportFiles archives the whole workspace as tar.gz and streams it back.
func (h *Handlers) ExportFiles(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	name := fmt.Sprintf("workspace_%s_%d.tar.gz", conversationID, time.Now().Unix())
	dest := filepath.Join(h.layout.LogsDir(), name)

	result, err := h.filesvc.Export(c.Request.Context(), conversationID, dest)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("X-Archive-Files", fmt.Sprintf("%d", result.Files))
	c.File(result.Path)
}
