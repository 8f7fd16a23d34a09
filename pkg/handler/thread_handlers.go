// Thread HTTP handlers
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/loomchat/loomchat/pkg/auth"
	"github.com/loomchat/loomchat/pkg/models"
	"github.com/loomchat/loomchat/pkg/service"
)

// ThreadHandler serves the thread surface.
type ThreadHandler struct {
	chat *service.ChatService
}

func NewThreadHandler(chat *service.ChatService) *ThreadHandler {
	return &ThreadHandler{chat: chat}
}

// RegisterRoutes registers thread routes on an authenticated group.
func (h *ThreadHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/threads", h.ListThreads)
	r.POST("/threads", h.CreateThread)
	r.GET("/threads/:token", h.GetThread)
	r.POST("/threads/:token", h.StreamMessage)
	r.PATCH("/threads/:token", h.RenameThread)
	r.DELETE("/threads/:token", h.DeleteThread)
}

// writeServiceError maps service errors onto HTTP statuses. Unknown models
// and unreachable threads both come back as 404 so ownership and existence
// stay indistinguishable.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrThreadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
	case errors.Is(err, service.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
	case errors.Is(err, service.ErrModelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ListThreads returns the caller's threads, newest activity first.
// GET /api/v1/threads?take=&skip=
func (h *ThreadHandler) ListThreads(c *gin.Context) {
	take, _ := strconv.Atoi(c.DefaultQuery("take", "30"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	threads, hasMore, err := h.chat.ListThreads(auth.UserID(c), take, skip)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ThreadListResponse{Threads: threads, HasMore: hasMore})
}

// CreateThread starts a new thread from a first prompt.
// POST /api/v1/threads
func (h *ThreadHandler) CreateThread(c *gin.Context) {
	var req models.CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	thread, err := h.chat.CreateThread(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

// GetThread returns one thread with its message history.
// GET /api/v1/threads/:token
func (h *ThreadHandler) GetThread(c *gin.Context) {
	thread, err := h.chat.GetThread(auth.UserID(c), c.Param("token"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

// StreamMessage posts a user message and streams the reply over SSE.
// POST /api/v1/threads/:token
func (h *ThreadHandler) StreamMessage(c *gin.Context) {
	var req models.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chunks, err := h.chat.StreamMessage(c.Request.Context(), auth.UserID(c), c.Param("token"), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	w := c.Writer
	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	w.Flush()
}

// RenameThread sets the thread name.
// PATCH /api/v1/threads/:token
func (h *ThreadHandler) RenameThread(c *gin.Context) {
	var req models.RenameThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	thread, err := h.chat.RenameThread(auth.UserID(c), c.Param("token"), req.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

// DeleteThread soft-deletes a thread.
// DELETE /api/v1/threads/:token
func (h *ThreadHandler) DeleteThread(c *gin.Context) {
	if err := h.chat.DeleteThread(auth.UserID(c), c.Param("token")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
