package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
)

type memoryHandler struct {
	memories Memories
}

type confirmMemoryReq struct {
	Content  string  `json:"content" binding:"required"`
	ThreadID *string `json:"threadId"`
}

// POST /v1/memories
func (h *memoryHandler) confirm(c *gin.Context) {
	var req confirmMemoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		badRequest(c, errors.New("content is required"))
		return
	}
	mem, err := h.memories.ConfirmMemory(c.Request.Context(), OwnerID(c), strings.TrimSpace(req.Content), req.ThreadID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"memory": mem})
}

// GET /v1/memories/stats
func (h *memoryHandler) stats(c *gin.Context) {
	stats, err := h.memories.Stats(c.Request.Context(), OwnerID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, stats)
}
