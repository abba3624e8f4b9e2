package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/easeaico/project-kairos/internal/pipeline"
	"github.com/easeaico/project-kairos/internal/types"
)

type messageHandler struct {
	pipeline MessagePipeline
}

type createMessageReq struct {
	Type     string  `json:"type" binding:"required"`
	Content  *string `json:"content"`
	MIMEType string  `json:"mimeType"`
}

// POST /v1/threads/:threadID/messages
func (h *messageHandler) create(c *gin.Context) {
	var req createMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msgType, ok := types.ParseMessageType(req.Type)
	if !ok {
		badRequest(c, fmt.Errorf("unknown message type %q", req.Type))
		return
	}
	msg, err := h.pipeline.CreateMessage(c.Request.Context(), pipeline.CreateRequest{
		OwnerID:  OwnerID(c),
		ThreadID: c.Param("threadID"),
		Type:     msgType,
		Content:  req.Content,
		MIMEType: req.MIMEType,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": msg})
}

type mediaUploadedReq struct {
	MediaRef string `json:"mediaRef" binding:"required"`
}

// POST /v1/messages/:messageID/media
func (h *messageHandler) markUploaded(c *gin.Context) {
	var req mediaUploadedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.pipeline.MarkMediaUploaded(c.Request.Context(), OwnerID(c), c.Param("messageID"), req.MediaRef)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": msg})
}

// POST /v1/messages/:messageID/prepare
func (h *messageHandler) prepare(c *gin.Context) {
	msg, err := h.pipeline.PrepareMedia(c.Request.Context(), OwnerID(c), c.Param("messageID"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": msg})
}

// POST /v1/messages/:messageID/reply
func (h *messageHandler) reply(c *gin.Context) {
	reply, err := h.pipeline.GenerateReply(c.Request.Context(), OwnerID(c), c.Param("messageID"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, reply)
}

// POST /v1/messages/:messageID/retry
func (h *messageHandler) retry(c *gin.Context) {
	reply, err := h.pipeline.Retry(c.Request.Context(), OwnerID(c), c.Param("messageID"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, reply)
}
