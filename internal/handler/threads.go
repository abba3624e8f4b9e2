package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/types"
)

type threadHandler struct {
	threads ThreadCreator
	deleter ThreadDeleter
}

type createThreadReq struct {
	Title string `json:"title"`
}

// POST /v1/threads
func (h *threadHandler) create(c *gin.Context) {
	var req createThreadReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	thread := &types.Thread{OwnerID: OwnerID(c), Title: strings.TrimSpace(req.Title)}
	if err := h.threads.Create(c.Request.Context(), thread); err != nil {
		RespondError(c, apperr.Wrap(apperr.Internal, "CreateThread", err))
		return
	}
	RespondOK(c, gin.H{"thread": thread})
}

// DELETE /v1/threads/:threadID
func (h *threadHandler) delete(c *gin.Context) {
	res, err := h.deleter.DeleteThread(c.Request.Context(), OwnerID(c), c.Param("threadID"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, res)
}
