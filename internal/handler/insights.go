package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/easeaico/project-kairos/internal/insight"
	"github.com/easeaico/project-kairos/internal/types"
)

type insightHandler struct {
	categories CategoryInsights
}

type categoryResponse struct {
	Insight    types.CategoryInsight `json:"insight"`
	Refreshed  bool                  `json:"refreshed"`
	RetryAfter int64                 `json:"retryAfterSeconds,omitempty"`
}

func toCategoryResponse(r insight.RefreshResult) categoryResponse {
	return categoryResponse{
		Insight:    r.Insight,
		Refreshed:  r.Refreshed,
		RetryAfter: int64(r.RetryAfter.Seconds()),
	}
}

// POST /v1/insights/categories/:category/refresh?force=true
func (h *insightHandler) refresh(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	res, err := h.categories.Refresh(c.Request.Context(), OwnerID(c), types.Category(c.Param("category")), force)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, toCategoryResponse(res))
}

// POST /v1/insights/categories/refresh
func (h *insightHandler) refreshAll(c *gin.Context) {
	results, err := h.categories.RefreshAll(c.Request.Context(), OwnerID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	out := make([]categoryResponse, 0, len(results))
	for _, r := range results {
		out = append(out, toCategoryResponse(r))
	}
	RespondOK(c, gin.H{"insights": out})
}
