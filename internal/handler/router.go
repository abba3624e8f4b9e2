package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/easeaico/project-kairos/internal/cascade"
	"github.com/easeaico/project-kairos/internal/insight"
	"github.com/easeaico/project-kairos/internal/pipeline"
	"github.com/easeaico/project-kairos/internal/types"
)

type ThreadCreator interface {
	Create(ctx context.Context, thread *types.Thread) error
}

type ThreadDeleter interface {
	DeleteThread(ctx context.Context, ownerID, threadID string) (cascade.Result, error)
}

type MessagePipeline interface {
	CreateMessage(ctx context.Context, req pipeline.CreateRequest) (*types.Message, error)
	MarkMediaUploaded(ctx context.Context, ownerID, messageID, mediaRef string) (*types.Message, error)
	PrepareMedia(ctx context.Context, ownerID, messageID string) (*types.Message, error)
	GenerateReply(ctx context.Context, ownerID, messageID string) (*pipeline.Reply, error)
	Retry(ctx context.Context, ownerID, messageID string) (*pipeline.Reply, error)
}

type CategoryInsights interface {
	Refresh(ctx context.Context, ownerID string, category types.Category, force bool) (insight.RefreshResult, error)
	RefreshAll(ctx context.Context, ownerID string) ([]insight.RefreshResult, error)
}

type Memories interface {
	ConfirmMemory(ctx context.Context, ownerID, content string, threadID *string) (*types.Memory, error)
	Stats(ctx context.Context, ownerID string) (types.MemoryStats, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Threads    ThreadCreator
	Deleter    ThreadDeleter
	Pipeline   MessagePipeline
	Categories CategoryInsights
	Memories   Memories
	Health     Pinger
}

type Options struct {
	ServiceName string
	CORSOrigins []string
	JWTSecret   string
}

func NewRouter(deps Deps, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.ServiceName != "" {
		router.Use(otelgin.Middleware(opts.ServiceName))
	}
	router.Use(cors.New(corsConfig(opts.CORSOrigins)))

	router.GET("/healthz", healthz(deps.Health))

	auth := NewAuthenticator(opts.JWTSecret)
	v1 := router.Group("/v1", auth.RequireAuth())
	{
		h := &threadHandler{threads: deps.Threads, deleter: deps.Deleter}
		v1.POST("/threads", h.create)
		v1.DELETE("/threads/:threadID", h.delete)
	}
	{
		h := &messageHandler{pipeline: deps.Pipeline}
		v1.POST("/threads/:threadID/messages", h.create)
		v1.POST("/messages/:messageID/media", h.markUploaded)
		v1.POST("/messages/:messageID/prepare", h.prepare)
		v1.POST("/messages/:messageID/reply", h.reply)
		v1.POST("/messages/:messageID/retry", h.retry)
	}
	{
		h := &insightHandler{categories: deps.Categories}
		v1.POST("/insights/categories/refresh", h.refreshAll)
		v1.POST("/insights/categories/:category/refresh", h.refresh)
	}
	{
		h := &memoryHandler{memories: deps.Memories}
		v1.POST("/memories", h.confirm)
		v1.GET("/memories/stats", h.stats)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func healthz(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
