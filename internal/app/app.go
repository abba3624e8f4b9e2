// Package app 负责根据配置装配存储、模型与各领域服务。
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"google.golang.org/adk/model"

	"github.com/easeaico/project-kairos/internal/agent"
	"github.com/easeaico/project-kairos/internal/cascade"
	"github.com/easeaico/project-kairos/internal/config"
	"github.com/easeaico/project-kairos/internal/events"
	"github.com/easeaico/project-kairos/internal/handler"
	"github.com/easeaico/project-kairos/internal/insight"
	"github.com/easeaico/project-kairos/internal/llm"
	"github.com/easeaico/project-kairos/internal/media"
	"github.com/easeaico/project-kairos/internal/memory"
	"github.com/easeaico/project-kairos/internal/models"
	"github.com/easeaico/project-kairos/internal/pipeline"
	"github.com/easeaico/project-kairos/internal/scheduler"
	"github.com/easeaico/project-kairos/internal/session"
	"github.com/easeaico/project-kairos/internal/storage"
	"github.com/easeaico/project-kairos/internal/tool"
	"github.com/easeaico/project-kairos/internal/types"
)

const mediaFallbackModel = "gemini-2.5-flash"

type App struct {
	Cfg        config.Config
	Store      *storage.Store
	Publisher  events.Publisher
	Memory     *memory.Service
	Insights   *insight.Engine
	Categories *insight.CategoryService
	Tools      *tool.Registry
	Pipeline   *pipeline.Pipeline
	Cascade    *cascade.Cascade
	DailyJob   *scheduler.DailyJob

	closers []func() error
}

// New wires every service. On error, whatever was opened is closed.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Cfg: cfg}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) (err error) {
	cfg := a.Cfg

	a.Store, err = storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, func() error { a.Store.Close(); return nil })

	chatModel, err := models.New(ctx, cfg.LLMProvider, cfg.LLMModel, cfg.LLMAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create chat model: %w", err)
	}
	utilityModel, err := models.New(ctx, cfg.LLMProvider, cfg.UtilityModel, cfg.LLMAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create utility model: %w", err)
	}
	utility := llm.NewGenerator(utilityModel, cfg.GenerationTimeout)

	embedder, err := memory.NewEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel)
	if err != nil {
		return err
	}

	a.Publisher, err = newPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Publisher.Close)

	memOpts := []memory.Option{memory.WithInsights(a.Store.Insights), memory.WithTopK(cfg.TopK)}
	if cfg.QdrantHost != "" {
		index, err := memory.NewQdrantIndex(ctx, memory.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, index.Close)
		memOpts = append(memOpts, memory.WithIndex(index))
	}
	a.Memory = memory.NewService(embedder, a.Store.Memories, utility, memOpts...)

	a.Insights = insight.NewEngine(a.Store.Messages, a.Store.Insights, a.Store.Threads, insight.NewAnalyzer(utility),
		insight.WithPromoter(a.Memory),
		insight.WithObserver(a.publishInsight),
		insight.WithHistoryLimit(cfg.InsightHistoryLimit),
	)
	a.Categories = insight.NewCategoryService(a.Store.CategoryInsights, a.Store.Memories, utility)

	cache, err := newToolCache(ctx, cfg)
	if err != nil {
		return err
	}
	if rc, ok := cache.(*tool.RedisCache); ok {
		a.closers = append(a.closers, rc.Close)
	}
	a.Tools = tool.NewRegistry(a.Store.Profiles, a.Store.Insights, a.Store.Messages, cache)

	orchestrator := agent.NewOrchestrator(chatModel, session.NewBuilder(a.Store.Messages), a.Memory, a.Tools, agent.Config{
		Temperature:  float32(cfg.ReplyTemperature),
		MaxTokens:    int32(cfg.ReplyMaxTokens),
		HistoryLimit: cfg.HistoryLimit,
		TopK:         cfg.TopK,
		Timeout:      cfg.GenerationTimeout,
	})

	var mediaStore *media.GCSStore
	pipeOpts := []pipeline.Option{
		pipeline.WithPublisher(a.Publisher),
		pipeline.WithTimeouts(cfg.GenerationTimeout, cfg.HookTimeout),
		pipeline.WithHooks(pipeline.IngestHook(a.Memory), pipeline.InsightHook(a.Insights)),
	}
	if cfg.MediaBucket != "" {
		mediaStore, err = media.NewGCSStore(ctx, cfg.MediaBucket)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, mediaStore.Close)

		multimodal, err := a.mediaModel(ctx, chatModel)
		if err != nil {
			return err
		}
		gm := media.NewGeminiMedia(multimodal)
		var transcriber media.Transcriber = gm
		if cfg.Transcriber == "gcp-speech" {
			st, err := media.NewSpeechTranscriber(ctx, "")
			if err != nil {
				return err
			}
			a.closers = append(a.closers, st.Close)
			transcriber = st
		}
		pipeOpts = append(pipeOpts, pipeline.WithMedia(mediaStore, transcriber, gm))
	} else {
		slog.Warn("MEDIA_BUCKET not set, audio and image messages cannot be processed")
	}
	a.Pipeline = pipeline.New(a.Store.Messages, a.Store.Threads, orchestrator, pipeOpts...)

	var deleter cascade.MediaStore
	if mediaStore != nil {
		deleter = mediaStore
	}
	a.Cascade = cascade.New(a.Store.Threads, a.Store.Messages, a.Memory, deleter, a.Tools, a.Publisher)
	a.DailyJob = scheduler.NewDailyJob(a.Store.Messages, a.Insights)
	return nil
}

// mediaModel returns a multimodal Gemini model. Non-Gemini chat providers
// fall back to Gemini through GOOGLE_API_KEY.
func (a *App) mediaModel(ctx context.Context, chat model.LLM) (model.LLM, error) {
	if a.Cfg.LLMProvider == config.ProviderGemini {
		return chat, nil
	}
	return models.New(ctx, config.ProviderGemini, mediaFallbackModel, a.Cfg.GoogleAPIKey)
}

func (a *App) publishInsight(ctx context.Context, in types.Insight) {
	e := events.New(events.InsightRefreshed, in.OwnerID)
	if in.ThreadID != nil {
		e.ThreadID = *in.ThreadID
	}
	e.Data = map[string]any{
		"insightId":       in.ID,
		"type":            in.Type.String(),
		"moodScore":       in.MoodScore,
		"dominantEmotion": in.DominantEmotion.String(),
	}
	if err := a.Publisher.Publish(ctx, e); err != nil {
		slog.Warn("failed to publish event", "type", e.Type, "error", err.Error())
	}
}

func (a *App) Router() *gin.Engine {
	return handler.NewRouter(handler.Deps{
		Threads:    a.Store.Threads,
		Deleter:    a.Cascade,
		Pipeline:   a.Pipeline,
		Categories: a.Categories,
		Memories:   a.Memory,
		Health:     a.Store,
	}, handler.Options{
		ServiceName: a.Cfg.ServiceName,
		CORSOrigins: a.Cfg.CORSOrigins,
		JWTSecret:   a.Cfg.JWTSecret,
	})
}

// Close waits for background hooks, then releases resources in reverse order.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Pipeline != nil {
		a.Pipeline.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err.Error())
		}
	}
	a.closers = nil
}

func newPublisher(ctx context.Context, cfg config.Config) (events.Publisher, error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		slog.Info("publishing events to kafka", "topic", cfg.KafkaTopic)
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case cfg.RedisAddr != "":
		slog.Info("publishing events to redis", "channel", cfg.KafkaTopic)
		return events.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.KafkaTopic)
	default:
		return events.Nop{}, nil
	}
}

func newToolCache(ctx context.Context, cfg config.Config) (tool.Cache, error) {
	if cfg.RedisAddr == "" {
		return tool.NewLRUCache(cfg.ToolCacheSize, cfg.ToolCacheTTL), nil
	}
	return tool.NewRedisCache(ctx, cfg.RedisAddr, cfg.ToolCacheTTL)
}
