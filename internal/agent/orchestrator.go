// Package agent 负责组装上下文、检索记忆并驱动带工具调用的回复生成。
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/llm"
	"github.com/easeaico/project-kairos/internal/memory"
	"github.com/easeaico/project-kairos/internal/observability"
	"github.com/easeaico/project-kairos/internal/prompt"
	"github.com/easeaico/project-kairos/internal/session"
	"github.com/easeaico/project-kairos/internal/tool"
	"github.com/easeaico/project-kairos/internal/types"
	"github.com/easeaico/project-kairos/internal/utils"
)

const (
	DefaultMaxRounds   = 3
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
)

// History rebuilds the conversation window.
type History interface {
	Build(ctx context.Context, req session.Request) ([]session.Turn, error)
}

// Retriever finds memories relevant to the current input.
type Retriever interface {
	Retrieve(ctx context.Context, ownerID, query string, k int) ([]types.RetrievedMemory, error)
}

// Input is the model-ready form of a user message.
type Input struct {
	Text  string
	Parts []*genai.Part
}

type Request struct {
	OwnerID          string
	ThreadID         string
	ExcludeMessageID string
	Input            Input
}

type Usage struct {
	InputTokens  int32 `json:"inputTokens"`
	OutputTokens int32 `json:"outputTokens"`
}

type Response struct {
	Text         string
	ToolsUsed    []string
	MemoriesUsed int
	Usage        Usage
}

type Config struct {
	Temperature  float32
	MaxTokens    int32
	MaxRounds    int
	HistoryLimit int
	TopK         int
	Timeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = session.DefaultLimit
	}
	if c.TopK <= 0 {
		c.TopK = memory.DefaultTopK
	}
	return c
}

// Orchestrator composes history, memories and tools into one reply.
type Orchestrator struct {
	model    model.LLM
	history  History
	memories Retriever
	tools    *tool.Registry
	cfg      Config
}

func NewOrchestrator(m model.LLM, history History, memories Retriever, tools *tool.Registry, cfg Config) *Orchestrator {
	return &Orchestrator{
		model:    m,
		history:  history,
		memories: memories,
		tools:    tools,
		cfg:      cfg.withDefaults(),
	}
}

// Run generates the assistant reply. Tool calls are executed with the
// caller's owner and thread; the final round offers no tools.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Response, error) {
	const op = "agent.Run"
	if req.OwnerID == "" {
		return nil, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	ctx, span := observability.Tracer().Start(ctx, op, trace.WithAttributes(attribute.String("thread.id", req.ThreadID)))
	defer span.End()

	turns, err := o.history.Build(ctx, session.Request{
		OwnerID:          req.OwnerID,
		ThreadID:         req.ThreadID,
		ExcludeMessageID: req.ExcludeMessageID,
		Limit:            o.cfg.HistoryLimit,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	contents, systemTurns := session.Contents(turns)

	var retrieved []types.RetrievedMemory
	if o.memories != nil {
		retrieved, err = o.memories.Retrieve(ctx, req.OwnerID, req.Input.Text, o.cfg.TopK)
		if err != nil {
			slog.Warn("memory retrieval failed, continuing without memories", "owner_id", req.OwnerID, "error", err.Error())
			retrieved = nil
		}
	}

	instruction := genai.NewContentFromText(prompt.System, genai.RoleUser)
	for _, s := range systemTurns {
		appendInstruction(instruction, s)
	}
	appendInstruction(instruction, memory.FormatContext(retrieved))

	contents = append(contents, userContent(req.Input))

	var toolset *tool.Toolset
	if o.tools != nil {
		toolset = o.tools.Bind(req.OwnerID, req.ThreadID)
	}

	resp := &Response{MemoriesUsed: len(retrieved), ToolsUsed: []string{}}
	used := make(map[string]bool)
	for round := 1; round <= o.cfg.MaxRounds; round++ {
		temp := o.cfg.Temperature
		genCfg := &genai.GenerateContentConfig{
			SystemInstruction: instruction,
			Temperature:       &temp,
			MaxOutputTokens:   o.cfg.MaxTokens,
		}
		lastRound := round == o.cfg.MaxRounds
		if toolset != nil && !lastRound {
			genCfg.Tools = []*genai.Tool{toolset.Tool()}
		}

		out, err := llm.First(ctx, o.model, &model.LLMRequest{Contents: contents, Config: genCfg})
		if err != nil {
			span.RecordError(err)
			return nil, apperr.Wrap(apperr.Internal, op, err)
		}
		if out.UsageMetadata != nil {
			resp.Usage.InputTokens += out.UsageMetadata.PromptTokenCount
			resp.Usage.OutputTokens += out.UsageMetadata.CandidatesTokenCount
		}

		calls := functionCalls(out.Content)
		if len(calls) == 0 || lastRound || toolset == nil {
			resp.Text = strings.TrimSpace(utils.ExtractContentText(out.Content))
			break
		}

		contents = append(contents, out.Content)
		results := &genai.Content{Role: genai.RoleUser}
		for _, call := range calls {
			if !used[call.Name] {
				used[call.Name] = true
				resp.ToolsUsed = append(resp.ToolsUsed, call.Name)
			}
			result, err := toolset.Call(ctx, call.Name, call.Args)
			if err != nil {
				slog.Warn("tool call failed", "tool", call.Name, "error", err.Error())
				result = map[string]any{"error": err.Error()}
			}
			results.Parts = append(results.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: result,
			}})
		}
		contents = append(contents, results)
	}

	if resp.Text == "" {
		return nil, apperr.Wrap(apperr.Internal, op, fmt.Errorf("model returned no text"))
	}
	span.SetAttributes(
		attribute.Int("agent.memories", resp.MemoriesUsed),
		attribute.Int("agent.tools", len(resp.ToolsUsed)),
	)
	return resp, nil
}

func userContent(in Input) *genai.Content {
	content := &genai.Content{Role: genai.RoleUser}
	if strings.TrimSpace(in.Text) != "" {
		content.Parts = append(content.Parts, genai.NewPartFromText(in.Text))
	}
	content.Parts = append(content.Parts, in.Parts...)
	return content
}

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	if content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, part := range content.Parts {
		if part != nil && part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}

func appendInstruction(instruction *genai.Content, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	instruction.Parts = append(instruction.Parts, genai.NewPartFromText(text))
}
