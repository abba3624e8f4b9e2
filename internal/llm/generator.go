// Package llm runs single-shot generations against a model.LLM.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/project-kairos/internal/utils"
)

// Request is one system+user prompt pair.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int32
	JSON        bool
}

// Result is the generated text and token usage.
type Result struct {
	Text         string
	InputTokens  int32
	OutputTokens int32
}

// Generator wraps a model with a per-call timeout.
type Generator struct {
	model   model.LLM
	timeout time.Duration
}

// NewGenerator returns a Generator. A zero timeout leaves ctx untouched.
func NewGenerator(m model.LLM, timeout time.Duration) *Generator {
	return &Generator{model: m, timeout: timeout}
}

// Generate returns the model's text answer.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if g == nil || g.model == nil {
		return Result{}, fmt.Errorf("generator not configured")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	llmReq := &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText(req.User, genai.RoleUser)},
		Config:   cfg,
	}

	resp, err := First(ctx, g.model, llmReq)
	if err != nil {
		return Result{}, err
	}
	result := Result{Text: strings.TrimSpace(utils.ExtractContentText(resp.Content))}
	if resp.UsageMetadata != nil {
		result.InputTokens = resp.UsageMetadata.PromptTokenCount
		result.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return result, nil
}

// First runs a non-streaming request and returns the first complete response.
func First(ctx context.Context, m model.LLM, req *model.LLMRequest) (*model.LLMResponse, error) {
	var (
		resp *model.LLMResponse
		err  error
	)
	for r, e := range m.GenerateContent(ctx, req, false) {
		if e != nil {
			err = e
			break
		}
		if r == nil || r.Partial {
			continue
		}
		resp = r
		break
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && resp == nil {
		return nil, fmt.Errorf("generation aborted: %w", ctxErr)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty model response")
	}
	if resp.ErrorCode != "" {
		return nil, fmt.Errorf("model error %s: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	return resp, nil
}
