package llm

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

type fakeLLM struct {
	reply string
	err   error
	delay time.Duration
	last  *model.LLMRequest
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	f.last = req
	return func(yield func(*model.LLMResponse, error) bool) {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		yield(&model.LLMResponse{
			Content:       genai.NewContentFromText(f.reply, genai.RoleModel),
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3},
		}, nil)
	}
}

var _ model.LLM = (*fakeLLM)(nil)

func TestGenerateReturnsTextAndUsage(t *testing.T) {
	m := &fakeLLM{reply: "  fact one  "}
	g := NewGenerator(m, time.Second)

	res, err := g.Generate(context.Background(), Request{System: "sys", User: "hi", Temperature: 0.3, MaxTokens: 300})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if res.Text != "fact one" {
		t.Fatalf("expected trimmed text, got %q", res.Text)
	}
	if res.InputTokens != 7 || res.OutputTokens != 3 {
		t.Fatalf("unexpected usage %+v", res)
	}
	if m.last.Config.MaxOutputTokens != 300 || *m.last.Config.Temperature != 0.3 {
		t.Fatalf("expected generation settings to be forwarded")
	}
}

func TestGenerateTimesOut(t *testing.T) {
	g := NewGenerator(&fakeLLM{reply: "late", delay: time.Second}, 10*time.Millisecond)
	_, err := g.Generate(context.Background(), Request{User: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGeneratePropagatesModelError(t *testing.T) {
	g := NewGenerator(&fakeLLM{err: errors.New("quota")}, 0)
	if _, err := g.Generate(context.Background(), Request{User: "hi"}); err == nil {
		t.Fatalf("expected error")
	}
}
