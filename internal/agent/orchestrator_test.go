package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/project-kairos/internal/session"
	"github.com/easeaico/project-kairos/internal/tool"
	"github.com/easeaico/project-kairos/internal/types"
)

// scriptedLLM answers each round with the next scripted content.
type scriptedLLM struct {
	mu       sync.Mutex
	script   []*genai.Content
	requests []*model.LLMRequest
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return func(yield func(*model.LLMResponse, error) bool) {
		if idx >= len(s.script) {
			yield(nil, errors.New("script exhausted"))
			return
		}
		yield(&model.LLMResponse{
			Content:       s.script[idx],
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5},
		}, nil)
	}
}

var _ model.LLM = (*scriptedLLM)(nil)

func callContent(names ...string) *genai.Content {
	c := &genai.Content{Role: genai.RoleModel}
	for _, n := range names {
		c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: "call-" + n, Name: n, Args: map[string]any{}}})
	}
	return c
}

type fakeHistory struct {
	turns []session.Turn
	last  session.Request
}

func (f *fakeHistory) Build(_ context.Context, req session.Request) ([]session.Turn, error) {
	f.last = req
	return f.turns, nil
}

type fakeRetriever struct {
	memories []types.RetrievedMemory
	err      error
}

func (f *fakeRetriever) Retrieve(context.Context, string, string, int) ([]types.RetrievedMemory, error) {
	return f.memories, f.err
}

type stubProfiles struct{ owners []string }

func (s *stubProfiles) GetProfile(_ context.Context, ownerID string) (*types.UserProfile, error) {
	s.owners = append(s.owners, ownerID)
	return &types.UserProfile{OwnerID: ownerID, Name: "Sam"}, nil
}

func (s *stubProfiles) GetPreferences(_ context.Context, ownerID string) (types.UserPreferences, error) {
	return types.DefaultPreferences(ownerID), nil
}

type stubInsights struct{}

func (stubInsights) ListForThread(context.Context, string, string, int) ([]types.Insight, error) {
	return nil, nil
}

func (stubInsights) ListOwnerLevel(context.Context, string, int) ([]types.Insight, error) {
	return nil, nil
}

type stubMessages struct{}

func (stubMessages) ListRecent(context.Context, string, string, string, int) ([]types.Message, error) {
	return nil, nil
}

func TestRunWithToolCallsAndMemories(t *testing.T) {
	llm := &scriptedLLM{script: []*genai.Content{
		callContent(tool.GetUserProfile, tool.GetDate),
		genai.NewContentFromText("Nice to hear from you, Sam.", genai.RoleModel),
	}}
	profiles := &stubProfiles{}
	registry := tool.NewRegistry(profiles, stubInsights{}, stubMessages{}, nil)
	history := &fakeHistory{turns: []session.Turn{
		{Role: session.RoleUser, Text: "Yesterday was hard"},
		{Role: session.RoleModel, Text: "I'm here for you"},
	}}
	retriever := &fakeRetriever{memories: []types.RetrievedMemory{{Memory: types.Memory{OwnerID: "u1", Content: "User is a nurse"}}}}
	o := NewOrchestrator(llm, history, retriever, registry, Config{})

	resp, err := o.Run(context.Background(), Request{OwnerID: "u1", ThreadID: "t1", ExcludeMessageID: "m1", Input: Input{Text: "Hi again"}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Text != "Nice to hear from you, Sam." || resp.MemoriesUsed != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.ToolsUsed) != 2 || resp.ToolsUsed[0] != tool.GetUserProfile {
		t.Fatalf("unexpected tools used: %v", resp.ToolsUsed)
	}
	if resp.Usage.InputTokens != 20 || resp.Usage.OutputTokens != 10 {
		t.Fatalf("expected summed usage, got %+v", resp.Usage)
	}
	if len(profiles.owners) != 1 || profiles.owners[0] != "u1" {
		t.Fatalf("expected profile lookup bound to u1, got %v", profiles.owners)
	}
	if history.last.ExcludeMessageID != "m1" || history.last.Limit != session.DefaultLimit {
		t.Fatalf("unexpected history request: %+v", history.last)
	}

	first := llm.requests[0]
	if first.Config.MaxOutputTokens != DefaultMaxTokens || len(first.Config.Tools) != 1 {
		t.Fatalf("expected tools and token budget on first round, got %+v", first.Config)
	}
	system := first.Config.SystemInstruction.Parts
	if !strings.Contains(system[len(system)-1].Text, "1. User is a nurse") {
		t.Fatalf("expected memory block in system instruction, got %q", system[len(system)-1].Text)
	}
	if len(first.Contents) != 3 {
		t.Fatalf("expected history plus input, got %d contents", len(first.Contents))
	}
	second := llm.requests[1]
	if len(second.Contents) != 5 {
		t.Fatalf("expected call and responses appended, got %d contents", len(second.Contents))
	}
	responses := second.Contents[4].Parts
	if len(responses) != 2 || responses[0].FunctionResponse.ID != "call-"+tool.GetUserProfile {
		t.Fatalf("unexpected function responses: %+v", responses)
	}
}

func TestRunCapsRoundsAndDropsToolsOnLastRound(t *testing.T) {
	llm := &scriptedLLM{script: []*genai.Content{
		callContent(tool.GetDate),
		callContent(tool.GetDate),
		{Role: genai.RoleModel, Parts: []*genai.Part{
			genai.NewPartFromText("Let's keep going."),
		}},
	}}
	registry := tool.NewRegistry(&stubProfiles{}, stubInsights{}, stubMessages{}, nil)
	o := NewOrchestrator(llm, &fakeHistory{}, nil, registry, Config{})

	resp, err := o.Run(context.Background(), Request{OwnerID: "u1", ThreadID: "t1", Input: Input{Text: "what day is it"}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(llm.requests) != DefaultMaxRounds {
		t.Fatalf("expected %d rounds, got %d", DefaultMaxRounds, len(llm.requests))
	}
	if len(llm.requests[2].Config.Tools) != 0 {
		t.Fatalf("expected no tools on the final round")
	}
	if resp.Text != "Let's keep going." || len(resp.ToolsUsed) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRunRetrievalFailureIsEmpty(t *testing.T) {
	llm := &scriptedLLM{script: []*genai.Content{genai.NewContentFromText("Hello!", genai.RoleModel)}}
	o := NewOrchestrator(llm, &fakeHistory{}, &fakeRetriever{err: errors.New("vector store down")}, nil, Config{})

	resp, err := o.Run(context.Background(), Request{OwnerID: "u1", ThreadID: "t1", Input: Input{Text: "hi"}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.MemoriesUsed != 0 {
		t.Fatalf("expected no memories, got %d", resp.MemoriesUsed)
	}
}

func TestRunRequiresOwner(t *testing.T) {
	o := NewOrchestrator(&scriptedLLM{}, &fakeHistory{}, nil, nil, Config{})
	if _, err := o.Run(context.Background(), Request{ThreadID: "t1"}); err == nil {
		t.Fatalf("expected error without owner")
	}
}

func TestRunEmptyTextFails(t *testing.T) {
	llm := &scriptedLLM{script: []*genai.Content{{Role: genai.RoleModel}}}
	o := NewOrchestrator(llm, &fakeHistory{}, nil, nil, Config{})
	if _, err := o.Run(context.Background(), Request{OwnerID: "u1", ThreadID: "t1", Input: Input{Text: "hi"}}); err == nil {
		t.Fatalf("expected error for empty reply")
	}
}
