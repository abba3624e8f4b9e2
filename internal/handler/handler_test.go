package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/easeaico/project-kairos/internal/agent"
	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/cascade"
	"github.com/easeaico/project-kairos/internal/insight"
	"github.com/easeaico/project-kairos/internal/pipeline"
	"github.com/easeaico/project-kairos/internal/types"
)

const testSecret = "test-secret"

type fakeThreads struct{ created []*types.Thread }

func (f *fakeThreads) Create(_ context.Context, th *types.Thread) error {
	th.ID = "t1"
	f.created = append(f.created, th)
	return nil
}

type fakeDeleter struct{ err error }

func (f *fakeDeleter) DeleteThread(context.Context, string, string) (cascade.Result, error) {
	return cascade.Result{Deleted: true, MessagesDeleted: 4}, f.err
}

type fakePipeline struct {
	owner   string
	created pipeline.CreateRequest
	err     error
}

func (f *fakePipeline) CreateMessage(_ context.Context, req pipeline.CreateRequest) (*types.Message, error) {
	f.created = req
	return &types.Message{ID: "m1", ThreadID: req.ThreadID, OwnerID: req.OwnerID, Type: req.Type}, f.err
}

func (f *fakePipeline) MarkMediaUploaded(_ context.Context, owner, id, ref string) (*types.Message, error) {
	return &types.Message{ID: id, OwnerID: owner, MediaRef: &ref}, f.err
}

func (f *fakePipeline) PrepareMedia(_ context.Context, owner, id string) (*types.Message, error) {
	return &types.Message{ID: id, OwnerID: owner}, f.err
}

func (f *fakePipeline) GenerateReply(_ context.Context, owner, id string) (*pipeline.Reply, error) {
	f.owner = owner
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Reply{MessageID: id, ReplyMessageID: "r1", Text: "hi", ToolsUsed: []string{}, Usage: agent.Usage{OutputTokens: 2}}, nil
}

func (f *fakePipeline) Retry(ctx context.Context, owner, id string) (*pipeline.Reply, error) {
	return f.GenerateReply(ctx, owner, id)
}

type fakeCategories struct{ force bool }

func (f *fakeCategories) Refresh(_ context.Context, owner string, cat types.Category, force bool) (insight.RefreshResult, error) {
	f.force = force
	if !cat.Valid() {
		return insight.RefreshResult{}, apperr.New(apperr.InvalidArgument, "RefreshCategory", "invalid category")
	}
	return insight.RefreshResult{Insight: types.CategoryInsight{OwnerID: owner, Category: cat}, RetryAfter: 30 * time.Minute}, nil
}

func (f *fakeCategories) RefreshAll(_ context.Context, owner string) ([]insight.RefreshResult, error) {
	return []insight.RefreshResult{{Refreshed: true}, {Refreshed: true}}, nil
}

type fakeMemories struct{}

func (fakeMemories) ConfirmMemory(_ context.Context, owner, content string, _ *string) (*types.Memory, error) {
	return &types.Memory{ID: "mem1", OwnerID: owner, Content: content, Source: types.SourceUserConfirmed}, nil
}

func (fakeMemories) Stats(context.Context, string) (types.MemoryStats, error) {
	return types.MemoryStats{Total: 3, UserConfirmed: 1}, nil
}

func newTestRouter(p *fakePipeline) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(Deps{
		Threads:    &fakeThreads{},
		Deleter:    &fakeDeleter{},
		Pipeline:   p,
		Categories: &fakeCategories{},
		Memories:   fakeMemories{},
	}, Options{JWTSecret: testSecret})
}

func token(t *testing.T, sub string, exp time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func do(r http.Handler, method, path, tok, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(&fakePipeline{})
	if w := do(r, http.MethodPost, "/v1/messages/m1/reply", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/messages/m1/reply", token(t, "u1", -time.Minute), ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected healthz to be public, got %d", w.Code)
	}
}

func TestReplyUsesTokenSubject(t *testing.T) {
	p := &fakePipeline{}
	r := newTestRouter(p)
	w := do(r, http.MethodPost, "/v1/messages/m1/reply", token(t, "u1", time.Hour), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if p.owner != "u1" {
		t.Fatalf("expected owner from token, got %q", p.owner)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"replyText", "toolsUsed", "memoriesUsed", "usage"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("expected %s in response, got %s", key, w.Body.String())
		}
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		kind   apperr.Kind
		status int
	}{
		{apperr.Unauthenticated, http.StatusUnauthorized},
		{apperr.PermissionDenied, http.StatusForbidden},
		{apperr.InvalidState, http.StatusConflict},
		{apperr.NotFound, http.StatusNotFound},
		{apperr.Internal, http.StatusInternalServerError},
		{apperr.RateLimited, http.StatusTooManyRequests},
		{apperr.InvalidArgument, http.StatusBadRequest},
	}
	for _, tc := range cases {
		p := &fakePipeline{err: apperr.New(tc.kind, "GenerateReply", "nope")}
		w := do(newTestRouter(p), http.MethodPost, "/v1/messages/m1/reply", token(t, "u1", time.Hour), "")
		if w.Code != tc.status {
			t.Fatalf("expected %d for %s, got %d", tc.status, tc.kind, w.Code)
		}
		var env ErrorEnvelope
		_ = json.Unmarshal(w.Body.Bytes(), &env)
		if env.Error.Code != tc.kind.String() {
			t.Fatalf("expected code %s, got %+v", tc.kind, env)
		}
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	p := &fakePipeline{err: apperr.New(apperr.Internal, "GenerateReply", "dsn=postgres://secret")}
	w := do(newTestRouter(p), http.MethodPost, "/v1/messages/m1/reply", token(t, "u1", time.Hour), "")
	if strings.Contains(w.Body.String(), "secret") {
		t.Fatalf("expected internal details to be hidden, got %s", w.Body.String())
	}
}

func TestCreateMessageBinding(t *testing.T) {
	p := &fakePipeline{}
	r := newTestRouter(p)
	tok := token(t, "u1", time.Hour)

	if w := do(r, http.MethodPost, "/v1/threads/t1/messages", tok, `{"type":"video"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", w.Code)
	}
	w := do(r, http.MethodPost, "/v1/threads/t1/messages", tok, `{"type":"audio","mimeType":"audio/mp4"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if p.created.Type != types.MessageAudio || p.created.ThreadID != "t1" || p.created.OwnerID != "u1" {
		t.Fatalf("unexpected create request %+v", p.created)
	}
}

func TestCategoryRoutes(t *testing.T) {
	r := newTestRouter(&fakePipeline{})
	tok := token(t, "u1", time.Hour)

	w := do(r, http.MethodPost, "/v1/insights/categories/career_growth/refresh?force=true", tok, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"retryAfterSeconds":1800`) {
		t.Fatalf("expected 200 with retry hint, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/v1/insights/categories/hobbies/refresh", tok, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid category, got %d", w.Code)
	}
	w = do(r, http.MethodPost, "/v1/insights/categories/refresh", tok, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"insights"`) {
		t.Fatalf("expected refresh-all payload, got %d: %s", w.Code, w.Body.String())
	}
}

func TestThreadAndMemoryRoutes(t *testing.T) {
	r := newTestRouter(&fakePipeline{})
	tok := token(t, "u1", time.Hour)

	if w := do(r, http.MethodPost, "/v1/threads", tok, `{"title":"Morning pages"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200 creating thread, got %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/v1/threads/t1", tok, ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"messagesDeleted":4`) {
		t.Fatalf("expected delete result, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/v1/memories", tok, `{"content":"   "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank memory, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/v1/memories/stats", tok, ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total":3`) {
		t.Fatalf("expected stats, got %d: %s", w.Code, w.Body.String())
	}
}
