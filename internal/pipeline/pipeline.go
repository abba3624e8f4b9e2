// Package pipeline 驱动用户消息从创建、媒体处理到生成回复的状态流转。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/easeaico/project-kairos/internal/agent"
	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/callback"
	"github.com/easeaico/project-kairos/internal/events"
	"github.com/easeaico/project-kairos/internal/media"
	"github.com/easeaico/project-kairos/internal/observability"
	"github.com/easeaico/project-kairos/internal/storage"
	"github.com/easeaico/project-kairos/internal/types"
)

const (
	DefaultGenerationTimeout = 60 * time.Second
	DefaultHookTimeout       = 2 * time.Minute
)

type MessageStore interface {
	Create(ctx context.Context, msg *types.Message) error
	Get(ctx context.Context, id string) (*types.Message, error)
	Transition(ctx context.Context, id string, t storage.Transition) error
	CompleteReply(ctx context.Context, sourceID string, reply *types.Message) error
}

type ThreadStore interface {
	Get(ctx context.Context, id string) (*types.Thread, error)
	ReconcileMessageCount(ctx context.Context, id string) (int, error)
}

// Responder produces the assistant reply for one user input.
type Responder interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Reply is the result of a successful generation.
type Reply struct {
	MessageID      string      `json:"messageId"`
	ReplyMessageID string      `json:"replyMessageId"`
	Text           string      `json:"replyText"`
	ToolsUsed      []string    `json:"toolsUsed"`
	MemoriesUsed   int         `json:"memoriesUsed"`
	Usage          agent.Usage `json:"usage"`
}

// Completed is handed to after-reply hooks.
type Completed struct {
	Source types.Message
	Reply  types.Message
	Result Reply
}

type Pipeline struct {
	messages  MessageStore
	threads   ThreadStore
	responder Responder
	handlers  map[types.MessageType]variantHandler
	publisher events.Publisher
	hooks     []callback.Hook[Completed]

	generationTimeout time.Duration
	hookTimeout       time.Duration

	// 后台钩子在独立 goroutine 中运行，Wait 用于优雅退出
	wg sync.WaitGroup
}

type Option func(*Pipeline)

// WithMedia enables audio transcription and image handling. describer may be nil.
func WithMedia(store media.Store, transcriber media.Transcriber, describer media.Describer) Option {
	return func(p *Pipeline) {
		p.handlers[types.MessageAudio] = audioHandler{media: store, transcriber: transcriber}
		p.handlers[types.MessageImage] = imageHandler{media: store, describer: describer}
	}
}

func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) {
		if pub != nil {
			p.publisher = pub
		}
	}
}

// WithHooks appends after-reply hooks, run in order.
func WithHooks(hooks ...callback.Hook[Completed]) Option {
	return func(p *Pipeline) {
		p.hooks = append(p.hooks, hooks...)
	}
}

func WithTimeouts(generation, hooks time.Duration) Option {
	return func(p *Pipeline) {
		if generation > 0 {
			p.generationTimeout = generation
		}
		if hooks > 0 {
			p.hookTimeout = hooks
		}
	}
}

func New(messages MessageStore, threads ThreadStore, responder Responder, opts ...Option) *Pipeline {
	p := &Pipeline{
		messages:  messages,
		threads:   threads,
		responder: responder,
		handlers: map[types.MessageType]variantHandler{
			types.MessageText:  textHandler{},
			types.MessageAudio: audioHandler{},
			types.MessageImage: imageHandler{},
		},
		publisher:         events.Nop{},
		generationTimeout: DefaultGenerationTimeout,
		hookTimeout:       DefaultHookTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait blocks until in-flight after-reply hooks finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// CreateRequest describes a new user message.
type CreateRequest struct {
	OwnerID  string
	ThreadID string
	Type     types.MessageType
	Content  *string
	MIMEType string
}

// CreateMessage stores a user message. Text starts local_created, media
// starts uploading_media.
func (p *Pipeline) CreateMessage(ctx context.Context, req CreateRequest) (*types.Message, error) {
	const op = "CreateMessage"
	if req.OwnerID == "" {
		return nil, apperr.New(apperr.Unauthenticated, op, "user must be authenticated")
	}
	thread, err := p.threads.Get(ctx, req.ThreadID)
	if err != nil {
		return nil, wrapLookup(op, err)
	}
	if thread.IsDeleted {
		return nil, apperr.New(apperr.NotFound, op, "thread not found")
	}
	if thread.OwnerID != req.OwnerID {
		return nil, apperr.New(apperr.PermissionDenied, op, "thread belongs to another user")
	}

	msg := &types.Message{
		ThreadID:      req.ThreadID,
		OwnerID:       req.OwnerID,
		Role:          types.RoleUser,
		Type:          req.Type,
		Content:       req.Content,
		MediaMIMEType: req.MIMEType,
	}
	switch req.Type {
	case types.MessageText:
		if req.Content == nil || strings.TrimSpace(*req.Content) == "" {
			return nil, apperr.New(apperr.InvalidArgument, op, "text message requires content")
		}
		msg.Status = types.StatusLocalCreated
	case types.MessageAudio, types.MessageImage:
		msg.Status = types.StatusUploadingMedia
	default:
		return nil, apperr.New(apperr.InvalidArgument, op, "unknown message type")
	}

	if err := p.messages.Create(ctx, msg); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	p.reconcile(ctx, msg.ThreadID)
	return msg, nil
}

// MarkMediaUploaded records the media reference once the upload finished.
func (p *Pipeline) MarkMediaUploaded(ctx context.Context, ownerID, messageID, mediaRef string) (*types.Message, error) {
	const op = "MarkMediaUploaded"
	msg, err := p.load(ctx, op, ownerID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Type == types.MessageText {
		return nil, apperr.New(apperr.InvalidState, op, "text messages carry no media")
	}
	if strings.TrimSpace(mediaRef) == "" {
		return nil, apperr.New(apperr.InvalidArgument, op, "media reference is required")
	}
	if err := p.transition(ctx, op, msg.ID, storage.Transition{
		From: types.StatusUploadingMedia,
		To:   types.StatusMediaUploaded,
		Set:  map[string]any{"media_ref": mediaRef},
	}); err != nil {
		return nil, err
	}
	msg.Status = types.StatusMediaUploaded
	msg.MediaRef = &mediaRef
	return msg, nil
}

// PrepareMedia runs the pre-generation stage of the message's type. A
// failure marks the message failed.
func (p *Pipeline) PrepareMedia(ctx context.Context, ownerID, messageID string) (*types.Message, error) {
	const op = "PrepareMedia"
	msg, err := p.load(ctx, op, ownerID, messageID)
	if err != nil {
		return nil, err
	}
	if !generatable(msg.Status) {
		return nil, apperr.New(apperr.InvalidState, op, fmt.Sprintf("message is %s", msg.Status))
	}
	return p.prepare(ctx, msg)
}

func (p *Pipeline) prepare(ctx context.Context, msg *types.Message) (*types.Message, error) {
	const op = "PrepareMedia"
	handler := p.handlers[msg.Type]

	pctx, cancel := context.WithTimeout(ctx, p.generationTimeout)
	fields, err := handler.Prepare(pctx, msg)
	cancel()
	if err != nil {
		if apperr.IsKind(err, apperr.InvalidState) {
			return nil, err
		}
		slog.Error("failed to prepare media", "message_id", msg.ID, "error", err.Error())
		p.fail(ctx, msg, err)
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	if len(fields) == 0 {
		return msg, nil
	}
	// 状态不变，仅在状态仍一致时写入字段
	if err := p.messages.Transition(ctx, msg.ID, storage.Transition{From: msg.Status, To: msg.Status, Set: fields}); err != nil {
		if apperr.IsKind(err, apperr.InvalidState) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	return msg, nil
}

// GenerateReply produces exactly one AI reply for a user message. Concurrent
// callers race on a conditional status update; only one wins.
func (p *Pipeline) GenerateReply(ctx context.Context, ownerID, messageID string) (*Reply, error) {
	const op = "GenerateReply"
	msg, err := p.load(ctx, op, ownerID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != types.RoleUser {
		return nil, apperr.New(apperr.InvalidState, op, "only user messages get replies")
	}
	if !generatable(msg.Status) {
		return nil, apperr.New(apperr.InvalidState, op, fmt.Sprintf("message is %s", msg.Status))
	}
	handler := p.handlers[msg.Type]
	if handler == nil {
		return nil, apperr.New(apperr.InvalidState, op, "unknown message type")
	}
	if err := handler.Ready(msg); err != nil {
		return nil, err
	}

	if err := p.transition(ctx, op, msg.ID, storage.Transition{
		From:         msg.Status,
		To:           types.StatusProcessingAI,
		CountAttempt: true,
	}); err != nil {
		return nil, err
	}
	msg.Status = types.StatusProcessingAI
	msg.AttemptCount++

	ctx, span := observability.Tracer().Start(ctx, "pipeline."+op, trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", msg.Type.String()),
	))
	defer span.End()

	start := time.Now()
	resp, err := p.respond(ctx, handler, msg)
	call := observability.AICall{
		MessageID:   msg.ID,
		OwnerID:     msg.OwnerID,
		ThreadID:    msg.ThreadID,
		MessageType: msg.Type.String(),
		Operation:   "reply",
		Latency:     time.Since(start),
		Success:     err == nil,
		Err:         err,
	}
	if resp != nil {
		call.InputTokens = resp.Usage.InputTokens
		call.OutputTokens = resp.Usage.OutputTokens
	}
	observability.LogAICall(ctx, call)

	if err != nil {
		span.RecordError(err)
		slog.Error("failed to generate reply", "message_id", msg.ID, "error", err.Error())
		p.fail(ctx, msg, err)
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}

	text := resp.Text
	reply := &types.Message{
		ThreadID: msg.ThreadID,
		OwnerID:  msg.OwnerID,
		Role:     types.RoleAI,
		Type:     types.MessageText,
		Content:  &text,
		Status:   types.StatusProcessed,
	}
	if err := p.messages.CompleteReply(context.WithoutCancel(ctx), msg.ID, reply); err != nil {
		span.RecordError(err)
		slog.Error("failed to store reply", "message_id", msg.ID, "error", err.Error())
		p.fail(ctx, msg, err)
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	msg.Status = types.StatusProcessed
	p.reconcile(context.WithoutCancel(ctx), msg.ThreadID)

	result := Reply{
		MessageID:      msg.ID,
		ReplyMessageID: reply.ID,
		Text:           text,
		ToolsUsed:      resp.ToolsUsed,
		MemoriesUsed:   resp.MemoriesUsed,
		Usage:          resp.Usage,
	}
	p.afterReply(ctx, Completed{Source: *msg, Reply: *reply, Result: result})
	return &result, nil
}

func (p *Pipeline) respond(ctx context.Context, handler variantHandler, msg *types.Message) (*agent.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.generationTimeout)
	defer cancel()

	input, err := handler.Input(ctx, msg)
	if err != nil {
		return nil, err
	}
	resp, err := p.responder.Run(ctx, agent.Request{
		OwnerID:          msg.OwnerID,
		ThreadID:         msg.ThreadID,
		ExcludeMessageID: msg.ID,
		Input:            input,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("generation timed out after %s: %w", p.generationTimeout, err)
		}
		return nil, err
	}
	return resp, nil
}

// Retry resets a failed message and generates again.
func (p *Pipeline) Retry(ctx context.Context, ownerID, messageID string) (*Reply, error) {
	const op = "Retry"
	msg, err := p.load(ctx, op, ownerID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Status != types.StatusFailed {
		return nil, apperr.New(apperr.InvalidState, op, "only failed messages can be retried")
	}

	target := types.StatusLocalCreated
	if msg.Type != types.MessageText && msg.MediaRef != nil {
		target = types.StatusMediaUploaded
	}
	if err := p.transition(ctx, op, msg.ID, storage.Transition{
		From: types.StatusFailed,
		To:   target,
		Set:  map[string]any{"failure_reason": ""},
	}); err != nil {
		return nil, err
	}
	msg.Status = target
	msg.FailureReason = ""

	if handler := p.handlers[msg.Type]; handler != nil && handler.Ready(msg) != nil && msg.MediaRef != nil {
		if _, err := p.prepare(ctx, msg); err != nil {
			return nil, err
		}
	}
	return p.GenerateReply(ctx, ownerID, messageID)
}

// load fetches the message and checks ownership. Nothing is mutated.
func (p *Pipeline) load(ctx context.Context, op, ownerID, messageID string) (*types.Message, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.Unauthenticated, op, "user must be authenticated")
	}
	msg, err := p.messages.Get(ctx, messageID)
	if err != nil {
		return nil, wrapLookup(op, err)
	}
	if msg.IsDeleted {
		return nil, apperr.New(apperr.NotFound, op, "message not found")
	}
	if msg.OwnerID != ownerID {
		return nil, apperr.New(apperr.PermissionDenied, op, "message belongs to another user")
	}
	return msg, nil
}

func (p *Pipeline) transition(ctx context.Context, op, id string, t storage.Transition) error {
	if !CanTransition(t.From, t.To) {
		return apperr.New(apperr.InvalidState, op, fmt.Sprintf("illegal transition %s -> %s", t.From, t.To))
	}
	if err := p.messages.Transition(ctx, id, t); err != nil {
		if apperr.IsKind(err, apperr.InvalidState) {
			return err
		}
		return apperr.Wrap(apperr.Internal, op, err)
	}
	return nil
}

// fail moves the message to failed from its current status. The write uses a
// detached context so a cancelled request still records the failure.
func (p *Pipeline) fail(ctx context.Context, msg *types.Message, cause error) {
	if !CanTransition(msg.Status, types.StatusFailed) {
		slog.Warn("message cannot be marked failed", "message_id", msg.ID, "status", msg.Status.String())
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := p.messages.Transition(ctx, msg.ID, storage.Transition{
		From: msg.Status,
		To:   types.StatusFailed,
		Set:  map[string]any{"failure_reason": cause.Error()},
	}); err != nil {
		slog.Error("failed to mark message failed", "message_id", msg.ID, "error", err.Error())
		return
	}
	msg.Status = types.StatusFailed
	msg.FailureReason = cause.Error()

	e := events.New(events.MessageFailed, msg.OwnerID)
	e.ThreadID = msg.ThreadID
	e.MessageID = msg.ID
	e.Data = map[string]any{"reason": cause.Error(), "attempt": msg.AttemptCount}
	if err := p.publisher.Publish(ctx, e); err != nil {
		slog.Warn("failed to publish event", "type", e.Type, "error", err.Error())
	}
}

func (p *Pipeline) reconcile(ctx context.Context, threadID string) {
	if _, err := p.threads.ReconcileMessageCount(ctx, threadID); err != nil {
		slog.Error("failed to reconcile thread message count", "thread_id", threadID, "error", err.Error())
	}
}

func (p *Pipeline) afterReply(ctx context.Context, done Completed) {
	hooks := append([]callback.Hook[Completed]{}, p.hooks...)
	hooks = append(hooks, callback.Hook[Completed]{Name: "publish", Fn: p.publishProcessed})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		callback.Run(ctx, p.hookTimeout, done, hooks...)
	}()
}

func (p *Pipeline) publishProcessed(ctx context.Context, done Completed) error {
	e := events.New(events.MessageProcessed, done.Source.OwnerID)
	e.ThreadID = done.Source.ThreadID
	e.MessageID = done.Source.ID
	e.Data = map[string]any{
		"replyMessageId": done.Reply.ID,
		"toolsUsed":      done.Result.ToolsUsed,
		"memoriesUsed":   done.Result.MemoriesUsed,
	}
	return p.publisher.Publish(ctx, e)
}

func wrapLookup(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.Internal, op, err)
}
