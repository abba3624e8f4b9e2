package observability

import (
	"context"
	"log/slog"
	"time"
)

// AICall describes one generation for the ai_metrics log stream.
type AICall struct {
	MessageID    string
	OwnerID      string
	ThreadID     string
	MessageType  string
	Operation    string
	InputTokens  int32
	OutputTokens int32
	Latency      time.Duration
	Success      bool
	Err          error
}

// LogAICall emits a structured ai_metrics record.
func LogAICall(ctx context.Context, call AICall) {
	attrs := []slog.Attr{
		slog.String("operation", call.Operation),
		slog.String("message_id", call.MessageID),
		slog.String("owner_id", call.OwnerID),
		slog.String("thread_id", call.ThreadID),
		slog.String("message_type", call.MessageType),
		slog.Int("input_tokens", int(call.InputTokens)),
		slog.Int("output_tokens", int(call.OutputTokens)),
		slog.Int64("latency_ms", call.Latency.Milliseconds()),
		slog.Bool("success", call.Success),
	}
	level := slog.LevelInfo
	if call.Err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", call.Err.Error()))
	}
	slog.LogAttrs(ctx, level, "ai_metrics", attrs...)
}
