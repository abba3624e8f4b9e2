package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/easeaico/project-kairos/internal/agent"
	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/media"
	"github.com/easeaico/project-kairos/internal/observability"
	"github.com/easeaico/project-kairos/internal/types"
)

// variantHandler carries the per-type behaviour of a message.
type variantHandler interface {
	// Ready reports whether the message can be sent to the model.
	Ready(msg *types.Message) error
	// Prepare runs the pre-generation stage and returns the updated fields.
	Prepare(ctx context.Context, msg *types.Message) (map[string]any, error)
	Input(ctx context.Context, msg *types.Message) (agent.Input, error)
}

type textHandler struct{}

func (textHandler) Ready(msg *types.Message) error {
	if msg.Content == nil || strings.TrimSpace(*msg.Content) == "" {
		return apperr.New(apperr.InvalidState, "GenerateReply", "text message has no content")
	}
	return nil
}

func (textHandler) Prepare(context.Context, *types.Message) (map[string]any, error) {
	return nil, nil
}

func (textHandler) Input(_ context.Context, msg *types.Message) (agent.Input, error) {
	return agent.Input{Text: *msg.Content}, nil
}

type audioHandler struct {
	media       media.Store
	transcriber media.Transcriber
}

func (audioHandler) Ready(msg *types.Message) error {
	if msg.Transcription == nil {
		return apperr.New(apperr.InvalidState, "GenerateReply", "audio message has no transcription")
	}
	return nil
}

func (h audioHandler) Prepare(ctx context.Context, msg *types.Message) (map[string]any, error) {
	if msg.Transcription != nil {
		return nil, nil
	}
	if msg.MediaRef == nil {
		return nil, apperr.New(apperr.InvalidState, "PrepareMedia", "audio message has no media reference")
	}
	if h.media == nil || h.transcriber == nil {
		return nil, apperr.New(apperr.Internal, "PrepareMedia", "transcription is not configured")
	}
	data, mime, err := h.media.Read(ctx, *msg.MediaRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if msg.MediaMIMEType != "" {
		mime = msg.MediaMIMEType
	}

	start := time.Now()
	text, err := h.transcriber.Transcribe(ctx, data, mime)
	observability.LogAICall(ctx, observability.AICall{
		MessageID:   msg.ID,
		OwnerID:     msg.OwnerID,
		ThreadID:    msg.ThreadID,
		MessageType: msg.Type.String(),
		Operation:   "transcribe",
		Latency:     time.Since(start),
		Success:     err == nil,
		Err:         err,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe audio: %w", err)
	}
	msg.Transcription = &text
	return map[string]any{"transcription": text}, nil
}

func (audioHandler) Input(_ context.Context, msg *types.Message) (agent.Input, error) {
	return agent.Input{Text: *msg.Transcription}, nil
}

type imageHandler struct {
	media     media.Store
	describer media.Describer
}

func (imageHandler) Ready(msg *types.Message) error {
	if msg.MediaRef == nil {
		return apperr.New(apperr.InvalidState, "GenerateReply", "image message has no media reference")
	}
	return nil
}

// Prepare describes the image when a describer is configured. Description is optional.
func (h imageHandler) Prepare(ctx context.Context, msg *types.Message) (map[string]any, error) {
	if msg.MediaDescription != nil || h.describer == nil || h.media == nil || msg.MediaRef == nil {
		return nil, nil
	}
	data, mime, err := h.media.Read(ctx, *msg.MediaRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if msg.MediaMIMEType != "" {
		mime = msg.MediaMIMEType
	}

	start := time.Now()
	desc, err := h.describer.Describe(ctx, data, mime)
	observability.LogAICall(ctx, observability.AICall{
		MessageID:   msg.ID,
		OwnerID:     msg.OwnerID,
		ThreadID:    msg.ThreadID,
		MessageType: msg.Type.String(),
		Operation:   "describe",
		Latency:     time.Since(start),
		Success:     err == nil,
		Err:         err,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe image: %w", err)
	}
	msg.MediaDescription = &desc
	return map[string]any{"media_description": desc}, nil
}

func (h imageHandler) Input(ctx context.Context, msg *types.Message) (agent.Input, error) {
	var text strings.Builder
	if msg.Content != nil && strings.TrimSpace(*msg.Content) != "" {
		text.WriteString(*msg.Content)
	} else {
		text.WriteString("[The user shared an image.]")
	}
	if msg.MediaDescription != nil && *msg.MediaDescription != "" {
		text.WriteString("\n\nImage description: ")
		text.WriteString(*msg.MediaDescription)
	}
	in := agent.Input{Text: text.String()}

	if h.media == nil {
		if msg.MediaDescription == nil {
			return agent.Input{}, apperr.New(apperr.Internal, "GenerateReply", "media store is not configured")
		}
		return in, nil
	}
	data, mime, err := h.media.Read(ctx, *msg.MediaRef)
	if err != nil {
		if msg.MediaDescription != nil {
			slog.Warn("failed to fetch image, using description only", "message_id", msg.ID, "error", err.Error())
			return in, nil
		}
		return agent.Input{}, fmt.Errorf("failed to read image: %w", err)
	}
	if msg.MediaMIMEType != "" {
		mime = msg.MediaMIMEType
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	in.Parts = []*genai.Part{genai.NewPartFromBytes(data, mime)}
	return in, nil
}
