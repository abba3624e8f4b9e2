// Package session rebuilds conversation context from stored messages.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/easeaico/project-kairos/internal/types"
)

const (
	// DefaultLimit is the reply-generation history window.
	DefaultLimit = 20
	// InsightLimit is the history window used for insight analysis.
	InsightLimit = 10

	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// MessageRepo loads recent thread messages, oldest first.
type MessageRepo interface {
	ListRecent(ctx context.Context, ownerID, threadID, excludeID string, limit int) ([]types.Message, error)
}

// Request selects the window to rebuild.
type Request struct {
	OwnerID          string
	ThreadID         string
	ExcludeMessageID string
	Limit            int
}

// Turn is one role-tagged history entry.
type Turn struct {
	MessageID string
	Role      string
	Text      string
	CreatedAt time.Time
}

// Builder assembles history windows. It keeps no state between calls.
type Builder struct {
	messages MessageRepo
}

// NewBuilder creates a Builder.
func NewBuilder(messages MessageRepo) *Builder {
	return &Builder{messages: messages}
}

// Build returns up to req.Limit (default 20) turns in ascending time order.
func (b *Builder) Build(ctx context.Context, req Request) ([]Turn, error) {
	if req.OwnerID == "" || req.ThreadID == "" {
		return nil, fmt.Errorf("owner and thread are required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	messages, err := b.messages.ListRecent(ctx, req.OwnerID, req.ThreadID, req.ExcludeMessageID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	turns := make([]Turn, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		turns = append(turns, Turn{
			MessageID: msg.ID,
			Role:      roleName(msg.Role),
			Text:      RenderText(msg),
			CreatedAt: msg.CreatedAt,
		})
	}
	return turns, nil
}

// RenderText substitutes content, then transcription, then a media
// placeholder.
func RenderText(msg *types.Message) string {
	if text := strings.TrimSpace(msg.Text()); text != "" {
		return text
	}
	switch msg.Type {
	case types.MessageImage:
		if msg.MediaDescription != nil && *msg.MediaDescription != "" {
			return "[Image: " + *msg.MediaDescription + "]"
		}
		return "[Image]"
	case types.MessageAudio:
		return "[Audio message]"
	default:
		return "[media content]"
	}
}

func roleName(r types.Role) string {
	switch r {
	case types.RoleAI:
		return RoleModel
	case types.RoleSystem:
		return RoleSystem
	default:
		return RoleUser
	}
}

// Contents converts turns to model contents. System turns are returned
// separately since models accept them only as instructions.
func Contents(turns []Turn) (contents []*genai.Content, system []string) {
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			system = append(system, turn.Text)
		case RoleModel:
			contents = append(contents, genai.NewContentFromText(turn.Text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(turn.Text, genai.RoleUser))
		}
	}
	return contents, system
}

// Transcript renders turns as "User:"/"Assistant:" lines.
func Transcript(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleUser:
			lines = append(lines, "User: "+turn.Text)
		case RoleModel:
			lines = append(lines, "Assistant: "+turn.Text)
		}
	}
	return strings.Join(lines, "\n")
}
