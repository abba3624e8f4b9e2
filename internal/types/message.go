// Package types 定义日记助手的领域实体。
package types

import "time"

// Role identifies the author of a message.
type Role int

const (
	RoleUser Role = iota
	RoleAI
	RoleSystem
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAI:
		return "ai"
	case RoleSystem:
		return "system"
	default:
		return "unknown"
	}
}

// MessageType is the payload kind of a message.
type MessageType int

const (
	MessageText MessageType = iota
	MessageImage
	MessageAudio
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageImage:
		return "image"
	case MessageAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ParseMessageType maps a wire name to a MessageType.
func ParseMessageType(s string) (MessageType, bool) {
	switch s {
	case "text":
		return MessageText, true
	case "image":
		return MessageImage, true
	case "audio":
		return MessageAudio, true
	default:
		return 0, false
	}
}

// MessageStatus is the pipeline state of a message. Values match the
// persisted codes used by existing clients.
type MessageStatus int

const (
	StatusLocalCreated MessageStatus = iota
	StatusUploadingMedia
	StatusMediaUploaded
	StatusProcessingAI
	StatusProcessed
	// StatusRemoteCreated is reserved for client-side sync and never set here.
	StatusRemoteCreated
	StatusFailed
)

func (s MessageStatus) String() string {
	switch s {
	case StatusLocalCreated:
		return "local_created"
	case StatusUploadingMedia:
		return "uploading_media"
	case StatusMediaUploaded:
		return "media_uploaded"
	case StatusProcessingAI:
		return "processing_ai"
	case StatusProcessed:
		return "processed"
	case StatusRemoteCreated:
		return "remote_created"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one journal entry or AI reply inside a thread.
type Message struct {
	ID               string        `json:"id"`
	ThreadID         string        `json:"threadId"`
	OwnerID          string        `json:"ownerId"`
	Role             Role          `json:"role"`
	Type             MessageType   `json:"type"`
	Content          *string       `json:"content,omitempty"`
	Transcription    *string       `json:"transcription,omitempty"`
	MediaRef         *string       `json:"mediaRef,omitempty"`
	MediaMIMEType    string        `json:"mediaMimeType,omitempty"`
	MediaDescription *string       `json:"mediaDescription,omitempty"`
	Status           MessageStatus `json:"status"`
	FailureReason    string        `json:"failureReason,omitempty"`
	AttemptCount     int           `json:"attemptCount"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	IsDeleted        bool          `json:"isDeleted"`
	Version          int           `json:"version"`
}

// Text returns the best textual rendering of the message, or "".
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	if m.Content != nil && *m.Content != "" {
		return *m.Content
	}
	if m.Transcription != nil && *m.Transcription != "" {
		return *m.Transcription
	}
	return ""
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
