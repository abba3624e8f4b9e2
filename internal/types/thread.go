package types

import "time"

// Thread is a conversation owned by one user.
type Thread struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	MessageCount  int       `json:"messageCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	IsDeleted     bool      `json:"isDeleted"`
	Version       int       `json:"version"`

	// 最近一次线程洞察的缓存
	LatestInsightSummary string   `json:"latestInsightSummary,omitempty"`
	LatestInsightEmotion *Emotion `json:"latestInsightEmotion,omitempty"`
}
