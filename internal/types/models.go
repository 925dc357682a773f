// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// ImageRef points at one image attached to a message. Exactly one of URL
// or Data is expected; an ImageRef with neither renders nothing.
type ImageRef struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"` // base64 inline payload
	MimeType string `json:"mimeType,omitempty"`
}

// Message is one entry in a conversation. Identity is immutable once
// created; Content, Agent and Images are overwritten in place while the
// message's stream is active, then frozen.
type Message struct {
	ID          MessageID  `json:"id"`
	Role        Role       `json:"role"`
	Content     string     `json:"content"`
	Agent       string     `json:"agent,omitempty"` // raw agent identifier
	Images      []ImageRef `json:"images,omitempty"`
	FinalReport bool       `json:"final_report,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TimelineKind classifies an auxiliary timeline entry.
type TimelineKind string

const (
	TimelineText             TimelineKind = "text"
	TimelineFunctionCall     TimelineKind = "functionCall"
	TimelineFunctionResponse TimelineKind = "functionResponse"
	TimelineSources          TimelineKind = "sources"
)

// TimelineEvent records side-channel activity (function calls, citation
// sets, text chunks) for one AI message. Entries are append-only and
// never mutated after the fact.
type TimelineEvent struct {
	MessageID MessageID       `json:"message_id"`
	Seq       int64           `json:"seq"`
	Title     string          `json:"title"`
	Kind      TimelineKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}

// SessionHandle is the backend-side identity of a conversation, created
// lazily on the first submit and immutable afterwards.
type SessionHandle struct {
	UserID    string    `json:"userId"`
	SessionID SessionID `json:"sessionId"`
	AppName   string    `json:"appName"`
}

// SessionIndex is the locally stored catalogue entry for a conversation.
type SessionIndex struct {
	SessionID SessionID `json:"session_id"`
	Title     string    `json:"title"`
	UserID    string    `json:"user_id"`
	AppName   string    `json:"app_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
