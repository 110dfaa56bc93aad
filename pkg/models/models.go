// Package models defines the shared data records exchanged between the chat
// core's subsystems: user principals, conversations, messages, tool calls,
// attachments, and usage accounting.
package models

import (
	"encoding/json"
	"time"
)

// Plan identifies a user's subscription plan.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// User is the authenticated principal attached to a request.
// It is immutable for the life of the request.
type User struct {
	// ID is the stable numeric user identifier.
	ID uint64 `json:"id"`

	// Email is the user's primary email address.
	Email string `json:"email"`

	// Plan is the subscription plan ("free" or "pro").
	Plan Plan `json:"plan"`

	// GithubUsername is set when the account is linked to GitHub.
	GithubUsername string `json:"github_username,omitempty"`
}

// IsPro reports whether the user is on the pro plan.
func (u *User) IsPro() bool {
	return u != nil && u.Plan == PlanPro
}

// Conversation is a dialogue owned by a single user. The owner is set at
// create time and never changes. ShareID is present iff IsPublic.
type Conversation struct {
	ID                   string    `json:"id"`
	OwnerUserID          uint64    `json:"owner_user_id"`
	Title                string    `json:"title"`
	IsArchived           bool      `json:"is_archived"`
	IsPublic             bool      `json:"is_public"`
	ShareID              string    `json:"share_id,omitempty"`
	LastMessageID        string    `json:"last_message_id,omitempty"`
	LastMessageAt        time.Time `json:"last_message_at,omitempty"`
	MessageCount         int       `json:"message_count"`
	ParentConversationID string    `json:"parent_conversation_id,omitempty"`
	ParentMessageID      string    `json:"parent_message_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the allowed message roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

// Message is one turn in a conversation. Messages form a forest rooted at
// user turns: ParentMessageID links assistant and tool messages to the user
// turn that caused them. Within a conversation messages are totally ordered
// by the server-assigned Timestamp.
type Message struct {
	ID              string          `json:"id"`
	ConversationID  string          `json:"conversation_id"`
	ParentMessageID string          `json:"parent_message_id,omitempty"`
	Role            Role            `json:"role"`
	Content         string          `json:"content"`
	Name            string          `json:"name,omitempty"`
	ToolCalls       []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID      string          `json:"tool_call_id,omitempty"`
	Citations       []string        `json:"citations,omitempty"`
	Model           string          `json:"model,omitempty"`
	Status          string          `json:"status,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	Platform        string          `json:"platform,omitempty"`
	Mode            string          `json:"mode,omitempty"`
	LogID           string          `json:"log_id,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Usage           *Usage          `json:"usage,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ToolCall is a structured request from the model to invoke a named tool
// with JSON arguments.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// AttachmentType identifies the kind of attachment on a chat turn.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
	AttachmentAudio    AttachmentType = "audio"
)

// Attachment is a file carried alongside a user message.
type Attachment struct {
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	Name     string         `json:"name,omitempty"`
	Data     []byte         `json:"data,omitempty"`
}

// Usage records token consumption for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ProviderSetting is a user's per-provider configuration. A disabled
// provider hides all of that provider's models from routing.
type ProviderSetting struct {
	ProviderID     string `json:"provider_id"`
	Enabled        bool   `json:"enabled"`
	HasCredentials bool   `json:"has_credentials"`
}

// APIKey is a hashed API credential issued to a user.
type APIKey struct {
	ID         string    `json:"id"`
	UserID     uint64    `json:"user_id"`
	Name       string    `json:"name"`
	Hash       string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// Agent is a configured assistant persona that can receive delegated tasks.
type Agent struct {
	ID           string    `json:"id"`
	UserID       uint64    `json:"user_id"`
	Name         string    `json:"name"`
	Role         string    `json:"role,omitempty"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
