// Package storage defines the persistence interfaces consumed by the chat
// core and provides in-memory and Postgres implementations.
//
// Every method is total: it either succeeds with the stated result or
// fails with one of the errs sentinels (ErrNotFound, ErrConflict,
// ErrValidation) or a backend error.
package storage

import (
	"context"

	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/pkg/models"
)

// Re-exported sentinels so callers can errors.Is against the package.
var (
	ErrNotFound = errs.ErrNotFound
	ErrConflict = errs.ErrConflict
)

// UserStore persists user principals.
type UserStore interface {
	GetUser(ctx context.Context, id uint64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// ConversationStore persists conversations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetConversationByShareID(ctx context.Context, shareID string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	ListConversations(ctx context.Context, ownerUserID uint64, limit, offset int) ([]*models.Conversation, error)
}

// MessageStore persists messages. Messages are append-only: they are never
// re-parented and never collide on id.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// ProviderSettingStore persists per-user provider settings.
type ProviderSettingStore interface {
	GetProviderSettings(ctx context.Context, userID uint64) ([]models.ProviderSetting, error)
	PutProviderSetting(ctx context.Context, userID uint64, setting models.ProviderSetting) error
}

// AgentStore persists assistant personas used for delegation.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByRole(ctx context.Context, userID uint64, role string) (*models.Agent, error)
	ListAgents(ctx context.Context, userID uint64) ([]*models.Agent, error)
	PutAgent(ctx context.Context, agent *models.Agent) error
}

// APIKeyStore persists hashed API credentials.
type APIKeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	PutAPIKey(ctx context.Context, key *models.APIKey) error
}

// Store groups the repository capabilities behind one handle.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
	ProviderSettingStore
	AgentStore
	APIKeyStore

	// Close releases any underlying resources.
	Close() error
}
