// Package conversation implements the per-request conversation manager:
// ownership checks, message append, share-link issuance, and delegation to
// the usage manager.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/internal/usage"
	"github.com/chorushq/chorus/pkg/models"
)

// DefaultTitle names conversations created implicitly by the first append.
const DefaultTitle = "New Conversation"

// Manager mediates all conversation access for one request. It carries the
// request's user principal; a nil user restricts the manager to the
// stateless paths.
type Manager struct {
	store  storage.Store
	usage  *usage.Manager
	user   *models.User
	model  string
	logger *observability.Logger

	// persist=false turns Get into an echo of the inline message and Add
	// into a no-op id assignment, for ephemeral completions.
	persist bool
}

// Options configure a manager for one request.
type Options struct {
	User  *models.User
	Model string

	// Store controls persistence. False means the request is ephemeral.
	Store bool
}

// NewManager builds a manager bound to one request.
func NewManager(store storage.Store, usg *usage.Manager, logger *observability.Logger, opts Options) *Manager {
	return &Manager{
		store:   store,
		usage:   usg,
		user:    opts.User,
		model:   opts.Model,
		logger:  logger,
		persist: opts.Store,
	}
}

// User returns the request principal, possibly nil.
func (m *Manager) User() *models.User { return m.user }

// requireOwner loads the conversation and verifies the request principal
// owns it.
func (m *Manager) requireOwner(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.user == nil || conv.OwnerUserID != m.user.ID {
		return nil, errs.New(errs.KindForbidden, "conversation %s: %w", id, errs.ErrForbidden)
	}
	return conv, nil
}

// Add appends a message to the conversation, creating the conversation on
// first use. Requires a user principal. The conversation's last-message
// fields and count are updated with the insert.
func (m *Manager) Add(ctx context.Context, conversationID string, msg *models.Message) error {
	if m.user == nil {
		return errs.New(errs.KindForbidden, "message append requires a user: %w", errs.ErrForbidden)
	}
	if !m.persist {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		return nil
	}

	conv, err := m.store.GetConversation(ctx, conversationID)
	switch {
	case err == nil:
		if conv.OwnerUserID != m.user.ID {
			return errs.New(errs.KindForbidden, "conversation %s: %w", conversationID, errs.ErrForbidden)
		}
	case errs.KindOf(err) == errs.KindNotFound:
		conv = &models.Conversation{
			ID:          conversationID,
			OwnerUserID: m.user.ID,
			Title:       DefaultTitle,
		}
		if err := m.store.CreateConversation(ctx, conv); err != nil {
			return err
		}
	default:
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		return err
	}

	conv.LastMessageID = msg.ID
	conv.LastMessageAt = msg.Timestamp
	conv.MessageCount++
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return err
	}
	return nil
}

// Get returns the conversation's messages in insertion order. For an
// ephemeral manager with an inline message, it returns just that message.
func (m *Manager) Get(ctx context.Context, conversationID string, inline *models.Message) ([]*models.Message, error) {
	if !m.persist && inline != nil {
		return []*models.Message{inline}, nil
	}
	if _, err := m.requireOwner(ctx, conversationID); err != nil {
		return nil, err
	}
	return m.store.ListMessages(ctx, conversationID)
}

// Update mutates the owner-editable conversation fields.
type Update struct {
	Title    *string
	Archived *bool
}

// UpdateConversation applies an owner-only partial update.
func (m *Manager) UpdateConversation(ctx context.Context, id string, upd Update) (*models.Conversation, error) {
	conv, err := m.requireOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, errs.New(errs.KindValidation, "title must not be empty: %w", errs.ErrValidation)
		}
		conv.Title = title
	}
	if upd.Archived != nil {
		conv.IsArchived = *upd.Archived
	}
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ShareConversation makes the conversation publicly resolvable, minting a
// share id on first call. Repeat calls return the existing id.
func (m *Manager) ShareConversation(ctx context.Context, id string) (string, error) {
	conv, err := m.requireOwner(ctx, id)
	if err != nil {
		return "", err
	}
	if conv.ShareID != "" {
		return conv.ShareID, nil
	}
	conv.ShareID = uuid.NewString()
	conv.IsPublic = true
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return "", err
	}
	return conv.ShareID, nil
}

// CheckUsageLimits verifies quota for the request's user and model.
// A manager with no user silently passes.
func (m *Manager) CheckUsageLimits(ctx context.Context, toolType string) error {
	if m.user == nil || m.usage == nil {
		return nil
	}
	return m.usage.CheckLimits(ctx, m.user, toolType)
}

// IncrementUsageByModel records one message against the given model.
// Best-effort.
func (m *Manager) IncrementUsageByModel(ctx context.Context, model string) {
	if m.usage == nil {
		return
	}
	if model == "" {
		model = m.model
	}
	m.usage.IncrementByModel(ctx, m.user, model)
}

// IncrementFunctionUsage records one tool invocation. Best-effort.
func (m *Manager) IncrementFunctionUsage(ctx context.Context, toolType string, isPro bool, costPerCall float64) {
	if m.usage == nil {
		return
	}
	m.usage.IncrementFunctionUsage(ctx, m.user, toolType, isPro, costPerCall)
}

// StampAssistant fills the bookkeeping fields on an assistant message
// before persistence.
func StampAssistant(msg *models.Message, model, logID string, u *models.Usage) {
	msg.Role = models.RoleAssistant
	msg.Model = model
	msg.LogID = logID
	msg.Usage = u
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
}
