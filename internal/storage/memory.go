package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chorushq/chorus/pkg/models"
)

// MemoryStore is an in-process Store used for tests and single-node
// development. All records are deep-copied on the way in and out.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uint64]*models.User
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	byConvo       map[string][]string
	settings      map[uint64]map[string]models.ProviderSetting
	agents        map[string]*models.Agent
	apiKeys       map[string]*models.APIKey

	// lastStamp enforces the monotonic insert order of message
	// timestamps within the process.
	lastStamp time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uint64]*models.User),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		byConvo:       make(map[string][]string),
		settings:      make(map[uint64]map[string]models.ProviderSetting),
		agents:        make(map[string]*models.Agent),
		apiKeys:       make(map[string]*models.APIKey),
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// PutUser seeds a user record. Test helper.
func (s *MemoryStore) PutUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// GetUser implements UserStore.
func (s *MemoryStore) GetUser(_ context.Context, id uint64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail implements UserStore.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", email, ErrNotFound)
}

// CreateConversation implements ConversationStore.
func (s *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; ok {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrConflict)
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

// GetConversation implements ConversationStore.
func (s *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	cp := *conv
	return &cp, nil
}

// GetConversationByShareID implements ConversationStore.
func (s *MemoryStore) GetConversationByShareID(_ context.Context, shareID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.conversations {
		if conv.ShareID == shareID && conv.IsPublic {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("share %s: %w", shareID, ErrNotFound)
}

// UpdateConversation implements ConversationStore.
func (s *MemoryStore) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[conv.ID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrNotFound)
	}
	// Owner never changes after create.
	conv.OwnerUserID = existing.OwnerUserID
	conv.CreatedAt = existing.CreatedAt
	conv.UpdatedAt = time.Now().UTC()
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

// DeleteConversation implements ConversationStore.
func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	delete(s.conversations, id)
	for _, msgID := range s.byConvo[id] {
		delete(s.messages, msgID)
	}
	delete(s.byConvo, id)
	return nil
}

// ListConversations implements ConversationStore.
func (s *MemoryStore) ListConversations(_ context.Context, ownerUserID uint64, limit, offset int) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for _, conv := range s.conversations {
		if conv.OwnerUserID == ownerUserID {
			cp := *conv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// InsertMessage implements MessageStore. The timestamp is server-assigned
// and strictly increasing across inserts.
func (s *MemoryStore) InsertMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("message %s: %w", msg.ID, ErrConflict)
	}

	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	msg.Timestamp = now
	msg.CreatedAt = now
	msg.UpdatedAt = now

	cp := *msg
	s.messages[msg.ID] = &cp
	s.byConvo[msg.ConversationID] = append(s.byConvo[msg.ConversationID], msg.ID)
	return nil
}

// GetMessage implements MessageStore.
func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	cp := *msg
	return &cp, nil
}

// ListMessages implements MessageStore, returning insertion order.
func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConvo[conversationID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetProviderSettings implements ProviderSettingStore.
func (s *MemoryStore) GetProviderSettings(_ context.Context, userID uint64) ([]models.ProviderSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byProvider := s.settings[userID]
	out := make([]models.ProviderSetting, 0, len(byProvider))
	for _, setting := range byProvider {
		out = append(out, setting)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

// PutProviderSetting implements ProviderSettingStore.
func (s *MemoryStore) PutProviderSetting(_ context.Context, userID uint64, setting models.ProviderSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings[userID] == nil {
		s.settings[userID] = make(map[string]models.ProviderSetting)
	}
	s.settings[userID][setting.ProviderID] = setting
	return nil
}

// GetAgent implements AgentStore.
func (s *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	cp := *agent
	return &cp, nil
}

// GetAgentByRole implements AgentStore.
func (s *MemoryStore) GetAgentByRole(_ context.Context, userID uint64, role string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, agent := range s.agents {
		if agent.UserID == userID && strings.EqualFold(agent.Role, role) {
			cp := *agent
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("agent role %q: %w", role, ErrNotFound)
}

// ListAgents implements AgentStore.
func (s *MemoryStore) ListAgents(_ context.Context, userID uint64) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Agent
	for _, agent := range s.agents {
		if agent.UserID == userID {
			cp := *agent
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutAgent implements AgentStore.
func (s *MemoryStore) PutAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

// GetAPIKeyByHash implements APIKeyStore.
func (s *MemoryStore) GetAPIKeyByHash(_ context.Context, hash string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.apiKeys[hash]
	if !ok {
		return nil, fmt.Errorf("api key: %w", ErrNotFound)
	}
	cp := *key
	return &cp, nil
}

// PutAPIKey implements APIKeyStore.
func (s *MemoryStore) PutAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.apiKeys[key.Hash] = &cp
	return nil
}
