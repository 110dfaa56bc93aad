package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/chorushq/chorus/pkg/models"
)

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns the pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings a Postgres-backed store.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle. Used by tests with
// sqlmock.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close implements Store.
func (s *PostgresStore) Close() error { return s.db.Close() }

// GetUser implements UserStore.
func (s *PostgresStore) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, plan, COALESCE(github_username, '') FROM users WHERE id = $1`, id)
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Plan, &u.GithubUsername); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail implements UserStore.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, plan, COALESCE(github_username, '') FROM users WHERE lower(email) = lower($1)`, email)
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Plan, &u.GithubUsername); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

const conversationColumns = `id, owner_user_id, title, is_archived, is_public,
	COALESCE(share_id, ''), COALESCE(last_message_id, ''), COALESCE(last_message_at, to_timestamp(0)),
	message_count, COALESCE(parent_conversation_id, ''), COALESCE(parent_message_id, ''),
	created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID, &c.OwnerUserID, &c.Title, &c.IsArchived, &c.IsPublic,
		&c.ShareID, &c.LastMessageID, &c.LastMessageAt,
		&c.MessageCount, &c.ParentConversationID, &c.ParentMessageID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation implements ConversationStore.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations
		 (id, owner_user_id, title, is_archived, is_public, share_id, parent_conversation_id, parent_message_id, message_count, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),NULLIF($8,''),$9,$10,$11)`,
		conv.ID, conv.OwnerUserID, conv.Title, conv.IsArchived, conv.IsPublic,
		conv.ShareID, conv.ParentConversationID, conv.ParentMessageID,
		conv.MessageCount, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return fmt.Errorf("conversation %s: %w", conv.ID, ErrConflict)
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation implements ConversationStore.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// GetConversationByShareID implements ConversationStore.
func (s *PostgresStore) GetConversationByShareID(ctx context.Context, shareID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE share_id = $1 AND is_public`, shareID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("share %s: %w", shareID, ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation by share id: %w", err)
	}
	return conv, nil
}

// UpdateConversation implements ConversationStore. Owner and created_at
// are never touched.
func (s *PostgresStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET
		   title = $2, is_archived = $3, is_public = $4, share_id = NULLIF($5,''),
		   last_message_id = NULLIF($6,''), last_message_at = $7, message_count = $8, updated_at = $9
		 WHERE id = $1`,
		conv.ID, conv.Title, conv.IsArchived, conv.IsPublic, conv.ShareID,
		conv.LastMessageID, conv.LastMessageAt, conv.MessageCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrNotFound)
	}
	return nil
}

// DeleteConversation implements ConversationStore.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListConversations implements ConversationStore.
func (s *PostgresStore) ListConversations(ctx context.Context, ownerUserID uint64, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE owner_user_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		ownerUserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// InsertMessage implements MessageStore. Timestamps come from the database
// clock so ordering holds across processes.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	var usage []byte
	if msg.Usage != nil {
		if usage, err = json.Marshal(msg.Usage); err != nil {
			return fmt.Errorf("marshal usage: %w", err)
		}
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO messages
		 (id, conversation_id, parent_message_id, role, content, name, tool_calls, tool_call_id,
		  model, status, platform, mode, log_id, data, usage, timestamp, created_at, updated_at)
		 VALUES ($1,$2,NULLIF($3,''),$4,$5,NULLIF($6,''),$7,NULLIF($8,''),
		         NULLIF($9,''),NULLIF($10,''),NULLIF($11,''),NULLIF($12,''),NULLIF($13,''),$14,$15,now(),now(),now())
		 RETURNING timestamp, created_at, updated_at`,
		msg.ID, msg.ConversationID, msg.ParentMessageID, msg.Role, msg.Content, msg.Name,
		toolCalls, msg.ToolCallID, msg.Model, msg.Status, msg.Platform, msg.Mode, msg.LogID,
		nullableJSON(msg.Data), nullableJSON(usage),
	)
	if err := row.Scan(&msg.Timestamp, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
		}
		if strings.Contains(err.Error(), "duplicate") {
			return fmt.Errorf("message %s: %w", msg.ID, ErrConflict)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage implements MessageStore.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

const messageColumns = `id, conversation_id, COALESCE(parent_message_id, ''), role, content,
	COALESCE(name, ''), tool_calls, COALESCE(tool_call_id, ''), COALESCE(model, ''),
	COALESCE(status, ''), COALESCE(platform, ''), COALESCE(mode, ''), COALESCE(log_id, ''),
	data, usage, timestamp, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var m models.Message
	var toolCalls, data, usage []byte
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.ParentMessageID, &m.Role, &m.Content,
		&m.Name, &toolCalls, &m.ToolCallID, &m.Model,
		&m.Status, &m.Platform, &m.Mode, &m.LogID,
		&data, &usage, &m.Timestamp, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	if len(data) > 0 {
		m.Data = json.RawMessage(data)
	}
	if len(usage) > 0 {
		var u models.Usage
		if err := json.Unmarshal(usage, &u); err == nil {
			m.Usage = &u
		}
	}
	return &m, nil
}

// ListMessages implements MessageStore.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY timestamp ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// GetProviderSettings implements ProviderSettingStore.
func (s *PostgresStore) GetProviderSettings(ctx context.Context, userID uint64) ([]models.ProviderSetting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, enabled, has_credentials FROM provider_settings
		 WHERE user_id = $1 ORDER BY provider_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("get provider settings: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderSetting
	for rows.Next() {
		var setting models.ProviderSetting
		if err := rows.Scan(&setting.ProviderID, &setting.Enabled, &setting.HasCredentials); err != nil {
			return nil, fmt.Errorf("scan provider setting: %w", err)
		}
		out = append(out, setting)
	}
	return out, rows.Err()
}

// PutProviderSetting implements ProviderSettingStore.
func (s *PostgresStore) PutProviderSetting(ctx context.Context, userID uint64, setting models.ProviderSetting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_settings (user_id, provider_id, enabled, has_credentials)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id, provider_id) DO UPDATE SET enabled = $3, has_credentials = $4`,
		userID, setting.ProviderID, setting.Enabled, setting.HasCredentials)
	if err != nil {
		return fmt.Errorf("put provider setting: %w", err)
	}
	return nil
}

// GetAgent implements AgentStore.
func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, COALESCE(role,''), COALESCE(description,''),
		        COALESCE(system_prompt,''), COALESCE(model,''), created_at
		 FROM agents WHERE id = $1`, id)
	return scanAgent(row, id)
}

// GetAgentByRole implements AgentStore.
func (s *PostgresStore) GetAgentByRole(ctx context.Context, userID uint64, role string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, COALESCE(role,''), COALESCE(description,''),
		        COALESCE(system_prompt,''), COALESCE(model,''), created_at
		 FROM agents WHERE user_id = $1 AND lower(role) = lower($2) LIMIT 1`, userID, role)
	return scanAgent(row, role)
}

func scanAgent(row *sql.Row, ref string) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Role, &a.Description, &a.SystemPrompt, &a.Model, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// ListAgents implements AgentStore.
func (s *PostgresStore) ListAgents(ctx context.Context, userID uint64) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, COALESCE(role,''), COALESCE(description,''),
		        COALESCE(system_prompt,''), COALESCE(model,''), created_at
		 FROM agents WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Role, &a.Description, &a.SystemPrompt, &a.Model, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// PutAgent implements AgentStore.
func (s *PostgresStore) PutAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, user_id, name, role, description, system_prompt, model, created_at)
		 VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8)
		 ON CONFLICT (id) DO UPDATE SET
		   name = $3, role = NULLIF($4,''), description = NULLIF($5,''),
		   system_prompt = NULLIF($6,''), model = NULLIF($7,'')`,
		agent.ID, agent.UserID, agent.Name, agent.Role, agent.Description,
		agent.SystemPrompt, agent.Model, agent.CreatedAt)
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// GetAPIKeyByHash implements APIKeyStore.
func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, hash, created_at, COALESCE(last_used_at, to_timestamp(0))
		 FROM api_keys WHERE hash = $1`, hash)
	var k models.APIKey
	if err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.Hash, &k.CreatedAt, &k.LastUsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

// PutAPIKey implements APIKeyStore.
func (s *PostgresStore) PutAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, hash, created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET last_used_at = now()`,
		key.ID, key.UserID, key.Name, key.Hash, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("put api key: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
