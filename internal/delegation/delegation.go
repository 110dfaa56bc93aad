// Package delegation implements bounded agent-to-agent task handoff: the
// delegate_to_team_member tools with cycle refusal, depth caps, and a
// per-user rate limit.
package delegation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/internal/tools"
	"github.com/chorushq/chorus/pkg/models"
)

const (
	// DefaultMaxDepth bounds how deep a delegation chain may nest.
	DefaultMaxDepth = 3

	// RateLimitWindow and MaxPerWindow bound delegations per user.
	RateLimitWindow = 60 * time.Second
	MaxPerWindow    = 10
)

// Request describes one nested sub-agent invocation.
type Request struct {
	Agent           *models.Agent
	Task            string
	ContextMessages []string
	User            *models.User
	CompletionID    string

	// DelegationStack already includes the target agent.
	DelegationStack []string
}

// ChatFunc runs the nested chat turn and returns the concatenated
// assistant reply. The orchestrator supplies it to break the dependency
// cycle between delegation and the pipeline.
type ChatFunc func(ctx context.Context, req *Request) (string, error)

// Service resolves and executes delegations.
type Service struct {
	agents  storage.AgentStore
	chat    ChatFunc
	limiter *rateLimiter
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates the delegation service.
func NewService(agents storage.AgentStore, chat ChatFunc, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		agents:  agents,
		chat:    chat,
		limiter: newRateLimiter(RateLimitWindow, MaxPerWindow),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds the delegation tools to the registry.
func (s *Service) Register(reg *tools.Registry) {
	reg.MustRegister(&tools.Descriptor{
		Name:        "delegate_to_team_member",
		Description: "Hand a task to another agent on the user's team by agent id.",
		Type:        tools.TypeNormal,
		Handler:     s.delegateByID,
	})
	reg.MustRegister(&tools.Descriptor{
		Name:        "delegate_to_team_member_by_role",
		Description: "Hand a task to another agent on the user's team by role.",
		Type:        tools.TypeNormal,
		Handler:     s.delegateByRole,
	})
}

func (s *Service) delegateByID(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	agentID, _ := inv.Args["agent_id"].(string)
	if agentID == "" {
		return s.refuse(ctx, inv, "invalid", "agent_id is required"), nil
	}
	target, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		return s.refuse(ctx, inv, "not_found", fmt.Sprintf("agent %s not found", agentID)), nil
	}
	return s.delegate(ctx, inv, target)
}

func (s *Service) delegateByRole(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	role, _ := inv.Args["role"].(string)
	if role == "" {
		return s.refuse(ctx, inv, "invalid", "role is required"), nil
	}
	if inv.User == nil {
		return s.refuse(ctx, inv, "invalid", "delegation requires a user"), nil
	}
	target, err := s.agents.GetAgentByRole(ctx, inv.User.ID, role)
	if err != nil {
		return s.refuse(ctx, inv, "not_found", fmt.Sprintf("no agent with role %q", role)), nil
	}
	return s.delegate(ctx, inv, target)
}

func (s *Service) delegate(ctx context.Context, inv *tools.Invocation, target *models.Agent) (*tools.Result, error) {
	task, _ := inv.Args["task_description"].(string)
	if task == "" {
		return s.refuse(ctx, inv, "invalid", "task_description is required"), nil
	}
	if inv.CurrentAgentID == "" {
		return s.refuse(ctx, inv, "invalid", "no current agent in this request"), nil
	}
	if inv.User == nil || target.UserID != inv.User.ID {
		return s.refuse(ctx, inv, "forbidden", "target agent does not belong to this user"), nil
	}

	maxDepth := inv.MaxDelegationDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	for _, id := range inv.DelegationStack {
		if id == target.ID {
			return s.refuse(ctx, inv, "cycle", fmt.Sprintf("delegation cycle: agent %s is already in the chain", target.ID)), nil
		}
	}
	if len(inv.DelegationStack) >= maxDepth {
		return s.refuse(ctx, inv, "depth", fmt.Sprintf("delegation depth limit of %d reached", maxDepth)), nil
	}
	if !s.limiter.allow(inv.User.ID) {
		return s.refuse(ctx, inv, "rate_limited", fmt.Sprintf("at most %d delegations per minute", MaxPerWindow)), nil
	}

	var contextMessages []string
	if raw, ok := inv.Args["context_messages"].([]any); ok {
		for _, m := range raw {
			if s, ok := m.(string); ok {
				contextMessages = append(contextMessages, s)
			}
		}
	}

	stack := append(append([]string{}, inv.DelegationStack...), target.ID)
	reply, err := s.chat(ctx, &Request{
		Agent:           target,
		Task:            task,
		ContextMessages: contextMessages,
		User:            inv.User,
		CompletionID:    inv.CompletionID,
		DelegationStack: stack,
	})
	if err != nil {
		s.record("error")
		if s.logger != nil {
			s.logger.Warn(ctx, "delegated chat failed", "agent", target.ID, "error", err)
		}
		return tools.Errorf(inv.Name, "delegation to %s failed: %v", target.Name, err), nil
	}

	s.record("success")
	return &tools.Result{
		Status:  tools.StatusSuccess,
		Name:    inv.Name,
		Content: reply,
		Data: map[string]any{
			"agent_id":   target.ID,
			"agent_name": target.Name,
		},
	}, nil
}

func (s *Service) refuse(ctx context.Context, inv *tools.Invocation, reason, message string) *tools.Result {
	s.record("refused_" + reason)
	if s.logger != nil {
		s.logger.Info(ctx, "delegation refused", "reason", reason, "message", message)
	}
	return tools.Errorf(inv.Name, "%s", message)
}

func (s *Service) record(status string) {
	if s.metrics != nil {
		s.metrics.RecordDelegation(status)
	}
}

// BuildPrompt renders the task plus any context messages as the nested
// user turn.
func BuildPrompt(req *Request) string {
	if len(req.ContextMessages) == 0 {
		return req.Task
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, m := range req.ContextMessages {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	b.WriteString("\nTask: ")
	b.WriteString(req.Task)
	return b.String()
}

// rateLimiter is a per-user sliding window counter.
type rateLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu     sync.Mutex
	events map[uint64][]time.Time
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	return &rateLimiter{
		window: window,
		max:    max,
		now:    time.Now,
		events: make(map[uint64][]time.Time),
	}
}

// allow records one event and reports whether it fits in the window.
func (l *rateLimiter) allow(userID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.events[userID][:0]
	for _, t := range l.events[userID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.events[userID] = kept
		return false
	}
	l.events[userID] = append(kept, now)
	return true
}
