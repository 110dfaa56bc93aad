// Package orchestrator runs the chat completion pipeline: validation,
// model resolution, quota checks, retrieval augmentation, provider
// invocation, guardrails, the tool loop, and persistence.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chorushq/chorus/internal/conversation"
	"github.com/chorushq/chorus/internal/delegation"
	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/internal/guardrails"
	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/internal/providers"
	"github.com/chorushq/chorus/internal/rag"
	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/internal/tools"
	"github.com/chorushq/chorus/internal/usage"
	"github.com/chorushq/chorus/pkg/models"
)

// MaxToolRounds bounds the model/tool alternation per turn.
const MaxToolRounds = 10

// PromptAnalyser classifies a prompt into routing requirements.
type PromptAnalyser interface {
	Analyze(ctx context.Context, prompt string, attachments []models.Attachment, budget float64, user *models.User) (*models.PromptRequirements, error)
}

// ModelSelector picks a model for the analysed requirements. It must be
// total: any input yields a usable model name.
type ModelSelector interface {
	SelectModel(ctx context.Context, userID uint64, r *models.PromptRequirements) string
}

// Orchestrator wires the pipeline components.
type Orchestrator struct {
	registry *providers.Registry
	selector ModelSelector
	analyser PromptAnalyser
	rag      *rag.Service
	tools    *tools.Registry
	guard    *guardrails.Policy
	store    storage.Store
	usage    *usage.Manager
	logger   *observability.Logger

	appURL       string
	defaultModel string
}

// Options configure the orchestrator.
type Options struct {
	Registry *providers.Registry
	Selector ModelSelector
	Analyser PromptAnalyser
	RAG      *rag.Service
	Tools    *tools.Registry
	Guard    *guardrails.Policy
	Store    storage.Store
	Usage    *usage.Manager
	Logger   *observability.Logger

	AppURL       string
	DefaultModel string
}

// New creates the orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		registry:     opts.Registry,
		selector:     opts.Selector,
		analyser:     opts.Analyser,
		rag:          opts.RAG,
		tools:        opts.Tools,
		guard:        opts.Guard,
		store:        opts.Store,
		usage:        opts.Usage,
		logger:       opts.Logger,
		appURL:       opts.AppURL,
		defaultModel: opts.DefaultModel,
	}
}

// Request is one incoming user turn.
type Request struct {
	CompletionID   string
	ConversationID string

	// Model and Provider, when set, are explicit caller choices and
	// bypass routing.
	Model    string
	Provider string

	Messages    []models.Message
	Attachments []models.Attachment
	User        *models.User

	// SystemPrompt is prepended to the provider call.
	SystemPrompt string

	// Tools names the requested tools; empty means the default set.
	Tools []string

	// Augment enables retrieval augmentation of the final user message.
	Augment    bool
	RAGOptions rag.SearchOptions

	// Persist stores the turn's messages in the conversation.
	Persist bool

	BudgetConstraint float64

	CurrentAgentID     string
	DelegationStack    []string
	MaxDelegationDepth int

	Platform string
	Mode     string
}

// Response is the completed turn.
type Response struct {
	Content       string          `json:"content"`
	ToolCalls     []models.ToolCall `json:"tool_calls,omitempty"`
	Usage         *models.Usage   `json:"usage,omitempty"`
	LogID         string          `json:"log_id,omitempty"`
	ToolResponses []*tools.Result `json:"toolResponses,omitempty"`
	SelectedModel string          `json:"selectedModel"`
	CompletionID  string          `json:"completion_id"`
}

// Chat runs the pipeline for one user turn.
func (o *Orchestrator) Chat(ctx context.Context, req *Request) (resp *Response, err error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.CompletionID == "" {
		req.CompletionID = uuid.NewString()
	}
	ctx = observability.WithCompletionID(ctx, req.CompletionID)
	ctx, span := observability.StartSpan(ctx, "chat.completion",
		attribute.String("completion_id", req.CompletionID))
	defer func() { observability.EndSpan(span, err) }()

	manager := conversation.NewManager(o.store, o.usage, o.logger, conversation.Options{
		User:  req.User,
		Model: req.Model,
		Store: o.store != nil && req.Persist,
	})

	model, explicit := o.resolveModel(ctx, req)

	if err := manager.CheckUsageLimits(ctx, ""); err != nil {
		return nil, err
	}

	messages := append([]models.Message{}, req.Messages...)
	if req.Augment && o.rag != nil {
		last := len(messages) - 1
		userID := uint64(0)
		if req.User != nil {
			userID = req.User.ID
		}
		messages[last].Content = o.rag.AugmentPrompt(ctx, messages[last].Content, req.RAGOptions, userID)
	}

	defs := o.toolDefinitions(req.Tools)

	transcript := toChatMessages(messages)
	var toolResponses []*tools.Result
	var newMessages []models.Message

	collected, err := o.invoke(ctx, req, model, explicit, transcript, defs)
	if err != nil {
		return nil, err
	}

	for round := 0; round < MaxToolRounds && len(collected.ToolCalls) > 0; round++ {
		assistant := assistantMessage(collected, model)
		newMessages = append(newMessages, assistant)
		transcript = append(transcript, providers.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   collected.Content,
			ToolCalls: collected.ToolCalls,
		})

		pending := false
		for _, call := range collected.ToolCalls {
			result := o.runTool(ctx, req, manager, call)
			toolResponses = append(toolResponses, result)

			toolMsg := toolMessage(call, result)
			newMessages = append(newMessages, toolMsg)
			transcript = append(transcript, providers.ChatMessage{
				Role:       models.RoleTool,
				Content:    toolMsg.Content,
				ToolCallID: call.ID,
			})
			if result.Status == tools.StatusPending {
				pending = true
			}
		}
		if pending {
			// Surface the pending turn; the client resolves it in a
			// follow-up message.
			return o.finish(ctx, req, manager, model, collected, toolResponses, messages, newMessages, true)
		}

		collected, err = o.invoke(ctx, req, model, explicit, transcript, defs)
		if err != nil {
			return nil, err
		}
	}

	if checked, ok := o.guard.Check(ctx, collected.Content); !ok {
		collected.Content = checked
		collected.ToolCalls = nil
	}

	return o.finish(ctx, req, manager, model, collected, toolResponses, messages, newMessages, false)
}

// resolveModel applies the explicit -> provider -> router precedence.
func (o *Orchestrator) resolveModel(ctx context.Context, req *Request) (string, bool) {
	if req.Model != "" {
		return req.Model, true
	}
	if req.Provider != "" {
		return "", true
	}

	var requirements *models.PromptRequirements
	if o.analyser != nil {
		prompt := lastUserContent(req.Messages)
		r, err := o.analyser.Analyze(ctx, prompt, req.Attachments, req.BudgetConstraint, req.User)
		if err != nil {
			if o.logger != nil {
				o.logger.Warn(ctx, "prompt analysis failed, routing with defaults", "error", err)
			}
		} else {
			requirements = r
		}
	}
	if o.selector == nil {
		return o.defaultModel, false
	}
	userID := uint64(0)
	if req.User != nil {
		userID = req.User.ID
	}
	return o.selector.SelectModel(ctx, userID, requirements), false
}

// invoke calls the chat capability and drains the stream.
func (o *Orchestrator) invoke(ctx context.Context, req *Request, model string, explicit bool, transcript []providers.ChatMessage, defs []providers.ToolDefinition) (collected *providers.CollectedResponse, err error) {
	ctx, span := observability.StartSpan(ctx, "chat.invoke", attribute.String("model", model))
	defer func() { observability.EndSpan(span, err) }()

	userID := uint64(0)
	if req.User != nil {
		userID = req.User.ID
	}
	chunks, err := o.registry.Chat(ctx, providers.ChatOptions{
		Model:        model,
		Provider:     req.Provider,
		Explicit:     explicit,
		UserID:       userID,
		CompletionID: req.CompletionID,
	}, &providers.ChatRequest{
		System:   req.SystemPrompt,
		Messages: transcript,
		Tools:    defs,
	})
	if err != nil {
		return nil, err
	}
	return providers.Collect(ctx, chunks)
}

// runTool dispatches one tool call with the request context attached.
func (o *Orchestrator) runTool(ctx context.Context, req *Request, manager *conversation.Manager, call models.ToolCall) *tools.Result {
	if o.tools == nil {
		return tools.Errorf(call.Name, "no tools are configured")
	}
	var args map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return tools.Errorf(call.Name, "invalid tool arguments: %v", err)
		}
	}
	return o.tools.Dispatch(ctx, &tools.Invocation{
		CompletionID:       req.CompletionID,
		Name:               call.Name,
		Args:               args,
		User:               req.User,
		AppURL:             o.appURL,
		Conversation:       manager,
		CurrentAgentID:     req.CurrentAgentID,
		DelegationStack:    req.DelegationStack,
		MaxDelegationDepth: req.MaxDelegationDepth,
	})
}

// finish persists the turn and assembles the response. Persistence and
// usage accounting failures after a successful completion are logged, not
// surfaced.
func (o *Orchestrator) finish(ctx context.Context, req *Request, manager *conversation.Manager, model string, resp *providers.CollectedResponse, toolResponses []*tools.Result, original, generated []models.Message, pending bool) (*Response, error) {
	if !pending {
		// The pending path already appended this turn's assistant message
		// before its tool calls ran.
		generated = append(generated, assistantMessage(resp, model))
	}

	if req.Persist && req.ConversationID != "" {
		toStore := append(append([]models.Message{}, original...), generated...)
		for i := range toStore {
			if err := manager.Add(ctx, req.ConversationID, &toStore[i]); err != nil {
				if o.logger != nil {
					o.logger.Error(ctx, "failed to persist message", "conversation_id", req.ConversationID, "error", err)
				}
				break
			}
		}
	}
	manager.IncrementUsageByModel(ctx, model)

	out := &Response{
		Content:       resp.Content,
		ToolCalls:     resp.ToolCalls,
		Usage:         resp.Usage,
		LogID:         resp.LogID,
		ToolResponses: toolResponses,
		SelectedModel: model,
		CompletionID:  req.CompletionID,
	}
	if out.SelectedModel == "" {
		out.SelectedModel = o.defaultModel
	}
	return out, nil
}

// DelegationChat returns the nested-chat hook for the delegation service.
// The sub-agent runs an ordinary (ephemeral) pipeline turn with the task
// as user input and the stack carried forward.
func (o *Orchestrator) DelegationChat() delegation.ChatFunc {
	return func(ctx context.Context, req *delegation.Request) (string, error) {
		resp, err := o.Chat(ctx, &Request{
			CompletionID: req.CompletionID + "-" + req.Agent.ID,
			Model:        req.Agent.Model,
			SystemPrompt: req.Agent.SystemPrompt,
			Messages: []models.Message{{
				Role:    models.RoleUser,
				Content: delegation.BuildPrompt(req),
			}},
			User:            req.User,
			CurrentAgentID:  req.Agent.ID,
			DelegationStack: req.DelegationStack,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}

func validate(req *Request) error {
	if len(req.Messages) == 0 {
		return errs.New(errs.KindValidation, "messages must not be empty: %w", errs.ErrValidation)
	}
	for i, msg := range req.Messages {
		if !models.ValidRole(msg.Role) {
			return errs.New(errs.KindValidation, "message %d has invalid role %q: %w", i, msg.Role, errs.ErrValidation)
		}
	}
	for i, att := range req.Attachments {
		switch att.Type {
		case models.AttachmentImage, models.AttachmentDocument, models.AttachmentAudio:
		default:
			return errs.New(errs.KindValidation, "attachment %d has invalid type %q: %w", i, att.Type, errs.ErrValidation)
		}
	}
	return nil
}

func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func toChatMessages(messages []models.Message) []providers.ChatMessage {
	out := make([]providers.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, providers.ChatMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		})
	}
	return out
}

// toolDefinitions maps requested tool names to provider definitions.
// Unknown names are skipped; an empty request selects the default set.
func (o *Orchestrator) toolDefinitions(requested []string) []providers.ToolDefinition {
	if o.tools == nil {
		return nil
	}
	var descriptors []*tools.Descriptor
	if len(requested) == 0 {
		descriptors = o.tools.Defaults()
	} else {
		for _, name := range requested {
			if d, ok := o.tools.Get(name); ok {
				descriptors = append(descriptors, d)
			}
		}
	}
	out := make([]providers.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, providers.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

func assistantMessage(resp *providers.CollectedResponse, model string) models.Message {
	msg := models.Message{
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Model:     model,
		LogID:     resp.LogID,
		Usage:     resp.Usage,
		Timestamp: time.Now().UTC(),
	}
	return msg
}

func toolMessage(call models.ToolCall, result *tools.Result) models.Message {
	content := result.Content
	if len(result.Data) > 0 {
		if raw, err := json.Marshal(map[string]any{"content": result.Content, "data": result.Data}); err == nil {
			content = string(raw)
		}
	}
	return models.Message{
		Role:       models.RoleTool,
		Name:       result.Name,
		Content:    content,
		ToolCallID: call.ID,
		Status:     result.Status,
		Timestamp:  time.Now().UTC(),
	}
}
