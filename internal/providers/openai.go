package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/pkg/models"
)

// OpenAIProvider is the ChatProvider over the OpenAI chat completions API.
// With a custom BaseURL it also fronts OpenAI-compatible endpoints
// (Mistral, Groq).
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAI or OpenAI-compatible provider.
type OpenAIConfig struct {
	// Name is the provider id reported by Name(). Defaults to "openai".
	Name         string
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewOpenAIProvider creates the provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", providerName(config.Name))
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		name:         providerName(config.Name),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func providerName(name string) string {
	if name == "" {
		return "openai"
	}
	return name
}

// Name implements ChatProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete implements ChatProvider.
func (p *OpenAIProvider) Complete(ctx context.Context, req *ChatRequest) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		var stream *openai.ChatCompletionStream
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.client.CreateChatCompletionStream(ctx, p.buildRequest(req))
			if err == nil {
				break
			}
			if !isRetryableUpstreamError(err) {
				chunks <- &Chunk{Err: errs.Permanent(fmt.Errorf("%s: %w", p.name, err))}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &Chunk{Err: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- &Chunk{Err: errs.Transient(fmt.Errorf("%s: max retries exceeded: %w", p.name, err))}
			return
		}
		defer stream.Close()

		p.processStream(stream, chunks)
	}()

	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(req *ChatRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	out := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      convertOpenAIMessages(req.System, req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = float32(req.Temperature)
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) processStream(stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	// Tool call fragments arrive with an index; accumulate until the
	// stream finishes.
	type partialCall struct {
		id   string
		name string
		args []byte
	}
	calls := make(map[int]*partialCall)
	var usage *models.Usage
	var logID string

	flushCalls := func() {
		indexes := make([]int, 0, len(calls))
		for i := range calls {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			c := calls[i]
			chunks <- &Chunk{ToolCall: &models.ToolCall{
				ID:    c.id,
				Name:  c.name,
				Input: json.RawMessage(c.args),
			}}
		}
		calls = make(map[int]*partialCall)
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flushCalls()
			chunks <- &Chunk{Done: true, Usage: usage, LogID: logID}
			return
		}
		if err != nil {
			chunks <- &Chunk{Err: classifyUpstreamError(fmt.Errorf("%s: %w", p.name, err))}
			return
		}

		if resp.ID != "" {
			logID = resp.ID
		}
		if resp.Usage != nil {
			usage = &models.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &Chunk{Content: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call := calls[idx]
			if call == nil {
				call = &partialCall{}
				calls[idx] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.args = append(call.args, tc.Function.Arguments...)
			}
		}
		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flushCalls()
		}
	}
}

func convertOpenAIMessages(system string, messages []ChatMessage) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		m := openai.ChatCompletionMessage{Role: string(msg.Role)}

		switch msg.Role {
		case models.RoleTool:
			m.Role = openai.ChatMessageRoleTool
			m.ToolCallID = msg.ToolCallID
			m.Content = msg.Content
		case models.RoleAssistant:
			m.Content = msg.Content
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
		default:
			if parts := imageParts(msg.Attachments); len(parts) > 0 {
				if msg.Content != "" {
					parts = append([]openai.ChatMessagePart{{
						Type: openai.ChatMessagePartTypeText,
						Text: msg.Content,
					}}, parts...)
				}
				m.MultiContent = parts
			} else {
				m.Content = msg.Content
			}
		}
		out = append(out, m)
	}
	return out
}

func imageParts(attachments []models.Attachment) []openai.ChatMessagePart {
	var parts []openai.ChatMessagePart
	for _, att := range attachments {
		if att.Type != models.AttachmentImage || att.URL == "" {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: att.URL},
		})
	}
	return parts
}
