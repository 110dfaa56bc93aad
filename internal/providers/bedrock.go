package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/chorushq/chorus/pkg/models"
)

// BedrockProvider is the ChatProvider over AWS Bedrock, speaking the
// Anthropic messages payload format.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures the Bedrock provider.
type BedrockConfig struct {
	Region       string
	DefaultModel string
}

// NewBedrockProvider creates the provider using the ambient AWS credential
// chain.
func NewBedrockProvider(ctx context.Context, config BedrockConfig) (*BedrockProvider, error) {
	if config.Region == "" {
		return nil, fmt.Errorf("bedrock: region is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(cfg),
		defaultModel: config.DefaultModel,
	}, nil
}

// Name implements ChatProvider.
func (p *BedrockProvider) Name() string { return "bedrock" }

// bedrockPayload is the Anthropic-on-Bedrock request body.
type bedrockPayload struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type bedrockTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// bedrockEvent is the streamed Anthropic event envelope.
type bedrockEvent struct {
	Type    string `json:"type"`
	Message struct {
		ID    string `json:"id"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements ChatProvider.
func (p *BedrockProvider) Complete(ctx context.Context, req *ChatRequest) (<-chan *Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	payload := bedrockPayload{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           req.System,
		Messages:         convertBedrockMessages(req.Messages),
		Temperature:      req.Temperature,
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, bedrockTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal payload: %w", err)
	}

	out, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyUpstreamError(fmt.Errorf("bedrock: %w", err))
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		p.processStream(out, chunks)
	}()
	return chunks, nil
}

func (p *BedrockProvider) processStream(out *bedrockruntime.InvokeModelWithResponseStreamOutput, chunks chan<- *Chunk) {
	stream := out.GetStream()
	defer stream.Close()

	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int
	var logID string

	for raw := range stream.Events() {
		chunk, ok := raw.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		var event bedrockEvent
		if err := json.Unmarshal(chunk.Value.Bytes, &event); err != nil {
			chunks <- &Chunk{Err: fmt.Errorf("bedrock: decode event: %w", err)}
			return
		}

		switch event.Type {
		case "message_start":
			inputTokens = event.Message.Usage.InputTokens
			logID = event.Message.ID

		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				currentToolCall = &models.ToolCall{
					ID:   event.ContentBlock.ID,
					Name: event.ContentBlock.Name,
				}
				currentToolInput.Reset()
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					chunks <- &Chunk{Content: event.Delta.Text}
				}
			case "input_json_delta":
				currentToolInput.WriteString(event.Delta.PartialJSON)
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}

		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				outputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			chunks <- &Chunk{
				Done:  true,
				LogID: logID,
				Usage: &models.Usage{
					PromptTokens:     inputTokens,
					CompletionTokens: outputTokens,
					TotalTokens:      inputTokens + outputTokens,
				},
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Err: classifyUpstreamError(fmt.Errorf("bedrock: %w", err))}
	}
}

func convertBedrockMessages(messages []ChatMessage) []bedrockMessage {
	var out []bedrockMessage
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var blocks []bedrockBlock
		if msg.Role == models.RoleTool {
			blocks = append(blocks, bedrockBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			})
		} else if msg.Content != "" {
			blocks = append(blocks, bedrockBlock{Type: "text", Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			blocks = append(blocks, bedrockBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: tc.Input,
			})
		}
		if len(blocks) == 0 {
			continue
		}

		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "assistant"
		}
		out = append(out, bedrockMessage{Role: role, Content: blocks})
	}
	return out
}
