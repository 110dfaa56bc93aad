// Package providers implements the uniform invocation surface over the
// upstream AI APIs: chat, embeddings, image, speech, OCR, and research,
// with provider resolution and default-provider failover.
package providers

import (
	"context"
	"encoding/json"

	"github.com/chorushq/chorus/pkg/models"
)

// ChatMessage is one turn handed to a chat provider.
type ChatMessage struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolCallID  string
	Attachments []models.Attachment
}

// ToolDefinition describes a callable tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest is a provider-agnostic completion request. Model is the
// upstream (matching) model id.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Chunk is one streamed completion fragment. Exactly one of Content,
// ToolCall, Usage, Err is meaningful per chunk; Done marks the end of the
// stream.
type Chunk struct {
	Content  string
	ToolCall *models.ToolCall
	Usage    *models.Usage
	LogID    string
	Done     bool
	Err      error
}

// ChatProvider streams completions. The returned channel is closed when
// the stream ends; stream errors arrive as a final Chunk with Err set.
type ChatProvider interface {
	Name() string
	Complete(ctx context.Context, req *ChatRequest) (<-chan *Chunk, error)
}

// ImageProvider generates images from text.
type ImageProvider interface {
	Name() string
	GenerateImage(ctx context.Context, prompt string) (*MediaResult, error)
}

// SpeechProvider synthesises speech from text.
type SpeechProvider interface {
	Name() string
	GenerateSpeech(ctx context.Context, text string) (*MediaResult, error)
}

// MusicProvider generates audio tracks from text.
type MusicProvider interface {
	Name() string
	GenerateMusic(ctx context.Context, prompt string) (*MediaResult, error)
}

// VideoProvider generates video clips from text.
type VideoProvider interface {
	Name() string
	GenerateVideo(ctx context.Context, prompt string) (*MediaResult, error)
}

// OCRProvider extracts text from an image.
type OCRProvider interface {
	Name() string
	ExtractText(ctx context.Context, attachment models.Attachment) (string, error)
}

// ResearchProvider starts a long-running research task and returns an
// async handle immediately.
type ResearchProvider interface {
	Name() string
	StartResearch(ctx context.Context, query string) (*ResearchHandle, error)
}

// MediaResult is the outcome of an image or speech generation.
type MediaResult struct {
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ResearchHandle identifies an in-progress research task and how to poll
// it.
type ResearchHandle struct {
	Provider       string `json:"provider"`
	ID             string `json:"id"`
	PollIntervalMs int    `json:"pollIntervalMs"`
	PollURL        string `json:"poll_url"`
}

// CollectResponse drains a chunk stream into a single response. Used where
// streaming is not needed (delegation, aux-model calls).
type CollectedResponse struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     *models.Usage
	LogID     string
}

// Collect consumes the stream until it closes or errors.
func Collect(ctx context.Context, chunks <-chan *Chunk) (*CollectedResponse, error) {
	resp := &CollectedResponse{}
	var content []byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				resp.Content = string(content)
				return resp, nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Content != "" {
				content = append(content, chunk.Content...)
			}
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				if resp.Usage == nil {
					resp.Usage = &models.Usage{}
				}
				resp.Usage.Add(chunk.Usage)
			}
			if chunk.LogID != "" {
				resp.LogID = chunk.LogID
			}
		}
	}
}
