package providers

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chorushq/chorus/pkg/models"
)

// OpenAIMediaProvider serves the image, speech, and OCR capabilities
// through the OpenAI API.
type OpenAIMediaProvider struct {
	client *openai.Client
	name   string
}

// NewOpenAIMediaProvider creates the media provider.
func NewOpenAIMediaProvider(apiKey, baseURL string) (*OpenAIMediaProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai media: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIMediaProvider{client: openai.NewClientWithConfig(cfg), name: "openai"}, nil
}

// Name implements the capability provider interfaces.
func (p *OpenAIMediaProvider) Name() string { return p.name }

// GenerateImage implements ImageProvider.
func (p *OpenAIMediaProvider) GenerateImage(ctx context.Context, prompt string) (*MediaResult, error) {
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE3,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, classifyUpstreamError(fmt.Errorf("openai image: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai image: empty response")
	}
	return &MediaResult{URL: resp.Data[0].URL, MimeType: "image/png"}, nil
}

// GenerateSpeech implements SpeechProvider.
func (p *OpenAIMediaProvider) GenerateSpeech(ctx context.Context, text string) (*MediaResult, error) {
	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.TTSModel1,
		Input: text,
		Voice: openai.VoiceAlloy,
	})
	if err != nil {
		return nil, classifyUpstreamError(fmt.Errorf("openai speech: %w", err))
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("openai speech: read response: %w", err)
	}
	return &MediaResult{Data: data, MimeType: "audio/mpeg"}, nil
}

// ExtractText implements OCRProvider by running the attachment through a
// vision-capable chat model.
func (p *OpenAIMediaProvider) ExtractText(ctx context.Context, attachment models.Attachment) (string, error) {
	if attachment.Type != models.AttachmentImage || attachment.URL == "" {
		return "", fmt.Errorf("openai ocr: attachment must be an image with a URL")
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: "Extract every piece of text visible in this image. Respond with the text only.",
				},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: attachment.URL},
				},
			},
		}},
	})
	if err != nil {
		return "", classifyUpstreamError(fmt.Errorf("openai ocr: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai ocr: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
