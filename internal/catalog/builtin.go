package catalog

import "github.com/chorushq/chorus/pkg/models"

// builtinModels is the static catalog. Ratings are 1..5; Speed 1 is
// fastest. Costs are USD per 1k tokens.
func builtinModels() []*models.ModelDescriptor {
	return []*models.ModelDescriptor{
		{
			MatchingModel:         "claude-sonnet-4-20250514",
			Name:                  "claude-sonnet",
			Provider:              "anthropic",
			InputModalities:       []models.Modality{models.ModalityText, models.ModalityImage, models.ModalityDocument},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         200000,
			MaxTokens:             64000,
			CostPer1kInputTokens:  0.003,
			CostPer1kOutputTokens: 0.015,
			Strengths:             []string{"reasoning", "coding", "creative", "general_knowledge", "analysis"},
			ContextComplexity:     5,
			Reliability:           5,
			Speed:                 3,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			SupportsDocuments:     true,
			IsFeatured:            true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "claude-3-5-haiku-20241022",
			Name:                  "claude-haiku",
			Provider:              "anthropic",
			InputModalities:       []models.Modality{models.ModalityText, models.ModalityImage},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         200000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0.0008,
			CostPer1kOutputTokens: 0.004,
			Strengths:             []string{"general_knowledge", "summarisation", "coding"},
			ContextComplexity:     3,
			Reliability:           4,
			Speed:                 1,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "gpt-4o",
			Name:                  "gpt-4o",
			Provider:              "openai",
			InputModalities:       []models.Modality{models.ModalityText, models.ModalityImage, models.ModalityAudio},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         128000,
			MaxTokens:             16384,
			CostPer1kInputTokens:  0.0025,
			CostPer1kOutputTokens: 0.01,
			Strengths:             []string{"reasoning", "coding", "creative", "general_knowledge", "vision"},
			ContextComplexity:     4,
			Reliability:           5,
			Speed:                 2,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			SupportsDocuments:     true,
			IsFeatured:            true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "gpt-4o-mini",
			Name:                  "gpt-4o-mini",
			Provider:              "openai",
			InputModalities:       []models.Modality{models.ModalityText, models.ModalityImage},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         128000,
			MaxTokens:             16384,
			CostPer1kInputTokens:  0.00015,
			CostPer1kOutputTokens: 0.0006,
			Strengths:             []string{"general_knowledge", "summarisation"},
			ContextComplexity:     2,
			Reliability:           4,
			Speed:                 1,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "mistral-large-latest",
			Name:                  "mistral-large",
			Provider:              "mistral",
			InputModalities:       []models.Modality{models.ModalityText},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         128000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0.002,
			CostPer1kOutputTokens: 0.006,
			Strengths:             []string{"reasoning", "coding", "general_knowledge", "multilingual"},
			ContextComplexity:     4,
			Reliability:           4,
			Speed:                 2,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IsFree:                true,
			IsFeatured:            true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "mistral-small-latest",
			Name:                  "mistral-small",
			Provider:              "mistral",
			InputModalities:       []models.Modality{models.ModalityText},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         32000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0.0002,
			CostPer1kOutputTokens: 0.0006,
			Strengths:             []string{"general_knowledge", "summarisation"},
			ContextComplexity:     2,
			Reliability:           4,
			Speed:                 1,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IsFree:                true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "llama-3.3-70b-versatile",
			Name:                  "llama-70b",
			Provider:              "groq",
			InputModalities:       []models.Modality{models.ModalityText},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         128000,
			MaxTokens:             32768,
			CostPer1kInputTokens:  0.00059,
			CostPer1kOutputTokens: 0.00079,
			Strengths:             []string{"general_knowledge", "creative", "coding"},
			ContextComplexity:     3,
			Reliability:           3,
			Speed:                 1,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IsFree:                true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "anthropic.claude-3-5-sonnet-20241022-v2:0",
			Name:                  "bedrock-claude-sonnet",
			Provider:              "bedrock",
			InputModalities:       []models.Modality{models.ModalityText, models.ModalityImage},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         200000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0.003,
			CostPer1kOutputTokens: 0.015,
			Strengths:             []string{"reasoning", "coding", "analysis", "general_knowledge"},
			ContextComplexity:     4,
			Reliability:           4,
			Speed:                 3,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IncludedInRouter:      false,
		},
		{
			MatchingModel:         "o4-mini",
			Name:                  "o4-mini",
			Provider:              "openai",
			InputModalities:       []models.Modality{models.ModalityText},
			OutputModalities:      []models.Modality{models.ModalityText},
			ContextWindow:         200000,
			MaxTokens:             100000,
			CostPer1kInputTokens:  0.0011,
			CostPer1kOutputTokens: 0.0044,
			Strengths:             []string{"reasoning", "math", "coding"},
			ContextComplexity:     5,
			Reliability:           4,
			Speed:                 4,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IsBeta:                true,
			IncludedInRouter:      false,
		},
	}
}
