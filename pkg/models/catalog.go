package models

// Modality identifies an input or output media kind.
type Modality string

const (
	ModalityText     Modality = "text"
	ModalityImage    Modality = "image"
	ModalityAudio    Modality = "audio"
	ModalityVideo    Modality = "video"
	ModalityDocument Modality = "document"
)

// ModelDescriptor describes one catalog model. Descriptors are static for
// the life of the process.
type ModelDescriptor struct {
	// MatchingModel is the identifier sent to the upstream provider.
	MatchingModel string `json:"matching_model"`

	// Name is the catalog-facing model name.
	Name string `json:"name"`

	// Provider is the provider id (anthropic, openai, mistral, groq,
	// bedrock, ...).
	Provider string `json:"provider"`

	InputModalities  []Modality `json:"input_modalities"`
	OutputModalities []Modality `json:"output_modalities"`

	ContextWindow int `json:"context_window"`
	MaxTokens     int `json:"max_tokens"`

	// Costs are USD per 1k tokens.
	CostPer1kInputTokens  float64 `json:"cost_per_1k_input_tokens"`
	CostPer1kOutputTokens float64 `json:"cost_per_1k_output_tokens"`

	// Strengths lists capability tags (coding, reasoning, creative, ...)
	// matched against prompt requirements.
	Strengths []string `json:"strengths"`

	// ContextComplexity, Reliability, and Speed are 1..5 ratings. Speed 1
	// is fastest.
	ContextComplexity int `json:"context_complexity"`
	Reliability       int `json:"reliability"`
	Speed             int `json:"speed"`

	Multimodal              bool `json:"multimodal"`
	SupportsToolCalls       bool `json:"supports_tool_calls"`
	SupportsStreaming       bool `json:"supports_streaming"`
	SupportsDocuments       bool `json:"supports_documents"`
	SupportsSearchGrounding bool `json:"supports_search_grounding"`
	SupportsCodeExecution   bool `json:"supports_code_execution"`

	IsFree           bool `json:"is_free"`
	IsFeatured       bool `json:"is_featured"`
	IncludedInRouter bool `json:"included_in_router"`
	IsBeta           bool `json:"is_beta"`
}

// HasStrength reports whether the model carries the capability tag.
func (m *ModelDescriptor) HasStrength(tag string) bool {
	for _, s := range m.Strengths {
		if s == tag {
			return true
		}
	}
	return false
}

// CombinedCost is the summed per-1k input and output token cost, used for
// cost-effectiveness scoring and tie-breaking.
func (m *ModelDescriptor) CombinedCost() float64 {
	return m.CostPer1kInputTokens + m.CostPer1kOutputTokens
}

// PromptRequirements is the analyser's classification of a prompt, consumed
// by the router.
type PromptRequirements struct {
	// ExpectedComplexity is 1..5.
	ExpectedComplexity int `json:"expected_complexity"`

	// RequiredCapabilities are desirable capability tags; missing ones
	// only lower a model's score.
	RequiredCapabilities []string `json:"required_capabilities"`

	// CriticalCapabilities are mandatory: a model missing any is never
	// selected.
	CriticalCapabilities []string `json:"critical_capabilities"`

	EstimatedInputTokens  int `json:"estimated_input_tokens"`
	EstimatedOutputTokens int `json:"estimated_output_tokens"`

	NeedsFunctions bool `json:"needs_functions"`
	HasImages      bool `json:"has_images"`
	HasDocuments   bool `json:"has_documents"`

	BenefitsFromMultipleModels bool   `json:"benefits_from_multiple_models"`
	ModelComparisonReason      string `json:"model_comparison_reason,omitempty"`

	// BudgetConstraint is a USD cap for the turn. Zero means unconstrained.
	BudgetConstraint float64 `json:"budget_constraint,omitempty"`
}

// EstimatedCost returns the expected USD cost of serving these requirements
// on the given model.
func (r *PromptRequirements) EstimatedCost(m *ModelDescriptor) float64 {
	in := float64(r.EstimatedInputTokens) / 1000 * m.CostPer1kInputTokens
	out := float64(r.EstimatedOutputTokens) / 1000 * m.CostPer1kOutputTokens
	return in + out
}
