package analyser

import (
	"context"
	"errors"
	"testing"

	"github.com/chorushq/chorus/pkg/models"
)

type scriptedCompleter struct {
	reply string
	err   error
}

func (s *scriptedCompleter) Complete(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

var testCapabilities = []string{"coding", "reasoning", "creative", "vision", "general_knowledge"}

func TestAnalyzeParsesCleanJSON(t *testing.T) {
	aux := &scriptedCompleter{reply: `{
		"expected_complexity": 4,
		"required_capabilities": ["coding"],
		"critical_capabilities": [],
		"estimated_input_tokens": 120,
		"estimated_output_tokens": 600,
		"needs_functions": true
	}`}
	a := New(aux, testCapabilities, nil, nil)

	req, err := a.Analyze(context.Background(), "please debug this function", nil, 0, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if req.ExpectedComplexity != 4 {
		t.Errorf("complexity = %d, want 4", req.ExpectedComplexity)
	}
	if req.EstimatedInputTokens != 120 || req.EstimatedOutputTokens != 600 {
		t.Errorf("token estimates = %d/%d", req.EstimatedInputTokens, req.EstimatedOutputTokens)
	}
	if !req.NeedsFunctions {
		t.Error("needs_functions not carried over")
	}
	if !hasCap(req.RequiredCapabilities, "coding") {
		t.Errorf("required capabilities = %v, want coding", req.RequiredCapabilities)
	}
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	aux := &scriptedCompleter{reply: "```json\n{\"expected_complexity\": 2, \"required_capabilities\": [\"reasoning\"], \"critical_capabilities\": []}\n```"}
	a := New(aux, testCapabilities, nil, nil)

	req, err := a.Analyze(context.Background(), "explain why the sky is blue", nil, 0, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if req.ExpectedComplexity != 2 {
		t.Errorf("complexity = %d, want 2", req.ExpectedComplexity)
	}
}

func TestAnalyzeExtractsEmbeddedObject(t *testing.T) {
	aux := &scriptedCompleter{reply: `Here is my analysis: {"expected_complexity": 9, "required_capabilities": [], "critical_capabilities": []} hope that helps`}
	a := New(aux, testCapabilities, nil, nil)

	req, err := a.Analyze(context.Background(), "hello", nil, 0, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// Complexity clamps to the 1..5 scale.
	if req.ExpectedComplexity != 5 {
		t.Errorf("complexity = %d, want 5", req.ExpectedComplexity)
	}
}

func TestAnalyzeUnwrapsCompletionEnvelope(t *testing.T) {
	aux := &scriptedCompleter{reply: `{"choices":[{"message":{"content":"{\"expected_complexity\":3,\"required_capabilities\":[\"creative\"],\"critical_capabilities\":[]}"}}]}`}
	a := New(aux, testCapabilities, nil, nil)

	req, err := a.Analyze(context.Background(), "write a poem", nil, 0, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if req.ExpectedComplexity != 3 || !hasCap(req.RequiredCapabilities, "creative") {
		t.Errorf("unexpected requirements: %+v", req)
	}
}

func TestAnalyzeMissingCapabilityListsFails(t *testing.T) {
	aux := &scriptedCompleter{reply: `{"expected_complexity": 3}`}
	a := New(aux, testCapabilities, nil, nil)

	_, err := a.Analyze(context.Background(), "hello", nil, 0, nil)
	if !errors.Is(err, ErrInvalidAIAnalysis) {
		t.Fatalf("err = %v, want ErrInvalidAIAnalysis", err)
	}
}

func TestAnalyzeAuxFailurePropagates(t *testing.T) {
	aux := &scriptedCompleter{err: errors.New("model down")}
	a := New(aux, testCapabilities, nil, nil)

	if _, err := a.Analyze(context.Background(), "hello", nil, 0, nil); err == nil {
		t.Fatal("expected error when the auxiliary model fails")
	}
}

func TestAnalyzeAttachmentsAndBudget(t *testing.T) {
	aux := &scriptedCompleter{reply: `{"expected_complexity": 1, "required_capabilities": [], "critical_capabilities": []}`}
	a := New(aux, testCapabilities, nil, nil)

	atts := []models.Attachment{
		{Type: models.AttachmentImage},
		{Type: models.AttachmentDocument},
	}
	req, err := a.Analyze(context.Background(), "describe this", atts, 0.05, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !req.HasImages || !req.HasDocuments {
		t.Errorf("attachment flags = images:%v documents:%v", req.HasImages, req.HasDocuments)
	}
	if !hasCap(req.CriticalCapabilities, "vision") {
		t.Errorf("image attachment should make vision critical: %v", req.CriticalCapabilities)
	}
	if req.BudgetConstraint != 0.05 {
		t.Errorf("budget = %v, want 0.05", req.BudgetConstraint)
	}
}

func TestKeywordCategories(t *testing.T) {
	a := New(nil, testCapabilities, nil, nil)
	hits := a.keywordCategories("Please write a short story and explain why it works")
	if !hasCap(hits, "creative") || !hasCap(hits, "reasoning") {
		t.Errorf("hits = %v, want creative and reasoning", hits)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("EstimateTokens = %d, want 2", got)
	}
}

func hasCap(list []string, want string) bool {
	for _, c := range list {
		if c == want {
			return true
		}
	}
	return false
}
