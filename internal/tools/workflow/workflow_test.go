package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chorushq/chorus/internal/tools"
)

// newRegistry builds a registry with the workflow tools plus small
// scripted helpers.
func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil, nil, nil, nil)
	Register(reg)

	reg.MustRegister(&tools.Descriptor{
		Name: "search",
		Handler: func(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
			q, _ := inv.Args["query"].(string)
			return &tools.Result{
				Status:  tools.StatusSuccess,
				Name:    "search",
				Content: "results for " + q,
				Data:    map[string]any{"hits": []any{"doc-1", "doc-2"}},
			}, nil
		},
	})
	reg.MustRegister(&tools.Descriptor{
		Name: "summarise",
		Handler: func(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
			src, _ := inv.Args["source"].(string)
			return tools.Success("summarise", "summary of "+src, nil), nil
		},
	})
	reg.MustRegister(&tools.Descriptor{
		Name: "always_fails",
		Handler: func(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
			return tools.Errorf("always_fails", "boom"), nil
		},
	})
	return reg
}

func dispatch(reg *tools.Registry, name string, args map[string]any) *tools.Result {
	return reg.Dispatch(context.Background(), &tools.Invocation{Name: name, Args: args})
}

func TestComposeResolvesOutputReferences(t *testing.T) {
	reg := newRegistry(t)
	result := dispatch(reg, "compose_functions", map[string]any{
		"steps": []any{
			map[string]any{
				"function":   "search",
				"args":       map[string]any{"query": "go generics"},
				"output_var": "search_results",
			},
			map[string]any{
				"function": "summarise",
				"args":     map[string]any{"source": "$search_results.content"},
			},
		},
	})
	if result.Status != tools.StatusSuccess {
		t.Fatalf("compose failed: %+v", result)
	}
	steps := result.Data["steps"].([]map[string]any)
	if got := steps[1]["content"]; got != "summary of results for go generics" {
		t.Fatalf("reference not resolved: %v", got)
	}
}

func TestComposeUnresolvedReferenceFails(t *testing.T) {
	reg := newRegistry(t)
	result := dispatch(reg, "compose_functions", map[string]any{
		"steps": []any{
			map[string]any{
				"function": "summarise",
				"args":     map[string]any{"source": "$missing.content"},
			},
		},
	})
	if result.Status != tools.StatusError || !strings.Contains(result.Content, "unresolved reference") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestComposeOnErrorStopAndSkip(t *testing.T) {
	reg := newRegistry(t)

	stop := dispatch(reg, "compose_functions", map[string]any{
		"steps": []any{
			map[string]any{"function": "always_fails"},
			map[string]any{"function": "search", "args": map[string]any{"query": "x"}},
		},
	})
	if stop.Status != tools.StatusError {
		t.Fatalf("stop run should fail: %+v", stop)
	}

	skip := dispatch(reg, "compose_functions", map[string]any{
		"steps": []any{
			map[string]any{"function": "always_fails", "on_error": "skip"},
			map[string]any{"function": "search", "args": map[string]any{"query": "x"}},
		},
	})
	if skip.Status != tools.StatusSuccess {
		t.Fatalf("skip run should succeed: %+v", skip)
	}
}

func TestComposeStepLimit(t *testing.T) {
	reg := newRegistry(t)
	var steps []any
	for i := 0; i <= MaxWorkflowSteps; i++ {
		steps = append(steps, map[string]any{"function": "search", "args": map[string]any{"query": "x"}})
	}
	result := dispatch(reg, "compose_functions", map[string]any{"steps": steps})
	if result.Status != tools.StatusError || !strings.Contains(result.Content, "step limit") {
		t.Fatalf("step limit not enforced: %+v", result)
	}
}

func TestIfThenElseBranching(t *testing.T) {
	reg := newRegistry(t)
	reg.MustRegister(&tools.Descriptor{
		Name: "is_ready",
		Handler: func(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
			return &tools.Result{
				Status: tools.StatusSuccess,
				Data:   map[string]any{"result": inv.Args["want"]},
			}, nil
		},
	})

	run := func(want any) *tools.Result {
		return dispatch(reg, "if_then_else", map[string]any{
			"condition":  []any{map[string]any{"function": "is_ready", "args": map[string]any{"want": want}}},
			"then_steps": []any{map[string]any{"function": "search", "args": map[string]any{"query": "then"}}},
			"else_steps": []any{map[string]any{"function": "summarise", "args": map[string]any{"source": "else"}}},
		})
	}

	thenResult := run(true)
	if thenResult.Status != tools.StatusSuccess || thenResult.Data["condition"] != true {
		t.Fatalf("then branch: %+v", thenResult)
	}
	elseResult := run(false)
	if elseResult.Status != tools.StatusSuccess || elseResult.Data["condition"] != false {
		t.Fatalf("else branch: %+v", elseResult)
	}
	// String booleans coerce too.
	if r := run("true"); r.Data["condition"] != true {
		t.Fatalf("string coercion: %+v", r)
	}
}

func TestIfThenElseUncoercibleCondition(t *testing.T) {
	reg := newRegistry(t)
	result := dispatch(reg, "if_then_else", map[string]any{
		"condition":  []any{map[string]any{"function": "search", "args": map[string]any{"query": "x"}}},
		"then_steps": []any{},
	})
	if result.Status != tools.StatusError || !strings.Contains(result.Content, "not a boolean") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestParallelExecuteCollectsAll(t *testing.T) {
	reg := newRegistry(t)
	result := dispatch(reg, "parallel_execute", map[string]any{
		"tasks": []any{
			map[string]any{"function": "search", "args": map[string]any{"query": "a"}},
			map[string]any{"function": "search", "args": map[string]any{"query": "b"}},
			map[string]any{"function": "always_fails"},
		},
	})
	if result.Status != tools.StatusError || !strings.Contains(result.Content, "1 of 3") {
		t.Fatalf("unexpected result: %+v", result)
	}
	entries := result.Data["results"].([]map[string]any)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Results keep task order despite concurrency.
	if entries[0]["function"] != "search" || entries[2]["function"] != "always_fails" {
		t.Fatalf("order lost: %v", entries)
	}
}

func TestParallelExecuteTaskLimit(t *testing.T) {
	reg := newRegistry(t)
	var steps []any
	for i := 0; i <= MaxParallelTasks; i++ {
		steps = append(steps, map[string]any{"function": "search"})
	}
	result := dispatch(reg, "parallel_execute", map[string]any{"tasks": steps})
	if result.Status != tools.StatusError {
		t.Fatalf("task limit not enforced: %+v", result)
	}
}

func TestRetryWithBackoffSucceedsAfterFailures(t *testing.T) {
	reg := newRegistry(t)
	calls := 0
	reg.MustRegister(&tools.Descriptor{
		Name: "flaky",
		Handler: func(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
			calls++
			if calls < 3 {
				return tools.Errorf("flaky", "transient"), nil
			}
			return tools.Success("flaky", "finally", nil), nil
		},
	})

	var delays []time.Duration
	orig := sleeper
	sleeper = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	defer func() { sleeper = orig }()

	result := dispatch(reg, "retry_with_backoff", map[string]any{
		"function":       "flaky",
		"max_attempts":   float64(5),
		"backoff_factor": float64(2),
		"max_backoff":    float64(5),
	})
	if result.Status != tools.StatusSuccess || result.Content != "finally" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	// delay = min(factor * 2^(n-1), max): 2s then 4s.
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("delays = %v", delays)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	reg := newRegistry(t)
	orig := sleeper
	sleeper = func(context.Context, time.Duration) error { return nil }
	defer func() { sleeper = orig }()

	result := dispatch(reg, "retry_with_backoff", map[string]any{
		"function":     "always_fails",
		"max_attempts": float64(99), // clamps to 10
	})
	if result.Status != tools.StatusError {
		t.Fatalf("unexpected result: %+v", result)
	}
	attempts := result.Data["attempts"].([]map[string]any)
	if len(attempts) != MaxRetryAttempts {
		t.Fatalf("attempts = %d, want %d", len(attempts), MaxRetryAttempts)
	}
}

func TestFallbackPrimaryThenSecondary(t *testing.T) {
	reg := newRegistry(t)

	ok := dispatch(reg, "fallback", map[string]any{
		"primary":  []any{map[string]any{"function": "search", "args": map[string]any{"query": "x"}}},
		"fallback": []any{map[string]any{"function": "summarise", "args": map[string]any{"source": "y"}}},
	})
	if ok.Status != tools.StatusSuccess || ok.Data["used"] != "primary" {
		t.Fatalf("primary path: %+v", ok)
	}

	rescued := dispatch(reg, "fallback", map[string]any{
		"primary":  []any{map[string]any{"function": "always_fails"}},
		"fallback": []any{map[string]any{"function": "summarise", "args": map[string]any{"source": "y"}}},
	})
	if rescued.Status != tools.StatusSuccess || rescued.Data["used"] != "fallback" {
		t.Fatalf("fallback path: %+v", rescued)
	}

	doomed := dispatch(reg, "fallback", map[string]any{
		"primary":  []any{map[string]any{"function": "always_fails"}},
		"fallback": []any{map[string]any{"function": "always_fails"}},
	})
	if doomed.Status != tools.StatusError || !strings.Contains(doomed.Content, "fallback failed") {
		t.Fatalf("both-fail path: %+v", doomed)
	}
}
