// Package guardrails checks assistant output against a configurable policy
// of blocked patterns and substitutes a safe fallback on violation.
package guardrails

import (
	"context"
	"regexp"
	"strings"

	"github.com/chorushq/chorus/internal/monitoring"
	"github.com/chorushq/chorus/internal/observability"
)

// SafeFallback replaces output that violates the policy.
const SafeFallback = "I can't help with that request. Let me know if there is something else I can do for you."

// Rule is one blocked pattern with a label for metrics.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Policy is an ordered list of rules. An empty policy passes everything.
type Policy struct {
	rules   []Rule
	logger  *observability.Logger
	metrics *observability.Metrics
	sink    monitoring.Sink
}

// NewPolicy compiles the named patterns. Invalid patterns are an error so
// a typo cannot silently disable a rule.
func NewPolicy(patterns map[string]string, logger *observability.Logger, metrics *observability.Metrics, sink monitoring.Sink) (*Policy, error) {
	p := &Policy{logger: logger, metrics: metrics, sink: sink}
	for name, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, err
		}
		p.rules = append(p.rules, Rule{Name: name, Pattern: re})
	}
	return p, nil
}

// DefaultPolicy blocks the output classes the assistant must never emit
// verbatim regardless of deployment configuration.
func DefaultPolicy(logger *observability.Logger, metrics *observability.Metrics, sink monitoring.Sink) *Policy {
	p, _ := NewPolicy(map[string]string{
		"api_key_leak":  `(sk|rk)-[a-z0-9\-_]{20,}`,
		"aws_key_leak":  `AKIA[0-9A-Z]{16}`,
		"system_prompt": `my system prompt is`,
	}, logger, metrics, sink)
	return p
}

// Check validates content against the policy. On violation it records the
// triggered rule and returns the safe fallback with ok=false; otherwise it
// returns the content unchanged with ok=true.
func (p *Policy) Check(ctx context.Context, content string) (string, bool) {
	if p == nil {
		return content, true
	}
	for _, rule := range p.rules {
		if rule.Pattern.MatchString(content) {
			p.trigger(ctx, rule.Name)
			return SafeFallback, false
		}
	}
	return content, true
}

func (p *Policy) trigger(ctx context.Context, rule string) {
	if p.logger != nil {
		p.logger.Warn(ctx, "guardrail triggered", "rule", rule)
	}
	if p.metrics != nil {
		p.metrics.RecordGuardrailTrigger(rule)
	}
	monitoring.Emit(ctx, p.sink, monitoring.Metric{
		Type:   monitoring.TypeGuardrail,
		Name:   "guardrail." + rule,
		Value:  1,
		Status: monitoring.StatusError,
		Metadata: map[string]any{
			"rule": rule,
		},
	})
}

// RuleNames lists the configured rules, for diagnostics.
func (p *Policy) RuleNames() []string {
	names := make([]string, 0, len(p.rules))
	for _, r := range p.rules {
		names = append(names, r.Name)
	}
	return names
}

// Redact masks any blocked spans in content instead of replacing the whole
// message, for log sinks.
func (p *Policy) Redact(content string) string {
	if p == nil {
		return content
	}
	out := content
	for _, rule := range p.rules {
		out = rule.Pattern.ReplaceAllStringFunc(out, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}
	return out
}
