package analyser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// chatEnvelope covers the two wrapper shapes small models sometimes emit
// instead of the bare object: an OpenAI-style completion envelope, or a
// {"response": "..."} wrapper.
type chatEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Response string `json:"response"`
}

// ExtractJSONObject pulls a single JSON object out of a model reply. It
// strips markdown code fences, unwraps completion envelopes, and as a last
// resort extracts the first balanced {...} span.
func ExtractJSONObject(reply string) (string, error) {
	text := StripCodeFences(reply)

	if json.Valid([]byte(text)) {
		var env chatEnvelope
		if err := json.Unmarshal([]byte(text), &env); err == nil {
			if len(env.Choices) > 0 && env.Choices[0].Message.Content != "" {
				return ExtractJSONObject(env.Choices[0].Message.Content)
			}
			if env.Response != "" && env.Response != text {
				return ExtractJSONObject(env.Response)
			}
		}
		if strings.HasPrefix(strings.TrimSpace(text), "{") {
			return strings.TrimSpace(text), nil
		}
	}

	if span := balancedObject(text); span != "" && json.Valid([]byte(span)) {
		return span, nil
	}
	return "", fmt.Errorf("no JSON object in reply")
}

// StripCodeFences removes a surrounding ```json ... ``` (or plain ```)
// fence if present.
func StripCodeFences(s string) string {
	text := strings.TrimSpace(s)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// Drop the language tag line.
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// balancedObject returns the first balanced top-level {...} span, tracking
// string literals so braces inside them do not count.
func balancedObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
