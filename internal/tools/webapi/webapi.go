// Package webapi implements the call_api tool: a single outbound REST or
// GraphQL call with SSRF protection and bounded timeouts.
package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chorushq/chorus/internal/netguard"
	"github.com/chorushq/chorus/internal/tools"
)

const (
	// DefaultTimeout applies when the caller specifies none.
	DefaultTimeout = 15 * time.Second

	// MaxTimeout caps caller-specified timeouts.
	MaxTimeout = 60 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 * 1024 * 1024
)

// Client is the tool's HTTP dependency, swapped in tests.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// Register adds call_api backed by the given client. A nil client uses a
// default http.Client.
func Register(reg *tools.Registry, client Client) {
	if client == nil {
		client = &http.Client{}
	}
	reg.MustRegister(&tools.Descriptor{
		Name:        "call_api",
		Description: "Perform a single HTTP REST or GraphQL request against a public endpoint.",
		Type:        tools.TypeNormal,
		Handler: func(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
			return callAPI(ctx, client, inv)
		},
	})
}

func callAPI(ctx context.Context, client Client, inv *tools.Invocation) (*tools.Result, error) {
	rawURL, _ := inv.Args["url"].(string)
	if rawURL == "" {
		return tools.Errorf(inv.Name, "url is required"), nil
	}

	if err := netguard.ValidateURL(rawURL); err != nil {
		if errors.Is(err, netguard.ErrBlocked) {
			return tools.Errorf(inv.Name, "%s", netguard.ErrBlocked.Error()), nil
		}
		return tools.Errorf(inv.Name, "invalid url: %v", err), nil
	}

	method := strings.ToUpper(stringArg(inv.Args, "method", http.MethodGet))
	timeout := timeoutArg(inv.Args)

	var body io.Reader
	contentType := ""
	if graphql, ok := inv.Args["graphql"].(map[string]any); ok {
		payload := map[string]any{"query": graphql["query"]}
		if v, ok := graphql["variables"]; ok {
			payload["variables"] = v
		}
		if op, ok := graphql["operationName"]; ok {
			payload["operationName"] = op
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return tools.Errorf(inv.Name, "invalid graphql payload: %v", err), nil
		}
		method = http.MethodPost
		body = bytes.NewReader(raw)
		contentType = "application/json"
	} else if rawBody, ok := inv.Args["body"]; ok && rawBody != nil {
		if method == http.MethodGet {
			return tools.Errorf(inv.Name, "GET requests may not carry a body"), nil
		}
		raw, err := json.Marshal(rawBody)
		if err != nil {
			return tools.Errorf(inv.Name, "invalid body: %v", err), nil
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return tools.Errorf(inv.Name, "build request: %v", err), nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := inv.Args["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return tools.Errorf(inv.Name, "request failed: %v", err), nil
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return tools.Errorf(inv.Name, "read response: %v", err), nil
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
	}
	if isJSONContentType(resp.Header.Get("Content-Type")) {
		var parsed any
		if json.Unmarshal(rawBody, &parsed) == nil {
			data["body"] = parsed
		} else {
			data["body"] = string(rawBody)
		}
	} else {
		data["body"] = string(rawBody)
	}

	status := tools.StatusSuccess
	content := fmt.Sprintf("HTTP %d from %s %s", resp.StatusCode, method, rawURL)
	if resp.StatusCode >= 400 {
		status = tools.StatusError
	}
	return &tools.Result{Status: status, Name: inv.Name, Content: content, Data: data}, nil
}

func timeoutArg(args map[string]any) time.Duration {
	seconds := 0.0
	switch v := args["timeout_seconds"].(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	}
	if seconds <= 0 {
		return DefaultTimeout
	}
	d := time.Duration(seconds * float64(time.Second))
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

func stringArg(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return def
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key := range h {
		out[key] = h.Get(key)
	}
	return out
}
