package webapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chorushq/chorus/internal/tools"
)

type scriptedClient struct {
	lastReq *http.Request
	status  int
	body    string
	ct      string
}

func (c *scriptedClient) Do(req *http.Request) (*http.Response, error) {
	c.lastReq = req
	header := http.Header{}
	header.Set("Content-Type", c.ct)
	return &http.Response{
		StatusCode: c.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(c.body)),
	}, nil
}

func newRegistry(t *testing.T, client Client) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil, nil, nil, nil)
	Register(reg, client)
	return reg
}

func call(reg *tools.Registry, args map[string]any) *tools.Result {
	return reg.Dispatch(context.Background(), &tools.Invocation{Name: "call_api", Args: args})
}

func TestCallAPIRefusesPrivateURL(t *testing.T) {
	client := &scriptedClient{status: 200}
	reg := newRegistry(t, client)

	result := call(reg, map[string]any{"url": "http://127.0.0.1/x"})
	if result.Status != tools.StatusError {
		t.Fatalf("private URL accepted: %+v", result)
	}
	if result.Content != "Private or local network URLs are not allowed" {
		t.Fatalf("wrong refusal message: %q", result.Content)
	}
	if client.lastReq != nil {
		t.Fatal("request was sent despite refusal")
	}
}

func TestCallAPIRefusesNonHTTPScheme(t *testing.T) {
	reg := newRegistry(t, &scriptedClient{status: 200})
	result := call(reg, map[string]any{"url": "ftp://example.com/file"})
	if result.Status != tools.StatusError {
		t.Fatalf("ftp accepted: %+v", result)
	}
}

func TestCallAPIParsesJSONResponse(t *testing.T) {
	client := &scriptedClient{status: 200, body: `{"answer": 42}`, ct: "application/json; charset=utf-8"}
	reg := newRegistry(t, client)

	result := call(reg, map[string]any{"url": "https://1.1.1.1/api"})
	if result.Status != tools.StatusSuccess {
		t.Fatalf("call failed: %+v", result)
	}
	body, ok := result.Data["body"].(map[string]any)
	if !ok || body["answer"] != float64(42) {
		t.Fatalf("JSON not parsed: %+v", result.Data)
	}
	if result.Data["status_code"] != 200 {
		t.Fatalf("status code missing: %+v", result.Data)
	}
}

func TestCallAPITextResponseLeftAsString(t *testing.T) {
	client := &scriptedClient{status: 200, body: "plain text", ct: "text/plain"}
	reg := newRegistry(t, client)

	result := call(reg, map[string]any{"url": "https://1.1.1.1/raw"})
	if result.Data["body"] != "plain text" {
		t.Fatalf("text body altered: %+v", result.Data)
	}
}

func TestCallAPIGraphQLPostsPayload(t *testing.T) {
	client := &scriptedClient{status: 200, body: `{}`, ct: "application/json"}
	reg := newRegistry(t, client)

	result := call(reg, map[string]any{
		"url": "https://1.1.1.1/graphql",
		"graphql": map[string]any{
			"query":         "query { viewer { login } }",
			"variables":     map[string]any{"first": 10},
			"operationName": "Viewer",
		},
	})
	if result.Status != tools.StatusSuccess {
		t.Fatalf("graphql call failed: %+v", result)
	}
	if client.lastReq.Method != http.MethodPost {
		t.Fatalf("method = %s, want POST", client.lastReq.Method)
	}
	if ct := client.lastReq.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	raw, _ := io.ReadAll(client.lastReq.Body)
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal request body: %v", err)
	}
	if payload["query"] == "" || payload["operationName"] != "Viewer" {
		t.Fatalf("bad graphql payload: %+v", payload)
	}
}

func TestCallAPIGetMayNotCarryBody(t *testing.T) {
	reg := newRegistry(t, &scriptedClient{status: 200})
	result := call(reg, map[string]any{
		"url":  "https://1.1.1.1/api",
		"body": map[string]any{"x": 1},
	})
	if result.Status != tools.StatusError || !strings.Contains(result.Content, "GET requests") {
		t.Fatalf("GET body accepted: %+v", result)
	}
}

func TestCallAPIErrorStatusReported(t *testing.T) {
	client := &scriptedClient{status: 503, body: "unavailable", ct: "text/plain"}
	reg := newRegistry(t, client)

	result := call(reg, map[string]any{"url": "https://1.1.1.1/api"})
	if result.Status != tools.StatusError {
		t.Fatalf("5xx reported as success: %+v", result)
	}
	if result.Data["status_code"] != 503 {
		t.Fatalf("status code missing: %+v", result.Data)
	}
}

func TestTimeoutClamping(t *testing.T) {
	if d := timeoutArg(map[string]any{}); d != DefaultTimeout {
		t.Errorf("default timeout = %v", d)
	}
	if d := timeoutArg(map[string]any{"timeout_seconds": float64(120)}); d != MaxTimeout {
		t.Errorf("cap not applied: %v", d)
	}
	if d := timeoutArg(map[string]any{"timeout_seconds": float64(5)}); d != 5*time.Second {
		t.Errorf("explicit timeout = %v", d)
	}
}
