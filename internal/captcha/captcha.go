// Package captcha verifies human-verification tokens against the
// configured provider (Turnstile-compatible wire contract).
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chorushq/chorus/internal/config"
	"github.com/chorushq/chorus/internal/observability"
)

// Result is the outcome of one token verification.
type Result struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// Doer is the HTTP surface the verifier needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Verifier checks tokens against the provider endpoint.
type Verifier struct {
	cfg    config.CaptchaConfig
	client Doer
	logger *observability.Logger
}

// New creates a verifier. A nil client uses http.DefaultClient.
func New(cfg config.CaptchaConfig, client Doer, logger *observability.Logger) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{cfg: cfg, client: client, logger: logger}
}

// verifyResponse is the provider's wire shape.
type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the token to the provider. Transport and provider errors
// come back as an unverified Result, never as a Go error: callers treat
// verification as a yes/no gate.
func (v *Verifier) Verify(ctx context.Context, token string) Result {
	if token == "" {
		return Result{Verified: false, Error: "missing captcha token"}
	}

	form := url.Values{}
	form.Set("secret", v.cfg.Secret)
	form.Set("response", token)
	form.Set("sitekey", v.cfg.SiteKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{Verified: false, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		if v.logger != nil {
			v.logger.Warn(ctx, "captcha verification request failed", "error", err)
		}
		return Result{Verified: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Verified: false,
			Error:    fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Verified: false, Error: fmt.Sprintf("invalid verifier response: %v", err)}
	}
	if !body.Success {
		msg := strings.Join(body.ErrorCodes, ", ")
		if msg == "" {
			msg = "Unknown verification error"
		}
		return Result{Verified: false, Error: msg}
	}
	return Result{Verified: true}
}
