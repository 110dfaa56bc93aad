package captcha

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/chorushq/chorus/internal/config"
)

func verifier(t *testing.T, handler http.HandlerFunc) *Verifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(config.CaptchaConfig{
		VerifyURL: server.URL,
		Secret:    "shhh",
		SiteKey:   "site-1",
	}, nil, nil)
}

func TestVerifySuccess(t *testing.T) {
	var form url.Values
	v := verifier(t, func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Write([]byte(`{"success":true}`))
	})

	result := v.Verify(context.Background(), "tok-123")
	if !result.Verified || result.Error != "" {
		t.Fatalf("result = %+v", result)
	}
	if form.Get("secret") != "shhh" || form.Get("response") != "tok-123" || form.Get("sitekey") != "site-1" {
		t.Fatalf("form = %v", form)
	}
}

func TestVerifyHTTPError(t *testing.T) {
	v := verifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	result := v.Verify(context.Background(), "tok")
	if result.Verified {
		t.Fatal("verified on HTTP error")
	}
	if result.Error != "HTTP error 502: Bad Gateway" {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestVerifyRejectedWithCodes(t *testing.T) {
	v := verifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response","timeout-or-duplicate"]}`))
	})

	result := v.Verify(context.Background(), "tok")
	if result.Verified || result.Error != "invalid-input-response, timeout-or-duplicate" {
		t.Fatalf("result = %+v", result)
	}
}

func TestVerifyRejectedWithoutCodes(t *testing.T) {
	v := verifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	})

	result := v.Verify(context.Background(), "tok")
	if result.Verified || result.Error != "Unknown verification error" {
		t.Fatalf("result = %+v", result)
	}
}

func TestVerifyMissingToken(t *testing.T) {
	v := New(config.CaptchaConfig{VerifyURL: "http://unused"}, nil, nil)
	if result := v.Verify(context.Background(), ""); result.Verified {
		t.Fatal("empty token verified")
	}
}
