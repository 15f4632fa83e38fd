package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func completionBody(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"content": content,
				},
			},
		},
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode(completionBody(`{"ok":true}`)); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestGenerateSemanticResponseDecodesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := "```json\n" + `{"summary":"Short recap.","display_title":"Recap","tags":["notes"],"type_label":"note","domain_label":"personal","confidence":{"summary":0.9}}` + "\n```"
		if err := json.NewEncoder(w).Encode(completionBody(body)); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	resp, err := client.GenerateSemanticResponse(context.Background(), "summary_v1", PromptSpec{
		System: "Summarize entries.",
		User:   "Some normalized text.",
	})
	if err != nil {
		t.Fatalf("GenerateSemanticResponse returned error: %v", err)
	}
	if resp.Summary != "Short recap." {
		t.Fatalf("unexpected summary %q", resp.Summary)
	}
	if resp.DisplayTitle != "Recap" {
		t.Fatalf("unexpected display title %q", resp.DisplayTitle)
	}
	if resp.TypeLabel != "note" || resp.DomainLabel != "personal" {
		t.Fatalf("unexpected labels %q/%q", resp.TypeLabel, resp.DomainLabel)
	}
	if resp.ModelUsed != "demo-model" {
		t.Fatalf("expected model fallback, got %q", resp.ModelUsed)
	}
	if resp.Confidence.Summary == nil || *resp.Confidence.Summary != 0.9 {
		t.Fatalf("unexpected confidence %+v", resp.Confidence)
	}
}

func TestGenerateSemanticResponseClassifiesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo"},
		WithRetryMaxAttempts(1),
	)
	_, err := client.GenerateSemanticResponse(context.Background(), "summary_v1", PromptSpec{
		System: "Summarize.",
		User:   "Text.",
	})
	var gw *GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if !gw.Retryable {
		t.Fatalf("expected 503 to be retryable: %+v", gw)
	}
}

func TestGenerateSemanticResponseClientErrorNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
	_, err := client.GenerateSemanticResponse(context.Background(), "summary_v1", PromptSpec{
		System: "Summarize.",
		User:   "Text.",
	})
	var gw *GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gw.Retryable {
		t.Fatalf("expected 400 to be terminal: %+v", gw)
	}
}

func TestCompletionRetriesOnRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if err := json.NewEncoder(w).Encode(completionBody(`{"ok":true}`)); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo"},
		WithRetryMaxAttempts(3),
		WithRetryBackoff(5*time.Millisecond, 20*time.Millisecond),
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", calls.Load())
	}
	if len(slept) != 1 {
		t.Fatalf("expected one retry sleep, got %v", slept)
	}
}

func TestDecodeModelJSONSanitizes(t *testing.T) {
	var parsed struct {
		OK bool `json:"ok"`
	}
	cases := []string{
		`{"ok":true}`,
		"```json\n{\"ok\":true}\n```",
		"Here is the result: {\"ok\":true} hope it helps",
	}
	for _, raw := range cases {
		parsed.OK = false
		if err := DecodeModelJSON(raw, &parsed); err != nil {
			t.Fatalf("DecodeModelJSON(%q) error: %v", raw, err)
		}
		if !parsed.OK {
			t.Fatalf("DecodeModelJSON(%q) did not decode payload", raw)
		}
	}
	if err := DecodeModelJSON("", &parsed); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
