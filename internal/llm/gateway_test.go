package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClientCompleteAnthropicShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		resp := map[string]any{
			"content": []map[string]string{{"text": "hello chapter"}},
			"usage":   map[string]int{"input_tokens": 10, "output_tokens": 20},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient("test-key", WithAPIConfig(server.URL), WithRateLimit(6000, 10))
	got, err := c.Complete(context.Background(), "claude-3-5-sonnet-20241022", "write a chapter", 4096)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Text != "hello chapter" || got.InputTokens != 10 || got.OutputTokens != 20 {
		t.Errorf("Complete = %+v", got)
	}
}

func TestClientCompleteOpenAIShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "hello from gpt"}},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 8},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient("test-key", WithAPIConfig(server.URL+"/openai"), WithRateLimit(6000, 10))
	got, err := c.Complete(context.Background(), "gpt-4.1", "write a chapter", 4096)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Text != "hello from gpt" {
		t.Errorf("Complete.Text = %q", got.Text)
	}
}

func TestClientCompleteRetriesTransientFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"content": []map[string]string{{"text": "ok"}},
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient("test-key", WithAPIConfig(server.URL), WithRateLimit(6000, 10), WithRetryAttempts(5))
	got, err := c.Complete(context.Background(), "claude-3-5-sonnet-20241022", "prompt", 100)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Text != "ok" {
		t.Errorf("Complete.Text = %q", got.Text)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
