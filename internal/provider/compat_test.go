package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewCompatClient_RequiresBaseURL(t *testing.T) {
	if c := NewCompatClient("key", ""); c != nil {
		t.Fatalf("expected nil without base URL")
	}
	if c := NewCompatClient("", "http://localhost:8000/v1"); c == nil {
		t.Fatalf("API key must be optional for local gateways")
	}
}

func TestCompatComplete_ParsesTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "local-model" {
			t.Errorf("model not forwarded: %v", body["model"])
		}
		fmt.Fprint(w, `{
			"choices":[{"message":{"content":"full answer"}}],
			"usage":{"prompt_tokens":11,"completion_tokens":4,"prompt_tokens_details":{"cached_tokens":3}}
		}`)
	}))
	defer srv.Close()

	c := NewCompatClient("k", srv.URL)
	comp, err := c.Complete(context.Background(), Request{
		Model:        "local-model",
		SystemPrompt: "sys",
		Messages:     []ChatMessage{{Role: RoleUser, Content: "q"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if comp.Text != "full answer" {
		t.Fatalf("text: %q", comp.Text)
	}
	if comp.Usage.InputTokens != 11 || comp.Usage.OutputTokens != 4 || comp.Usage.CachedInputTokens != 3 {
		t.Fatalf("usage: %+v", comp.Usage)
	}
}

func TestCompatComplete_SystemPromptBecomesFirstMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body compatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 || body.Messages[0].Role != RoleSystem || body.Messages[0].Content != "sys" {
			t.Errorf("system prompt not prepended: %+v", body.Messages)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewCompatClient("", srv.URL)
	if _, err := c.Complete(context.Background(), Request{
		SystemPrompt: "sys",
		Messages:     []ChatMessage{{Role: RoleUser, Content: "q"}},
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestCompatComplete_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewCompatClient("", srv.URL)
	_, err := c.Complete(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestCompatStream_DeltasUsageAndDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body compatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream || body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
			t.Errorf("stream options not set: %+v", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var deltas []string
	c := NewCompatClient("", srv.URL)
	comp, err := c.Stream(context.Background(), Request{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if comp.Text != "Hello" {
		t.Fatalf("accumulated text: %q", comp.Text)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("deltas: %v", deltas)
	}
	if comp.Usage.InputTokens != 9 || comp.Usage.OutputTokens != 2 {
		t.Fatalf("usage: %+v", comp.Usage)
	}
}

func TestCompatStream_OnDeltaErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"y\"}}]}\n\n")
	}))
	defer srv.Close()

	c := NewCompatClient("", srv.URL)
	calls := 0
	_, err := c.Stream(context.Background(), Request{}, func(d string) error {
		calls++
		return fmt.Errorf("consumer gone")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected abort after first delta: err=%v calls=%d", err, calls)
	}
}

func TestCompatStream_MalformedChunksSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, ": comment line\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewCompatClient("", srv.URL)
	comp, err := c.Stream(context.Background(), Request{}, func(string) error { return nil })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if comp.Text != "ok" {
		t.Fatalf("text: %q", comp.Text)
	}
}
