package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	t.Run("successful completion", func(t *testing.T) {
		var gotAuth string
		var gotReq chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&gotReq)
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"content": "  hello there  "}},
				},
			})
		}))
		defer server.Close()

		c := New(Config{BaseURL: server.URL, APIKey: "sk-test", Model: "gpt-4o-mini"}, nil)
		got, err := c.Generate(context.Background(), "hi", "be brief")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if got != "hello there" {
			t.Errorf("expected trimmed content, got %q", got)
		}
		if gotAuth != "Bearer sk-test" {
			t.Errorf("expected bearer auth, got %q", gotAuth)
		}
		if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
			t.Errorf("expected system+user messages, got %+v", gotReq.Messages)
		}
	})

	t.Run("no system instruction sends one message", func(t *testing.T) {
		var gotReq chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&gotReq)
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
			})
		}))
		defer server.Close()

		c := New(Config{BaseURL: server.URL, APIKey: "k", Model: "m"}, nil)
		if _, err := c.Generate(context.Background(), "hi", ""); err != nil {
			t.Fatal(err)
		}
		if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
			t.Errorf("expected single user message, got %+v", gotReq.Messages)
		}
	})

	t.Run("missing API key", func(t *testing.T) {
		c := New(Config{Model: "m"}, nil)
		if _, err := c.Generate(context.Background(), "hi", ""); err == nil {
			t.Error("expected error without API key")
		}
	})

	t.Run("HTTP error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := New(Config{BaseURL: server.URL, APIKey: "k", Model: "m"}, nil)
		if _, err := c.Generate(context.Background(), "hi", ""); err == nil {
			t.Error("expected error on 429")
		}
	})

	t.Run("API error body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "bad model", "type": "invalid_request"},
			})
		}))
		defer server.Close()

		c := New(Config{BaseURL: server.URL, APIKey: "k", Model: "m"}, nil)
		if _, err := c.Generate(context.Background(), "hi", ""); err == nil {
			t.Error("expected error for API error body")
		}
	})

	t.Run("empty choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer server.Close()

		c := New(Config{BaseURL: server.URL, APIKey: "k", Model: "m"}, nil)
		if _, err := c.Generate(context.Background(), "hi", ""); err == nil {
			t.Error("expected error for empty choices")
		}
	})
}
