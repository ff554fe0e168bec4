package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ogb4n/Jarvis/internal/conversation"
)

func completionResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": text}},
		},
	}
}

func TestGenerateSendsSystemPromptAndHistory(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(completionResponse(" Bien sûr ! "))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "mistral")
	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "bonjour"},
		{Role: conversation.RoleAssistant, Content: "Bonjour !"},
		{Role: conversation.RoleUser, Content: "raconte une blague"},
	}
	out, err := c.Generate(context.Background(), "raconte une blague", history)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Bien sûr !" {
		t.Fatalf("response = %q, want trimmed content", out)
	}
	if got.Model != "mistral" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("sent %d messages, want system + 3 history", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content == "" {
		t.Errorf("first message = %+v, want system prompt", got.Messages[0])
	}
	// the user turn already present in history must not be duplicated
	if got.Messages[len(got.Messages)-1].Content != "raconte une blague" {
		t.Errorf("last message = %+v", got.Messages[len(got.Messages)-1])
	}
}

func TestGenerateAppendsCommandWhenMissing(t *testing.T) {
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		count = len(body.Messages)
		json.NewEncoder(w).Encode(completionResponse("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "local")
	if _, err := c.Generate(context.Background(), "bonjour", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if count != 2 {
		t.Fatalf("sent %d messages, want system + appended user turn", count)
	}
}

func TestGeneratePermanentErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "local")
	c.FallbackModel = "backup"
	_, err := c.Generate(context.Background(), "bonjour", nil)
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1 (4xx must not hit the fallback)", got)
	}
}

func TestGenerateTransientErrorHitsFallback(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		models = append(models, body.Model)
		if body.Model == "primary" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(completionResponse("depuis le fallback"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "primary")
	c.FallbackModel = "backup"
	out, err := c.Generate(context.Background(), "bonjour", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "depuis le fallback" {
		t.Fatalf("response = %q", out)
	}
	if len(models) != 2 || models[0] != "primary" || models[1] != "backup" {
		t.Fatalf("models tried = %v", models)
	}
}

func TestGenerateRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "local")
	_, err := c.Generate(context.Background(), "bonjour", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestGenerateAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(completionResponse("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", "local")
	c.Generate(context.Background(), "bonjour", nil)
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}
