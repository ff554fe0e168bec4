package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ogb4n/Jarvis/internal/conversation"
	"github.com/ogb4n/Jarvis/internal/logging"
)

const systemPrompt = "Tu es Jarvis, un assistant vocal intelligent et serviable. " +
	"Réponds de manière concise et naturelle en français."

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// Client talks to an OpenAI-compatible chat completion endpoint and acts as
// the conversation responder.
type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	HTTP          *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewClient(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000/v1"
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   512,
		Temperature: 0.7,
		HTTP:        &http.Client{Timeout: 20 * time.Second},
	}
}

// Generate produces a reply to command given the recent session history.
// Transient failures (network, 5xx, 429) retry once on the fallback model
// when one is configured and differs from the primary.
func (c *Client) Generate(ctx context.Context, command string, history []conversation.Message) (string, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	// history already carries the user turn; append it only when absent
	if len(history) == 0 || history[len(history)-1].Content != command {
		messages = append(messages, chatMessage{Role: "user", Content: command})
	}

	model := c.Model
	if model == "" {
		model = "local"
	}

	content, err := c.complete(ctx, model, messages)
	if err != nil && errors.Is(err, ErrTransient) && c.FallbackModel != "" && c.FallbackModel != model {
		logging.Warnw("llm: primary model failed, trying fallback", "model", model, "fallback", c.FallbackModel, "err", err)
		time.Sleep(250 * time.Millisecond)
		content, err = c.complete(ctx, c.FallbackModel, messages)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) complete(ctx context.Context, model string, messages []chatMessage) (string, error) {
	payload := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"max_tokens":  c.MaxTokens,
		"temperature": c.Temperature,
	}
	bodyBytes, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/chat/completions", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(bodyBytes)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		if len(out.Choices) == 0 {
			return "", nil
		}
		return out.Choices[0].Message.Content, nil
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	return "", fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
}
