// Package llm provides the chat-completion port shared by the Extractor,
// the Retriever's intent classifier, the Echo Guard's regeneration loop,
// and the Sleep Cycle's macro-summary generation. It is backed by Ollama's
// HTTP API, following the same client shape as engine/embed.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Message is a single chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates a chat completion from a sequence of messages.
type Client interface {
	Generate(ctx context.Context, messages []Message, opts ...Option) (string, error)
}

// Option tunes a single Generate call.
type Option func(*genOptions)

type genOptions struct {
	temperature float64
	maxTokens   int
	jsonMode    bool
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *genOptions) { o.temperature = t }
}

// WithMaxTokens bounds the response length.
func WithMaxTokens(n int) Option {
	return func(o *genOptions) { o.maxTokens = n }
}

// WithJSONMode hints the backend to constrain output to a JSON object.
func WithJSONMode() Option {
	return func(o *genOptions) { o.jsonMode = true }
}

// OllamaClient implements Client against Ollama's /api/chat endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates an Ollama-backed chat client.
func New(baseURL, model string) *OllamaClient {
	return &OllamaClient{baseURL: baseURL, model: model, client: &http.Client{}}
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Message Message `json:"message"`
}

// Generate issues a single chat completion request.
func (c *OllamaClient) Generate(ctx context.Context, messages []Message, opts ...Option) (string, error) {
	cfg := genOptions{temperature: 0.7, maxTokens: 1024}
	for _, opt := range opts {
		opt(&cfg)
	}

	req := ollamaChatReq{Model: c.model, Messages: messages, Stream: false}
	req.Options.Temperature = cfg.temperature
	req.Options.NumPredict = cfg.maxTokens
	if cfg.jsonMode {
		req.Format = "json"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("llm: status %d", resp.StatusCode)
	}

	var out ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	return out.Message.Content, nil
}
