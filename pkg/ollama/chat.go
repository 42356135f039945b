// Package ollama is a small client for Ollama's chat HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient calls /api/chat without streaming.
type ChatClient struct {
	baseURL     string
	model       string
	temperature float64
	format      string
	client      *http.Client
}

// Option configures a ChatClient.
type Option func(*ChatClient)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option { return func(c *ChatClient) { c.temperature = t } }

// WithJSONFormat asks the model for a JSON response.
func WithJSONFormat() Option { return func(c *ChatClient) { c.format = "json" } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *ChatClient) { c.client = hc } }

// NewChatClient creates an Ollama chat client.
func NewChatClient(baseURL, model string, opts ...Option) *ChatClient {
	c := &ChatClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: 0.7,
		client:      &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type chatReq struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResp struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// Chat sends messages and returns the assistant reply.
func (c *ChatClient) Chat(ctx context.Context, msgs []Message) (string, error) {
	body, err := json.Marshal(chatReq{
		Model:    c.model,
		Messages: msgs,
		Format:   c.format,
		Options:  map[string]any{"temperature": c.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result chatResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama chat decode: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", result.Error)
	}
	return result.Message.Content, nil
}
