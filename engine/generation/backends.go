package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/pkg/ollama"
)

// Ollama adapts an ollama.ChatClient to Generator.
type Ollama struct {
	client *ollama.ChatClient
}

// NewOllama wraps client.
func NewOllama(client *ollama.ChatClient) *Ollama { return &Ollama{client: client} }

// Complete implements Generator.
func (g *Ollama) Complete(ctx context.Context, p Prompt) (string, error) {
	var msgs []ollama.Message
	if p.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: p.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: p.User})
	out, err := g.client.Chat(ctx, msgs)
	if err != nil {
		return "", &domain.TransportError{Op: "ollama chat", Err: err}
	}
	return out, nil
}

// Mock replays canned replies in order, repeating the last one. It is used
// for local runs without a backend.
type Mock struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	prompts []Prompt
}

// NewMock returns a Mock that replies with replies in order.
func NewMock(replies ...string) *Mock { return &Mock{replies: replies} }

// WithErrors makes the first calls fail with errs, in order. A nil entry
// falls through to the replies.
func (m *Mock) WithErrors(errs ...error) *Mock {
	m.errs = errs
	return m
}

// Complete implements Generator.
func (m *Mock) Complete(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, p)
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if len(m.replies) == 0 {
		return "", fmt.Errorf("mock: no replies configured")
	}
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i], nil
}

// Calls returns how many times Complete ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns every prompt received.
func (m *Mock) Prompts() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Prompt(nil), m.prompts...)
}

// SampleReply is a small well-formed response for local runs.
func SampleReply() string {
	doc := responseDocument{
		MainArticle: responseArticle{Title: "範例主題", Content: "這是範例內容。", Category: "範例"},
		Articles: []responseArticle{{
			Title:      "範例文章",
			Content:    "這是範例文章內容。",
			Storyboard: []string{exampleScene},
		}},
	}
	out, _ := json.Marshal(doc)
	return "```json\n" + string(out) + "\n```"
}
