package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/pkg/ollama"
	"github.com/openai/openai-go/option"
)

func entries(n int) []domain.SelectionEntry {
	out := make([]domain.SelectionEntry, n)
	for i := range out {
		out[i] = domain.SelectionEntry{
			Item: domain.CandidateItem{
				Title:   fmt.Sprintf("新聞 %d", i),
				Link:    fmt.Sprintf("https://edition.cnn.com/2024/%d", i),
				Snippet: fmt.Sprintf("摘要 %d", i),
			},
			Index:     i,
			WordCount: 100,
		}
	}
	return out
}

func request(t *testing.T, o *Orchestrator) domain.GenerationRequest {
	t.Helper()
	req, err := o.BuildRequest("選舉", entries(2))
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding space", "  \n```json {\"a\":1} ```  \n", `{"a":1}`},
		{"leading only", "```json\n[1]", `[1]`},
		{"trailing only", "[1]\n```", `[1]`},
		{"inner fence kept", "{\"a\":\"```\"}", "{\"a\":\"```\"}"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Fatalf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildRequest(t *testing.T) {
	o := New(NewMock("{}"), DefaultOptions(), nil)
	o.newID = func() string { return "req-1" }
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return fixed }

	req, err := o.BuildRequest("選舉", entries(2))
	if err != nil {
		t.Fatal(err)
	}
	if req.Metadata.ID != "req-1" || !req.Metadata.Timestamp.Equal(fixed) || req.Metadata.Keyword != "選舉" {
		t.Fatalf("unexpected metadata %+v", req.Metadata)
	}
	if len(req.Items) != 2 || req.Items[1].Title != "新聞 1" || req.Items[0].Source != "CNN News" {
		t.Fatalf("unexpected items %+v", req.Items)
	}

	if _, err := o.BuildRequest("x", nil); !errors.Is(err, domain.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestGenerateFirstAttempt(t *testing.T) {
	m := NewMock("```json\n{\"title\":\"t\",\"storyboard\":[]}\n```")
	o := New(m, DefaultOptions(), nil)
	raw, err := o.Generate(context.Background(), request(t, o))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"title":"t","storyboard":[]}` {
		t.Fatalf("unexpected raw %s", raw)
	}
	if m.Calls() != 1 {
		t.Fatalf("expected 1 call, got %d", m.Calls())
	}
}

func TestGenerateRetriesMalformedOutput(t *testing.T) {
	m := NewMock("not json", "{broken", `{"articles":[]}`)
	var seen []int
	opts := DefaultOptions()
	opts.OnAttempt = func(attempt int, err error) { seen = append(seen, attempt) }
	o := New(m, opts, nil)

	raw, err := o.Generate(context.Background(), request(t, o))
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(raw) || m.Calls() != 3 {
		t.Fatalf("expected success on third attempt, calls=%d raw=%s", m.Calls(), raw)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Fatalf("OnAttempt saw %v", seen)
	}
}

func TestGenerateExhaustsAttempts(t *testing.T) {
	m := NewMock("still not json")
	o := New(m, DefaultOptions(), nil)

	_, err := o.Generate(context.Background(), request(t, o))
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	var fe *FailedError
	if !errors.As(err, &fe) || fe.Attempts != 3 {
		t.Fatalf("expected FailedError with 3 attempts, got %#v", err)
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("last cause should be a ParseError, got %v", fe.Err)
	}
	if m.Calls() != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", m.Calls())
	}
}

func TestGenerateRetriesTransportErrors(t *testing.T) {
	boom := errors.New("connection reset")
	m := NewMock(`{"ok":true}`).WithErrors(boom, boom)
	o := New(m, DefaultOptions(), nil)

	if _, err := o.Generate(context.Background(), request(t, o)); err != nil {
		t.Fatal(err)
	}
	if m.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", m.Calls())
	}

	m = NewMock(`{"ok":true}`).WithErrors(boom, boom, boom)
	o = New(m, DefaultOptions(), nil)
	_, err := o.Generate(context.Background(), request(t, o))
	var te *domain.TransportError
	if !errors.Is(err, domain.ErrGenerationFailed) || !errors.As(err, &te) {
		t.Fatalf("expected failed transport error, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause should be preserved, got %v", err)
	}
}

func TestGenerateCancelled(t *testing.T) {
	m := NewMock(`{}`)
	o := New(m, DefaultOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Generate(ctx, request(t, o))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatal("cancellation is not a generation failure")
	}
	if m.Calls() != 0 {
		t.Fatalf("no attempt should run, got %d", m.Calls())
	}
}

func TestBuildPrompt(t *testing.T) {
	o := New(NewMock("{}"), DefaultOptions(), nil)
	req := request(t, o)
	req.Items[0].Content = strings.Repeat("字", 50)

	opts := DefaultPromptOptions()
	opts.MaxItemRunes = 10
	p, err := BuildPrompt(req, opts)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"選舉", "新聞 0", "摘要 1", "CNN News", "<schema>", `"main_article"`, "Voiceover Text:", "8篇", "10個段落"} {
		if !strings.Contains(p.User, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p.User, strings.Repeat("字", 11)) {
		t.Error("item content should be truncated")
	}
	if p.System == "" {
		t.Error("system prompt should be set")
	}

	if _, err := BuildPrompt(domain.GenerationRequest{}, opts); !errors.Is(err, domain.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestSchemaDisallowsExtraFields(t *testing.T) {
	raw, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	var s map[string]any
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatal(err)
	}
	if s["additionalProperties"] != false {
		t.Fatalf("expected additionalProperties=false, got %v", s["additionalProperties"])
	}
	props, _ := s["properties"].(map[string]any)
	if _, ok := props["articles"]; !ok {
		t.Fatalf("schema missing articles: %s", raw)
	}
}

func TestSampleReplyNormalizes(t *testing.T) {
	if !json.Valid([]byte(StripFences(SampleReply()))) {
		t.Fatal("sample reply should be valid JSON after stripping fences")
	}
}

type fakeSource struct {
	texts map[string]string
	calls atomic.Int32
}

func (f *fakeSource) Text(_ context.Context, link string) (string, error) {
	f.calls.Add(1)
	if t, ok := f.texts[link]; ok {
		return t, nil
	}
	return "", errors.New("fetch failed")
}

func TestEnricherFallsBackToSnippet(t *testing.T) {
	o := New(NewMock("{}"), DefaultOptions(), nil)
	req := request(t, o)
	src := &fakeSource{texts: map[string]string{req.Items[0].Link: "  全文內容  "}}

	out := NewEnricher(src, 2, nil).Enrich(context.Background(), req)
	if out.Items[0].Content != "全文內容" {
		t.Fatalf("expected content, got %q", out.Items[0].Content)
	}
	if out.Items[1].Content != "" || out.Items[1].Snippet != "摘要 1" {
		t.Fatalf("failed item should keep its snippet, got %+v", out.Items[1])
	}
	if req.Items[0].Content != "" {
		t.Fatal("input request must not be mutated")
	}
	if src.calls.Load() != 2 {
		t.Fatalf("expected 2 fetches, got %d", src.calls.Load())
	}
}

func TestOpenAIGenerator(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" {\"ok\":true} "}}]}`))
	}))
	defer srv.Close()

	cfg := DefaultOpenAIConfig()
	cfg.APIKey = "test"
	cfg.BaseURL = srv.URL + "/"
	g := NewOpenAI(cfg)

	out, err := g.Complete(context.Background(), Prompt{System: "sys", User: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("unexpected output %q", out)
	}
	if body["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected model %v", body["model"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", body["messages"])
	}
}

func TestOpenAIGeneratorTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := DefaultOpenAIConfig()
	cfg.APIKey = "bad"
	cfg.BaseURL = srv.URL + "/"
	cfg.Extra = []option.RequestOption{option.WithMaxRetries(0)}

	_, err := NewOpenAI(cfg).Complete(context.Background(), Prompt{User: "hi"})
	var te *domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"[]"},"done":true}`))
	}))
	defer srv.Close()

	g := NewOllama(ollama.NewChatClient(srv.URL, "llama3"))
	out, err := g.Complete(context.Background(), Prompt{System: "s", User: "u"})
	if err != nil || out != "[]" {
		t.Fatalf("unexpected %q %v", out, err)
	}

	srv.Close()
	if _, err := g.Complete(context.Background(), Prompt{User: "u"}); !domain.Retryable(err) {
		t.Fatalf("connection failure should be retryable, got %v", err)
	}
}
