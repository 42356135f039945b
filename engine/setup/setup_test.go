package setup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/WessleyAI/storyboard/engine/generation"
	"github.com/WessleyAI/storyboard/engine/store"
	"github.com/alicebob/miniredis/v2"
)

func TestGeneratorProviders(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GeneratorConfig
		want    string
		wantErr bool
	}{
		{"mock", GeneratorConfig{Provider: ProviderMock}, "*generation.Mock", false},
		{"ollama", GeneratorConfig{Provider: ProviderOllama, OllamaURL: "http://localhost:11434", OllamaModel: "qwen2.5"}, "*generation.Ollama", false},
		{"openai", GeneratorConfig{Provider: ProviderOpenAI, OpenAI: generation.OpenAIConfig{APIKey: "k"}}, "*generation.OpenAI", false},
		{"openai without key", GeneratorConfig{Provider: ProviderOpenAI}, "", true},
		{"unknown", GeneratorConfig{Provider: "bard"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Generator(tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := fmt.Sprintf("%T", g); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	st, closeFn, err := Store(ctx, StoreConfig{Backend: BackendFile, Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	got, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsDefault() {
		t.Fatalf("fresh store should load the default, got %+v", got)
	}

	want := store.DefaultState()
	want.Title = "颱風"
	if err := st.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	if got, _ := st.Load(ctx); got.Title != "颱風" {
		t.Fatalf("expected saved title, got %q", got.Title)
	}
}

func TestUnknownStoreBackend(t *testing.T) {
	if _, _, err := Store(context.Background(), StoreConfig{Backend: "s3"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestContentCache(t *testing.T) {
	ctx := context.Background()
	if c, _ := ContentCache(ctx, "", time.Hour, nil); c != nil {
		t.Fatal("empty addr should not build a cache")
	}

	mr := miniredis.RunT(t)
	c, closeFn := ContentCache(ctx, mr.Addr(), time.Hour, nil)
	defer closeFn()
	if c == nil {
		t.Fatal("expected redis cache")
	}
	if err := c.Set(ctx, "https://cnn.com/a", "text"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("storyboard:content:https://cnn.com/a") {
		t.Fatal("expected key in redis")
	}

	addr := mr.Addr()
	mr.Close()
	if c, _ := ContentCache(ctx, addr, time.Hour, nil); c != nil {
		t.Fatal("unreachable redis should fall back to nil")
	}
}
