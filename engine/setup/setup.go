// Package setup builds the pipeline's collaborators from binary configuration.
// Both cmd/api and cmd/worker go through it so they agree on backends.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/storyboard/engine/content"
	"github.com/WessleyAI/storyboard/engine/generation"
	"github.com/WessleyAI/storyboard/engine/store"
	"github.com/WessleyAI/storyboard/pkg/ollama"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
)

// Generation backends.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// Store backends.
const (
	BackendFile  = "file"
	BackendNeo4j = "neo4j"
)

// GeneratorConfig selects and configures the text-generation backend.
type GeneratorConfig struct {
	Provider    string
	OpenAI      generation.OpenAIConfig
	OllamaURL   string
	OllamaModel string
}

// Generator returns the configured backend.
func Generator(cfg GeneratorConfig, logger *slog.Logger) (generation.Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
			return nil, fmt.Errorf("setup: openai provider needs OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		logger.Info("generation backend", "provider", ProviderOpenAI, "model", cfg.OpenAI.Model)
		return generation.NewOpenAI(cfg.OpenAI), nil
	case ProviderOllama:
		logger.Info("generation backend", "provider", ProviderOllama, "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		client := ollama.NewChatClient(cfg.OllamaURL, cfg.OllamaModel,
			ollama.WithJSONFormat(),
			ollama.WithTemperature(cfg.OpenAI.Temperature))
		return generation.NewOllama(client), nil
	case ProviderMock:
		logger.Warn("generation backend is the mock, replies are canned")
		return generation.NewMock(generation.SampleReply()), nil
	default:
		return nil, fmt.Errorf("setup: unknown generation provider %q", cfg.Provider)
	}
}

// StoreConfig selects where the storyboard blob lives.
type StoreConfig struct {
	Backend   string
	Dir       string
	Key       string
	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string
}

// Store opens the configured store. The returned func releases its resources.
func Store(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (*store.Store, func(), error) {
	if cfg.Key == "" {
		cfg.Key = store.DefaultKey
	}
	switch cfg.Backend {
	case BackendFile, "":
		st, err := store.NewFileStore(cfg.Dir, cfg.Key, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("setup: file store: %w", err)
		}
		return st, func() {}, nil
	case BackendNeo4j:
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return nil, nil, fmt.Errorf("setup: neo4j driver: %w", err)
		}
		closeDriver := func() { driver.Close(context.Background()) }
		if err := driver.VerifyConnectivity(ctx); err != nil {
			closeDriver()
			return nil, nil, fmt.Errorf("setup: neo4j connect: %w", err)
		}
		st, err := store.NewNeo4jStore(ctx, driver, cfg.Key, logger)
		if err != nil {
			closeDriver()
			return nil, nil, fmt.Errorf("setup: neo4j store: %w", err)
		}
		return st, closeDriver, nil
	default:
		return nil, nil, fmt.Errorf("setup: unknown store backend %q", cfg.Backend)
	}
}

// ContentCache returns a redis-backed cache when addr is set and reachable,
// otherwise nil so the fetcher keeps its in-memory cache.
func ContentCache(ctx context.Context, addr string, ttl time.Duration, logger *slog.Logger) (content.Cache, func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory content cache", "addr", addr, "err", err)
		client.Close()
		return nil, func() {}
	}
	logger.Info("content cache", "backend", "redis", "addr", addr)
	return content.NewRedisCache(client, "", ttl), func() { client.Close() }
}
