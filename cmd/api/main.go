// Package main implements the storyboard API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/storyboard/engine/content"
	"github.com/WessleyAI/storyboard/engine/generation"
	"github.com/WessleyAI/storyboard/engine/pipeline"
	"github.com/WessleyAI/storyboard/engine/search"
	"github.com/WessleyAI/storyboard/engine/selection"
	"github.com/WessleyAI/storyboard/engine/setup"
	"github.com/WessleyAI/storyboard/pkg/metrics"
	"github.com/WessleyAI/storyboard/pkg/mid"
	"github.com/WessleyAI/storyboard/pkg/natsutil"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	LogLevel     string
	CORSOrigin   string
	MetricsPort  int
	Provider     string
	OpenAIKey    string
	OpenAIURL    string
	OpenAIModel  string
	OllamaURL    string
	OllamaModel  string
	SerperKey    string
	SearchRegion string
	SearchNum    int
	RedisAddr    string
	NATSURL      string
	StoreBackend string
	StoreDir     string
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	SessionIdle  time.Duration
	Enrich       bool
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		MetricsPort:  envInt("METRICS_PORT", 0),
		Provider:     envOr("GEN_PROVIDER", setup.ProviderOpenAI),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIURL:    os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:  envOr("OPENAI_MODEL", generation.DefaultOpenAIConfig().Model),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:  envOr("OLLAMA_MODEL", "qwen2.5:7b"),
		SerperKey:    os.Getenv("SERPER_API_KEY"),
		SearchRegion: envOr("SEARCH_REGION", search.DefaultSerperConfig().Location),
		SearchNum:    envInt("SEARCH_NUM", search.DefaultSerperConfig().Num),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		NATSURL:      os.Getenv("NATS_URL"),
		StoreBackend: envOr("STORE_BACKEND", setup.BackendFile),
		StoreDir:     envOr("STORE_DIR", "data"),
		Neo4jURL:     envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		SessionIdle:  envDuration("SESSION_IDLE", 2*time.Hour),
		Enrich:       envOr("ENRICH_PROMPT", "true") == "true",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Generation backend ---
	oa := generation.DefaultOpenAIConfig()
	oa.APIKey, oa.BaseURL, oa.Model = cfg.OpenAIKey, cfg.OpenAIURL, cfg.OpenAIModel
	gen, err := setup.Generator(setup.GeneratorConfig{
		Provider:    cfg.Provider,
		OpenAI:      oa,
		OllamaURL:   cfg.OllamaURL,
		OllamaModel: cfg.OllamaModel,
	}, logger)
	if err != nil {
		return err
	}

	// --- Store ---
	st, closeStore, err := setup.Store(ctx, setup.StoreConfig{
		Backend:   cfg.StoreBackend,
		Dir:       cfg.StoreDir,
		Neo4jURL:  cfg.Neo4jURL,
		Neo4jUser: cfg.Neo4jUser,
		Neo4jPass: cfg.Neo4jPass,
	}, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Article content ---
	cache, closeCache := setup.ContentCache(ctx, cfg.RedisAddr, 24*time.Hour, logger)
	defer closeCache()
	fetcher := content.NewFetcher(content.DefaultOptions(), cache, logger)

	// --- NATS (optional) ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsutil.Connect(cfg.NATSURL, "storyboard-api", logger)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
	}

	// --- Pipeline ---
	pm := pipeline.NewMetrics(reg)
	genOpts := generation.DefaultOptions()
	genOpts.OnAttempt = pm.ObserveAttempt
	opts := pipeline.Options{Metrics: pm}
	if cfg.Enrich {
		opts.Enricher = generation.NewEnricher(fetcher, 4, logger)
	}
	if nc != nil {
		opts.Notifier = pipeline.NewNATSNotifier(nc)
	}
	ctrl := pipeline.New(generation.New(gen, genOpts, logger), st, opts, logger)

	// --- Search ---
	sc := search.DefaultSerperConfig()
	sc.APIKey, sc.Location, sc.Num = cfg.SerperKey, cfg.SearchRegion, cfg.SearchNum
	if sc.APIKey == "" {
		logger.Warn("SERPER_API_KEY not set, search requests will fail")
	}

	sessions := selection.NewRegistry(fetcher, selection.DefaultOptions(), cfg.SessionIdle, logger)
	go sweepSessions(ctx, sessions, logger)

	a := &app{
		searcher: search.NewSerper(sc, logger),
		sessions: sessions,
		counter:  fetcher,
		ctrl:     ctrl,
		store:    st,
		nc:       nc,
		reg:      reg,
		logger:   logger,
	}

	// --- Build HTTP server ---
	handler := mid.Chain(a.routes(),
		mid.Recover(logger),
		mid.WithRequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("storyboard-api"),
		mid.Metrics(reg), // innermost, so it sees the request the mux matched
	)

	if cfg.MetricsPort > 0 {
		reg.ServeAsync(cfg.MetricsPort, logger)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "provider", cfg.Provider, "store", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func sweepSessions(ctx context.Context, r *selection.Registry, logger *slog.Logger) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				logger.Info("idle sessions evicted", "count", n, "live", r.Len())
			}
		}
	}
}
