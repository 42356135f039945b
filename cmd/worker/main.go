// Command worker consumes queued generation jobs from NATS and runs them
// through the storyboard pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/WessleyAI/storyboard/engine/content"
	"github.com/WessleyAI/storyboard/engine/generation"
	"github.com/WessleyAI/storyboard/engine/pipeline"
	"github.com/WessleyAI/storyboard/engine/setup"
	"github.com/WessleyAI/storyboard/pkg/metrics"
	"github.com/WessleyAI/storyboard/pkg/natsutil"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()
	var (
		natsURL     = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS URL")
		provider    = flag.String("provider", envOr("GEN_PROVIDER", setup.ProviderOpenAI), "generation backend: openai, ollama or mock")
		openaiModel = flag.String("openai-model", envOr("OPENAI_MODEL", generation.DefaultOpenAIConfig().Model), "OpenAI model")
		ollamaURL   = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		ollamaModel = flag.String("model", envOr("OLLAMA_MODEL", "qwen2.5:7b"), "Ollama chat model")
		backend     = flag.String("store", envOr("STORE_BACKEND", setup.BackendFile), "store backend: file or neo4j")
		storeDir    = flag.String("dir", envOr("STORE_DIR", "data"), "file store directory")
		neo4jURL    = flag.String("neo4j", envOr("NEO4J_URL", "neo4j://localhost:7687"), "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
		redisAddr   = flag.String("redis", os.Getenv("REDIS_ADDR"), "Redis address for the content cache")
		concurrency = flag.Int("concurrency", 2, "jobs run at once")
		jobTimeout  = flag.Duration("timeout", 15*time.Minute, "per-job timeout")
		metricsPort = flag.Int("metrics-port", 9091, "metrics port, 0 disables")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	if *metricsPort > 0 {
		reg.ServeAsync(*metricsPort, log)
	}

	oa := generation.DefaultOpenAIConfig()
	oa.APIKey, oa.BaseURL, oa.Model = os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"), *openaiModel
	gen, err := setup.Generator(setup.GeneratorConfig{
		Provider:    *provider,
		OpenAI:      oa,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
	}, log)
	if err != nil {
		log.Error("generation backend", "error", err)
		os.Exit(1)
	}

	st, closeStore, err := setup.Store(ctx, setup.StoreConfig{
		Backend:   *backend,
		Dir:       *storeDir,
		Neo4jURL:  *neo4jURL,
		Neo4jUser: *neo4jUser,
		Neo4jPass: *neo4jPass,
	}, log)
	if err != nil {
		log.Error("store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	cache, closeCache := setup.ContentCache(ctx, *redisAddr, 24*time.Hour, log)
	defer closeCache()
	fetcher := content.NewFetcher(content.DefaultOptions(), cache, log)

	nc, err := natsutil.Connect(*natsURL, "storyboard-worker", log)
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()
	log.Info("connected to NATS", "url", nc.ConnectedUrl())

	pm := pipeline.NewMetrics(reg)
	genOpts := generation.DefaultOptions()
	genOpts.OnAttempt = pm.ObserveAttempt
	ctrl := pipeline.New(generation.New(gen, genOpts, log), st, pipeline.Options{
		Enricher: generation.NewEnricher(fetcher, 4, log),
		Notifier: pipeline.NewNATSNotifier(nc),
		Metrics:  pm,
	}, log)

	w := newWorker(ctrl, nc, reg, *concurrency, *jobTimeout, log)
	sub, err := natsutil.QueueSubscribe(nc, pipeline.SubjectGenerate, pipeline.WorkerQueue, log, w.handle)
	if err != nil {
		log.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	log.Info("waiting for jobs", "subject", pipeline.SubjectGenerate, "queue", pipeline.WorkerQueue, "concurrency", *concurrency)

	<-ctx.Done()
	log.Info("shutting down")
	sub.Unsubscribe()
	w.wait()
}

type runner interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
}

// worker runs jobs with bounded concurrency.
type worker struct {
	ctrl    runner
	nc      *nats.Conn
	sem     chan struct{}
	timeout time.Duration
	log     *slog.Logger
	jobs    *prometheus.CounterVec
	active  prometheus.Gauge
	wg      sync.WaitGroup
}

func newWorker(ctrl runner, nc *nats.Conn, reg *metrics.Registry, concurrency int, timeout time.Duration, log *slog.Logger) *worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &worker{
		ctrl:    ctrl,
		nc:      nc,
		sem:     make(chan struct{}, concurrency),
		timeout: timeout,
		log:     log,
		jobs:    reg.CounterVec("storyboard_worker_jobs_total", "Jobs handled by outcome", "outcome"),
		active:  reg.Gauge("storyboard_worker_active_jobs", "Jobs currently running"),
	}
}

// handle blocks until a slot is free, then runs the job in the background.
func (w *worker) handle(ctx context.Context, j pipeline.Job) {
	w.sem <- struct{}{}
	w.wg.Add(1)
	go func() {
		defer func() {
			<-w.sem
			w.wg.Done()
		}()
		w.run(ctx, j)
	}()
}

func (w *worker) run(ctx context.Context, j pipeline.Job) {
	w.active.Inc()
	defer w.active.Dec()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	log := w.log.With("job", j.ID, "keyword", j.Input.Keyword)
	log.Info("job started", "items", len(j.Input.Entries))

	out, err := w.ctrl.Run(ctx, j.Input)
	if err != nil {
		w.jobs.WithLabelValues("failed").Inc()
		log.Error("job failed", "error", err)
		ev := pipeline.FailedEvent{JobID: j.ID, Keyword: j.Input.Keyword, Error: err.Error(), At: time.Now().UTC()}
		if perr := natsutil.Publish(context.WithoutCancel(ctx), w.nc, pipeline.SubjectFailed, ev); perr != nil {
			log.Warn("publish failure event", "error", perr)
		}
		return
	}
	w.jobs.WithLabelValues("ok").Inc()
	log.Info("job done", "request_id", out.Request.Metadata.ID, "title", out.State.Title)
}

func (w *worker) wait() { w.wg.Wait() }
