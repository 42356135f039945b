// Package pipeline runs one generation end to end: build the request from the
// selection, generate, normalize, persist. Each step is a traced fn.Stage and
// a failing step stops the rest, so nothing is persisted unless
// normalization succeeded.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/engine/generation"
	"github.com/WessleyAI/storyboard/engine/store"
	"github.com/WessleyAI/storyboard/engine/storyboard"
	"github.com/WessleyAI/storyboard/pkg/fn"
)

// Input is a generation run's input.
type Input struct {
	Keyword string                  `json:"keyword"`
	Entries []domain.SelectionEntry `json:"entries"`
}

// Output is what a successful run produced.
type Output struct {
	Request domain.GenerationRequest `json:"request"`
	Result  storyboard.Result        `json:"result"`
	State   store.State              `json:"state"`
}

// Store persists the storyboard state.
type Store interface {
	Load(ctx context.Context) (store.State, error)
	Save(ctx context.Context, st store.State) error
}

// Enricher attaches article text to a request before generation.
type Enricher interface {
	Enrich(ctx context.Context, req domain.GenerationRequest) domain.GenerationRequest
}

// Options holds the optional collaborators of a Controller.
type Options struct {
	Enricher   Enricher
	Notifier   Notifier
	Normalizer *storyboard.Normalizer
	Metrics    *Metrics
}

// job carries a run's state between stages.
type job struct {
	in     Input
	req    domain.GenerationRequest
	raw    json.RawMessage
	result storyboard.Result
	state  store.State
}

// Controller runs the generation pipeline.
type Controller struct {
	orch   *generation.Orchestrator
	store  Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	run    fn.Stage[Input, job]
}

// New creates a Controller.
func New(orch *generation.Orchestrator, st Store, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = storyboard.NewNormalizer(logger)
	}
	c := &Controller{orch: orch, store: st, opts: opts, logger: logger, now: time.Now}
	c.run = fn.Then(
		fn.Then(
			fn.Then(
				stage(c, "build", c.build),
				stage(c, "generate", c.generate),
			),
			stage(c, "normalize", c.normalize),
		),
		stage(c, "persist", c.persist),
	)
	return c
}

// stage wraps a step in a span and its duration metric, logging each
// completed step.
func stage[In any](c *Controller, name string, f func(context.Context, In) (job, error)) fn.Stage[In, job] {
	timed := fn.FuncStage(func(ctx context.Context, in In) (job, error) {
		start := c.now()
		defer c.opts.Metrics.observeStage(name, start)
		return f(ctx, in)
	})
	return fn.TracedStage("pipeline."+name, fn.Then(timed, stageDone(c.logger, name)))
}

// stageDone logs a step that completed.
func stageDone(logger *slog.Logger, name string) fn.Stage[job, job] {
	return fn.TapStage(func(_ context.Context, j job) {
		logger.Debug("pipeline: stage done", "stage", name, "keyword", j.in.Keyword, "request_id", j.req.Metadata.ID)
	})
}

// Run executes one generation. The error is the failing stage's error.
func (c *Controller) Run(ctx context.Context, in Input) (Output, error) {
	start := c.now()
	j, err := c.run(ctx, in).Unwrap()
	c.opts.Metrics.observeRun(err, start)
	if err != nil {
		c.logger.Error("pipeline: run failed", "keyword", in.Keyword, "items", len(in.Entries), "err", err)
		return Output{}, err
	}
	c.logger.Info("pipeline: run complete",
		"request_id", j.req.Metadata.ID,
		"shape", j.result.Shape,
		"scenes", len(j.state.Storyboard),
		"took", time.Since(start))

	c.notify(ctx, j)
	return Output{Request: j.req, Result: j.result, State: j.state}, nil
}

// Load returns the persisted state, or the default.
func (c *Controller) Load(ctx context.Context) (store.State, error) {
	return c.store.Load(ctx)
}

func (c *Controller) build(ctx context.Context, in Input) (job, error) {
	req, err := c.orch.BuildRequest(in.Keyword, in.Entries)
	if err != nil {
		return job{}, fmt.Errorf("pipeline: build: %w", err)
	}
	if c.opts.Enricher != nil {
		req = c.opts.Enricher.Enrich(ctx, req)
	}
	return job{in: in, req: req}, nil
}

func (c *Controller) generate(ctx context.Context, j job) (job, error) {
	raw, err := c.orch.Generate(ctx, j.req)
	if err != nil {
		return j, fmt.Errorf("pipeline: generate: %w", err)
	}
	j.raw = raw
	return j, nil
}

func (c *Controller) normalize(_ context.Context, j job) (job, error) {
	res, err := c.opts.Normalizer.Normalize(j.raw)
	if err != nil {
		return j, fmt.Errorf("pipeline: normalize: %w", err)
	}
	j.result = res
	return j, nil
}

func (c *Controller) persist(ctx context.Context, j job) (job, error) {
	st := store.FromResult(j.result, j.in.Keyword, c.now())
	if err := c.store.Save(ctx, st); err != nil {
		return j, fmt.Errorf("pipeline: persist: %w", err)
	}
	j.state = st
	return j, nil
}

func (c *Controller) notify(ctx context.Context, j job) {
	if c.opts.Notifier == nil {
		return
	}
	ev := GeneratedEvent{
		RequestID: j.req.Metadata.ID,
		Keyword:   j.in.Keyword,
		Title:     j.state.Title,
		Shape:     string(j.result.Shape),
		Articles:  len(j.state.Articles),
		Scenes:    len(j.state.Storyboard),
		RandomID:  j.state.RandomID,
		At:        c.now().UTC(),
	}
	if err := c.opts.Notifier.Notify(ctx, ev); err != nil {
		c.logger.Warn("pipeline: notify failed", "request_id", ev.RequestID, "err", err)
	}
}
