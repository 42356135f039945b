// Package generation turns a selection into a generation request, calls the
// text-generation backend and returns the decoded JSON response.
//
// The backend's output is expected to be a JSON document, optionally wrapped in
// a fenced code block. Transport and parse failures are retried a fixed number
// of times; the orchestrator never persists anything.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/pkg/fn"
	"github.com/google/uuid"
)

// Generator is a text-generation backend.
type Generator interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Options configures the Orchestrator.
type Options struct {
	MaxAttempts int
	// Backoff is the wait before the second attempt, doubling after. Zero retries immediately.
	Backoff time.Duration
	// CallTimeout bounds a single backend call. Zero means no bound.
	CallTimeout time.Duration
	Prompt      PromptOptions
	// OnAttempt is called after every attempt with its outcome.
	OnAttempt func(attempt int, err error)
}

// DefaultOptions makes three immediate attempts.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		CallTimeout: 3 * time.Minute,
		Prompt:      DefaultPromptOptions(),
	}
}

// FailedError is returned once every attempt failed. It matches
// domain.ErrGenerationFailed and the cause of the last attempt.
type FailedError struct {
	Attempts int
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("generation: failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() []error { return []error{domain.ErrGenerationFailed, e.Err} }

// Orchestrator builds prompts and runs the bounded retry loop.
type Orchestrator struct {
	gen    Generator
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Orchestrator.
func New(gen Generator, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	return &Orchestrator{
		gen:    gen,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// BuildRequest builds a fresh request from the selected entries.
func (o *Orchestrator) BuildRequest(keyword string, entries []domain.SelectionEntry) (domain.GenerationRequest, error) {
	if len(entries) == 0 {
		return domain.GenerationRequest{}, domain.NewValidationError("selection", "0", domain.ErrEmptySelection)
	}
	return domain.GenerationRequest{
		Metadata: domain.RequestMetadata{
			ID:        o.newID(),
			Timestamp: o.now().UTC(),
			Keyword:   keyword,
		},
		Items: fn.Map(entries, func(e domain.SelectionEntry) domain.RequestItem {
			return domain.RequestItem{
				Title:   e.Item.Title,
				Link:    e.Item.Link,
				Snippet: e.Item.Snippet,
				Source:  domain.SourceLabel(e.Item.Link),
			}
		}),
	}, nil
}

// Generate calls the backend until it returns parseable JSON or the attempts
// run out. Attempts are strictly sequential.
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (json.RawMessage, error) {
	prompt, err := BuildPrompt(req, o.opts.Prompt)
	if err != nil {
		return nil, err
	}
	log := o.logger.With("request_id", req.Metadata.ID)

	attempts := 0
	res := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: o.opts.MaxAttempts,
		InitialWait: o.opts.Backoff,
		MaxWait:     30 * time.Second,
		ShouldRetry: domain.Retryable,
		OnRetry: func(attempt int, err error) {
			log.Warn("generation attempt failed, retrying", "attempt", attempt, "max", o.opts.MaxAttempts, "err", err)
		},
	}, func(ctx context.Context, attempt int) fn.Result[json.RawMessage] {
		attempts = attempt
		r := o.attempt(ctx, prompt)
		if o.opts.OnAttempt != nil {
			o.opts.OnAttempt(attempt, r.Error())
		}
		return r
	})

	raw, err := res.Unwrap()
	if err == nil {
		log.Info("generation succeeded", "attempts", attempts, "bytes", len(raw))
		return raw, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, fmt.Errorf("generation: %w", err)
	}
	if !domain.Retryable(err) {
		return nil, fmt.Errorf("generation: %w", err)
	}
	log.Error("generation failed", "attempts", attempts, "err", err)
	return nil, &FailedError{Attempts: attempts, Err: err}
}

// attempt makes one backend call and validates its output.
func (o *Orchestrator) attempt(ctx context.Context, p Prompt) fn.Result[json.RawMessage] {
	callCtx := ctx
	if o.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
	}

	text, err := o.gen.Complete(callCtx, p)
	if err != nil {
		if ctx.Err() != nil {
			return fn.Err[json.RawMessage](ctx.Err())
		}
		var te *domain.TransportError
		if !errors.As(err, &te) {
			err = &domain.TransportError{Op: "complete", Err: err}
		}
		return fn.Err[json.RawMessage](err)
	}

	cleaned := StripFences(text)
	if !json.Valid([]byte(cleaned)) {
		return fn.Err[json.RawMessage](domain.NewParseError(cleaned, errors.New("response is not valid JSON ("+strconv.Itoa(len(cleaned))+" bytes)")))
	}
	return fn.Ok(json.RawMessage(cleaned))
}
