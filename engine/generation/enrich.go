package generation

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/pkg/fn"
)

// ContentSource returns the readable text of an article.
type ContentSource interface {
	Text(ctx context.Context, link string) (string, error)
}

// Enricher fills RequestItem.Content from a ContentSource. Failures leave the
// item with its snippet only.
type Enricher struct {
	src     ContentSource
	workers int
	logger  *slog.Logger
}

// NewEnricher creates an Enricher that fetches up to workers items at once.
func NewEnricher(src ContentSource, workers int, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Enricher{src: src, workers: workers, logger: logger}
}

// Enrich returns a copy of req with article text attached.
func (e *Enricher) Enrich(ctx context.Context, req domain.GenerationRequest) domain.GenerationRequest {
	out := req
	out.Items = fn.ParMap(slices.Clone(req.Items), e.workers, func(it domain.RequestItem) domain.RequestItem {
		if it.Content != "" {
			return it
		}
		text, err := e.src.Text(ctx, it.Link)
		if err != nil {
			e.logger.Warn("enrich: falling back to snippet", "link", it.Link, "err", err)
			return it
		}
		it.Content = strings.TrimSpace(text)
		return it
	})
	return out
}
