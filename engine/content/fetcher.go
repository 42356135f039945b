package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/pkg/resilience"
)

// ErrEmptyPage is returned when a page has no extractable text.
var ErrEmptyPage = errors.New("content: no text found")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Options configures a Fetcher.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	// RatePerSec bounds outgoing requests. Zero is unlimited.
	RatePerSec float64
	Burst      int
}

// DefaultOptions returns sensible fetch limits.
func DefaultOptions() Options {
	return Options{
		Timeout:    15 * time.Second,
		MaxBytes:   5 << 20,
		UserAgent:  defaultUserAgent,
		RatePerSec: 5,
		Burst:      5,
	}
}

// Fetcher downloads article pages and extracts their text. It implements
// selection.WordCounter and generation.ContentSource.
type Fetcher struct {
	client  *http.Client
	opts    Options
	cache   Cache
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. A nil cache uses an in-memory cache.
func NewFetcher(opts Options, cache Cache, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if cache == nil {
		cache = NewMemoryCache(time.Hour)
	}
	return &Fetcher{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		cache:   cache,
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.RatePerSec, Burst: opts.Burst}),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:  logger,
	}
}

// WordCount returns the character count of the article at link. A page
// without text counts as 0.
func (f *Fetcher) WordCount(ctx context.Context, link string) (int, error) {
	text, err := f.Text(ctx, link)
	if errors.Is(err, ErrEmptyPage) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return Count(text), nil
}

// Text returns the extracted text of the article at link.
func (f *Fetcher) Text(ctx context.Context, link string) (string, error) {
	if err := domain.ValidateLink(link); err != nil {
		return "", err
	}
	if text, ok, err := f.cache.Get(ctx, link); err != nil {
		f.logger.Warn("content: cache get failed", "link", link, "err", err)
	} else if ok {
		return text, nil
	}

	text, err := resilience.Do(f.breaker, ctx, func(ctx context.Context) (string, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return f.fetch(ctx, link)
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyPage
	}

	if err := f.cache.Set(ctx, link, text); err != nil {
		f.logger.Warn("content: cache set failed", "link", link, "err", err)
	}
	f.logger.Debug("content: extracted", "link", link, "chars", Count(text))
	return text, nil
}

func (f *Fetcher) fetch(ctx context.Context, link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &domain.TransportError{Op: "fetch " + u.Host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.TransportError{Op: "fetch " + u.Host, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes))
	if err != nil {
		return "", &domain.TransportError{Op: "read " + u.Host, Err: err}
	}
	return Extract(string(body), u)
}
