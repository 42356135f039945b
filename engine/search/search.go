// Package search finds candidate news articles for a keyword.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/pkg/fn"
	"github.com/WessleyAI/storyboard/pkg/resilience"
)

// Query is a keyword search restricted to a set of sites.
type Query struct {
	Keyword string
	// Sites restricts results to these hostnames. Empty uses every known source.
	Sites  []string
	Region string
	Num    int
}

// Searcher returns candidate items for a query.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]domain.CandidateItem, error)
}

// SerperConfig configures the Serper client.
type SerperConfig struct {
	APIKey   string
	Endpoint string
	Location string
	Country  string
	Language string
	Num      int
	// RatePerSec bounds outgoing requests. Zero is unlimited.
	RatePerSec float64
	Timeout    time.Duration
}

// DefaultSerperConfig searches Taiwanese results in Traditional Chinese.
func DefaultSerperConfig() SerperConfig {
	return SerperConfig{
		Endpoint:   "https://google.serper.dev/search",
		Location:   "Taiwan",
		Country:    "tw",
		Language:   "zh-tw",
		Num:        50,
		RatePerSec: 2,
		Timeout:    20 * time.Second,
	}
}

// Serper queries google.serper.dev.
type Serper struct {
	cfg     SerperConfig
	client  *http.Client
	limiter *resilience.Limiter
	logger  *slog.Logger
}

// NewSerper creates a Serper client.
func NewSerper(cfg SerperConfig, logger *slog.Logger) *Serper {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSerperConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Num <= 0 {
		cfg.Num = def.Num
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Serper{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RatePerSec, Burst: 1}),
		logger:  logger,
	}
}

type serperReq struct {
	Q        string `json:"q"`
	Location string `json:"location,omitempty"`
	Num      int    `json:"num"`
	GL       string `json:"gl,omitempty"`
	HL       string `json:"hl,omitempty"`
}

type organic struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"`
}

type serperResp struct {
	Organic []organic `json:"organic"`
}

// BuildQuery renders the keyword and site restriction as one search string.
func BuildQuery(keyword string, sites []string) string {
	keyword = strings.TrimSpace(keyword)
	if len(sites) == 0 {
		return keyword
	}
	parts := fn.Map(sites, func(s string) string { return "site:" + s })
	return fmt.Sprintf("%s (%s)", keyword, strings.Join(parts, " OR "))
}

// KnownSites returns the hostnames of domain.KnownSources.
func KnownSites() []string {
	sites := make([]string, 0, len(domain.KnownSources))
	for s := range domain.KnownSources {
		sites = append(sites, s)
	}
	return sites
}

// Search implements Searcher.
func (s *Serper) Search(ctx context.Context, q Query) ([]domain.CandidateItem, error) {
	if err := domain.ValidateKeyword(q.Keyword); err != nil {
		return nil, err
	}
	sites := q.Sites
	if len(sites) == 0 {
		sites = KnownSites()
	}
	num := q.Num
	if num <= 0 {
		num = s.cfg.Num
	}
	location := s.cfg.Location
	if q.Region != "" {
		location = q.Region
	}

	body, err := json.Marshal(serperReq{
		Q:        BuildQuery(q.Keyword, sites),
		Location: location,
		Num:      num,
		GL:       s.cfg.Country,
		HL:       s.cfg.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var out serperResp
	err = s.limiter.CallWait(ctx, func(ctx context.Context) error {
		return s.post(ctx, body, &out)
	})
	if err != nil {
		return nil, err
	}

	items := fn.Filter(fn.Map(out.Organic, func(o organic) domain.CandidateItem {
		return domain.CandidateItem{Title: o.Title, Link: o.Link, Snippet: o.Snippet, Date: o.Date}
	}), func(c domain.CandidateItem) bool { return domain.ValidateLink(c.Link) == nil })
	items = fn.UniqueBy(items, func(c domain.CandidateItem) string { return c.Link })

	if len(items) == 0 {
		return nil, fmt.Errorf("search: %q: %w", q.Keyword, domain.ErrNoResults)
	}
	s.logger.Info("search: results", "keyword", q.Keyword, "count", len(items))
	return items, nil
}

func (s *Serper) post(ctx context.Context, body []byte, out *serperResp) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "serper search", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &domain.TransportError{Op: "serper search", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewParseError("serper response", err)
	}
	return nil
}
