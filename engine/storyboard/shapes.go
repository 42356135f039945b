package storyboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WessleyAI/storyboard/engine/domain"
)

// Document is a decoded top-level response object.
type Document = map[string]json.RawMessage

// Shape recognizes one response layout and builds a Result from it.
type Shape struct {
	Name  ShapeName
	Match func(doc Document) bool
	Build func(doc Document, logger *slog.Logger) Result
}

// DefaultShapes lists the recognized shapes in priority order.
var DefaultShapes = []Shape{
	{Name: ShapeDirect, Match: matchDirect, Build: buildDirect},
	{Name: ShapeArticles, Match: matchArticles, Build: buildArticles},
	{Name: ShapeGeneratedContent, Match: matchGeneratedContent, Build: buildGeneratedContent},
	{Name: ShapeMainArticle, Match: matchMainArticle, Build: buildMainArticle},
}

// Normalizer resolves a response through an ordered chain of shapes.
type Normalizer struct {
	shapes []Shape
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer. With no shapes given it uses DefaultShapes.
func NewNormalizer(logger *slog.Logger, shapes ...Shape) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(shapes) == 0 {
		shapes = DefaultShapes
	}
	return &Normalizer{shapes: shapes, logger: logger}
}

// Normalize converts a raw response using the default shapes.
func Normalize(raw json.RawMessage) (Result, error) {
	return NewNormalizer(nil).Normalize(raw)
}

// Normalize returns the Result of the first matching shape. A response that
// matches none but carries a usable title yields a title-only Result.
func (n *Normalizer) Normalize(raw json.RawMessage) (Result, error) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return Result{}, domain.NewParseError(string(raw), fmt.Errorf("storyboard: response is not valid JSON"))
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return Result{}, &domain.NormalizationError{Err: fmt.Errorf("top level is not an object: %w", domain.ErrNoUsableContent)}
	}

	for _, s := range n.shapes {
		if s.Match(doc) {
			n.logger.Debug("storyboard: shape matched", "shape", s.Name)
			res := s.Build(doc, n.logger)
			res.Shape = s.Name
			return res, nil
		}
	}

	if title := stringField(doc, "title"); usableTitle(title) {
		return Result{Shape: ShapeTitleOnly, Title: title}, nil
	}
	return Result{}, &domain.NormalizationError{Err: domain.ErrNoUsableContent}
}

func usableTitle(t string) bool {
	t = strings.TrimSpace(t)
	return t != "" && t != PlaceholderTitle
}

func matchDirect(doc Document) bool { return nonEmptyList(doc["storyboard"]) }

func buildDirect(doc Document, logger *slog.Logger) Result {
	return Result{
		Title:      stringField(doc, "title"),
		Storyboard: NormalizeScenes(doc["storyboard"], logger),
	}
}

func matchArticles(doc Document) bool { return nonEmptyList(doc["articles"]) }

func buildArticles(doc Document, logger *slog.Logger) Result {
	return Result{
		Title:    stringField(doc, "title"),
		Articles: normalizeArticles(doc["articles"], logger),
	}
}

func matchGeneratedContent(doc Document) bool {
	inner, ok := object(doc["generated_content"])
	return ok && nonEmptyList(inner["articles"])
}

func buildGeneratedContent(doc Document, logger *slog.Logger) Result {
	inner, _ := object(doc["generated_content"])
	return Result{
		Title:    stringField(doc, "title"),
		Articles: normalizeArticles(inner["articles"], logger),
	}
}

// mainArticle finds main_article at the top level or inside generated_content.
func mainArticle(doc Document) (json.RawMessage, bool) {
	if _, ok := object(doc["main_article"]); ok {
		return doc["main_article"], true
	}
	if inner, ok := object(doc["generated_content"]); ok {
		if _, ok := object(inner["main_article"]); ok {
			return inner["main_article"], true
		}
	}
	return nil, false
}

func matchMainArticle(doc Document) bool {
	_, ok := mainArticle(doc)
	return ok
}

func buildMainArticle(doc Document, logger *slog.Logger) Result {
	raw, _ := mainArticle(doc)
	a := normalizeArticle(raw, logger)
	return Result{Title: a.Title, MainArticle: &a}
}

type rawArticle struct {
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	Category   string          `json:"category"`
	Storyboard json.RawMessage `json:"storyboard"`
}

func normalizeArticles(raw json.RawMessage, logger *slog.Logger) []Article {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []Article{}
	}
	out := make([]Article, 0, len(items))
	for _, item := range items {
		out = append(out, normalizeArticle(item, logger))
	}
	return out
}

// normalizeArticle never fails: undecodable fields fall back to defaults.
func normalizeArticle(raw json.RawMessage, logger *slog.Logger) Article {
	var ra rawArticle
	if err := json.Unmarshal(raw, &ra); err != nil {
		logger.Warn("storyboard: undecodable article", "err", err)
	}
	a := Article{
		Title:    strings.TrimSpace(ra.Title),
		Content:  ra.Content,
		Category: ra.Category,
		Scenes:   NormalizeScenes(ra.Storyboard, logger),
	}
	if a.Title == "" {
		a.Title = DefaultArticleTitle
	}
	return a
}

func nonEmptyList(raw json.RawMessage) bool {
	var items []json.RawMessage
	return json.Unmarshal(raw, &items) == nil && len(items) > 0
}

func object(raw json.RawMessage) (Document, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

func stringField(doc Document, key string) string {
	var s string
	if err := json.Unmarshal(doc[key], &s); err != nil {
		return ""
	}
	return s
}
