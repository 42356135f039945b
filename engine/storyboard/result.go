// Package storyboard normalizes generation output into canonical scenes.
//
// A generation response may take one of several shapes. Normalize resolves the
// shape through an ordered chain of matchers and produces a Result; scene lists
// inside it are built by NormalizeScenes from freeform blocks or structured rows.
package storyboard

import "slices"

// ShapeName identifies the response shape a Result was built from.
type ShapeName string

const (
	ShapeDirect           ShapeName = "direct"
	ShapeArticles         ShapeName = "articles"
	ShapeGeneratedContent ShapeName = "generated_content"
	ShapeMainArticle      ShapeName = "main_article"
	ShapeTitleOnly        ShapeName = "title_only"
)

// PlaceholderTitle marks a state with nothing generated yet.
const PlaceholderTitle = "尚未生成分鏡稿"

// DefaultArticleTitle replaces a missing article title.
const DefaultArticleTitle = "Untitled"

// Article is a normalized article with its scenes.
type Article struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Category string  `json:"category,omitempty"`
	Scenes   []Scene `json:"storyboard"`
}

// Result is the normalized generation result. Exactly one of Articles,
// Storyboard or MainArticle is populated, according to Shape.
type Result struct {
	Shape       ShapeName `json:"shape"`
	Title       string    `json:"title,omitempty"`
	Articles    []Article `json:"articles,omitempty"`
	Storyboard  []Scene   `json:"storyboard,omitempty"`
	MainArticle *Article  `json:"main_article,omitempty"`
}

// Primary returns the article at index, falling back to the first one.
// Direct and title-only results are presented as a single article.
func (r Result) Primary(index int) Article {
	switch r.Shape {
	case ShapeArticles, ShapeGeneratedContent:
		if len(r.Articles) == 0 {
			return Article{Title: r.Title, Scenes: []Scene{}}
		}
		if index < 0 || index >= len(r.Articles) {
			index = 0
		}
		return r.Articles[index]
	case ShapeMainArticle:
		if r.MainArticle != nil {
			return *r.MainArticle
		}
	case ShapeDirect:
		return Article{Title: r.Title, Scenes: r.Storyboard}
	}
	return Article{Title: r.Title, Scenes: []Scene{}}
}

// Scenes returns the scenes of the primary article at index.
func (r Result) Scenes(index int) []Scene { return r.Primary(index).Scenes }

// Clone returns a deep copy, so edits never touch the original result.
func (r Result) Clone() Result {
	out := r
	out.Storyboard = cloneScenes(r.Storyboard)
	if r.Articles != nil {
		out.Articles = make([]Article, len(r.Articles))
		for i, a := range r.Articles {
			out.Articles[i] = a.clone()
		}
	}
	if r.MainArticle != nil {
		a := r.MainArticle.clone()
		out.MainArticle = &a
	}
	return out
}

func (a Article) clone() Article {
	a.Scenes = cloneScenes(a.Scenes)
	return a
}

func cloneScenes(in []Scene) []Scene {
	if in == nil {
		return nil
	}
	out := make([]Scene, len(in))
	for i, s := range in {
		s.VisualElements = slices.Clone(s.VisualElements)
		out[i] = s
	}
	return out
}
