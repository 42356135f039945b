// Package store persists the current storyboard as one JSON blob.
//
// The blob lives under a fixed key. Loading never fails because of missing or
// corrupt data: both yield the default state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/storyboard/engine/storyboard"
	"github.com/WessleyAI/storyboard/pkg/repo"
	"github.com/google/uuid"
)

// DefaultKey is the key the current storyboard is stored under.
const DefaultKey = "currentStoryboard"

// Presentation defaults.
const (
	DefaultAvatar     = "man1"
	DefaultAvatarType = "half"
	DefaultBackground = "background1"
	DefaultRandomID   = "default"
)

// State is the persisted storyboard blob.
type State struct {
	Title      string               `json:"title"`
	Avatar     string               `json:"avatar"`
	AvatarType string               `json:"avatarType"`
	Background string               `json:"background"`
	Storyboard []storyboard.Row     `json:"storyboard"`
	Articles   []storyboard.Article `json:"articles,omitempty"`
	RandomID   string               `json:"random_id"`
	Timestamp  string               `json:"timestamp,omitempty"`
}

// DefaultState is returned when nothing usable is stored.
func DefaultState() State {
	return State{
		Title:      storyboard.PlaceholderTitle,
		Avatar:     DefaultAvatar,
		AvatarType: DefaultAvatarType,
		Background: DefaultBackground,
		Storyboard: []storyboard.Row{},
		RandomID:   DefaultRandomID,
	}
}

// IsDefault reports whether s holds nothing generated.
func (s State) IsDefault() bool {
	return s.Title == storyboard.PlaceholderTitle && len(s.Storyboard) == 0 && len(s.Articles) == 0
}

// FromResult builds the state to persist for a normalized result. fallback
// titles results that carry none.
func FromResult(r storyboard.Result, fallback string, now time.Time) State {
	primary := r.Primary(0)
	title := r.Title
	if title == "" {
		title = primary.Title
	}
	if title == "" {
		title = fallback
	}
	s := DefaultState()
	s.Title = title
	s.Storyboard = storyboard.Rows(primary.Scenes)
	switch r.Shape {
	case storyboard.ShapeArticles, storyboard.ShapeGeneratedContent:
		s.Articles = r.Clone().Articles
	case storyboard.ShapeMainArticle:
		if r.MainArticle != nil {
			s.Articles = []storyboard.Article{r.Clone().Primary(0)}
		}
	}
	s.RandomID = uuid.NewString()
	s.Timestamp = now.UTC().Format(time.RFC3339)
	return s
}

// Record is the stored form of a blob.
type Record struct {
	Key       string    `json:"key"`
	Blob      string    `json:"blob"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store loads and saves the storyboard blob.
type Store struct {
	repo   repo.Repository[Record, string]
	key    string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store over r. An empty key uses DefaultKey.
func New(r repo.Repository[Record, string], key string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		key = DefaultKey
	}
	return &Store{repo: r, key: key, logger: logger, now: time.Now}
}

// Load returns the stored state, or the default when it is absent or
// unparsable. Only backend failures are returned as errors, alongside the
// default state.
func (s *Store) Load(ctx context.Context) (State, error) {
	rec, err := s.repo.Get(ctx, s.key)
	if errors.Is(err, repo.ErrNotFound) {
		return DefaultState(), nil
	}
	if err != nil {
		return DefaultState(), fmt.Errorf("store: load: %w", err)
	}
	st, err := Decode([]byte(rec.Blob))
	if err != nil {
		s.logger.Warn("store: stored state unparsable, using default", "key", s.key, "err", err)
		return DefaultState(), nil
	}
	return st, nil
}

// Save replaces the stored state.
func (s *Store) Save(ctx context.Context, st State) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	rec := Record{Key: s.key, Blob: string(blob), UpdatedAt: s.now().UTC()}
	if err := s.repo.Put(ctx, s.key, rec); err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	s.logger.Info("store: saved", "key", s.key, "title", st.Title, "scenes", len(st.Storyboard))
	return nil
}

// Clear removes the stored state, so Load returns the default.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.repo.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// Decode parses a blob, filling missing presentation fields with defaults.
func Decode(blob []byte) (State, error) {
	st := DefaultState()
	if err := json.Unmarshal(blob, &st); err != nil {
		return State{}, err
	}
	if st.Storyboard == nil {
		st.Storyboard = []storyboard.Row{}
	}
	return st, nil
}
