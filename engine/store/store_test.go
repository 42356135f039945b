package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/storyboard/engine/storyboard"
	"github.com/WessleyAI/storyboard/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// memRepo is an in-memory repo.Repository.
type memRepo struct {
	mu   sync.Mutex
	data map[string]Record
	err  error
}

func newMemRepo() *memRepo { return &memRepo{data: make(map[string]Record)} }

func (m *memRepo) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Record{}, m.err
	}
	r, ok := m.data[id]
	if !ok {
		return Record{}, repo.ErrNotFound
	}
	return r, nil
}

func (m *memRepo) Put(_ context.Context, id string, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[id] = r
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func TestLoadMissingReturnsDefault(t *testing.T) {
	s := New(newMemRepo(), "", nil)
	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultState()
	if st.Title != want.Title || st.Avatar != "man1" || st.AvatarType != "half" || st.Background != "background1" || st.RandomID != "default" {
		t.Fatalf("unexpected default %+v", st)
	}
	if st.Storyboard == nil || len(st.Storyboard) != 0 || !st.IsDefault() {
		t.Fatalf("default storyboard should be an empty list, got %#v", st.Storyboard)
	}
}

func TestDefaultStateJSON(t *testing.T) {
	raw, err := json.Marshal(DefaultState())
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(raw, &m)
	if m["title"] != "尚未生成分鏡稿" || m["random_id"] != "default" {
		t.Fatalf("unexpected %s", raw)
	}
	if sb, ok := m["storyboard"].([]any); !ok || len(sb) != 0 {
		t.Fatalf("storyboard should encode as [], got %s", raw)
	}
	if _, ok := m["articles"]; ok {
		t.Fatalf("articles should be omitted, got %s", raw)
	}
}

func TestLoadCorruptReturnsDefault(t *testing.T) {
	r := newMemRepo()
	r.data[DefaultKey] = Record{Key: DefaultKey, Blob: "{not json"}
	st, err := New(r, "", nil).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsDefault() {
		t.Fatalf("expected default, got %+v", st)
	}
}

func TestLoadBackendError(t *testing.T) {
	r := newMemRepo()
	r.err = errors.New("disk on fire")
	st, err := New(r, "", nil).Load(context.Background())
	if err == nil || !st.IsDefault() {
		t.Fatalf("expected error with default state, got %+v %v", st, err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	r := newMemRepo()
	s := New(r, "", nil)
	ctx := context.Background()

	scenes := []storyboard.Scene{{
		SceneNumber:    1,
		TimeCode:       "00:00:00,000 --> 00:00:06,000",
		VisualElements: []storyboard.VisualElement{{Type: storyboard.VisualImage, Content: "城市夜景"}},
		VoiceoverText:  "晚安",
	}}
	res := storyboard.Result{
		Shape:    storyboard.ShapeArticles,
		Articles: []storyboard.Article{{Title: "第一篇", Content: "內容", Scenes: scenes}},
	}
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	st := FromResult(res, "關鍵字", fixed)
	if st.Title != "第一篇" || st.Timestamp != "2024-05-01T08:00:00Z" || st.RandomID == "default" {
		t.Fatalf("unexpected state %+v", st)
	}
	if err := s.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.data[DefaultKey]; !ok {
		t.Fatal("blob should be stored under currentStoryboard")
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "第一篇" || len(got.Storyboard) != 1 || len(got.Articles) != 1 {
		t.Fatalf("unexpected loaded state %+v", got)
	}
	if got.Storyboard[0].ImageDescription != "城市夜景" || got.Storyboard[0].Duration != scenes[0].TimeCode {
		t.Fatalf("unexpected row %+v", got.Storyboard[0])
	}

	// The stored blob is itself a direct-shape document.
	norm, err := storyboard.Normalize(json.RawMessage(r.data[DefaultKey].Blob))
	if err != nil {
		t.Fatal(err)
	}
	if norm.Shape != storyboard.ShapeDirect || norm.Storyboard[0].VoiceoverText != "晚安" {
		t.Fatalf("unexpected normalization %+v", norm)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Load(ctx); !got.IsDefault() {
		t.Fatal("cleared store should load the default")
	}
}

func TestFromResultFallbackTitle(t *testing.T) {
	st := FromResult(storyboard.Result{Shape: storyboard.ShapeDirect}, "颱風", time.Now())
	if st.Title != "颱風" || len(st.Storyboard) != 0 || st.Articles != nil {
		t.Fatalf("unexpected %+v", st)
	}
}

func TestDecodeFillsDefaults(t *testing.T) {
	st, err := Decode([]byte(`{"title":"只有標題"}`))
	if err != nil {
		t.Fatal(err)
	}
	if st.Avatar != DefaultAvatar || st.Storyboard == nil {
		t.Fatalf("missing fields should take defaults, got %+v", st)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	st := DefaultState()
	st.Title = "存檔"
	if err := s.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "currentStoryboard.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	// A second store over the same directory sees the saved state.
	s2, _ := NewFileStore(dir, "", nil)
	got, err := s2.Load(ctx)
	if err != nil || got.Title != "存檔" {
		t.Fatalf("unexpected %+v %v", got, err)
	}
}

func TestNeo4jRecordMapping(t *testing.T) {
	in := Record{Key: DefaultKey, Blob: `{"title":"x"}`, UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	m := recordToMap(in)
	out, err := recordFromNeo4j(&neo4j.Record{Keys: []string{"n"}, Values: []any{m}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Key != in.Key || out.Blob != in.Blob || !out.UpdatedAt.Equal(in.UpdatedAt) {
		t.Fatalf("round trip mismatch %+v", out)
	}
	if _, err := recordFromNeo4j(&neo4j.Record{Values: []any{"nope"}}); err == nil {
		t.Fatal("expected error for non-map value")
	}
}
