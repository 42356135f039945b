package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/engine/pipeline"
	"github.com/WessleyAI/storyboard/engine/search"
	"github.com/WessleyAI/storyboard/engine/selection"
	"github.com/WessleyAI/storyboard/engine/store"
	"github.com/WessleyAI/storyboard/engine/storyboard"
	"github.com/WessleyAI/storyboard/pkg/metrics"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// runner is the part of pipeline.Controller the handlers use.
type runner interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
	Load(ctx context.Context) (store.State, error)
}

type clearer interface {
	Clear(ctx context.Context) error
}

type app struct {
	searcher search.Searcher
	sessions *selection.Registry
	counter  selection.WordCounter
	ctrl     runner
	store    clearer
	nc       *nats.Conn
	reg      *metrics.Registry
	logger   *slog.Logger
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("POST /api/search", a.handleSearch)
	mux.HandleFunc("GET /api/sessions/{id}", a.handleSession)
	mux.HandleFunc("POST /api/sessions/{id}/toggle", a.handleToggle)
	mux.HandleFunc("POST /api/sessions/{id}/prefetch", a.handlePrefetch)
	mux.HandleFunc("DELETE /api/sessions/{id}/selection", a.handleRemove)
	mux.HandleFunc("POST /api/sessions/{id}/reset", a.handleReset)
	mux.HandleFunc("POST /api/sessions/{id}/generate", a.handleGenerate)
	mux.HandleFunc("GET /api/storyboard", a.handleStoryboard)
	mux.HandleFunc("GET /api/storyboard.html", a.handleStoryboardHTML)
	mux.HandleFunc("DELETE /api/storyboard", a.handleClear)
	mux.HandleFunc("POST /api/word-count", a.handleWordCount)
	if a.reg != nil {
		mux.Handle("GET /metrics", a.reg.Handler())
	}
	return mux
}

// --- Helpers ---

type errorBody struct {
	Error     string           `json:"error"`
	Selection *selection.State `json:"selection,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps pipeline errors to HTTP statuses.
func statusFor(err error) int {
	var te *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrInvalidKeyword),
		errors.Is(err, domain.ErrInvalidLink),
		errors.Is(err, domain.ErrUnknownCandidate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSelectionLimit),
		errors.Is(err, domain.ErrBudgetExceeded),
		errors.Is(err, domain.ErrSessionReset):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptySelection),
		errors.Is(err, domain.ErrNoUsableContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNoResults):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrGenerationFailed), errors.As(err, &te):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// failSelection writes err along with the unchanged selection.
func failSelection(w http.ResponseWriter, err error, st selection.State) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Selection: &st})
}

// --- Handlers ---

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": a.sessions.Len()})
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	Session string   `json:"session,omitempty"`
	Keyword string   `json:"keyword"`
	Sites   []string `json:"sites,omitempty"`
	Region  string   `json:"region,omitempty"`
	Num     int      `json:"num,omitempty"`
}

// SearchResponse lists the candidates now attached to the session.
type SearchResponse struct {
	Session    string                 `json:"session"`
	Keyword    string                 `json:"keyword"`
	Candidates []domain.CandidateItem `json:"candidates"`
	Selection  selection.State        `json:"selection"`
}

func (a *app) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decode(w, r, &req) {
		return
	}
	items, err := a.searcher.Search(r.Context(), search.Query{
		Keyword: req.Keyword,
		Sites:   req.Sites,
		Region:  req.Region,
		Num:     req.Num,
	})
	if err != nil {
		a.logger.Warn("search failed", "keyword", req.Keyword, "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	if req.Session == "" {
		req.Session = uuid.NewString()
	}
	st := a.sessions.Get(req.Session).SetCandidates(items)
	writeJSON(w, http.StatusOK, SearchResponse{
		Session:    req.Session,
		Keyword:    req.Keyword,
		Candidates: items,
		Selection:  st,
	})
}

// SessionResponse is a session's candidates and selection.
type SessionResponse struct {
	Candidates []domain.CandidateItem `json:"candidates"`
	Selection  selection.State        `json:"selection"`
}

func (a *app) handleSession(w http.ResponseWriter, r *http.Request) {
	m := a.sessions.Get(r.PathValue("id"))
	writeJSON(w, http.StatusOK, SessionResponse{Candidates: m.Candidates(), Selection: m.State()})
}

// IndexRequest names a candidate by position.
type IndexRequest struct {
	Index int `json:"index"`
}

func (a *app) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := a.sessions.Get(r.PathValue("id")).ToggleIndex(r.Context(), req.Index)
	if err != nil {
		failSelection(w, err, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PrefetchRequest lists candidates that became visible.
type PrefetchRequest struct {
	Indices []int `json:"indices"`
}

func (a *app) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req PrefetchRequest
	if !decode(w, r, &req) {
		return
	}
	m := a.sessions.Get(r.PathValue("id"))
	out := make(map[string]domain.WordCountState, len(req.Indices))
	for _, i := range req.Indices {
		item, err := m.Candidate(i)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		m.Prefetch(item, i)
		out[strconv.Itoa(i)] = m.WordCountState(i)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"word_counts": out})
}

func (a *app) handleRemove(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if link == "" {
		writeError(w, http.StatusBadRequest, "link is required")
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Get(r.PathValue("id")).Remove(link))
}

func (a *app) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Get(r.PathValue("id")).Reset())
}

// GenerateRequest is the JSON body for POST /api/sessions/{id}/generate.
type GenerateRequest struct {
	Keyword string `json:"keyword"`
	// Async queues the run for a worker instead of waiting for it.
	Async bool `json:"async,omitempty"`
}

// GenerateResponse reports a finished or queued run.
type GenerateResponse struct {
	RequestID string       `json:"request_id,omitempty"`
	JobID     string       `json:"job_id,omitempty"`
	Shape     string       `json:"shape,omitempty"`
	State     *store.State `json:"state,omitempty"`
}

func (a *app) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	m := a.sessions.Get(r.PathValue("id"))
	in := pipeline.Input{Keyword: req.Keyword, Entries: m.Entries()}
	if len(in.Entries) == 0 {
		writeError(w, statusFor(domain.ErrEmptySelection), domain.ErrEmptySelection.Error())
		return
	}

	if req.Async {
		if a.nc == nil {
			writeError(w, http.StatusServiceUnavailable, "async generation needs NATS")
			return
		}
		job := pipeline.Job{ID: uuid.NewString(), Input: in}
		if err := pipeline.Submit(r.Context(), a.nc, job); err != nil {
			a.logger.Error("submit job failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "could not queue job")
			return
		}
		writeJSON(w, http.StatusAccepted, GenerateResponse{JobID: job.ID})
		return
	}

	out, err := a.ctrl.Run(r.Context(), in)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{
		RequestID: out.Request.Metadata.ID,
		Shape:     string(out.Result.Shape),
		State:     &out.State,
	})
}

func (a *app) loadState(ctx context.Context) store.State {
	st, err := a.ctrl.Load(ctx)
	if err != nil {
		a.logger.Error("load storyboard failed, serving default", "err", err)
	}
	return st
}

func (a *app) handleStoryboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.loadState(r.Context()))
}

// handleStoryboardHTML renders the stored storyboard, or one of its articles
// when ?article=n names one.
func (a *app) handleStoryboardHTML(w http.ResponseWriter, r *http.Request) {
	st := a.loadState(r.Context())
	art := storyboard.Article{Title: st.Title}
	for i, row := range st.Storyboard {
		art.Scenes = append(art.Scenes, row.Scene(i+1))
	}
	if v := r.URL.Query().Get("article"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 || i >= len(st.Articles) {
			writeError(w, http.StatusNotFound, "unknown article")
			return
		}
		art = st.Articles[i]
	}
	out, err := storyboard.RenderHTML(art)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}

func (a *app) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WordCountRequest is the JSON body for POST /api/word-count.
type WordCountRequest struct {
	Link string `json:"link"`
}

// WordCountResponse reports a page's word count. Fetch failures count as 0
// and carry the reason in Error.
type WordCountResponse struct {
	Link      string `json:"link"`
	WordCount int    `json:"word_count"`
	Error     string `json:"error,omitempty"`
}

func (a *app) handleWordCount(w http.ResponseWriter, r *http.Request) {
	var req WordCountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := domain.ValidateLink(req.Link); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := WordCountResponse{Link: req.Link}
	n, err := a.counter.WordCount(r.Context(), req.Link)
	if err != nil {
		a.logger.Warn("word count failed", "link", req.Link, "err", err)
		resp.Error = err.Error()
	} else {
		resp.WordCount = n
	}
	writeJSON(w, http.StatusOK, resp)
}
