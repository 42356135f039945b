// Package selection manages the user's budgeted pick of search results.
//
// A Manager enforces two budgets over the selected entries: at most MaxItems
// entries and at most MaxWords words in total. Word counts are fetched lazily,
// at most once per candidate index, and shared by every caller waiting on the
// same index. Reset starts a new epoch; fetches begun before it are discarded.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/WessleyAI/storyboard/engine/domain"
)

// WordCounter fetches the word count of the article behind a link.
type WordCounter interface {
	WordCount(ctx context.Context, link string) (int, error)
}

// Options configures a Manager.
type Options struct {
	MaxItems     int
	MaxWords     int
	FetchTimeout time.Duration
}

// DefaultOptions returns the standard budgets.
func DefaultOptions() Options {
	return Options{
		MaxItems:     domain.MaxItems,
		MaxWords:     domain.MaxWords,
		FetchTimeout: 30 * time.Second,
	}
}

// State is a consistent snapshot of the selection.
type State struct {
	Entries    []domain.SelectionEntry `json:"entries"`
	Count      int                     `json:"count"`
	TotalWords int                     `json:"total_words"`
	MaxItems   int                     `json:"max_items"`
	MaxWords   int                     `json:"max_words"`
}

// fetch is one in-flight word count lookup.
type fetch struct {
	done  chan struct{}
	n     int
	epoch uint64
}

// Manager is the session-scoped selection. All mutations go through mu.
type Manager struct {
	counter WordCounter
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	candidates []domain.CandidateItem
	entries    []domain.SelectionEntry
	total      int
	counts     map[int]int
	inflight   map[int]*fetch
	epoch      uint64
}

// New creates a Manager.
func New(counter WordCounter, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.MaxItems <= 0 {
		opts.MaxItems = def.MaxItems
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = def.MaxWords
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	return &Manager{
		counter:  counter,
		opts:     opts,
		logger:   logger,
		counts:   make(map[int]int),
		inflight: make(map[int]*fetch),
	}
}

// SetCandidates replaces the candidate list. A new list starts a new selection.
func (m *Manager) SetCandidates(items []domain.CandidateItem) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.candidates = slices.Clone(items)
	return m.stateLocked()
}

// Candidates returns the current candidate list.
func (m *Manager) Candidates() []domain.CandidateItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.candidates)
}

// Candidate returns the candidate at index.
func (m *Manager) Candidate(index int) (domain.CandidateItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.candidates) {
		return domain.CandidateItem{}, domain.NewValidationError("index", strconv.Itoa(index), domain.ErrUnknownCandidate)
	}
	return m.candidates[index], nil
}

// ToggleIndex toggles the candidate at index.
func (m *Manager) ToggleIndex(ctx context.Context, index int) (State, error) {
	item, err := m.Candidate(index)
	if err != nil {
		return m.State(), err
	}
	return m.Toggle(ctx, item, index)
}

// Toggle deselects item if it is selected, otherwise selects it once its
// word count is known and both budgets still hold. Limit and budget are
// checked again against the latest state before committing.
func (m *Manager) Toggle(ctx context.Context, item domain.CandidateItem, index int) (State, error) {
	m.mu.Lock()
	if i := m.indexOf(item.Link); i >= 0 {
		m.removeLocked(i)
		st := m.stateLocked()
		m.mu.Unlock()
		return st, nil
	}
	if err := m.limitLocked(); err != nil {
		st := m.stateLocked()
		m.mu.Unlock()
		return st, err
	}
	epoch := m.epoch
	m.mu.Unlock()

	n, err := m.resolve(ctx, item.Link, index)
	if err != nil {
		return m.State(), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return m.stateLocked(), domain.ErrSessionReset
	}
	if m.indexOf(item.Link) >= 0 {
		// A concurrent toggle for the same item committed first.
		return m.stateLocked(), nil
	}
	if err := m.limitLocked(); err != nil {
		return m.stateLocked(), err
	}
	if m.total+n > m.opts.MaxWords {
		return m.stateLocked(), domain.NewValidationError("word_count", strconv.Itoa(m.total+n), domain.ErrBudgetExceeded)
	}
	m.entries = append(m.entries, domain.SelectionEntry{Item: item, Index: index, WordCount: n})
	m.total += n
	m.logger.Debug("selection: selected", "index", index, "words", n, "total", m.total)
	return m.stateLocked(), nil
}

// Prefetch starts resolving the word count of a candidate without waiting.
// It is called when a candidate becomes visible.
func (m *Manager) Prefetch(item domain.CandidateItem, index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counts[index]; ok {
		return
	}
	if _, ok := m.inflight[index]; ok {
		return
	}
	m.startLocked(item.Link, index)
}

// Remove deselects the entry with the given link, if any.
func (m *Manager) Remove(link string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(link); i >= 0 {
		m.removeLocked(i)
	}
	return m.stateLocked()
}

// Reset clears selections, cached counts and in-flight fetches in one step.
func (m *Manager) Reset() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.candidates = nil
	return m.stateLocked()
}

// State returns a snapshot of the selection.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Entries returns the selected entries in selection order.
func (m *Manager) Entries() []domain.SelectionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// WordCountState reports the lifecycle of the count for index.
func (m *Manager) WordCountState(index int) domain.WordCountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.counts[index]; ok {
		return domain.WordCountState{Status: domain.WordCountResolved, Count: n}
	}
	if _, ok := m.inflight[index]; ok {
		return domain.WordCountState{Status: domain.WordCountInFlight}
	}
	return domain.WordCountState{Status: domain.WordCountNotRequested}
}

// Check verifies the selection invariants.
func (m *Manager) Check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) > m.opts.MaxItems {
		return fmt.Errorf("selection: %d entries exceed limit %d", len(m.entries), m.opts.MaxItems)
	}
	sum := 0
	seen := make(map[string]bool, len(m.entries))
	for _, e := range m.entries {
		if seen[e.Item.Link] {
			return fmt.Errorf("selection: duplicate link %q", e.Item.Link)
		}
		seen[e.Item.Link] = true
		sum += e.WordCount
	}
	if sum != m.total {
		return fmt.Errorf("selection: total %d does not match entries sum %d", m.total, sum)
	}
	if m.total > m.opts.MaxWords {
		return fmt.Errorf("selection: total %d exceeds budget %d", m.total, m.opts.MaxWords)
	}
	return nil
}

// resolve returns the cached count for index or waits for the single fetch.
func (m *Manager) resolve(ctx context.Context, link string, index int) (int, error) {
	m.mu.Lock()
	if n, ok := m.counts[index]; ok {
		m.mu.Unlock()
		return n, nil
	}
	f, ok := m.inflight[index]
	if !ok {
		f = m.startLocked(link, index)
	}
	m.mu.Unlock()

	select {
	case <-f.done:
		return f.n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// startLocked launches the fetch for index. The fetch outlives the caller's
// context so other waiters still get the result. Must hold mu.
func (m *Manager) startLocked(link string, index int) *fetch {
	f := &fetch{done: make(chan struct{}), epoch: m.epoch}
	m.inflight[index] = f
	go m.run(f, link, index)
	return f
}

func (m *Manager) run(f *fetch, link string, index int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.FetchTimeout)
	defer cancel()

	n, err := m.counter.WordCount(ctx, link)
	if err != nil {
		m.logger.Warn("selection: word count failed, counting as 0", "index", index, "link", link, "err", err)
		n = 0
	}
	if n < 0 {
		n = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f.n = n
	close(f.done)
	if m.epoch != f.epoch {
		m.logger.Debug("selection: discarding stale word count", "index", index)
		return
	}
	m.counts[index] = n
	delete(m.inflight, index)
}

func (m *Manager) limitLocked() error {
	if len(m.entries) >= m.opts.MaxItems {
		return domain.NewValidationError("selection", strconv.Itoa(len(m.entries)), domain.ErrSelectionLimit)
	}
	return nil
}

func (m *Manager) indexOf(link string) int {
	return slices.IndexFunc(m.entries, func(e domain.SelectionEntry) bool { return e.Item.Link == link })
}

func (m *Manager) removeLocked(i int) {
	m.total -= m.entries[i].WordCount
	m.entries = slices.Delete(m.entries, i, i+1)
}

func (m *Manager) resetLocked() {
	m.entries = nil
	m.total = 0
	m.counts = make(map[int]int)
	m.inflight = make(map[int]*fetch)
	m.epoch++
}

func (m *Manager) stateLocked() State {
	entries := slices.Clone(m.entries)
	if entries == nil {
		entries = []domain.SelectionEntry{}
	}
	return State{
		Entries:    entries,
		Count:      len(m.entries),
		TotalWords: m.total,
		MaxItems:   m.opts.MaxItems,
		MaxWords:   m.opts.MaxWords,
	}
}
