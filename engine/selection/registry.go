package selection

import (
	"log/slog"
	"sync"
	"time"
)

// Registry holds one Manager per session id.
type Registry struct {
	counter WordCounter
	opts    Options
	logger  *slog.Logger
	idle    time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mgr      *Manager
	lastSeen time.Time
}

// NewRegistry creates a Registry. Sessions idle longer than idle are evicted
// by Sweep; zero keeps them forever.
func NewRegistry(counter WordCounter, opts Options, idle time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		counter:  counter,
		opts:     opts,
		logger:   logger,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Get returns the Manager for id, creating it on first use.
func (r *Registry) Get(id string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &session{mgr: New(r.counter, r.opts, r.logger.With("session", id))}
		r.sessions[id] = s
	}
	s.lastSeen = r.now()
	return s.mgr
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops idle sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.idle)
	removed := 0
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			s.mgr.Reset()
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
