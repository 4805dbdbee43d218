package server

import (
	"sync"
	"time"

	"github.com/MrWong99/vocalis/internal/session"
	"github.com/google/uuid"
)

// Registry holds the live sessions of the server keyed by ID. It is safe for
// concurrent use.
type Registry struct {
	now func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	engine   *session.Engine
	lastUsed time.Time
}

// NewRegistry returns an empty registry. A nil now uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now, sessions: make(map[uuid.UUID]*entry)}
}

// Add stores e under id, replacing any previous session with that ID.
func (r *Registry) Add(id uuid.UUID, e *session.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[id]; ok && old.engine != e {
		old.engine.Close()
	}
	r.sessions[id] = &entry{engine: e, lastUsed: r.now()}
}

// Get returns the session with id and marks it as used.
func (r *Registry) Get(id uuid.UUID) (*session.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	en, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	en.lastUsed = r.now()
	return en.engine, true
}

// Remove deletes and returns the session with id. The caller closes it.
func (r *Registry) Remove(id uuid.UUID) (*session.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	en, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return en.engine, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Prune closes and removes sessions unused for longer than ttl and returns
// how many were dropped.
func (r *Registry) Prune(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var stale []*session.Engine
	for id, en := range r.sessions {
		if en.lastUsed.Before(cutoff) {
			stale = append(stale, en.engine)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.Close()
	}
	return len(stale)
}

// CloseAll closes and removes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[uuid.UUID]*entry)
	r.mu.Unlock()

	for _, en := range all {
		en.engine.Close()
	}
}
