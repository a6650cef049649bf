package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

// Factory builds a live session for a key that has none.
type Factory func(ctx context.Context) (*Session, error)

// creation is an in-flight Factory call for one key.
type creation struct {
	done    chan struct{}
	session *Session
	err     error
}

// Registry holds the live sessions keyed by "<server>:<namespace>".
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	creating map[string]*creation
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		creating: make(map[string]*creation),
	}
}

// GetOrCreate returns the live session for key, revealing it, or runs
// factory to create one. Concurrent calls for the same key share one
// factory call. created is true only for the caller whose factory ran.
func (r *Registry) GetOrCreate(ctx context.Context, key string, factory Factory) (s *Session, created bool, err error) {
	r.mu.Lock()
	if existing, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		existing.reveal()
		return existing, false, nil
	}

	if c, ok := r.creating[key]; ok {
		r.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if c.err != nil {
			return nil, false, c.err
		}
		c.session.reveal()
		return c.session, false, nil
	}

	c := &creation{done: make(chan struct{})}
	r.creating[key] = c
	r.mu.Unlock()

	s, err = factory(ctx)

	r.mu.Lock()
	delete(r.creating, key)
	if err == nil {
		sess := s
		if sess.setRemover(func() { r.remove(key, sess) }) {
			r.sessions[key] = s
		} else {
			err = fmt.Errorf("session %s closed during creation: %w", key, model.ErrSessionClosed)
			s = nil
		}
	}
	c.session, c.err = s, err
	close(c.done)
	r.mu.Unlock()

	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// remove deletes key if it still maps to s.
func (r *Registry) remove(key string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}

// Get returns the live session for key.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// List returns the live sessions ordered by key.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Key() < sessions[j].Key() })
	return sessions
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll disposes every live session.
func (r *Registry) CloseAll() {
	for _, s := range r.List() {
		s.Dispose(nil)
	}
}
