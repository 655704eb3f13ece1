package session

import (
	"sort"
	"sync"
	"time"

	"speechbridge/internal/domain"
)

// Registry is the single owner of live sessions.
type Registry struct {
	mu   sync.RWMutex
	data map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{data: make(map[string]*Session)}
}

// Put registers s and returns the session it replaced, if any.
func (r *Registry) Put(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.data[s.ID]
	r.data[s.ID] = s
	return prev
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[id]
	return s, ok
}

// TakeLastResult reads and clears the session's mailbox in one step.
func (r *Registry) TakeLastResult(id string) (*domain.Result, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return s.mailbox.Take(), true
}

// Remove deletes id and returns the removed session, nil when absent.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.data[id]
	delete(r.data, id)
	return s
}

// RemoveIf deletes id only while it still maps to s.
func (r *Registry) RemoveIf(id string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.data[id]; !ok || cur != s {
		return false
	}
	delete(r.data, id)
	return true
}

// Idle lists sessions whose last caller activity is before cutoff.
func (r *Registry) Idle(cutoff time.Time) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.data {
		if s.LastActive().Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *Registry) Snapshot() []domain.SessionInfo {
	r.mu.RLock()
	out := make([]domain.SessionInfo, 0, len(r.data))
	for _, s := range r.data {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Drain empties the registry and returns everything it held.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.data))
	for id, s := range r.data {
		out = append(out, s)
		delete(r.data, id)
	}
	return out
}
