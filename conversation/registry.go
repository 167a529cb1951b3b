package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Factory builds an empty session for an id.
type Factory func(id string) *Session

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Registry owns the live sessions. Idle sessions are evicted lazily when the
// registry is touched; sessions with a round trip in flight are never evicted.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	factory  Factory
	idle     time.Duration
	now      func() time.Time
	onEnd    func(id string)
	inUse    func(id string) bool
}

// NewRegistry returns an empty registry. idle <= 0 disables eviction.
func NewRegistry(factory Factory, idle time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		factory:  factory,
		idle:     idle,
		now:      time.Now,
	}
}

// OnEnd registers a hook run after a session is ended or evicted.
func (r *Registry) OnEnd(fn func(id string)) {
	r.mu.Lock()
	r.onEnd = fn
	r.mu.Unlock()
}

// KeepWhile registers a check consulted before evicting an idle session;
// sessions for which it reports true are kept.
func (r *Registry) KeepWhile(fn func(id string) bool) {
	r.mu.Lock()
	r.inUse = fn
	r.mu.Unlock()
}

// Acquire returns the session for id, creating it when unknown. An empty id
// gets a fresh one.
func (r *Registry) Acquire(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	now := r.now()
	evicted := r.evictLocked(now, id)
	e, ok := r.sessions[id]
	if !ok {
		e = &entry{session: r.factory(id)}
		r.sessions[id] = e
	}
	e.lastSeen = now
	onEnd := r.onEnd
	r.mu.Unlock()

	r.finish(evicted, onEnd)
	return e.session
}

// Lookup returns a live session without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.session, true
}

// End tears a session down. It reports false when id is unknown.
func (r *Registry) End(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	onEnd := r.onEnd
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.finish([]*Session{e.session}, onEnd)
	return true
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) evictLocked(now time.Time, keep string) []*Session {
	if r.idle <= 0 {
		return nil
	}
	var out []*Session
	for id, e := range r.sessions {
		if id == keep || now.Sub(e.lastSeen) < r.idle || e.session.State.Awaiting() {
			continue
		}
		if r.inUse != nil && r.inUse(id) {
			e.lastSeen = now
			continue
		}
		delete(r.sessions, id)
		out = append(out, e.session)
	}
	return out
}

func (r *Registry) finish(ended []*Session, onEnd func(string)) {
	for _, s := range ended {
		s.Close()
		if onEnd != nil {
			onEnd(s.ID)
		}
	}
}
