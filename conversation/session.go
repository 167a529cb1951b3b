package conversation

import (
	"sync"

	"go.uber.org/zap"
)

// MessageView is a message with its rendering hint.
type MessageView struct {
	Message
	IsQuery bool `json:"is_query"`
}

// View is what a UI renders for a session.
type View struct {
	ID               string        `json:"id"`
	Connection       *Descriptor   `json:"connection"`
	Messages         []MessageView `json:"messages"`
	AwaitingResponse bool          `json:"awaiting_response"`
	LastCopiedID     string        `json:"last_copied_id,omitempty"`
	Draft            string        `json:"draft"`
}

// Session is the per-UI-session context: one connection, one conversation
// and the controller that drives them. It starts empty.
type Session struct {
	ID         string
	Connection *ConnectionStore
	State      *State
	Controller *Controller

	mu        sync.Mutex
	listeners map[int]func(View)
	nextID    int
}

// NewSession builds an empty session. rec and logger may be nil.
func NewSession(id string, fwd Forwarder, rec Recorder, logger *zap.Logger) *Session {
	s := &Session{ID: id, listeners: make(map[int]func(View))}
	s.Connection = NewConnectionStore(s.notify)
	s.State = NewState(s.notify)
	s.Controller = NewController(id, s.Connection, s.State, fwd, rec, logger)
	return s
}

// View renders the current session.
func (s *Session) View() View {
	snap := s.State.Snapshot()
	v := View{
		ID:               s.ID,
		Messages:         make([]MessageView, 0, len(snap.Messages)),
		AwaitingResponse: snap.AwaitingResponse,
		LastCopiedID:     snap.LastCopiedID,
		Draft:            snap.Draft,
	}
	if d, ok := s.Connection.Get(); ok {
		v.Connection = &d
	}
	for _, m := range snap.Messages {
		v.Messages = append(v.Messages, MessageView{Message: m, IsQuery: Classify(m.Content).IsQuery})
	}
	return v
}

// Subscribe registers fn to receive a View after every change.
func (s *Session) Subscribe(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	fns := make([]func(View), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	v := s.View()
	for _, fn := range fns {
		fn(v)
	}
}

// Close tears the session down: listeners are dropped and timers stopped.
func (s *Session) Close() {
	s.State.stop()
	s.mu.Lock()
	s.listeners = make(map[int]func(View))
	s.mu.Unlock()
}
