package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// copiedResetAfter is how long the "copied" indicator stays set.
const copiedResetAfter = 2 * time.Second

// Message is immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a consistent copy of the conversation.
type Snapshot struct {
	Messages         []Message `json:"messages"`
	AwaitingResponse bool      `json:"awaiting_response"`
	LastCopiedID     string    `json:"last_copied_id,omitempty"`
	Draft            string    `json:"draft"`
}

// State is the append-only message sequence plus transient UI flags.
// awaiting is the single-flight latch: at most one round trip at a time.
type State struct {
	mu           sync.Mutex
	messages     []Message
	awaiting     bool
	lastCopiedID string
	copiedTimer  *time.Timer
	draft        string
	now          func() time.Time
	onChange     func()
}

// NewState returns an empty conversation. onChange may be nil; it is called
// outside the lock after every mutation.
func NewState(onChange func()) *State {
	return &State{now: time.Now, onChange: onChange}
}

func (s *State) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *State) newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
}

// Append adds a message at the end of the sequence.
func (s *State) Append(role Role, content string) Message {
	s.mu.Lock()
	m := s.newMessage(role, content)
	s.messages = append(s.messages, m)
	s.mu.Unlock()

	s.changed()
	return m
}

// Begin starts a round trip: it latches awaiting, appends the user message
// and clears the draft in one step. It reports false, with no mutation,
// when a round trip is already in flight.
func (s *State) Begin(text string) (Message, bool) {
	s.mu.Lock()
	if s.awaiting {
		s.mu.Unlock()
		return Message{}, false
	}
	s.awaiting = true
	m := s.newMessage(RoleUser, text)
	s.messages = append(s.messages, m)
	s.draft = ""
	s.mu.Unlock()

	s.changed()
	return m, true
}

// Finish appends the assistant reply and releases the latch.
func (s *State) Finish(content string) Message {
	s.mu.Lock()
	m := s.newMessage(RoleAssistant, content)
	s.messages = append(s.messages, m)
	s.awaiting = false
	s.mu.Unlock()

	s.changed()
	return m
}

// release clears the latch without appending. Used on exit paths that never
// reached Finish.
func (s *State) release() {
	s.mu.Lock()
	was := s.awaiting
	s.awaiting = false
	s.mu.Unlock()

	if was {
		s.changed()
	}
}

// Awaiting reports whether a round trip is in flight.
func (s *State) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

// Messages returns a copy of the sequence in insertion order.
func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len is the number of messages.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Find looks a message up by id.
func (s *State) Find(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// SetDraft replaces the input buffer.
func (s *State) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
	s.changed()
}

// Draft returns the input buffer.
func (s *State) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Clear empties the message sequence and the input buffer. An in-flight
// round trip keeps its latch and still appends its reply when it finishes.
func (s *State) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.draft = ""
	s.lastCopiedID = ""
	if s.copiedTimer != nil {
		s.copiedTimer.Stop()
		s.copiedTimer = nil
	}
	s.mu.Unlock()
	s.changed()
}

// MarkCopied records id as the last copied message and schedules the reset.
func (s *State) MarkCopied(id string) {
	s.mu.Lock()
	s.lastCopiedID = id
	if s.copiedTimer != nil {
		s.copiedTimer.Stop()
	}
	s.copiedTimer = time.AfterFunc(copiedResetAfter, func() {
		s.mu.Lock()
		if s.lastCopiedID != id {
			s.mu.Unlock()
			return
		}
		s.lastCopiedID = ""
		s.copiedTimer = nil
		s.mu.Unlock()
		s.changed()
	})
	s.mu.Unlock()
	s.changed()
}

// LastCopiedID is the id set by the most recent copy, until it resets.
func (s *State) LastCopiedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCopiedID
}

// Snapshot copies the whole state under one lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		Messages:         msgs,
		AwaitingResponse: s.awaiting,
		LastCopiedID:     s.lastCopiedID,
		Draft:            s.draft,
	}
}

// stop cancels the pending copied-indicator timer.
func (s *State) stop() {
	s.mu.Lock()
	if s.copiedTimer != nil {
		s.copiedTimer.Stop()
		s.copiedTimer = nil
	}
	s.mu.Unlock()
}
