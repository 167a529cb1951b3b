package conversation

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrInvalidInput    = errors.New("database URI must not be empty")
	ErrMessageNotFound = errors.New("message not found")
	ErrSessionNotFound = errors.New("session not found")
)

// Kind is the declared database type of a connection. It is a routing hint
// only; the URI is never parsed.
type Kind string

const (
	KindPostgreSQL Kind = "postgresql"
	KindMySQL      Kind = "mysql"
	KindSQLite     Kind = "sqlite"
	KindMongoDB    Kind = "mongodb"
	KindOther      Kind = "other"
)

// ParseKind maps free text onto a Kind. Empty input is postgresql, unknown
// input is other.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindPostgreSQL:
		return KindPostgreSQL
	case KindMySQL:
		return KindMySQL
	case KindSQLite:
		return KindSQLite
	case KindMongoDB:
		return KindMongoDB
	default:
		return KindOther
	}
}

// Descriptor is the active database connection.
type Descriptor struct {
	URI  string `json:"uri"`
	Kind Kind   `json:"kind"`
}

// ConnectionStore holds at most one Descriptor.
type ConnectionStore struct {
	mu       sync.RWMutex
	current  *Descriptor
	onChange func()
}

// NewConnectionStore returns an empty store. onChange may be nil.
func NewConnectionStore(onChange func()) *ConnectionStore {
	return &ConnectionStore{onChange: onChange}
}

// Get returns the active descriptor, if any.
func (s *ConnectionStore) Get() (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Descriptor{}, false
	}
	return *s.current, true
}

// Set replaces the active descriptor with {trimmed uri, kind}.
func (s *ConnectionStore) Set(uri string, kind Kind) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ErrInvalidInput
	}
	d := &Descriptor{URI: uri, Kind: ParseKind(string(kind))}

	s.mu.Lock()
	s.current = d
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange()
	}
	return nil
}
