package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSessionMaxAge bounds how long an NTLM session survives without
// explicit termination.
const DefaultSessionMaxAge = 10 * time.Minute

// SessionState is the NTLM handshake state.
type SessionState string

// Handshake states. Transitions are total: Type1Sent on creation,
// Type2Received after the server challenge is parsed, Authenticated
// once the Type3 message is built.
const (
	StateType1Sent     SessionState = "type1_sent"
	StateType2Received SessionState = "type2_received"
	StateAuthenticated SessionState = "authenticated"
)

// Session is the per-handshake NTLM state record.
type Session struct {
	// ID identifies the session across calls.
	ID string

	// State is the current handshake phase.
	State SessionState

	// CreatedAt is when the handshake started.
	CreatedAt time.Time

	// ServerChallenge is the 8-byte challenge from the Type2 message.
	ServerChallenge []byte

	// Flags are the negotiated flags from the Type2 message.
	Flags uint32

	// AuthorizationHeader is replayed on requests after authentication.
	AuthorizationHeader string
}

// SessionStore holds NTLM sessions with a fixed max age.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxAge   time.Duration
	logger   *zap.Logger
}

// NewSessionStore creates a session store. A non-positive maxAge uses
// the default.
func NewSessionStore(maxAge time.Duration, logger *zap.Logger) *SessionStore {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Create starts a new session in the Type1Sent state.
func (s *SessionStore) Create() *Session {
	session := &Session{
		ID:        uuid.NewString(),
		State:     StateType1Sent,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

// Get returns the session for id. Sessions past the max age are
// evicted and reported as missing.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(session.CreatedAt) > s.maxAge {
		s.Terminate(id)
		return nil, false
	}
	return session, true
}

// Terminate ends a session explicitly.
func (s *SessionStore) Terminate(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of live sessions, aged ones included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts every session past the max age.
func (s *SessionStore) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, session := range s.sessions {
		if now.Sub(session.CreatedAt) > s.maxAge {
			delete(s.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Debug("ntlm sessions swept", zap.Int("dropped", dropped))
	}
	return dropped
}
