package memory

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

// SessionStore keeps conversation sessions in a map keyed by sender.
type SessionStore struct {
	mu        sync.Mutex
	sessions  map[string]domain.ConversationSession
	retention time.Duration
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithRetention drops sessions with no activity for longer than d, like the
// TTL on Redis-backed sessions. Zero keeps sessions forever.
func WithRetention(d time.Duration) SessionOption {
	return func(s *SessionStore) { s.retention = d }
}

// NewSessionStore creates an empty store.
func NewSessionStore(opts ...SessionOption) *SessionStore {
	s := &SessionStore{sessions: make(map[string]domain.ConversationSession)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the sender's session, or a fresh one on first contact.
func (s *SessionStore) Load(_ context.Context, senderID string) (domain.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[senderID]
	if !ok {
		return domain.NewSession(senderID), nil
	}
	if s.expired(sess, domain.Now()) {
		delete(s.sessions, senderID)
		return domain.NewSession(senderID), nil
	}
	return cloneSession(sess), nil
}

func (s *SessionStore) Save(_ context.Context, sess domain.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SenderID] = cloneSession(sess)
	return nil
}

// Len reports how many sessions are held.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// AbandonIdle clears drafts of sessions with no activity since cutoff and
// evicts sessions past the retention period.
func (s *SessionStore) AbandonIdle(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := domain.Now()
	n := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			continue
		}
		if !sess.IdleSince(cutoff) {
			continue
		}
		if sess.Abandon() {
			s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) expired(sess domain.ConversationSession, now time.Time) bool {
	return s.retention > 0 && sess.LastActivity.Before(now.Add(-s.retention))
}

// cloneSession copies the slices and pointers so callers cannot mutate stored state.
func cloneSession(sess domain.ConversationSession) domain.ConversationSession {
	sess.Processed = append([]domain.ProcessedMessage(nil), sess.Processed...)
	if sess.Draft.Location != nil {
		loc := *sess.Draft.Location
		sess.Draft.Location = &loc
	}
	if sess.Draft.Severity != nil {
		v := *sess.Draft.Severity
		sess.Draft.Severity = &v
	}
	if sess.Draft.Confidence != nil {
		v := *sess.Draft.Confidence
		sess.Draft.Confidence = &v
	}
	return sess
}
