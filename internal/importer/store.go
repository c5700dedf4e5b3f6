package importer

import (
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
)

// Session store defaults.
const (
	DefaultSessionTTL    = 30 * time.Minute
	DefaultCleanupPeriod = 5 * time.Minute
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("upload not found")

// SessionStore keeps in-flight sessions for a limited time. Every access
// extends a session's lifetime.
type SessionStore struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewSessionStore returns a store whose sessions expire after ttl of inactivity.
// onEvict, when set, is called for every session that expires or is deleted.
func NewSessionStore(ttl, cleanup time.Duration, onEvict func(*Session)) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if cleanup <= 0 {
		cleanup = DefaultCleanupPeriod
	}

	c := cache.New(ttl, cleanup)
	if onEvict != nil {
		c.OnEvicted(func(_ string, v interface{}) {
			if sess, ok := v.(*Session); ok {
				onEvict(sess)
			}
		})
	}
	return &SessionStore{items: c, ttl: ttl}
}

// Put stores a session under its ID.
func (s *SessionStore) Put(sess *Session) {
	s.items.Set(sess.ID, sess, cache.DefaultExpiration)
}

// Get returns a live session and refreshes its expiry.
func (s *SessionStore) Get(id string) (*Session, error) {
	v, ok := s.items.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess := v.(*Session)
	s.items.Set(id, sess, cache.DefaultExpiration)
	return sess, nil
}

// Delete forgets a session.
func (s *SessionStore) Delete(id string) {
	s.items.Delete(id)
}

// Len returns the number of stored sessions, including expired ones not yet cleaned up.
func (s *SessionStore) Len() int {
	return s.items.ItemCount()
}

// TTL returns the inactivity timeout.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}
