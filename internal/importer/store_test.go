package importer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSessionStore(t *testing.T) {
	defer goleak.VerifyNone(t,
		// the go-cache janitor cannot be stopped
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)

	store := NewSessionStore(time.Minute, time.Minute, nil)
	sess := NewSession("clientes", nil, nil)
	store.Put(sess)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, store.Len())

	store.Delete(sess.ID)
	_, err = store.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_Expiry(t *testing.T) {
	var mu sync.Mutex
	var evicted []string

	store := NewSessionStore(20*time.Millisecond, 5*time.Millisecond, func(s *Session) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, s.ID)
	})
	sess := NewSession("clientes", nil, nil)
	store.Put(sess)

	// polling Get would keep the session alive, so wait on the eviction hook
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evicted) == 1 && evicted[0] == sess.ID
	}, time.Second, 5*time.Millisecond)

	_, err := store.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, store.Len())
}

func TestSessionStore_Defaults(t *testing.T) {
	store := NewSessionStore(0, 0, nil)
	assert.Equal(t, DefaultSessionTTL, store.TTL())
}
