package proxy

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/caffeineduck/actionproxy/executor"
)

// sessionTable holds keyed sessions. Entries expire after ttl without use
// and the least recently used one is dropped once max is reached; either
// way the evicted session is closed.
//
// Eviction runs under the cache lock, and closing waits for a run in
// progress, so evicted sessions are closed on their own goroutine.
type sessionTable struct {
	cache   *expirable.LRU[string, *executor.Session]
	closing sync.WaitGroup
}

func newSessionTable(max int, ttl time.Duration, logger *zap.Logger) *sessionTable {
	t := &sessionTable{}
	onEvict := func(id string, s *executor.Session) {
		sessionsActive.Dec()
		t.closing.Add(1)
		go func() {
			defer t.closing.Done()
			if err := s.Close(); err != nil {
				logger.Warn("close session", zap.String("session_id", id), zap.Error(err))
			}
			logger.Debug("session closed", zap.String("session_id", id))
		}()
	}
	t.cache = expirable.NewLRU(max, onEvict, ttl)
	return t
}

func (t *sessionTable) add(s *executor.Session) string {
	id := ulid.Make().String()
	t.cache.Add(id, s)
	sessionsActive.Inc()
	return id
}

// get returns the session and restarts its idle timer.
func (t *sessionTable) get(id string) (*executor.Session, bool) {
	s, ok := t.cache.Get(id)
	if !ok {
		return nil, false
	}
	t.cache.Add(id, s)
	return s, true
}

func (t *sessionTable) remove(id string) bool {
	return t.cache.Remove(id)
}

func (t *sessionTable) len() int {
	return t.cache.Len()
}

// closeAll evicts every session and waits until all of them are closed.
func (t *sessionTable) closeAll() {
	t.cache.Purge()
	t.closing.Wait()
}
