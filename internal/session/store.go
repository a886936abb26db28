// Package session provides per-conversation state with a sliding TTL.
//
// Sessions live in process memory only. A session that is not touched for
// the configured TTL is gone: expired entries are dropped lazily on access
// and reaped periodically by a background sweeper. There is no persistence
// across restarts.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Store keeps session memory keyed by session ID.
//
// Every successful Get or Put slides the expiry forward by the TTL.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	ttl   time.Duration
	sweep time.Duration
	now   func() time.Time // injectable for tests
	log   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type entry struct {
	mem       *Memory
	expiresAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Tests use this to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSweepInterval sets how often the background sweeper reaps expired
// sessions. A non-positive interval disables the sweeper entirely; expired
// entries are then only dropped lazily on access.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweep = d }
}

// NewStore creates a session store with the given sliding TTL and starts
// the background sweeper. Call Close to stop it.
func NewStore(ttl time.Duration, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		sweep:   5 * time.Minute,
		now:     time.Now,
		log:     logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweep > 0 {
		go s.sweepLoop()
	} else {
		close(s.doneCh)
	}
	return s
}

// Get returns a deep copy of the session memory and slides its expiry.
// A brand new session ID yields a fresh empty Memory, not an error;
// ErrNotFound is reserved for callers that need to distinguish expiry
// (see Peek).
func (s *Store) Get(id string) (*Memory, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[id]
	if ok && now.Before(e.expiresAt) {
		e.expiresAt = now.Add(s.ttl)
		return e.mem.Clone(), nil
	}
	if ok {
		// Expired: drop it and start over.
		delete(s.entries, id)
	}
	return &Memory{}, nil
}

// Peek returns the session memory without creating one or sliding the
// expiry. Returns ErrNotFound for unknown or expired sessions.
func (s *Store) Peek(id string) (*Memory, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.mem.Clone(), nil
}

// Put stores a deep copy of the memory under the session ID and slides
// the expiry.
func (s *Store) Put(id string, mem *Memory) error {
	id, err := NormalizeID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = &entry{
		mem:       mem.Clone(),
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *Store) Delete(id string) error {
	id, err := NormalizeID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return nil
}

// Len reports the number of live (non-expired) sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Close stops the background sweeper and waits for it to exit.
// Safe to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Store) sweepLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.reap(); n > 0 {
				s.log.Debug("reaped expired sessions", "count", n)
			}
		}
	}
}

// reap removes all expired entries and returns how many were dropped.
func (s *Store) reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}
