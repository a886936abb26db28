package ops

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// Token derives a deterministic idempotency token from the request. The
// args map is canonicalized through encoding/json, which sorts map keys,
// so two requests with the same logical arguments always hash identically.
func Token(req Request) string {
	if req.IdempotencyKey != "" {
		return req.IdempotencyKey
	}

	canonical, err := json.Marshal(req.Args)
	if err != nil {
		// Args come out of a JSON decode, so re-encoding cannot fail in
		// practice. The fallback keeps the token well-formed; it collapses
		// all unhashable requests for one (session, operation) pair.
		canonical = []byte("unhashable")
	}

	h := sha256.New()
	h.Write([]byte(req.SessionID))
	h.Write([]byte{0})
	h.Write([]byte(req.Name))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// maxStoredResults bounds the replay store. Old entries are dropped FIFO;
// a replay window of this many completed operations is far beyond any
// realistic model retry horizon.
const maxStoredResults = 1024

// resultStore remembers completed mutations by idempotency token so a
// replayed request returns the original result without touching upstream.
type resultStore struct {
	mu      sync.Mutex
	results map[string]Result
	order   []string
}

func newResultStore() *resultStore {
	return &resultStore{results: make(map[string]Result)}
}

func (s *resultStore) get(token string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.results[token]
	return res, ok
}

func (s *resultStore) put(token string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[token]; !exists {
		s.order = append(s.order, token)
	}
	s.results[token] = res

	for len(s.order) > maxStoredResults {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.results, oldest)
	}
}
