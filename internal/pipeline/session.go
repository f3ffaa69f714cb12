package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/cache"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
)

// ErrSuperseded is returned when a newer query started in the same session before
// this one finished. Its result is discarded.
var ErrSuperseded = errors.New("query superseded by a newer query in the same session")

type inflight struct {
	id     uint64
	cancel context.CancelFunc
}

// Sessions tracks the in-flight query and the latest result of each session.
// Starting a query cancels the one already running for that session.
type Sessions struct {
	mu      sync.Mutex
	seq     uint64
	running map[string]inflight
	results *cache.LRU[string, Result]
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewSessions creates a tracker that retains results for up to maxSessions sessions.
func NewSessions(maxSessions int, metrics *observability.Metrics, logger *slog.Logger) *Sessions {
	return &Sessions{
		running: make(map[string]inflight),
		results: cache.NewLRU[string, Result](maxSessions),
		metrics: metrics,
		logger:  logger,
	}
}

// Run executes fn as the current query of sessionID. If another query for the same
// session starts before fn returns, fn's context is cancelled and Run returns
// ErrSuperseded. A successful result replaces the session's previous one.
func (s *Sessions) Run(ctx context.Context, sessionID string, fn func(ctx context.Context) (Result, error)) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.seq++
	id := s.seq
	if prev, ok := s.running[sessionID]; ok {
		prev.cancel()
		s.logger.Debug("cancelling previous query", "session", sessionID)
	}
	s.running[sessionID] = inflight{id: id, cancel: cancel}
	s.mu.Unlock()

	res, err := fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.running[sessionID]; !ok || cur.id != id {
		s.metrics.SessionsSuperseded.Inc()
		return Result{}, ErrSuperseded
	}
	delete(s.running, sessionID)

	if err != nil {
		return res, err
	}
	s.results.Put(sessionID, res)
	return res, nil
}

// Latest returns the most recent completed result of a session.
func (s *Sessions) Latest(sessionID string) (Result, bool) {
	return s.results.Get(sessionID)
}

// Forget drops a session's stored result and cancels its in-flight query.
func (s *Sessions) Forget(sessionID string) {
	s.mu.Lock()
	if cur, ok := s.running[sessionID]; ok {
		cur.cancel()
		delete(s.running, sessionID)
	}
	s.mu.Unlock()
	s.results.Delete(sessionID)
}
