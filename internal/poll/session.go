// Package poll owns the in-flight side of generation jobs: the per-batch
// orchestration session, the reusable poll scheduler, and the progress
// estimator. Every job kind shares the one scheduler, parameterized by a
// per-kind Config instead of bespoke loops.
package poll

import "sync"

// Session tracks one active polling run. It is process-local and never
// persisted; a reload rebuilds it from the checkpointed draft. The session
// is passed by reference so two drafts open side by side cannot interfere
// through shared globals.
type Session struct {
	mu        sync.Mutex
	inFlight  map[string]struct{}
	completed map[string]struct{}
	cancelled bool
	disposed  bool
}

// NewSession starts a fresh orchestration session.
func NewSession() *Session {
	return &Session{
		inFlight:  make(map[string]struct{}),
		completed: make(map[string]struct{}),
	}
}

// Begin marks a request as having a status call in flight. It returns false
// when a call for the same request has not resolved yet, or when the
// session is cancelled or disposed; the caller must then skip this tick.
func (s *Session) Begin(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.disposed {
		return false
	}
	if _, busy := s.inFlight[requestID]; busy {
		return false
	}
	s.inFlight[requestID] = struct{}{}
	return true
}

// End marks the in-flight status call for a request as resolved.
func (s *Session) End(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, requestID)
}

// MarkCompleted records that a request reached a terminal state.
func (s *Session) MarkCompleted(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[requestID] = struct{}{}
}

// Completed reports whether a request already reached a terminal state.
func (s *Session) Completed(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[requestID]
	return ok
}

// Cancel requests a cooperative stop. Ticks check this flag before doing
// work; already-issued network calls finish but their results are
// discarded rather than surfaced.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Cancelled reports whether the session was cancelled.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Dispose tears the session down after the batch finished or the owner
// navigated away. A disposed session schedules no further work.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.inFlight = make(map[string]struct{})
}
