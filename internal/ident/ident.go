// Package ident mints the lexicographically sortable identifiers used
// across the memory store. IDs are ULIDs with a short type prefix, e.g.
// "message_01J5…". Within one Service, two IDs minted in the same
// millisecond still sort in mint order (monotonic entropy); across
// process restarts the random component makes collisions astronomically
// unlikely.
package ident

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID kind prefixes. The underscore separator keeps the prefix readable
// while preserving lexicographic order within a kind.
const (
	KindMessage = "message"
	KindSummary = "summary"
	KindWorker  = "worker"
	KindSession = "session"
	KindToolUse = "toolu"
)

// Service mints prefixed ULIDs. Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// New creates a Service backed by crypto/rand entropy.
func New() *Service {
	return &Service{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewWithClock creates a Service with an injected clock (tests).
func NewWithClock(now func() time.Time) *Service {
	s := New()
	s.now = now
	return s
}

// Mint returns a new id with the given kind prefix.
func (s *Service) Mint(kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(s.now().UTC()), s.entropy)
	return kind + "_" + id.String()
}

// MessageID mints a temporal message id.
func (s *Service) MessageID() string { return s.Mint(KindMessage) }

// SummaryID mints a temporal summary id.
func (s *Service) SummaryID() string { return s.Mint(KindSummary) }

// WorkerID mints a worker id.
func (s *Service) WorkerID() string { return s.Mint(KindWorker) }

// SessionID mints a session id.
func (s *Service) SessionID() string { return s.Mint(KindSession) }

// ToolUseID mints a synthetic tool_use id (used when a provider response
// omits one).
func (s *Service) ToolUseID() string { return s.Mint(KindToolUse) }
