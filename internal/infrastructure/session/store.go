// Package session keeps bounded conversation memory per session in process.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const (
	DefaultMaxTurns = 6
	DefaultMaxChars = 8000
	DefaultIdleTTL  = 30 * time.Minute
)

// ring is a fixed-capacity FIFO of turns. The newest turn is always kept,
// even when it alone exceeds the character budget.
type ring struct {
	mu       sync.Mutex
	turns    []domain.Turn
	head     int
	size     int
	chars    int
	lastUsed time.Time
}

func (r *ring) push(turn domain.Turn, maxChars int) {
	if r.size == len(r.turns) {
		r.evictOldest()
	}
	r.turns[(r.head+r.size)%len(r.turns)] = turn
	r.size++
	r.chars += turn.Size()
	for r.size > 1 && r.chars > maxChars {
		r.evictOldest()
	}
}

func (r *ring) evictOldest() {
	r.chars -= r.turns[r.head].Size()
	r.turns[r.head] = domain.Turn{}
	r.head = (r.head + 1) % len(r.turns)
	r.size--
}

// last copies the newest n turns, oldest first.
func (r *ring) last(n int) []domain.Turn {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]domain.Turn, n)
	for i := 0; i < n; i++ {
		out[i] = r.turns[(r.head+r.size-n+i)%len(r.turns)]
	}
	return out
}

type Store struct {
	maxTurns int
	maxChars int
	idleTTL  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*ring
}

func NewStore(maxTurns, maxChars int, idleTTL time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Store{
		maxTurns: maxTurns,
		maxChars: maxChars,
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*ring),
	}
}

func (s *Store) Append(sessionID string, turn domain.Turn) {
	r := s.session(sessionID, true)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.push(turn, s.maxChars)
	r.lastUsed = s.now()
}

func (s *Store) Context(sessionID string) []domain.Turn {
	return s.Recent(sessionID, 0)
}

// Recent returns up to n newest turns, oldest first. n <= 0 returns all.
func (s *Store) Recent(sessionID string, n int) []domain.Turn {
	r := s.session(sessionID, false)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUsed = s.now()
	return r.last(n)
}

func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// PruneIdle drops sessions unused for longer than the idle TTL and returns
// how many were removed.
func (s *Store) PruneIdle() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.sessions {
		r.mu.Lock()
		idle := r.lastUsed.Before(cutoff)
		r.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run prunes idle sessions periodically until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.PruneIdle(); n > 0 {
				slog.Debug("session_pruned", "count", n)
			}
		}
	}
}

// session holds the map lock only for the lookup.
func (s *Store) session(id string, create bool) *ring {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[id]
	if !ok && create {
		r = &ring{turns: make([]domain.Turn, s.maxTurns), lastUsed: s.now()}
		s.sessions[id] = r
	}
	return r
}
