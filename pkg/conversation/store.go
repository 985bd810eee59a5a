// Package conversation implements the bounded per-user context store:
// the recent-turn window grounding classification and replies.
//
// The in-memory window is authoritative. A durable mirror write is attempted
// after every append; mirror failure is a warning, never an error, and the
// window stays correct in memory.
package conversation

import (
	"context"
	"sync"

	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/logger"
)

// Turn is one conversation turn. Immutable once appended.
type Turn struct {
	Role domain.MessageRole `json:"role"`
	Text string             `json:"text"`
	At   domain.Timestamp   `json:"at"`
}

// Mirror is the optional durable copy of the turn history.
type Mirror interface {
	AppendTurn(ctx context.Context, userID domain.EntityID, turn Turn) error
	RecentTurns(ctx context.Context, userID domain.EntityID, limit int) ([]Turn, error)
}

// window is one user's partition. Partitioning per user means appends for
// different users never contend.
type window struct {
	mu       sync.Mutex
	turns    []Turn
	hydrated bool
}

// Store holds bounded conversation memory for every known user.
type Store struct {
	mu     sync.RWMutex
	users  map[domain.EntityID]*window
	size   int
	mirror Mirror
}

// NewStore creates a store with the given window size. mirror may be nil,
// in which case memory is the only copy.
func NewStore(size int, mirror Mirror) *Store {
	if size <= 0 {
		size = 6
	}
	return &Store{
		users:  make(map[domain.EntityID]*window),
		size:   size,
		mirror: mirror,
	}
}

func (s *Store) partition(userID domain.EntityID) *window {
	s.mu.RLock()
	w, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.users[userID]; ok {
		return w
	}
	w = &window{}
	s.users[userID] = w
	return w
}

// hydrate loads the mirror copy into an empty partition. Called once per
// user, lazily, under the partition lock.
func (s *Store) hydrate(ctx context.Context, userID domain.EntityID, w *window) {
	w.hydrated = true
	if s.mirror == nil {
		return
	}
	turns, err := s.mirror.RecentTurns(ctx, userID, s.size)
	if err != nil {
		logger.WarnCF("context", "mirror read failed, starting with empty window", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
		return
	}
	w.turns = turns
	s.trim(w)
}

// Append adds a turn to the user's window, evicting the oldest turn once the
// window is full. A zero userID is the fallback-identity case: there is no
// user record to attach history to, so the call is a no-op.
func (s *Store) Append(ctx context.Context, userID domain.EntityID, turn Turn) {
	if userID.IsZero() {
		return
	}

	w := s.partition(userID)
	w.mu.Lock()
	if !w.hydrated {
		s.hydrate(ctx, userID, w)
	}
	w.turns = append(w.turns, turn)
	s.trim(w)
	w.mu.Unlock()

	if s.mirror == nil {
		return
	}
	if err := s.mirror.AppendTurn(ctx, userID, turn); err != nil {
		logger.WarnCF("context", "mirror write failed, in-memory window remains authoritative", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
	}
}

// Read returns the user's window, oldest first. Unknown users and the zero
// userID read as empty, never as an error.
func (s *Store) Read(ctx context.Context, userID domain.EntityID) []Turn {
	if userID.IsZero() {
		return nil
	}

	w := s.partition(userID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hydrated {
		s.hydrate(ctx, userID, w)
	}
	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// WindowSize returns the configured window length.
func (s *Store) WindowSize() int { return s.size }

func (s *Store) trim(w *window) {
	if len(w.turns) > s.size {
		w.turns = w.turns[len(w.turns)-s.size:]
	}
}
