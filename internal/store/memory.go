package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	events   []model.Event
	rounds   map[uint64]model.RoundResult
	snapshot *model.Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds: make(map[uint64]model.RoundResult),
	}
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for i := range s.events {
		if filter.matches(&s.events[i]) {
			result = append(result, s.events[i])
		}
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func (s *MemoryStore) SaveRound(_ context.Context, r *model.RoundResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[r.Round]; ok {
		return fmt.Errorf("round %d already saved", r.Round)
	}
	s.rounds[r.Round] = *r
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, round uint64) (*model.RoundResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[round]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", round, ErrNotFound)
	}
	return &r, nil
}

func (s *MemoryStore) ListRounds(_ context.Context, limit int) ([]model.RoundResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]model.RoundResult, 0, len(s.rounds))
	for _, r := range s.rounds {
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Round > rounds[j].Round })
	if limit > 0 && len(rounds) > limit {
		rounds = rounds[:limit]
	}
	return rounds, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.snapshot = copySnapshot(snap)
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	return copySnapshot(s.snapshot), nil
}

func copySnapshot(snap *model.Snapshot) *model.Snapshot {
	cp := *snap
	cp.Users = append([]model.User(nil), snap.Users...)
	cp.LPs = append([]model.LP(nil), snap.LPs...)
	cp.ReferralClaimable = append([]model.Balance(nil), snap.ReferralClaimable...)
	return &cp
}
