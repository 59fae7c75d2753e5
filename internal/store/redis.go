package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveRound(ctx context.Context, r *model.RoundResult) error {
	if err := s.primary.SaveRound(ctx, r); err != nil {
		return err
	}
	s.cache(ctx, roundKey(r.Round), r)
	s.rdb.Del(ctx, recentRoundsKey)
	return nil
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cache(ctx, snapshotKey, snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRound(ctx context.Context, round uint64) (*model.RoundResult, error) {
	data, err := s.rdb.Get(ctx, roundKey(round)).Bytes()
	if err == nil {
		var r model.RoundResult
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRound(ctx, round)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, roundKey(round), r)
	return r, nil
}

// ListRounds caches only the default page, which is what the API polls.
func (s *CachedStore) ListRounds(ctx context.Context, limit int) ([]model.RoundResult, error) {
	if limit != DefaultRoundPage {
		return s.primary.ListRounds(ctx, limit)
	}
	data, err := s.rdb.Get(ctx, recentRoundsKey).Bytes()
	if err == nil {
		var rounds []model.RoundResult
		if json.Unmarshal(data, &rounds) == nil {
			return rounds, nil
		}
	}

	rounds, err := s.primary.ListRounds(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, recentRoundsKey, rounds)
	return rounds, nil
}

func (s *CachedStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, snapshotKey, snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	return s.primary.AppendEvent(ctx, ev)
}

func (s *CachedStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, filter)
}

// --- Cache helpers ---

// cache stores v as JSON. v must be a pointer or slice so uint256 fields
// encode as decimal strings.
func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// DefaultRoundPage is the round history page size the API requests by default.
const DefaultRoundPage = 20

const (
	snapshotKey     = "jackpot:snapshot"
	recentRoundsKey = "jackpot:rounds:recent"
)

func roundKey(round uint64) string { return fmt.Sprintf("jackpot:round:%d", round) }
