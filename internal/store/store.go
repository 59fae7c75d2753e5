// Package store defines the persistence interface for the jackpot engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// ErrNotFound is returned when a round or snapshot does not exist.
var ErrNotFound = errors.New("store: not found")

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Type  model.EventType
	Round uint64
	// Limit caps the number of events returned, keeping the most recent.
	Limit int
}

func (f EventFilter) matches(ev *model.Event) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Round != 0 && ev.Round != f.Round {
		return false
	}
	return true
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Event journal ---

	// AppendEvent appends an immutable event record.
	AppendEvent(ctx context.Context, ev *model.Event) error

	// ListEvents returns matching events, oldest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)

	// --- Round history ---

	// SaveRound persists a settled round.
	SaveRound(ctx context.Context, r *model.RoundResult) error

	// GetRound retrieves a settled round by number.
	GetRound(ctx context.Context, round uint64) (*model.RoundResult, error)

	// ListRounds returns up to limit settled rounds, newest first.
	ListRounds(ctx context.Context, limit int) ([]model.RoundResult, error)

	// --- Engine snapshots ---

	// SaveSnapshot replaces the latest engine snapshot.
	SaveSnapshot(ctx context.Context, s *model.Snapshot) error

	// LatestSnapshot returns the most recently saved snapshot.
	LatestSnapshot(ctx context.Context) (*model.Snapshot, error)
}
