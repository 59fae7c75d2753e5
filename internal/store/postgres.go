package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// schema is applied by Migrate. Token amounts are NUMERIC(78,0), wide enough
// for any uint256.
const schema = `
CREATE TABLE IF NOT EXISTS jackpot_events (
	seq        BIGSERIAL PRIMARY KEY,
	id         UUID NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	round      BIGINT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL,
	data       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS jackpot_events_round_idx ON jackpot_events (round);

CREATE TABLE IF NOT EXISTS jackpot_rounds (
	round                  BIGINT PRIMARY KEY,
	ended_at               TIMESTAMPTZ NOT NULL,
	outcome                TEXT NOT NULL,
	winner                 TEXT NOT NULL,
	winning_ticket         NUMERIC(78,0) NOT NULL,
	win_amount             NUMERIC(78,0) NOT NULL,
	winner_tickets_bps     NUMERIC(78,0) NOT NULL,
	random_value           NUMERIC(78,0) NOT NULL,
	user_pool_total        NUMERIC(78,0) NOT NULL,
	lp_pool_total          NUMERIC(78,0) NOT NULL,
	ticket_count_total_bps NUMERIC(78,0) NOT NULL,
	lp_fees_distributed    NUMERIC(78,0) NOT NULL,
	protocol_fee           NUMERIC(78,0) NOT NULL
);

CREATE TABLE IF NOT EXISTS jackpot_snapshots (
	id       BIGSERIAL PRIMARY KEY,
	round    BIGINT NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL,
	data     JSONB NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All token amounts are stored as NUMERIC for exact integer precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jackpot_events (id, type, round, timestamp, data)
		 VALUES ($1, $2, $3, $4, $5::JSONB)`,
		ev.ID, string(ev.Type), int64(ev.Round), ev.Timestamp, string(ev.Data),
	)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, type, round, timestamp, data::TEXT
		 FROM jackpot_events
		 WHERE ($1 = '' OR type = $1) AND ($2 = 0 OR round = $2)
		 ORDER BY seq DESC
		 LIMIT $3`,
		string(f.Type), int64(f.Round), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var typ, data string
		var round int64
		if err := rows.Scan(&ev.ID, &typ, &round, &ev.Timestamp, &data); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(typ)
		ev.Round = uint64(round)
		ev.Data = json.RawMessage(data)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

func (s *PostgresStore) SaveRound(ctx context.Context, r *model.RoundResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jackpot_rounds (round, ended_at, outcome, winner,
		        winning_ticket, win_amount, winner_tickets_bps, random_value,
		        user_pool_total, lp_pool_total, ticket_count_total_bps,
		        lp_fees_distributed, protocol_fee)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC)`,
		int64(r.Round), r.EndedAt, string(r.Outcome), r.Winner.Hex(),
		r.WinningTicket.Dec(), r.WinAmount.Dec(), r.WinnerTicketsBps.Dec(), r.RandomValue.Dec(),
		r.UserPoolTotal.Dec(), r.LPPoolTotal.Dec(), r.TicketCountTotalBps.Dec(),
		r.LPFeesDistributed.Dec(), r.ProtocolFee.Dec(),
	)
	return err
}

const roundColumns = `round, ended_at, outcome, winner,
		winning_ticket::TEXT, win_amount::TEXT, winner_tickets_bps::TEXT, random_value::TEXT,
		user_pool_total::TEXT, lp_pool_total::TEXT, ticket_count_total_bps::TEXT,
		lp_fees_distributed::TEXT, protocol_fee::TEXT`

func (s *PostgresStore) GetRound(ctx context.Context, round uint64) (*model.RoundResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM jackpot_rounds WHERE round = $1`, int64(round))
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("round %d: %w", round, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get round %d: %w", round, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRounds(ctx context.Context, limit int) ([]model.RoundResult, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM jackpot_rounds ORDER BY round DESC LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.RoundResult
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jackpot_snapshots (round, taken_at, data) VALUES ($1, $2, $3::JSONB)`,
		int64(snap.Round), snap.TakenAt, string(data),
	)
	return err
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var data string
	err := s.pool.QueryRow(ctx,
		`SELECT data::TEXT FROM jackpot_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// scanRound reads one jackpot_rounds row selected with roundColumns.
func scanRound(row pgx.Row) (*model.RoundResult, error) {
	var r model.RoundResult
	var round int64
	var outcome, winner string
	var amounts [9]string

	if err := row.Scan(&round, &r.EndedAt, &outcome, &winner,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3],
		&amounts[4], &amounts[5], &amounts[6], &amounts[7], &amounts[8]); err != nil {
		return nil, err
	}
	r.Round = uint64(round)
	r.Outcome = model.Outcome(outcome)
	r.Winner = common.HexToAddress(winner)

	dst := []*uint256.Int{
		&r.WinningTicket, &r.WinAmount, &r.WinnerTicketsBps, &r.RandomValue,
		&r.UserPoolTotal, &r.LPPoolTotal, &r.TicketCountTotalBps,
		&r.LPFeesDistributed, &r.ProtocolFee,
	}
	for i, s := range amounts {
		if err := dst[i].SetFromDecimal(s); err != nil {
			return nil, fmt.Errorf("round %d column %d: %w", round, i, err)
		}
	}
	return &r, nil
}
