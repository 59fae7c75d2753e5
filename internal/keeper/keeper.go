// Package keeper triggers round settlement on a schedule. Anyone may request
// a round once it is due; the keeper makes sure someone does.
package keeper

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"

	"github.com/coordinationlabs/jackpot-engine/internal/jackpot"
)

// DefaultSchedule checks every half minute.
const DefaultSchedule = "@every 30s"

// Engine is the part of the engine the keeper drives.
type Engine interface {
	RoundDue() bool
	RequestRound(ctx context.Context, caller common.Address, seed [32]byte, value *uint256.Int) (jackpot.RoundRequest, error)
}

// FeeQuoter prices a randomness request.
type FeeQuoter interface {
	QuoteFee(ctx context.Context) (*uint256.Int, error)
}

// Keeper requests a round whenever one is due.
type Keeper struct {
	engine  Engine
	quoter  FeeQuoter
	caller  common.Address
	timeout time.Duration
	cron    *cron.Cron
}

// New creates a keeper acting as caller on the given cron schedule.
func New(engine Engine, quoter FeeQuoter, caller common.Address, schedule string) (*Keeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	k := &Keeper{
		engine:  engine,
		quoter:  quoter,
		caller:  caller,
		timeout: 10 * time.Second,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := k.cron.AddFunc(schedule, k.tick); err != nil {
		return nil, fmt.Errorf("keeper schedule %q: %w", schedule, err)
	}
	return k, nil
}

// Run starts the schedule and blocks until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	slog.Info("keeper started", "caller", k.caller)
	k.cron.Start()
	<-ctx.Done()
	<-k.cron.Stop().Done()
	slog.Info("keeper stopped")
	return nil
}

func (k *Keeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if _, err := k.Poke(ctx); err != nil {
		slog.Error("keeper round request failed", "err", err)
	}
}

// Poke requests a round if one is due. It reports whether a request was
// accepted.
func (k *Keeper) Poke(ctx context.Context) (bool, error) {
	if !k.engine.RoundDue() {
		return false, nil
	}
	fee, err := k.quoter.QuoteFee(ctx)
	if err != nil {
		return false, fmt.Errorf("quote fee: %w", err)
	}
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}

	req, err := k.engine.RequestRound(ctx, k.caller, seed, fee)
	switch {
	case errors.Is(err, jackpot.ErrAlreadyRunning), errors.Is(err, jackpot.ErrTooEarly):
		// Someone else got there first.
		return false, nil
	case err != nil:
		return false, err
	}
	slog.Info("keeper requested round", "round", req.Round, "request_id", req.RequestID)
	return true, nil
}
