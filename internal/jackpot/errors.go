package jackpot

import (
	"errors"

	"github.com/coordinationlabs/jackpot-engine/internal/claims"
	"github.com/coordinationlabs/jackpot-engine/internal/limits"
)

var (
	// Validation.
	ErrInsufficientAmount  = errors.New("jackpot: amount does not cover a single ticket")
	ErrInvalidRisk         = errors.New("jackpot: risk percentage must be within [1, 100]")
	ErrSelfReferral        = errors.New("jackpot: buyer cannot refer itself")
	ErrZeroAddress         = errors.New("jackpot: zero address")
	ErrBelowMinimumDeposit = errors.New("jackpot: deposit below minimum LP deposit")
	ErrInsufficientFee     = errors.New("jackpot: value does not cover the randomness fee")
	ErrInvalidParams       = errors.New("jackpot: invalid parameters")

	// State conflicts.
	ErrRoundInProgress      = errors.New("jackpot: round in progress")
	ErrPurchasingDisabled   = errors.New("jackpot: ticket purchasing disabled")
	ErrTooEarly             = errors.New("jackpot: round has not ended yet")
	ErrAlreadyRunning       = errors.New("jackpot: round already running")
	ErrCallbackAlreadyRun   = errors.New("jackpot: randomness callback already running")
	ErrNotLocked            = errors.New("jackpot: no round awaiting randomness")
	ErrUnknownRequest       = errors.New("jackpot: randomness for unknown request")
	ErrNotLiquidityProvider = errors.New("jackpot: not an active liquidity provider")
	ErrLPStillStaked        = errors.New("jackpot: LP still has risk or stake")
	ErrNoProtocolAddress    = errors.New("jackpot: no protocol fee address configured")
	ErrTicketsOutstanding   = errors.New("jackpot: ticket price cannot change while tickets are outstanding")

	// Capacity.
	ErrCapacityExceeded = limits.ErrCapacityExceeded
	ErrPoolCapExceeded  = limits.ErrPoolCapExceeded

	// Authorization.
	ErrUnauthorized = errors.New("jackpot: caller is not the owner")

	ErrNothingToClaim = claims.ErrNothingToClaim

	// ErrBalanceDecreased means the token reported a lower engine balance
	// after a transfer in. The engine refuses to account for it.
	ErrBalanceDecreased = errors.New("jackpot: engine balance decreased during transfer")
)

// Kind classifies an error for callers that map failures onto a protocol,
// such as HTTP status codes.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindStateConflict
	KindCapacity
	KindAuthorization
	KindNothingToClaim
)

var kinds = map[error]Kind{
	ErrInsufficientAmount:   KindValidation,
	ErrInvalidRisk:          KindValidation,
	ErrSelfReferral:         KindValidation,
	ErrZeroAddress:          KindValidation,
	ErrBelowMinimumDeposit:  KindValidation,
	ErrInsufficientFee:      KindValidation,
	ErrInvalidParams:        KindValidation,
	ErrRoundInProgress:      KindStateConflict,
	ErrPurchasingDisabled:   KindStateConflict,
	ErrTooEarly:             KindStateConflict,
	ErrAlreadyRunning:       KindStateConflict,
	ErrCallbackAlreadyRun:   KindStateConflict,
	ErrNotLocked:            KindStateConflict,
	ErrUnknownRequest:       KindStateConflict,
	ErrNotLiquidityProvider: KindStateConflict,
	ErrLPStillStaked:        KindStateConflict,
	ErrNoProtocolAddress:    KindStateConflict,
	ErrTicketsOutstanding:   KindStateConflict,
	ErrCapacityExceeded:     KindCapacity,
	ErrPoolCapExceeded:      KindCapacity,
	ErrUnauthorized:         KindAuthorization,
	ErrNothingToClaim:       KindNothingToClaim,
}

// KindOf returns the kind of err, KindInternal for collaborator failures and
// anything unknown.
func KindOf(err error) Kind {
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindInternal
}
