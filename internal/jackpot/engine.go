// Package jackpot is the round settlement engine: it sells tickets, takes LP
// deposits, requests randomness once per round and redistributes the pools
// when the randomness arrives.
//
// Every exported operation runs under one mutex and completes before the
// next is observed, including the token and randomness collaborator calls it
// makes. Collaborators must therefore never call back into the engine
// synchronously; the randomness service delivers from its own goroutine.
package jackpot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/claims"
	"github.com/coordinationlabs/jackpot-engine/internal/fees"
	"github.com/coordinationlabs/jackpot-engine/internal/limits"
	"github.com/coordinationlabs/jackpot-engine/internal/lp"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/tickets"
)

// Token moves the reference token. Transfer always sends from the engine's
// own account.
type Token interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Randomness is an asynchronous randomness service. An accepted request is
// answered exactly once through Engine.OnRandomnessDelivered.
type Randomness interface {
	QuoteFee(ctx context.Context) (*uint256.Int, error)
	RequestWithCallback(ctx context.Context, seed [32]byte, fee *uint256.Int) (uint64, error)
}

// EventSink receives every event the engine emits. Publish is called with
// the engine lock held and must not block.
type EventSink interface {
	Publish(ev model.Event)
}

// Engine owns every ledger of the jackpot.
type Engine struct {
	mu sync.Mutex

	self    common.Address
	token   Token
	entropy Randomness
	sink    EventSink
	now     func() time.Time

	params   model.Params
	capacity *limits.Capacity

	tickets *tickets.Ledger
	lps     *lp.Registry
	claims  *claims.Ledger

	lock               model.LockState
	pendingRequest     uint64
	round              uint64
	lastJackpotEndTime time.Time
	lastWinner         common.Address

	lpPoolTotal       uint256.Int
	userPoolTotal     uint256.Int
	allFeesTotal      uint256.Int
	lpFeesTotal       uint256.Int
	referralFeesTotal uint256.Int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventSink sets where events go. Without one they are dropped.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New creates an engine holding funds in the self account. The first round
// ends RoundDuration after creation.
func New(self common.Address, params model.Params, token Token, entropy Randomness, opts ...Option) (*Engine, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if self == (common.Address{}) {
		return nil, fmt.Errorf("%w: engine account", ErrZeroAddress)
	}
	e := &Engine{
		self:     self,
		token:    token,
		entropy:  entropy,
		now:      time.Now,
		params:   params,
		capacity: capacityOf(params),
		tickets:  tickets.NewLedger(),
		lps:      lp.NewRegistry(),
		claims:   claims.NewLedger(),
		round:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lastJackpotEndTime = e.now().UTC()
	return e, nil
}

// Account is the address the engine holds funds under.
func (e *Engine) Account() common.Address { return e.self }

// Params returns the current configuration.
func (e *Engine) Params() model.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// LockState returns the settlement state.
func (e *Engine) LockState() model.LockState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lock
}

// RoundDue reports whether RequestRound would pass its timing and lock
// checks right now.
func (e *Engine) RoundDue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lock == model.Idle && !e.now().Before(e.nextRoundAt())
}

// NextRoundAt is the earliest time a round can be requested.
func (e *Engine) NextRoundAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextRoundAt()
}

func (e *Engine) nextRoundAt() time.Time {
	return e.lastJackpotEndTime.Add(e.params.RoundDuration)
}

// User returns the ticket and winnings view of addr.
func (e *Engine) User(addr common.Address) model.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user(addr)
}

func (e *Engine) user(addr common.Address) model.User {
	u := model.User{Address: addr, Active: e.tickets.IsActive(addr)}
	u.TicketsPurchasedTotalBps.Set(e.tickets.WeightOf(addr))
	u.WinningsClaimable.Set(e.claims.Balance(claims.Winnings, addr))
	return u
}

// LP returns the LP record of addr. ok is false when addr is not active.
func (e *Engine) LP(addr common.Address) (model.LP, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lps.Get(addr)
}

// ReferralClaimable returns the referral fees owed to addr.
func (e *Engine) ReferralClaimable(addr common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claims.Balance(claims.Referral, addr)
}

// pull moves amount from payer into the engine and returns what actually
// arrived, which may be less for tokens that charge on transfer.
func (e *Engine) pull(ctx context.Context, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	before, err := e.token.BalanceOf(ctx, e.self)
	if err != nil {
		return nil, fmt.Errorf("balance before transfer: %w", err)
	}
	if err := e.token.TransferFrom(ctx, from, e.self, amount); err != nil {
		return nil, fmt.Errorf("transfer from %s: %w", from, err)
	}
	after, err := e.token.BalanceOf(ctx, e.self)
	if err != nil {
		return nil, fmt.Errorf("balance after transfer: %w", err)
	}
	if after.Lt(before) {
		return nil, ErrBalanceDecreased
	}
	return new(uint256.Int).Sub(after, before), nil
}

func (e *Engine) push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := e.token.Transfer(ctx, to, amount); err != nil {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	return nil
}

// refund sends the unused part of a payment back to payer. When that
// transfer fails the whole received amount is returned instead and the
// refund error is reported.
func (e *Engine) refund(ctx context.Context, payer common.Address, refund, received *uint256.Int) error {
	err := e.push(ctx, payer, refund)
	if err == nil {
		return nil
	}
	if rerr := e.push(ctx, payer, received); rerr != nil {
		slog.Error("payment could not be returned",
			"payer", payer,
			"received", received,
			"refund_err", err,
			"err", rerr,
		)
		return errors.Join(err, rerr)
	}
	return err
}

func (e *Engine) emit(typ model.EventType, payload any) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(model.NewEvent(typ, e.round, e.now(), payload))
}

func (e *Engine) isOwner(caller common.Address) bool {
	return caller == e.params.Owner
}

func capacityOf(p model.Params) *limits.Capacity {
	return limits.NewCapacity(p.UserLimit, p.LPLimit, &p.LPPoolCap)
}

func validateParams(p model.Params) error {
	var reason string
	switch {
	case p.Owner == (common.Address{}):
		reason = "owner is the zero address"
	case p.TicketPrice.IsZero():
		reason = "ticket price must be positive"
	case p.RoundDuration < 0:
		reason = "round duration is negative"
	case p.FeeBps > fees.MaxFeeBps:
		reason = fmt.Sprintf("fee %d bps above %d", p.FeeBps, fees.MaxFeeBps)
	case p.ReferralFeeBps > p.FeeBps:
		reason = "referral fee above total fee"
	case p.UserLimit < 1 || p.LPLimit < 1:
		reason = "user and LP limits must be positive"
	case p.TokenDecimals > 36:
		reason = "token decimals above 36"
	case capOverflows(&p.LPPoolCap):
		reason = "LP pool cap too large"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, reason)
}

// capOverflows reports whether the LP pool cap, expressed in ticket bps, no
// longer fits in 256 bits.
func capOverflows(poolCap *uint256.Int) bool {
	_, overflow := new(uint256.Int).MulOverflow(poolCap, uint256.NewInt(model.BpsScale))
	return overflow
}

func clone(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(x)
}
