package jackpot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/claims"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/tickets"
)

// protocolFeePercent is the share of accrued LP fees carved out for the
// protocol when a protocol fee address is configured.
const protocolFeePercent = 10

// RoundRequest describes an accepted round request.
type RoundRequest struct {
	Round     uint64
	RequestID uint64
	Fee       *uint256.Int
	Refund    *uint256.Int
}

// RequestRound locks the round and asks the randomness service for a value,
// paying its fee out of value. Whatever value exceeds the fee is refunded.
func (e *Engine) RequestRound(ctx context.Context, caller common.Address, seed [32]byte, value *uint256.Int) (RoundRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lock != model.Idle {
		return RoundRequest{}, ErrAlreadyRunning
	}
	if e.now().Before(e.nextRoundAt()) {
		return RoundRequest{}, ErrTooEarly
	}

	fee, err := e.entropy.QuoteFee(ctx)
	if err != nil {
		return RoundRequest{}, fmt.Errorf("quote randomness fee: %w", err)
	}
	if value == nil {
		value = new(uint256.Int)
	}
	if value.Lt(fee) {
		return RoundRequest{}, ErrInsufficientFee
	}
	id, err := e.entropy.RequestWithCallback(ctx, seed, fee)
	if err != nil {
		return RoundRequest{}, fmt.Errorf("request randomness: %w", err)
	}

	e.lock = model.AwaitingRandomness
	e.pendingRequest = id

	slog.Info("round requested", "round", e.round, "request_id", id, "caller", caller, "fee", fee)
	e.emit(model.EventRoundRequested, model.RoundRequested{Caller: caller, RequestID: id, Fee: fee})

	return RoundRequest{
		Round:     e.round,
		RequestID: id,
		Fee:       fee,
		Refund:    new(uint256.Int).Sub(value, fee),
	}, nil
}

// OnRandomnessDelivered settles the locked round with randomValue. It is the
// randomness service's callback and must be invoked once per request.
func (e *Engine) OnRandomnessDelivered(ctx context.Context, requestID uint64, randomValue *uint256.Int) (model.RoundResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.lock {
	case model.Settling:
		return model.RoundResult{}, ErrCallbackAlreadyRun
	case model.Idle:
		return model.RoundResult{}, ErrNotLocked
	}
	if requestID != e.pendingRequest {
		return model.RoundResult{}, fmt.Errorf("%w: got %d, want %d", ErrUnknownRequest, requestID, e.pendingRequest)
	}

	e.lock = model.Settling
	e.emit(model.EventRandomnessDelivered, model.RandomnessDelivered{
		RequestID:   requestID,
		RandomValue: clone(randomValue),
	})

	result := e.settle(randomValue)

	e.pendingRequest = 0
	e.lock = model.Idle
	return result, nil
}

// settle determines the winner and redistributes the pools.
func (e *Engine) settle(randomValue *uint256.Int) model.RoundResult {
	now := e.now().UTC()
	e.lastJackpotEndTime = now

	total := e.tickets.Total()
	result := model.RoundResult{
		Round:   e.round,
		EndedAt: now,
	}
	result.RandomValue.Set(randomValue)
	result.UserPoolTotal.Set(&e.userPoolTotal)
	result.LPPoolTotal.Set(&e.lpPoolTotal)
	result.TicketCountTotalBps.Set(total)

	if total.IsZero() {
		e.lps.ReturnAllStakeToPrincipal()
		e.lpPoolTotal.Clear()
		result.Outcome = model.OutcomeNoTickets
		e.publishResult(&result)
		e.startNextRound()
		return result
	}

	e.distributeLPFees(&result)

	var winner common.Address
	if !e.userPoolTotal.Lt(&e.lpPoolTotal) {
		win := tickets.Draw(randomValue, total)
		var weight *uint256.Int
		winner, weight = e.findWinner(win)

		e.claims.Credit(claims.Winnings, winner, &e.userPoolTotal)
		e.lps.ReturnAllStakeToPrincipal()

		result.Outcome = model.OutcomeUserPool
		result.WinningTicket.Set(win)
		result.WinAmount.Set(&e.userPoolTotal)
		result.WinnerTicketsBps.Set(weight)
		e.lastWinner = winner
	} else {
		n, overflow := new(uint256.Int).MulDivOverflow(&e.lpPoolTotal, uint256.NewInt(model.BpsScale), &e.params.TicketPrice)
		if overflow {
			// Range wider than 256 bits. Clamp it.
			n.SetAllOne()
		}
		if n.Lt(total) {
			// Cannot happen while the pools are consistent: the LP pool
			// exceeds the user pool, which is what the tickets bought.
			n.Set(total)
		}
		win := tickets.Draw(randomValue, n)
		result.WinningTicket.Set(win)

		if !win.Gt(total) {
			var weight *uint256.Int
			winner, weight = e.findWinner(win)

			e.claims.Credit(claims.Winnings, winner, &e.lpPoolTotal)
			e.distributeUserPool()
			e.lps.ForfeitAllStake()

			result.Outcome = model.OutcomeLPPoolUser
			result.WinAmount.Set(&e.lpPoolTotal)
			result.WinnerTicketsBps.Set(weight)
			e.lastWinner = winner
		} else {
			e.distributeUserPool()
			e.lps.ReturnAllStakeToPrincipal()

			result.Outcome = model.OutcomeHouseWins
			e.lastWinner = common.Address{}
		}
	}
	result.Winner = winner

	e.tickets.Reset()
	e.userPoolTotal.Clear()
	e.lpPoolTotal.Clear()
	e.allFeesTotal.Clear()
	e.referralFeesTotal.Clear()

	e.publishResult(&result)
	e.startNextRound()
	return result
}

// distributeLPFees pays accrued LP fees to LPs by stake after the protocol
// cut. The rounding remainder stays in lpFeesTotal for the next round.
func (e *Engine) distributeLPFees(result *model.RoundResult) {
	lpFees := clone(&e.lpFeesTotal)

	if e.params.ProtocolFeeAddress != (common.Address{}) && !lpFees.Lt(&e.params.ProtocolFeeThreshold) {
		cut := new(uint256.Int).Mul(lpFees, uint256.NewInt(protocolFeePercent))
		cut.Div(cut, uint256.NewInt(100))
		e.claims.Credit(claims.Protocol, common.Address{}, cut)
		lpFees.Sub(lpFees, cut)
		result.ProtocolFee.Set(cut)
	}

	if e.lpPoolTotal.IsZero() {
		// No LP is staked to receive the fees; they join the jackpot.
		e.userPoolTotal.Add(&e.userPoolTotal, lpFees)
		e.lpFeesTotal.Clear()
		return
	}
	rem := e.distribute(lpFees)
	result.LPFeesDistributed.Sub(lpFees, rem)
	e.lpFeesTotal.Set(rem)
}

// distributeUserPool hands the user pool to LPs by stake. Must run before
// stakes are returned or forfeited.
func (e *Engine) distributeUserPool() {
	rem := e.distribute(&e.userPoolTotal)
	e.lpFeesTotal.Add(&e.lpFeesTotal, rem)
}

// distribute splits amount across LPs by stake and returns the undistributed
// remainder. If the split cannot be computed nothing is credited and the
// whole amount is returned to be carried as LP fees.
func (e *Engine) distribute(amount *uint256.Int) *uint256.Int {
	rem, err := e.lps.DistributeProportionally(amount, &e.lpPoolTotal, e.params.TokenDecimals)
	if err != nil {
		slog.Error("lp distribution failed, carrying amount to next round",
			"round", e.round,
			"amount", amount,
			"lp_pool", &e.lpPoolTotal,
			"err", err,
		)
		return clone(amount)
	}
	return rem
}

func (e *Engine) findWinner(win *uint256.Int) (common.Address, *uint256.Int) {
	winner, weight, ok := e.tickets.FindWinner(win)
	if !ok {
		slog.Error("ticket weight invariant violated, paying fallback winner",
			"round", e.round,
			"winning_ticket", win,
			"ticket_total", e.tickets.Total(),
			"fallback", e.params.FallbackWinner,
		)
		return e.params.FallbackWinner, new(uint256.Int)
	}
	return winner, weight
}

func (e *Engine) publishResult(r *model.RoundResult) {
	slog.Info("round settled",
		"round", r.Round,
		"outcome", r.Outcome,
		"winner", r.Winner,
		"winning_ticket", &r.WinningTicket,
		"win_amount", &r.WinAmount,
	)
	e.emit(model.EventRoundResult, model.RoundResultEvent{
		Time:             r.EndedAt,
		Outcome:          r.Outcome,
		Winner:           r.Winner,
		WinningTicket:    clone(&r.WinningTicket),
		WinAmount:        clone(&r.WinAmount),
		WinnerTicketsBps: clone(&r.WinnerTicketsBps),
	})
}

// startNextRound stakes LPs for the round that begins now.
func (e *Engine) startNextRound() {
	e.round++
	e.lpPoolTotal.Set(e.lps.StakeAll())
	for _, p := range e.lps.All() {
		e.emit(model.EventLPRebalance, model.LPRebalance{
			LP:        p.Address,
			Principal: clone(&p.Principal),
			Stake:     clone(&p.Stake),
		})
	}
}
