package jackpot

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// SetParams replaces the configuration. Only the owner may call it. Fee
// rates are frozen while a round is locked since settlement depends on them.
// The ticket price and token decimals are also frozen while tickets are
// outstanding: the draw range converts the LP pool into tickets at the
// current price.
func (e *Engine) SetParams(caller common.Address, p model.Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return ErrUnauthorized
	}
	if err := validateParams(p); err != nil {
		return err
	}
	cur := e.params
	priceChanged := !cur.TicketPrice.Eq(&p.TicketPrice) || cur.TokenDecimals != p.TokenDecimals
	if e.lock != model.Idle {
		if priceChanged || cur.FeeBps != p.FeeBps || cur.ReferralFeeBps != p.ReferralFeeBps {
			return ErrRoundInProgress
		}
	}
	if priceChanged && !e.tickets.Total().IsZero() {
		return ErrTicketsOutstanding
	}

	e.params = p
	e.capacity = capacityOf(p)
	slog.Info("params updated",
		"owner", p.Owner,
		"ticket_price", &p.TicketPrice,
		"fee_bps", p.FeeBps,
		"referral_fee_bps", p.ReferralFeeBps,
		"round_duration", p.RoundDuration,
		"purchasing_enabled", p.PurchasingEnabled,
	)
	return nil
}

// ForceUnlock abandons a round whose randomness never arrived. Pools are
// left as they are and the round can be requested again. A late delivery
// for the abandoned request is rejected.
func (e *Engine) ForceUnlock(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return ErrUnauthorized
	}
	if e.lock == model.Idle {
		return ErrNotLocked
	}
	slog.Warn("round force-unlocked", "round", e.round, "request_id", e.pendingRequest, "state", e.lock)
	e.lock = model.Idle
	e.pendingRequest = 0
	return nil
}

// ForceDeactivateLP removes an LP that has asked to leave (zero risk) and
// holds no stake, paying its principal back.
func (e *Engine) ForceDeactivateLP(ctx context.Context, caller, addr common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return nil, ErrUnauthorized
	}
	p, ok := e.lps.Get(addr)
	if !ok {
		return nil, ErrNotLiquidityProvider
	}
	if p.RiskPercentage != 0 || !p.Stake.IsZero() {
		return nil, ErrLPStillStaked
	}
	slog.Info("lp force-deactivated", "lp", addr, "by", caller)
	return e.removeLP(ctx, p)
}
