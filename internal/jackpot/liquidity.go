package jackpot

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/lp"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// DepositReceipt describes an accepted LP deposit.
type DepositReceipt struct {
	Deposited *uint256.Int
	Refund    *uint256.Int
	Created   bool
}

// PrincipalWithdrawal is the result of WithdrawPrincipal. When Deferred is
// set nothing was paid: the LP's risk was zeroed so that its stake returns to
// principal at the next round boundary, and the LP must call again.
type PrincipalWithdrawal struct {
	Amount   *uint256.Int
	Deferred bool
}

func validRisk(risk uint8) bool {
	return risk >= 1 && risk <= lp.MaxRisk
}

// LPDeposit adds whole ticket-price units of amount to the LP's principal and
// sets its risk percentage. The new risk applies from the next stake.
func (e *Engine) LPDeposit(ctx context.Context, addr common.Address, amount *uint256.Int, risk uint8) (DepositReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if addr == (common.Address{}) {
		return DepositReceipt{}, ErrZeroAddress
	}
	if !validRisk(risk) {
		return DepositReceipt{}, ErrInvalidRisk
	}
	if amount == nil || amount.IsZero() {
		return DepositReceipt{}, ErrInsufficientAmount
	}
	if e.lock != model.Idle {
		return DepositReceipt{}, ErrRoundInProgress
	}
	_, existing := e.lps.Get(addr)
	if err := e.checkDeposit(e.floor(amount), existing); err != nil {
		return DepositReceipt{}, err
	}

	received, err := e.pull(ctx, addr, amount)
	if err != nil {
		return DepositReceipt{}, err
	}
	floored := e.floor(received)
	if err := e.checkDeposit(floored, existing); err != nil {
		// The transfer fee pushed the deposit under a bound.
		if perr := e.push(ctx, addr, received); perr != nil {
			return DepositReceipt{}, perr
		}
		return DepositReceipt{}, err
	}
	refund := new(uint256.Int).Sub(received, floored)
	if err := e.refund(ctx, addr, refund, received); err != nil {
		slog.Error("deposit refund failed", "lp", addr, "received", received, "err", err)
		return DepositReceipt{}, err
	}

	created := e.lps.Deposit(addr, floored, risk)

	slog.Info("lp deposit", "lp", addr, "amount", floored, "refund", refund, "risk", risk, "new", created)
	e.emit(model.EventLPDeposit, model.LPDeposit{
		LP:             addr,
		Amount:         floored,
		Refund:         refund,
		RiskPercentage: risk,
	})
	return DepositReceipt{Deposited: floored, Refund: refund, Created: created}, nil
}

// floor rounds amount down to a whole number of ticket prices.
func (e *Engine) floor(amount *uint256.Int) *uint256.Int {
	rem := new(uint256.Int).Mod(amount, &e.params.TicketPrice)
	return rem.Sub(amount, rem)
}

func (e *Engine) checkDeposit(floored *uint256.Int, existing bool) error {
	if floored.IsZero() {
		return ErrInsufficientAmount
	}
	if !existing {
		if floored.Lt(&e.params.MinLPDeposit) {
			return ErrBelowMinimumDeposit
		}
		if err := e.capacity.CheckNewLP(e.lps.Len()); err != nil {
			return err
		}
	}
	return e.capacity.CheckPoolCap(&e.lpPoolTotal, floored)
}

// AdjustRisk changes an active LP's risk percentage for the next stake.
func (e *Engine) AdjustRisk(addr common.Address, risk uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validRisk(risk) {
		return ErrInvalidRisk
	}
	if e.lock != model.Idle {
		return ErrRoundInProgress
	}
	if !e.lps.SetRisk(addr, risk) {
		return ErrNotLiquidityProvider
	}

	slog.Info("lp risk adjusted", "lp", addr, "risk", risk)
	e.emit(model.EventLPRiskAdjusted, model.LPRiskAdjusted{LP: addr, RiskPercentage: risk})
	return nil
}

// WithdrawPrincipal pays out an LP's whole principal and removes it, or
// defers when the LP still has stake in the live round.
func (e *Engine) WithdrawPrincipal(ctx context.Context, addr common.Address) (PrincipalWithdrawal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.lps.Get(addr)
	if !ok {
		return PrincipalWithdrawal{}, ErrNotLiquidityProvider
	}

	if !p.Stake.IsZero() {
		e.lps.SetRisk(addr, 0)
		slog.Info("lp stake withdrawal requested", "lp", addr, "stake", &p.Stake)
		e.emit(model.EventLPStakeWithdrawalRequest, model.LPStakeWithdrawalRequest{
			LP:    addr,
			Stake: clone(&p.Stake),
		})
		return PrincipalWithdrawal{Amount: new(uint256.Int), Deferred: true}, nil
	}

	principal, err := e.removeLP(ctx, p)
	if err != nil {
		return PrincipalWithdrawal{}, err
	}
	return PrincipalWithdrawal{Amount: principal}, nil
}

// removeLP zeroes and drops the LP before paying out its principal, and puts
// it back if the payout fails.
func (e *Engine) removeLP(ctx context.Context, p model.LP) (*uint256.Int, error) {
	principal := e.lps.Remove(p.Address)
	if err := e.push(ctx, p.Address, principal); err != nil {
		e.lps.Restore(p)
		return nil, err
	}

	slog.Info("lp principal withdrawn", "lp", p.Address, "amount", principal)
	e.emit(model.EventLPPrincipalWithdrawal, model.LPPrincipalWithdrawal{
		LP:     p.Address,
		Amount: principal,
	})
	return principal, nil
}
