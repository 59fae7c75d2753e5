package jackpot

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/claims"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// WithdrawWinnings pays out everything user has won.
func (e *Engine) WithdrawWinnings(ctx context.Context, user common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdraw(ctx, claims.Winnings, user, user, model.EventWinningsWithdrawal)
}

// WithdrawReferralFees pays out the referral fees owed to referrer.
func (e *Engine) WithdrawReferralFees(ctx context.Context, referrer common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdraw(ctx, claims.Referral, referrer, referrer, model.EventReferralWithdrawal)
}

// WithdrawProtocolFees pays the accrued protocol fee to the configured
// protocol fee address. Anyone may trigger it.
func (e *Engine) WithdrawProtocolFees(ctx context.Context) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	to := e.params.ProtocolFeeAddress
	if to == (common.Address{}) {
		return nil, ErrNoProtocolAddress
	}
	return e.withdraw(ctx, claims.Protocol, common.Address{}, to, model.EventProtocolWithdrawal)
}

// withdraw clears the claimable balance before transferring it, and credits
// it back when the transfer fails.
func (e *Engine) withdraw(ctx context.Context, kind claims.Kind, key, to common.Address, typ model.EventType) (*uint256.Int, error) {
	amount, err := e.claims.Take(kind, key)
	if err != nil {
		return nil, err
	}
	if err := e.push(ctx, to, amount); err != nil {
		e.claims.Credit(kind, key, amount)
		return nil, err
	}

	slog.Info("claim withdrawn", "kind", kind, "to", to, "amount", amount)
	e.emit(typ, model.Withdrawal{To: to, Amount: clone(amount)})
	return amount, nil
}
