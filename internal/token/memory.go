// Package token provides an in-process token ledger for development and
// tests. It can charge a fee on every transfer, like the fee-on-transfer
// tokens the engine must tolerate.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrZeroAddress         = errors.New("token: transfer to the zero address")
)

// Ledger holds balances for any number of accounts.
type Ledger struct {
	mu       sync.RWMutex
	symbol   string
	decimals uint8
	feeBps   uint64
	balances map[common.Address]*uint256.Int
	burned   uint256.Int
}

// NewLedger creates an empty ledger. feeBps of every transfer is burned on
// the way, so the recipient gets less than was sent.
func NewLedger(symbol string, decimals uint8, feeBps uint64) *Ledger {
	if feeBps > model.BpsScale {
		feeBps = model.BpsScale
	}
	return &Ledger{
		symbol:   symbol,
		decimals: decimals,
		feeBps:   feeBps,
		balances: make(map[common.Address]*uint256.Int),
	}
}

// Symbol is the token ticker.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals is the number of decimals of one token.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// Mint creates amount out of thin air for to.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(to).Add(l.balance(to), amount)
}

// BalanceOf returns owner's balance.
func (l *Ledger) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[owner]; ok {
		return new(uint256.Int).Set(b), nil
	}
	return new(uint256.Int), nil
}

// Burned is the total taken by transfer fees.
func (l *Ledger) Burned() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(&l.burned)
}

// TransferFrom moves amount from one account to another, minus the fee.
// Allowances are not modelled.
func (l *Ledger) TransferFrom(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// Account binds the ledger to one sending account.
func (l *Ledger) Account(owner common.Address) *Account {
	return &Account{ledger: l, owner: owner}
}

func (l *Ledger) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	src := l.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %v, needs %v", ErrInsufficientBalance, from, src, amount)
	}
	fee := new(uint256.Int).Mul(amount, uint256.NewInt(l.feeBps))
	fee.Div(fee, uint256.NewInt(model.BpsScale))

	src.Sub(src, amount)
	dst := l.balance(to)
	dst.Add(dst, new(uint256.Int).Sub(amount, fee))
	l.burned.Add(&l.burned, fee)
	return nil
}

func (l *Ledger) balance(owner common.Address) *uint256.Int {
	b, ok := l.balances[owner]
	if !ok {
		b = new(uint256.Int)
		l.balances[owner] = b
	}
	return b
}

// Account is a Ledger seen from one account. Transfer sends from it.
type Account struct {
	ledger *Ledger
	owner  common.Address
}

// Address is the bound account.
func (a *Account) Address() common.Address { return a.owner }

func (a *Account) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return a.ledger.BalanceOf(ctx, owner)
}

func (a *Account) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return a.ledger.TransferFrom(ctx, from, to, amount)
}

// Transfer sends amount from the bound account.
func (a *Account) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	return a.ledger.move(a.owner, to, amount)
}
