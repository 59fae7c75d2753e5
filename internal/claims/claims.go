// Package claims holds amounts owed to parties until they withdraw them:
// user winnings, referral fees and the protocol fee.
package claims

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNothingToClaim is returned by Take when the balance is zero.
var ErrNothingToClaim = errors.New("claims: nothing to claim")

// Kind selects one of the independent claimable ledgers.
type Kind string

const (
	Winnings Kind = "winnings"
	Referral Kind = "referral"
	Protocol Kind = "protocol"
)

// Valid reports whether k names a ledger.
func (k Kind) Valid() bool {
	return k == Winnings || k == Referral || k == Protocol
}

// Ledger is a set of per-kind, per-address balances. The protocol fee uses
// the zero address as its single key, since its recipient can change.
type Ledger struct {
	balances map[Kind]map[common.Address]*uint256.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: map[Kind]map[common.Address]*uint256.Int{
		Winnings: {},
		Referral: {},
		Protocol: {},
	}}
}

// Credit adds amount to the balance.
func (l *Ledger) Credit(kind Kind, addr common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	m := l.balances[kind]
	b, ok := m[addr]
	if !ok {
		b = new(uint256.Int)
		m[addr] = b
	}
	b.Add(b, amount)
}

// Balance returns a copy of the balance.
func (l *Ledger) Balance(kind Kind, addr common.Address) *uint256.Int {
	if b, ok := l.balances[kind][addr]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// Take zeroes the balance and returns what it held. The balance is cleared
// before the caller moves any funds, so a re-entrant second Take finds
// nothing. Callers that fail to pay out must Credit the amount back.
func (l *Ledger) Take(kind Kind, addr common.Address) (*uint256.Int, error) {
	b, ok := l.balances[kind][addr]
	if !ok || b.IsZero() {
		return nil, ErrNothingToClaim
	}
	amount := new(uint256.Int).Set(b)
	delete(l.balances[kind], addr)
	return amount, nil
}

// Entry is one non-zero balance.
type Entry struct {
	Address common.Address
	Amount  *uint256.Int
}

// Entries lists the non-zero balances of kind in no particular order.
func (l *Ledger) Entries(kind Kind) []Entry {
	out := make([]Entry, 0, len(l.balances[kind]))
	for addr, b := range l.balances[kind] {
		out = append(out, Entry{Address: addr, Amount: new(uint256.Int).Set(b)})
	}
	return out
}
