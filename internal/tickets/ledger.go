// Package tickets is the per-round registry of ticket holders and their
// purchased weight.
//
// Weight is expressed in basis points of a ticket: one ticket bought at a
// feeBps fee rate is worth 10000-feeBps units, so the weight mirrors each
// buyer's post-fee share of the user pool exactly.
package tickets

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// Ledger keeps the active holders in insertion order. The order is part of
// the draw: the cumulative scan walks holders in the order they first bought.
type Ledger struct {
	order   []common.Address
	weights map[common.Address]*uint256.Int
	total   uint256.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{weights: make(map[common.Address]*uint256.Int)}
}

// Weight converts a ticket count into ticket weight for the given fee rate.
func Weight(ticketCount *uint256.Int, feeBps uint64) *uint256.Int {
	w := uint256.NewInt(model.BpsScale - feeBps)
	return w.Mul(w, ticketCount)
}

// IsActive reports whether addr holds tickets this round.
func (l *Ledger) IsActive(addr common.Address) bool {
	_, ok := l.weights[addr]
	return ok
}

// Len is the number of active holders.
func (l *Ledger) Len() int { return len(l.order) }

// WeightOf returns a copy of addr's weight, zero for non-holders.
func (l *Ledger) WeightOf(addr common.Address) *uint256.Int {
	if w, ok := l.weights[addr]; ok {
		return new(uint256.Int).Set(w)
	}
	return new(uint256.Int)
}

// Total returns ticketCountTotalBps.
func (l *Ledger) Total() *uint256.Int {
	return new(uint256.Int).Set(&l.total)
}

// Holders returns the active set in insertion order.
func (l *Ledger) Holders() []common.Address {
	return append([]common.Address(nil), l.order...)
}

// Credit adds weight to addr, appending it to the active set on its first
// purchase. It reports whether addr was newly added. Capacity is the caller's
// concern.
func (l *Ledger) Credit(addr common.Address, weight *uint256.Int) bool {
	w, ok := l.weights[addr]
	if !ok {
		w = new(uint256.Int)
		l.weights[addr] = w
		l.order = append(l.order, addr)
	}
	w.Add(w, weight)
	l.total.Add(&l.total, weight)
	return !ok
}

// FindWinner walks holders in insertion order and returns the first whose
// running weight reaches winningTicket, together with its weight. ok is false
// only when winningTicket exceeds the total weight.
func (l *Ledger) FindWinner(winningTicket *uint256.Int) (winner common.Address, weight *uint256.Int, ok bool) {
	var cumulative uint256.Int
	for _, addr := range l.order {
		w := l.weights[addr]
		cumulative.Add(&cumulative, w)
		if !cumulative.Lt(winningTicket) {
			return addr, new(uint256.Int).Set(w), true
		}
	}
	return common.Address{}, new(uint256.Int), false
}

// Reset empties the ledger for the next round and returns the former holders.
func (l *Ledger) Reset() []common.Address {
	former := l.order
	l.order = nil
	l.weights = make(map[common.Address]*uint256.Int)
	l.total.Clear()
	return former
}

// Draw maps a random value onto [1, n]. n must be non-zero.
func Draw(randomValue, n *uint256.Int) *uint256.Int {
	t := new(uint256.Int).Mod(randomValue, n)
	return t.AddUint64(t, 1)
}
