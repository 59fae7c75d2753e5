// Package lp keeps liquidity provider principal, stake and risk, and runs the
// staking and proportional distribution steps at round boundaries.
package lp

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// MaxRisk is the largest risk percentage an LP may choose.
const MaxRisk = 100

var (
	// ErrEmptyPool is returned when distributing against a zero pool total.
	ErrEmptyPool = errors.New("lp: empty pool")

	// ErrShareOverflow is returned when a proportional share does not fit in
	// 256 bits, which only happens when a stake exceeds the pool total.
	ErrShareOverflow = errors.New("lp: proportional share overflows")

	// ErrStakeMismatch is returned when the stakes add up to more than the
	// pool total they are weighed against.
	ErrStakeMismatch = errors.New("lp: stakes exceed pool total")
)

// Registry is an unordered set of active LPs. Removal swaps the last entry
// into the freed slot, so iteration order is not stable across removals.
type Registry struct {
	lps   []*model.LP
	index map[common.Address]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[common.Address]int)}
}

// Len is the number of active LPs.
func (r *Registry) Len() int { return len(r.lps) }

// Get returns a copy of the LP. ok is false for unknown addresses.
func (r *Registry) Get(addr common.Address) (model.LP, bool) {
	i, ok := r.index[addr]
	if !ok {
		return model.LP{Address: addr}, false
	}
	return *r.lps[i], true
}

// All returns copies of every active LP in registry order.
func (r *Registry) All() []model.LP {
	out := make([]model.LP, len(r.lps))
	for i, p := range r.lps {
		out[i] = *p
	}
	return out
}

// Deposit adds amount to addr's principal and overwrites its risk, creating
// the LP when it is new. It reports whether the LP was created.
func (r *Registry) Deposit(addr common.Address, amount *uint256.Int, risk uint8) bool {
	i, ok := r.index[addr]
	if !ok {
		r.index[addr] = len(r.lps)
		r.lps = append(r.lps, &model.LP{Address: addr, Active: true})
		i = len(r.lps) - 1
	}
	p := r.lps[i]
	p.Principal.Add(&p.Principal, amount)
	p.RiskPercentage = risk
	return !ok
}

// SetRisk overwrites the risk of an active LP.
func (r *Registry) SetRisk(addr common.Address, risk uint8) bool {
	i, ok := r.index[addr]
	if !ok {
		return false
	}
	r.lps[i].RiskPercentage = risk
	return true
}

// Remove zeroes the LP and drops it from the set, returning the principal it
// held. Stake is expected to be zero.
func (r *Registry) Remove(addr common.Address) *uint256.Int {
	i, ok := r.index[addr]
	if !ok {
		return new(uint256.Int)
	}
	p := r.lps[i]
	principal := new(uint256.Int).Set(&p.Principal)
	p.Principal.Clear()
	p.Stake.Clear()
	p.RiskPercentage = 0
	p.Active = false

	last := len(r.lps) - 1
	if i != last {
		r.lps[i] = r.lps[last]
		r.index[r.lps[i].Address] = i
	}
	r.lps[last] = nil
	r.lps = r.lps[:last]
	delete(r.index, addr)
	return principal
}

// Restore puts an LP back exactly as given. Used when loading a snapshot.
func (r *Registry) Restore(p model.LP) {
	p.Active = true
	if i, ok := r.index[p.Address]; ok {
		*r.lps[i] = p
		return
	}
	r.index[p.Address] = len(r.lps)
	r.lps = append(r.lps, &p)
}

// StakeAll moves principal*risk/100 of every LP into stake and returns the
// total staked. Integer division leaves the remainder in principal.
func (r *Registry) StakeAll() *uint256.Int {
	total := new(uint256.Int)
	hundred := uint256.NewInt(MaxRisk)
	for _, p := range r.lps {
		// risk <= 100, so the stake never exceeds principal.
		stake, _ := new(uint256.Int).MulDivOverflow(&p.Principal, uint256.NewInt(uint64(p.RiskPercentage)), hundred)
		p.Stake.Set(stake)
		p.Principal.Sub(&p.Principal, stake)
		total.Add(total, stake)
	}
	return total
}

// ReturnAllStakeToPrincipal makes every LP whole for the round.
func (r *Registry) ReturnAllStakeToPrincipal() {
	for _, p := range r.lps {
		p.Principal.Add(&p.Principal, &p.Stake)
		p.Stake.Clear()
	}
}

// ForfeitAllStake drops every LP's stake. The stake has been paid out.
func (r *Registry) ForfeitAllStake() {
	for _, p := range r.lps {
		p.Stake.Clear()
	}
}

// DistributeProportionally credits each LP's principal with its stake-weighted
// share of total and returns what integer division left undistributed.
//
// Each share is (stake * 10^decimals / poolTotal) * total / 10^decimals, with
// both steps computed at 512-bit precision. The order of operations is fixed:
// scaling before the division by poolTotal keeps small stakes from truncating
// to a zero share. poolTotal must be non-zero and must equal the sum of
// stakes. On error no principal is changed.
func (r *Registry) DistributeProportionally(total, poolTotal *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if poolTotal.IsZero() {
		return nil, ErrEmptyPool
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))

	shares := make([]*uint256.Int, len(r.lps))
	distributed := new(uint256.Int)
	for i, p := range r.lps {
		share, overflow := new(uint256.Int).MulDivOverflow(&p.Stake, scale, poolTotal)
		if !overflow {
			_, overflow = share.MulDivOverflow(share, total, scale)
		}
		if overflow {
			return nil, fmt.Errorf("%w: lp %s stake %s of %s", ErrShareOverflow, p.Address, &p.Stake, poolTotal)
		}
		shares[i] = share
		distributed.Add(distributed, share)
	}
	if distributed.Gt(total) {
		return nil, fmt.Errorf("%w: shares %s exceed %s", ErrStakeMismatch, distributed, total)
	}

	for i, p := range r.lps {
		p.Principal.Add(&p.Principal, shares[i])
	}
	return new(uint256.Int).Sub(total, distributed), nil
}
