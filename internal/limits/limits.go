// Package limits enforces the capacity bounds of the jackpot: how many
// ticket holders a round may have, how many LPs may be active, and how much
// capital the LP pool may hold.
//
// The active sets are iterated in full at settlement time, so these bounds
// also cap the work done by a single settlement.
package limits

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrCapacityExceeded is returned when admitting a new participant
	// would grow an active set beyond its limit.
	ErrCapacityExceeded = errors.New("limits: capacity exceeded")

	// ErrPoolCapExceeded is returned when a deposit would push the LP pool
	// beyond its cap.
	ErrPoolCapExceeded = errors.New("limits: LP pool cap exceeded")
)

// Capacity holds the configured bounds.
type Capacity struct {
	// UserLimit is the maximum number of distinct ticket holders per round.
	UserLimit int

	// LPLimit is the maximum number of active liquidity providers.
	LPLimit int

	// LPPoolCap bounds lpPoolTotal plus any incoming deposit.
	LPPoolCap uint256.Int
}

// NewCapacity creates a capacity checker. Non-positive limits admit nobody.
func NewCapacity(userLimit, lpLimit int, poolCap *uint256.Int) *Capacity {
	c := &Capacity{UserLimit: userLimit, LPLimit: lpLimit}
	if poolCap != nil {
		c.LPPoolCap.Set(poolCap)
	}
	return c
}

// CheckNewUser reports whether one more user fits in a round that already
// has active users.
func (c *Capacity) CheckNewUser(active int) error {
	if active >= c.UserLimit {
		return fmt.Errorf("%w: %d of %d users", ErrCapacityExceeded, active, c.UserLimit)
	}
	return nil
}

// CheckNewLP reports whether one more LP fits next to active LPs.
func (c *Capacity) CheckNewLP(active int) error {
	if active >= c.LPLimit {
		return fmt.Errorf("%w: %d of %d LPs", ErrCapacityExceeded, active, c.LPLimit)
	}
	return nil
}

// CheckPoolCap validates poolTotal + deposit <= LPPoolCap.
func (c *Capacity) CheckPoolCap(poolTotal, deposit *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(poolTotal, deposit)
	if overflow || sum.Gt(&c.LPPoolCap) {
		return ErrPoolCapExceeded
	}
	return nil
}
