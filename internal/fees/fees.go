// Package fees splits ticket spend into the protocol-wide fee, the referral
// fee and the LP fee.
package fees

import (
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// MaxFeeBps is the largest fee rate the admin surface accepts.
const MaxFeeBps = 8000

// Split is the fee breakdown of one purchase. LP + Referral == All.
type Split struct {
	All      *uint256.Int
	Referral *uint256.Int
	LP       *uint256.Int
}

// Calculate computes the split for usedAmount. The referral fee is zero when
// there is no referrer. Callers guarantee referralFeeBps <= feeBps <=
// MaxFeeBps, so no fee exceeds usedAmount and the full-precision products
// cannot overflow.
func Calculate(usedAmount *uint256.Int, hasReferrer bool, feeBps, referralFeeBps uint64) Split {
	scale := uint256.NewInt(model.BpsScale)

	all, _ := new(uint256.Int).MulDivOverflow(usedAmount, uint256.NewInt(feeBps), scale)

	referral := new(uint256.Int)
	if hasReferrer {
		referral.MulDivOverflow(usedAmount, uint256.NewInt(referralFeeBps), scale)
	}

	return Split{
		All:      all,
		Referral: referral,
		LP:       new(uint256.Int).Sub(all, referral),
	}
}
