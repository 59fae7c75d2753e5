// Package model defines the core domain types shared across the jackpot engine.
// Ledger amounts are uint256 token base units. shopspring/decimal is only used
// at the edges, for human-readable amounts.
package model

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BpsScale is 100% in basis points. Ticket weight and fee rates use it.
const BpsScale = 10000

// Params is the administrative configuration of the engine.
type Params struct {
	Owner                common.Address `json:"owner"`
	TicketPrice          uint256.Int    `json:"ticket_price"`
	RoundDuration        time.Duration  `json:"round_duration"`
	FeeBps               uint64         `json:"fee_bps"`
	ReferralFeeBps       uint64         `json:"referral_fee_bps"`
	LPPoolCap            uint256.Int    `json:"lp_pool_cap"`
	LPLimit              int            `json:"lp_limit"`
	UserLimit            int            `json:"user_limit"`
	PurchasingEnabled    bool           `json:"purchasing_enabled"`
	ProtocolFeeAddress   common.Address `json:"protocol_fee_address"`
	ProtocolFeeThreshold uint256.Int    `json:"protocol_fee_threshold"`
	FallbackWinner       common.Address `json:"fallback_winner"`
	MinLPDeposit         uint256.Int    `json:"min_lp_deposit"`
	TokenDecimals        uint8          `json:"token_decimals"`
}

// User is a ticket buyer. TicketsPurchasedTotalBps is reset every round;
// WinningsClaimable accumulates until withdrawn.
type User struct {
	Address                  common.Address `json:"address"`
	TicketsPurchasedTotalBps uint256.Int    `json:"tickets_purchased_total_bps"`
	WinningsClaimable        uint256.Int    `json:"winnings_claimable"`
	Active                   bool           `json:"active"`
}

// LP is a liquidity provider. Principal is idle capital, Stake is the part at
// risk in the live round. The two are disjoint.
type LP struct {
	Address        common.Address `json:"address"`
	Principal      uint256.Int    `json:"principal"`
	Stake          uint256.Int    `json:"stake"`
	RiskPercentage uint8          `json:"risk_percentage"`
	Active         bool           `json:"active"`
}

// Balance is an amount owed to an address.
type Balance struct {
	Address common.Address `json:"address"`
	Amount  uint256.Int    `json:"amount"`
}

// LockState is the settlement state of the current round.
type LockState uint8

const (
	// Idle accepts purchases, deposits and a new round request.
	Idle LockState = iota
	// AwaitingRandomness holds the jackpot lock until the randomness
	// service delivers.
	AwaitingRandomness
	// Settling is set while the delivered value is being applied.
	Settling
)

func (s LockState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingRandomness:
		return "awaiting_randomness"
	case Settling:
		return "settling"
	default:
		return "unknown"
	}
}

func (s LockState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LockState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "awaiting_randomness":
		*s = AwaitingRandomness
	case "settling":
		*s = Settling
	default:
		return fmt.Errorf("unknown lock state %q", b)
	}
	return nil
}

// Outcome is the branch a round settled through.
type Outcome string

const (
	OutcomeNoTickets  Outcome = "no_tickets"
	OutcomeUserPool   Outcome = "user_pool"
	OutcomeLPPoolUser Outcome = "lp_pool_user_win"
	OutcomeHouseWins  Outcome = "house_wins"
)

// RoundResult is the immutable record of one settled round.
type RoundResult struct {
	Round               uint64         `json:"round"`
	EndedAt             time.Time      `json:"ended_at"`
	Outcome             Outcome        `json:"outcome"`
	Winner              common.Address `json:"winner"`
	WinningTicket       uint256.Int    `json:"winning_ticket"`
	WinAmount           uint256.Int    `json:"win_amount"`
	WinnerTicketsBps    uint256.Int    `json:"winner_tickets_bps"`
	RandomValue         uint256.Int    `json:"random_value"`
	UserPoolTotal       uint256.Int    `json:"user_pool_total"`
	LPPoolTotal         uint256.Int    `json:"lp_pool_total"`
	TicketCountTotalBps uint256.Int    `json:"ticket_count_total_bps"`
	LPFeesDistributed   uint256.Int    `json:"lp_fees_distributed"`
	ProtocolFee         uint256.Int    `json:"protocol_fee"`
}

// Snapshot is a point-in-time copy of every engine ledger. Users holds the
// active set in purchase order first, followed by inactive users that still
// have winnings to claim.
type Snapshot struct {
	Params               Params         `json:"params"`
	Lock                 LockState      `json:"lock"`
	PendingRequest       uint64         `json:"pending_request"`
	Round                uint64         `json:"round"`
	LastJackpotEndTime   time.Time      `json:"last_jackpot_end_time"`
	LastWinnerAddress    common.Address `json:"last_winner_address"`
	LPPoolTotal          uint256.Int    `json:"lp_pool_total"`
	UserPoolTotal        uint256.Int    `json:"user_pool_total"`
	TicketCountTotalBps  uint256.Int    `json:"ticket_count_total_bps"`
	AllFeesTotal         uint256.Int    `json:"all_fees_total"`
	LPFeesTotal          uint256.Int    `json:"lp_fees_total"`
	ReferralFeesTotal    uint256.Int    `json:"referral_fees_total"`
	ProtocolFeeClaimable uint256.Int    `json:"protocol_fee_claimable"`
	Users                []User         `json:"users"`
	LPs                  []LP           `json:"lps"`
	ReferralClaimable    []Balance      `json:"referral_claimable"`
	TakenAt              time.Time      `json:"taken_at"`
}

// Liabilities is everything the engine owes: both pools, accrued fees, LP
// principal and stake, and unclaimed balances. The engine's token balance
// must cover it.
func (s *Snapshot) Liabilities() *uint256.Int {
	sum := new(uint256.Int)
	sum.Add(sum, &s.UserPoolTotal)
	sum.Add(sum, &s.LPFeesTotal)
	sum.Add(sum, &s.ProtocolFeeClaimable)
	for i := range s.LPs {
		sum.Add(sum, &s.LPs[i].Principal)
		sum.Add(sum, &s.LPs[i].Stake)
	}
	for i := range s.Users {
		sum.Add(sum, &s.Users[i].WinningsClaimable)
	}
	for i := range s.ReferralClaimable {
		sum.Add(sum, &s.ReferralClaimable[i].Amount)
	}
	return sum
}
