package model

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType names an observable side effect of the engine.
type EventType string

const (
	EventTicketPurchase           EventType = "ticket_purchase"
	EventWinningsWithdrawal       EventType = "winnings_withdrawal"
	EventReferralWithdrawal       EventType = "referral_withdrawal"
	EventProtocolWithdrawal       EventType = "protocol_withdrawal"
	EventLPDeposit                EventType = "lp_deposit"
	EventLPPrincipalWithdrawal    EventType = "lp_principal_withdrawal"
	EventRoundRequested           EventType = "round_requested"
	EventRoundResult              EventType = "round_result"
	EventRandomnessDelivered      EventType = "randomness_delivered"
	EventLPStakeWithdrawalRequest EventType = "lp_stake_withdrawal_request"
	EventLPRebalance              EventType = "lp_rebalance"
	EventLPRiskAdjusted           EventType = "lp_risk_adjusted"
)

// Event is an immutable journal record. Data holds one of the payload types
// below, encoded as JSON.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Round     uint64          `json:"round"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent builds an event with a fresh id. Payloads only contain types with
// stable JSON encodings so marshalling cannot fail in practice.
func NewEvent(typ EventType, round uint64, ts time.Time, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Round:     round,
		Timestamp: ts.UTC(),
		Data:      data,
	}
}

type TicketPurchase struct {
	Buyer       common.Address `json:"buyer"`
	Recipient   common.Address `json:"recipient"`
	Referrer    common.Address `json:"referrer"`
	TicketCount *uint256.Int   `json:"ticket_count"`
	TicketsBps  *uint256.Int   `json:"tickets_bps"`
	UsedAmount  *uint256.Int   `json:"used_amount"`
	Refund      *uint256.Int   `json:"refund"`
	ReferralFee *uint256.Int   `json:"referral_fee"`
}

// Withdrawal covers winnings, referral and protocol fee withdrawals.
type Withdrawal struct {
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

type LPDeposit struct {
	LP             common.Address `json:"lp"`
	Amount         *uint256.Int   `json:"amount"`
	Refund         *uint256.Int   `json:"refund"`
	RiskPercentage uint8          `json:"risk_percentage"`
}

type LPPrincipalWithdrawal struct {
	LP     common.Address `json:"lp"`
	Amount *uint256.Int   `json:"amount"`
}

type LPStakeWithdrawalRequest struct {
	LP    common.Address `json:"lp"`
	Stake *uint256.Int   `json:"stake"`
}

type LPRebalance struct {
	LP        common.Address `json:"lp"`
	Principal *uint256.Int   `json:"principal"`
	Stake     *uint256.Int   `json:"stake"`
}

type LPRiskAdjusted struct {
	LP             common.Address `json:"lp"`
	RiskPercentage uint8          `json:"risk_percentage"`
}

type RoundRequested struct {
	Caller    common.Address `json:"caller"`
	RequestID uint64         `json:"request_id"`
	Fee       *uint256.Int   `json:"fee"`
}

type RandomnessDelivered struct {
	RequestID   uint64       `json:"request_id"`
	RandomValue *uint256.Int `json:"random_value"`
}

type RoundResultEvent struct {
	Time             time.Time      `json:"time"`
	Outcome          Outcome        `json:"outcome"`
	Winner           common.Address `json:"winner"`
	WinningTicket    *uint256.Int   `json:"winning_ticket"`
	WinAmount        *uint256.Int   `json:"win_amount"`
	WinnerTicketsBps *uint256.Int   `json:"winner_tickets_bps"`
}
