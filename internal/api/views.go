package api

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// ticketDecimals renders ticket basis points as ticket counts.
const ticketDecimals = 4

// ParamsView is model.Params in wire units. PUT /admin/params accepts the
// same shape; omitted fields keep their current value.
type ParamsView struct {
	Owner                common.Address  `json:"owner"`
	TicketPrice          decimal.Decimal `json:"ticket_price"`
	RoundDuration        string          `json:"round_duration"`
	FeeBps               uint64          `json:"fee_bps"`
	ReferralFeeBps       uint64          `json:"referral_fee_bps"`
	LPPoolCap            decimal.Decimal `json:"lp_pool_cap"`
	LPLimit              int             `json:"lp_limit"`
	UserLimit            int             `json:"user_limit"`
	PurchasingEnabled    bool            `json:"purchasing_enabled"`
	ProtocolFeeAddress   common.Address  `json:"protocol_fee_address"`
	ProtocolFeeThreshold decimal.Decimal `json:"protocol_fee_threshold"`
	FallbackWinner       common.Address  `json:"fallback_winner"`
	MinLPDeposit         decimal.Decimal `json:"min_lp_deposit"`
	TokenDecimals        uint8           `json:"token_decimals"`
}

func paramsView(p model.Params) ParamsView {
	d := p.TokenDecimals
	return ParamsView{
		Owner:                p.Owner,
		TicketPrice:          model.FormatAmount(&p.TicketPrice, d),
		RoundDuration:        p.RoundDuration.String(),
		FeeBps:               p.FeeBps,
		ReferralFeeBps:       p.ReferralFeeBps,
		LPPoolCap:            model.FormatAmount(&p.LPPoolCap, d),
		LPLimit:              p.LPLimit,
		UserLimit:            p.UserLimit,
		PurchasingEnabled:    p.PurchasingEnabled,
		ProtocolFeeAddress:   p.ProtocolFeeAddress,
		ProtocolFeeThreshold: model.FormatAmount(&p.ProtocolFeeThreshold, d),
		FallbackWinner:       p.FallbackWinner,
		MinLPDeposit:         model.FormatAmount(&p.MinLPDeposit, d),
		TokenDecimals:        d,
	}
}

// params converts v back to base units. The token's decimals cannot change.
func (v ParamsView) params(decimals uint8) (model.Params, error) {
	dur, err := time.ParseDuration(v.RoundDuration)
	if err != nil {
		return model.Params{}, fmt.Errorf("round_duration: %w", err)
	}
	p := model.Params{
		Owner:              v.Owner,
		RoundDuration:      dur,
		FeeBps:             v.FeeBps,
		ReferralFeeBps:     v.ReferralFeeBps,
		LPLimit:            v.LPLimit,
		UserLimit:          v.UserLimit,
		PurchasingEnabled:  v.PurchasingEnabled,
		ProtocolFeeAddress: v.ProtocolFeeAddress,
		FallbackWinner:     v.FallbackWinner,
		TokenDecimals:      decimals,
	}
	amounts := []struct {
		name string
		in   decimal.Decimal
		out  *uint256.Int
	}{
		{"ticket_price", v.TicketPrice, &p.TicketPrice},
		{"lp_pool_cap", v.LPPoolCap, &p.LPPoolCap},
		{"protocol_fee_threshold", v.ProtocolFeeThreshold, &p.ProtocolFeeThreshold},
		{"min_lp_deposit", v.MinLPDeposit, &p.MinLPDeposit},
	}
	for _, a := range amounts {
		x, err := model.ParseAmount(a.in.String(), decimals)
		if err != nil {
			return model.Params{}, fmt.Errorf("%s: %w", a.name, err)
		}
		a.out.Set(x)
	}
	return p, nil
}

// StateView is the response of GET /state.
type StateView struct {
	Round                uint64          `json:"round"`
	Lock                 model.LockState `json:"lock"`
	PendingRequest       uint64          `json:"pending_request,omitempty"`
	NextRoundAt          time.Time       `json:"next_round_at"`
	RoundDue             bool            `json:"round_due"`
	LastWinner           common.Address  `json:"last_winner"`
	UserPool             decimal.Decimal `json:"user_pool"`
	LPPool               decimal.Decimal `json:"lp_pool"`
	LPFees               decimal.Decimal `json:"lp_fees"`
	ReferralFees         decimal.Decimal `json:"referral_fees"`
	ProtocolFeeClaimable decimal.Decimal `json:"protocol_fee_claimable"`
	Tickets              decimal.Decimal `json:"tickets"`
	ActiveUsers          int             `json:"active_users"`
	ActiveLPs            int             `json:"active_lps"`
	Params               ParamsView      `json:"params"`
	Token                TokenView       `json:"token"`
	Entropy              EntropyView     `json:"entropy"`
}

type TokenView struct {
	Symbol   string          `json:"symbol"`
	Decimals uint8           `json:"decimals"`
	Burned   decimal.Decimal `json:"burned"`
}

type EntropyView struct {
	Provider common.Address  `json:"provider"`
	Fee      decimal.Decimal `json:"fee"`
}

// UserView is the response of GET /users/{address}.
type UserView struct {
	Address           common.Address  `json:"address"`
	Active            bool            `json:"active"`
	Tickets           decimal.Decimal `json:"tickets"`
	WinningsClaimable decimal.Decimal `json:"winnings_claimable"`
	ReferralClaimable decimal.Decimal `json:"referral_claimable"`
	Balance           decimal.Decimal `json:"balance"`
}

// LPView is the response of GET /lps/{address}.
type LPView struct {
	Address        common.Address  `json:"address"`
	Principal      decimal.Decimal `json:"principal"`
	Stake          decimal.Decimal `json:"stake"`
	RiskPercentage uint8           `json:"risk_percentage"`
	Active         bool            `json:"active"`
}

// RoundView is a settled round in wire units. WinningTicket and RandomValue
// stay raw.
type RoundView struct {
	Round             uint64          `json:"round"`
	EndedAt           time.Time       `json:"ended_at"`
	Outcome           model.Outcome   `json:"outcome"`
	Winner            common.Address  `json:"winner"`
	WinningTicket     *uint256.Int    `json:"winning_ticket"`
	WinAmount         decimal.Decimal `json:"win_amount"`
	WinnerTickets     decimal.Decimal `json:"winner_tickets"`
	RandomValue       *uint256.Int    `json:"random_value"`
	UserPool          decimal.Decimal `json:"user_pool"`
	LPPool            decimal.Decimal `json:"lp_pool"`
	Tickets           decimal.Decimal `json:"tickets"`
	LPFeesDistributed decimal.Decimal `json:"lp_fees_distributed"`
	ProtocolFee       decimal.Decimal `json:"protocol_fee"`
}

func roundView(r model.RoundResult, decimals uint8) RoundView {
	return RoundView{
		Round:             r.Round,
		EndedAt:           r.EndedAt,
		Outcome:           r.Outcome,
		Winner:            r.Winner,
		WinningTicket:     new(uint256.Int).Set(&r.WinningTicket),
		WinAmount:         model.FormatAmount(&r.WinAmount, decimals),
		WinnerTickets:     model.FormatAmount(&r.WinnerTicketsBps, ticketDecimals),
		RandomValue:       new(uint256.Int).Set(&r.RandomValue),
		UserPool:          model.FormatAmount(&r.UserPoolTotal, decimals),
		LPPool:            model.FormatAmount(&r.LPPoolTotal, decimals),
		Tickets:           model.FormatAmount(&r.TicketCountTotalBps, ticketDecimals),
		LPFeesDistributed: model.FormatAmount(&r.LPFeesDistributed, decimals),
		ProtocolFee:       model.FormatAmount(&r.ProtocolFee, decimals),
	}
}
