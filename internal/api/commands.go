package api

import (
	"crypto/rand"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

// --- Request/Response types ---

// PurchaseRequest is the body of POST /tickets. Recipient defaults to the
// buyer; an empty referrer means no referral fee.
type PurchaseRequest struct {
	Buyer     string          `json:"buyer"`
	Recipient string          `json:"recipient,omitempty"`
	Referrer  string          `json:"referrer,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

type PurchaseResponse struct {
	Recipient   common.Address  `json:"recipient"`
	TicketCount decimal.Decimal `json:"ticket_count"`
	Tickets     decimal.Decimal `json:"tickets"`
	Used        decimal.Decimal `json:"used"`
	Refund      decimal.Decimal `json:"refund"`
	Fee         decimal.Decimal `json:"fee"`
	ReferralFee decimal.Decimal `json:"referral_fee"`
	LPFee       decimal.Decimal `json:"lp_fee"`
}

// DepositRequest is the body of POST /lp/deposit.
type DepositRequest struct {
	Address        string          `json:"address"`
	Amount         decimal.Decimal `json:"amount"`
	RiskPercentage uint8           `json:"risk_percentage"`
}

type DepositResponse struct {
	Deposited decimal.Decimal `json:"deposited"`
	Refund    decimal.Decimal `json:"refund"`
	Created   bool            `json:"created"`
}

// RiskRequest is the body of POST /lp/risk.
type RiskRequest struct {
	Address        string `json:"address"`
	RiskPercentage uint8  `json:"risk_percentage"`
}

// AddressRequest is the body of calls that only name the caller.
type AddressRequest struct {
	Address string `json:"address"`
}

type WithdrawResponse struct {
	Amount   decimal.Decimal `json:"amount"`
	Deferred bool            `json:"deferred,omitempty"`
}

// RoundRequestBody is the body of POST /rounds/request. Value defaults to
// the current randomness fee.
type RoundRequestBody struct {
	Caller string           `json:"caller"`
	Value  *decimal.Decimal `json:"value,omitempty"`
}

type RoundRequestResponse struct {
	Round     uint64          `json:"round"`
	RequestID uint64          `json:"request_id"`
	Fee       decimal.Decimal `json:"fee"`
	Refund    decimal.Decimal `json:"refund"`
}

// --- HTTP Handlers ---

// PurchaseTickets handles POST /api/v1/tickets.
func (s *Server) PurchaseTickets(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	buyer, err := parseAddress("buyer", req.Buyer, false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient, true)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	referrer, err := parseAddress("referrer", req.Referrer, true)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := s.amount("amount", req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rc, err := s.engine.PurchaseTickets(r.Context(), buyer, recipient, referrer, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PurchaseResponse{
		Recipient:   rc.Recipient,
		TicketCount: model.FormatAmount(rc.TicketCount, 0),
		Tickets:     model.FormatAmount(rc.TicketsBps, ticketDecimals),
		Used:        s.format(rc.UsedAmount),
		Refund:      s.format(rc.Refund),
		Fee:         s.format(rc.Fees.All),
		ReferralFee: s.format(rc.Fees.Referral),
		LPFee:       s.format(rc.Fees.LP),
	})
}

// LPDeposit handles POST /api/v1/lp/deposit.
func (s *Server) LPDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	addr, err := parseAddress("address", req.Address, false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := s.amount("amount", req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rc, err := s.engine.LPDeposit(r.Context(), addr, amount, req.RiskPercentage)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if rc.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, DepositResponse{
		Deposited: s.format(rc.Deposited),
		Refund:    s.format(rc.Refund),
		Created:   rc.Created,
	})
}

// AdjustRisk handles POST /api/v1/lp/risk.
func (s *Server) AdjustRisk(w http.ResponseWriter, r *http.Request) {
	var req RiskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	addr, err := parseAddress("address", req.Address, false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.AdjustRisk(addr, req.RiskPercentage); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WithdrawPrincipal handles POST /api/v1/lp/withdraw. A deferred withdrawal
// answers 202: the stake is released at the next round boundary and the LP
// must call again.
func (s *Server) WithdrawPrincipal(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	addr, err := parseAddress("address", req.Address, false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.WithdrawPrincipal(r.Context(), addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if res.Deferred {
		status = http.StatusAccepted
	}
	writeJSON(w, status, WithdrawResponse{Amount: s.format(res.Amount), Deferred: res.Deferred})
}

// Claim handles POST /api/v1/claims/{kind} for winnings, referral and
// protocol balances. The protocol claim pays the configured fee address and
// ignores the body.
func (s *Server) Claim(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	ctx := r.Context()

	var (
		paid *uint256.Int
		err  error
	)
	switch kind {
	case "protocol":
		paid, err = s.engine.WithdrawProtocolFees(ctx)
	case "winnings", "referral":
		var req AddressRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		addr, perr := parseAddress("address", req.Address, false)
		if perr != nil {
			writeError(w, perr.Error(), http.StatusBadRequest)
			return
		}
		if kind == "winnings" {
			paid, err = s.engine.WithdrawWinnings(ctx, addr)
		} else {
			paid, err = s.engine.WithdrawReferralFees(ctx, addr)
		}
	default:
		writeError(w, "claim kind must be winnings, referral or protocol", http.StatusNotFound)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{Amount: s.format(paid)})
}

// RequestRound handles POST /api/v1/rounds/request.
func (s *Server) RequestRound(w http.ResponseWriter, r *http.Request) {
	var req RoundRequestBody
	if err := decode(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	caller, err := parseAddress("caller", req.Caller, false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var value *uint256.Int
	if req.Value != nil {
		if value, err = s.amount("value", *req.Value); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else if value, err = s.entropy.QuoteFee(ctx); err != nil {
		writeEngineError(w, err)
		return
	}

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		writeEngineError(w, err)
		return
	}

	rr, err := s.engine.RequestRound(ctx, caller, seed, value)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, RoundRequestResponse{
		Round:     rr.Round,
		RequestID: rr.RequestID,
		Fee:       s.format(rr.Fee),
		Refund:    s.format(rr.Refund),
	})
}

// Faucet handles POST /api/v1/faucet, minting dev tokens to an address.
func (s *Server) Faucet(w http.ResponseWriter, r *http.Request) {
	if s.opts.FaucetAmount == nil || s.opts.FaucetAmount.IsZero() {
		writeError(w, "faucet disabled", http.StatusForbidden)
		return
	}
	var req AddressRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	addr, err := parseAddress("address", req.Address, false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if addr == (common.Address{}) || addr == s.engine.Account() {
		writeError(w, "address cannot receive faucet funds", http.StatusBadRequest)
		return
	}

	s.ledger.Mint(addr, s.opts.FaucetAmount)
	slog.Info("faucet mint", "to", addr, "amount", s.opts.FaucetAmount)

	balance, err := s.ledger.BalanceOf(r.Context(), addr)
	if err != nil {
		writeError(w, "failed to read token balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"minted":  s.format(s.opts.FaucetAmount),
		"balance": s.format(balance),
	})
}
