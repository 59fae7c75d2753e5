package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"

	"github.com/coordinationlabs/jackpot-engine/internal/entropy"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/store"
)

const maxPage = 500

// GetState handles GET /api/v1/state.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	d := snap.Params.TokenDecimals

	view := StateView{
		Round:                snap.Round,
		Lock:                 snap.Lock,
		PendingRequest:       snap.PendingRequest,
		NextRoundAt:          s.engine.NextRoundAt(),
		RoundDue:             s.engine.RoundDue(),
		LastWinner:           snap.LastWinnerAddress,
		UserPool:             model.FormatAmount(&snap.UserPoolTotal, d),
		LPPool:               model.FormatAmount(&snap.LPPoolTotal, d),
		LPFees:               model.FormatAmount(&snap.LPFeesTotal, d),
		ReferralFees:         model.FormatAmount(&snap.ReferralFeesTotal, d),
		ProtocolFeeClaimable: model.FormatAmount(&snap.ProtocolFeeClaimable, d),
		Tickets:              model.FormatAmount(&snap.TicketCountTotalBps, ticketDecimals),
		ActiveLPs:            len(snap.LPs),
		Params:               paramsView(snap.Params),
		Token: TokenView{
			Symbol:   s.ledger.Symbol(),
			Decimals: s.ledger.Decimals(),
			Burned:   s.format(s.ledger.Burned()),
		},
	}
	for _, u := range snap.Users {
		if u.Active {
			view.ActiveUsers++
		}
	}
	if fee, err := s.entropy.QuoteFee(r.Context()); err == nil {
		view.Entropy = EntropyView{Provider: s.entropy.Address(), Fee: s.format(fee)}
	}

	writeJSON(w, http.StatusOK, view)
}

// GetUser handles GET /api/v1/users/{address}.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"), false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	u := s.engine.User(addr)
	balance, err := s.ledger.BalanceOf(r.Context(), addr)
	if err != nil {
		writeError(w, "failed to read token balance", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, UserView{
		Address:           addr,
		Active:            u.Active,
		Tickets:           model.FormatAmount(&u.TicketsPurchasedTotalBps, ticketDecimals),
		WinningsClaimable: s.format(&u.WinningsClaimable),
		ReferralClaimable: s.format(s.engine.ReferralClaimable(addr)),
		Balance:           s.format(balance),
	})
}

// GetLP handles GET /api/v1/lps/{address}.
func (s *Server) GetLP(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"), false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, ok := s.engine.LP(addr)
	if !ok {
		writeError(w, "not a liquidity provider", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, LPView{
		Address:        p.Address,
		Principal:      s.format(&p.Principal),
		Stake:          s.format(&p.Stake),
		RiskPercentage: p.RiskPercentage,
		Active:         p.Active,
	})
}

// ListRounds handles GET /api/v1/rounds?limit=N, newest first.
func (s *Server) ListRounds(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", store.DefaultRoundPage)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rounds, err := s.store.ListRounds(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list rounds", http.StatusInternalServerError)
		return
	}

	d := s.decimals()
	views := make([]RoundView, 0, len(rounds))
	for _, rr := range rounds {
		views = append(views, roundView(rr, d))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetRound handles GET /api/v1/rounds/{number}.
func (s *Server) GetRound(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		writeError(w, "round number must be a positive integer", http.StatusBadRequest)
		return
	}

	rr, err := s.store.GetRound(r.Context(), n)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "round not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load round", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, roundView(*rr, s.decimals()))
}

// ListEvents handles GET /api/v1/events?type=&round=&limit=. Event payloads
// carry raw base units.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter := store.EventFilter{
		Type:  model.EventType(r.URL.Query().Get("type")),
		Limit: limit,
	}
	if raw := r.URL.Query().Get("round"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, "round must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Round = n
	}

	evs, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if evs == nil {
		evs = []model.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// EntropyResponse is a randomness record with its verification result.
type EntropyResponse struct {
	Record      entropy.Record `json:"record"`
	PublicKey   hexutil.Bytes  `json:"public_key"`
	Verified    bool           `json:"verified"`
	VerifyError string         `json:"verify_error,omitempty"`
}

// GetEntropy handles GET /api/v1/entropy/{requestID}. Anyone can check the
// VRF proof behind a round against the provider's public key.
func (s *Server) GetEntropy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "requestID"), 10, 64)
	if err != nil {
		writeError(w, "request id must be a positive integer", http.StatusBadRequest)
		return
	}

	rec, ok := s.entropy.Record(id)
	if !ok {
		writeError(w, "randomness request not found", http.StatusNotFound)
		return
	}

	resp := EntropyResponse{
		Record:    rec,
		PublicKey: crypto.FromECDSAPub(s.entropy.PublicKey()),
	}
	if rec.Status != entropy.StatusPending {
		if err := entropy.Verify(s.entropy.PublicKey(), rec); err != nil {
			resp.VerifyError = err.Error()
		} else {
			resp.Verified = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPage {
		return 0, errors.New(name + " must be between 1 and " + strconv.Itoa(maxPage))
	}
	return n, nil
}
