// Package api exposes the jackpot engine over HTTP and WebSocket.
//
// Amounts on the wire are decimal token amounts ("12.5"), never base units
// and never floats. Callers identify themselves by address in the body; the
// dev server does not verify signatures.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/coordinationlabs/jackpot-engine/internal/entropy"
	"github.com/coordinationlabs/jackpot-engine/internal/jackpot"
	"github.com/coordinationlabs/jackpot-engine/internal/metrics"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/store"
	"github.com/coordinationlabs/jackpot-engine/internal/token"
)

// Options are the server settings that do not come from the engine.
type Options struct {
	// AdminToken guards /admin routes. Empty disables them.
	AdminToken string
	// FaucetAmount is minted per faucet call. Nil or zero disables the faucet.
	FaucetAmount *uint256.Int
}

// Server handles the HTTP API.
type Server struct {
	engine  *jackpot.Engine
	store   store.Store
	entropy *entropy.Provider
	ledger  *token.Ledger
	hub     *WSHub
	opts    Options
}

// NewServer creates the API server. hub may be nil, which disables /ws.
func NewServer(engine *jackpot.Engine, st store.Store, provider *entropy.Provider, ledger *token.Ledger, hub *WSHub, opts Options) *Server {
	return &Server{
		engine:  engine,
		store:   st,
		entropy: provider,
		ledger:  ledger,
		hub:     hub,
		opts:    opts,
	}
}

// Routes mounts the API on r, which is expected at /api/v1.
func (s *Server) Routes(r chi.Router) {
	r.Get("/state", s.GetState)
	r.Get("/users/{address}", s.GetUser)
	r.Get("/lps/{address}", s.GetLP)
	r.Get("/rounds", s.ListRounds)
	r.Get("/rounds/{number}", s.GetRound)
	r.Get("/events", s.ListEvents)
	r.Get("/entropy/{requestID}", s.GetEntropy)

	r.Post("/tickets", s.PurchaseTickets)
	r.Post("/lp/deposit", s.LPDeposit)
	r.Post("/lp/risk", s.AdjustRisk)
	r.Post("/lp/withdraw", s.WithdrawPrincipal)
	r.Post("/claims/{kind}", s.Claim)
	r.Post("/rounds/request", s.RequestRound)
	r.Post("/faucet", s.Faucet)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Put("/params", s.SetParams)
		r.Post("/unlock", s.ForceUnlock)
		r.Post("/lps/{address}/deactivate", s.ForceDeactivateLP)
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminToken == "" {
			writeError(w, "admin API disabled", http.StatusForbidden)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.AdminToken)) != 1 {
			writeError(w, "invalid admin token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) decimals() uint8 {
	return s.engine.Params().TokenDecimals
}

func (s *Server) format(x *uint256.Int) decimal.Decimal {
	return model.FormatAmount(x, s.decimals())
}

// amount converts a wire amount into base units.
func (s *Server) amount(field string, d decimal.Decimal) (*uint256.Int, error) {
	v, err := model.ParseAmount(d.String(), s.decimals())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// parseAddress accepts a hex address. Empty is the zero address when
// optional is set.
func parseAddress(field, raw string, optional bool) (common.Address, error) {
	if raw == "" && optional {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(raw), nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// writeEngineError maps an engine failure onto a status code.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrInsufficientBalance):
		writeError(w, "insufficient token balance", http.StatusBadRequest)
		return
	case errors.Is(err, entropy.ErrQueueFull):
		slog.Error("randomness provider unavailable", "err", err)
		writeError(w, "randomness provider unavailable", http.StatusBadGateway)
		return
	}
	switch jackpot.KindOf(err) {
	case jackpot.KindValidation:
		writeError(w, err.Error(), http.StatusBadRequest)
	case jackpot.KindStateConflict:
		writeError(w, err.Error(), http.StatusConflict)
	case jackpot.KindCapacity:
		metrics.CapacityRejections.Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case jackpot.KindAuthorization:
		writeError(w, err.Error(), http.StatusForbidden)
	case jackpot.KindNothingToClaim:
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("engine call failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
