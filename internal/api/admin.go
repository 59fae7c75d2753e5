package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Admin routes act as the engine owner. The bearer token stands in for the
// owner's signature.

// SetParams handles PUT /api/v1/admin/params. The body is a partial
// ParamsView applied over the current parameters.
func (s *Server) SetParams(w http.ResponseWriter, r *http.Request) {
	current := s.engine.Params()
	view := paramsView(current)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&view); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := view.params(current.TokenDecimals)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.SetParams(current.Owner, p); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsView(s.engine.Params()))
}

// ForceUnlock handles POST /api/v1/admin/unlock.
func (s *Server) ForceUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ForceUnlock(s.engine.Params().Owner); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForceDeactivateLP handles POST /api/v1/admin/lps/{address}/deactivate.
func (s *Server) ForceDeactivateLP(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"), false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	paid, err := s.engine.ForceDeactivateLP(r.Context(), s.engine.Params().Owner, addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{Amount: s.format(paid)})
}
