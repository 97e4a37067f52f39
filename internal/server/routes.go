package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/vecarvs/internal/api"
	"github.com/lazypower/vecarvs/internal/ledger"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a base-10 integer", ledger.ErrInvalidAmount, s)
	}
	return n, nil
}

// queryTime reads the at parameter, defaulting to the current time.
func (s *Server) queryTime(r *http.Request) (uint64, error) {
	v := r.URL.Query().Get("at")
	if v == "" {
		return s.svc.Now(), nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func positionID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "positionID"), 10, 64)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req api.LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	pos, err := s.svc.Deposit(r.Context(), req.Identity, amount, req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.FromPosition(pos))
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		http.Error(w, `{"error":"invalid position id"}`, http.StatusBadRequest)
		return
	}
	pos, err := s.svc.Position(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromPosition(pos))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		http.Error(w, `{"error":"invalid position id"}`, http.StatusBadRequest)
		return
	}
	var req api.ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	pos, err := s.svc.Release(r.Context(), req.Identity, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromPosition(pos))
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	positions := s.svc.PositionsOf(chi.URLParam(r, "identity"))
	out := make([]api.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, api.FromPosition(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	at, err := s.queryTime(r)
	if err != nil {
		http.Error(w, `{"error":"invalid at"}`, http.StatusBadRequest)
		return
	}
	identity := chi.URLParam(r, "identity")
	writeJSON(w, http.StatusOK, api.Balance{
		Identity: identity,
		At:       at,
		Balance:  s.svc.BalanceOfAt(identity, at).String(),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	at, err := s.queryTime(r)
	if err != nil {
		http.Error(w, `{"error":"invalid at"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, api.Supply{
		At:     at,
		Supply: s.svc.TotalSupplyAt(at).String(),
	})
}

func (s *Server) handleIdentityCheckpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.FromPoints(s.svc.Points(chi.URLParam(r, "identity"))))
}

func (s *Server) handleGlobalCheckpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.FromPoints(s.svc.Points("")))
}

func (s *Server) handleIdentityCheckpoint(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	n, err := s.svc.CheckpointIdentity(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CheckpointResult{Identity: identity, Appended: n})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Checkpoint(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CheckpointResult{Appended: n})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	bal, err := s.svc.AccountBalance(identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Account{Identity: identity, Balance: bal.String()})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req api.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	identity := chi.URLParam(r, "identity")
	bal, err := s.svc.Credit(identity, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Account{Identity: identity, Balance: bal.String()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}
	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid after"}`, http.StatusBadRequest)
			return
		}
		after = n
	}

	recs, err := s.svc.Events(after, q.Get("identity"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]api.EventEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, api.EventEntry{Seq: rec.ID, Event: json.RawMessage(rec.Payload)})
	}
	writeJSON(w, http.StatusOK, out)
}
