package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/inconshreveable/log15"

	"github.com/lazypower/vecarvs/internal/api"
	"github.com/lazypower/vecarvs/internal/escrow"
	"github.com/lazypower/vecarvs/internal/ledger"
	"github.com/lazypower/vecarvs/internal/store"
)

// Server is the vecarvs HTTP API server.
type Server struct {
	db      *store.DB
	svc     *escrow.Service
	hub     *hub
	router  chi.Router
	version string
	started time.Time
	log     log.Logger
}

// New creates a Server over the escrow service and subscribes its event
// stream to the service's bus.
func New(db *store.DB, svc *escrow.Service, version string) *Server {
	s := &Server{
		db:      db,
		svc:     svc,
		hub:     newHub(),
		version: version,
		started: time.Now(),
		log:     log.New("module", "server"),
	}
	svc.Bus().SubscribeAll(s.hub.broadcast)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	web := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	closed := make(chan error, 1)
	go func() {
		s.log.Info("serving", "addr", addr)
		closed <- web.ListenAndServe()
	}()

	select {
	case err := <-closed:
		return err
	case <-ctx.Done():
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := web.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", "err", err)
		}
		return ctx.Err()
	}
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/locks", s.handleLock)
		r.Get("/locks/{positionID}", s.handleGetLock)
		r.Post("/locks/{positionID}/release", s.handleRelease)

		r.Get("/identities/{identity}/locks", s.handleListLocks)
		r.Get("/identities/{identity}/balance", s.handleBalance)
		r.Get("/identities/{identity}/checkpoints", s.handleIdentityCheckpoints)
		r.Post("/identities/{identity}/checkpoint", s.handleIdentityCheckpoint)

		r.Get("/supply", s.handleSupply)
		r.Get("/checkpoints", s.handleGlobalCheckpoints)
		r.Post("/checkpoint", s.handleCheckpoint)

		r.Get("/accounts/{identity}", s.handleAccount)
		r.Post("/accounts/{identity}/credit", s.handleCredit)

		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.handleStream)
	})

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "took", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	p := s.svc.Params()
	writeJSON(w, http.StatusOK, api.Health{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.started).Seconds(),
		DB:      dbOK,
		DBPath:  s.db.Path,
		Genesis: p.Genesis,
		Epoch:   p.EpochDuration,
		Factor:  p.StakingFactor,
		Now:     s.svc.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger and escrow errors to status codes. The code field
// carries the sentinel name so clients can map it back.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, ""
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			status, code = m.status, m.err.Error()
			break
		}
	}
	writeJSON(w, status, api.Error{Error: err.Error(), Code: code})
}

var errorStatus = []struct {
	err    error
	status int
}{
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrInvalidDuration, http.StatusBadRequest},
	{ledger.ErrInvalidIdentity, http.StatusBadRequest},
	{ledger.ErrInsufficientBalance, http.StatusBadRequest},
	{ledger.ErrNotOwnerOrAlreadyReleased, http.StatusForbidden},
	{ledger.ErrStillLocked, http.StatusConflict},
	{ledger.ErrPositionNotFound, http.StatusNotFound},
}
