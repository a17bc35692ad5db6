package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/team-auction/internal/auction"
	"github.com/jensholdgaard/team-auction/internal/auth"
	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
)

const maxBody = 4 << 20

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Principal auth.Principal `json:"principal"`
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
}

type bidRequest struct {
	Team  string `json:"team"`
	Delta int    `json:"delta"`
}

type restoreResponse struct {
	Revision int64 `json:"revision"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %w", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil || s.issuer == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "password login is disabled", Reason: "login_disabled"})
		return
	}
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.accounts.Authenticate(req.Username, req.Password)
	if err != nil {
		s.logger.WarnContext(r.Context(), "login failed", slog.String("username", req.Username))
		s.fail(w, r, err)
		return
	}
	token, exp, err := s.issuer.Issue(p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, Principal: p})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	v, err := s.manager.View(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = n
	}

	var err error
	var events any
	if id := r.URL.Query().Get("player"); id != "" {
		events, err = s.manager.PlayerHistory(r.Context(), id)
	} else {
		events, err = s.manager.History(r.Context(), limit)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	var in roster.Input
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.manager.AddPlayer(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleResetPlayer(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, auction.ResetPlayer{PlayerID: chi.URLParam(r, "id")})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var doc store.Document
	if err := decode(r, &doc); err != nil {
		s.fail(w, r, err)
		return
	}
	rev, err := s.manager.Restore(r.Context(), doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, restoreResponse{Revision: rev})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.run(w, r, auction.StartAuction{PlayerID: req.PlayerID})
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.run(w, r, auction.PlaceBid{Team: req.Team, Delta: req.Delta})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.runCurrent(w, r, func(id string) auction.Command { return auction.ClearBidding{PlayerID: id} })
}

func (s *Server) handleUnsold(w http.ResponseWriter, r *http.Request) {
	s.runCurrent(w, r, func(id string) auction.Command { return auction.MarkUnsold{PlayerID: id} })
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.runCurrent(w, r, func(id string) auction.Command { return auction.FinalizeSale{PlayerID: id} })
}

// runCurrent runs the command built for the player named in the body, or
// for the player under the hammer when the body is empty.
func (s *Server) runCurrent(w http.ResponseWriter, r *http.Request, build func(id string) auction.Command) {
	var req playerRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, err)
		return
	}
	if req.PlayerID == "" {
		v, err := s.manager.View(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		p, ok := v.Current()
		if !ok {
			s.fail(w, r, bidding.ErrNoActiveAuction)
			return
		}
		req.PlayerID = p.ID
	}
	s.run(w, r, build(req.PlayerID))
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, cmd auction.Command) {
	ctx, span := s.tracer.Start(r.Context(), "api."+cmd.Name(),
		trace.WithAttributes(attribute.String("http.route", chi.RouteContext(r.Context()).RoutePattern())),
	)
	defer span.End()
	r = r.WithContext(ctx)

	res, err := s.manager.Execute(ctx, cmd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
