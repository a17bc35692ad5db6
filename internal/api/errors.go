package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jensholdgaard/team-auction/internal/auction"
	"github.com/jensholdgaard/team-auction/internal/auth"
	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	// Reason is a stable machine-readable label.
	Reason string `json:"reason,omitempty"`
	Limit  *int   `json:"limit,omitempty"`
}

var errBadRequest = errors.New("bad request")

// statusFor maps an auction error onto an HTTP status and reason label.
func statusFor(ctx context.Context, err error) (int, string) {
	switch {
	case errors.Is(err, auction.ErrNotAuthorized):
		if _, ok := auth.PrincipalFrom(ctx); ok {
			return http.StatusForbidden, "not_authorized"
		}
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, auction.ErrPlayerNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "player_not_found"
	case errors.Is(err, auction.ErrTeamNotFound):
		return http.StatusNotFound, "team_not_found"
	case errors.Is(err, bidding.ErrNoActiveAuction):
		return http.StatusConflict, "no_active_auction"
	case errors.Is(err, bidding.ErrInvalidDelta):
		return http.StatusUnprocessableEntity, "invalid_delta"
	case errors.Is(err, bidding.ErrBelowBasePrice):
		return http.StatusUnprocessableEntity, "below_base_price"
	case errors.Is(err, bidding.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity, "budget_exceeded"
	case errors.Is(err, roster.ErrInvalidPlayer):
		return http.StatusUnprocessableEntity, "invalid_player"
	case errors.Is(err, auction.ErrInconsistentState):
		return http.StatusUnprocessableEntity, "inconsistent_state"
	case errors.Is(err, auction.ErrAuctionBusy):
		return http.StatusConflict, "auction_busy"
	case errors.Is(err, auction.ErrNoBids):
		return http.StatusConflict, "no_bids"
	case errors.Is(err, auction.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, auction.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "store_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError writes err with an explicit status.
func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	_, reason := statusFor(r.Context(), err)
	writeJSON(w, code, errorResponse{Error: err.Error(), Reason: reason})
}

// fail maps err onto a status and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, reason := statusFor(r.Context(), err)
	resp := errorResponse{Error: err.Error(), Reason: reason}
	var rej *bidding.Rejection
	if errors.As(err, &rej) && rej.Limit != 0 {
		resp.Limit = &rej.Limit
	}
	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		resp.Error = http.StatusText(code)
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
