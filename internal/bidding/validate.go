package bidding

import (
	"errors"
	"fmt"
	"math"

	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
)

// Rejection reasons. A *Rejection matches its reason with errors.Is.
var (
	ErrNoActiveAuction = errors.New("no active auction")
	ErrInvalidDelta    = errors.New("bid increment must not be negative")
	ErrBelowBasePrice  = errors.New("bid is below the base price")
	ErrBudgetExceeded  = errors.New("bid exceeds remaining budget")
)

// Rejection explains why a bid was refused, including the limiting value the
// operator needs to act on.
type Rejection struct {
	Reason error
	Team   ledger.TeamID
	// Price is the price the bid would have produced.
	Price int
	// Limit is the bound that was violated: the base price or the remaining
	// budget.
	Limit int
}

func (r *Rejection) Error() string {
	switch {
	case errors.Is(r.Reason, ErrBudgetExceeded):
		return fmt.Sprintf("team %s cannot afford %d: remaining budget is %d", r.Team, r.Price, r.Limit)
	case errors.Is(r.Reason, ErrBelowBasePrice):
		return fmt.Sprintf("bid of %d cannot be lower than base price %d", r.Price, r.Limit)
	case errors.Is(r.Reason, ErrInvalidDelta):
		return fmt.Sprintf("%s: got %d", r.Reason, r.Price)
	}
	return r.Reason.Error()
}

func (r *Rejection) Unwrap() error { return r.Reason }

// Validate decides whether team may raise the auction in rec by delta. It
// returns the new price on acceptance. Rules are checked in order and the
// first failure wins. A zero delta is accepted: it re-confirms interest at the
// current price.
func Validate(rec *Record, delta int, team ledger.Team, player roster.Player) (int, error) {
	if !rec.ActiveFor(player.ID) {
		return 0, &Rejection{Reason: ErrNoActiveAuction, Team: team.ID}
	}
	if delta < 0 {
		return 0, &Rejection{Reason: ErrInvalidDelta, Team: team.ID, Price: delta}
	}

	if delta > math.MaxInt-rec.CurrentPrice {
		// No budget can cover a price past MaxInt.
		return 0, &Rejection{Reason: ErrBudgetExceeded, Team: team.ID, Price: math.MaxInt, Limit: team.Remaining()}
	}
	price := rec.CurrentPrice + delta
	if price < player.BasePrice {
		return 0, &Rejection{Reason: ErrBelowBasePrice, Team: team.ID, Price: price, Limit: player.BasePrice}
	}
	if remaining := team.Remaining(); price > remaining {
		return 0, &Rejection{Reason: ErrBudgetExceeded, Team: team.ID, Price: price, Limit: remaining}
	}
	return price, nil
}
