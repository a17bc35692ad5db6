// Package ledger tracks each team's budget, cumulative spend and the set of
// players it owns.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// DefaultBudget is the budget each team starts with, in lakhs.
const DefaultBudget = 1000

// Errors returned by ledger operations.
var (
	ErrUnknownTeam  = errors.New("unknown team")
	ErrOverBudget   = errors.New("purchase exceeds remaining budget")
	ErrAlreadyOwned = errors.New("player already on team")
	ErrNotOwned     = errors.New("player not on team")
	ErrDrift        = errors.New("team spend does not match owned players")
)

// TeamID identifies one of the two bidding teams.
type TeamID string

const (
	TeamA TeamID = "A"
	TeamB TeamID = "B"
)

// IDs lists every team in display order.
var IDs = []TeamID{TeamA, TeamB}

// ParseTeamID normalizes s into a known team id.
func ParseTeamID(s string) (TeamID, error) {
	id := TeamID(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(IDs, id) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTeam, s)
	}
	return id, nil
}

// Team is a bidding team's account.
type Team struct {
	ID         TeamID   `json:"id"`
	Budget     int      `json:"budget"`
	TotalSpent int      `json:"totalSpent"`
	Players    []string `json:"players"`
	// Version is the store revision that last wrote this team.
	Version int64 `json:"version"`
}

// New returns an empty team with the given budget.
func New(id TeamID, budget int) Team {
	return Team{ID: id, Budget: budget, Players: []string{}}
}

// Remaining is the live ceiling for new bids.
func (t Team) Remaining() int {
	return t.Budget - t.TotalSpent
}

// Owns reports whether the player is on this team.
func (t Team) Owns(playerID string) bool {
	return slices.Contains(t.Players, playerID)
}

// Acquire returns t with the player added at price.
func (t Team) Acquire(playerID string, price int) (Team, error) {
	if t.Owns(playerID) {
		return t, fmt.Errorf("%w: %s already owns %s", ErrAlreadyOwned, t.ID, playerID)
	}
	if price > t.Remaining() {
		return t, fmt.Errorf("%w: team %s has %d remaining, price is %d", ErrOverBudget, t.ID, t.Remaining(), price)
	}
	t.Players = append(slices.Clone(t.Players), playerID)
	t.TotalSpent += price
	return t, nil
}

// Release returns t with the player removed and price refunded.
func (t Team) Release(playerID string, price int) (Team, error) {
	i := slices.Index(t.Players, playerID)
	if i < 0 {
		return t, fmt.Errorf("%w: %s does not own %s", ErrNotOwned, t.ID, playerID)
	}
	t.Players = slices.Delete(slices.Clone(t.Players), i, i+1)
	t.TotalSpent -= price
	return t, nil
}

// Clone returns a deep copy of t.
func (t Team) Clone() Team {
	t.Players = slices.Clone(t.Players)
	return t
}

// Reconcile checks that TotalSpent equals the sum of prices of the owned
// players and stays within budget. prices maps player id to final price.
func (t Team) Reconcile(prices map[string]int) error {
	sum := 0
	for _, id := range t.Players {
		price, ok := prices[id]
		if !ok {
			return fmt.Errorf("%w: team %s lists %s which is not sold to it", ErrDrift, t.ID, id)
		}
		sum += price
	}
	if sum != t.TotalSpent {
		return fmt.Errorf("%w: team %s spent %d, owned players total %d", ErrDrift, t.ID, t.TotalSpent, sum)
	}
	if t.TotalSpent < 0 || t.TotalSpent > t.Budget {
		return fmt.Errorf("%w: team %s spent %d of %d", ErrOverBudget, t.ID, t.TotalSpent, t.Budget)
	}
	return nil
}

// Stats is the per-team summary shown to operators.
type Stats struct {
	ID        TeamID `json:"id"`
	Players   int    `json:"players"`
	Spent     int    `json:"spent"`
	Remaining int    `json:"remaining"`
	Budget    int    `json:"budget"`
}

// Stats summarizes t.
func (t Team) Stats() Stats {
	return Stats{
		ID:        t.ID,
		Players:   len(t.Players),
		Spent:     t.TotalSpent,
		Remaining: t.Remaining(),
		Budget:    t.Budget,
	}
}
