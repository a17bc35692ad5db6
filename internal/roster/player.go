// Package roster holds the player catalog: the immutable profile of each
// player and the mutable fields the auction drives.
package roster

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DefaultBasePrice is the base price given to players added without one.
const DefaultBasePrice = 20

// ErrInvalidPlayer is returned when a player fails validation.
var ErrInvalidPlayer = errors.New("invalid player")

// Status is the auction status of a player.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBidding   Status = "bidding"
	StatusSold      Status = "sold"
	StatusUnsold    Status = "unsold"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBidding, StatusSold, StatusUnsold:
		return true
	}
	return false
}

// Player is a single entry in the catalog.
type Player struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Image           string   `json:"image,omitempty"`
	Pitch           string   `json:"pitch,omitempty"`
	InterestedGames []string `json:"interestedGames"`
	BasePrice       int      `json:"basePrice"`
	CurrentPrice    int      `json:"currentPrice"`
	Status          Status   `json:"status"`
	SoldTo          string   `json:"soldTo,omitempty"`
	FinalPrice      *int     `json:"finalPrice,omitempty"`
	// Version is the store revision that last wrote this player.
	Version int64 `json:"version"`
}

// Input carries the administrative fields used to create a player.
type Input struct {
	Name            string   `json:"name"`
	Image           string   `json:"image"`
	Pitch           string   `json:"pitch"`
	InterestedGames []string `json:"interestedGames"`
	BasePrice       int      `json:"basePrice"`
}

// New creates an available player from in. A zero base price falls back to
// defaultBase.
func New(id string, in Input, defaultBase int) (Player, error) {
	base := in.BasePrice
	if base == 0 {
		base = defaultBase
	}
	games := make([]string, 0, len(in.InterestedGames))
	for _, g := range in.InterestedGames {
		if g = strings.TrimSpace(g); g != "" {
			games = append(games, g)
		}
	}
	p := Player{
		ID:              strings.TrimSpace(id),
		Name:            strings.TrimSpace(in.Name),
		Image:           strings.TrimSpace(in.Image),
		Pitch:           strings.TrimSpace(in.Pitch),
		InterestedGames: games,
		BasePrice:       base,
		CurrentPrice:    base,
		Status:          StatusAvailable,
	}
	if err := p.Validate(); err != nil {
		return Player{}, err
	}
	return p, nil
}

// Validate checks the player's profile and status invariants.
func (p Player) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidPlayer)
	case p.Name == "":
		return fmt.Errorf("%w: %s: name is required", ErrInvalidPlayer, p.ID)
	case len(p.InterestedGames) == 0:
		return fmt.Errorf("%w: %s: at least one interested game is required", ErrInvalidPlayer, p.ID)
	case p.BasePrice <= 0:
		return fmt.Errorf("%w: %s: base price must be positive, got %d", ErrInvalidPlayer, p.ID, p.BasePrice)
	case !p.Status.Valid():
		return fmt.Errorf("%w: %s: unknown status %q", ErrInvalidPlayer, p.ID, p.Status)
	}

	sold := p.Status == StatusSold
	if sold != (p.FinalPrice != nil) {
		return fmt.Errorf("%w: %s: final price must be set only when sold", ErrInvalidPlayer, p.ID)
	}
	if sold != (p.SoldTo != "") {
		return fmt.Errorf("%w: %s: owning team must be set only when sold", ErrInvalidPlayer, p.ID)
	}
	if (p.Status == StatusBidding || sold) && p.CurrentPrice < p.BasePrice {
		return fmt.Errorf("%w: %s: current price %d below base price %d", ErrInvalidPlayer, p.ID, p.CurrentPrice, p.BasePrice)
	}
	if sold && *p.FinalPrice != p.CurrentPrice {
		return fmt.Errorf("%w: %s: final price %d differs from current price %d", ErrInvalidPlayer, p.ID, *p.FinalPrice, p.CurrentPrice)
	}
	return nil
}

// Startable reports whether an auction may be opened for the player.
func (p Player) Startable() bool {
	return p.Status == StatusAvailable || p.Status == StatusUnsold
}

// Reset returns p back in the available state at its base price.
func (p Player) Reset() Player {
	p.Status = StatusAvailable
	p.CurrentPrice = p.BasePrice
	p.SoldTo = ""
	p.FinalPrice = nil
	return p
}

// Unsold returns p marked unsold at its base price.
func (p Player) Unsold() Player {
	p = p.Reset()
	p.Status = StatusUnsold
	return p
}

// Sell returns p sold to team at price.
func (p Player) Sell(team string, price int) Player {
	p.Status = StatusSold
	p.CurrentPrice = price
	p.SoldTo = team
	p.FinalPrice = &price
	return p
}

// Clone returns a deep copy of p.
func (p Player) Clone() Player {
	p.InterestedGames = slices.Clone(p.InterestedGames)
	if p.FinalPrice != nil {
		v := *p.FinalPrice
		p.FinalPrice = &v
	}
	return p
}

// Registry is the catalog keyed by player ID.
type Registry map[string]Player

// Get returns the player with the given ID.
func (r Registry) Get(id string) (Player, bool) {
	p, ok := r[id]
	return p, ok
}

// List returns all players ordered by name, then ID.
func (r Registry) List() []Player {
	out := make([]Player, 0, len(r))
	for _, p := range r {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WithStatus returns the IDs of players in status s, sorted.
func (r Registry) WithStatus(s Status) []string {
	var ids []string
	for id, p := range r {
		if p.Status == s {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
