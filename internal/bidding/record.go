// Package bidding holds the record of the player currently under the hammer
// and the rules deciding whether a bid against it is accepted.
package bidding

import (
	"time"

	"github.com/jensholdgaard/team-auction/internal/ledger"
)

// Status is the state of an auction record.
type Status string

const (
	StatusBidding Status = "bidding"
	StatusEnded   Status = "ended"
)

// Record is the authoritative current bid for one player.
type Record struct {
	PlayerID     string        `json:"playerId"`
	CurrentPrice int           `json:"currentPrice"`
	LastBidTeam  ledger.TeamID `json:"lastBidTeam,omitempty"`
	LastBidTime  *time.Time    `json:"lastBidTime,omitempty"`
	Status       Status        `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	// Version is the store revision that last wrote the record.
	Version int64 `json:"version"`
}

// Active reports whether r is an open auction.
func (r *Record) Active() bool {
	return r != nil && r.Status == StatusBidding
}

// ActiveFor reports whether r is an open auction for the given player.
func (r *Record) ActiveFor(playerID string) bool {
	return r.Active() && r.PlayerID == playerID
}

// HasBid reports whether any team has bid since the record was opened or
// last cleared.
func (r *Record) HasBid() bool {
	return r != nil && r.LastBidTeam != ""
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastBidTime != nil {
		t := *r.LastBidTime
		c.LastBidTime = &t
	}
	return &c
}
