package auction

import (
	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
)

// View is the read-only state handed to presentation adapters.
type View struct {
	Revision int64           `json:"revision"`
	Players  []roster.Player `json:"players"`
	Auction  *bidding.Record `json:"auction,omitempty"`
	TeamA    ledger.Stats    `json:"teamA"`
	TeamB    ledger.Stats    `json:"teamB"`
}

// NewView summarizes snap. Teams missing from the store are shown with the
// machine's budget and no spend.
func (m Machine) NewView(snap *store.Snapshot) View {
	return View{
		Revision: snap.Revision,
		Players:  snap.Players.List(),
		Auction:  snap.Auction.Clone(),
		TeamA:    m.Team(snap, ledger.TeamA).Stats(),
		TeamB:    m.Team(snap, ledger.TeamB).Stats(),
	}
}

// Team returns the stats for id.
func (v View) Team(id ledger.TeamID) ledger.Stats {
	if id == ledger.TeamB {
		return v.TeamB
	}
	return v.TeamA
}

// Current returns the player under the hammer, if any.
func (v View) Current() (roster.Player, bool) {
	if !v.Auction.Active() {
		return roster.Player{}, false
	}
	for _, p := range v.Players {
		if p.ID == v.Auction.PlayerID {
			return p, true
		}
	}
	return roster.Player{}, false
}
