package auction

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
)

// CheckInvariants verifies the cross-entity rules that every committed
// snapshot must satisfy. All violations are reported, each wrapping
// ErrInconsistentState.
func CheckInvariants(snap *store.Snapshot) error {
	var errs []error
	fail := func(err error) {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInconsistentState, err))
	}

	ids := make([]string, 0, len(snap.Players))
	for id := range snap.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var underHammer []string
	prices := make(map[ledger.TeamID]map[string]int)
	for _, id := range ids {
		p := snap.Players[id]
		if p.ID != id {
			fail(fmt.Errorf("player stored under %q has id %q", id, p.ID))
		}
		if err := p.Validate(); err != nil {
			fail(err)
			continue
		}
		switch p.Status {
		case roster.StatusBidding:
			underHammer = append(underHammer, id)
		case roster.StatusSold:
			team := ledger.TeamID(p.SoldTo)
			if _, ok := snap.Teams[team]; !ok {
				fail(fmt.Errorf("player %s sold to unknown team %q", id, p.SoldTo))
				continue
			}
			if prices[team] == nil {
				prices[team] = make(map[string]int)
			}
			prices[team][id] = *p.FinalPrice
		}
	}

	if len(underHammer) > 1 {
		fail(fmt.Errorf("players %v are all bidding", underHammer))
	}
	rec := snap.Auction
	switch {
	case rec.Active() && len(underHammer) == 0:
		fail(fmt.Errorf("auction for %s is open but the player is not bidding", rec.PlayerID))
	case rec.Active() && underHammer[0] != rec.PlayerID:
		fail(fmt.Errorf("auction for %s is open but %s is bidding", rec.PlayerID, underHammer[0]))
	case rec.Active() && snap.Players[rec.PlayerID].CurrentPrice != rec.CurrentPrice:
		fail(fmt.Errorf("player %s price %d does not mirror auction price %d",
			rec.PlayerID, snap.Players[rec.PlayerID].CurrentPrice, rec.CurrentPrice))
	case !rec.Active() && len(underHammer) > 0:
		fail(fmt.Errorf("player %s is bidding with no open auction", underHammer[0]))
	}

	owner := make(map[string]ledger.TeamID)
	for _, id := range ledger.IDs {
		t, ok := snap.Teams[id]
		if !ok {
			continue
		}
		for _, pid := range t.Players {
			if other, dup := owner[pid]; dup {
				fail(fmt.Errorf("player %s belongs to both team %s and team %s", pid, other, id))
			}
			owner[pid] = id
		}
		if err := t.Reconcile(prices[id]); err != nil {
			fail(err)
		}
		if len(t.Players) != len(prices[id]) {
			fail(fmt.Errorf("team %s lists %d players, %d are sold to it", id, len(t.Players), len(prices[id])))
		}
	}
	for id := range snap.Teams {
		if _, err := ledger.ParseTeamID(string(id)); err != nil {
			fail(err)
		}
	}

	return errors.Join(errs...)
}
