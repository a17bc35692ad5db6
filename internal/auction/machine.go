package auction

import (
	"errors"
	"fmt"
	"time"

	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
)

// Result describes the state a command left behind.
type Result struct {
	Player  roster.Player   `json:"player"`
	Auction *bidding.Record `json:"auction,omitempty"`
	Team    *ledger.Team    `json:"team,omitempty"`
	// Revision is the store revision the command committed, or the revision
	// it observed when there was nothing to write.
	Revision int64 `json:"revision"`
}

// Outcome is the write a command produces and the resulting state.
type Outcome struct {
	Change store.Change
	Result Result
}

// Machine holds the auction rules. Its transitions are pure: they read a
// snapshot and return the change to commit, never touching the store.
type Machine struct {
	// Budget is given to teams not yet present in the store.
	Budget int
	// BasePrice is given to players added without one.
	BasePrice int
}

// Apply computes the outcome of cmd against snap at time now.
func (m Machine) Apply(snap *store.Snapshot, cmd Command, now time.Time) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch c := cmd.(type) {
	case StartAuction:
		out, err = m.start(snap, c, now)
	case PlaceBid:
		out, err = m.bid(snap, c, now)
	case ClearBidding:
		out, err = m.clear(snap, c, now)
	case MarkUnsold:
		out, err = m.unsold(snap, c, now)
	case FinalizeSale:
		out, err = m.finalize(snap, c, now)
	case ResetPlayer:
		out, err = m.reset(snap, c, now)
	case AddPlayer:
		out, err = m.add(snap, c, now)
	default:
		return Outcome{}, fmt.Errorf("unknown command %T", cmd)
	}
	if err != nil {
		return Outcome{}, err
	}
	out.Change.Revision = snap.Revision
	out.Result.Revision = snap.Revision
	return out, nil
}

// Team returns the team from snap, or a fresh one with the machine's budget.
func (m Machine) Team(snap *store.Snapshot, id ledger.TeamID) ledger.Team {
	if t, ok := snap.Teams[id]; ok {
		return t.Clone()
	}
	return ledger.New(id, m.Budget)
}

func player(snap *store.Snapshot, id string) (roster.Player, error) {
	p, ok := snap.Players.Get(id)
	if !ok {
		return roster.Player{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	return p.Clone(), nil
}

// activeFor returns the open auction for id and its player.
func activeFor(snap *store.Snapshot, id string) (*bidding.Record, roster.Player, error) {
	p, err := player(snap, id)
	if err != nil {
		return nil, roster.Player{}, err
	}
	if !snap.Auction.ActiveFor(id) {
		return nil, roster.Player{}, fmt.Errorf("player %s: %w", id, bidding.ErrNoActiveAuction)
	}
	return snap.Auction.Clone(), p, nil
}

func newEvent(aggregateID string, t event.Type, payload any, now time.Time) (event.Event, error) {
	e, err := event.New(aggregateID, t, payload, now)
	if err != nil {
		return event.Event{}, fmt.Errorf("recording %s: %w", t, err)
	}
	return e, nil
}

func (m Machine) start(snap *store.Snapshot, c StartAuction, now time.Time) (Outcome, error) {
	p, err := player(snap, c.PlayerID)
	if err != nil {
		return Outcome{}, err
	}
	if snap.Auction.Active() {
		return Outcome{}, fmt.Errorf("%w: player %s is under the hammer", ErrAuctionBusy, snap.Auction.PlayerID)
	}
	if !p.Startable() {
		return Outcome{}, fmt.Errorf("%w: cannot start auction for %s player %s", ErrInvalidTransition, p.Status, p.ID)
	}

	price := max(p.CurrentPrice, p.BasePrice)
	rec := &bidding.Record{
		PlayerID:     p.ID,
		CurrentPrice: price,
		Status:       bidding.StatusBidding,
		StartedAt:    now.UTC(),
	}
	p.Status = roster.StatusBidding
	p.CurrentPrice = price

	ev, err := newEvent(p.ID, event.AuctionStarted, event.AuctionStartedData{
		StartPrice: price,
		Resumed:    price > p.BasePrice,
	}, now)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Change: store.Change{Players: []roster.Player{p}, Auction: rec, Events: []event.Event{ev}},
		Result: Result{Player: p, Auction: rec},
	}, nil
}

func (m Machine) bid(snap *store.Snapshot, c PlaceBid, now time.Time) (Outcome, error) {
	id, err := ledger.ParseTeamID(c.Team)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrTeamNotFound, err)
	}
	team := m.Team(snap, id)

	var p roster.Player
	if snap.Auction.Active() {
		if p, err = player(snap, snap.Auction.PlayerID); err != nil {
			return Outcome{}, err
		}
	}
	price, err := bidding.Validate(snap.Auction, c.Delta, team, p)
	if err != nil {
		return Outcome{}, err
	}

	at := now.UTC()
	rec := snap.Auction.Clone()
	rec.CurrentPrice = price
	rec.LastBidTeam = id
	rec.LastBidTime = &at
	p.CurrentPrice = price

	ev, err := newEvent(p.ID, event.AuctionBidPlaced, event.BidPlacedData{
		Team:  string(id),
		Delta: c.Delta,
		Price: price,
	}, now)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Change: store.Change{Players: []roster.Player{p}, Auction: rec, Events: []event.Event{ev}},
		Result: Result{Player: p, Auction: rec, Team: &team},
	}, nil
}

func (m Machine) clear(snap *store.Snapshot, c ClearBidding, now time.Time) (Outcome, error) {
	rec, p, err := activeFor(snap, c.PlayerID)
	if err != nil {
		return Outcome{}, err
	}
	if !rec.HasBid() && rec.CurrentPrice == p.BasePrice && p.CurrentPrice == p.BasePrice {
		return Outcome{Result: Result{Player: p, Auction: rec}}, nil
	}

	rec.CurrentPrice = p.BasePrice
	rec.LastBidTeam = ""
	rec.LastBidTime = nil
	p.CurrentPrice = p.BasePrice

	ev, err := newEvent(p.ID, event.AuctionCleared, struct{}{}, now)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Change: store.Change{Players: []roster.Player{p}, Auction: rec, Events: []event.Event{ev}},
		Result: Result{Player: p, Auction: rec},
	}, nil
}

func (m Machine) unsold(snap *store.Snapshot, c MarkUnsold, now time.Time) (Outcome, error) {
	rec, p, err := activeFor(snap, c.PlayerID)
	if err != nil {
		return Outcome{}, err
	}
	p = p.Unsold()
	rec.Status = bidding.StatusEnded

	ev, err := newEvent(p.ID, event.AuctionUnsold, struct{}{}, now)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Change: store.Change{Players: []roster.Player{p}, Auction: rec, Events: []event.Event{ev}},
		Result: Result{Player: p, Auction: rec},
	}, nil
}

func (m Machine) finalize(snap *store.Snapshot, c FinalizeSale, now time.Time) (Outcome, error) {
	rec, p, err := activeFor(snap, c.PlayerID)
	if err != nil {
		return Outcome{}, err
	}
	if !rec.HasBid() {
		return Outcome{}, fmt.Errorf("%w: cannot sell %s", ErrNoBids, p.ID)
	}
	for _, id := range ledger.IDs {
		if t, ok := snap.Teams[id]; ok && t.Owns(p.ID) {
			return Outcome{}, fmt.Errorf("%w: player %s already belongs to team %s", ErrInvalidTransition, p.ID, id)
		}
	}

	team := m.Team(snap, rec.LastBidTeam)
	team, err = team.Acquire(p.ID, rec.CurrentPrice)
	if errors.Is(err, ledger.ErrOverBudget) {
		return Outcome{}, &bidding.Rejection{
			Reason: bidding.ErrBudgetExceeded,
			Team:   team.ID,
			Price:  rec.CurrentPrice,
			Limit:  team.Remaining(),
		}
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}

	p = p.Sell(string(team.ID), rec.CurrentPrice)
	rec.Status = bidding.StatusEnded

	ev, err := newEvent(p.ID, event.AuctionSold, event.AuctionSoldData{
		Team:  string(team.ID),
		Price: rec.CurrentPrice,
	}, now)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Change: store.Change{Players: []roster.Player{p}, Teams: []ledger.Team{team}, Auction: rec, Events: []event.Event{ev}},
		Result: Result{Player: p, Auction: rec, Team: &team},
	}, nil
}

func (m Machine) reset(snap *store.Snapshot, c ResetPlayer, now time.Time) (Outcome, error) {
	p, err := player(snap, c.PlayerID)
	if err != nil {
		return Outcome{}, err
	}

	var change store.Change
	data := event.PlayerResetData{PreviousStatus: string(p.Status)}
	res := Result{}

	switch p.Status {
	case roster.StatusAvailable:
		return Outcome{Result: Result{Player: p}}, nil
	case roster.StatusBidding:
		return Outcome{}, fmt.Errorf("%w: player %s is under the hammer", ErrInvalidTransition, p.ID)
	case roster.StatusSold:
		id := ledger.TeamID(p.SoldTo)
		team, ok := snap.Teams[id]
		if !ok {
			return Outcome{}, fmt.Errorf("%w: player %s sold to unknown team %q", ErrInconsistentState, p.ID, p.SoldTo)
		}
		refund := *p.FinalPrice
		team, err = team.Clone().Release(p.ID, refund)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %w", ErrInconsistentState, err)
		}
		change.Teams = []ledger.Team{team}
		data.Team = string(id)
		data.Refund = refund
		res.Team = &team
	}

	p = p.Reset()
	ev, err := newEvent(p.ID, event.PlayerReset, data, now)
	if err != nil {
		return Outcome{}, err
	}
	change.Players = []roster.Player{p}
	change.Events = []event.Event{ev}
	res.Player = p
	return Outcome{Change: change, Result: res}, nil
}

func (m Machine) add(snap *store.Snapshot, c AddPlayer, now time.Time) (Outcome, error) {
	p, err := roster.New(c.ID, c.Input, m.BasePrice)
	if err != nil {
		return Outcome{}, err
	}
	if _, exists := snap.Players[p.ID]; exists {
		return Outcome{}, fmt.Errorf("%w: player %s already exists", roster.ErrInvalidPlayer, p.ID)
	}

	ev, err := newEvent(p.ID, event.PlayerAdded, event.PlayerAddedData{
		Name:      p.Name,
		BasePrice: p.BasePrice,
	}, now)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Change: store.Change{Players: []roster.Player{p}, Events: []event.Event{ev}},
		Result: Result{Player: p},
	}, nil
}
