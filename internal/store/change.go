package store

import (
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
)

// AuctionKey is the key of the single auction slot.
const AuctionKey = "current"

// Stamp returns a copy of c with every entity and event versioned at rev.
func (c Change) Stamp(rev int64) Change {
	out := Change{
		Revision: c.Revision,
		Players:  make([]roster.Player, len(c.Players)),
		Teams:    make([]ledger.Team, len(c.Teams)),
		Events:   make([]event.Event, len(c.Events)),
	}
	for i, p := range c.Players {
		p = p.Clone()
		p.Version = rev
		out.Players[i] = p
	}
	for i, t := range c.Teams {
		t = t.Clone()
		t.Version = rev
		out.Teams[i] = t
	}
	if c.Auction != nil {
		out.Auction = c.Auction.Clone()
		out.Auction.Version = rev
	}
	for i, e := range c.Events {
		e.Version = rev
		out.Events[i] = e
	}
	return out
}

// Apply writes a stamped change into s and moves it to rev.
func (s *Snapshot) Apply(c Change, rev int64) {
	for _, p := range c.Players {
		s.Players[p.ID] = p
	}
	for _, t := range c.Teams {
		s.Teams[t.ID] = t
	}
	if c.Auction != nil {
		s.Auction = c.Auction
	}
	s.Revision = rev
}

// Stamp returns a copy of d versioned at rev.
func (d Document) Stamp(rev int64) Document {
	out := Document{
		Players: make([]roster.Player, len(d.Players)),
		Teams:   make([]ledger.Team, len(d.Teams)),
		Admins:  append([]Admin(nil), d.Admins...),
	}
	for i, p := range d.Players {
		p = p.Clone()
		p.Version = rev
		out.Players[i] = p
	}
	for i, t := range d.Teams {
		t = t.Clone()
		t.Version = rev
		out.Teams[i] = t
	}
	return out
}

// SnapshotOf builds the snapshot a restore of d at rev produces.
func SnapshotOf(d Document, rev int64) *Snapshot {
	s := NewSnapshot()
	s.Revision = rev
	for _, p := range d.Players {
		s.Players[p.ID] = p
	}
	for _, t := range d.Teams {
		s.Teams[t.ID] = t
	}
	for _, a := range d.Admins {
		s.Admins[a.ID] = a
	}
	return s
}

// StampEvents versions events at rev.
func StampEvents(events []event.Event, rev int64) []event.Event {
	out := make([]event.Event, len(events))
	for i, e := range events {
		e.Version = rev
		out[i] = e
	}
	return out
}

