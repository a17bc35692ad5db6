// Package store defines the shared store the auction engine depends on: a
// versioned key-value tree of players, teams, the current auction slot and
// the admin registry, with conditional commits and change notification.
package store

import (
	"context"
	"errors"

	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
)

// Errors returned by store drivers.
var (
	// ErrConflict means the store moved past the revision a Change was
	// computed from. Nothing was written.
	ErrConflict = errors.New("store revision conflict")
	// ErrUnavailable means the store could not be reached in time.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned by point reads for unknown keys.
	ErrNotFound = errors.New("not found")
)

// Admin is an entry in the admin registry.
type Admin struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Snapshot is a consistent read of the whole tree at Revision. Snapshots
// handed to subscribers are shared and must be treated as read-only.
type Snapshot struct {
	Revision int64                        `json:"revision"`
	Players  roster.Registry              `json:"players"`
	Teams    map[ledger.TeamID]ledger.Team `json:"teams"`
	// Auction is the current auction slot; nil when empty.
	Auction *bidding.Record  `json:"auction,omitempty"`
	Admins  map[string]Admin `json:"admins"`
}

// NewSnapshot returns an empty snapshot at revision 0.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Players: roster.Registry{},
		Teams:   map[ledger.TeamID]ledger.Team{},
		Admins:  map[string]Admin{},
	}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Revision: s.Revision,
		Players:  make(roster.Registry, len(s.Players)),
		Teams:    make(map[ledger.TeamID]ledger.Team, len(s.Teams)),
		Auction:  s.Auction.Clone(),
		Admins:   make(map[string]Admin, len(s.Admins)),
	}
	for id, p := range s.Players {
		c.Players[id] = p.Clone()
	}
	for id, t := range s.Teams {
		c.Teams[id] = t.Clone()
	}
	for id, a := range s.Admins {
		c.Admins[id] = a
	}
	return c
}

// Change is a conditional write. It applies only if the store is still at
// Revision; every entity listed is replaced whole and stamped with the new
// revision, and Events are appended to the audit log in the same commit.
type Change struct {
	Revision int64
	Players  []roster.Player
	Teams    []ledger.Team
	Auction  *bidding.Record
	Events   []event.Event
}

// Empty reports whether c writes nothing.
func (c Change) Empty() bool {
	return len(c.Players) == 0 && len(c.Teams) == 0 && c.Auction == nil && len(c.Events) == 0
}

// Document is the bulk restore format.
type Document struct {
	Players []roster.Player `json:"players"`
	Teams   []ledger.Team   `json:"teams"`
	Admins  []Admin         `json:"admins"`
}

// Store is the shared store contract.
type Store interface {
	// Snapshot returns a consistent read of the whole tree.
	Snapshot(ctx context.Context) (*Snapshot, error)
	// Player reads a single player.
	Player(ctx context.Context, id string) (roster.Player, error)
	// Commit applies c atomically and returns the new revision, or
	// ErrConflict if the store is no longer at c.Revision.
	Commit(ctx context.Context, c Change) (int64, error)
	// Restore replaces the players, teams and admins subtrees with doc and
	// empties the auction slot, all or nothing.
	Restore(ctx context.Context, doc Document, events ...event.Event) (int64, error)
	// Subscribe delivers the current snapshot immediately and then one per
	// change. Slow readers only see the latest. The channel closes when ctx
	// is done.
	Subscribe(ctx context.Context) (<-chan *Snapshot, error)
	// Events returns the audit log.
	Events() event.Log
	// Ping checks the underlying connection health.
	Ping(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}
