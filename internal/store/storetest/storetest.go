// Package storetest holds the behavioural tests every store driver must
// pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
)

// Run exercises s, which must be empty, against the store contract.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("EmptySnapshot", func(t *testing.T) { testEmptySnapshot(t, open(t)) })
	t.Run("CommitAndRead", func(t *testing.T) { testCommitAndRead(t, open(t)) })
	t.Run("Conflict", func(t *testing.T) { testConflict(t, open(t)) })
	t.Run("Restore", func(t *testing.T) { testRestore(t, open(t)) })
	t.Run("Subscribe", func(t *testing.T) { testSubscribe(t, open(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, open(t)) })
}

// Player returns a valid available player.
func Player(id, name string) roster.Player {
	p, err := roster.New(id, roster.Input{Name: name, InterestedGames: []string{"chess"}, BasePrice: 20}, roster.DefaultBasePrice)
	if err != nil {
		panic(err)
	}
	return p
}

func testEmptySnapshot(t *testing.T, s store.Store) {
	ctx := context.Background()
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Revision != 0 {
		t.Errorf("Revision = %d, want 0", snap.Revision)
	}
	if len(snap.Players) != 0 || len(snap.Teams) != 0 || snap.Auction != nil {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
	if _, err := s.Player(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Player(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func testCommitAndRead(t *testing.T, s store.Store) {
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	p := Player("p1", "Asha")
	p.Status = roster.StatusBidding
	rec := &bidding.Record{PlayerID: "p1", CurrentPrice: 20, Status: bidding.StatusBidding, StartedAt: started}
	rev, err := s.Commit(ctx, store.Change{
		Revision: 0,
		Players:  []roster.Player{p},
		Teams:    []ledger.Team{ledger.New(ledger.TeamA, 1000), ledger.New(ledger.TeamB, 1000)},
		Auction:  rec,
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rev != 1 {
		t.Errorf("revision = %d, want 1", rev)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Revision != 1 {
		t.Errorf("Revision = %d, want 1", snap.Revision)
	}
	got, ok := snap.Players["p1"]
	if !ok {
		t.Fatal("player p1 missing from snapshot")
	}
	if got.Status != roster.StatusBidding || got.Version != 1 {
		t.Errorf("player = %+v, want bidding at version 1", got)
	}
	if len(snap.Teams) != 2 || snap.Teams[ledger.TeamA].Budget != 1000 {
		t.Errorf("teams = %+v", snap.Teams)
	}
	if !snap.Auction.ActiveFor("p1") || !snap.Auction.StartedAt.Equal(started) {
		t.Errorf("auction = %+v", snap.Auction)
	}

	one, err := s.Player(ctx, "p1")
	if err != nil {
		t.Fatalf("Player: %v", err)
	}
	if one.Name != "Asha" {
		t.Errorf("Name = %q, want %q", one.Name, "Asha")
	}

	// A partial change leaves other entities untouched.
	bidAt := started.Add(time.Minute)
	rec = snap.Auction.Clone()
	rec.CurrentPrice = 30
	rec.LastBidTeam = ledger.TeamB
	rec.LastBidTime = &bidAt
	if _, err := s.Commit(ctx, store.Change{Revision: 1, Auction: rec}); err != nil {
		t.Fatalf("Commit bid: %v", err)
	}
	snap, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Auction.CurrentPrice != 30 || snap.Auction.LastBidTeam != ledger.TeamB || snap.Auction.Version != 2 {
		t.Errorf("auction = %+v", snap.Auction)
	}
	if snap.Auction.LastBidTime == nil || !snap.Auction.LastBidTime.Equal(bidAt) {
		t.Errorf("LastBidTime = %v, want %v", snap.Auction.LastBidTime, bidAt)
	}
	if snap.Players["p1"].Version != 1 {
		t.Errorf("player version = %d, want 1", snap.Players["p1"].Version)
	}
}

func testConflict(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.Commit(ctx, store.Change{Revision: 0, Players: []roster.Player{Player("p1", "Asha")}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, err := s.Commit(ctx, store.Change{Revision: 0, Players: []roster.Player{Player("p2", "Bilal")}})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale Commit error = %v, want ErrConflict", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := snap.Players["p2"]; ok {
		t.Error("conflicting commit must not write anything")
	}
	if snap.Revision != 1 {
		t.Errorf("Revision = %d, want 1", snap.Revision)
	}
}

func testRestore(t *testing.T, s store.Store) {
	ctx := context.Background()

	rec := &bidding.Record{PlayerID: "old", CurrentPrice: 20, Status: bidding.StatusBidding, StartedAt: time.Now().UTC()}
	if _, err := s.Commit(ctx, store.Change{Players: []roster.Player{Player("old", "Old")}, Auction: rec}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ev, err := event.New("store", event.StoreRestored, event.StoreRestoredData{Players: 2}, time.Now())
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	ev.ID = "restore-1"
	doc := store.Document{
		Players: []roster.Player{Player("n1", "Nia"), Player("n2", "Omar")},
		Teams:   []ledger.Team{ledger.New(ledger.TeamA, 1000), ledger.New(ledger.TeamB, 1000)},
		Admins:  []store.Admin{{ID: "op-1", Name: "Operator"}},
	}
	rev, err := s.Restore(ctx, doc, ev)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if rev != 2 {
		t.Errorf("revision = %d, want 2", rev)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := snap.Players["old"]; ok {
		t.Error("restore must replace the player subtree")
	}
	if len(snap.Players) != 2 || snap.Players["n1"].Version != 2 {
		t.Errorf("players = %+v", snap.Players)
	}
	if snap.Auction != nil {
		t.Errorf("restore must empty the auction slot, got %+v", snap.Auction)
	}
	if snap.Admins["op-1"].Name != "Operator" {
		t.Errorf("admins = %+v", snap.Admins)
	}

	// Stale changes from before the restore still conflict.
	if _, err := s.Commit(ctx, store.Change{Revision: 1, Players: []roster.Player{Player("x", "X")}}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Commit after restore error = %v, want ErrConflict", err)
	}
}

func testSubscribe(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	first := receive(t, ch)
	if first.Revision != 0 {
		t.Errorf("initial snapshot revision = %d, want 0", first.Revision)
	}

	if _, err := s.Commit(ctx, store.Change{Players: []roster.Player{Player("p1", "Asha")}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	deadline := time.After(10 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Revision == 1 {
				if _, ok := snap.Players["p1"]; !ok {
					t.Error("pushed snapshot is missing p1")
				}
				cancel()
				for range ch {
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for pushed snapshot")
		}
	}
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	var rev int64
	for i, typ := range []event.Type{event.AuctionStarted, event.AuctionBidPlaced, event.AuctionSold} {
		ev, err := event.New("p1", typ, map[string]int{"step": i}, at.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("event.New: %v", err)
		}
		ev.ID = string(typ)
		next, err := s.Commit(ctx, store.Change{Revision: rev, Events: []event.Event{ev}})
		if err != nil {
			t.Fatalf("Commit %s: %v", typ, err)
		}
		rev = next
	}
	other, _ := event.New("p2", event.PlayerAdded, event.PlayerAddedData{Name: "Bilal"}, at)
	other.ID = "added-p2"
	if _, err := s.Commit(ctx, store.Change{Revision: rev, Events: []event.Event{other}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	loaded, err := s.Events().Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("Load returned %d events, want 3", len(loaded))
	}
	if loaded[0].Type != event.AuctionStarted || loaded[2].Type != event.AuctionSold {
		t.Errorf("events out of order: %s .. %s", loaded[0].Type, loaded[2].Type)
	}
	if loaded[1].Version != 2 {
		t.Errorf("Version = %d, want 2", loaded[1].Version)
	}

	recent, err := s.Events().Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d events, want 2", len(recent))
	}
	if recent[0].Type != event.AuctionSold || recent[1].Type != event.PlayerAdded {
		t.Errorf("Recent = [%s %s], want [%s %s]", recent[0].Type, recent[1].Type, event.AuctionSold, event.PlayerAdded)
	}
}

func receive(t *testing.T, ch <-chan *store.Snapshot) *store.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
