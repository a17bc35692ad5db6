package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
	"github.com/jensholdgaard/team-auction/internal/store/sqlstore"
	"github.com/jensholdgaard/team-auction/internal/store/storetest"
)

func openSQLite(t *testing.T, path string) store.Store {
	t.Helper()
	s, err := sqlstore.OpenSQLite(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t, filepath.Join(t.TempDir(), "auction.db"))
	})
}

func TestSQLite_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auction.db")

	s, err := sqlstore.OpenSQLite(ctx, config.DatabaseConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := s.Commit(ctx, store.Change{Players: []roster.Player{storetest.Player("p1", "Asha")}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening re-runs migrations, which must be a no-op.
	s = openSQLite(t, path)
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Revision != 1 {
		t.Errorf("Revision = %d, want 1", snap.Revision)
	}
	if snap.Players["p1"].Name != "Asha" {
		t.Errorf("players = %+v", snap.Players)
	}
}

func TestSQLite_PathRequired(t *testing.T) {
	if _, err := sqlstore.OpenSQLite(context.Background(), config.DatabaseConfig{Path: " "}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
