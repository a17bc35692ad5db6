package sqlstore_test

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
	"github.com/jensholdgaard/team-auction/internal/store/sqlstore"
	"github.com/jensholdgaard/team-auction/internal/store/storetest"
)

// newTestDSN starts a Postgres container and returns its connection string.
// The container is automatically terminated when the test ends.
func newTestDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("auction_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	return dsn
}

func TestPostgres(t *testing.T) {
	dsn := newTestDSN(t)

	n := 0
	storetest.Run(t, func(t *testing.T) store.Store {
		n++
		s, err := sqlstore.OpenPostgresDSN(context.Background(), freshDatabase(t, dsn, fmt.Sprintf("auction_%d", n)))
		if err != nil {
			t.Fatalf("OpenPostgresDSN: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// freshDatabase creates an empty database next to the one in dsn and returns
// a DSN pointing at it.
func freshDatabase(t *testing.T, dsn, name string) string {
	t.Helper()
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("creating database %s: %v", name, err)
	}

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parsing dsn: %v", err)
	}
	u.Path = "/" + name
	return u.String()
}

func TestPostgres_NotifiesOtherReplicas(t *testing.T) {
	dsn := newTestDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	writer, err := sqlstore.OpenPostgresDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgresDSN: %v", err)
	}
	defer writer.Close()
	reader, err := sqlstore.OpenPostgresDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgresDSN: %v", err)
	}
	defer reader.Close()

	ch, err := reader.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-ch

	if _, err := writer.Commit(ctx, store.Change{Revision: 0, Players: []roster.Player{storetest.Player("p1", "Asha")}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for {
		select {
		case snap := <-ch:
			if _, ok := snap.Players["p1"]; ok {
				return
			}
		case <-ctx.Done():
			t.Fatal("reader never saw the writer's commit")
		}
	}
}
