package redisstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
	"github.com/jensholdgaard/team-auction/internal/store/redisstore"
	"github.com/jensholdgaard/team-auction/internal/store/storetest"
)

// newTestConfig starts a redis container and returns a config pointing at it.
func newTestConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	uri, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parsing %s: %v", uri, err)
	}
	return config.DatabaseConfig{Driver: "redis", RedisAddr: opts.Addr}
}

func TestRedis(t *testing.T) {
	cfg := newTestConfig(t)

	db := 0
	storetest.Run(t, func(t *testing.T) store.Store {
		// Each subtest gets its own logical database.
		db++
		c := cfg
		c.RedisDB = db
		s, err := redisstore.Open(context.Background(), c)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedis_NotifiesOtherReplicas(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()

	writer, err := redisstore.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer writer.Close()
	reader, err := redisstore.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := reader.Subscribe(sctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-ch

	if _, err := writer.Commit(ctx, store.Change{Players: []roster.Player{storetest.Player("p1", "Asha")}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	snap := <-ch
	if _, ok := snap.Players["p1"]; !ok {
		t.Errorf("reader snapshot = %+v, want p1", snap.Players)
	}
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err := store.Open(ctx, config.DatabaseConfig{Driver: "redis", RedisAddr: "127.0.0.1:1"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Open error = %v, want ErrUnavailable", err)
	}
}
