// Package redisstore provides the "redis" store driver. The tree lives in a
// handful of hashes next to a revision counter; commits are WATCH/MULTI
// transactions on that counter and are announced over pub/sub.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
)

const (
	keyRevision = "auction:revision"
	keyPlayers  = "auction:players"
	keyTeams    = "auction:teams"
	keyAdmins   = "auction:admins"
	keyCurrent  = "auction:current"
	keyEvents   = "auction:events"
	channel     = "auction:changes"

	restoreAttempts = 5
)

func init() {
	store.Register("redis", Open)
}

// Store is a store.Store backed by redis.
type Store struct {
	client *redis.Client
	pubsub *redis.PubSub
	hub    *store.Hub
	logger *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open connects to cfg.RedisAddr and subscribes to change announcements.
func Open(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.RedisAddr, err)
	}

	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		client: client,
		pubsub: ps,
		hub:    store.NewHub(),
		logger: slog.Default().With("store", "redis"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.listen(lctx)
	return s, nil
}

func (s *Store) listen(ctx context.Context) {
	defer close(s.done)
	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			s.refresh(ctx)
		}
	}
}

func (s *Store) refresh(ctx context.Context) {
	if s.hub.Subscribers() == 0 {
		return
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "refreshing subscribers", slog.Any("error", err))
		return
	}
	s.hub.Publish(snap)
}

func (s *Store) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	var (
		rev                    *redis.StringCmd
		players, teams, admins *redis.StringStringMapCmd
		current                *redis.StringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rev = pipe.Get(ctx, keyRevision)
		players = pipe.HGetAll(ctx, keyPlayers)
		teams = pipe.HGetAll(ctx, keyTeams)
		admins = pipe.HGetAll(ctx, keyAdmins)
		current = pipe.Get(ctx, keyCurrent)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	snap := store.NewSnapshot()
	if snap.Revision, err = revision(rev); err != nil {
		return nil, err
	}
	for id, raw := range players.Val() {
		var p roster.Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decoding player %s: %w", id, err)
		}
		snap.Players[p.ID] = p
	}
	for id, raw := range teams.Val() {
		var t ledger.Team
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decoding team %s: %w", id, err)
		}
		snap.Teams[t.ID] = t
	}
	for id, raw := range admins.Val() {
		var a store.Admin
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decoding admin %s: %w", id, err)
		}
		snap.Admins[a.ID] = a
	}
	if raw, err := current.Result(); err == nil {
		var rec bidding.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding auction: %w", err)
		}
		snap.Auction = &rec
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading auction: %w", err)
	}
	return snap, nil
}

func revision(cmd *redis.StringCmd) (int64, error) {
	rev, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading revision: %w", err)
	}
	return rev, nil
}

func (s *Store) Player(ctx context.Context, id string) (roster.Player, error) {
	raw, err := s.client.HGet(ctx, keyPlayers, id).Result()
	if errors.Is(err, redis.Nil) {
		return roster.Player{}, fmt.Errorf("player %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return roster.Player{}, fmt.Errorf("getting player %s: %w", id, err)
	}
	var p roster.Player
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return roster.Player{}, fmt.Errorf("decoding player %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) Commit(ctx context.Context, c store.Change) (int64, error) {
	rev := c.Revision + 1
	stamped := c.Stamp(rev)

	players, err := encodeEach(stamped.Players, func(p roster.Player) string { return p.ID })
	if err != nil {
		return 0, err
	}
	teams, err := encodeEach(stamped.Teams, func(t ledger.Team) string { return string(t.ID) })
	if err != nil {
		return 0, err
	}
	var current []byte
	if stamped.Auction != nil {
		if current, err = json.Marshal(stamped.Auction); err != nil {
			return 0, fmt.Errorf("encoding auction: %w", err)
		}
	}
	events, err := encodeEvents(stamped.Events)
	if err != nil {
		return 0, err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		at, err := revision(tx.Get(ctx, keyRevision))
		if err != nil {
			return err
		}
		if at != c.Revision {
			return fmt.Errorf("%w: at %d, change based on %d", store.ErrConflict, at, c.Revision)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyRevision, rev, 0)
			if len(players) > 0 {
				pipe.HSet(ctx, keyPlayers, players)
			}
			if len(teams) > 0 {
				pipe.HSet(ctx, keyTeams, teams)
			}
			if current != nil {
				pipe.Set(ctx, keyCurrent, current, 0)
			}
			if len(events) > 0 {
				pipe.RPush(ctx, keyEvents, events...)
			}
			pipe.Publish(ctx, channel, strconv.FormatInt(rev, 10))
			return nil
		})
		return err
	}, keyRevision)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("%w: revision moved during commit", store.ErrConflict)
	}
	if err != nil {
		return 0, err
	}

	s.refresh(ctx)
	return rev, nil
}

func (s *Store) Restore(ctx context.Context, doc store.Document, events ...event.Event) (int64, error) {
	for attempt := 0; attempt < restoreAttempts; attempt++ {
		var rev int64
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			at, err := revision(tx.Get(ctx, keyRevision))
			if err != nil {
				return err
			}
			rev = at + 1

			stamped := doc.Stamp(rev)
			players, err := encodeEach(stamped.Players, func(p roster.Player) string { return p.ID })
			if err != nil {
				return err
			}
			teams, err := encodeEach(stamped.Teams, func(t ledger.Team) string { return string(t.ID) })
			if err != nil {
				return err
			}
			admins, err := encodeEach(stamped.Admins, func(a store.Admin) string { return a.ID })
			if err != nil {
				return err
			}
			encoded, err := encodeEvents(store.StampEvents(events, rev))
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, keyRevision, rev, 0)
				pipe.Del(ctx, keyPlayers, keyTeams, keyAdmins, keyCurrent)
				for key, values := range map[string]map[string]any{keyPlayers: players, keyTeams: teams, keyAdmins: admins} {
					if len(values) > 0 {
						pipe.HSet(ctx, key, values)
					}
				}
				if len(encoded) > 0 {
					pipe.RPush(ctx, keyEvents, encoded...)
				}
				pipe.Publish(ctx, channel, strconv.FormatInt(rev, 10))
				return nil
			})
			return err
		}, keyRevision)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, err
		}
		s.refresh(ctx)
		return rev, nil
	}
	return 0, fmt.Errorf("%w: restore raced %d concurrent commits", store.ErrConflict, restoreAttempts)
}

func encodeEach[T any](items []T, key func(T) string) (map[string]any, error) {
	out := make(map[string]any, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", key(it), err)
		}
		out[key(it)] = string(data)
	}
	return out, nil
}

func encodeEvents(events []event.Event) ([]any, error) {
	out := make([]any, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encoding event %s: %w", e.Type, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context) (<-chan *store.Snapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, snap), nil
}

func (s *Store) Events() event.Log { return eventLog{client: s.client} }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = errors.Join(s.pubsub.Close(), s.client.Close())
		<-s.done
	})
	return err
}

type eventLog struct {
	client *redis.Client
}

func (l eventLog) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	all, err := l.rangeEvents(ctx, 0, -1)
	if err != nil {
		return nil, err
	}
	var out []event.Event
	for _, e := range all {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l eventLog) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	return l.rangeEvents(ctx, start, -1)
}

func (l eventLog) rangeEvents(ctx context.Context, start, stop int64) ([]event.Event, error) {
	raw, err := l.client.LRange(ctx, keyEvents, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	out := make([]event.Event, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal([]byte(r), &out[i]); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
	}
	return out, nil
}
