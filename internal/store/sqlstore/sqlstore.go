// Package sqlstore provides the "postgres" and "sqlite" store drivers. Both
// keep the tree as versioned JSON rows guarded by a single revision counter.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
	"github.com/jensholdgaard/team-auction/internal/store/sqlstore/migrations"
)

const (
	kindPlayer  = "player"
	kindTeam    = "team"
	kindAuction = "auction"
	kindAdmin   = "admin"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name     string
	bindName string
	system   attribute.KeyValue
	// readOpts are the options for snapshot transactions.
	readOpts *sql.TxOptions
	// notify publishes the new revision to other processes inside the
	// commit transaction.
	notify func(ctx context.Context, tx *sqlx.Tx, rev int64) error
}

// Store is a store.Store over a SQL database.
type Store struct {
	db     *sqlx.DB
	d      dialect
	hub    *store.Hub
	logger *slog.Logger

	closeOnce sync.Once
	onClose   []func() error
}

func newStore(ctx context.Context, db *sqlx.DB, d dialect) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging %s: %w", d.name, err)
	}
	if err := applyMigrations(ctx, db, migrations.FS, d.name); err != nil {
		return nil, fmt.Errorf("running %s migrations: %w", d.name, err)
	}
	return &Store{
		db:     db,
		d:      d,
		hub:    store.NewHub(),
		logger: slog.Default().With("store", d.name),
	}, nil
}

type entityRow struct {
	Kind    string `db:"kind"`
	ID      string `db:"id"`
	Data    []byte `db:"data"`
	Version int64  `db:"version"`
}

func (s *Store) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	tx, err := s.db.BeginTxx(ctx, s.d.readOpts)
	if err != nil {
		return nil, fmt.Errorf("beginning snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := store.NewSnapshot()
	if err := tx.GetContext(ctx, &snap.Revision, `SELECT revision FROM meta WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("reading revision: %w", err)
	}

	var rows []entityRow
	if err := tx.SelectContext(ctx, &rows, `SELECT kind, id, data, version FROM entities`); err != nil {
		return nil, fmt.Errorf("reading entities: %w", err)
	}
	for _, r := range rows {
		if err := decodeInto(snap, r); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func decodeInto(snap *store.Snapshot, r entityRow) error {
	switch r.Kind {
	case kindPlayer:
		var p roster.Player
		if err := json.Unmarshal(r.Data, &p); err != nil {
			return fmt.Errorf("decoding player %s: %w", r.ID, err)
		}
		p.Version = r.Version
		snap.Players[p.ID] = p
	case kindTeam:
		var t ledger.Team
		if err := json.Unmarshal(r.Data, &t); err != nil {
			return fmt.Errorf("decoding team %s: %w", r.ID, err)
		}
		t.Version = r.Version
		snap.Teams[t.ID] = t
	case kindAuction:
		var rec bidding.Record
		if err := json.Unmarshal(r.Data, &rec); err != nil {
			return fmt.Errorf("decoding auction: %w", err)
		}
		rec.Version = r.Version
		snap.Auction = &rec
	case kindAdmin:
		var a store.Admin
		if err := json.Unmarshal(r.Data, &a); err != nil {
			return fmt.Errorf("decoding admin %s: %w", r.ID, err)
		}
		snap.Admins[a.ID] = a
	default:
		return fmt.Errorf("unknown entity kind %q", r.Kind)
	}
	return nil
}

func (s *Store) Player(ctx context.Context, id string) (roster.Player, error) {
	var r entityRow
	err := s.db.GetContext(ctx, &r,
		s.db.Rebind(`SELECT kind, id, data, version FROM entities WHERE kind = ? AND id = ?`), kindPlayer, id)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.Player{}, fmt.Errorf("player %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return roster.Player{}, fmt.Errorf("getting player %s: %w", id, err)
	}
	var p roster.Player
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return roster.Player{}, fmt.Errorf("decoding player %s: %w", id, err)
	}
	p.Version = r.Version
	return p, nil
}

func (s *Store) Commit(ctx context.Context, c store.Change) (int64, error) {
	rev := c.Revision + 1
	stamped := c.Stamp(rev)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE meta SET revision = ? WHERE id = 1 AND revision = ?`), rev, c.Revision)
		if err != nil {
			return fmt.Errorf("advancing revision: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("advancing revision: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: change based on %d", store.ErrConflict, c.Revision)
		}

		for _, p := range stamped.Players {
			if err := s.put(ctx, tx, kindPlayer, p.ID, p, rev); err != nil {
				return err
			}
		}
		for _, t := range stamped.Teams {
			if err := s.put(ctx, tx, kindTeam, string(t.ID), t, rev); err != nil {
				return err
			}
		}
		if stamped.Auction != nil {
			if err := s.put(ctx, tx, kindAuction, store.AuctionKey, stamped.Auction, rev); err != nil {
				return err
			}
		}
		return s.finish(ctx, tx, stamped.Events, rev)
	})
	if err != nil {
		return 0, err
	}

	s.refresh(ctx)
	return rev, nil
}

func (s *Store) Restore(ctx context.Context, doc store.Document, events ...event.Event) (int64, error) {
	var rev int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE meta SET revision = revision + 1 WHERE id = 1`); err != nil {
			return fmt.Errorf("advancing revision: %w", err)
		}
		if err := tx.GetContext(ctx, &rev, `SELECT revision FROM meta WHERE id = 1`); err != nil {
			return fmt.Errorf("reading revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
			return fmt.Errorf("clearing entities: %w", err)
		}

		stamped := doc.Stamp(rev)
		for _, p := range stamped.Players {
			if err := s.put(ctx, tx, kindPlayer, p.ID, p, rev); err != nil {
				return err
			}
		}
		for _, t := range stamped.Teams {
			if err := s.put(ctx, tx, kindTeam, string(t.ID), t, rev); err != nil {
				return err
			}
		}
		for _, a := range stamped.Admins {
			if err := s.put(ctx, tx, kindAdmin, a.ID, a, rev); err != nil {
				return err
			}
		}
		return s.finish(ctx, tx, store.StampEvents(events, rev), rev)
	})
	if err != nil {
		return 0, err
	}

	s.refresh(ctx)
	return rev, nil
}

func (s *Store) put(ctx context.Context, tx *sqlx.Tx, kind, id string, v any, rev int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", kind, id, err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO entities (kind, id, data, version) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET data = excluded.data, version = excluded.version`),
		kind, id, string(data), rev)
	if err != nil {
		return fmt.Errorf("writing %s %s: %w", kind, id, err)
	}
	return nil
}

// finish appends events and announces the new revision.
func (s *Store) finish(ctx context.Context, tx *sqlx.Tx, events []event.Event, rev int64) error {
	if len(events) > 0 {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(
			`INSERT INTO events (id, aggregate_id, type, data, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer stmt.Close()

		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, e.ID, e.AggregateID, string(e.Type), string(e.Data), rev, e.CreatedAt.UTC().UnixMilli()); err != nil {
				return fmt.Errorf("inserting event (aggregate=%s, type=%s): %w", e.AggregateID, e.Type, err)
			}
		}
	}
	if s.d.notify != nil {
		return s.d.notify(ctx, tx, rev)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// refresh publishes the latest snapshot to local subscribers.
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

func (s *Store) Subscribe(ctx context.Context) (<-chan *store.Snapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, snap), nil
}

func (s *Store) Events() event.Log { return eventLog{db: s.db} }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, fn := range s.onClose {
			err = errors.Join(err, fn())
		}
		err = errors.Join(err, s.db.Close())
	})
	return err
}
