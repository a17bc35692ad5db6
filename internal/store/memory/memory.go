// Package memory provides an in-process store.Driver. State is lost on exit;
// it serves single-replica deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig) (store.Store, error) {
		return New(), nil
	})
}

// Store is a mutex-guarded snapshot with an append-only event log.
type Store struct {
	mu     sync.RWMutex
	snap   *store.Snapshot
	events []event.Event
	hub    *store.Hub
	closed bool
}

// New returns an empty Store at revision 0.
func New() *Store {
	return &Store{snap: store.NewSnapshot(), hub: store.NewHub()}
}

func (s *Store) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone(), nil
}

func (s *Store) Player(ctx context.Context, id string) (roster.Player, error) {
	if err := ctx.Err(); err != nil {
		return roster.Player{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.snap.Players[id]
	if !ok {
		return roster.Player{}, fmt.Errorf("player %s: %w", id, store.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) Commit(ctx context.Context, c store.Change) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.snap.Revision != c.Revision {
		rev := s.snap.Revision
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: at %d, change based on %d", store.ErrConflict, rev, c.Revision)
	}
	rev := c.Revision + 1
	stamped := c.Stamp(rev)

	next := s.snap.Clone()
	next.Apply(stamped, rev)
	s.snap = next
	s.events = append(s.events, stamped.Events...)
	s.mu.Unlock()

	s.hub.Publish(next.Clone())
	return rev, nil
}

func (s *Store) Restore(ctx context.Context, doc store.Document, events ...event.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	rev := s.snap.Revision + 1
	next := store.SnapshotOf(doc.Stamp(rev), rev)
	s.snap = next
	s.events = append(s.events, store.StampEvents(events, rev)...)
	s.mu.Unlock()

	s.hub.Publish(next.Clone())
	return rev, nil
}

func (s *Store) Subscribe(ctx context.Context) (<-chan *store.Snapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, snap), nil
}

func (s *Store) Events() event.Log { return eventLog{s} }

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store: %w", store.ErrUnavailable)
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type eventLog struct{ s *Store }

func (l eventLog) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var out []event.Event
	for _, e := range l.s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l eventLog) Recent(_ context.Context, limit int) ([]event.Event, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	start := 0
	if limit > 0 && len(l.s.events) > limit {
		start = len(l.s.events) - limit
	}
	return append([]event.Event(nil), l.s.events[start:]...), nil
}
