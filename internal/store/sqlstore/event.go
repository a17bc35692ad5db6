package sqlstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/team-auction/internal/event"
)

// eventLog implements event.Log over the events table.
type eventLog struct {
	db *sqlx.DB
}

type eventRow struct {
	ID          string `db:"id"`
	AggregateID string `db:"aggregate_id"`
	Type        string `db:"type"`
	Data        []byte `db:"data"`
	Version     int64  `db:"version"`
	CreatedAt   int64  `db:"created_at"`
}

func (r eventRow) event() event.Event {
	return event.Event{
		ID:          r.ID,
		AggregateID: r.AggregateID,
		Type:        event.Type(r.Type),
		Data:        r.Data,
		Version:     r.Version,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
	}
}

func (l eventLog) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	var rows []eventRow
	err := l.db.SelectContext(ctx, &rows, l.db.Rebind(
		`SELECT id, aggregate_id, type, data, version, created_at
		 FROM events WHERE aggregate_id = ? ORDER BY seq ASC`), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	out := make([]event.Event, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

func (l eventLog) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	var rows []eventRow
	err := l.db.SelectContext(ctx, &rows, l.db.Rebind(
		`SELECT id, aggregate_id, type, data, version, created_at
		 FROM events ORDER BY seq DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent events: %w", err)
	}
	out := make([]event.Event, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.event()
	}
	return out, nil
}
