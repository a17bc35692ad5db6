package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/store"
)

// notifyChannel carries the new revision after every commit.
const notifyChannel = "auction_changes"

var postgresDialect = dialect{
	name:     "postgres",
	bindName: "postgres",
	system:   semconv.DBSystemPostgreSQL,
	readOpts: &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	notify: func(ctx context.Context, tx *sqlx.Tx, rev int64) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, strconv.FormatInt(rev, 10)); err != nil {
			return fmt.Errorf("notifying %s: %w", notifyChannel, err)
		}
		return nil
	},
}

func init() {
	store.Register("postgres", OpenPostgres)
	store.Register("sqlite", OpenSQLite)
}

// OpenPostgres connects with OTEL instrumentation, applies migrations and
// starts listening for commits made by other replicas.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	return openPostgresDSN(ctx, cfg.DSN())
}

func openPostgresDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := otelsql.Open("postgres", dsn, otelsql.WithAttributes(postgresDialect.system))
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	s, err := newStore(ctx, sqlx.NewDb(db, postgresDialect.bindName), postgresDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	listener := pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("postgres listener event", slog.Int("event", int(ev)), slog.Any("error", err))
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		_ = s.Close()
		return nil, fmt.Errorf("listening on %s: %w", notifyChannel, err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go s.listen(lctx, listener, done)
	s.onClose = append(s.onClose, func() error {
		cancel()
		<-done
		return listener.Close()
	})
	return s, nil
}

// listen refreshes subscribers whenever another connection commits. A nil
// notification means the connection was re-established and events may have
// been missed.
func (s *Store) listen(ctx context.Context, l *pq.Listener, done chan<- struct{}) {
	defer close(done)
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Notify:
			s.refresh(ctx)
		case <-ping.C:
			go func() { _ = l.Ping() }()
		}
	}
}
