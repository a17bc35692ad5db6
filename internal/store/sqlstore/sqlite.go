package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/store"
)

var sqliteDialect = dialect{
	name:     "sqlite",
	bindName: "sqlite3",
	system:   semconv.DBSystemSqlite,
}

// OpenSQLite opens the database file at cfg.Path and applies migrations.
// Commits are only announced to subscribers of this process.
func OpenSQLite(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	return openSQLitePath(ctx, cfg.Path)
}

func openSQLitePath(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := otelsql.Open("sqlite", dsn, otelsql.WithAttributes(sqliteDialect.system))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)

	s, err := newStore(ctx, sqlx.NewDb(db, sqliteDialect.bindName), sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
