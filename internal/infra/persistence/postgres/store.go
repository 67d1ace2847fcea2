// Package postgres provides a Postgres-backed statement store using the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"entitygraph/internal/infra/persistence/sqlstore"
	"entitygraph/pkg/storage"
)

// Compile-time contract assertion ensuring the store satisfies the storage interface.
var _ storage.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with the config defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/entitygraph?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store renders statements with $n placeholders.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres store using dsn (falls back to defaultDSN), pings
// it, and applies ddl when non-empty.
func NewStore(ctx context.Context, dsn, ddl string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if ddl != "" {
		if err := sqlstore.ApplyDDL(ctx, db, ddl); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{Store: sqlstore.New(db, storage.Postgres)}, nil
}
