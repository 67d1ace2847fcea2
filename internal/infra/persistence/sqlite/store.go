// Package sqlite provides a SQLite-backed statement store using the pure Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"entitygraph/internal/infra/persistence/sqlstore"
	"entitygraph/pkg/storage"
)

var _ storage.Store = (*Store)(nil)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store renders statements with ? placeholders.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the database at path with foreign keys
// enforced, then applies ddl when non-empty. An empty path defaults to
// "entitygraph.db".
func NewStore(ctx context.Context, path, ddl string) (*Store, error) {
	if path == "" {
		path = "entitygraph.db"
	}
	inMemory := path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if inMemory {
		// every connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if ddl != "" {
		if err := sqlstore.ApplyDDL(ctx, db, ddl); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{Store: sqlstore.New(db, storage.SQLite), path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
