// Package persistence selects and opens a statement store backend.
package persistence

import (
	"context"
	"fmt"
	"os"

	"entitygraph/internal/infra/persistence/memory"
	"entitygraph/internal/infra/persistence/postgres"
	"entitygraph/internal/infra/persistence/sqlite"
	"entitygraph/pkg/storage"
)

// Driver identifies a concrete store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Environment variables read by OptionsFromEnv.
const (
	EnvDriver      = "ENTITYGRAPH_STORAGE_DRIVER"
	EnvSQLitePath  = "ENTITYGRAPH_SQLITE_PATH"
	EnvPostgresDSN = "ENTITYGRAPH_POSTGRES_DSN"
)

// Options configures Open. DDL is applied by the SQL backends only.
type Options struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
	DDL         string
}

// OptionsFromEnv reads the backend selection from the environment.
//
//	ENTITYGRAPH_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ENTITYGRAPH_SQLITE_PATH: path to sqlite file (default ./entitygraph.db)
//	ENTITYGRAPH_POSTGRES_DSN: postgres DSN when driver=postgres
func OptionsFromEnv() Options {
	return Options{
		Driver:      Driver(os.Getenv(EnvDriver)),
		SQLitePath:  os.Getenv(EnvSQLitePath),
		PostgresDSN: os.Getenv(EnvPostgresDSN),
	}
}

// Open returns the store opts selects. Defaults to sqlite when Driver is empty.
func Open(ctx context.Context, opts Options) (storage.Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, opts.SQLitePath, opts.DDL)
	case DriverPostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN, opts.DDL)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
