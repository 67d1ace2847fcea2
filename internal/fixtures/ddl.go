package fixtures

import (
	_ "embed"
	"fmt"
)

// Dialect names a DDL flavour.
type Dialect string

// Supported DDL dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var (
	//go:embed sql/library.sqlite.sql
	librarySQLite string
	//go:embed sql/library.postgres.sql
	libraryPostgres string
	//go:embed sql/shop.sqlite.sql
	shopSQLite string
	//go:embed sql/shop.postgres.sql
	shopPostgres string
)

// DDL returns the schema script of a fixture set for dialect.
func DDL(set string, dialect Dialect) (string, error) {
	switch {
	case set == LibrarySet && dialect == SQLite:
		return librarySQLite, nil
	case set == LibrarySet && dialect == Postgres:
		return libraryPostgres, nil
	case set == ShopSet && dialect == SQLite:
		return shopSQLite, nil
	case set == ShopSet && dialect == Postgres:
		return shopPostgres, nil
	}
	return "", fmt.Errorf("fixtures: no %s DDL for set %q", dialect, set)
}
