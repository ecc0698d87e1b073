// Package dialect provides database dialect abstractions for
// multi-database support.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns the dialect name (e.g., "sqlite", "postgres", "mysql")
	Name() string

	// DriverName returns the database/sql driver name to use
	DriverName() string

	// Rebind converts ? placeholders to the dialect's format.
	Rebind(query string) string

	// PragmaStatements returns dialect-specific initialization statements
	PragmaStatements() []string

	// TimestampType returns the SQL type for timestamps
	TimestampType() string
}

// FromDriverName returns the dialect for a given driver name.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "postgres", "pgx":
		return &postgresDialect{}, nil
	case "mysql":
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

type sqliteDialect struct{}

func (d *sqliteDialect) Name() string       { return "sqlite" }
func (d *sqliteDialect) DriverName() string { return "sqlite" }
func (d *sqliteDialect) Rebind(query string) string {
	return query // SQLite uses ?
}

func (d *sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
}

func (d *sqliteDialect) TimestampType() string { return "TIMESTAMP" }

type postgresDialect struct{}

func (d *postgresDialect) Name() string       { return "postgres" }
func (d *postgresDialect) DriverName() string { return "pgx" }
func (d *postgresDialect) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *postgresDialect) PragmaStatements() []string { return nil }
func (d *postgresDialect) TimestampType() string      { return "TIMESTAMPTZ" }

type mysqlDialect struct{}

func (d *mysqlDialect) Name() string                { return "mysql" }
func (d *mysqlDialect) DriverName() string          { return "mysql" }
func (d *mysqlDialect) Rebind(query string) string  { return query }
func (d *mysqlDialect) PragmaStatements() []string  { return nil }
func (d *mysqlDialect) TimestampType() string       { return "DATETIME" }
