package database

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed migrations
var migrationFiles embed.FS

// RequiredTables lists the tables the persistence layer reads and writes
var RequiredTables = []string{"classes", "topics", "ratings", "comments", "schema_migrations"}

// MigrationsFor returns the embedded migration set of a driver
func MigrationsFor(driver string) (fs.FS, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	sub, err := fs.Sub(migrationFiles, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations for %s: %w", driver, err)
	}
	return sub, nil
}
