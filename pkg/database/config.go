package database

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported drivers. The names are the database/sql driver names so sqlx can pick the bind type.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds database configuration
type Config struct {
	Driver          string        `json:"driver"`
	DatabasePath    string        `json:"database_path"` // file path for sqlite3, connection URL for postgres
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

// DefaultConfig returns a local SQLite configuration
// FUNCTIONAL DISCOVERY: SQLite performs well with 10 connections at classroom scale
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DatabasePath:    "./data/anonfeedback.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Driver != DriverSQLite && c.Driver != DriverPostgres {
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}

// DataSourceName returns the driver-specific DSN
// TECHNICAL DISCOVERY: go-sqlite3 applies _-prefixed query parameters to every pooled connection,
// which is the only way foreign keys stay enforced across the pool
func (c *Config) DataSourceName() string {
	if c.Driver != DriverSQLite {
		return c.DatabasePath
	}
	sep := "?"
	if strings.Contains(c.DatabasePath, "?") {
		sep = "&"
	}
	return c.DatabasePath + sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// SQLite optimization pragmas for classroom scale
const sqliteOptimizations = `
	PRAGMA synchronous = NORMAL;        -- Balance between safety and performance
	PRAGMA cache_size = -64000;         -- 64MB cache (negative = KB)
	PRAGMA temp_store = MEMORY;         -- Use memory for temporary tables
`

// Optimizations returns the tuning statements to run once on a freshly opened pool
func (c *Config) Optimizations() string {
	if c.Driver != DriverSQLite {
		return ""
	}
	return sqliteOptimizations
}
