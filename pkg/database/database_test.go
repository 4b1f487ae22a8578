package database

import (
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := sqlx.Open(DriverSQLite, dbPath+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Driver != DriverSQLite {
		t.Errorf("Expected driver %s, got %s", DriverSQLite, config.Driver)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty database path", mutate: func(c *Config) { c.DatabasePath = "" }, wantErr: true},
		{name: "zero max connections", mutate: func(c *Config) { c.MaxConnections = 0 }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Driver = "mysql" }, wantErr: true},
		{name: "postgres", mutate: func(c *Config) {
			c.Driver = DriverPostgres
			c.DatabasePath = "postgres://localhost/feedback?sslmode=disable"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DataSourceName(t *testing.T) {
	config := DefaultConfig()
	config.DatabasePath = "/tmp/feedback.db"
	if dsn := config.DataSourceName(); !strings.HasPrefix(dsn, "/tmp/feedback.db?") || !strings.Contains(dsn, "_foreign_keys=on") {
		t.Errorf("Unexpected sqlite DSN: %s", dsn)
	}

	config.DatabasePath = "file:test.db?cache=shared"
	if dsn := config.DataSourceName(); !strings.Contains(dsn, "cache=shared&_busy_timeout") {
		t.Errorf("Expected parameters appended with &, got %s", dsn)
	}

	config.Driver = DriverPostgres
	config.DatabasePath = "postgres://localhost/feedback"
	if dsn := config.DataSourceName(); dsn != "postgres://localhost/feedback" {
		t.Errorf("Postgres DSN should pass through unchanged, got %s", dsn)
	}
	if config.Optimizations() != "" {
		t.Error("Postgres should not receive SQLite pragmas")
	}
}

func TestMigrationManager_ApplyMigrations(t *testing.T) {
	db := openTestDB(t)

	source := fstest.MapFS{
		"001_test.sql":   {Data: []byte(`CREATE TABLE test_table (id TEXT PRIMARY KEY);`)},
		"002_second.sql": {Data: []byte(`CREATE TABLE second_table (id TEXT PRIMARY KEY);`)},
		"README.md":      {Data: []byte(`not a migration`)},
	}

	mgr := NewMigrationManager(db, source)
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}

	// Applying again must be a no-op
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("Second ApplyMigrations should not fail: %v", err)
	}

	applied, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(applied) != 2 || !applied["001"] || !applied["002"] {
		t.Errorf("Expected versions 001 and 002, got %v", applied)
	}

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='second_table'"); err != nil {
		t.Fatalf("Failed to check if table exists: %v", err)
	}
	if count != 1 {
		t.Error("second_table should have been created")
	}
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)

	source := fstest.MapFS{
		"001_broken.sql": {Data: []byte(`CREATE TABLE ok_table (id TEXT); CREATE TABLE nonsense (;`)},
	}

	mgr := NewMigrationManager(db, source)
	if err := mgr.ApplyMigrations(); err == nil {
		t.Fatal("Broken migration should fail")
	}

	applied, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if applied["001"] {
		t.Error("Failed migration must not be recorded")
	}
}

func TestMigrationManager_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)

	source, err := MigrationsFor(DriverSQLite)
	if err != nil {
		t.Fatalf("MigrationsFor failed: %v", err)
	}

	mgr := NewMigrationManager(db, source)
	if err := mgr.ValidateSchema(); err == nil {
		t.Error("ValidateSchema should fail on empty database")
	}

	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if err := mgr.ValidateSchema(); err != nil {
		t.Errorf("ValidateSchema should pass after migrations: %v", err)
	}

	// Score range is enforced by the schema as well
	if _, err := db.Exec(`INSERT INTO classes (class_id, created_at) VALUES ('CS101', ?)`, time.Now()); err != nil {
		t.Fatalf("Failed to insert class: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO topics (class_id, topic_id, name) VALUES ('CS101', 1, 'Recursion')`); err != nil {
		t.Fatalf("Failed to insert topic: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ratings (class_id, topic_id, score, created_at) VALUES ('CS101', 1, 11, ?)`, time.Now()); err == nil {
		t.Error("Score 11 should violate the check constraint")
	}
}

func TestMigrationsFor(t *testing.T) {
	if _, err := MigrationsFor(DriverPostgres); err != nil {
		t.Errorf("Postgres migrations should be embedded: %v", err)
	}
	if _, err := MigrationsFor("mysql"); err == nil {
		t.Error("Unknown driver should fail")
	}
}
