package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := Open(cfg)
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

	if config.DatabasePath != "./data/codementor.db" {
		t.Errorf("Expected DatabasePath './data/codementor.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime != time.Minute*10 {
		t.Errorf("Expected ConnMaxIdleTime 10 minutes, got %v", config.ConnMaxIdleTime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"negative idle time", func(c *Config) { c.ConnMaxIdleTime = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
			if _, err := Open(c); err == nil {
				t.Error("Open should refuse an invalid config")
			}
		})
	}
}

func TestOpen_AppliesWAL(t *testing.T) {
	db := openTestDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected WAL journal mode, got %s", mode)
	}
}

func TestMigrationManager_ApplyEmbedded(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrationManager(db, Migrations())

	if err := m.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	// Running again is a no-op.
	if err := m.ApplyMigrations(); err != nil {
		t.Fatalf("second ApplyMigrations failed: %v", err)
	}

	versions, err := m.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 2 || versions[0] != "001" || versions[1] != "002" {
		t.Errorf("unexpected applied versions %v", versions)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("schema invalid after migrations: %v", err)
	}
}

func TestMigrationManager_LoadOrdersByVersion(t *testing.T) {
	source := fstest.MapFS{
		"010_later.sql":     {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"002_first.sql":     {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"README.md":         {Data: []byte("not a migration")},
		"003_no_suffix.txt": {Data: []byte("ignored")},
	}
	m := NewMigrationManager(openTestDB(t), source)

	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("Expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "002" || migrations[0].Description != "first" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
	if migrations[1].Version != "010" {
		t.Errorf("unexpected second migration %+v", migrations[1])
	}
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE nope (")},
	}
	m := NewMigrationManager(db, source)

	if err := m.ApplyMigrations(); err == nil {
		t.Fatal("Expected broken migration to fail")
	}
	versions, err := m.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "001" {
		t.Errorf("Expected only 001 recorded, got %v", versions)
	}
}
