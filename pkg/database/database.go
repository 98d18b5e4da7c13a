// Package database persists alert history and filesystem-monitor manifests
// to SQLite, grounded on the teacher's sqlx.Connect/InitSchema pattern.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hostwatch/hostwatch/pkg/config"
)

// DB wraps a sqlx connection plus the dashboard's database configuration.
type DB struct {
	*sqlx.DB
	config *config.DatabaseConfig
}

// NewDB opens (creating if necessary) the SQLite database named by cfg.Path
// and initializes its schema. ":memory:" is supported for tests.
func NewDB(cfg *config.DatabaseConfig) (*DB, error) {
	if cfg.Path == ":memory:" {
		conn, err := sqlx.Connect("sqlite", ":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to connect to in-memory database: %w", err)
		}
		db := &DB{DB: conn, config: cfg}
		if err := db.InitSchema(); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return db, nil
	}

	dataDir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	connStr := cfg.Path
	if cfg.WALMode {
		connStr += "?_journal_mode=WAL&_sync=NORMAL&_cache_size=1000&_foreign_keys=ON"
	}

	conn, err := sqlx.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{DB: conn, config: cfg}
	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// InitSchema creates every table this toolkit needs if it does not already
// exist.
func (db *DB) InitSchema() error {
	schema := `
	-- Alerts published to the bus, kept for history across restarts.
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY, -- UUID
		severity TEXT NOT NULL, -- ALTA, MEDIA, BAJA
		message TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 0,
		subject TEXT NOT NULL DEFAULT '',
		ts DATETIME NOT NULL,
		inserted_seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts);
	CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);

	-- One row per filesystem-monitor sampling cycle for one device.
	CREATE TABLE IF NOT EXISTS fs_snapshots (
		id TEXT PRIMARY KEY, -- UUID
		device TEXT NOT NULL,
		ts DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fs_snapshots_device ON fs_snapshots(device, ts);

	-- File manifest belonging to one fs_snapshots row.
	CREATE TABLE IF NOT EXISTS fs_files (
		snapshot_id TEXT NOT NULL,
		path TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		PRIMARY KEY (snapshot_id, path),
		FOREIGN KEY (snapshot_id) REFERENCES fs_snapshots(id) ON DELETE CASCADE
	);

	-- The single dashboard operator credential.
	CREATE TABLE IF NOT EXISTS operators (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
