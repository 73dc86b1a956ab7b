package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates and initializes a new SQLite database connection.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Wrap adopts an already opened connection without migrating it.
func Wrap(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

const schema = `
CREATE TABLE IF NOT EXISTS detections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id TEXT NOT NULL,
	vehicle_type TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	timestamp TEXT NOT NULL,
	date TEXT NOT NULL,
	hour INTEGER NOT NULL DEFAULT 0,
	synced INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS daily_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id TEXT NOT NULL,
	date TEXT NOT NULL,
	cars INTEGER NOT NULL DEFAULT 0,
	motorcycles INTEGER NOT NULL DEFAULT 0,
	buses INTEGER NOT NULL DEFAULT 0,
	trucks INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	UNIQUE (camera_id, date)
);

CREATE TABLE IF NOT EXISTS plate_detections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id TEXT NOT NULL,
	plate TEXT NOT NULL,
	vehicle_type TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	timestamp TEXT NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS camera_settings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	line_position REAL NOT NULL DEFAULT 0.6,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_daily_summaries_date ON daily_summaries(date);
CREATE INDEX IF NOT EXISTS idx_plates_plate ON plate_detections(plate);
CREATE INDEX IF NOT EXISTS idx_plates_synced ON plate_detections(synced, timestamp);
`

// Migrate creates missing tables and upgrades databases written before the
// synced flag existed.
func (db *DB) Migrate(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return err
	}

	for _, col := range legacyDetectionColumns {
		if err := db.ensureColumn(ctx, "detections", col.name, col.ddl); err != nil {
			return err
		}
	}

	_, err := db.conn.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_detections_synced ON detections(synced, timestamp);
		CREATE INDEX IF NOT EXISTS idx_detections_camera_date ON detections(camera_id, date);
	`)
	return err
}

// legacyDetectionColumns were added after the first schema version.
var legacyDetectionColumns = []struct{ name, ddl string }{
	{"date", "TEXT NOT NULL DEFAULT ''"},
	{"hour", "INTEGER NOT NULL DEFAULT 0"},
	{"synced", "INTEGER NOT NULL DEFAULT 0"},
}

// ensureColumn adds column to table when PRAGMA table_info does not list it.
func (db *DB) ensureColumn(ctx context.Context, table, column, ddl string) error {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}

	found := false
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if found {
		return nil
	}

	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Lock acquires a write lock.
func (db *DB) Lock() {
	db.mu.Lock()
}

// Unlock releases the write lock.
func (db *DB) Unlock() {
	db.mu.Unlock()
}

// RLock acquires a read lock.
func (db *DB) RLock() {
	db.mu.RLock()
}

// RUnlock releases the read lock.
func (db *DB) RUnlock() {
	db.mu.RUnlock()
}
