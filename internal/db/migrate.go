// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations holds the ordered schema history. Versions are append-only;
// never edit an applied migration, add a new one.
var migrations = []Migration{
	{
		Version:     1,
		Description: "create landmarks table",
		SQL: `
		CREATE TABLE IF NOT EXISTS landmarks (
			local_id TEXT PRIMARY KEY,
			server_id INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL CHECK(length(title) > 0),
			latitude REAL NOT NULL CHECK(latitude BETWEEN -90 AND 90),
			longitude REAL NOT NULL CHECK(longitude BETWEEN -180 AND 180),
			image_url TEXT NOT NULL DEFAULT '',
			image_path TEXT NOT NULL DEFAULT '',
			sync_state TEXT NOT NULL DEFAULT 'clean'
				CHECK(sync_state IN ('clean', 'dirty', 'conflicted')),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_landmarks_server_id
			ON landmarks(server_id) WHERE server_id > 0;
		`,
	},
	{
		Version:     2,
		Description: "create pending_actions table",
		SQL: `
		CREATE TABLE IF NOT EXISTS pending_actions (
			id TEXT PRIMARY KEY,
			action_type TEXT NOT NULL CHECK(action_type IN ('create', 'update', 'delete')),
			target_local_id TEXT NOT NULL,
			target_server_id INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL DEFAULT '{}',
			enqueued_at INTEGER NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK(status IN ('pending', 'in_progress', 'conflicted'))
		);
		CREATE INDEX IF NOT EXISTS idx_pending_actions_order
			ON pending_actions(enqueued_at, id);
		CREATE INDEX IF NOT EXISTS idx_pending_actions_target
			ON pending_actions(target_local_id);
		`,
	},
	{
		Version:     3,
		Description: "create meta key-value table",
		SQL: `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Up applies all pending migrations in order.
func (m *Migrator) Up() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			mig.Version, time.Now().Unix(), mig.Description, checksum(mig.SQL),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

// Verify checks that applied migrations match the embedded schema history.
func (m *Migrator) Verify() error {
	rows, err := m.db.Query("SELECT version, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return err
	}
	defer rows.Close()

	byVersion := make(map[int]string, len(migrations))
	for _, mig := range migrations {
		byVersion[mig.Version] = checksum(mig.SQL)
	}

	for rows.Next() {
		var version int
		var applied string
		if err := rows.Scan(&version, &applied); err != nil {
			return err
		}
		expected, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("unknown applied migration version %d", version)
		}
		if expected != applied {
			return fmt.Errorf("migration %d checksum mismatch", version)
		}
	}

	return rows.Err()
}

// checksum returns the hex-encoded SHA-256 of a migration's SQL.
func checksum(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}
