package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

// getSchemaVersion reads PRAGMA user_version.
func getSchemaVersion(q queryer) (int, error) {
	var version int
	if err := q.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// hasLegacyTable reports whether the Django-era article table is present.
func hasLegacyTable(q queryer) (bool, error) {
	var n int
	err := q.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", legacyTable,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking for legacy table: %w", err)
	}
	return n > 0, nil
}

// migrate applies every migration newer than the database's user_version.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(conn, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// apply runs one migration in a transaction, then records its version.
// modernc/sqlite does not honor user_version inside a transaction, so the
// version is written after commit; every Up must therefore be idempotent.
func apply(conn *sql.DB, m Migration) error {
	slog.Info("applying migration", "version", m.Version, "description", m.Description)

	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}
	return nil
}
