package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// GetSchemaVersion returns the schema version recorded in the store, 0 when
// none has been recorded yet
func (db *DB) GetSchemaVersion() (int, error) {
	return schemaVersion(db.conn)
}

func schemaVersion(q querier) (int, error) {
	var raw string
	err := q.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		return 0, nil
	case err != nil && strings.Contains(err.Error(), "no such table"):
		return 0, nil
	case err != nil:
		return 0, classify(fmt.Errorf("read schema version: %w", err))
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("schema version %q is not a number", raw)
	}
	return v, nil
}

func setSchemaVersion(q querier, v int) error {
	_, err := q.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, strconv.Itoa(v))
	return err
}

// RunMigrations brings an older store up to SchemaVersion in one
// transaction; a failed upgrade leaves the store at its old version.
// Returns how many migrations ran.
func (db *DB) RunMigrations() (int, error) {
	if v, err := db.GetSchemaVersion(); err == nil && v >= SchemaVersion {
		return 0, nil
	}

	ran := 0
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
			return fmt.Errorf("create schema_info: %w", err)
		}
		current, err := schemaVersion(tx)
		if err != nil {
			return err
		}
		// a fresh store gets the full schema and starts at the current version
		if current == 0 {
			return setSchemaVersion(tx, SchemaVersion)
		}
		for _, m := range Migrations {
			if m.Version <= current {
				continue
			}
			if _, err := tx.Exec(m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			if err := setSchemaVersion(tx, m.Version); err != nil {
				return fmt.Errorf("record schema version %d: %w", m.Version, err)
			}
			slog.Info("store migrated", "version", m.Version, "change", m.Description)
			ran++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ran, nil
}
