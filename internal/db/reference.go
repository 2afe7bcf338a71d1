package db

import (
	"database/sql"
	"fmt"

	"github.com/marcus/roofsync/internal/models"
)

func upsertReference(q querier, ref models.ReferenceData) error {
	payload := ref.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := q.Exec(`INSERT OR REPLACE INTO reference_data (kind, id, name, payload, server_updated_at)
		VALUES (?, ?, ?, ?, ?)`, ref.Kind, ref.ID, ref.Name, string(payload), formatTime(ref.ServerUpdatedAt))
	if err != nil {
		return fmt.Errorf("save %s %s: %w", ref.Kind, ref.ID, err)
	}
	return nil
}

// UpsertReference caches read-only reference records from the server
func (db *DB) UpsertReference(refs ...models.ReferenceData) error {
	return db.withTx(func(tx *sql.Tx) error {
		for _, ref := range refs {
			if err := upsertReference(tx, ref); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanReference(row interface{ Scan(...any) error }) (*models.ReferenceData, error) {
	var ref models.ReferenceData
	var payload string
	var updated sql.NullString
	if err := row.Scan(&ref.Kind, &ref.ID, &ref.Name, &payload, &updated); err != nil {
		return nil, err
	}
	ref.Payload = []byte(payload)
	t, err := parseTime(updated.String)
	if err != nil {
		return nil, err
	}
	ref.ServerUpdatedAt = t
	return &ref, nil
}

// ListReference returns cached reference records of one kind
func (db *DB) ListReference(kind string) ([]models.ReferenceData, error) {
	rows, err := db.conn.Query(`SELECT kind, id, name, payload, server_updated_at FROM reference_data
		WHERE kind = ? ORDER BY name ASC`, kind)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []models.ReferenceData
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *ref)
	}
	return out, classify(rows.Err())
}

// GetReference returns one cached reference record
func (db *DB) GetReference(kind, id string) (*models.ReferenceData, error) {
	ref, err := scanReference(db.conn.QueryRow(`SELECT kind, id, name, payload, server_updated_at FROM reference_data
		WHERE kind = ? AND id = ?`, kind, id))
	if err == sql.ErrNoRows {
		return nil, notFound(kind, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return ref, nil
}
