package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

// MarkReportConflict flags a report as diverged from the server and keeps
// both versions for later resolution. Local data is not modified.
func (db *DB) MarkReportConflict(reportID string, localData, remoteData []byte, serverUpdatedAt time.Time) error {
	return db.withTx(func(tx *sql.Tx) error {
		r, err := getReport(tx, reportID)
		if err != nil {
			return err
		}
		r.SyncStatus = models.SyncConflict
		r.SyncError = ""
		if err := saveReport(tx, r); err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT OR REPLACE INTO sync_conflicts (report_id, local_data, remote_data, server_updated_at, detected_at)
			VALUES (?, ?, ?, ?, ?)`, reportID, string(localData), string(remoteData),
			formatTime(serverUpdatedAt), formatTime(db.now()))
		if err != nil {
			return fmt.Errorf("record conflict %s: %w", reportID, err)
		}
		return nil
	})
}

func scanConflict(row interface{ Scan(...any) error }) (*models.ConflictRecord, error) {
	var c models.ConflictRecord
	var server, detected string
	if err := row.Scan(&c.ReportID, &c.LocalData, &c.RemoteData, &server, &detected); err != nil {
		return nil, err
	}
	var err error
	if c.ServerUpdatedAt, err = parseTime(server); err != nil {
		return nil, err
	}
	if c.DetectedAt, err = parseTime(detected); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConflicts returns stored conflicts, most recent first
func (db *DB) ListConflicts() ([]models.ConflictRecord, error) {
	rows, err := db.conn.Query(`SELECT report_id, local_data, remote_data, server_updated_at, detected_at
		FROM sync_conflicts ORDER BY detected_at DESC`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *c)
	}
	return out, classify(rows.Err())
}

// GetConflict returns the stored conflict for a report
func (db *DB) GetConflict(reportID string) (*models.ConflictRecord, error) {
	c, err := scanConflict(db.conn.QueryRow(`SELECT report_id, local_data, remote_data, server_updated_at, detected_at
		FROM sync_conflicts WHERE report_id = ?`, reportID))
	if err == sql.ErrNoRows {
		return nil, notFound("conflict for report", reportID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}
