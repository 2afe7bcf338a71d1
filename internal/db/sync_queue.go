package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcus/roofsync/internal/models"
)

const queueCols = "id, entity_type, action, entity_id, report_id, payload, retry_count, last_error, priority, status, created_at"

// enqueue records a change in the outbox. Callers pass the same transaction
// that wrote the entity so the record and its queue item commit together.
func (db *DB) enqueue(q querier, entityType models.EntityType, action models.QueueAction, entityID, reportID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}
	_, err = q.Exec(`INSERT INTO sync_queue (entity_type, action, entity_id, report_id, payload, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(entityType), string(action), entityID, reportID, string(data),
		entityType.Priority(), string(models.QueueQueued), formatTime(db.now()))
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", entityType, entityID, err)
	}
	return nil
}

// Enqueue adds an outbox item outside of an entity mutation
func (db *DB) Enqueue(entityType models.EntityType, action models.QueueAction, entityID, reportID string, payload any) error {
	if !models.IsValidEntityType(entityType) {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}
	return db.withTx(func(tx *sql.Tx) error {
		return db.enqueue(tx, entityType, action, entityID, reportID, payload)
	})
}

func scanQueueItems(rows *sql.Rows) ([]models.QueueItem, error) {
	defer rows.Close()
	var items []models.QueueItem
	for rows.Next() {
		var it models.QueueItem
		var entityType, action, status, payload, created string
		var lastErr sql.NullString
		if err := rows.Scan(&it.ID, &entityType, &action, &it.EntityID, &it.ReportID, &payload,
			&it.RetryCount, &lastErr, &it.Priority, &status, &created); err != nil {
			return nil, classify(err)
		}
		it.EntityType = models.EntityType(entityType)
		it.Action = models.QueueAction(action)
		it.Status = models.QueueStatus(status)
		it.Payload = json.RawMessage(payload)
		it.LastError = lastErr.String
		t, err := parseTime(created)
		if err != nil {
			return nil, err
		}
		it.CreatedAt = t
		items = append(items, it)
	}
	return items, classify(rows.Err())
}

// NextBatch returns up to n live queue items in upload order:
// priority, then creation time, then insertion order
func (db *DB) NextBatch(n int) ([]models.QueueItem, error) {
	rows, err := db.conn.Query(`SELECT `+queueCols+` FROM sync_queue
		WHERE status = ?
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT ?`, string(models.QueueQueued), n)
	if err != nil {
		return nil, classify(err)
	}
	return scanQueueItems(rows)
}

// ListQueueItems returns every queue item, live and failed
func (db *DB) ListQueueItems() ([]models.QueueItem, error) {
	rows, err := db.conn.Query(`SELECT ` + queueCols + ` FROM sync_queue ORDER BY priority ASC, created_at ASC, id ASC`)
	if err != nil {
		return nil, classify(err)
	}
	return scanQueueItems(rows)
}

// ListFailedQueueItems returns items that exceeded the retry ceiling
func (db *DB) ListFailedQueueItems() ([]models.QueueItem, error) {
	rows, err := db.conn.Query(`SELECT `+queueCols+` FROM sync_queue WHERE status = ? ORDER BY id ASC`,
		string(models.QueueFailed))
	if err != nil {
		return nil, classify(err)
	}
	return scanQueueItems(rows)
}

// QueueItemsForReport returns every queue item belonging to a report
func (db *DB) QueueItemsForReport(reportID string) ([]models.QueueItem, error) {
	rows, err := db.conn.Query(`SELECT `+queueCols+` FROM sync_queue WHERE report_id = ? ORDER BY priority ASC, created_at ASC, id ASC`,
		reportID)
	if err != nil {
		return nil, classify(err)
	}
	return scanQueueItems(rows)
}

func (db *DB) markRetry(q querier, where string, errMsg string, args ...any) error {
	params := append([]any{errMsg, db.maxRetries, string(models.QueueFailed)}, args...)
	params = append(params, string(models.QueueQueued))
	_, err := q.Exec(`UPDATE sync_queue
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END
		WHERE `+where+` AND status = ?`, params...)
	return err
}

// MarkRetry records a failed attempt. Items reaching the retry ceiling
// become permanently failed and are skipped by NextBatch.
func (db *DB) MarkRetry(id int64, errMsg string) error {
	return db.withTx(func(tx *sql.Tx) error {
		return db.markRetry(tx, "id = ?", errMsg, id)
	})
}

// MarkRetryForReport records a failed attempt on every live item of a report
func (db *DB) MarkRetryForReport(reportID, errMsg string) error {
	return db.withTx(func(tx *sql.Tx) error {
		return db.markRetry(tx, "report_id = ?", errMsg, reportID)
	})
}

// RequeueFailed resets permanently failed items so they are retried
func (db *DB) RequeueFailed() (int, error) {
	var n int64
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sync_queue SET status = ?, retry_count = 0 WHERE status = ?`,
			string(models.QueueQueued), string(models.QueueFailed))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}

// Deduplicate collapses the queue to one item per entity, keeping the
// most recently created one. Returns the number of items removed.
func (db *DB) Deduplicate() (int, error) {
	var n int64
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM sync_queue WHERE id NOT IN (
			SELECT MAX(id) FROM sync_queue GROUP BY entity_type, entity_id
		)`)
		if err != nil {
			return fmt.Errorf("dedupe queue: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}

func removeQueueItems(q querier, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityIDs)), ",")
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}
	_, err := q.Exec(`DELETE FROM sync_queue WHERE entity_id IN (`+placeholders+`)`, args...)
	return err
}

// RemoveQueueItems deletes queue items for entities the server has accepted
func (db *DB) RemoveQueueItems(entityIDs []string) error {
	return db.withTx(func(tx *sql.Tx) error {
		return removeQueueItems(tx, entityIDs)
	})
}
