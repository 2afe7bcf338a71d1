package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/roofsync/internal/models"
)

const timeLayout = time.RFC3339Nano

// metaCols are the sync bookkeeping columns shared by every entity table
const metaCols = "local_created_at, local_updated_at, server_updated_at, sync_status, sync_error, deleted, field_stamps"

// newID returns a fresh local identity
func newID() string {
	return uuid.NewString()
}

// nextStamp returns a timestamp strictly after prev
func (db *DB) nextStamp(prev time.Time) time.Time {
	t := db.now().UTC().Truncate(time.Millisecond)
	if !t.After(prev) {
		t = prev.Add(time.Millisecond)
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// metaScan receives the metaCols of a row
type metaScan struct {
	created     string
	updated     string
	server      sql.NullString
	status      string
	syncErr     sql.NullString
	deleted     int
	fieldStamps sql.NullString
}

func (m *metaScan) dest() []any {
	return []any{&m.created, &m.updated, &m.server, &m.status, &m.syncErr, &m.deleted, &m.fieldStamps}
}

func (m *metaScan) fill(out *models.SyncMeta) error {
	var err error
	if out.LocalCreatedAt, err = parseTime(m.created); err != nil {
		return err
	}
	if out.LocalUpdatedAt, err = parseTime(m.updated); err != nil {
		return err
	}
	out.ServerUpdatedAt = nil
	if m.server.Valid && m.server.String != "" {
		t, err := parseTime(m.server.String)
		if err != nil {
			return err
		}
		out.ServerUpdatedAt = &t
	}
	out.SyncStatus = models.SyncStatus(m.status)
	out.SyncError = m.syncErr.String
	out.Deleted = m.deleted != 0
	out.FieldStamps = nil
	if m.fieldStamps.Valid && m.fieldStamps.String != "" {
		if err := json.Unmarshal([]byte(m.fieldStamps.String), &out.FieldStamps); err != nil {
			return fmt.Errorf("parse field stamps: %w", err)
		}
	}
	return nil
}

func metaArgs(m models.SyncMeta) []any {
	var stamps any
	if len(m.FieldStamps) > 0 {
		data, _ := json.Marshal(m.FieldStamps)
		stamps = string(data)
	}
	deleted := 0
	if m.Deleted {
		deleted = 1
	}
	return []any{
		formatTime(m.LocalCreatedAt),
		formatTime(m.LocalUpdatedAt),
		formatNullTime(m.ServerUpdatedAt),
		string(m.SyncStatus),
		nullString(m.SyncError),
		deleted,
		stamps,
	}
}

// stampNew prepares the meta of a freshly created local record
func (db *DB) stampNew(m *models.SyncMeta) {
	now := db.nextStamp(time.Time{})
	m.LocalCreatedAt = now
	m.LocalUpdatedAt = now
	m.SyncStatus = models.SyncPending
	m.SyncError = ""
	m.Deleted = false
}

// stampEdit marks a record as locally modified and pending upload. A stale
// base marker makes the server report any unresolved conflict again.
func (db *DB) stampEdit(m *models.SyncMeta, fields []string) {
	now := db.nextStamp(m.LocalUpdatedAt)
	m.LocalUpdatedAt = now
	if m.FieldStamps == nil {
		m.FieldStamps = models.FieldStamps{}
	}
	for _, f := range fields {
		m.FieldStamps[f] = now
	}
	m.SyncStatus = models.SyncPending
	m.SyncError = ""
}

// stampServer marks a record as an exact copy of the server version
func stampServer(m *models.SyncMeta, serverUpdatedAt *time.Time) {
	m.SyncStatus = models.SyncSynced
	m.SyncError = ""
	m.FieldStamps = nil
	if serverUpdatedAt != nil {
		t := serverUpdatedAt.UTC()
		m.ServerUpdatedAt = &t
	}
}
