package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

const reportCols = "id, client_name, site_address, inspector_name, inspection_date, roof_type, weather, notes, status, " + metaCols

// ReportPatch carries the fields to change on a report. Nil fields are left alone.
type ReportPatch struct {
	ClientName     *string
	SiteAddress    *string
	InspectorName  *string
	InspectionDate *time.Time
	RoofType       *string
	Weather        *string
	Notes          *string
	Status         *models.ReportStatus
}

func scanReport(row interface{ Scan(...any) error }) (*models.Report, error) {
	var r models.Report
	var m metaScan
	var inspected sql.NullString
	var status string
	dest := append([]any{&r.ID, &r.ClientName, &r.SiteAddress, &r.InspectorName, &inspected,
		&r.RoofType, &r.Weather, &r.Notes, &status}, m.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.Status = models.ReportStatus(status)
	if inspected.Valid {
		t, err := parseTime(inspected.String)
		if err != nil {
			return nil, err
		}
		r.InspectionDate = t
	}
	if err := m.fill(&r.SyncMeta); err != nil {
		return nil, err
	}
	return &r, nil
}

func queryReports(q querier, where string, args ...any) ([]models.Report, error) {
	rows, err := q.Query(`SELECT `+reportCols+` FROM reports `+where, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *r)
	}
	return out, classify(rows.Err())
}

func getReport(q querier, id string) (*models.Report, error) {
	r, err := scanReport(q.QueryRow(`SELECT `+reportCols+` FROM reports WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("report", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return r, nil
}

func saveReport(q querier, r *models.Report) error {
	var inspected any
	if !r.InspectionDate.IsZero() {
		inspected = formatTime(r.InspectionDate)
	}
	args := append([]any{r.ID, r.ClientName, r.SiteAddress, r.InspectorName, inspected,
		r.RoofType, r.Weather, r.Notes, string(r.Status)}, metaArgs(r.SyncMeta)...)
	_, err := q.Exec(`INSERT OR REPLACE INTO reports (`+reportCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return nil
}

// CreateReport stores a new report as pending and queues it for upload
func (db *DB) CreateReport(r *models.Report) error {
	if r.Status == "" {
		r.Status = models.ReportDraft
	}
	if err := db.validateStruct(r); err != nil {
		return err
	}
	return db.withTx(func(tx *sql.Tx) error {
		if r.ID == "" {
			r.ID = newID()
		}
		db.stampNew(&r.SyncMeta)
		r.ServerUpdatedAt = nil
		r.FieldStamps = nil
		if err := saveReport(tx, r); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityReport, models.ActionCreate, r.ID, r.ID, r)
	})
}

// GetReport retrieves a report, including tombstoned ones
func (db *DB) GetReport(id string) (*models.Report, error) {
	return getReport(db.conn, id)
}

// ListReports returns reports, most recently edited first
func (db *DB) ListReports(includeDeleted bool) ([]models.Report, error) {
	if includeDeleted {
		return queryReports(db.conn, `ORDER BY local_updated_at DESC`)
	}
	return queryReports(db.conn, `WHERE deleted = 0 ORDER BY local_updated_at DESC`)
}

// ListReportsByStatus returns reports in the given sync status
func (db *DB) ListReportsByStatus(status models.SyncStatus) ([]models.Report, error) {
	return queryReports(db.conn, `WHERE sync_status = ? ORDER BY local_updated_at ASC`, string(status))
}

// ListReportsUpdatedSince returns reports edited locally after t
func (db *DB) ListReportsUpdatedSince(t time.Time) ([]models.Report, error) {
	return queryReports(db.conn, `WHERE local_updated_at > ? ORDER BY local_updated_at ASC`, formatTime(t))
}

// UpdateReport applies a patch. The workflow status only changes when the
// patch names it.
func (db *DB) UpdateReport(id string, p ReportPatch) (*models.Report, error) {
	var out *models.Report
	err := db.withTx(func(tx *sql.Tx) error {
		r, err := getReport(tx, id)
		if err != nil {
			return err
		}
		var changed []string
		setString(&r.ClientName, p.ClientName, "client_name", &changed)
		setString(&r.SiteAddress, p.SiteAddress, "site_address", &changed)
		setString(&r.InspectorName, p.InspectorName, "inspector_name", &changed)
		setString(&r.RoofType, p.RoofType, "roof_type", &changed)
		setString(&r.Weather, p.Weather, "weather", &changed)
		setString(&r.Notes, p.Notes, "notes", &changed)
		if p.InspectionDate != nil && !p.InspectionDate.Equal(r.InspectionDate) {
			r.InspectionDate = p.InspectionDate.UTC()
			changed = append(changed, "inspection_date")
		}
		if p.Status != nil && *p.Status != r.Status {
			r.Status = *p.Status
			changed = append(changed, "status")
		}
		out = r
		if len(changed) == 0 {
			return nil
		}
		if err := db.validateStruct(r); err != nil {
			return err
		}
		db.stampEdit(&r.SyncMeta, changed)
		if err := saveReport(tx, r); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityReport, models.ActionUpdate, r.ID, r.ID, r)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteReport tombstones a report and every child record in one transaction
func (db *DB) DeleteReport(id string) error {
	return db.withTx(func(tx *sql.Tx) error {
		r, err := getReport(tx, id)
		if err != nil {
			return err
		}
		if r.Deleted {
			return nil
		}
		agg, err := loadAggregate(tx, r)
		if err != nil {
			return err
		}

		for i := range agg.Elements {
			e := &agg.Elements[i]
			if e.Deleted {
				continue
			}
			e.Deleted = true
			db.stampEdit(&e.SyncMeta, []string{"deleted"})
			if err := saveElement(tx, e); err != nil {
				return err
			}
			if err := db.enqueue(tx, models.EntityElement, models.ActionDelete, e.ID, id, e); err != nil {
				return err
			}
		}
		for i := range agg.Defects {
			d := &agg.Defects[i]
			if d.Deleted {
				continue
			}
			d.Deleted = true
			db.stampEdit(&d.SyncMeta, []string{"deleted"})
			if err := saveDefect(tx, d); err != nil {
				return err
			}
			if err := db.enqueue(tx, models.EntityDefect, models.ActionDelete, d.ID, id, d); err != nil {
				return err
			}
		}
		for i := range agg.Photos {
			ph := &agg.Photos[i]
			if ph.Deleted {
				continue
			}
			ph.Deleted = true
			db.stampEdit(&ph.SyncMeta, []string{"deleted"})
			if err := updatePhotoMeta(tx, ph); err != nil {
				return err
			}
			if err := db.enqueue(tx, models.EntityPhoto, models.ActionDelete, ph.ID, id, ph); err != nil {
				return err
			}
		}
		if c := agg.Compliance; c != nil && !c.Deleted {
			c.Deleted = true
			db.stampEdit(&c.SyncMeta, []string{"deleted"})
			if err := saveCompliance(tx, c); err != nil {
				return err
			}
			if err := db.enqueue(tx, models.EntityCompliance, models.ActionDelete, c.ID, id, c); err != nil {
				return err
			}
		}

		r.Deleted = true
		db.stampEdit(&r.SyncMeta, []string{"deleted"})
		if err := saveReport(tx, r); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityReport, models.ActionDelete, r.ID, r.ID, r)
	})
}

// PurgeReport physically removes a tombstoned report that the server has
// acknowledged, together with its children, queue items and conflict
// snapshot. Nothing is removed if any step fails.
func (db *DB) PurgeReport(id string) error {
	return db.withTx(func(tx *sql.Tx) error {
		r, err := getReport(tx, id)
		if err != nil {
			return err
		}
		if !r.Deleted || r.SyncStatus != models.SyncSynced {
			return fmt.Errorf("purge %s: %w", id, ErrNotPurgeable)
		}
		for _, stmt := range []string{
			`DELETE FROM roof_elements WHERE report_id = ?`,
			`DELETE FROM defects WHERE report_id = ?`,
			`DELETE FROM photos WHERE report_id = ?`,
			`DELETE FROM compliance_assessments WHERE report_id = ?`,
			`DELETE FROM sync_queue WHERE report_id = ?`,
			`DELETE FROM sync_conflicts WHERE report_id = ?`,
			`DELETE FROM reports WHERE id = ?`,
		} {
			if _, err := tx.Exec(stmt, id); err != nil {
				return fmt.Errorf("purge %s: %w", id, err)
			}
		}
		return nil
	})
}

// ListReportsDueForUpload returns ids of reports that have local changes
// to send: the report or any child is pending, or a previous attempt was
// rejected and still has retries left. Reports with items past the retry
// ceiling are held back until requeued.
func (db *DB) ListReportsDueForUpload() ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT r.id FROM reports r
		WHERE (
			r.sync_status = 'pending'
			OR (r.sync_status = 'error' AND EXISTS (
				SELECT 1 FROM sync_queue q WHERE q.report_id = r.id AND q.status = 'queued'))
			OR EXISTS (SELECT 1 FROM roof_elements e WHERE e.report_id = r.id AND e.sync_status = 'pending')
			OR EXISTS (SELECT 1 FROM defects d WHERE d.report_id = r.id AND d.sync_status = 'pending')
			OR EXISTS (SELECT 1 FROM photos p WHERE p.report_id = r.id AND p.sync_status = 'pending')
			OR EXISTS (SELECT 1 FROM compliance_assessments c WHERE c.report_id = r.id AND c.sync_status = 'pending')
		)
		AND r.sync_status != 'conflict'
		AND NOT EXISTS (SELECT 1 FROM sync_queue q WHERE q.report_id = r.id AND q.status = 'failed')
		ORDER BY r.local_updated_at ASC
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err)
		}
		ids = append(ids, id)
	}
	return ids, classify(rows.Err())
}

func setString(dst *string, src *string, field string, changed *[]string) {
	if src != nil && *src != *dst {
		*dst = *src
		*changed = append(*changed, field)
	}
}
