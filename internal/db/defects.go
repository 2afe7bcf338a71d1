package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

const defectCols = "id, report_id, element_id, defect_number, title, description, severity, location, recommendation, " + metaCols

// DefectPatch carries the fields to change on a defect
type DefectPatch struct {
	Title          *string
	Description    *string
	Severity       *models.Severity
	Location       *string
	Recommendation *string
	// ElementID links the defect to an element; an empty string clears the link
	ElementID *string
}

func scanDefect(row interface{ Scan(...any) error }) (*models.Defect, error) {
	var d models.Defect
	var m metaScan
	var elementID sql.NullString
	var severity string
	dest := append([]any{&d.ID, &d.ReportID, &elementID, &d.DefectNumber, &d.Title, &d.Description,
		&severity, &d.Location, &d.Recommendation}, m.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	d.ElementID = elementID.String
	d.Severity = models.Severity(severity)
	if err := m.fill(&d.SyncMeta); err != nil {
		return nil, err
	}
	return &d, nil
}

func queryDefects(q querier, where string, args ...any) ([]models.Defect, error) {
	rows, err := q.Query(`SELECT `+defectCols+` FROM defects `+where, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []models.Defect
	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *d)
	}
	return out, classify(rows.Err())
}

func getDefect(q querier, id string) (*models.Defect, error) {
	d, err := scanDefect(q.QueryRow(`SELECT `+defectCols+` FROM defects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("defect", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return d, nil
}

func saveDefect(q querier, d *models.Defect) error {
	args := append([]any{d.ID, d.ReportID, nullString(d.ElementID), d.DefectNumber, d.Title, d.Description,
		string(d.Severity), d.Location, d.Recommendation}, metaArgs(d.SyncMeta)...)
	_, err := q.Exec(`INSERT OR REPLACE INTO defects (`+defectCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("save defect %s: %w", d.ID, err)
	}
	return nil
}

func nextDefectNumber(q querier, reportID string) (int, error) {
	var max sql.NullInt64
	err := q.QueryRow(`SELECT MAX(defect_number) FROM defects WHERE report_id = ? AND deleted = 0`, reportID).Scan(&max)
	if err != nil {
		return 0, classify(err)
	}
	return int(max.Int64) + 1, nil
}

// requireElementInReport checks a weak element reference points inside the report
func requireElementInReport(q querier, elementID, reportID string) error {
	if elementID == "" {
		return nil
	}
	e, err := getElement(q, elementID)
	if err != nil {
		return err
	}
	if e.ReportID != reportID || e.Deleted {
		return fmt.Errorf("%w: element %s is not a live element of report %s", ErrValidation, elementID, reportID)
	}
	return nil
}

// NextDefectNumber returns the number the next defect in a report will get
func (db *DB) NextDefectNumber(reportID string) (int, error) {
	return nextDefectNumber(db.conn, reportID)
}

// CreateDefect adds a defect, numbering it after the highest live defect
func (db *DB) CreateDefect(d *models.Defect) error {
	if d.Severity == "" {
		d.Severity = models.SeverityMedium
	}
	if err := db.validateStruct(d); err != nil {
		return err
	}
	return db.withTx(func(tx *sql.Tx) error {
		if err := requireLiveReport(tx, d.ReportID); err != nil {
			return err
		}
		if err := requireElementInReport(tx, d.ElementID, d.ReportID); err != nil {
			return err
		}
		n, err := nextDefectNumber(tx, d.ReportID)
		if err != nil {
			return err
		}
		if d.ID == "" {
			d.ID = newID()
		}
		d.DefectNumber = n
		db.stampNew(&d.SyncMeta)
		d.ServerUpdatedAt = nil
		d.FieldStamps = nil
		if err := saveDefect(tx, d); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityDefect, models.ActionCreate, d.ID, d.ReportID, d)
	})
}

// GetDefect retrieves a defect
func (db *DB) GetDefect(id string) (*models.Defect, error) {
	return getDefect(db.conn, id)
}

// ListDefects returns the live defects of a report in number order
func (db *DB) ListDefects(reportID string) ([]models.Defect, error) {
	return queryDefects(db.conn, `WHERE report_id = ? AND deleted = 0 ORDER BY defect_number ASC, local_created_at ASC`, reportID)
}

// ListDefectsByStatus returns defects in the given sync status
func (db *DB) ListDefectsByStatus(status models.SyncStatus) ([]models.Defect, error) {
	return queryDefects(db.conn, `WHERE sync_status = ? ORDER BY local_updated_at ASC`, string(status))
}

// ListDefectsUpdatedSince returns defects edited locally after t
func (db *DB) ListDefectsUpdatedSince(t time.Time) ([]models.Defect, error) {
	return queryDefects(db.conn, `WHERE local_updated_at > ? ORDER BY local_updated_at ASC`, formatTime(t))
}

// UpdateDefect applies a patch to a defect
func (db *DB) UpdateDefect(id string, p DefectPatch) (*models.Defect, error) {
	var out *models.Defect
	err := db.withTx(func(tx *sql.Tx) error {
		d, err := getDefect(tx, id)
		if err != nil {
			return err
		}
		var changed []string
		setString(&d.Title, p.Title, "title", &changed)
		setString(&d.Description, p.Description, "description", &changed)
		setString(&d.Location, p.Location, "location", &changed)
		setString(&d.Recommendation, p.Recommendation, "recommendation", &changed)
		if p.Severity != nil && *p.Severity != d.Severity {
			d.Severity = *p.Severity
			changed = append(changed, "severity")
		}
		if p.ElementID != nil && *p.ElementID != d.ElementID {
			if err := requireElementInReport(tx, *p.ElementID, d.ReportID); err != nil {
				return err
			}
			d.ElementID = *p.ElementID
			changed = append(changed, "element_id")
		}
		out = d
		if len(changed) == 0 {
			return nil
		}
		if err := db.validateStruct(d); err != nil {
			return err
		}
		db.stampEdit(&d.SyncMeta, changed)
		if err := saveDefect(tx, d); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityDefect, models.ActionUpdate, d.ID, d.ReportID, d)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDefect tombstones a defect. Numbers of the remaining defects are
// left untouched until RenumberDefects runs.
func (db *DB) DeleteDefect(id string) error {
	return db.withTx(func(tx *sql.Tx) error {
		d, err := getDefect(tx, id)
		if err != nil {
			return err
		}
		if d.Deleted {
			return nil
		}
		d.Deleted = true
		db.stampEdit(&d.SyncMeta, []string{"deleted"})
		if err := saveDefect(tx, d); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityDefect, models.ActionDelete, d.ID, d.ReportID, d)
	})
}

// RenumberDefects compacts the live defects of a report to 1..n, ordered by
// their current number then creation time. Identities do not change; only
// defects whose number moved are stamped and queued. Returns how many moved.
func (db *DB) RenumberDefects(reportID string) (int, error) {
	moved := 0
	err := db.withTx(func(tx *sql.Tx) error {
		defects, err := queryDefects(tx, `WHERE report_id = ? AND deleted = 0 ORDER BY defect_number ASC, local_created_at ASC`, reportID)
		if err != nil {
			return err
		}
		for i := range defects {
			d := &defects[i]
			want := i + 1
			if d.DefectNumber == want {
				continue
			}
			d.DefectNumber = want
			db.stampEdit(&d.SyncMeta, []string{"defect_number"})
			if err := saveDefect(tx, d); err != nil {
				return err
			}
			if err := db.enqueue(tx, models.EntityDefect, models.ActionUpdate, d.ID, d.ReportID, d); err != nil {
				return err
			}
			moved++
		}
		return nil
	})
	return moved, err
}
