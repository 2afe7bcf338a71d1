package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

const elementCols = "id, report_id, name, element_type, material, condition, location, notes, " + metaCols

// ElementPatch carries the fields to change on a roof element
type ElementPatch struct {
	Name        *string
	ElementType *string
	Material    *string
	Condition   *models.Condition
	Location    *string
	Notes       *string
}

func scanElement(row interface{ Scan(...any) error }) (*models.RoofElement, error) {
	var e models.RoofElement
	var m metaScan
	var condition string
	dest := append([]any{&e.ID, &e.ReportID, &e.Name, &e.ElementType, &e.Material, &condition,
		&e.Location, &e.Notes}, m.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	e.Condition = models.Condition(condition)
	if err := m.fill(&e.SyncMeta); err != nil {
		return nil, err
	}
	return &e, nil
}

func queryElements(q querier, where string, args ...any) ([]models.RoofElement, error) {
	rows, err := q.Query(`SELECT `+elementCols+` FROM roof_elements `+where, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []models.RoofElement
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *e)
	}
	return out, classify(rows.Err())
}

func getElement(q querier, id string) (*models.RoofElement, error) {
	e, err := scanElement(q.QueryRow(`SELECT `+elementCols+` FROM roof_elements WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("element", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

func saveElement(q querier, e *models.RoofElement) error {
	args := append([]any{e.ID, e.ReportID, e.Name, e.ElementType, e.Material, string(e.Condition),
		e.Location, e.Notes}, metaArgs(e.SyncMeta)...)
	_, err := q.Exec(`INSERT OR REPLACE INTO roof_elements (`+elementCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("save element %s: %w", e.ID, err)
	}
	return nil
}

// requireLiveReport fails unless the report exists and is not tombstoned
func requireLiveReport(q querier, reportID string) error {
	r, err := getReport(q, reportID)
	if err != nil {
		return err
	}
	if r.Deleted {
		return fmt.Errorf("%w: report %s is deleted", ErrValidation, reportID)
	}
	return nil
}

// CreateElement adds a roof element to a report
func (db *DB) CreateElement(e *models.RoofElement) error {
	if err := db.validateStruct(e); err != nil {
		return err
	}
	return db.withTx(func(tx *sql.Tx) error {
		if err := requireLiveReport(tx, e.ReportID); err != nil {
			return err
		}
		if e.ID == "" {
			e.ID = newID()
		}
		db.stampNew(&e.SyncMeta)
		e.ServerUpdatedAt = nil
		e.FieldStamps = nil
		if err := saveElement(tx, e); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityElement, models.ActionCreate, e.ID, e.ReportID, e)
	})
}

// GetElement retrieves a roof element
func (db *DB) GetElement(id string) (*models.RoofElement, error) {
	return getElement(db.conn, id)
}

// ListElements returns the live elements of a report
func (db *DB) ListElements(reportID string) ([]models.RoofElement, error) {
	return queryElements(db.conn, `WHERE report_id = ? AND deleted = 0 ORDER BY local_created_at ASC`, reportID)
}

// ListElementsByStatus returns elements in the given sync status
func (db *DB) ListElementsByStatus(status models.SyncStatus) ([]models.RoofElement, error) {
	return queryElements(db.conn, `WHERE sync_status = ? ORDER BY local_updated_at ASC`, string(status))
}

// ListElementsUpdatedSince returns elements edited locally after t
func (db *DB) ListElementsUpdatedSince(t time.Time) ([]models.RoofElement, error) {
	return queryElements(db.conn, `WHERE local_updated_at > ? ORDER BY local_updated_at ASC`, formatTime(t))
}

// UpdateElement applies a patch to a roof element
func (db *DB) UpdateElement(id string, p ElementPatch) (*models.RoofElement, error) {
	var out *models.RoofElement
	err := db.withTx(func(tx *sql.Tx) error {
		e, err := getElement(tx, id)
		if err != nil {
			return err
		}
		var changed []string
		setString(&e.Name, p.Name, "name", &changed)
		setString(&e.ElementType, p.ElementType, "element_type", &changed)
		setString(&e.Material, p.Material, "material", &changed)
		setString(&e.Location, p.Location, "location", &changed)
		setString(&e.Notes, p.Notes, "notes", &changed)
		if p.Condition != nil && *p.Condition != e.Condition {
			e.Condition = *p.Condition
			changed = append(changed, "condition")
		}
		out = e
		if len(changed) == 0 {
			return nil
		}
		if err := db.validateStruct(e); err != nil {
			return err
		}
		db.stampEdit(&e.SyncMeta, changed)
		if err := saveElement(tx, e); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityElement, models.ActionUpdate, e.ID, e.ReportID, e)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteElement tombstones an element. Defects and photos that pointed at it
// keep existing with the reference cleared, and are queued as updates.
func (db *DB) DeleteElement(id string) error {
	return db.withTx(func(tx *sql.Tx) error {
		e, err := getElement(tx, id)
		if err != nil {
			return err
		}
		if e.Deleted {
			return nil
		}

		defects, err := queryDefects(tx, `WHERE element_id = ? AND deleted = 0`, id)
		if err != nil {
			return err
		}
		for i := range defects {
			d := &defects[i]
			d.ElementID = ""
			db.stampEdit(&d.SyncMeta, []string{"element_id"})
			if err := saveDefect(tx, d); err != nil {
				return err
			}
			if err := db.enqueue(tx, models.EntityDefect, models.ActionUpdate, d.ID, d.ReportID, d); err != nil {
				return err
			}
		}

		photos, err := queryPhotos(tx, `WHERE element_id = ? AND deleted = 0`, id)
		if err != nil {
			return err
		}
		for i := range photos {
			ph := &photos[i]
			ph.ElementID = ""
			db.stampEdit(&ph.SyncMeta, []string{"element_id"})
			if err := updatePhotoMeta(tx, ph); err != nil {
				return err
			}
			if err := db.enqueue(tx, models.EntityPhoto, models.ActionUpdate, ph.ID, ph.ReportID, ph); err != nil {
				return err
			}
		}

		e.Deleted = true
		db.stampEdit(&e.SyncMeta, []string{"deleted"})
		if err := saveElement(tx, e); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityElement, models.ActionDelete, e.ID, e.ReportID, e)
	})
}
