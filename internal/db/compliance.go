package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

const complianceCols = "id, report_id, checklist_id, results, " + metaCols

func scanCompliance(row interface{ Scan(...any) error }) (*models.ComplianceAssessment, error) {
	var c models.ComplianceAssessment
	var m metaScan
	var checklistID sql.NullString
	var results string
	dest := append([]any{&c.ID, &c.ReportID, &checklistID, &results}, m.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.ChecklistID = checklistID.String
	if err := json.Unmarshal([]byte(results), &c.Results); err != nil {
		return nil, fmt.Errorf("parse compliance results: %w", err)
	}
	if err := m.fill(&c.SyncMeta); err != nil {
		return nil, err
	}
	return &c, nil
}

func getComplianceByReport(q querier, reportID string) (*models.ComplianceAssessment, error) {
	c, err := scanCompliance(q.QueryRow(`SELECT `+complianceCols+` FROM compliance_assessments WHERE report_id = ?`, reportID))
	if err == sql.ErrNoRows {
		return nil, notFound("compliance for report", reportID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

func saveCompliance(q querier, c *models.ComplianceAssessment) error {
	if c.Results == nil {
		c.Results = map[string]models.ComplianceItem{}
	}
	results, err := json.Marshal(c.Results)
	if err != nil {
		return fmt.Errorf("marshal compliance results: %w", err)
	}
	args := append([]any{c.ID, c.ReportID, nullString(c.ChecklistID), string(results)}, metaArgs(c.SyncMeta)...)
	_, err = q.Exec(`INSERT OR REPLACE INTO compliance_assessments (`+complianceCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("save compliance %s: %w", c.ID, err)
	}
	return nil
}

// SaveCompliance creates or replaces the checklist answers of a report.
// A report has at most one assessment; its identity never changes.
func (db *DB) SaveCompliance(reportID, checklistID string, results map[string]models.ComplianceItem) (*models.ComplianceAssessment, error) {
	var out *models.ComplianceAssessment
	err := db.withTx(func(tx *sql.Tx) error {
		if err := requireLiveReport(tx, reportID); err != nil {
			return err
		}
		existing, err := getComplianceByReport(tx, reportID)
		if err != nil && !isNotFound(err) {
			return err
		}

		if existing == nil || existing.Deleted {
			c := &models.ComplianceAssessment{ReportID: reportID, ChecklistID: checklistID, Results: maps.Clone(results)}
			if existing != nil {
				c.ID = existing.ID
			} else {
				c.ID = newID()
			}
			if err := db.validateStruct(c); err != nil {
				return err
			}
			db.stampNew(&c.SyncMeta)
			if existing != nil {
				c.LocalCreatedAt = existing.LocalCreatedAt
				c.LocalUpdatedAt = db.nextStamp(existing.LocalUpdatedAt)
				c.ServerUpdatedAt = existing.ServerUpdatedAt
			}
			if err := saveCompliance(tx, c); err != nil {
				return err
			}
			out = c
			return db.enqueue(tx, models.EntityCompliance, models.ActionCreate, c.ID, reportID, c)
		}

		var changed []string
		if checklistID != "" && checklistID != existing.ChecklistID {
			existing.ChecklistID = checklistID
			changed = append(changed, "checklist_id")
		}
		if !reflect.DeepEqual(results, existing.Results) {
			existing.Results = maps.Clone(results)
			changed = append(changed, "results")
		}
		out = existing
		if len(changed) == 0 {
			return nil
		}
		if err := db.validateStruct(existing); err != nil {
			return err
		}
		db.stampEdit(&existing.SyncMeta, changed)
		if err := saveCompliance(tx, existing); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityCompliance, models.ActionUpdate, existing.ID, reportID, existing)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetComplianceItem answers a single checklist item
func (db *DB) SetComplianceItem(reportID, itemID string, item models.ComplianceItem) (*models.ComplianceAssessment, error) {
	results := map[string]models.ComplianceItem{}
	checklistID := ""
	if c, err := db.GetCompliance(reportID); err == nil && !c.Deleted {
		results = maps.Clone(c.Results)
		checklistID = c.ChecklistID
	} else if err != nil && !isNotFound(err) {
		return nil, err
	}
	results[itemID] = item
	return db.SaveCompliance(reportID, checklistID, results)
}

// GetCompliance returns the assessment of a report
func (db *DB) GetCompliance(reportID string) (*models.ComplianceAssessment, error) {
	return getComplianceByReport(db.conn, reportID)
}

// ListComplianceByStatus returns assessments in the given sync status
func (db *DB) ListComplianceByStatus(status models.SyncStatus) ([]models.ComplianceAssessment, error) {
	return queryCompliance(db.conn, `WHERE sync_status = ? ORDER BY local_updated_at ASC`, string(status))
}

// ListComplianceUpdatedSince returns assessments edited locally after t
func (db *DB) ListComplianceUpdatedSince(t time.Time) ([]models.ComplianceAssessment, error) {
	return queryCompliance(db.conn, `WHERE local_updated_at > ? ORDER BY local_updated_at ASC`, formatTime(t))
}

func queryCompliance(q querier, where string, args ...any) ([]models.ComplianceAssessment, error) {
	rows, err := q.Query(`SELECT `+complianceCols+` FROM compliance_assessments `+where, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []models.ComplianceAssessment
	for rows.Next() {
		c, err := scanCompliance(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *c)
	}
	return out, classify(rows.Err())
}
