package models

import (
	"time"
)

// SyncStatus tracks how a local record relates to the server copy
type SyncStatus string

const (
	SyncSynced   SyncStatus = "synced"
	SyncPending  SyncStatus = "pending"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

// ReportStatus is the workflow state of a report
type ReportStatus string

const (
	ReportDraft      ReportStatus = "draft"
	ReportInProgress ReportStatus = "in_progress"
	ReportSubmitted  ReportStatus = "submitted"
	ReportFinalised  ReportStatus = "finalised"
)

// Severity grades a defect
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Condition grades a roof element
type Condition string

const (
	ConditionGood   Condition = "good"
	ConditionFair   Condition = "fair"
	ConditionPoor   Condition = "poor"
	ConditionFailed Condition = "failed"
)

// UploadStatus tracks the binary transfer of a photo
type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadUploaded UploadStatus = "uploaded"
	UploadError    UploadStatus = "error"
)

// ComplianceResult is the outcome of one checklist item
type ComplianceResult string

const (
	ResultPass       ComplianceResult = "pass"
	ResultFail       ComplianceResult = "fail"
	ResultNA         ComplianceResult = "na"
	ResultUnanswered ComplianceResult = "unanswered"
)

// FieldStamps records when each field was last edited on this device.
// Keys are JSON field names.
type FieldStamps map[string]time.Time

// SyncMeta is embedded in every synchronised entity
type SyncMeta struct {
	LocalCreatedAt  time.Time   `json:"local_created_at"`
	LocalUpdatedAt  time.Time   `json:"local_updated_at"`
	ServerUpdatedAt *time.Time  `json:"server_updated_at,omitempty"`
	SyncStatus      SyncStatus  `json:"sync_status"`
	SyncError       string      `json:"sync_error,omitempty"`
	Deleted         bool        `json:"deleted"`
	FieldStamps     FieldStamps `json:"-"`
}

// Report is the root aggregate of an inspection
type Report struct {
	ID             string       `json:"id"`
	ClientName     string       `json:"client_name" validate:"required,max=200"`
	SiteAddress    string       `json:"site_address" validate:"required,max=500"`
	InspectorName  string       `json:"inspector_name" validate:"max=200"`
	InspectionDate time.Time    `json:"inspection_date"`
	RoofType       string       `json:"roof_type" validate:"max=100"`
	Weather        string       `json:"weather" validate:"max=200"`
	Notes          string       `json:"notes"`
	Status         ReportStatus `json:"status" validate:"omitempty,oneof=draft in_progress submitted finalised"`
	SyncMeta
}

// RoofElement is a physical component of the roof under inspection
type RoofElement struct {
	ID          string    `json:"id"`
	ReportID    string    `json:"report_id" validate:"required"`
	Name        string    `json:"name" validate:"required,max=200"`
	ElementType string    `json:"element_type" validate:"max=100"`
	Material    string    `json:"material" validate:"max=100"`
	Condition   Condition `json:"condition" validate:"omitempty,oneof=good fair poor failed"`
	Location    string    `json:"location" validate:"max=200"`
	Notes       string    `json:"notes"`
	SyncMeta
}

// Defect is a numbered finding within a report
type Defect struct {
	ID             string   `json:"id"`
	ReportID       string   `json:"report_id" validate:"required"`
	ElementID      string   `json:"element_id"` // empty when the element was deleted
	DefectNumber   int      `json:"defect_number"`
	Title          string   `json:"title" validate:"required,max=200"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	Location       string   `json:"location" validate:"max=200"`
	Recommendation string   `json:"recommendation"`
	SyncMeta
}

// Photo is evidentiary image content attached to a report.
// Payload and Thumbnail never travel in sync metadata.
type Photo struct {
	ID           string       `json:"id"`
	ReportID     string       `json:"report_id" validate:"required"`
	DefectID     string       `json:"defect_id"`
	ElementID    string       `json:"element_id"`
	EditedFrom   string       `json:"edited_from,omitempty"`
	Caption      string       `json:"caption" validate:"max=500"`
	FileName     string       `json:"file_name" validate:"max=255"`
	ContentType  string       `json:"content_type"`
	Size         int64        `json:"size"`
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	OriginalHash string       `json:"original_hash"`
	UploadStatus UploadStatus `json:"upload_status"`
	UploadError  string       `json:"upload_error,omitempty"`
	StorageURL   string       `json:"storage_url,omitempty"`
	Payload      []byte       `json:"-"`
	Thumbnail    []byte       `json:"-"`
	SyncMeta
}

// ComplianceItem is a single checklist answer
type ComplianceItem struct {
	Result ComplianceResult `json:"result" validate:"oneof=pass fail na unanswered"`
	Note   string           `json:"note,omitempty"`
}

// ComplianceAssessment holds the checklist answers for a report
type ComplianceAssessment struct {
	ID          string                    `json:"id"`
	ReportID    string                    `json:"report_id" validate:"required"`
	ChecklistID string                    `json:"checklist_id,omitempty"`
	Results     map[string]ComplianceItem `json:"results" validate:"dive"`
	SyncMeta
}

// ReportAggregate is a report with every child record, the unit of upload
type ReportAggregate struct {
	Report     Report                `json:"report"`
	Elements   []RoofElement         `json:"elements"`
	Defects    []Defect              `json:"defects"`
	Compliance *ComplianceAssessment `json:"compliance,omitempty"`
	Photos     []Photo               `json:"photos"`
}

// ReferenceData is a cached read-only server record such as a checklist
type ReferenceData struct {
	Kind            string    `json:"kind"`
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Payload         []byte    `json:"payload"`
	ServerUpdatedAt time.Time `json:"server_updated_at"`
}

// Reference data kinds
const (
	ReferenceChecklist = "checklist"
	ReferenceTemplate  = "template"
)

// ValidSeverities returns all defect severities, most severe last
func ValidSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// IsValidSeverity checks if a severity is valid
func IsValidSeverity(s Severity) bool {
	for _, v := range ValidSeverities() {
		if v == s {
			return true
		}
	}
	return false
}

// ValidConditions returns all element conditions
func ValidConditions() []Condition {
	return []Condition{ConditionGood, ConditionFair, ConditionPoor, ConditionFailed}
}

// IsValidCondition checks if a condition is valid
func IsValidCondition(c Condition) bool {
	for _, v := range ValidConditions() {
		if v == c {
			return true
		}
	}
	return false
}

// IsValidReportStatus checks if a report status is valid
func IsValidReportStatus(s ReportStatus) bool {
	switch s {
	case ReportDraft, ReportInProgress, ReportSubmitted, ReportFinalised:
		return true
	}
	return false
}

// IsValidSyncStatus checks if a sync status is valid
func IsValidSyncStatus(s SyncStatus) bool {
	switch s {
	case SyncSynced, SyncPending, SyncConflict, SyncError:
		return true
	}
	return false
}
