// Package output provides styled terminal output helpers (success, error,
// warning, report formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/marcus/roofsync/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	syncStyles   = map[models.SyncStatus]lipgloss.Style{
		models.SyncPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.SyncSynced:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncConflict: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncError:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

var severityStyles = map[models.Severity]lipgloss.Style{
	models.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	models.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	models.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	models.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
}

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound       = "not_found"
	ErrCodeInvalidInput   = "invalid_input"
	ErrCodeConflict       = "conflict"
	ErrCodeDatabaseError  = "database_error"
	ErrCodeNetwork        = "network_unavailable"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeSyncInProgress = "sync_in_progress"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	result := map[string]interface{}{
		"error": errObj,
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// FormatSyncStatus formats a sync status with color
func FormatSyncStatus(s models.SyncStatus) string {
	style, ok := syncStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatSeverity formats a defect severity with color
func FormatSeverity(s models.Severity) string {
	style, ok := severityStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(strings.ToUpper(string(s)))
}

// ShortID shortens an identity to its first 8 characters
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatReportShort formats a report on one line
func FormatReportShort(r *models.Report) string {
	parts := []string{
		titleStyle.Render(ShortID(r.ID)),
		r.ClientName,
		subtleStyle.Render(r.SiteAddress),
		subtleStyle.Render(string(r.Status)),
	}
	if r.Deleted {
		parts = append(parts, errorStyle.Render("[deleted]"))
	} else {
		parts = append(parts, FormatSyncStatus(r.SyncStatus))
	}
	return strings.Join(parts, "  ")
}

// FormatReportLong formats a report with its children
func FormatReportLong(agg *models.ReportAggregate) string {
	var sb strings.Builder
	r := &agg.Report

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", r.ID, r.ClientName)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Site: %s\n", r.SiteAddress))
	sb.WriteString(fmt.Sprintf("Status: %s | Sync: %s\n", r.Status, FormatSyncStatus(r.SyncStatus)))
	if r.InspectorName != "" {
		sb.WriteString(fmt.Sprintf("Inspector: %s\n", r.InspectorName))
	}
	if !r.InspectionDate.IsZero() {
		sb.WriteString(fmt.Sprintf("Inspected: %s\n", r.InspectionDate.Format("2006-01-02")))
	}
	if r.RoofType != "" || r.Weather != "" {
		sb.WriteString(fmt.Sprintf("Roof: %s | Weather: %s\n", r.RoofType, r.Weather))
	}
	if r.SyncError != "" {
		sb.WriteString(errorStyle.Render("Sync error: "+r.SyncError) + "\n")
	}
	sb.WriteString(subtleStyle.Render(fmt.Sprintf("Updated %s", FormatTimeAgo(r.LocalUpdatedAt))))
	sb.WriteString("\n")

	if live := liveElements(agg.Elements); len(live) > 0 {
		sb.WriteString(SectionHeader("Elements"))
		for i := range live {
			sb.WriteString("  " + FormatElementShort(&live[i]) + "\n")
		}
	}
	if live := liveDefects(agg.Defects); len(live) > 0 {
		sb.WriteString(SectionHeader("Defects"))
		for i := range live {
			sb.WriteString("  " + FormatDefectShort(&live[i]) + "\n")
		}
	}
	if c := agg.Compliance; c != nil && !c.Deleted && len(c.Results) > 0 {
		sb.WriteString(SectionHeader("Compliance"))
		sb.WriteString(strings.Join(FormatCompliance(c), "\n"))
		sb.WriteString("\n")
	}
	var photos int
	for _, p := range agg.Photos {
		if !p.Deleted {
			photos++
		}
	}
	if photos > 0 {
		sb.WriteString(SectionHeader("Photos"))
		for i := range agg.Photos {
			if !agg.Photos[i].Deleted {
				sb.WriteString("  " + FormatPhotoShort(&agg.Photos[i]) + "\n")
			}
		}
	}
	return sb.String()
}

func liveElements(in []models.RoofElement) []models.RoofElement {
	var out []models.RoofElement
	for _, e := range in {
		if !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}

func liveDefects(in []models.Defect) []models.Defect {
	var out []models.Defect
	for _, d := range in {
		if !d.Deleted {
			out = append(out, d)
		}
	}
	return out
}

// FormatElementShort formats a roof element on one line
func FormatElementShort(e *models.RoofElement) string {
	parts := []string{titleStyle.Render(ShortID(e.ID)), e.Name}
	if e.Material != "" {
		parts = append(parts, subtleStyle.Render(e.Material))
	}
	if e.Condition != "" {
		parts = append(parts, fmt.Sprintf("(%s)", e.Condition))
	}
	parts = append(parts, FormatSyncStatus(e.SyncStatus))
	return strings.Join(parts, "  ")
}

// FormatDefectShort formats a defect on one line
func FormatDefectShort(d *models.Defect) string {
	parts := []string{
		titleStyle.Render(fmt.Sprintf("#%d", d.DefectNumber)),
		FormatSeverity(d.Severity),
		d.Title,
	}
	if d.Location != "" {
		parts = append(parts, subtleStyle.Render("@ "+d.Location))
	}
	parts = append(parts, FormatSyncStatus(d.SyncStatus))
	return strings.Join(parts, "  ")
}

// FormatPhotoShort formats a photo on one line
func FormatPhotoShort(p *models.Photo) string {
	parts := []string{titleStyle.Render(ShortID(p.ID))}
	name := p.FileName
	if name == "" {
		name = "(unnamed)"
	}
	parts = append(parts, name)
	if p.Caption != "" {
		parts = append(parts, fmt.Sprintf("%q", p.Caption))
	}
	parts = append(parts, subtleStyle.Render(FormatBytes(p.Size)))
	if p.EditedFrom != "" {
		parts = append(parts, subtleStyle.Render("edited from "+ShortID(p.EditedFrom)))
	}
	switch p.UploadStatus {
	case models.UploadUploaded:
		parts = append(parts, successStyle.Render("uploaded"))
	case models.UploadError:
		parts = append(parts, errorStyle.Render("upload failed: "+clip(p.UploadError, errorTextWidth)))
	default:
		parts = append(parts, warningStyle.Render("awaiting upload"))
	}
	return strings.Join(parts, "  ")
}

// FormatCompliance lists checklist answers sorted by item id
func FormatCompliance(c *models.ComplianceAssessment) []string {
	ids := make([]string, 0, len(c.Results))
	for id := range c.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		item := c.Results[id]
		line := fmt.Sprintf("  %-20s %s", id, item.Result)
		if item.Note != "" {
			line += subtleStyle.Render("  " + item.Note)
		}
		lines = append(lines, line)
	}
	return lines
}

// FormatQueueItem formats one outbound queue entry
func FormatQueueItem(q *models.QueueItem) string {
	line := fmt.Sprintf("%4d  p%d  %-10s %-7s %s  report %s", q.ID, q.Priority, q.EntityType, q.Action,
		ShortID(q.EntityID), ShortID(q.ReportID))
	if q.RetryCount > 0 {
		line += warningStyle.Render(fmt.Sprintf("  retries=%d", q.RetryCount))
	}
	if q.LastError != "" {
		line += errorStyle.Render("  " + clip(q.LastError, errorTextWidth))
	}
	return line
}

// long notes would otherwise swamp a conflict listing
const (
	conflictValueWidth = 60
	errorTextWidth     = 80
)

// FormatConflictInfo formats one divergent field
func FormatConflictInfo(c models.ConflictInfo) string {
	return fmt.Sprintf("%s %s.%s: local=%s server=%s", c.EntityType, ShortID(c.EntityID), c.Field,
		successStyle.Render(clip(fmt.Sprint(c.LocalValue), conflictValueWidth)),
		warningStyle.Render(clip(fmt.Sprint(c.ServerValue), conflictValueWidth)))
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// clip shortens s to width terminal cells, keeping any styling intact
func clip(s string, width int) string {
	return ansi.Truncate(s, width, "…")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// StatusBadge returns a sync status indicator with symbol
// e.g., "○ pending", "✓ synced", "⚡ conflict", "✗ error"
func StatusBadge(status models.SyncStatus) string {
	symbols := map[models.SyncStatus]string{
		models.SyncPending:  "○",
		models.SyncSynced:   "✓",
		models.SyncConflict: "⚡",
		models.SyncError:    "✗",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	if style, hasStyle := syncStyles[status]; hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nDEFECTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	indented := IndentLines(lines, spaces)
	return strings.Join(indented, "\n")
}
