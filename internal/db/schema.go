package db

// SchemaVersion is the current database schema version
const SchemaVersion = 3

const schema = `
-- Reports: root aggregate
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    client_name TEXT NOT NULL,
    site_address TEXT NOT NULL,
    inspector_name TEXT DEFAULT '',
    inspection_date TEXT,
    roof_type TEXT DEFAULT '',
    weather TEXT DEFAULT '',
    notes TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft',
    local_created_at TEXT NOT NULL,
    local_updated_at TEXT NOT NULL,
    server_updated_at TEXT,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    sync_error TEXT,
    deleted INTEGER NOT NULL DEFAULT 0,
    field_stamps TEXT
);

CREATE TABLE IF NOT EXISTS roof_elements (
    id TEXT PRIMARY KEY,
    report_id TEXT NOT NULL,
    name TEXT NOT NULL,
    element_type TEXT DEFAULT '',
    material TEXT DEFAULT '',
    condition TEXT DEFAULT '',
    location TEXT DEFAULT '',
    notes TEXT DEFAULT '',
    local_created_at TEXT NOT NULL,
    local_updated_at TEXT NOT NULL,
    server_updated_at TEXT,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    sync_error TEXT,
    deleted INTEGER NOT NULL DEFAULT 0,
    field_stamps TEXT
);

CREATE TABLE IF NOT EXISTS defects (
    id TEXT PRIMARY KEY,
    report_id TEXT NOT NULL,
    element_id TEXT,
    defect_number INTEGER NOT NULL,
    title TEXT NOT NULL,
    description TEXT DEFAULT '',
    severity TEXT NOT NULL,
    location TEXT DEFAULT '',
    recommendation TEXT DEFAULT '',
    local_created_at TEXT NOT NULL,
    local_updated_at TEXT NOT NULL,
    server_updated_at TEXT,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    sync_error TEXT,
    deleted INTEGER NOT NULL DEFAULT 0,
    field_stamps TEXT
);

CREATE TABLE IF NOT EXISTS photos (
    id TEXT PRIMARY KEY,
    report_id TEXT NOT NULL,
    defect_id TEXT,
    element_id TEXT,
    edited_from TEXT,
    caption TEXT DEFAULT '',
    file_name TEXT DEFAULT '',
    content_type TEXT DEFAULT '',
    size INTEGER DEFAULT 0,
    width INTEGER DEFAULT 0,
    height INTEGER DEFAULT 0,
    original_hash TEXT NOT NULL,
    payload BLOB,
    thumbnail BLOB,
    upload_status TEXT NOT NULL DEFAULT 'pending',
    upload_error TEXT,
    storage_url TEXT,
    local_created_at TEXT NOT NULL,
    local_updated_at TEXT NOT NULL,
    server_updated_at TEXT,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    sync_error TEXT,
    deleted INTEGER NOT NULL DEFAULT 0,
    field_stamps TEXT
);

CREATE TABLE IF NOT EXISTS compliance_assessments (
    id TEXT PRIMARY KEY,
    report_id TEXT NOT NULL UNIQUE,
    checklist_id TEXT,
    results TEXT NOT NULL DEFAULT '{}',
    local_created_at TEXT NOT NULL,
    local_updated_at TEXT NOT NULL,
    server_updated_at TEXT,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    sync_error TEXT,
    deleted INTEGER NOT NULL DEFAULT 0,
    field_stamps TEXT
);

-- Durable outbox of local changes awaiting upload
CREATE TABLE IF NOT EXISTS sync_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    action TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    report_id TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    priority INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reference_data (
    kind TEXT NOT NULL,
    id TEXT NOT NULL,
    name TEXT DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}',
    server_updated_at TEXT,
    PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS sync_conflicts (
    report_id TEXT PRIMARY KEY,
    local_data TEXT NOT NULL,
    remote_data TEXT NOT NULL,
    server_updated_at TEXT NOT NULL,
    detected_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_sync_status ON reports(sync_status);
CREATE INDEX IF NOT EXISTS idx_reports_local_updated ON reports(local_updated_at);
CREATE INDEX IF NOT EXISTS idx_elements_report ON roof_elements(report_id);
CREATE INDEX IF NOT EXISTS idx_elements_sync_status ON roof_elements(sync_status);
CREATE INDEX IF NOT EXISTS idx_elements_local_updated ON roof_elements(local_updated_at);
CREATE INDEX IF NOT EXISTS idx_defects_report ON defects(report_id);
CREATE INDEX IF NOT EXISTS idx_defects_sync_status ON defects(sync_status);
CREATE INDEX IF NOT EXISTS idx_defects_local_updated ON defects(local_updated_at);
CREATE INDEX IF NOT EXISTS idx_photos_report ON photos(report_id);
CREATE INDEX IF NOT EXISTS idx_photos_sync_status ON photos(sync_status);
CREATE INDEX IF NOT EXISTS idx_photos_local_updated ON photos(local_updated_at);
CREATE INDEX IF NOT EXISTS idx_compliance_sync_status ON compliance_assessments(sync_status);
CREATE INDEX IF NOT EXISTS idx_compliance_local_updated ON compliance_assessments(local_updated_at);
CREATE INDEX IF NOT EXISTS idx_sync_queue_order ON sync_queue(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_sync_queue_report ON sync_queue(report_id);
CREATE INDEX IF NOT EXISTS idx_photos_upload_status ON photos(upload_status);
`

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add sync_conflicts table for unresolved divergences",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_conflicts (
    report_id TEXT PRIMARY KEY,
    local_data TEXT NOT NULL,
    remote_data TEXT NOT NULL,
    server_updated_at TEXT NOT NULL,
    detected_at TEXT NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "Index photos by upload status",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_photos_upload_status ON photos(upload_status);`,
	},
}
