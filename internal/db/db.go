package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB with driftwatch-specific helpers.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// FormatTime renders a timestamp the way DATETIME columns store it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.DateTime)
}

// ParseTime reads a DATETIME column value. The driver hands back either
// the stored "2006-01-02 15:04:05" form or RFC 3339, depending on how
// the value was written, so both are accepted. Unparseable input yields
// the zero time.
func ParseTime(s string) time.Time {
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// schema contains the full database schema. New tables are added here.
const schema = `
CREATE TABLE IF NOT EXISTS signal_events (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    source TEXT NOT NULL CHECK(source IN ('github','pagerduty','datadog','chat','manual')),
    type TEXT NOT NULL,
    service TEXT NOT NULL DEFAULT '',
    repo TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}',
    merged INTEGER NOT NULL DEFAULT 0,
    occurred_at DATETIME NOT NULL DEFAULT (datetime('now')),
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_signals_workspace ON signal_events(workspace_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_signals_service ON signal_events(workspace_id, service);

CREATE TABLE IF NOT EXISTS drift_candidates (
    workspace_id TEXT NOT NULL,
    id TEXT NOT NULL,
    signal_event_id TEXT NOT NULL DEFAULT '',
    service TEXT NOT NULL DEFAULT '',
    repo TEXT NOT NULL DEFAULT '',
    drift_type TEXT NOT NULL DEFAULT '',
    drift_domains TEXT NOT NULL DEFAULT '[]',
    confidence REAL NOT NULL DEFAULT 0,
    impact_score REAL NOT NULL DEFAULT 0,
    drift_score REAL NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL DEFAULT 'standard',
    fingerprint TEXT,
    evidence_summary TEXT NOT NULL DEFAULT '',
    doc_candidates TEXT NOT NULL DEFAULT '[]',
    docs_resolution_status TEXT NOT NULL DEFAULT '',
    resolution_method TEXT NOT NULL DEFAULT '',
    selected_doc_system TEXT NOT NULL DEFAULT '',
    selected_doc_id TEXT NOT NULL DEFAULT '',
    owner_primary TEXT NOT NULL DEFAULT '',
    owner_fallback TEXT NOT NULL DEFAULT '',
    owner_source TEXT NOT NULL DEFAULT '',
    owner_channel TEXT NOT NULL DEFAULT '',
    findings TEXT NOT NULL DEFAULT '[]',
    state TEXT NOT NULL DEFAULT 'INGESTED',
    state_updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    failure_code TEXT NOT NULL DEFAULT '',
    failure_message TEXT NOT NULL DEFAULT '',
    snooze_until DATETIME,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY(workspace_id, id)
);

CREATE INDEX IF NOT EXISTS idx_drifts_state ON drift_candidates(workspace_id, state);
CREATE INDEX IF NOT EXISTS idx_drifts_fingerprint ON drift_candidates(workspace_id, fingerprint);
CREATE INDEX IF NOT EXISTS idx_drifts_snooze ON drift_candidates(state, snooze_until);

CREATE TABLE IF NOT EXISTS patch_proposals (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    drift_id TEXT NOT NULL,
    doc_system TEXT NOT NULL DEFAULT '',
    doc_id TEXT NOT NULL DEFAULT '',
    patch_style TEXT NOT NULL DEFAULT '',
    unified_diff TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','approved','rejected','edited','snoozed')),
    base_revision TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_proposals_drift ON patch_proposals(workspace_id, drift_id, created_at);

CREATE TABLE IF NOT EXISTS approvals (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    proposal_id TEXT NOT NULL,
    drift_id TEXT NOT NULL DEFAULT '',
    actor_id TEXT NOT NULL,
    action TEXT NOT NULL CHECK(action IN ('approve','reject','edit','snooze')),
    category TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    edited_diff TEXT NOT NULL DEFAULT '',
    snooze_until DATETIME,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_approvals_proposal ON approvals(workspace_id, proposal_id);

CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL DEFAULT '',
    timestamp DATETIME NOT NULL DEFAULT (datetime('now')),
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL,
    actor_type TEXT NOT NULL CHECK(actor_type IN ('user','system','bot')),
    actor_id TEXT NOT NULL DEFAULT '',
    from_state TEXT NOT NULL DEFAULT '',
    to_state TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    requires_retention INTEGER NOT NULL DEFAULT 0,
    compliance_tag TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor_id);

CREATE TABLE IF NOT EXISTS drift_windows (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    doc_system TEXT NOT NULL DEFAULT '',
    doc_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'accumulating' CHECK(status IN ('accumulating','bundled','expired')),
    drift_ids TEXT NOT NULL DEFAULT '[]',
    total_materiality REAL NOT NULL DEFAULT 0,
    opened_at DATETIME NOT NULL DEFAULT (datetime('now')),
    expires_at DATETIME NOT NULL,
    bundled_drift_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_windows_doc ON drift_windows(workspace_id, doc_id, status);

CREATE TABLE IF NOT EXISTS mapping_notices (
    workspace_id TEXT NOT NULL,
    repo TEXT NOT NULL,
    notified_at DATETIME NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY(workspace_id, repo)
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    drift_id TEXT NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','running','done','failed')),
    visible_at DATETIME NOT NULL DEFAULT (datetime('now')),
    last_error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs(status, visible_at);
CREATE INDEX IF NOT EXISTS idx_jobs_drift ON jobs(workspace_id, drift_id);

CREATE TABLE IF NOT EXISTS locks (
    key TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS doc_mappings (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    service TEXT NOT NULL DEFAULT '',
    repo TEXT NOT NULL DEFAULT '',
    scope_pattern TEXT NOT NULL DEFAULT '',
    doc_system TEXT NOT NULL DEFAULT '',
    doc_id TEXT NOT NULL DEFAULT '',
    ignored INTEGER NOT NULL DEFAULT 0,
    allow_pr_link INTEGER NOT NULL DEFAULT 1,
    allow_search INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_doc_mappings_scope ON doc_mappings(workspace_id, service, repo);

CREATE TABLE IF NOT EXISTS owner_mappings (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    service TEXT NOT NULL DEFAULT '',
    owner TEXT NOT NULL,
    fallback_owner TEXT NOT NULL DEFAULT '',
    slack_channel TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT 'explicit',
    UNIQUE(workspace_id, service, source)
);

CREATE TABLE IF NOT EXISTS digest_items (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    drift_id TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL,
    flushed INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_digest_pending ON digest_items(workspace_id, channel, flushed);
`
