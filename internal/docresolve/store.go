package docresolve

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/db"
)

// ErrNotFound is returned when a mapping does not exist.
var ErrNotFound = fmt.Errorf("doc mapping not found")

// Store persists document mappings and needs-mapping notices.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// CreateMapping inserts a new mapping. Missing IDs are generated.
func (s *Store) CreateMapping(m *Mapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO doc_mappings (id, workspace_id, service, repo, scope_pattern, doc_system, doc_id, ignored, allow_pr_link, allow_search)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.WorkspaceID, m.Service, m.Repo, m.ScopePattern, m.DocSystem, m.DocID,
		boolToInt(m.Ignored), boolToInt(m.AllowPRLink), boolToInt(m.AllowSearch))
	if err != nil {
		return fmt.Errorf("creating doc mapping: %w", err)
	}
	return nil
}

// UpdateMapping replaces a mapping's mutable fields.
func (s *Store) UpdateMapping(m *Mapping) error {
	res, err := s.db.Exec(`
		UPDATE doc_mappings
		SET service = ?, repo = ?, scope_pattern = ?, doc_system = ?, doc_id = ?, ignored = ?, allow_pr_link = ?, allow_search = ?
		WHERE workspace_id = ? AND id = ?`,
		m.Service, m.Repo, m.ScopePattern, m.DocSystem, m.DocID,
		boolToInt(m.Ignored), boolToInt(m.AllowPRLink), boolToInt(m.AllowSearch),
		m.WorkspaceID, m.ID)
	if err != nil {
		return fmt.Errorf("updating doc mapping %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMapping removes a mapping.
func (s *Store) DeleteMapping(workspaceID, id string) error {
	res, err := s.db.Exec(`DELETE FROM doc_mappings WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	if err != nil {
		return fmt.Errorf("deleting doc mapping %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMapping fetches one mapping by ID.
func (s *Store) GetMapping(workspaceID, id string) (*Mapping, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, service, repo, scope_pattern, doc_system, doc_id, ignored, allow_pr_link, allow_search, created_at
		FROM doc_mappings WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	m, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting doc mapping %s: %w", id, err)
	}
	return m, nil
}

// ListMappings returns all mappings for a workspace.
func (s *Store) ListMappings(workspaceID string) ([]*Mapping, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, service, repo, scope_pattern, doc_system, doc_id, ignored, allow_pr_link, allow_search, created_at
		FROM doc_mappings WHERE workspace_id = ? ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing doc mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning doc mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// MappingsForScope returns mappings matching the drift's service or
// repo, most specific first: repo matches ahead of service matches.
func (s *Store) MappingsForScope(workspaceID, service, repo string) ([]*Mapping, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, service, repo, scope_pattern, doc_system, doc_id, ignored, allow_pr_link, allow_search, created_at
		FROM doc_mappings
		WHERE workspace_id = ? AND (repo = ? OR service = ? OR scope_pattern != '')
		ORDER BY CASE WHEN repo = ? THEN 0 WHEN service = ? THEN 1 ELSE 2 END, created_at`,
		workspaceID, repo, service, repo, service)
	if err != nil {
		return nil, fmt.Errorf("querying doc mappings for %s/%s: %w", service, repo, err)
	}
	defer rows.Close()

	var mappings []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning doc mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// NoticeDue reports whether a needs_mapping notification should go out
// for the given repo: true unless one was sent within the window.
func (s *Store) NoticeDue(workspaceID, repo string, window time.Duration) (bool, error) {
	var notifiedAt string
	err := s.db.QueryRow(`
		SELECT notified_at FROM mapping_notices WHERE workspace_id = ? AND repo = ?`,
		workspaceID, repo).Scan(&notifiedAt)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking mapping notice for %s: %w", repo, err)
	}
	t := db.ParseTime(notifiedAt)
	if t.IsZero() {
		return false, fmt.Errorf("parsing notice time %q", notifiedAt)
	}
	return time.Now().UTC().Sub(t) >= window, nil
}

// MarkNoticed records that a needs_mapping notification went out now.
func (s *Store) MarkNoticed(workspaceID, repo string) error {
	_, err := s.db.Exec(`
		INSERT INTO mapping_notices (workspace_id, repo, notified_at) VALUES (?, ?, ?)
		ON CONFLICT(workspace_id, repo) DO UPDATE SET notified_at = excluded.notified_at`,
		workspaceID, repo, time.Now().UTC().Format(time.DateTime))
	if err != nil {
		return fmt.Errorf("recording mapping notice for %s: %w", repo, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(row scanner) (*Mapping, error) {
	var m Mapping
	var ignored, allowPRLink, allowSearch int
	var createdAt string
	err := row.Scan(&m.ID, &m.WorkspaceID, &m.Service, &m.Repo, &m.ScopePattern,
		&m.DocSystem, &m.DocID, &ignored, &allowPRLink, &allowSearch, &createdAt)
	if err != nil {
		return nil, err
	}
	m.Ignored = ignored != 0
	m.AllowPRLink = allowPRLink != 0
	m.AllowSearch = allowSearch != 0
	m.CreatedAt = db.ParseTime(createdAt)
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
