package patch

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/db"
)

// ErrNotFound is returned when a proposal does not exist.
var ErrNotFound = fmt.Errorf("patch proposal not found")

// Store persists patch proposals.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// CreateForDrift inserts a proposal for the drift, unless a pending one
// already exists, in which case the existing proposal is returned. This
// keeps re-run generation stages from stacking duplicate proposals.
func (s *Store) CreateForDrift(p *Proposal) (*Proposal, error) {
	existing, err := s.PendingForDrift(p.WorkspaceID, p.DriftID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	_, err = s.db.Exec(`
		INSERT INTO patch_proposals (id, workspace_id, drift_id, doc_system, doc_id, patch_style, unified_diff, confidence, status, base_revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.DriftID, p.DocSystem, p.DocID, p.PatchStyle,
		p.UnifiedDiff, p.Confidence, string(p.Status), p.BaseRevision)
	if err != nil {
		return nil, fmt.Errorf("creating patch proposal: %w", err)
	}
	return p, nil
}

// Get fetches one proposal by ID.
func (s *Store) Get(workspaceID, id string) (*Proposal, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, drift_id, doc_system, doc_id, patch_style, unified_diff, confidence, status, base_revision, created_at, updated_at
		FROM patch_proposals WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting patch proposal %s: %w", id, err)
	}
	return p, nil
}

// PendingForDrift returns the drift's pending proposal, or nil.
func (s *Store) PendingForDrift(workspaceID, driftID string) (*Proposal, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, drift_id, doc_system, doc_id, patch_style, unified_diff, confidence, status, base_revision, created_at, updated_at
		FROM patch_proposals
		WHERE workspace_id = ? AND drift_id = ? AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1`, workspaceID, driftID)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding pending proposal for drift %s: %w", driftID, err)
	}
	return p, nil
}

// LatestForDrift returns the drift's most recent proposal regardless of
// status, or nil.
func (s *Store) LatestForDrift(workspaceID, driftID string) (*Proposal, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, drift_id, doc_system, doc_id, patch_style, unified_diff, confidence, status, base_revision, created_at, updated_at
		FROM patch_proposals
		WHERE workspace_id = ? AND drift_id = ?
		ORDER BY created_at DESC LIMIT 1`, workspaceID, driftID)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest proposal for drift %s: %w", driftID, err)
	}
	return p, nil
}

// SetStatus moves a proposal to a new review status.
func (s *Store) SetStatus(workspaceID, id string, status Status) error {
	res, err := s.db.Exec(`
		UPDATE patch_proposals SET status = ?, updated_at = datetime('now')
		WHERE workspace_id = ? AND id = ?`, string(status), workspaceID, id)
	if err != nil {
		return fmt.Errorf("updating proposal %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceDiff swaps in a human-edited diff and marks the proposal
// edited.
func (s *Store) ReplaceDiff(workspaceID, id, newDiff string) error {
	res, err := s.db.Exec(`
		UPDATE patch_proposals SET unified_diff = ?, status = 'edited', updated_at = datetime('now')
		WHERE workspace_id = ? AND id = ?`, newDiff, workspaceID, id)
	if err != nil {
		return fmt.Errorf("replacing diff on proposal %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(row scanner) (*Proposal, error) {
	var p Proposal
	var status, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.WorkspaceID, &p.DriftID, &p.DocSystem, &p.DocID,
		&p.PatchStyle, &p.UnifiedDiff, &p.Confidence, &status, &p.BaseRevision,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	p.CreatedAt = db.ParseTime(createdAt)
	p.UpdatedAt = db.ParseTime(updatedAt)
	return &p, nil
}
