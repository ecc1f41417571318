// Package approval is the human action surface: every approve, reject,
// edit, and snooze lands here, as one Approval record plus exactly one
// drift state transition.
package approval

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/db"
)

// Action is what the human did.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
	ActionSnooze  Action = "snooze"
)

// Approval is one recorded human decision.
type Approval struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	ProposalID  string     `json:"proposal_id"`
	DriftID     string     `json:"drift_id"`
	ActorID     string     `json:"actor_id"`
	Action      Action     `json:"action"`
	Category    string     `json:"category,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	EditedDiff  string     `json:"edited_diff,omitempty"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Store persists approvals.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// Create records an approval.
func (s *Store) Create(a *Approval) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var snoozeUntil any
	if a.SnoozeUntil != nil {
		snoozeUntil = a.SnoozeUntil.UTC().Format(time.DateTime)
	}
	_, err := s.db.Exec(`
		INSERT INTO approvals (id, workspace_id, proposal_id, drift_id, actor_id, action, category, reason, edited_diff, snooze_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.ProposalID, a.DriftID, a.ActorID,
		string(a.Action), a.Category, a.Reason, a.EditedDiff, snoozeUntil)
	if err != nil {
		return fmt.Errorf("recording approval: %w", err)
	}
	return nil
}

// ListForDrift returns all recorded decisions for a drift, oldest
// first.
func (s *Store) ListForDrift(workspaceID, driftID string) ([]Approval, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, proposal_id, drift_id, actor_id, action, category, reason, edited_diff, snooze_until, created_at
		FROM approvals WHERE workspace_id = ? AND drift_id = ? ORDER BY created_at`,
		workspaceID, driftID)
	if err != nil {
		return nil, fmt.Errorf("listing approvals for drift %s: %w", driftID, err)
	}
	defer rows.Close()

	var approvals []Approval
	for rows.Next() {
		var a Approval
		var action, createdAt string
		var snoozeUntil sql.NullString
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.ProposalID, &a.DriftID, &a.ActorID,
			&action, &a.Category, &a.Reason, &a.EditedDiff, &snoozeUntil, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning approval: %w", err)
		}
		a.Action = Action(action)
		if snoozeUntil.Valid {
			t := db.ParseTime(snoozeUntil.String)
			a.SnoozeUntil = &t
		}
		a.CreatedAt = db.ParseTime(createdAt)
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}
