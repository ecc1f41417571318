// Package patch turns a baseline comparison into a reviewed document
// change: plan the edit, generate a unified diff, and validate it
// before any human sees it.
package patch

import "time"

// Status tracks a proposal through human review.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusEdited   Status = "edited"
	StatusSnoozed  Status = "snoozed"
)

// Patch styles the planner can choose.
const (
	StyleTargetedEdit   = "targeted_edit"
	StyleSectionRewrite = "section_rewrite"
	StyleAppendSection  = "append_section"
	StyleOwnerUpdate    = "owner_update"
	StyleAttentionNote  = "attention_note"
)

// Proposal is one generated document patch awaiting review.
type Proposal struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	DriftID      string    `json:"drift_id"`
	DocSystem    string    `json:"doc_system"`
	DocID        string    `json:"doc_id"`
	PatchStyle   string    `json:"patch_style"`
	UnifiedDiff  string    `json:"unified_diff"`
	Confidence   float64   `json:"confidence"`
	Status       Status    `json:"status"`
	BaseRevision string    `json:"base_revision"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
