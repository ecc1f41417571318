// Package docresolve picks the authoritative document for a drift
// candidate. Explicit workspace mappings win, then a doc link in the
// PR body, then embedding search, in that order.
package docresolve

import (
	"time"

	"github.com/driftwatch/driftwatch/internal/drift"
)

// Resolution methods, recorded on the candidate for debugging.
const (
	MethodExplicitMapping = "explicit_mapping"
	MethodPRLink          = "pr_link"
	MethodSearch          = "search"
)

// Mapping is a workspace-configured rule tying a service or repo to a
// document, or opting a scope out entirely.
type Mapping struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	Service      string    `json:"service,omitempty"`
	Repo         string    `json:"repo,omitempty"`
	ScopePattern string    `json:"scope_pattern,omitempty"`
	DocSystem    string    `json:"doc_system,omitempty"`
	DocID        string    `json:"doc_id,omitempty"`
	Ignored      bool      `json:"ignored"`
	AllowPRLink  bool      `json:"allow_pr_link"`
	AllowSearch  bool      `json:"allow_search"`
	CreatedAt    time.Time `json:"created_at"`
}

// Resolution is the full flight-recorder outcome of a resolve pass:
// every candidate considered with its reason, plus the selection.
type Resolution struct {
	Status     drift.ResolutionStatus `json:"status"`
	Method     string                 `json:"method,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	Candidates []drift.DocCandidate   `json:"candidates"`
	DocSystem  string                 `json:"doc_system,omitempty"`
	DocID      string                 `json:"doc_id,omitempty"`
}

// Apply copies the resolution onto the candidate: the flight recorder
// verbatim plus the denormalized selected-document projection.
func (r *Resolution) Apply(c *drift.Candidate) {
	c.DocCandidates = r.Candidates
	c.ResolutionStatus = r.Status
	c.ResolutionMethod = r.Method
	c.DocSystem = r.DocSystem
	c.DocID = r.DocID
}
