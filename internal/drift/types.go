package drift

import "time"

// Type classifies what kind of documentation drift was detected.
type Type string

const (
	TypeInstruction        Type = "instruction"
	TypeProcess            Type = "process"
	TypeOwnership          Type = "ownership"
	TypeCoverage           Type = "coverage"
	TypeEnvironmentTooling Type = "environment_tooling"
)

// Domain is an impact domain a drift touches.
type Domain string

const (
	DomainRollback        Domain = "rollback"
	DomainAuth            Domain = "auth"
	DomainDataMigration   Domain = "data_migration"
	DomainDeployment      Domain = "deployment"
	DomainInfra           Domain = "infra"
	DomainConfig          Domain = "config"
	DomainAPI             Domain = "api"
	DomainObservability   Domain = "observability"
	DomainOnboarding      Domain = "onboarding"
	DomainOwnershipRouting Domain = "ownership_routing"
)

// RiskLevel buckets a drift by blast radius.
type RiskLevel string

const (
	RiskStandard RiskLevel = "standard"
	RiskElevated RiskLevel = "elevated"
)

// ResolutionStatus is the outcome of document resolution.
type ResolutionStatus string

const (
	ResolutionResolved     ResolutionStatus = "resolved"
	ResolutionNeedsMapping ResolutionStatus = "needs_mapping"
	ResolutionIgnored      ResolutionStatus = "ignored"
)

// Failure codes surfaced to callers.
const (
	CodeNeedsDocMapping       = "NEEDS_DOC_MAPPING"
	CodePatchValidationFailed = "PATCH_VALIDATION_FAILED"
	CodeDocConflict           = "DOC_CONFLICT"
	CodeWritebackFailed       = "WRITEBACK_FAILED"
	CodeSlackPostDenied       = "SLACK_POST_DENIED"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
)

// DocCandidate is one candidate document considered during resolution,
// kept with its match reason as a flight recorder for debugging.
type DocCandidate struct {
	DocSystem   string  `json:"doc_system"`
	DocID       string  `json:"doc_id"`
	MatchReason string  `json:"match_reason"`
	Confidence  float64 `json:"confidence"`
}

// OwnerResolution records who is responsible for the drifted document.
type OwnerResolution struct {
	Primary  string `json:"primary"`
	Fallback string `json:"fallback,omitempty"`
	Source   string `json:"source"`
	Channel  string `json:"channel,omitempty"`
}

// Candidate is the central drift entity driven through the lifecycle.
type Candidate struct {
	WorkspaceID   string `json:"workspace_id"`
	ID            string `json:"id"`
	SignalEventID string `json:"signal_event_id"`
	Service       string `json:"service"`
	Repo          string `json:"repo"`

	DriftType    Type      `json:"drift_type"`
	DriftDomains []Domain  `json:"drift_domains"`
	Confidence   float64   `json:"confidence"`
	ImpactScore  float64   `json:"impact_score"`
	DriftScore   float64   `json:"drift_score"`
	RiskLevel    RiskLevel `json:"risk_level"`

	// Fingerprint is set exactly once, after classification and before
	// doc resolution, and is immutable thereafter.
	Fingerprint string `json:"fingerprint,omitempty"`

	EvidenceSummary string `json:"evidence_summary"`

	DocCandidates    []DocCandidate   `json:"doc_candidates"`
	ResolutionStatus ResolutionStatus `json:"docs_resolution_status,omitempty"`
	ResolutionMethod string           `json:"resolution_method,omitempty"`
	DocSystem        string           `json:"selected_doc_system,omitempty"`
	DocID            string           `json:"selected_doc_id,omitempty"`

	Owner OwnerResolution `json:"owner_resolution"`

	// Findings is the append-only working memory: one typed snapshot per
	// completed pipeline stage, so later stages never re-fetch.
	Findings []Finding `json:"findings"`

	State          State      `json:"state"`
	StateUpdatedAt time.Time  `json:"state_updated_at"`
	FailureCode    string     `json:"failure_code,omitempty"`
	FailureMessage string     `json:"failure_message,omitempty"`
	SnoozeUntil    *time.Time `json:"snooze_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetState moves the candidate to a new state and stamps the change.
func (c *Candidate) SetState(s State) {
	c.State = s
	c.StateUpdatedAt = time.Now().UTC()
}

// Fail moves the candidate to a failure state with a structured code.
func (c *Candidate) Fail(state State, code, message string) {
	c.FailureCode = code
	c.FailureMessage = message
	c.SetState(state)
}

// HasDomain reports whether the drift touches the given impact domain.
func (c *Candidate) HasDomain(d Domain) bool {
	for _, have := range c.DriftDomains {
		if have == d {
			return true
		}
	}
	return false
}
