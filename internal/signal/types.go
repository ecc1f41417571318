package signal

import "time"

// Source identifies the system a signal came from.
type Source string

const (
	SourceGitHub    Source = "github"
	SourcePagerDuty Source = "pagerduty"
	SourceDatadog   Source = "datadog"
	SourceChat      Source = "chat"
	SourceManual    Source = "manual"
)

// Kind is the normalized signal type.
type Kind string

const (
	KindPRMerged Kind = "pr_merged"
	KindPROpened Kind = "pr_opened"
	KindIncident Kind = "incident"
	KindAlert    Kind = "alert"
	KindChat     Kind = "chat_message"
)

// Event is a normalized external signal: a merged PR, an incident, an
// alert, or a chat message that may evidence documentation drift.
type Event struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Source      Source    `json:"source"`
	Kind        Kind      `json:"type"`
	Service     string    `json:"service"`
	Repo        string    `json:"repo"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Payload     string    `json:"payload"` // raw provider payload, JSON
	Merged      bool      `json:"merged"`
	OccurredAt  time.Time `json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}
