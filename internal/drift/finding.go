package drift

import "time"

// Stage tags a Finding with the pipeline stage that produced it.
type Stage string

const (
	StageSignalsCorrelated Stage = "signals_correlated"
	StageDocFetched        Stage = "doc_fetched"
	StageContextExtracted  Stage = "doc_context_extracted"
	StageBaselineCompared  Stage = "baseline_compared"
	StagePatchPlanned      Stage = "patch_planned"
)

// CorrelationFinding records what signal correlation contributed, so
// classification can consume it without re-querying the window.
type CorrelationFinding struct {
	Boost       float64  `json:"boost"`
	JoinReason  string   `json:"join_reason,omitempty"`
	SignalKinds []string `json:"signal_kinds,omitempty"`
}

// DocFetchedFinding is the snapshot taken when the document is fetched.
// Revision is compared again before writeback to detect conflicts.
type DocFetchedFinding struct {
	DocSystem string `json:"doc_system"`
	DocID     string `json:"doc_id"`
	Content   string `json:"content"`
	Revision  string `json:"revision"`
}

// EvidencePack holds the structured facts extracted from the triggering
// PR: the comparison input on the "reality" side.
type EvidencePack struct {
	Commands         []string `json:"commands,omitempty"`
	ConfigKeys       []string `json:"config_keys,omitempty"`
	Endpoints        []string `json:"endpoints,omitempty"`
	Steps            []string `json:"steps,omitempty"`
	ToolMentions     []string `json:"tool_mentions,omitempty"`
	ScenarioKeywords []string `json:"scenario_keywords,omitempty"`
	FilesAdded       []string `json:"files_added,omitempty"`
	FilesRemoved     []string `json:"files_removed,omitempty"`
	StatedOwner      string   `json:"stated_owner,omitempty"`
}

// Anchors holds the structured facts extracted from the document: the
// comparison target on the "documented" side.
type Anchors struct {
	Commands         []string `json:"commands,omitempty"`
	ConfigKeys       []string `json:"config_keys,omitempty"`
	Endpoints        []string `json:"endpoints,omitempty"`
	Steps            []string `json:"steps,omitempty"`
	ToolMentions     []string `json:"tool_mentions,omitempty"`
	CoverageKeywords []string `json:"coverage_keywords,omitempty"`
	StatedOwner      string   `json:"stated_owner,omitempty"`
}

// ContextFinding carries both sides of the comparison, extracted once so
// later stages never re-parse.
type ContextFinding struct {
	Evidence EvidencePack `json:"evidence"`
	Anchors  Anchors      `json:"anchors"`
}

// ComparisonDetails is the uniform drill-down every comparison strategy
// produces, so patch planning is type-agnostic.
type ComparisonDetails struct {
	PRArtifacts    []string `json:"pr_artifacts"`
	DocArtifacts   []string `json:"doc_artifacts"`
	Conflicts      []string `json:"conflicts"`
	Recommendation string   `json:"recommendation"`
}

// ComparisonResult is the uniform outcome of a baseline comparison.
type ComparisonResult struct {
	HasMatch   bool              `json:"has_match"`
	MatchCount int               `json:"match_count"`
	Evidence   []string          `json:"evidence"`
	Details    ComparisonDetails `json:"comparison_details"`
}

// PlanFinding records how the patch should be produced.
type PlanFinding struct {
	PatchStyle   string `json:"patch_style"`
	Instructions string `json:"instructions"`
	Fallback     bool   `json:"fallback"`
}

// Finding is one per-stage snapshot in the candidate's working memory.
// Exactly one of the stage payloads is non-nil, selected by Stage.
type Finding struct {
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`

	Correlation      *CorrelationFinding `json:"correlation,omitempty"`
	DocFetched       *DocFetchedFinding  `json:"doc_fetched,omitempty"`
	ContextExtracted *ContextFinding     `json:"context_extracted,omitempty"`
	BaselineCompared *ComparisonResult   `json:"baseline_compared,omitempty"`
	PatchPlanned     *PlanFinding        `json:"patch_planned,omitempty"`
}

// FindingByStage returns the most recent finding for the given stage.
func (c *Candidate) FindingByStage(stage Stage) *Finding {
	for i := len(c.Findings) - 1; i >= 0; i-- {
		if c.Findings[i].Stage == stage {
			return &c.Findings[i]
		}
	}
	return nil
}

// AppendFinding adds a stage snapshot to the working memory.
func (c *Candidate) AppendFinding(f Finding) {
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	c.Findings = append(c.Findings, f)
}
