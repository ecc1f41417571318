package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/driftwatch/driftwatch/internal/agent"
	"github.com/driftwatch/driftwatch/internal/drift"
)

const plannerSystem = `You are a technical documentation editor. Given evidence that a document
has drifted from reality, decide how to patch it. Respond with JSON:
{"patch_style": one of "targeted_edit"|"section_rewrite"|"append_section"|"owner_update"|"attention_note",
 "instructions": concrete editing instructions for the chosen style}`

// Planner decides how a document should be patched. Agent failures fall
// back to a deterministic style policy so the pipeline never stalls on
// the planner.
type Planner struct {
	client agent.Client // nil forces the fallback policy
}

// NewPlanner creates a Planner.
func NewPlanner(client agent.Client) *Planner {
	return &Planner{client: client}
}

// Plan produces the patch plan for a classified, baseline-checked
// drift.
func (p *Planner) Plan(ctx context.Context, c *drift.Candidate) drift.PlanFinding {
	if p.client != nil {
		plan, err := p.planWithAgent(ctx, c)
		if err == nil {
			return plan
		}
		log.Printf("patch planner agent failed for drift %s, using fallback style: %v", c.ID, err)
	}
	style := fallbackStyle(c.DriftType, c.DocSystem, c.Confidence)
	return drift.PlanFinding{
		PatchStyle:   style,
		Instructions: fallbackInstructions(style, c),
		Fallback:     true,
	}
}

func (p *Planner) planWithAgent(ctx context.Context, c *drift.Candidate) (drift.PlanFinding, error) {
	comparison := c.FindingByStage(drift.StageBaselineCompared)
	if comparison == nil || comparison.BaselineCompared == nil {
		return drift.PlanFinding{}, fmt.Errorf("no baseline comparison on drift %s", c.ID)
	}
	details, _ := json.Marshal(comparison.BaselineCompared.Details)

	prompt := fmt.Sprintf(
		"Drift type: %s\nService: %s\nEvidence summary: %s\nComparison details: %s",
		c.DriftType, c.Service, c.EvidenceSummary, details)

	raw, err := p.client.Complete(ctx, agent.CompletionRequest{
		System:   plannerSystem,
		Prompt:   prompt,
		JSONMode: true,
	})
	if err != nil {
		return drift.PlanFinding{}, err
	}

	var parsed struct {
		PatchStyle   string `json:"patch_style"`
		Instructions string `json:"instructions"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return drift.PlanFinding{}, fmt.Errorf("unparseable planner response: %w", err)
	}
	if !validStyles[parsed.PatchStyle] || parsed.Instructions == "" {
		return drift.PlanFinding{}, fmt.Errorf("planner returned invalid style %q", parsed.PatchStyle)
	}
	return drift.PlanFinding{PatchStyle: parsed.PatchStyle, Instructions: parsed.Instructions}, nil
}

var validStyles = map[string]bool{
	StyleTargetedEdit:   true,
	StyleSectionRewrite: true,
	StyleAppendSection:  true,
	StyleOwnerUpdate:    true,
	StyleAttentionNote:  true,
}

// fallbackStyle is the policy matrix used when the planner agent is
// unavailable, keyed by drift type, document system, and confidence.
func fallbackStyle(t drift.Type, docSystem string, confidence float64) string {
	switch t {
	case drift.TypeOwnership:
		return StyleOwnerUpdate
	case drift.TypeCoverage:
		return StyleAppendSection
	case drift.TypeEnvironmentTooling:
		if confidence >= 0.75 {
			return StyleSectionRewrite
		}
		return StyleAttentionNote
	}

	// instruction / process.
	if confidence < 0.6 {
		return StyleAttentionNote
	}
	// Confluence storage-format pages tolerate targeted edits poorly;
	// rewrite the affected section instead.
	if docSystem == "confluence" {
		return StyleSectionRewrite
	}
	return StyleTargetedEdit
}

func fallbackInstructions(style string, c *drift.Candidate) string {
	switch style {
	case StyleOwnerUpdate:
		owner := c.Owner.Primary
		if owner == "" {
			owner = "the current owner"
		}
		return "Update the stated owner of this document to " + owner + "."
	case StyleAppendSection:
		return "Append a section covering: " + c.EvidenceSummary
	case StyleSectionRewrite:
		return "Rewrite the affected section to match: " + c.EvidenceSummary
	case StyleAttentionNote:
		return "Flag the document as needing attention: " + c.EvidenceSummary
	default:
		return "Apply the minimal edit reflecting: " + c.EvidenceSummary
	}
}

// attentionNote builds the bounded note the generator falls back to
// when it cannot produce a real patch.
func attentionNote(c *drift.Candidate) string {
	summary := c.EvidenceSummary
	if len(summary) > 400 {
		summary = summary[:400] + "…"
	}
	var b strings.Builder
	b.WriteString("\n> **Needs attention** — this document may be out of date.\n")
	b.WriteString("> " + summary + "\n")
	if c.Repo != "" {
		b.WriteString("> Source: " + c.Repo + "\n")
	}
	return b.String()
}
