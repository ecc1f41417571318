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

const generatorSystem = `You are a technical documentation editor. Apply the given editing
instructions to the document and return the complete updated document.
Change only what the instructions require. Respond with JSON:
{"updated_content": the full updated document text}`

// Generator produces the unified diff for a planned patch. Agent
// failures fall back to appending a bounded needs-attention note
// instead of failing the pipeline.
type Generator struct {
	client agent.Client // nil forces the fallback note
}

// NewGenerator creates a Generator.
func NewGenerator(client agent.Client) *Generator {
	return &Generator{client: client}
}

// Generated is the outcome of a generation pass.
type Generated struct {
	UnifiedDiff string
	PatchStyle  string
	Fallback    bool
}

// Generate turns the drift's plan into a unified diff against the
// fetched document content.
func (g *Generator) Generate(ctx context.Context, c *drift.Candidate) (*Generated, error) {
	fetched := c.FindingByStage(drift.StageDocFetched)
	if fetched == nil || fetched.DocFetched == nil {
		return nil, fmt.Errorf("no fetched document on drift %s", c.ID)
	}
	planned := c.FindingByStage(drift.StagePatchPlanned)
	if planned == nil || planned.PatchPlanned == nil {
		return nil, fmt.Errorf("no patch plan on drift %s", c.ID)
	}
	plan := planned.PatchPlanned
	content := fetched.DocFetched.Content
	docName := fetched.DocFetched.DocID

	if g.client != nil && plan.PatchStyle != StyleAttentionNote {
		updated, err := g.generateWithAgent(ctx, plan, content)
		if err == nil {
			diff := BuildUnifiedDiff(docName, content, updated)
			if diff == "" {
				return nil, fmt.Errorf("generated patch for drift %s changes nothing", c.ID)
			}
			return &Generated{UnifiedDiff: diff, PatchStyle: plan.PatchStyle}, nil
		}
		log.Printf("patch generator agent failed for drift %s, falling back to attention note: %v", c.ID, err)
	}

	// Fallback: append a bounded note rather than fail the pipeline.
	updated := strings.TrimSuffix(content, "\n") + "\n" + attentionNote(c)
	return &Generated{
		UnifiedDiff: BuildUnifiedDiff(docName, content, updated),
		PatchStyle:  StyleAttentionNote,
		Fallback:    true,
	}, nil
}

func (g *Generator) generateWithAgent(ctx context.Context, plan *drift.PlanFinding, content string) (string, error) {
	prompt := fmt.Sprintf("Instructions (%s):\n%s\n\nDocument:\n%s", plan.PatchStyle, plan.Instructions, content)

	raw, err := g.client.Complete(ctx, agent.CompletionRequest{
		System:    generatorSystem,
		Prompt:    prompt,
		JSONMode:  true,
		MaxTokens: 8192,
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		UpdatedContent string `json:"updated_content"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", fmt.Errorf("unparseable generator response: %w", err)
	}
	if strings.TrimSpace(parsed.UpdatedContent) == "" {
		return "", fmt.Errorf("generator returned empty document")
	}
	return parsed.UpdatedContent, nil
}
