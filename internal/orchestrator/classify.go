package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/driftwatch/driftwatch/internal/agent"
	"github.com/driftwatch/driftwatch/internal/baseline"
	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/score"
	"github.com/driftwatch/driftwatch/internal/signal"
)

// Classification is the triage outcome for a signal.
type Classification struct {
	DriftDetected bool
	DriftType     drift.Type
	Domains       []drift.Domain
	Summary       string
}

// Triage classifies a signal into a drift type and impact domains,
// preferring the agent and falling back to keyword heuristics.
type Triage struct {
	client agent.Client
}

// NewTriage creates a Triage. A nil client uses heuristics only.
func NewTriage(client agent.Client) *Triage {
	return &Triage{client: client}
}

const triageSystem = `You triage signals about operational documentation drift.
Given a merged PR, incident, or alert, decide whether it evidences documentation
that is now out of date. Respond with JSON:
{"drift_detected": bool, "drift_type": "instruction|process|ownership|coverage|environment_tooling",
"domains": ["rollback"|"auth"|"data_migration"|"deployment"|"infra"|"config"|"api"|"observability"|"onboarding"|"ownership_routing"],
"summary": "one sentence describing what drifted"}`

var validTypes = map[drift.Type]bool{
	drift.TypeInstruction:        true,
	drift.TypeProcess:            true,
	drift.TypeOwnership:          true,
	drift.TypeCoverage:           true,
	drift.TypeEnvironmentTooling: true,
}

var validDomains = map[drift.Domain]bool{
	drift.DomainRollback:         true,
	drift.DomainAuth:             true,
	drift.DomainDataMigration:    true,
	drift.DomainDeployment:       true,
	drift.DomainInfra:            true,
	drift.DomainConfig:           true,
	drift.DomainAPI:              true,
	drift.DomainObservability:    true,
	drift.DomainOnboarding:       true,
	drift.DomainOwnershipRouting: true,
}

// Classify produces the classification for a trigger signal.
func (t *Triage) Classify(ctx context.Context, e *signal.Event) Classification {
	if t.client != nil {
		cls, err := t.classifyWithAgent(ctx, e)
		if err == nil {
			return cls
		}
		log.Printf("triage agent failed for signal %s, using heuristics: %v", e.ID, err)
	}
	return heuristicClassify(e)
}

func (t *Triage) classifyWithAgent(ctx context.Context, e *signal.Event) (Classification, error) {
	prompt := fmt.Sprintf("Source: %s (%s)\nService: %s\nRepo: %s\nTitle: %s\nDetails: %s",
		e.Source, e.Kind, e.Service, e.Repo, e.Title, e.Summary)

	raw, err := t.client.Complete(ctx, agent.CompletionRequest{
		System:   triageSystem,
		Prompt:   prompt,
		JSONMode: true,
	})
	if err != nil {
		return Classification{}, err
	}

	var parsed struct {
		DriftDetected bool     `json:"drift_detected"`
		DriftType     string   `json:"drift_type"`
		Domains       []string `json:"domains"`
		Summary       string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Classification{}, fmt.Errorf("unparseable triage response: %w", err)
	}
	if !parsed.DriftDetected {
		return Classification{}, nil
	}
	if !validTypes[drift.Type(parsed.DriftType)] {
		return Classification{}, fmt.Errorf("triage returned unknown drift type %q", parsed.DriftType)
	}

	cls := Classification{
		DriftDetected: true,
		DriftType:     drift.Type(parsed.DriftType),
		Summary:       parsed.Summary,
	}
	for _, d := range parsed.Domains {
		if validDomains[drift.Domain(d)] {
			cls.Domains = append(cls.Domains, drift.Domain(d))
		}
	}
	if cls.Summary == "" {
		cls.Summary = e.Title
	}
	return cls, nil
}

// domainKeywords map trigger text to impact domains. Checked in order
// so the strongest domains win ties.
var domainKeywords = []struct {
	keywords []string
	domain   drift.Domain
}{
	{[]string{"rollback", "roll back", "revert"}, drift.DomainRollback},
	{[]string{"auth", "oauth", "token", "credential", "permission"}, drift.DomainAuth},
	{[]string{"migration", "migrate", "schema change", "backfill"}, drift.DomainDataMigration},
	{[]string{"deploy", "release", "rollout", "ship"}, drift.DomainDeployment},
	{[]string{"terraform", "kubernetes", "k8s", "helm", "infra", "cluster"}, drift.DomainInfra},
	{[]string{"config", "flag", "env var", "environment variable", "setting"}, drift.DomainConfig},
	{[]string{"endpoint", "api", "route", "handler"}, drift.DomainAPI},
	{[]string{"alert", "dashboard", "metric", "monitor", "pager"}, drift.DomainObservability},
	{[]string{"onboard", "setup guide", "getting started"}, drift.DomainOnboarding},
	{[]string{"owner", "on-call", "oncall", "team", "escalation"}, drift.DomainOwnershipRouting},
}

// heuristicClassify is the deterministic fallback when no agent is
// configured or the agent call fails.
func heuristicClassify(e *signal.Event) Classification {
	text := strings.ToLower(e.Title + " " + e.Summary)
	if strings.TrimSpace(text) == "" {
		return Classification{}
	}

	var domains []drift.Domain
	seen := map[drift.Domain]bool{}
	for _, dk := range domainKeywords {
		for _, kw := range dk.keywords {
			if strings.Contains(text, kw) && !seen[dk.domain] {
				seen[dk.domain] = true
				domains = append(domains, dk.domain)
				break
			}
		}
	}

	driftType := drift.TypeInstruction
	switch {
	case seen[drift.DomainOwnershipRouting]:
		driftType = drift.TypeOwnership
	case containsAny(text, "replaces", "replaced", "switch to", "migrate to", "instead of"):
		driftType = drift.TypeEnvironmentTooling
	case containsAny(text, "step", "workflow", "runbook order", "procedure", "process"):
		driftType = drift.TypeProcess
	case containsAny(text, "handles", "supports", "covers", "edge case", "scenario", "fallback"):
		driftType = drift.TypeCoverage
	}

	summary := e.Title
	if summary == "" {
		summary = e.Summary
	}
	return Classification{
		DriftDetected: true,
		DriftType:     driftType,
		Domains:       domains,
		Summary:       summary,
	}
}

func containsAny(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// evidenceKinds collects the distinct signal kinds supporting the
// drift, merging the trigger with correlated signals.
func evidenceKinds(e *signal.Event, cls Classification, corr *drift.CorrelationFinding) []score.SignalKind {
	seen := map[score.SignalKind]bool{}
	var kinds []score.SignalKind
	add := func(k score.SignalKind) {
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}

	switch e.Kind {
	case signal.KindPRMerged, signal.KindPROpened:
		add(score.SignalExplicitPRChange)
	case signal.KindIncident:
		add(score.SignalRepeatIncident)
	case signal.KindAlert:
		add(score.SignalPathMatch)
	case signal.KindChat:
		add(score.SignalChatRepetition)
	}
	if cls.DriftType == drift.TypeOwnership {
		add(score.SignalOwnerMismatch)
	}
	if corr != nil {
		for _, k := range corr.SignalKinds {
			add(score.SignalKind(k))
		}
	}
	return kinds
}

// prPayload is the subset of a stored PR payload the pipeline reads
// back out for evidence extraction.
type prPayload struct {
	PullRequest struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"pull_request"`
	FilesAdded   []string `json:"files_added"`
	FilesRemoved []string `json:"files_removed"`
	FilesChanged []string `json:"files_changed"`
}

// prMaterial reconstructs the PR-side comparison input from a stored
// signal. Non-PR signals contribute their summary text only.
func prMaterial(e *signal.Event) baseline.PRInput {
	if e == nil {
		return baseline.PRInput{}
	}
	in := baseline.PRInput{Title: e.Title, Body: e.Summary}
	var p prPayload
	if err := json.Unmarshal([]byte(e.Payload), &p); err == nil {
		if p.PullRequest.Body != "" {
			in.Body = p.PullRequest.Body
		}
		in.FilesAdded = p.FilesAdded
		in.FilesRemoved = p.FilesRemoved
		in.FilesChanged = p.FilesChanged
	}
	return in
}
