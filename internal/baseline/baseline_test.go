package baseline

import (
	"strings"
	"testing"

	"github.com/driftwatch/driftwatch/internal/drift"
)

const sampleRunbook = `# Payments Deploy Runbook

Owner: @platform-team

## Deploying

Run the following:

` + "```bash" + `
$ deploy.sh --env prod
kubectl rollout status deploy/payments
` + "```" + `

Set ` + "`PAYMENTS_TIMEOUT`" + ` before deploying. Health endpoint: ` + "`GET /api/payments/health`" + `.

## Procedure

1. Announce the deploy in #payments
2. Run the deploy script
3. Verify the health endpoint
`

func TestExtractAnchors(t *testing.T) {
	an := ExtractAnchors(sampleRunbook)

	if an.StatedOwner != "platform-team" {
		t.Errorf("StatedOwner = %q, want platform-team", an.StatedOwner)
	}
	if !contains(an.Commands, "deploy.sh --env prod") {
		t.Errorf("Commands = %v, missing deploy.sh line", an.Commands)
	}
	if !contains(an.Commands, "kubectl rollout status deploy/payments") {
		t.Errorf("Commands = %v, missing kubectl line", an.Commands)
	}
	if !contains(an.ConfigKeys, "PAYMENTS_TIMEOUT") {
		t.Errorf("ConfigKeys = %v, missing PAYMENTS_TIMEOUT", an.ConfigKeys)
	}
	if !contains(an.Endpoints, "GET /api/payments/health") {
		t.Errorf("Endpoints = %v, missing health endpoint", an.Endpoints)
	}
	if len(an.Steps) != 3 {
		t.Errorf("len(Steps) = %d, want 3: %v", len(an.Steps), an.Steps)
	}
	if !contains(an.ToolMentions, "kubectl") {
		t.Errorf("ToolMentions = %v, missing kubectl", an.ToolMentions)
	}
}

func TestExtractAnchorsDeterministic(t *testing.T) {
	a := ExtractAnchors(sampleRunbook)
	b := ExtractAnchors(sampleRunbook)
	if strings.Join(a.Commands, "|") != strings.Join(b.Commands, "|") {
		t.Errorf("command extraction not deterministic")
	}
	if strings.Join(a.CoverageKeywords, "|") != strings.Join(b.CoverageKeywords, "|") {
		t.Errorf("coverage keyword extraction not deterministic")
	}
}

func TestExtractEvidence(t *testing.T) {
	ev := ExtractEvidence(PRInput{
		Title: "Switch payments deploy to helm",
		Body: "Replaces the old script. Run `helm upgrade payments ./chart` now.\n" +
			"Renamed `PAYMENTS_TIMEOUT` to `PAYMENTS_TIMEOUT_MS`.\n\n" +
			"1. Run the deploy script\n2. Announce the deploy in #payments\n",
		FilesAdded:   []string{"chart/Chart.yaml"},
		FilesRemoved: []string{"deploy.sh"},
		StatedOwner:  "@payments-core",
	})

	if !contains(ev.Commands, "helm upgrade payments ./chart") {
		t.Errorf("Commands = %v, missing helm command", ev.Commands)
	}
	if !contains(ev.ConfigKeys, "PAYMENTS_TIMEOUT_MS") {
		t.Errorf("ConfigKeys = %v, missing renamed key", ev.ConfigKeys)
	}
	if len(ev.Steps) != 2 {
		t.Errorf("len(Steps) = %d, want 2: %v", len(ev.Steps), ev.Steps)
	}
	if ev.StatedOwner != "payments-core" {
		t.Errorf("StatedOwner = %q, want payments-core", ev.StatedOwner)
	}
	if !contains(ev.ToolMentions, "helm") {
		t.Errorf("ToolMentions = %v, missing helm", ev.ToolMentions)
	}
}

func TestCompareInstructionCommandArgsChanged(t *testing.T) {
	an := drift.Anchors{Commands: []string{"deploy.sh --env prod"}}
	ev := drift.EvidencePack{Commands: []string{"deploy.sh --env prod --canary"}}

	res := Compare(drift.TypeInstruction, ev, an, Options{})
	if !res.HasMatch {
		t.Fatalf("HasMatch = false, want true for same base command with different args")
	}
	if res.MatchCount != len(res.Details.Conflicts) {
		t.Errorf("MatchCount = %d, want %d", res.MatchCount, len(res.Details.Conflicts))
	}
}

func TestCompareInstructionConfigChurn(t *testing.T) {
	an := drift.Anchors{ConfigKeys: []string{"PAYMENTS_TIMEOUT"}}
	ev := drift.EvidencePack{ConfigKeys: []string{"PAYMENTS_TIMEOUT_MS"}}

	// Without churn language, absence alone is not flagged.
	res := Compare(drift.TypeInstruction, ev, an, Options{PRProse: "adds a new knob"})
	if res.HasMatch {
		t.Errorf("HasMatch = true without rename/deprecate language")
	}

	res = Compare(drift.TypeInstruction, ev, an, Options{PRProse: "renamed the timeout key"})
	if !res.HasMatch {
		t.Errorf("HasMatch = false, want true for key churn near rename language")
	}
}

func TestCompareInstructionEndpointPrefix(t *testing.T) {
	an := drift.Anchors{Endpoints: []string{"GET /api/payments/health"}}
	ev := drift.EvidencePack{Endpoints: []string{"GET /api/payments/healthz"}}

	res := Compare(drift.TypeInstruction, ev, an, Options{})
	if !res.HasMatch {
		t.Errorf("HasMatch = false, want true for path-prefix endpoint change")
	}
}

func TestCompareProcessReorderAndSkip(t *testing.T) {
	an := drift.Anchors{Steps: []string{
		"Announce the deploy",
		"Run the deploy script",
		"Verify the health endpoint",
	}}
	ev := drift.EvidencePack{Steps: []string{
		"Run the deploy script",
		"Announce the deploy",
	}}

	res := Compare(drift.TypeProcess, ev, an, Options{})
	if !res.HasMatch {
		t.Fatalf("HasMatch = false, want true for reordered steps")
	}

	var reorder, skipped bool
	for _, c := range res.Details.Conflicts {
		if strings.Contains(c, "reordered") {
			reorder = true
		}
		if strings.Contains(c, "not part of") {
			skipped = true
		}
	}
	if !reorder {
		t.Errorf("no reorder conflict in %v", res.Details.Conflicts)
	}
	if !skipped {
		t.Errorf("no skipped-step conflict in %v", res.Details.Conflicts)
	}
}

func TestCompareOwnership(t *testing.T) {
	an := drift.Anchors{StatedOwner: "platform-team"}
	res := Compare(drift.TypeOwnership, drift.EvidencePack{}, an, Options{AuthoritativeOwner: "payments-core"})
	if !res.HasMatch {
		t.Errorf("HasMatch = false, want true for owner disagreement")
	}

	res = Compare(drift.TypeOwnership, drift.EvidencePack{}, drift.Anchors{}, Options{AuthoritativeOwner: "payments-core"})
	if !res.HasMatch {
		t.Errorf("HasMatch = false, want true for absent owner")
	}

	res = Compare(drift.TypeOwnership, drift.EvidencePack{}, an, Options{AuthoritativeOwner: "platform-team"})
	if res.HasMatch {
		t.Errorf("HasMatch = true for agreeing owners")
	}
}

func TestCompareCoverage(t *testing.T) {
	an := drift.Anchors{CoverageKeywords: []string{"deploy", "rollback", "health"}}
	ev := drift.EvidencePack{ScenarioKeywords: []string{"deploy", "timeout", "retry"}}

	res := Compare(drift.TypeCoverage, ev, an, Options{})
	if !res.HasMatch {
		t.Fatalf("HasMatch = false, want true for uncovered scenarios")
	}
	if !strings.Contains(res.Details.Conflicts[0], "timeout") {
		t.Errorf("conflict %q missing uncovered keyword", res.Details.Conflicts[0])
	}
}

func TestCompareEnvironmentTooling(t *testing.T) {
	an := drift.Anchors{ToolMentions: []string{"jenkins"}}
	ev := drift.EvidencePack{
		ToolMentions: []string{"github-actions"},
		FilesAdded:   []string{".github/workflows/ci.yml"},
		FilesRemoved: []string{"Jenkinsfile"},
	}

	res := Compare(drift.TypeEnvironmentTooling, ev, an, Options{})
	if !res.HasMatch {
		t.Fatalf("HasMatch = false, want true for tool migration with stale doc")
	}
	if !strings.Contains(res.Details.Conflicts[0], "jenkins") {
		t.Errorf("conflict %q missing superseded tool", res.Details.Conflicts[0])
	}
}

func TestCompareUniformShape(t *testing.T) {
	types := []drift.Type{
		drift.TypeInstruction, drift.TypeProcess, drift.TypeOwnership,
		drift.TypeCoverage, drift.TypeEnvironmentTooling,
	}
	for _, dt := range types {
		res := Compare(dt, drift.EvidencePack{}, drift.Anchors{}, Options{})
		if res.Details.Recommendation == "" {
			t.Errorf("%s: empty recommendation", dt)
		}
		if res.HasMatch != (res.MatchCount > 0) {
			t.Errorf("%s: HasMatch inconsistent with MatchCount", dt)
		}
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
