package baseline

import (
	"fmt"
	"strings"

	"github.com/driftwatch/driftwatch/internal/drift"
)

// renameKeywords mark config-key churn worth flagging even without a
// direct key match.
var renameKeywords = []string{"rename", "renamed", "deprecate", "deprecated", "replace", "replaced", "migrate", "migrated"}

// Options carries inputs individual strategies need beyond the two
// extraction results.
type Options struct {
	// AuthoritativeOwner is resolved independently of the document and
	// is the ground truth for the ownership strategy.
	AuthoritativeOwner string
	// PRProse is the raw PR text, consulted for churn keywords.
	PRProse string
}

// Compare dispatches to the strategy for the drift type. Every
// strategy returns the same result shape so patch planning stays
// type-agnostic.
func Compare(driftType drift.Type, ev drift.EvidencePack, an drift.Anchors, opts Options) drift.ComparisonResult {
	switch driftType {
	case drift.TypeInstruction:
		return compareInstruction(ev, an, opts)
	case drift.TypeProcess:
		return compareProcess(ev, an)
	case drift.TypeOwnership:
		return compareOwnership(ev, an, opts)
	case drift.TypeCoverage:
		return compareCoverage(ev, an)
	case drift.TypeEnvironmentTooling:
		return compareEnvironmentTooling(ev, an)
	default:
		return drift.ComparisonResult{
			Details: drift.ComparisonDetails{Recommendation: "unknown drift type, no comparison performed"},
		}
	}
}

// compareInstruction diffs commands, config keys, and endpoints in the
// PR against those anchored in the doc.
func compareInstruction(ev drift.EvidencePack, an drift.Anchors, opts Options) drift.ComparisonResult {
	res := drift.ComparisonResult{
		Details: drift.ComparisonDetails{
			PRArtifacts:  concat(ev.Commands, ev.ConfigKeys, ev.Endpoints),
			DocArtifacts: concat(an.Commands, an.ConfigKeys, an.Endpoints),
		},
	}

	// Same base command, different arguments.
	docByBase := make(map[string][]string)
	for _, cmd := range an.Commands {
		base := CommandBase(cmd)
		docByBase[base] = append(docByBase[base], cmd)
	}
	for _, prCmd := range ev.Commands {
		base := CommandBase(prCmd)
		for _, docCmd := range docByBase[base] {
			if docCmd != prCmd {
				conflict(&res, fmt.Sprintf("command %q changed: doc says %q, PR uses %q", base, docCmd, prCmd))
			}
		}
	}

	// Config-key churn near rename/deprecate keywords.
	churn := hasChurnKeyword(opts.PRProse)
	docKeys := sliceSet(an.ConfigKeys)
	for _, key := range ev.ConfigKeys {
		if docKeys.has(key) {
			continue
		}
		if churn {
			conflict(&res, fmt.Sprintf("config key %q appears in PR near rename/deprecate language but is absent from doc", key))
		}
	}

	// Path-prefix-matching endpoint changes.
	for _, prEp := range ev.Endpoints {
		prPath := endpointPath(prEp)
		for _, docEp := range an.Endpoints {
			docPath := endpointPath(docEp)
			if prEp != docEp && pathPrefixMatch(prPath, docPath) {
				conflict(&res, fmt.Sprintf("endpoint changed: doc anchors %q, PR references %q", docEp, prEp))
			}
		}
	}

	finish(&res, "update the documented commands, keys, and endpoints to match the merged change")
	return res
}

// compareProcess compares the PR-implied step flow against the doc's
// documented flow, flagging reordering and skipped steps.
func compareProcess(ev drift.EvidencePack, an drift.Anchors) drift.ComparisonResult {
	res := drift.ComparisonResult{
		Details: drift.ComparisonDetails{
			PRArtifacts:  ev.Steps,
			DocArtifacts: an.Steps,
		},
	}

	// Align steps by fuzzy containment, then check relative order.
	type aligned struct{ docIdx, prIdx int }
	var pairs []aligned
	matchedDoc := make(map[int]bool)
	for pi, prStep := range ev.Steps {
		for di, docStep := range an.Steps {
			if matchedDoc[di] {
				continue
			}
			if stepsEquivalent(prStep, docStep) {
				pairs = append(pairs, aligned{docIdx: di, prIdx: pi})
				matchedDoc[di] = true
				break
			}
		}
	}

	for i := 1; i < len(pairs); i++ {
		if pairs[i].docIdx < pairs[i-1].docIdx {
			conflict(&res, fmt.Sprintf("steps reordered: %q now comes before %q",
				trunc(ev.Steps[pairs[i].prIdx]), trunc(ev.Steps[pairs[i-1].prIdx])))
		}
	}

	if len(ev.Steps) > 0 && len(pairs) < len(an.Steps) {
		for di, docStep := range an.Steps {
			if !matchedDoc[di] {
				conflict(&res, fmt.Sprintf("documented step %q is not part of the PR-implied flow", trunc(docStep)))
			}
		}
	}

	finish(&res, "rewrite the documented procedure to reflect the new step order")
	return res
}

// compareOwnership flags when the doc's stated owner disagrees with or
// omits the independently resolved owner.
func compareOwnership(ev drift.EvidencePack, an drift.Anchors, opts Options) drift.ComparisonResult {
	res := drift.ComparisonResult{
		Details: drift.ComparisonDetails{
			PRArtifacts:  nonEmpty(opts.AuthoritativeOwner, ev.StatedOwner),
			DocArtifacts: nonEmpty(an.StatedOwner),
		},
	}

	authoritative := opts.AuthoritativeOwner
	if authoritative == "" {
		authoritative = ev.StatedOwner
	}
	if authoritative == "" {
		finish(&res, "no authoritative owner could be resolved; manual review required")
		return res
	}

	switch {
	case an.StatedOwner == "":
		conflict(&res, fmt.Sprintf("doc states no owner; authoritative owner is %q", authoritative))
	case !strings.EqualFold(an.StatedOwner, authoritative):
		conflict(&res, fmt.Sprintf("doc states owner %q but authoritative owner is %q", an.StatedOwner, authoritative))
	}

	finish(&res, "correct the ownership line in the document")
	return res
}

// compareCoverage flags PR-introduced scenario keywords the doc does
// not yet represent.
func compareCoverage(ev drift.EvidencePack, an drift.Anchors) drift.ComparisonResult {
	res := drift.ComparisonResult{
		Details: drift.ComparisonDetails{
			PRArtifacts:  ev.ScenarioKeywords,
			DocArtifacts: an.CoverageKeywords,
		},
	}

	covered := sliceSet(an.CoverageKeywords)
	var missing []string
	for _, kw := range ev.ScenarioKeywords {
		if !covered.has(kw) {
			missing = append(missing, kw)
		}
	}
	if len(missing) > 0 {
		conflict(&res, fmt.Sprintf("scenarios introduced by the PR are undocumented: %s", strings.Join(missing, ", ")))
	}

	finish(&res, "add coverage for the newly introduced scenarios")
	return res
}

// compareEnvironmentTooling detects tool migrations and flags docs that
// still reference the superseded tool.
func compareEnvironmentTooling(ev drift.EvidencePack, an drift.Anchors) drift.ComparisonResult {
	res := drift.ComparisonResult{
		Details: drift.ComparisonDetails{
			PRArtifacts:  ev.ToolMentions,
			DocArtifacts: an.ToolMentions,
		},
	}

	in := PRInput{FilesAdded: ev.FilesAdded, FilesRemoved: ev.FilesRemoved}
	added, removed, migrated := ToolMigration(in)

	docTools := sliceSet(an.ToolMentions)
	if migrated && docTools.has(removed) {
		conflict(&res, fmt.Sprintf("tool migration detected: %s superseded by %s, doc still references %s", removed, added, removed))
	}

	// A tool mentioned in the PR set and missing from the doc set is a
	// softer signal, still recorded as evidence.
	prTools := sliceSet(ev.ToolMentions)
	for _, tool := range ev.ToolMentions {
		if !docTools.has(tool) && prTools.has(tool) {
			res.Evidence = append(res.Evidence, fmt.Sprintf("PR references %s, which the doc never mentions", tool))
		}
	}

	finish(&res, "update tooling references to the superseding tool")
	return res
}

// --- helpers ---

func conflict(res *drift.ComparisonResult, msg string) {
	res.Details.Conflicts = append(res.Details.Conflicts, msg)
	res.Evidence = append(res.Evidence, msg)
}

func finish(res *drift.ComparisonResult, recommendation string) {
	res.MatchCount = len(res.Details.Conflicts)
	res.HasMatch = res.MatchCount > 0
	if res.HasMatch {
		res.Details.Recommendation = recommendation
	} else {
		res.Details.Recommendation = "no drift detected between PR evidence and document baseline"
	}
}

func hasChurnKeyword(prose string) bool {
	lower := strings.ToLower(prose)
	for _, kw := range renameKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func endpointPath(ep string) string {
	if i := strings.Index(ep, "/"); i >= 0 {
		return ep[i:]
	}
	return ep
}

// pathPrefixMatch reports whether two endpoint paths share their first
// two segments, i.e. they plausibly describe the same resource.
func pathPrefixMatch(a, b string) bool {
	sa := strings.Split(strings.Trim(a, "/"), "/")
	sb := strings.Split(strings.Trim(b, "/"), "/")
	n := 2
	if len(sa) < n || len(sb) < n {
		n = 1
	}
	if len(sa) < n || len(sb) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func stepsEquivalent(a, b string) bool {
	na, nb := normalizeStep(a), normalizeStep(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

func normalizeStep(s string) string {
	return strings.Join(wordPattern.FindAllString(strings.ToLower(s), -1), " ")
}

func trunc(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

func concat(slices ...[]string) []string {
	var out []string
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}

func nonEmpty(vals ...string) []string {
	var out []string
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sliceSet(vals []string) set {
	s := newSet()
	for _, v := range vals {
		s.add(v)
	}
	return s
}
