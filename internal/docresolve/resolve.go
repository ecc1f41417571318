package docresolve

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/driftwatch/driftwatch/internal/drift"
)

// confluencePagePattern matches Confluence page URLs in PR bodies.
var confluencePagePattern = regexp.MustCompile(`https://[\w.-]+\.atlassian\.net/wiki/spaces/\w+/pages/(\d+)`)

// docPinPattern matches an explicit machine-readable doc pin, e.g.
// "doc:confluence:123456" placed in a PR body.
var docPinPattern = regexp.MustCompile(`\bdoc:([a-z]+):([\w-]+)\b`)

// Resolver applies the resolution priority order: explicit mapping,
// then PR-body link, then embedding search, else needs_mapping.
type Resolver struct {
	store       *Store
	index       *Index // nil disables search resolution
	minScore    float64
	searchLimit int
}

// NewResolver creates a Resolver. index may be nil when no embedding
// client is configured.
func NewResolver(store *Store, index *Index, minScore float64) *Resolver {
	return &Resolver{store: store, index: index, minScore: minScore, searchLimit: 5}
}

// Resolve picks the document to patch for the candidate. prBody is the
// raw PR description, scanned for doc links when policy allows.
func (r *Resolver) Resolve(ctx context.Context, c *drift.Candidate, prBody string) (*Resolution, error) {
	mappings, err := r.store.MappingsForScope(c.WorkspaceID, c.Service, c.Repo)
	if err != nil {
		return nil, fmt.Errorf("loading mappings: %w", err)
	}

	res := &Resolution{Candidates: []drift.DocCandidate{}}

	// Ignored scopes short-circuit everything else.
	for _, m := range mappings {
		if m.Ignored && scopeMatches(m, c.Service, c.Repo) {
			res.Status = drift.ResolutionIgnored
			res.Candidates = append(res.Candidates, drift.DocCandidate{
				DocSystem:   m.DocSystem,
				DocID:       m.DocID,
				MatchReason: "scope opted out by mapping " + m.ID,
			})
			return res, nil
		}
	}

	// Policy flags come from the most specific non-ignored mapping;
	// absent any mapping, both overrides are allowed.
	allowPRLink, allowSearch := true, true
	for _, m := range mappings {
		if m.Ignored || !scopeMatches(m, c.Service, c.Repo) {
			continue
		}
		allowPRLink, allowSearch = m.AllowPRLink, m.AllowSearch

		if m.DocID != "" {
			res.Candidates = append(res.Candidates, drift.DocCandidate{
				DocSystem:   m.DocSystem,
				DocID:       m.DocID,
				MatchReason: "explicit mapping " + m.ID,
				Confidence:  1.0,
			})
			res.Status = drift.ResolutionResolved
			res.Method = MethodExplicitMapping
			res.Confidence = 1.0
			res.DocSystem = m.DocSystem
			res.DocID = m.DocID
			return res, nil
		}
		break
	}

	if allowPRLink {
		if system, docID, ok := docLinkFrom(prBody); ok {
			res.Candidates = append(res.Candidates, drift.DocCandidate{
				DocSystem:   system,
				DocID:       docID,
				MatchReason: "linked in PR body",
				Confidence:  0.9,
			})
			res.Status = drift.ResolutionResolved
			res.Method = MethodPRLink
			res.Confidence = 0.9
			res.DocSystem = system
			res.DocID = docID
			return res, nil
		}
	}

	if allowSearch && r.index != nil {
		query := strings.TrimSpace(c.Service + " " + c.EvidenceSummary)
		matches, err := r.index.Search(ctx, query, r.searchLimit)
		if err != nil {
			return nil, fmt.Errorf("searching doc index: %w", err)
		}
		for _, m := range matches {
			res.Candidates = append(res.Candidates, drift.DocCandidate{
				DocSystem:   m.Doc.DocSystem,
				DocID:       m.Doc.DocID,
				MatchReason: fmt.Sprintf("search hit %q", m.Doc.Title),
				Confidence:  float64(m.Similarity),
			})
		}
		if len(matches) > 0 && float64(matches[0].Similarity) >= r.minScore {
			res.Status = drift.ResolutionResolved
			res.Method = MethodSearch
			res.Confidence = float64(matches[0].Similarity)
			res.DocSystem = matches[0].Doc.DocSystem
			res.DocID = matches[0].Doc.DocID
			return res, nil
		}
	}

	res.Status = drift.ResolutionNeedsMapping
	return res, nil
}

// scopeMatches reports whether a mapping applies to the given drift
// scope. Exact service/repo matches apply; scope_pattern is a glob
// matched against both.
func scopeMatches(m *Mapping, service, repo string) bool {
	if m.Repo != "" && m.Repo == repo {
		return true
	}
	if m.Service != "" && strings.EqualFold(m.Service, service) {
		return true
	}
	if m.ScopePattern != "" {
		if ok, _ := doublestar.Match(m.ScopePattern, repo); ok {
			return true
		}
		if ok, _ := doublestar.Match(m.ScopePattern, service); ok {
			return true
		}
	}
	return false
}

// docLinkFrom extracts a document reference from a PR body: an explicit
// doc pin first, then a Confluence page URL.
func docLinkFrom(body string) (system, docID string, ok bool) {
	if m := docPinPattern.FindStringSubmatch(body); m != nil {
		return m[1], m[2], true
	}
	if m := confluencePagePattern.FindStringSubmatch(body); m != nil {
		return "confluence", m[1], true
	}
	return "", "", false
}
