// Package fingerprint canonicalizes a drift candidate's identity so the
// same underlying drift always hashes to the same value, and decides
// whether a recurrence should be suppressed or re-notified.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/driftwatch/driftwatch/internal/drift"
)

// maxKeyTokens bounds how much of the evidence summary feeds the hash.
const maxKeyTokens = 8

// MaterialConfidenceDelta is how much higher a duplicate's confidence
// must be before it is worth re-notifying about.
const MaterialConfidenceDelta = 0.15

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9._/-]{2,}`)

// stopwords are too common in evidence summaries to identify anything.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "was": true,
	"this": true, "that": true, "from": true, "has": true, "have": true,
	"changed": true, "updated": true, "added": true, "removed": true,
}

// KeyTokens extracts a bounded, sorted set of identifying tokens from
// an evidence summary. Deterministic for equal inputs.
func KeyTokens(summary string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(summary), -1)
	seen := make(map[string]bool, len(raw))
	var tokens []string
	for _, tok := range raw {
		if stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	if len(tokens) > maxKeyTokens {
		tokens = tokens[:maxKeyTokens]
	}
	return tokens
}

// Compute derives the stable fingerprint for a classified candidate.
// The same (workspace, service, type, domains, doc, key tokens) always
// produces a byte-identical result; it doubles as an idempotency key.
func Compute(c *drift.Candidate) string {
	domains := make([]string, len(c.DriftDomains))
	for i, d := range c.DriftDomains {
		domains[i] = string(d)
	}
	sort.Strings(domains)

	parts := []string{
		c.WorkspaceID,
		c.Service,
		string(c.DriftType),
		strings.Join(domains, ","),
		c.DocID,
		strings.Join(KeyTokens(c.EvidenceSummary), ","),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// DuplicateResult is the outcome of a duplicate check.
type DuplicateResult struct {
	IsDuplicate     bool
	ShouldNotify    bool
	ExistingDriftID string
	Reason          string
}

// driftLookup is the narrow read surface the checker needs.
type driftLookup interface {
	FindByFingerprint(ctx context.Context, workspaceID, fingerprint string) (*drift.Candidate, error)
}

// Checker decides duplicate policy against stored candidates.
type Checker struct {
	drifts driftLookup
}

// NewChecker creates a Checker reading from the given drift lookup.
func NewChecker(drifts driftLookup) *Checker {
	return &Checker{drifts: drifts}
}

// CheckDuplicate computes the candidate's fingerprint and compares it
// against existing drifts in the workspace. A duplicate re-notifies
// only when its confidence is materially higher than the original's.
func (ch *Checker) CheckDuplicate(ctx context.Context, c *drift.Candidate) (string, DuplicateResult, error) {
	fp := Compute(c)

	existing, err := ch.drifts.FindByFingerprint(ctx, c.WorkspaceID, fp)
	if err != nil {
		return "", DuplicateResult{}, fmt.Errorf("looking up fingerprint: %w", err)
	}
	if existing == nil || existing.ID == c.ID {
		return fp, DuplicateResult{ShouldNotify: true, Reason: "first occurrence"}, nil
	}

	res := DuplicateResult{
		IsDuplicate:     true,
		ExistingDriftID: existing.ID,
	}
	if c.Confidence >= existing.Confidence+MaterialConfidenceDelta {
		res.ShouldNotify = true
		res.Reason = fmt.Sprintf("duplicate of %s with materially higher confidence (%.2f vs %.2f)",
			existing.ID, c.Confidence, existing.Confidence)
	} else {
		res.Reason = fmt.Sprintf("duplicate of %s, confidence not materially higher", existing.ID)
	}
	return fp, res, nil
}
