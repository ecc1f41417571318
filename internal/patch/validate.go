package patch

import "fmt"

// Size bounds a generated patch must stay within.
const (
	maxChangedLines = 400
	maxDiffBytes    = 256 * 1024
)

// ValidationError identifies which check in the battery rejected the
// patch.
type ValidationError struct {
	Check   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("patch validation failed [%s]: %s", e.Check, e.Message)
}

// Validate runs the fixed check battery against a proposal: structural
// diff validity, size bounds, applicability to the fetched content, and
// a revision-conflict check against the document's last-seen revision.
// The first failing check is returned.
func Validate(p *Proposal, docContent, docRevision string) error {
	if p.UnifiedDiff == "" {
		return &ValidationError{Check: "structure", Message: "empty diff"}
	}
	if len(p.UnifiedDiff) > maxDiffBytes {
		return &ValidationError{Check: "size", Message: fmt.Sprintf("diff is %d bytes, limit %d", len(p.UnifiedDiff), maxDiffBytes)}
	}

	if _, err := parseHunks(p.UnifiedDiff); err != nil {
		return &ValidationError{Check: "structure", Message: err.Error()}
	}

	added, removed := DiffStats(p.UnifiedDiff)
	if added+removed == 0 {
		return &ValidationError{Check: "size", Message: "diff changes no lines"}
	}
	if added+removed > maxChangedLines {
		return &ValidationError{Check: "size", Message: fmt.Sprintf("diff changes %d lines, limit %d", added+removed, maxChangedLines)}
	}

	if _, err := ApplyUnifiedDiff(docContent, p.UnifiedDiff); err != nil {
		return &ValidationError{Check: "applicability", Message: err.Error()}
	}

	if p.BaseRevision != docRevision {
		return &ValidationError{
			Check:   "revision",
			Message: fmt.Sprintf("patch built against revision %q but document is at %q", p.BaseRevision, docRevision),
		}
	}
	return nil
}
