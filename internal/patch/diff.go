package patch

import (
	"fmt"
	"strings"
)

const contextLines = 3

// BuildUnifiedDiff produces a unified diff transforming oldText into
// newText, labeled with the given document name.
func BuildUnifiedDiff(docName, oldText, newText string) string {
	if oldText == newText {
		return ""
	}
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)
	ops := diffOps(oldLines, newLines)

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", docName, docName)
	for _, h := range groupHunks(ops) {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.oldStart, h.oldCount, h.newStart, h.newCount)
		for _, op := range h.ops {
			switch op.kind {
			case opEqual:
				b.WriteString(" " + op.text + "\n")
			case opDelete:
				b.WriteString("-" + op.text + "\n")
			case opInsert:
				b.WriteString("+" + op.text + "\n")
			}
		}
	}
	return b.String()
}

// ApplyUnifiedDiff applies a diff produced by BuildUnifiedDiff (or a
// human edit in the same format) to oldText. It fails when any hunk's
// context no longer matches.
func ApplyUnifiedDiff(oldText, diff string) (string, error) {
	hunks, err := parseHunks(diff)
	if err != nil {
		return "", err
	}
	oldLines := splitLines(oldText)

	var out []string
	cursor := 0 // index into oldLines
	for _, h := range hunks {
		start := h.oldStart - 1
		if h.oldCount == 0 {
			// Pure insertion hunk: oldStart points at the line before.
			start = h.oldStart
		}
		if start < cursor || start > len(oldLines) {
			return "", fmt.Errorf("hunk at line %d out of range", h.oldStart)
		}
		out = append(out, oldLines[cursor:start]...)
		cursor = start

		for _, op := range h.ops {
			switch op.kind {
			case opEqual, opDelete:
				if cursor >= len(oldLines) || oldLines[cursor] != op.text {
					return "", fmt.Errorf("hunk at line %d does not apply: expected %q", h.oldStart, op.text)
				}
				if op.kind == opEqual {
					out = append(out, op.text)
				}
				cursor++
			case opInsert:
				out = append(out, op.text)
			}
		}
	}
	out = append(out, oldLines[cursor:]...)
	return strings.Join(out, "\n"), nil
}

// DiffStats counts added and removed lines in a unified diff.
func DiffStats(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type diffOp struct {
	kind opKind
	text string
}

// diffOps computes a line-level edit script via LCS.
func diffOps(oldLines, newLines []string) []diffOp {
	m, n := len(oldLines), len(newLines)
	// lcs[i][j] = length of LCS of oldLines[i:], newLines[j:].
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if oldLines[i] == newLines[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []diffOp
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case oldLines[i] == newLines[j]:
			ops = append(ops, diffOp{opEqual, oldLines[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{opDelete, oldLines[i]})
			i++
		default:
			ops = append(ops, diffOp{opInsert, newLines[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, diffOp{opDelete, oldLines[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{opInsert, newLines[j]})
	}
	return ops
}

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	ops                []diffOp
}

// groupHunks splits an edit script into hunks with surrounding context.
func groupHunks(ops []diffOp) []hunk {
	var hunks []hunk
	oldLine, newLine := 1, 1
	i := 0
	for i < len(ops) {
		if ops[i].kind == opEqual {
			oldLine++
			newLine++
			i++
			continue
		}

		// Found a change; back up for leading context.
		start := i
		ctx := 0
		for start > 0 && ops[start-1].kind == opEqual && ctx < contextLines {
			start--
			ctx++
		}

		h := hunk{oldStart: oldLine - ctx, newStart: newLine - ctx}
		end := i
		trailing := 0
		for end < len(ops) {
			if ops[end].kind == opEqual {
				trailing++
				if trailing > contextLines*2 {
					// Enough equal lines to close the hunk.
					break
				}
			} else {
				trailing = 0
			}
			end++
		}
		// Trim trailing context beyond the limit.
		for trailing > contextLines {
			end--
			trailing--
		}

		for _, op := range ops[start:end] {
			h.ops = append(h.ops, op)
			switch op.kind {
			case opEqual:
				h.oldCount++
				h.newCount++
			case opDelete:
				h.oldCount++
			case opInsert:
				h.newCount++
			}
		}
		// Zero-count sides use the line-before convention.
		if h.oldCount == 0 {
			h.oldStart--
		}
		if h.newCount == 0 {
			h.newStart--
		}
		hunks = append(hunks, h)

		// Advance line counters over the consumed ops.
		for _, op := range ops[i:end] {
			switch op.kind {
			case opEqual:
				oldLine++
				newLine++
			case opDelete:
				oldLine++
			case opInsert:
				newLine++
			}
		}
		i = end
	}
	return hunks
}

// parseHunks reads the hunks out of a unified diff.
func parseHunks(diff string) ([]hunk, error) {
	var hunks []hunk
	var cur *hunk
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
		case strings.HasPrefix(line, "@@"):
			var h hunk
			if _, err := fmt.Sscanf(line, "@@ -%d,%d +%d,%d @@", &h.oldStart, &h.oldCount, &h.newStart, &h.newCount); err != nil {
				// Single-line form: @@ -N +M @@.
				if _, err := fmt.Sscanf(line, "@@ -%d +%d @@", &h.oldStart, &h.newStart); err != nil {
					return nil, fmt.Errorf("malformed hunk header %q", line)
				}
				h.oldCount, h.newCount = 1, 1
			}
			hunks = append(hunks, h)
			cur = &hunks[len(hunks)-1]
		case cur == nil:
			if strings.TrimSpace(line) != "" {
				return nil, fmt.Errorf("content before first hunk header: %q", line)
			}
		case strings.HasPrefix(line, " "):
			cur.ops = append(cur.ops, diffOp{opEqual, line[1:]})
		case strings.HasPrefix(line, "-"):
			cur.ops = append(cur.ops, diffOp{opDelete, line[1:]})
		case strings.HasPrefix(line, "+"):
			cur.ops = append(cur.ops, diffOp{opInsert, line[1:]})
		case line == "":
			// Trailing newline in the diff text.
		default:
			return nil, fmt.Errorf("malformed diff line %q", line)
		}
	}
	if len(hunks) == 0 {
		return nil, fmt.Errorf("diff contains no hunks")
	}
	// Verify declared counts match the op lists.
	for _, h := range hunks {
		oldCount, newCount := 0, 0
		for _, op := range h.ops {
			switch op.kind {
			case opEqual:
				oldCount++
				newCount++
			case opDelete:
				oldCount++
			case opInsert:
				newCount++
			}
		}
		if oldCount != h.oldCount || newCount != h.newCount {
			return nil, fmt.Errorf("hunk at line %d declares -%d,+%d but contains -%d,+%d",
				h.oldStart, h.oldCount, h.newCount, oldCount, newCount)
		}
	}
	return hunks, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
