package baseline

import (
	"regexp"
	"strings"

	"github.com/driftwatch/driftwatch/internal/drift"
)

// PRInput is the already-fetched PR material evidence is extracted from.
type PRInput struct {
	Title        string
	Body         string
	FilesAdded   []string
	FilesRemoved []string
	FilesChanged []string
	StatedOwner  string
}

var (
	inlineCodePattern  = regexp.MustCompile("`([^`\n]+)`")
	shellLinePattern   = regexp.MustCompile(`(?m)^\s*\$\s+(.+)$`)
	orderedItemPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+)$`)
)

// scenarioMarkers introduce coverage-relevant scenarios in PR prose.
var scenarioMarkers = []string{
	"handles", "handle", "supports", "support", "covers", "cover",
	"when", "case", "scenario", "fallback", "retry", "timeout",
	"edge", "failure", "error",
}

// ExtractEvidence builds the evidence pack from PR title, body, and
// changed files. Mirrors ExtractAnchors on the document side.
func ExtractEvidence(in PRInput) drift.EvidencePack {
	var ev drift.EvidencePack
	commands := newSet()
	configKeys := newSet()
	endpoints := newSet()
	tools := newSet()

	full := in.Title + "\n" + in.Body

	for _, m := range inlineCodePattern.FindAllStringSubmatch(full, -1) {
		tok := strings.TrimSpace(m[1])
		switch classifyToken(tok) {
		case tokenCommand:
			commands.add(tok)
		case tokenConfigKey:
			configKeys.add(tok)
		case tokenEndpoint:
			endpoints.add(normalizeEndpoint(tok))
		}
	}
	for _, m := range shellLinePattern.FindAllStringSubmatch(full, -1) {
		commands.add(strings.TrimSpace(m[1]))
	}
	for _, m := range orderedItemPattern.FindAllStringSubmatch(in.Body, -1) {
		ev.Steps = append(ev.Steps, strings.TrimSpace(m[1]))
	}

	lower := strings.ToLower(full)
	allFiles := strings.ToLower(strings.Join(append(append([]string{}, in.FilesAdded...), in.FilesChanged...), "\n"))
	for tool, markers := range knownTools {
		for _, marker := range markers {
			if strings.Contains(lower, marker) || strings.Contains(allFiles, marker) {
				tools.add(tool)
				break
			}
		}
	}

	ev.Commands = commands.sorted()
	ev.ConfigKeys = configKeys.sorted()
	ev.Endpoints = endpoints.sorted()
	ev.ToolMentions = tools.sorted()
	ev.ScenarioKeywords = scenarioKeywords(full)
	ev.FilesAdded = in.FilesAdded
	ev.FilesRemoved = in.FilesRemoved
	ev.StatedOwner = strings.TrimPrefix(in.StatedOwner, "@")
	return ev
}

// scenarioKeywords pulls significant words from sentences that carry a
// scenario marker, the PR-side coverage signal.
func scenarioKeywords(text string) []string {
	out := newSet()
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		marked := false
		for _, marker := range scenarioMarkers {
			if containsWord(lower, marker) {
				marked = true
				break
			}
		}
		if !marked {
			continue
		}
		for _, w := range wordPattern.FindAllString(lower, -1) {
			out.add(w)
		}
	}
	return out.sorted()
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '\n' || r == ';' || r == '!' || r == '?'
	})
}

func containsWord(text, word string) bool {
	i := strings.Index(text, word)
	for i >= 0 {
		before := i == 0 || !isWordByte(text[i-1])
		after := i+len(word) >= len(text) || !isWordByte(text[i+len(word)])
		if before && after {
			return true
		}
		next := strings.Index(text[i+1:], word)
		if next < 0 {
			return false
		}
		i = i + 1 + next
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// ToolMigration inspects file changes for a tool swap: files implying
// one tool removed while files implying another were added.
func ToolMigration(in PRInput) (added, removed string, found bool) {
	addedTools := toolsFromFiles(in.FilesAdded)
	removedTools := toolsFromFiles(in.FilesRemoved)
	for _, a := range addedTools {
		for _, r := range removedTools {
			if a != r {
				return a, r, true
			}
		}
	}
	return "", "", false
}

// toolFileMarkers map file path fragments to the tool they imply.
var toolFileMarkers = map[string]string{
	"jenkinsfile":       "jenkins",
	".circleci/":        "circleci",
	".github/workflows": "github-actions",
	"dockerfile":        "docker",
	"docker-compose":    "docker",
	"makefile":          "make",
	"requirements.txt":  "pip",
	"pyproject.toml":    "poetry",
	"pom.xml":           "maven",
	"build.gradle":      "gradle",
	"chart.yaml":        "helm",
	"main.tf":           "terraform",
	".tf":               "terraform",
	"playbook.yml":      "ansible",
}

func toolsFromFiles(files []string) []string {
	found := newSet()
	for _, f := range files {
		lower := strings.ToLower(f)
		for marker, tool := range toolFileMarkers {
			if strings.Contains(lower, marker) {
				found.add(tool)
			}
		}
	}
	return found.sorted()
}
