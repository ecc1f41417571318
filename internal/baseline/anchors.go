// Package baseline extracts structured facts from documents and PR
// evidence, and compares the two sides per drift type.
package baseline

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/driftwatch/driftwatch/internal/drift"
)

var (
	ownerLinePattern  = regexp.MustCompile(`(?im)^\s*(?:owner|owners|maintained by|maintainer|team)\s*[:\-]\s*(@?[\w./-]+)`)
	configKeyPattern  = regexp.MustCompile(`^[A-Z][A-Z0-9_]{2,}$|^[a-z][\w-]*(?:\.[\w-]+)+$`)
	endpointPattern   = regexp.MustCompile(`^(?:GET|POST|PUT|PATCH|DELETE)?\s*(/[\w{}/.:-]+)$`)
	yamlKeyPattern    = regexp.MustCompile(`(?m)^\s*([\w.-]+):`)
	envAssignPattern  = regexp.MustCompile(`(?m)^([A-Z][A-Z0-9_]+)=`)
	commandHeadPattern = regexp.MustCompile(`^[a-z][\w./-]*$`)
	wordPattern       = regexp.MustCompile(`[a-z][a-z0-9_-]{3,}`)
)

// knownTools is the lexicon used to spot tooling references in docs and
// PRs, keyed by the canonical tool name.
var knownTools = map[string][]string{
	"docker":         {"docker", "dockerfile", "docker-compose"},
	"kubectl":        {"kubectl"},
	"helm":           {"helm"},
	"terraform":      {"terraform"},
	"ansible":        {"ansible"},
	"jenkins":        {"jenkins", "jenkinsfile"},
	"circleci":       {"circleci", ".circleci"},
	"github-actions": {"github actions", ".github/workflows", "workflow_dispatch"},
	"make":           {"makefile"},
	"npm":            {"npm"},
	"yarn":           {"yarn"},
	"pnpm":           {"pnpm"},
	"pip":            {"pip", "requirements.txt"},
	"poetry":         {"poetry", "pyproject.toml"},
	"gradle":         {"gradle"},
	"maven":          {"maven", "pom.xml"},
	"bazel":          {"bazel"},
	"vault":          {"vault"},
}

// shellLangs are fenced-code languages treated as command blocks.
var shellLangs = map[string]bool{
	"": true, "sh": true, "bash": true, "shell": true, "console": true, "zsh": true,
}

// configLangs are fenced-code languages treated as configuration blocks.
var configLangs = map[string]bool{
	"yaml": true, "yml": true, "toml": true, "ini": true, "env": true, "properties": true, "json": true,
}

// ExtractAnchors walks the document's markdown AST and collects the
// baseline anchors later stages compare PR evidence against.
func ExtractAnchors(content string) drift.Anchors {
	src := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var an drift.Anchors
	commands := newSet()
	configKeys := newSet()
	endpoints := newSet()
	tools := newSet()
	var steps []string

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			lang := string(node.Language(src))
			body := blockText(node, src)
			if shellLangs[lang] {
				for _, cmd := range commandsFromShell(body) {
					commands.add(cmd)
				}
			}
			if configLangs[lang] {
				for _, key := range keysFromConfig(body) {
					configKeys.add(key)
				}
			}
		case *ast.CodeSpan:
			tok := strings.TrimSpace(spanText(node, src))
			switch classifyToken(tok) {
			case tokenCommand:
				commands.add(tok)
			case tokenConfigKey:
				configKeys.add(tok)
			case tokenEndpoint:
				endpoints.add(normalizeEndpoint(tok))
			}
		case *ast.ListItem:
			if list, ok := node.Parent().(*ast.List); ok && list.IsOrdered() {
				if txt := strings.TrimSpace(itemText(node, src)); txt != "" {
					steps = append(steps, txt)
				}
			}
		}
		return ast.WalkContinue, nil
	})

	lower := strings.ToLower(content)
	for tool, markers := range knownTools {
		for _, m := range markers {
			if strings.Contains(lower, m) {
				tools.add(tool)
				break
			}
		}
	}

	if m := ownerLinePattern.FindStringSubmatch(content); m != nil {
		an.StatedOwner = strings.TrimPrefix(m[1], "@")
	}

	an.Commands = commands.sorted()
	an.ConfigKeys = configKeys.sorted()
	an.Endpoints = endpoints.sorted()
	an.ToolMentions = tools.sorted()
	an.Steps = steps
	an.CoverageKeywords = significantWords(content)
	return an
}

type tokenClass int

const (
	tokenOther tokenClass = iota
	tokenCommand
	tokenConfigKey
	tokenEndpoint
)

// classifyToken sorts an inline-code token into command, config key, or
// endpoint. Order matters: endpoints first, since "/path/to" would
// otherwise look like nothing at all.
func classifyToken(tok string) tokenClass {
	if tok == "" || len(tok) > 200 {
		return tokenOther
	}
	if m := endpointPattern.FindStringSubmatch(tok); m != nil && strings.HasPrefix(m[1], "/") {
		return tokenEndpoint
	}
	if configKeyPattern.MatchString(tok) {
		return tokenConfigKey
	}
	if looksLikeCommand(tok) {
		return tokenCommand
	}
	return tokenOther
}

func looksLikeCommand(tok string) bool {
	fields := strings.Fields(tok)
	if len(fields) < 2 {
		return false
	}
	first := fields[0]
	if strings.ContainsAny(first, ":={}") {
		return false
	}
	return commandHeadPattern.MatchString(first)
}

func commandsFromShell(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "$"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func keysFromConfig(body string) []string {
	var out []string
	for _, m := range yamlKeyPattern.FindAllStringSubmatch(body, -1) {
		out = append(out, m[1])
	}
	for _, m := range envAssignPattern.FindAllStringSubmatch(body, -1) {
		out = append(out, m[1])
	}
	return out
}

func normalizeEndpoint(tok string) string {
	if i := strings.Index(tok, "/"); i > 0 {
		method := strings.TrimSpace(tok[:i])
		return method + " " + tok[i:]
	}
	return tok
}

// significantWords returns the lowercased distinct words of the text,
// used as the doc-side coverage keyword set.
func significantWords(content string) []string {
	seen := newSet()
	for _, w := range wordPattern.FindAllString(strings.ToLower(content), -1) {
		seen.add(w)
	}
	return seen.sorted()
}

// CommandBase returns the command's base token, ignoring leading env
// assignments and sudo.
func CommandBase(cmd string) string {
	for _, f := range strings.Fields(cmd) {
		if strings.Contains(f, "=") || f == "sudo" {
			continue
		}
		return f
	}
	return cmd
}

// --- goldmark text helpers ---

func blockText(n *ast.FencedCodeBlock, src []byte) string {
	var b strings.Builder
	for i := 0; i < n.Lines().Len(); i++ {
		seg := n.Lines().At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

func spanText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return b.String()
}

func itemText(n ast.Node, src []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(node ast.Node) {
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				b.Write(t.Segment.Value(src))
				continue
			}
			if _, ok := c.(*ast.List); ok {
				continue // nested lists are their own steps
			}
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// --- small ordered set ---

type set map[string]struct{}

func newSet() set { return make(set) }

func (s set) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s set) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
