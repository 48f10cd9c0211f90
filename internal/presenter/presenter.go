// Package presenter renders model tool calls into editor-facing
// descriptions: a title, a tool kind, touched file locations, and
// preview content.
package presenter

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/coder/acp-go-sdk"
	"github.com/sergi/go-diff/diffmatchpatch"
	"mvdan.cc/sh/v3/syntax"

	"github.com/suxxes/zed-claude-code-sub000/internal/claude"
)

// Description is how a tool_use chunk is announced to the editor.
type Description struct {
	Title     string
	Kind      acp.ToolKind
	Locations []acp.ToolCallLocation
	Content   []acp.ToolCallContent
	RawInput  map[string]any
}

// Summary is how a tool_result chunk updates an announced tool call.
type Summary struct {
	Title     string
	Content   []acp.ToolCallContent
	Locations []acp.ToolCallLocation
}

// Presenter translates tool chunks for display. Implementations may
// fail; callers fall back to Generic.
type Presenter interface {
	Describe(use claude.ContentBlock) (Description, error)
	Summarize(result claude.ContentBlock, use *claude.ContentBlock) (Summary, error)
}

// category is the closed set of tool shapes the presenter understands.
// Unknown names land in catGeneric rather than failing.
type category int

const (
	catRead category = iota
	catWrite
	catEdit
	catMultiEdit
	catBash
	catBashOutput
	catKillBash
	catSearch
	catFetch
	catTask
	catTodo
	catGeneric
)

// classify maps a tool name, native or bridged, to its category.
func classify(name string) category {
	normalized := strings.ToLower(strings.TrimPrefix(name, "mcp__acp__"))
	switch normalized {
	case "read", "notebookread":
		return catRead
	case "write":
		return catWrite
	case "edit", "notebookedit":
		return catEdit
	case "multiedit", "multi_edit":
		return catMultiEdit
	case "bash":
		return catBash
	case "bash_output", "bashoutput":
		return catBashOutput
	case "kill_bash", "killbash", "killshell":
		return catKillBash
	case "grep", "glob", "ls", "websearch":
		return catSearch
	case "webfetch":
		return catFetch
	case "task", "agent":
		return catTask
	case "todowrite", "todoread":
		return catTodo
	default:
		return catGeneric
	}
}

// ToolPresenter is the default Presenter, resolving relative paths
// against the session working directory.
type ToolPresenter struct {
	cwd string
}

// New creates a presenter for the given working directory.
func New(cwd string) *ToolPresenter {
	return &ToolPresenter{cwd: cwd}
}

var _ Presenter = (*ToolPresenter)(nil)

// Describe renders a tool_use chunk.
func (p *ToolPresenter) Describe(use claude.ContentBlock) (Description, error) {
	input := map[string]any{}
	if len(use.Input) > 0 {
		if err := json.Unmarshal(use.Input, &input); err != nil {
			return Description{}, fmt.Errorf("tool %s: bad input: %w", use.Name, err)
		}
	}

	d := Description{
		Title:    use.Name,
		Kind:     acp.ToolKindOther,
		RawInput: input,
	}

	switch classify(use.Name) {
	case catRead:
		d.Kind = acp.ToolKindRead
		if path := p.inputPath(input); path != "" {
			d.Title = "Read " + p.display(path)
			d.Locations = []acp.ToolCallLocation{{Path: path}}
		} else {
			d.Title = "Read"
		}
	case catWrite:
		d.Kind = acp.ToolKindEdit
		path := p.inputPath(input)
		if path != "" {
			d.Title = "Write " + p.display(path)
			d.Locations = []acp.ToolCallLocation{{Path: path}}
		} else {
			d.Title = "Write"
		}
		if content, ok := input["content"].(string); ok && path != "" {
			d.Content = diffContent("", content)
		}
	case catEdit:
		d.Kind = acp.ToolKindEdit
		path := p.inputPath(input)
		if path != "" {
			d.Title = "Edit " + p.display(path)
			d.Locations = []acp.ToolCallLocation{{Path: path}}
		} else {
			d.Title = "Edit"
		}
		oldText, _ := stringField(input, "old_text", "oldText", "old_string")
		newText, _ := stringField(input, "new_text", "newText", "new_string")
		if oldText != "" || newText != "" {
			d.Content = diffContent(oldText, newText)
		}
	case catMultiEdit:
		d.Kind = acp.ToolKindEdit
		path := p.inputPath(input)
		if path != "" {
			d.Title = "Edit " + p.display(path)
			d.Locations = []acp.ToolCallLocation{{Path: path}}
		} else {
			d.Title = "Edit"
		}
	case catBash:
		d.Kind = acp.ToolKindExecute
		if command, ok := input["command"].(string); ok && command != "" {
			d.Title = commandTitle(command)
		} else {
			d.Title = "Run command"
		}
	case catBashOutput:
		d.Kind = acp.ToolKindExecute
		d.Title = "Check command output"
	case catKillBash:
		d.Kind = acp.ToolKindExecute
		d.Title = "Kill command"
	case catSearch:
		d.Kind = acp.ToolKindSearch
		if pattern, ok := stringField(input, "pattern", "query"); ok {
			d.Title = "Search " + truncateTitle(pattern)
		} else if path, ok := input["path"].(string); ok {
			d.Title = "List " + p.display(path)
		} else {
			d.Title = "Search"
		}
	case catFetch:
		d.Kind = acp.ToolKindFetch
		if url, ok := input["url"].(string); ok {
			d.Title = "Fetch " + truncateTitle(url)
		} else {
			d.Title = "Fetch"
		}
	case catTask:
		d.Kind = acp.ToolKindThink
		if desc, ok := input["description"].(string); ok && desc != "" {
			d.Title = truncateTitle(desc)
		} else {
			d.Title = "Task"
		}
	case catTodo:
		d.Kind = acp.ToolKindThink
		d.Title = "Update plan"
	case catGeneric:
		// Title stays the raw tool name.
	}

	return d, nil
}

// Summarize renders a tool_result chunk against its originating use.
func (p *ToolPresenter) Summarize(result claude.ContentBlock, use *claude.ContentBlock) (Summary, error) {
	text := result.ResultText()

	s := Summary{}
	if text != "" {
		s.Content = []acp.ToolCallContent{acp.ToolContent(acp.TextBlock(text))}
	}
	if result.IsError && text == "" {
		s.Content = []acp.ToolCallContent{acp.ToolContent(acp.TextBlock("Tool call failed"))}
	}

	if use != nil && classify(use.Name) == catRead {
		// Reads produce long file dumps; the editor already shows the
		// file, so keep the update content-free.
		s.Content = nil
	}
	return s, nil
}

// Generic is the fallback used when a Describe call fails: raw name,
// unknown kind, no locations.
func Generic(use claude.ContentBlock) Description {
	title := use.Name
	if title == "" {
		title = "Tool call"
	}
	return Description{Title: title, Kind: acp.ToolKindOther}
}

// GenericSummary is the fallback for failed Summarize calls.
func GenericSummary(result claude.ContentBlock) Summary {
	if text := result.ResultText(); text != "" {
		return Summary{Content: []acp.ToolCallContent{acp.ToolContent(acp.TextBlock(text))}}
	}
	return Summary{}
}

// inputPath extracts the file path argument, absolutized against cwd.
func (p *ToolPresenter) inputPath(input map[string]any) string {
	path, ok := stringField(input, "file_path", "filePath", "path", "abs_path")
	if !ok || path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.cwd, path)
	}
	return path
}

// display shortens an absolute path to be cwd-relative when possible.
func (p *ToolPresenter) display(path string) string {
	if p.cwd == "" {
		return path
	}
	if rel, err := filepath.Rel(p.cwd, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func stringField(input map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := input[key].(string); ok {
			return v, true
		}
	}
	return "", false
}

// commandTitle renders a shell command as a short title. The command
// is parsed so that pipelines and multi-line scripts collapse to their
// leading command words instead of a raw text dump.
func commandTitle(command string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return truncateTitle(firstLine(command))
	}

	var names []string
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok && len(call.Args) > 0 {
			if name := wordToString(call.Args[0]); name != "" {
				names = append(names, name)
			}
		}
		return true
	})
	if len(names) == 0 {
		return truncateTitle(firstLine(command))
	}

	short := firstLine(command)
	if len(short) <= 60 && !strings.Contains(command, "\n") {
		return "`" + short + "`"
	}
	return "`" + strings.Join(names, " | ") + "`"
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		if lit, ok := part.(*syntax.Lit); ok {
			sb.WriteString(lit.Value)
		}
	}
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncateTitle(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

// diffContent renders an old/new pair as a +/- prefixed preview.
func diffContent(oldText, newText string) []acp.ToolCallContent {
	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	preview := strings.TrimSuffix(sb.String(), "\n")
	if preview == "" {
		return nil
	}
	return []acp.ToolCallContent{acp.ToolContent(acp.TextBlock(preview))}
}
