package presenter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/coder/acp-go-sdk"

	"github.com/suxxes/zed-claude-code-sub000/internal/claude"
)

func toolUse(name, input string) claude.ContentBlock {
	return claude.ContentBlock{
		Type:  claude.BlockToolUse,
		ID:    "toolu_1",
		Name:  name,
		Input: json.RawMessage(input),
	}
}

func TestDescribe_Read(t *testing.T) {
	p := New("/work")

	d, err := p.Describe(toolUse("Read", `{"file_path": "src/main.go"}`))
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if d.Kind != acp.ToolKindRead {
		t.Errorf("Kind = %v, want read", d.Kind)
	}
	if d.Title != "Read src/main.go" {
		t.Errorf("Title = %q", d.Title)
	}
	if len(d.Locations) != 1 || d.Locations[0].Path != "/work/src/main.go" {
		t.Errorf("Locations = %+v, want absolutized path", d.Locations)
	}
}

func TestDescribe_BridgedEditWithDiff(t *testing.T) {
	p := New("/work")

	d, err := p.Describe(toolUse("mcp__acp__edit",
		`{"file_path": "/work/a.go", "old_text": "x := 1\n", "new_text": "x := 2\n"}`))
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if d.Kind != acp.ToolKindEdit {
		t.Errorf("Kind = %v, want edit", d.Kind)
	}
	if d.Title != "Edit a.go" {
		t.Errorf("Title = %q", d.Title)
	}
	if len(d.Content) == 0 {
		t.Fatal("edit description should carry a diff preview")
	}
	preview := contentJSON(t, d.Content)
	if !strings.Contains(preview, "-x := 1") || !strings.Contains(preview, "+x := 2") {
		t.Errorf("diff preview = %s", preview)
	}
}

func TestDescribe_BashTitles(t *testing.T) {
	p := New("/work")

	d, err := p.Describe(toolUse("Bash", `{"command": "go test ./..."}`))
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if d.Kind != acp.ToolKindExecute {
		t.Errorf("Kind = %v, want execute", d.Kind)
	}
	if d.Title != "`go test ./...`" {
		t.Errorf("Title = %q", d.Title)
	}

	// A multi-line script collapses to its command words.
	script := "set -e\ngit status\ngit diff | head -5\n"
	d, err = p.Describe(toolUse("Bash", `{"command": `+mustJSON(script)+`}`))
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if !strings.Contains(d.Title, "git") {
		t.Errorf("script title should mention its commands, got %q", d.Title)
	}
}

func TestDescribe_UnknownToolIsGenericNotError(t *testing.T) {
	p := New("/work")

	d, err := p.Describe(toolUse("mcp__jira__create_ticket", `{"summary": "bug"}`))
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if d.Kind != acp.ToolKindOther {
		t.Errorf("Kind = %v, want other", d.Kind)
	}
	if d.Title != "mcp__jira__create_ticket" {
		t.Errorf("Title = %q, want raw tool name", d.Title)
	}
	if d.RawInput["summary"] != "bug" {
		t.Errorf("RawInput = %v", d.RawInput)
	}
}

func TestDescribe_BadInputFallsBackToGeneric(t *testing.T) {
	p := New("/work")

	use := toolUse("Read", `{not json`)
	if _, err := p.Describe(use); err == nil {
		t.Fatal("Describe with bad input should fail")
	}

	g := Generic(use)
	if g.Title != "Read" || g.Kind != acp.ToolKindOther {
		t.Errorf("Generic = %+v", g)
	}
}

func TestSummarize(t *testing.T) {
	p := New("/work")

	result := claude.ContentBlock{
		Type:      claude.BlockToolResult,
		ToolUseID: "toolu_1",
		Content:   json.RawMessage(`"2 files changed"`),
	}
	use := toolUse("Bash", `{"command": "git commit"}`)

	s, err := p.Summarize(result, &use)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if len(s.Content) != 1 || !strings.Contains(contentJSON(t, s.Content), "2 files changed") {
		t.Errorf("Content = %s", contentJSON(t, s.Content))
	}

	// Read results are suppressed; the editor already shows the file.
	readUse := toolUse("Read", `{"file_path": "/work/a.go"}`)
	s, err = p.Summarize(claude.ContentBlock{
		Type:    claude.BlockToolResult,
		Content: json.RawMessage(`"package a\n..."`),
	}, &readUse)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.Content != nil {
		t.Errorf("read result content should be suppressed, got %+v", s.Content)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want category
	}{
		{"Read", catRead},
		{"mcp__acp__read", catRead},
		{"Write", catWrite},
		{"MultiEdit", catMultiEdit},
		{"mcp__acp__multi_edit", catMultiEdit},
		{"Bash", catBash},
		{"Grep", catSearch},
		{"WebFetch", catFetch},
		{"TodoWrite", catTodo},
		{"SomethingNew", catGeneric},
	}
	for _, tt := range tests {
		if got := classify(tt.name); got != tt.want {
			t.Errorf("classify(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func contentJSON(t *testing.T, content []acp.ToolCallContent) string {
	t.Helper()
	b, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	return string(b)
}
