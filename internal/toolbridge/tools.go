package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/suxxes/zed-claude-code-sub000/internal/event"
	"github.com/suxxes/zed-claude-code-sub000/internal/terminal"
)

// deniedMessage is returned verbatim whenever a permission request is
// rejected, cancelled, or comes back malformed.
const deniedMessage = "User refused permission to run tool"

// toolUseIDMetaKey is where the CLI places the originating tool use id
// on MCP tool calls.
const toolUseIDMetaKey = "claudecode/toolUseId"

func (s *Server) registerTools(m *server.MCPServer) {
	m.AddTool(mcp.NewTool("permission",
		mcp.WithDescription("Request permission from the user to run a tool"),
		mcp.WithString("tool_name", mcp.Required(), mcp.Description("Name of the tool requesting permission")),
		mcp.WithObject("input", mcp.Description("Input the tool will be called with")),
		mcp.WithString("tool_use_id", mcp.Description("Id of the originating tool use")),
	), s.handlePermission)

	if s.opts.FsRead {
		m.AddTool(mcp.NewTool("read",
			mcp.WithDescription("Read a text file through the editor, including unsaved changes"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Absolute or working-directory-relative file path")),
			mcp.WithNumber("offset", mcp.Description("1-indexed line to start reading from")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of lines to read")),
		), s.handleRead)
	}

	if s.opts.FsWrite {
		m.AddTool(mcp.NewTool("write",
			mcp.WithDescription("Write a text file through the editor"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Absolute or working-directory-relative file path")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Full file content")),
		), s.handleWrite)

		m.AddTool(mcp.NewTool("edit",
			mcp.WithDescription("Replace text within a file through the editor"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Absolute or working-directory-relative file path")),
			mcp.WithString("oldText", mcp.Description("Exact text to replace; omit to overwrite the whole file")),
			mcp.WithString("newText", mcp.Description("Replacement text")),
			mcp.WithString("content", mcp.Description("Full file content when overwriting")),
			mcp.WithBoolean("replaceAll", mcp.Description("Replace every occurrence instead of the first")),
		), s.handleEdit)

		m.AddTool(mcp.NewTool("multi_edit",
			mcp.WithDescription("Apply several text replacements to one file through the editor"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Absolute or working-directory-relative file path")),
			mcp.WithArray("edits", mcp.Required(),
				mcp.Description("Replacements applied as one batch"),
				mcp.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"oldText":    map[string]any{"type": "string"},
						"newText":    map[string]any{"type": "string"},
						"replaceAll": map[string]any{"type": "boolean"},
					},
					"required": []string{"oldText", "newText"},
				}),
			),
		), s.handleMultiEdit)
	}

	if s.opts.Terminals != nil {
		m.AddTool(mcp.NewTool("bash",
			mcp.WithDescription("Run a shell command in an editor terminal"),
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command line to run")),
			mcp.WithNumber("timeout", mcp.Description("Timeout in milliseconds")),
			mcp.WithBoolean("run_in_background", mcp.Description("Return immediately and poll output later")),
		), s.handleBash)

		m.AddTool(mcp.NewTool("bash_output",
			mcp.WithDescription("Fetch new output from a background terminal"),
			mcp.WithString("terminal_id", mcp.Required(), mcp.Description("Terminal id returned by the bash tool")),
		), s.handleBashOutput)

		m.AddTool(mcp.NewTool("kill_bash",
			mcp.WithDescription("Terminate a background terminal"),
			mcp.WithString("terminal_id", mcp.Required(), mcp.Description("Terminal id returned by the bash tool")),
		), s.handleKillBash)
	}
}

// noSessionResult is the benign reply used when the owning session has
// been closed between the CLI's call and our handling of it.
func noSessionResult() *mcp.CallToolResult {
	return mcp.NewToolResultText("Session closed; tool call ignored.")
}

func (s *Server) handleRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.opts.Alive() {
		return noSessionResult(), nil
	}
	args := request.GetArguments()
	path := s.resolve(stringArg(args, "path"))
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	req := acp.ReadTextFileRequest{
		SessionId: acp.SessionId(s.opts.SessionID),
		Path:      path,
	}
	wholeFile := true
	if offset, ok := intArg(args, "offset"); ok {
		req.Line = acp.Ptr(offset)
		wholeFile = false
	}
	if limit, ok := intArg(args, "limit"); ok {
		req.Limit = acp.Ptr(limit)
		wholeFile = false
	}

	resp, err := s.opts.Client.ReadTextFile(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read %s: %v", path, err)), nil
	}
	if wholeFile && s.opts.Cache != nil {
		s.opts.Cache.Set(path, resp.Content, true)
	}
	return mcp.NewToolResultText(resp.Content), nil
}

func (s *Server) handleWrite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.opts.Alive() {
		return noSessionResult(), nil
	}
	args := request.GetArguments()
	path := s.resolve(stringArg(args, "path"))
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	content, ok := args["content"].(string)
	if !ok {
		return mcp.NewToolResultError("content is required"), nil
	}

	if err := s.writeFile(ctx, path, content); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to write %s: %v", path, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Wrote %s", path)), nil
}

func (s *Server) handleEdit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.opts.Alive() {
		return noSessionResult(), nil
	}
	args := request.GetArguments()
	path := s.resolve(stringArg(args, "path"))
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	oldText, hasOld := args["oldText"].(string)
	if !hasOld || oldText == "" {
		// Content without oldText is a whole-file write.
		content, ok := args["content"].(string)
		if !ok {
			content, ok = args["newText"].(string)
		}
		if !ok {
			return mcp.NewToolResultError("either oldText or content is required"), nil
		}
		if err := s.writeFile(ctx, path, content); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to write %s: %v", path, err)), nil
		}
		return mcp.NewToolResultText("[]"), nil
	}

	newText, _ := args["newText"].(string)
	replaceAll, _ := args["replaceAll"].(bool)
	return s.applyAndReport(ctx, path, []Edit{{OldText: oldText, NewText: newText, ReplaceAll: replaceAll}})
}

func (s *Server) handleMultiEdit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.opts.Alive() {
		return noSessionResult(), nil
	}
	args := request.GetArguments()
	path := s.resolve(stringArg(args, "path"))
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	rawEdits, ok := args["edits"].([]any)
	if !ok {
		return mcp.NewToolResultError("edits is required"), nil
	}
	edits := make([]Edit, 0, len(rawEdits))
	for _, raw := range rawEdits {
		entry, ok := raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("each edit must be an object with oldText and newText"), nil
		}
		oldText, _ := entry["oldText"].(string)
		newText, _ := entry["newText"].(string)
		replaceAll, _ := entry["replaceAll"].(bool)
		edits = append(edits, Edit{OldText: oldText, NewText: newText, ReplaceAll: replaceAll})
	}

	return s.applyAndReport(ctx, path, edits)
}

// applyAndReport reads the current file content, applies a batch of
// edits, writes the result back, and returns the touched line numbers
// as the only content.
func (s *Server) applyAndReport(ctx context.Context, path string, edits []Edit) (*mcp.CallToolResult, error) {
	current, err := s.currentContent(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read %s: %v", path, err)), nil
	}

	updated, lines := applyEdits(current, edits)
	if updated != current {
		if err := s.writeFile(ctx, path, updated); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to write %s: %v", path, err)), nil
		}
	}

	if lines == nil {
		lines = []int{}
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode line numbers: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// currentContent prefers the cached copy of a file, falling back to a
// whole-file read through the editor.
func (s *Server) currentContent(ctx context.Context, path string) (string, error) {
	if s.opts.Cache != nil {
		if cached, ok := s.opts.Cache.Get(path); ok {
			return cached, nil
		}
	}
	resp, err := s.opts.Client.ReadTextFile(ctx, acp.ReadTextFileRequest{
		SessionId: acp.SessionId(s.opts.SessionID),
		Path:      path,
	})
	if err != nil {
		return "", err
	}
	if s.opts.Cache != nil {
		s.opts.Cache.Set(path, resp.Content, true)
	}
	return resp.Content, nil
}

// writeFile pushes content through the editor, refreshes the cache
// with the written content, and announces the edit.
func (s *Server) writeFile(ctx context.Context, path, content string) error {
	// Disarm any existing watch first so our own write does not evict
	// the entry set below.
	if s.opts.Cache != nil {
		s.opts.Cache.Invalidate(path)
	}
	_, err := s.opts.Client.WriteTextFile(ctx, acp.WriteTextFileRequest{
		SessionId: acp.SessionId(s.opts.SessionID),
		Path:      path,
		Content:   content,
	})
	if err != nil {
		return err
	}
	if s.opts.Cache != nil {
		s.opts.Cache.Set(path, content, true)
	}
	event.Publish(event.Event{
		Type: event.FileEdited,
		Data: event.FileEditedData{SessionID: s.opts.SessionID, File: path},
	})
	return nil
}

// permissionReply is the JSON contract of the permission prompt tool.
type permissionReply struct {
	Behavior     string         `json:"behavior"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
	Message      string         `json:"message,omitempty"`
}

func permissionResult(reply permissionReply) *mcp.CallToolResult {
	payload, err := json.Marshal(reply)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode permission reply: %v", err))
	}
	return mcp.NewToolResultText(string(payload))
}

func (s *Server) handlePermission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.opts.Alive() {
		return permissionResult(permissionReply{Behavior: "deny", Message: deniedMessage}), nil
	}
	args := request.GetArguments()
	toolName := stringArg(args, "tool_name")
	if toolName == "" {
		return mcp.NewToolResultError("tool_name is required"), nil
	}
	input, _ := args["input"].(map[string]any)
	toolUseID := stringArg(args, "tool_use_id")
	if toolUseID == "" {
		toolUseID = uuid.NewString()
	}

	if s.allowCached(toolName) {
		s.publishPermission(toolName, true, true)
		return permissionResult(permissionReply{Behavior: "allow", UpdatedInput: input}), nil
	}

	resp, err := s.opts.Client.RequestPermission(ctx, acp.RequestPermissionRequest{
		SessionId: acp.SessionId(s.opts.SessionID),
		ToolCall: acp.ToolCallUpdate{
			ToolCallId: acp.ToolCallId(toolUseID),
			Title:      acp.Ptr(toolName),
			RawInput:   input,
		},
		Options: []acp.PermissionOption{
			{OptionId: "always-allow", Name: "Always Allow", Kind: acp.PermissionOptionKindAllowAlways},
			{OptionId: "allow-once", Name: "Allow", Kind: acp.PermissionOptionKindAllowOnce},
			{OptionId: "reject-once", Name: "Reject", Kind: acp.PermissionOptionKindRejectOnce},
		},
	})
	if err != nil {
		s.publishPermission(toolName, false, false)
		return permissionResult(permissionReply{Behavior: "deny", Message: deniedMessage}), nil
	}

	if resp.Outcome.Selected != nil {
		switch resp.Outcome.Selected.OptionId {
		case "always-allow":
			s.cacheAllow(toolName)
			s.publishPermission(toolName, true, true)
			return permissionResult(permissionReply{Behavior: "allow", UpdatedInput: input}), nil
		case "allow-once":
			s.publishPermission(toolName, true, false)
			return permissionResult(permissionReply{Behavior: "allow", UpdatedInput: input}), nil
		}
	}
	// Reject, cancel, and anything unrecognized all deny.
	s.publishPermission(toolName, false, false)
	return permissionResult(permissionReply{Behavior: "deny", Message: deniedMessage}), nil
}

func (s *Server) publishPermission(toolName string, granted, always bool) {
	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			SessionID: s.opts.SessionID,
			ToolName:  toolName,
			Granted:   granted,
			Always:    always,
		},
	})
}

func (s *Server) handleBash(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.opts.Alive() {
		return noSessionResult(), nil
	}
	args := request.GetArguments()
	command := stringArg(args, "command")
	if command == "" {
		return mcp.NewToolResultError("command is required"), nil
	}
	toolUseID := requestToolUseID(request)
	if toolUseID == "" {
		return mcp.NewToolResultError("terminal tool call is missing its tool use id"), nil
	}

	params := terminal.RunParams{
		Command:   command,
		ToolUseID: toolUseID,
	}
	if ms, ok := intArg(args, "timeout"); ok && ms > 0 {
		params.Timeout = time.Duration(ms) * time.Millisecond
	}
	background, _ := args["run_in_background"].(bool)
	params.Background = background

	runCtx := ctx
	if background {
		// The race outlives this request.
		runCtx = context.Background()
	}
	out, err := s.opts.Terminals.Run(runCtx, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run command: %v", err)), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleBashOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.opts.Alive() {
		return noSessionResult(), nil
	}
	terminalID := stringArg(request.GetArguments(), "terminal_id")
	out, err := s.opts.Terminals.Output(ctx, terminalID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleKillBash(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.opts.Alive() {
		return noSessionResult(), nil
	}
	terminalID := stringArg(request.GetArguments(), "terminal_id")
	out, err := s.opts.Terminals.Kill(ctx, terminalID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

// resolve makes relative paths absolute against the session's working
// directory.
func (s *Server) resolve(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.opts.Cwd, path)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// requestToolUseID extracts the originating tool use id the CLI places
// in call metadata.
func requestToolUseID(request mcp.CallToolRequest) string {
	meta := request.Params.Meta
	if meta == nil {
		return ""
	}
	if v, ok := meta.AdditionalFields[toolUseIDMetaKey].(string); ok {
		return v
	}
	return ""
}
