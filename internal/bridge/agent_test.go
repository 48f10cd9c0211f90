package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suxxes/zed-claude-code-sub000/internal/claude"
	"github.com/suxxes/zed-claude-code-sub000/internal/config"
)

// recordingEditor satisfies session.EditorClient and records session
// updates as JSON for assertions.
type recordingEditor struct {
	mu      sync.Mutex
	updates []string
}

func (r *recordingEditor) SessionUpdate(ctx context.Context, params acp.SessionNotification) error {
	raw, err := json.Marshal(params.Update)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, string(raw))
	return nil
}

func (r *recordingEditor) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updates...)
}

func (r *recordingEditor) ReadTextFile(ctx context.Context, params acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	return acp.ReadTextFileResponse{}, nil
}

func (r *recordingEditor) WriteTextFile(ctx context.Context, params acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	return acp.WriteTextFileResponse{}, nil
}

func (r *recordingEditor) RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeCancelled()}, nil
}

func (r *recordingEditor) CreateTerminal(ctx context.Context, params acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, nil
}

func (r *recordingEditor) TerminalOutput(ctx context.Context, params acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, nil
}

func (r *recordingEditor) WaitForTerminalExit(ctx context.Context, params acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, nil
}

func (r *recordingEditor) KillTerminalCommand(ctx context.Context, params acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}

func (r *recordingEditor) ReleaseTerminal(ctx context.Context, params acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}

func newTestAgent() (*Agent, *recordingEditor) {
	editor := &recordingEditor{}
	agent := New(config.Default())
	agent.SetClient(editor)
	return agent, editor
}

// feed returns a channel preloaded with messages. Closing behavior is
// controlled by the closed flag.
func feed(closed bool, messages ...claude.StreamMessage) <-chan claude.StreamMessage {
	ch := make(chan claude.StreamMessage, len(messages)+1)
	for _, m := range messages {
		ch <- m
	}
	if closed {
		close(ch)
	}
	return ch
}

func assistantText(text string) claude.StreamMessage {
	return claude.StreamMessage{
		Type:    claude.TypeAssistant,
		Message: &claude.Message{Role: "assistant", Content: []claude.ContentBlock{claude.TextBlock(text)}},
	}
}

func result(subtype, text string) claude.StreamMessage {
	return claude.StreamMessage{Type: claude.TypeResult, Subtype: subtype, Result: text}
}

func TestRunTurn_Success(t *testing.T) {
	agent, editor := newTestAgent()

	resp, err := agent.runTurn(context.Background(), "s1", "/work", feed(true,
		claude.StreamMessage{Type: claude.TypeSystem, Subtype: "init"},
		assistantText("Hello!"),
		result(claude.SubtypeSuccess, "Hello!"),
	))
	require.NoError(t, err)
	assert.Equal(t, acp.StopReasonEndTurn, resp.StopReason)

	updates := editor.recorded()
	require.Len(t, updates, 1, "system items are ignored")
	assert.Contains(t, updates[0], "agent_message_chunk")
	assert.Contains(t, updates[0], "Hello!")
}

func TestRunTurn_StreamEndsWithoutResult(t *testing.T) {
	agent, _ := newTestAgent()

	_, err := agent.runTurn(context.Background(), "s1", "/work", feed(true,
		assistantText("partial"),
	))
	require.ErrorIs(t, err, ErrTurnInvariant)
}

func TestRunTurn_StreamEndsWhileAborted(t *testing.T) {
	agent, _ := newTestAgent()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := agent.runTurn(ctx, "s1", "/work", feed(true))
	require.NoError(t, err)
	assert.Equal(t, acp.StopReasonCancelled, resp.StopReason)
}

func TestRunTurn_AbortedTurnSkipsItemsAndCancels(t *testing.T) {
	agent, editor := newTestAgent()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := agent.runTurn(ctx, "s1", "/work", feed(true,
		assistantText("stale output"),
		result(claude.SubtypeSuccess, "stale"),
	))
	require.NoError(t, err)
	assert.Equal(t, acp.StopReasonCancelled, resp.StopReason)
	assert.Empty(t, editor.recorded(), "aborted turns emit nothing")
}

func TestRunTurn_StopReasons(t *testing.T) {
	tests := []struct {
		subtype string
		want    acp.StopReason
	}{
		{claude.SubtypeSuccess, acp.StopReasonEndTurn},
		{claude.SubtypeRefusal, acp.StopReasonRefusal},
		{claude.SubtypeErrorDuringExecution, acp.StopReasonRefusal},
		{claude.SubtypeErrorMaxTurns, acp.StopReasonMaxTurnRequests},
		{"something_new", acp.StopReasonRefusal},
	}
	for _, tt := range tests {
		t.Run(tt.subtype, func(t *testing.T) {
			agent, _ := newTestAgent()
			resp, err := agent.runTurn(context.Background(), "s1", "/work", feed(true,
				result(tt.subtype, "done"),
			))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StopReason)
		})
	}
}

func TestRunTurn_AuthRequiredResult(t *testing.T) {
	agent, _ := newTestAgent()

	_, err := agent.runTurn(context.Background(), "s1", "/work", feed(true,
		result(claude.SubtypeSuccess, "Invalid API key. Please run /login."),
	))
	require.ErrorIs(t, err, ErrAuthRequired)
}

func TestRunTurn_AuthRequiredAssistantMarker(t *testing.T) {
	agent, _ := newTestAgent()

	_, err := agent.runTurn(context.Background(), "s1", "/work", feed(true,
		assistantText("Please run /login to continue."),
	))
	require.ErrorIs(t, err, ErrAuthRequired)
}

func TestRunTurn_UnknownItemKind(t *testing.T) {
	agent, _ := newTestAgent()

	_, err := agent.runTurn(context.Background(), "s1", "/work", feed(true,
		claude.StreamMessage{Type: "garbage"},
	))
	require.ErrorIs(t, err, ErrTurnInvariant)
}

func TestRunTurn_ToolCallFlow(t *testing.T) {
	agent, editor := newTestAgent()

	use := claude.ContentBlock{
		Type:  claude.BlockToolUse,
		ID:    "tu-1",
		Name:  "mcp__acp__read",
		Input: json.RawMessage(`{"path":"/work/main.go"}`),
	}
	resultBlock := claude.ContentBlock{
		Type:      claude.BlockToolResult,
		ToolUseID: "tu-1",
		Content:   json.RawMessage(`"package main"`),
	}

	resp, err := agent.runTurn(context.Background(), "s1", "/work", feed(true,
		claude.StreamMessage{Type: claude.TypeAssistant, Message: &claude.Message{Role: "assistant", Content: []claude.ContentBlock{use}}},
		claude.StreamMessage{Type: claude.TypeUser, Message: &claude.Message{Role: "user", Content: []claude.ContentBlock{resultBlock}}},
		result(claude.SubtypeSuccess, "done"),
	))
	require.NoError(t, err)
	assert.Equal(t, acp.StopReasonEndTurn, resp.StopReason)

	updates := editor.recorded()
	require.Len(t, updates, 2)
	assert.Contains(t, updates[0], `"tool_call"`)
	assert.Contains(t, updates[0], "tu-1")
	assert.Contains(t, updates[1], "tool_call_update")
	assert.Contains(t, updates[1], "completed")
}

func TestTranslatePrompt(t *testing.T) {
	blocks := translatePrompt([]acp.ContentBlock{
		acp.TextBlock("fix the bug"),
	})
	require.Len(t, blocks, 1)
	assert.Equal(t, claude.BlockText, blocks[0].Type)
	assert.Equal(t, "fix the bug", blocks[0].Text)
}

func TestEmbeddedResource(t *testing.T) {
	uri, text := embeddedResource(map[string]any{
		"uri":  "file:///work/main.go",
		"text": "package main",
	})
	assert.Equal(t, "file:///work/main.go", uri)
	assert.Equal(t, "package main", text)
}

func TestInitialize(t *testing.T) {
	agent, _ := newTestAgent()

	resp, err := agent.Initialize(context.Background(), acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs:       acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, acp.ProtocolVersion(acp.ProtocolVersionNumber), resp.ProtocolVersion)
	assert.False(t, resp.AgentCapabilities.LoadSession)
	require.Len(t, resp.AuthMethods, 1)
	assert.EqualValues(t, AuthMethodID, resp.AuthMethods[0].Id)

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.True(t, agent.caps.Terminal)
}

func TestPrompt_UnknownSession(t *testing.T) {
	agent, _ := newTestAgent()
	_, err := agent.Prompt(context.Background(), acp.PromptRequest{SessionId: "nope"})
	require.Error(t, err)
}

func TestCancel_UnknownSession(t *testing.T) {
	agent, _ := newTestAgent()
	require.Error(t, agent.Cancel(context.Background(), acp.CancelNotification{SessionId: "nope"}))
}
