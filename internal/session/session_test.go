package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suxxes/zed-claude-code-sub000/internal/claude"
	"github.com/suxxes/zed-claude-code-sub000/internal/config"
	"github.com/suxxes/zed-claude-code-sub000/internal/msgqueue"
)

type fakeQuery struct {
	mu         sync.Mutex
	interrupts int
	closed     bool
	out        chan claude.StreamMessage
	done       chan struct{}
}

func newFakeQuery() *fakeQuery {
	return &fakeQuery{out: make(chan claude.StreamMessage, 16), done: make(chan struct{})}
}

func (f *fakeQuery) Messages() <-chan claude.StreamMessage { return f.out }
func (f *fakeQuery) Done() <-chan struct{}                 { return f.done }

func (f *fakeQuery) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeQuery) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeQuery) interruptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

func newFakeSession() (*Session, *fakeQuery) {
	query := newFakeQuery()
	return &Session{
		ID:    "sess-1",
		Queue: msgqueue.New[claude.UserMessage](),
		query: query,
		log:   zerolog.Nop(),
	}, query
}

func TestBeginTurn_AbortsPredecessor(t *testing.T) {
	sess, query := newFakeSession()

	first, _ := sess.BeginTurn(context.Background())

	released := make(chan struct{})
	go func() {
		// The superseded loop notices cancellation and releases the
		// turn, as the prompt loop does after draining to its result.
		<-first.Done()
		sess.EndTurn()
		close(released)
	}()

	second, cancel := sess.BeginTurn(context.Background())
	defer cancel()

	<-released
	require.Error(t, first.Err(), "superseded turn must be cancelled")
	require.NoError(t, second.Err(), "fresh turn must not inherit the abort")
	assert.Equal(t, 1, query.interruptCount())
	sess.EndTurn()
}

func TestCancel_AbortsActiveTurn(t *testing.T) {
	sess, query := newFakeSession()

	turnCtx, _ := sess.BeginTurn(context.Background())
	sess.Cancel()

	select {
	case <-turnCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("turn context not cancelled")
	}
	assert.Equal(t, 1, query.interruptCount())
	sess.EndTurn()
}

func TestCancel_NoActiveTurnIsNoop(t *testing.T) {
	sess, query := newFakeSession()
	sess.Cancel()
	assert.Equal(t, 0, query.interruptCount())
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry(config.Default(), nil)
	_, err := reg.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, reg.Cancel("missing"), ErrNotFound)
	require.ErrorIs(t, reg.Close("missing"), ErrNotFound)
}

func TestRegistry_CreateFailsWithoutCLI(t *testing.T) {
	cfg := config.Default()
	cfg.ClaudePath = "/nonexistent/claude"
	reg := NewRegistry(cfg, nil)

	_, err := reg.Create(context.Background(), t.TempDir(), acp.ClientCapabilities{})
	require.Error(t, err)
	assert.Empty(t, reg.sessions, "failed create must not leave a registered session")
}

func TestRegistry_CreateRegistersSession(t *testing.T) {
	cfg := config.Default()
	cfg.ClaudePath = "/bin/true"
	reg := NewRegistry(cfg, nil)

	sess, err := reg.Create(context.Background(), t.TempDir(), acp.ClientCapabilities{})
	require.NoError(t, err)
	defer reg.CloseAll()

	// The tool server's liveness check resolves sessions through the
	// registry, so the session must be registered by the time the CLI
	// can issue its first tool call.
	got, err := reg.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.NotNil(t, sess.query)
}

func TestBuildClaudeOptions_CapabilityGating(t *testing.T) {
	cfg := config.Default()
	cfg.ClaudePath = "/usr/bin/claude"

	tests := []struct {
		name       string
		caps       acp.ClientCapabilities
		allowed    []string
		disallowed []string
	}{
		{
			name: "no capabilities",
		},
		{
			name:       "read only",
			caps:       acp.ClientCapabilities{Fs: acp.FileSystemCapability{ReadTextFile: true}},
			allowed:    []string{"mcp__acp__read"},
			disallowed: []string{"Read"},
		},
		{
			name: "read and write",
			caps: acp.ClientCapabilities{Fs: acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true}},
			allowed: []string{
				"mcp__acp__read", "mcp__acp__write", "mcp__acp__edit", "mcp__acp__multi_edit",
			},
			disallowed: []string{"Read", "Edit", "Write", "MultiEdit", "NotebookEdit"},
		},
		{
			name:       "terminal",
			caps:       acp.ClientCapabilities{Terminal: true},
			allowed:    []string{"mcp__acp__bash", "mcp__acp__bash_output", "mcp__acp__kill_bash"},
			disallowed: []string{"Bash", "BashOutput", "KillBash"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := buildClaudeOptions(cfg, tt.caps, "sess-1", "/work", "http://127.0.0.1:1234/mcp")
			assert.ElementsMatch(t, tt.allowed, opts.AllowedTools)
			assert.ElementsMatch(t, tt.disallowed, opts.DisallowedTools)
			assert.Equal(t, "mcp__acp__permission", opts.PermissionPromptTool)

			srv, ok := opts.MCPServers["acp"]
			require.True(t, ok)
			assert.Equal(t, "http", srv.Type)
			assert.Equal(t, "http://127.0.0.1:1234/mcp", srv.URL)
			assert.Equal(t, "sess-1", srv.Headers["X-Acp-Session-Id"])
		})
	}
}

func TestWaitReachable_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := waitReachable(ctx, "127.0.0.1:1")
	require.Error(t, err)
}
