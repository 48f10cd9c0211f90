// Package bridge implements the editor-facing agent: it accepts
// editor-protocol requests over stdio and drives Claude Code CLI
// sessions to answer them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/acp-go-sdk"
	"github.com/rs/zerolog"

	"github.com/suxxes/zed-claude-code-sub000/internal/claude"
	"github.com/suxxes/zed-claude-code-sub000/internal/config"
	"github.com/suxxes/zed-claude-code-sub000/internal/logging"
	"github.com/suxxes/zed-claude-code-sub000/internal/session"
)

// ErrAuthRequired abandons a turn because the CLI wants the user to log
// in first.
var ErrAuthRequired = errors.New("bridge: authentication required, run `claude /login`")

// ErrTurnInvariant marks a turn that broke the output-stream contract.
// It is fatal for the turn only; the session and process survive.
var ErrTurnInvariant = errors.New("bridge: model output stream violated the turn contract")

// AuthMethodID identifies the single supported authentication method.
const AuthMethodID = "claude-login"

// Agent bridges the editor protocol to Claude Code CLI sessions.
type Agent struct {
	cfg *config.Config
	log zerolog.Logger

	mu       sync.Mutex
	client   session.EditorClient
	sessions *session.Registry
	caps     acp.ClientCapabilities
}

var _ acp.Agent = (*Agent)(nil)

// New creates an agent. The editor connection is attached afterwards
// via SetAgentConnection.
func New(cfg *config.Config) *Agent {
	return &Agent{
		cfg: cfg,
		log: logging.With().Str("component", "bridge").Logger(),
	}
}

// SetAgentConnection implements acp.AgentConnAware.
func (a *Agent) SetAgentConnection(conn *acp.AgentSideConnection) {
	a.SetClient(conn)
}

// SetClient attaches the editor-side connection and builds the session
// registry on top of it.
func (a *Agent) SetClient(client session.EditorClient) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = client
	a.sessions = session.NewRegistry(a.cfg, client)
}

func (a *Agent) editor() session.EditorClient {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *Agent) registry() *session.Registry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions
}

// Initialize negotiates capabilities with the editor.
func (a *Agent) Initialize(ctx context.Context, params acp.InitializeRequest) (acp.InitializeResponse, error) {
	a.mu.Lock()
	a.caps = params.ClientCapabilities
	a.mu.Unlock()

	a.log.Info().
		Bool("fs_read", params.ClientCapabilities.Fs.ReadTextFile).
		Bool("fs_write", params.ClientCapabilities.Fs.WriteTextFile).
		Bool("terminal", params.ClientCapabilities.Terminal).
		Msg("editor connected")

	version := acp.ProtocolVersion(acp.ProtocolVersionNumber)
	if params.ProtocolVersion < version {
		version = params.ProtocolVersion
	}

	return acp.InitializeResponse{
		ProtocolVersion: version,
		AgentCapabilities: acp.AgentCapabilities{
			LoadSession: false,
			PromptCapabilities: acp.PromptCapabilities{
				Image:           true,
				EmbeddedContext: true,
			},
		},
		AuthMethods: []acp.AuthMethod{
			{
				Id:          AuthMethodID,
				Name:        "Log in with Claude Code",
				Description: acp.Ptr("Run `claude /login` in a terminal, then retry"),
			},
		},
	}, nil
}

// Authenticate cannot log the user in on their behalf; the CLI owns
// credentials.
func (a *Agent) Authenticate(ctx context.Context, params acp.AuthenticateRequest) (acp.AuthenticateResponse, error) {
	return acp.AuthenticateResponse{}, fmt.Errorf("run `claude /login` in a terminal to authenticate")
}

// NewSession starts a CLI process and a tool server for the editor.
func (a *Agent) NewSession(ctx context.Context, params acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	reg := a.registry()
	if reg == nil {
		return acp.NewSessionResponse{}, fmt.Errorf("no editor connection")
	}
	a.mu.Lock()
	caps := a.caps
	a.mu.Unlock()

	sess, err := reg.Create(ctx, params.Cwd, caps)
	if err != nil {
		return acp.NewSessionResponse{}, fmt.Errorf("create session: %w", err)
	}
	return acp.NewSessionResponse{SessionId: sess.ID}, nil
}

// Prompt runs one turn: translate the editor content, feed it to the
// CLI, and stream the CLI's output back until a result arrives. A
// prompt on a session with an in-flight turn supersedes it.
func (a *Agent) Prompt(ctx context.Context, params acp.PromptRequest) (acp.PromptResponse, error) {
	reg := a.registry()
	if reg == nil {
		return acp.PromptResponse{}, fmt.Errorf("no editor connection")
	}
	sess, err := reg.Get(params.SessionId)
	if err != nil {
		return acp.PromptResponse{}, err
	}

	turnCtx, cancelTurn := sess.BeginTurn(ctx)
	defer func() {
		cancelTurn()
		sess.EndTurn()
	}()

	blocks := translatePrompt(params.Prompt)
	if err := sess.Queue.Push(claude.NewUserMessage(blocks)); err != nil {
		return acp.PromptResponse{}, fmt.Errorf("push prompt: %w", err)
	}

	return a.runTurn(turnCtx, sess.ID, sess.Cwd, sess.Messages())
}

// Cancel aborts the session's in-flight turn. Repeated cancels are
// harmless.
func (a *Agent) Cancel(ctx context.Context, params acp.CancelNotification) error {
	reg := a.registry()
	if reg == nil {
		return fmt.Errorf("no editor connection")
	}
	return reg.Cancel(params.SessionId)
}

// SetSessionMode is accepted and ignored; the bridge exposes no modes.
func (a *Agent) SetSessionMode(ctx context.Context, params acp.SetSessionModeRequest) (acp.SetSessionModeResponse, error) {
	return acp.SetSessionModeResponse{}, nil
}

// Shutdown tears down every session; called at process exit.
func (a *Agent) Shutdown() {
	if reg := a.registry(); reg != nil {
		reg.CloseAll()
	}
}
