// Package session owns the lifecycle of bridge sessions: one CLI
// process, one message queue, and one tool server per session.
package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/acp-go-sdk"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/suxxes/zed-claude-code-sub000/internal/claude"
	"github.com/suxxes/zed-claude-code-sub000/internal/config"
	"github.com/suxxes/zed-claude-code-sub000/internal/content"
	"github.com/suxxes/zed-claude-code-sub000/internal/event"
	"github.com/suxxes/zed-claude-code-sub000/internal/logging"
	"github.com/suxxes/zed-claude-code-sub000/internal/msgqueue"
	"github.com/suxxes/zed-claude-code-sub000/internal/terminal"
	"github.com/suxxes/zed-claude-code-sub000/internal/toolbridge"
)

// ErrNotFound is returned for session ids the registry does not know.
var ErrNotFound = errors.New("session: not found")

// EditorClient is everything a session needs from the editor side.
// *acp.AgentSideConnection satisfies it.
type EditorClient interface {
	toolbridge.EditorClient
	terminal.Client
}

// queryHandle is the slice of *claude.Query a session drives.
type queryHandle interface {
	Messages() <-chan claude.StreamMessage
	Done() <-chan struct{}
	Interrupt() error
	Close()
}

// Session binds one CLI process to one editor session.
type Session struct {
	ID    acp.SessionId
	Cwd   string
	Queue *msgqueue.Queue[claude.UserMessage]
	Cache *content.Cache

	query queryHandle
	tools *toolbridge.Server
	terms *terminal.Registry
	log   zerolog.Logger

	mu         sync.Mutex
	cancelTurn context.CancelFunc

	// turnMu serializes prompt turns: a new turn aborts the old one and
	// then waits here for the old loop to drain.
	turnMu sync.Mutex
}

// Messages exposes the CLI's output stream.
func (s *Session) Messages() <-chan claude.StreamMessage {
	return s.query.Messages()
}

// BeginTurn aborts any in-flight turn, waits for its loop to finish,
// and installs a fresh cancel scope for the new one. The returned
// context is cancelled by Cancel or by a later BeginTurn.
func (s *Session) BeginTurn(ctx context.Context) (context.Context, context.CancelFunc) {
	s.abortTurn()
	s.turnMu.Lock()

	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelTurn = cancel
	s.mu.Unlock()
	return turnCtx, cancel
}

// EndTurn releases the turn so a successor can start.
func (s *Session) EndTurn() {
	s.mu.Lock()
	s.cancelTurn = nil
	s.mu.Unlock()
	s.turnMu.Unlock()
}

// abortTurn cancels the active turn's scope and interrupts the CLI so
// the superseded turn sees a result and unwinds.
func (s *Session) abortTurn() {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if err := s.query.Interrupt(); err != nil {
		s.log.Debug().Err(err).Msg("interrupt failed")
	}
}

// Cancel aborts the in-flight turn, if any.
func (s *Session) Cancel() {
	s.abortTurn()
}

// Terminals returns the terminal registry, nil without the capability.
func (s *Session) Terminals() *terminal.Registry {
	return s.terms
}

// Close tears the session down: ends the queue, kills terminals, stops
// the tool server and the CLI process.
func (s *Session) Close() {
	s.abortTurn()
	s.Queue.End()
	if s.terms != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.terms.KillAll(ctx)
		cancel()
	}
	if s.tools != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.tools.Close(ctx); err != nil {
			s.log.Debug().Err(err).Msg("tool server close failed")
		}
		cancel()
	}
	if s.query != nil {
		s.query.Close()
	}
	if s.Cache != nil {
		s.Cache.Close()
	}
	event.Publish(event.Event{
		Type: event.SessionClosed,
		Data: event.SessionClosedData{SessionID: string(s.ID)},
	})
}

// Registry creates and tracks sessions.
type Registry struct {
	cfg    *config.Config
	client EditorClient
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[acp.SessionId]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config, client EditorClient) *Registry {
	return &Registry{
		cfg:      cfg,
		client:   client,
		log:      logging.With().Str("component", "session").Logger(),
		sessions: make(map[acp.SessionId]*Session),
	}
}

// Create starts a tool server and a CLI process for a new session.
// Session ids are time-ordered.
func (r *Registry) Create(ctx context.Context, cwd string, caps acp.ClientCapabilities) (*Session, error) {
	id := acp.SessionId(ulid.Make().String())
	log := r.log.With().Str("session", string(id)).Logger()

	cache, err := content.NewCache()
	if err != nil {
		return nil, err
	}

	var terms *terminal.Registry
	if caps.Terminal {
		terms = terminal.NewRegistry(r.client, id, cwd, r.cfg.TerminalOutputLimit)
	}

	tools := toolbridge.NewServer(toolbridge.Options{
		SessionID: string(id),
		Cwd:       cwd,
		Client:    r.client,
		Cache:     cache,
		Terminals: terms,
		Alive: func() bool {
			_, err := r.Get(id)
			return err == nil
		},
		FsRead:  caps.Fs.ReadTextFile,
		FsWrite: caps.Fs.WriteTextFile,
	})
	if err := tools.Start(); err != nil {
		cache.Close()
		return nil, err
	}
	if err := waitReachable(ctx, tools.Addr()); err != nil {
		_ = tools.Close(context.Background())
		cache.Close()
		return nil, err
	}

	queue := msgqueue.New[claude.UserMessage]()
	sess := &Session{
		ID:    id,
		Cwd:   cwd,
		Queue: queue,
		Cache: cache,
		tools: tools,
		terms: terms,
		log:   log,
	}

	// Register before launching the CLI: the tool server checks the
	// registry to fence off requests for dead sessions, and the CLI may
	// call tools as soon as it starts.
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	opts := buildClaudeOptions(r.cfg, caps, id, cwd, tools.URL())
	query, err := claude.Start(opts, queue)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		queue.End()
		_ = tools.Close(context.Background())
		cache.Close()
		return nil, err
	}
	sess.query = query

	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{SessionID: string(id), Cwd: cwd},
	})
	log.Info().Str("cwd", cwd).Str("tools", tools.URL()).Msg("session created")
	return sess, nil
}

// Get looks a session up by id.
func (r *Registry) Get(id acp.SessionId) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Cancel aborts the in-flight turn of a session.
func (r *Registry) Cancel(id acp.SessionId) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	sess.Cancel()
	return nil
}

// Close tears down one session and forgets it.
func (r *Registry) Close(id acp.SessionId) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	sess.Close()
	return nil
}

// CloseAll tears down every session; used at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[acp.SessionId]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// buildClaudeOptions assembles the CLI invocation for a session. Native
// tools with a bridged equivalent are disallowed so every file and
// terminal operation routes through the editor.
func buildClaudeOptions(cfg *config.Config, caps acp.ClientCapabilities, id acp.SessionId, cwd, toolURL string) claude.Options {
	opts := claude.Options{
		Path:                 cfg.ClaudePath,
		ExtraArgs:            cfg.ClaudeArgs,
		Cwd:                  cwd,
		Env:                  cfg.Env,
		PermissionPromptTool: toolbridge.PermissionToolName,
		MCPServers: map[string]claude.MCPServerConfig{
			toolbridge.ServerName: {
				Type:    "http",
				URL:     toolURL,
				Headers: map[string]string{"X-Acp-Session-Id": string(id)},
			},
		},
	}

	if caps.Fs.ReadTextFile {
		opts.AllowedTools = append(opts.AllowedTools, bridged("read"))
		opts.DisallowedTools = append(opts.DisallowedTools, "Read")
	}
	if caps.Fs.WriteTextFile {
		opts.AllowedTools = append(opts.AllowedTools, bridged("write"), bridged("edit"), bridged("multi_edit"))
		opts.DisallowedTools = append(opts.DisallowedTools, "Edit", "Write", "MultiEdit", "NotebookEdit")
	}
	if caps.Terminal {
		opts.AllowedTools = append(opts.AllowedTools, bridged("bash"), bridged("bash_output"), bridged("kill_bash"))
		opts.DisallowedTools = append(opts.DisallowedTools, "Bash", "BashOutput", "KillBash")
	}
	return opts
}

func bridged(tool string) string {
	return "mcp__" + toolbridge.ServerName + "__" + tool
}

// waitReachable probes the tool server port until it accepts
// connections, so the CLI never races a half-started server.
func waitReachable(ctx context.Context, addr string) error {
	probe := func() error {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return err
		}
		return conn.Close()
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(probe, backoff.WithContext(policy, ctx))
}
