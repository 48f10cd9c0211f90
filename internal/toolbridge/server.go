// Package toolbridge hosts the per-session MCP tool server that routes
// the model's file and terminal operations through the editor.
package toolbridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/suxxes/zed-claude-code-sub000/internal/content"
	"github.com/suxxes/zed-claude-code-sub000/internal/logging"
	"github.com/suxxes/zed-claude-code-sub000/internal/terminal"
)

// ServerName is the MCP server name the CLI sees; bridged tool names
// are prefixed with "mcp__" + ServerName + "__".
const ServerName = "acp"

// PermissionToolName is the fully qualified name of the permission
// prompt tool.
const PermissionToolName = "mcp__" + ServerName + "__permission"

// EditorClient is the slice of the editor connection the tool host
// needs. *acp.AgentSideConnection satisfies it.
type EditorClient interface {
	ReadTextFile(ctx context.Context, params acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error)
	WriteTextFile(ctx context.Context, params acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error)
	RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error)
}

// Options configures a tool server for one session.
type Options struct {
	SessionID string
	Cwd       string
	Client    EditorClient
	Cache     *content.Cache
	// Terminals is nil when the editor lacks the terminal capability;
	// the bash tools are then not registered.
	Terminals *terminal.Registry
	// Alive reports whether the owning session is still registered.
	// Tool calls against a vanished session return a benign result.
	Alive func() bool
	// FsRead and FsWrite mirror the editor's file system capabilities
	// and gate which tools are registered.
	FsRead  bool
	FsWrite bool
}

// Server is a loopback HTTP host exposing editor-bridged tools to the
// CLI over MCP. One server lives per session; the permission cache is
// the only state shared across requests.
type Server struct {
	opts Options
	log  zerolog.Logger

	httpServer *http.Server
	listener   net.Listener
	baseURL    string

	permMu      sync.Mutex
	alwaysAllow map[string]bool
}

// NewServer builds the tool host. Call Start to begin serving.
func NewServer(opts Options) *Server {
	if opts.Alive == nil {
		opts.Alive = func() bool { return true }
	}
	return &Server{
		opts:        opts,
		log:         logging.With().Str("component", "toolbridge").Str("session", opts.SessionID).Logger(),
		alwaysAllow: make(map[string]bool),
	}
}

// Start binds a loopback port and serves MCP over streamable HTTP.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.baseURL = fmt.Sprintf("http://%s/mcp", listener.Addr().String())

	mcpServer := server.NewMCPServer(
		ServerName,
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://127.0.0.1", "http://localhost"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"*"},
	}))
	router.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("tool server stopped")
		}
	}()

	s.log.Debug().Str("url", s.baseURL).Msg("tool server listening")
	return nil
}

// URL is the MCP endpoint handed to the CLI via its server config.
func (s *Server) URL() string {
	return s.baseURL
}

// Addr is the host:port the server is bound to.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the HTTP host down. The permission cache dies with it.
func (s *Server) Close(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// allowCached reports whether the tool was granted "always allow"
// earlier in this server's lifetime.
func (s *Server) allowCached(toolName string) bool {
	s.permMu.Lock()
	defer s.permMu.Unlock()
	return s.alwaysAllow[toolName]
}

// cacheAllow records an "always allow" grant for a tool name. The
// cache is keyed by tool name only, not by argument shape.
func (s *Server) cacheAllow(toolName string) {
	s.permMu.Lock()
	defer s.permMu.Unlock()
	s.alwaysAllow[toolName] = true
}
