// Package claude runs the Claude Code CLI as a per-session subprocess
// and adapts its stream-json stdio to the bridge's message queue.
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/suxxes/zed-claude-code-sub000/internal/logging"
	"github.com/suxxes/zed-claude-code-sub000/internal/msgqueue"
)

// scanner buffer bounds for stream-json lines; tool results can be large.
const (
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 10 * 1024 * 1024
)

// MCPServerConfig describes one MCP server in the --mcp-config payload.
type MCPServerConfig struct {
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options configures a model process.
type Options struct {
	// Path is the Claude Code executable. Empty means "claude" resolved
	// on PATH.
	Path string
	// ExtraArgs are appended after the generated arguments.
	ExtraArgs []string
	// Cwd is the session working directory.
	Cwd string
	// MCPServers are exposed to the model via --mcp-config.
	MCPServers map[string]MCPServerConfig
	// AllowedTools and DisallowedTools gate the model's native tools.
	AllowedTools    []string
	DisallowedTools []string
	// PermissionPromptTool routes permission prompts through an MCP tool.
	PermissionPromptTool string
	// Env is extra environment for the process.
	Env map[string]string
}

// Query is a running model process. User messages are consumed from the
// session queue and written to the process's stdin; decoded stream
// messages are delivered on Messages. The queue outlives individual
// turns: the process serves the whole session.
type Query struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   chan StreamMessage
	done  chan struct{}
	quit  chan struct{}
	log   zerolog.Logger

	writeMu   sync.Mutex
	enc       *json.Encoder
	closeOnce sync.Once
}

// Start launches the model process and begins pumping the queue.
func Start(opts Options, in *msgqueue.Queue[UserMessage]) (*Query, error) {
	path := opts.Path
	if path == "" {
		resolved, err := exec.LookPath("claude")
		if err != nil {
			return nil, fmt.Errorf("claude executable not found on PATH: %w", err)
		}
		path = resolved
	}

	args, err := buildArgs(opts)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = opts.Cwd
	if len(opts.Env) > 0 {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	q := &Query{
		cmd:   cmd,
		stdin: stdin,
		out:   make(chan StreamMessage, 16),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
		log:   logging.With().Str("component", "claude").Int("pid", cmd.Process.Pid).Logger(),
	}
	q.enc = json.NewEncoder(stdin)

	go q.writeLoop(in)
	go q.readLoop(stdout)

	q.log.Info().Str("cwd", opts.Cwd).Msg("model process started")
	return q, nil
}

// buildArgs assembles the CLI arguments for a streaming session.
func buildArgs(opts Options) ([]string, error) {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if len(opts.MCPServers) > 0 {
		payload, err := json.Marshal(map[string]any{"mcpServers": opts.MCPServers})
		if err != nil {
			return nil, fmt.Errorf("marshal mcp config: %w", err)
		}
		args = append(args, "--mcp-config", string(payload))
	}
	if opts.PermissionPromptTool != "" {
		args = append(args, "--permission-prompt-tool", opts.PermissionPromptTool)
	}
	for _, tool := range opts.AllowedTools {
		args = append(args, "--allowedTools", tool)
	}
	for _, tool := range opts.DisallowedTools {
		args = append(args, "--disallowedTools", tool)
	}
	return append(args, opts.ExtraArgs...), nil
}

// writeLoop forwards queue items to the process until the queue ends.
func (q *Query) writeLoop(in *msgqueue.Queue[UserMessage]) {
	for {
		msg, ok, err := in.Next(context.Background())
		if err != nil || !ok {
			// Queue ended or failed: the session is over, close stdin so
			// the process drains and exits.
			q.closeStdin()
			return
		}
		q.writeMu.Lock()
		encErr := q.enc.Encode(msg)
		q.writeMu.Unlock()
		if encErr != nil {
			q.log.Warn().Err(encErr).Msg("write to model process failed")
			return
		}
	}
}

// readLoop decodes stream-json lines until EOF and closes Messages.
func (q *Query) readLoop(stdout io.Reader) {
	defer close(q.out)
	defer close(q.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg StreamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			q.log.Warn().Err(err).Str("line", truncate(string(line), 200)).Msg("unparseable stream line")
			continue
		}
		if msg.Type == "" || msg.Type == "control_response" || msg.Type == "control_request" {
			continue
		}
		select {
		case q.out <- msg:
		case <-q.quit:
			_ = q.cmd.Wait()
			return
		}
	}
	if err := scanner.Err(); err != nil {
		q.log.Warn().Err(err).Msg("model stream read error")
	}
	_ = q.cmd.Wait()
	q.log.Debug().Msg("model process exited")
}

// Messages returns the decoded output stream. The channel closes when
// the process exits.
func (q *Query) Messages() <-chan StreamMessage {
	return q.out
}

// Done is closed once the output stream has been fully drained.
func (q *Query) Done() <-chan struct{} {
	return q.done
}

// controlRequest is the stream-json control envelope.
type controlRequest struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Request   controlPayload `json:"request"`
}

type controlPayload struct {
	Subtype string `json:"subtype"`
}

// Interrupt asks the process to stop the current turn. The process
// answers with a result message on the output stream; it does not exit.
func (q *Query) Interrupt() error {
	req := controlRequest{
		Type:      "control_request",
		RequestID: uuid.NewString(),
		Request:   controlPayload{Subtype: "interrupt"},
	}
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	if err := q.enc.Encode(req); err != nil {
		return fmt.Errorf("send interrupt: %w", err)
	}
	return nil
}

// Close terminates the process. It is safe to call more than once.
func (q *Query) Close() {
	q.closeOnce.Do(func() {
		close(q.quit)
		q.closeStdin()
		if q.cmd.Process != nil {
			_ = q.cmd.Process.Kill()
		}
		<-q.done
	})
}

func (q *Query) closeStdin() {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	_ = q.stdin.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
