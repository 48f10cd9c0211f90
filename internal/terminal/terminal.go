// Package terminal tracks terminal processes opened on the model's
// behalf through the editor's terminal capability.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/rs/zerolog"

	"github.com/suxxes/zed-claude-code-sub000/internal/event"
	"github.com/suxxes/zed-claude-code-sub000/internal/logging"
)

// ErrUnknownTerminal is returned for ids the registry does not track.
var ErrUnknownTerminal = errors.New("terminal: unknown terminal id")

// ErrMissingToolUseID is returned when a run has no correlation id to
// attach the terminal to. The editor cannot display an unanchored
// terminal, so this is a precondition failure.
var ErrMissingToolUseID = errors.New("terminal: missing tool use id")

// Client is the slice of the editor connection the registry needs.
// *acp.AgentSideConnection satisfies it.
type Client interface {
	CreateTerminal(ctx context.Context, params acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error)
	TerminalOutput(ctx context.Context, params acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error)
	WaitForTerminalExit(ctx context.Context, params acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error)
	KillTerminalCommand(ctx context.Context, params acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error)
	ReleaseTerminal(ctx context.Context, params acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error)
	SessionUpdate(ctx context.Context, params acp.SessionNotification) error
}

// State is the terminal lifecycle state. A terminal starts in
// StateRunning and moves exactly once into one of the terminal states;
// terminal states are queryable forever but never left.
type State int

const (
	StateRunning State = iota
	StateExited
	StateAborted
	StateKilled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateAborted:
		return "aborted"
	case StateKilled:
		return "killed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// record is one tracked terminal. While running it holds the live
// handle id and the output prefix already returned to the model; once
// terminal it holds only the composed status text.
type record struct {
	mu         sync.Mutex
	state      State
	prevOutput string
	pending    string
}

// Registry creates and tracks terminals for one session.
type Registry struct {
	client      Client
	sessionID   acp.SessionId
	cwd         string
	outputLimit int
	log         zerolog.Logger

	mu    sync.Mutex
	terms map[string]*record
}

// NewRegistry creates a registry bound to a session.
func NewRegistry(client Client, sessionID acp.SessionId, cwd string, outputLimit int) *Registry {
	return &Registry{
		client:      client,
		sessionID:   sessionID,
		cwd:         cwd,
		outputLimit: outputLimit,
		log:         logging.With().Str("component", "terminal").Str("session", string(sessionID)).Logger(),
	}
}

// RunParams describes one command execution.
type RunParams struct {
	// Command is the shell command line to run.
	Command string
	// ToolUseID anchors the terminal to the tool call being streamed to
	// the editor. Required.
	ToolUseID string
	// Timeout bounds foreground and background execution. Zero means no
	// timeout.
	Timeout time.Duration
	// Background returns immediately and leaves the command polled via
	// Output.
	Background bool
}

// Run executes a command through the editor's terminal capability.
//
// Foreground runs block until the exit/cancel/timeout race resolves and
// return the composed status. Background runs return an ack right away;
// the race resolution is detached from this call, so ctx should be
// session-scoped rather than request-scoped for background runs.
func (r *Registry) Run(ctx context.Context, params RunParams) (string, error) {
	if params.ToolUseID == "" {
		return "", ErrMissingToolUseID
	}

	resp, err := r.client.CreateTerminal(ctx, acp.CreateTerminalRequest{
		SessionId:       r.sessionID,
		Command:         "/bin/bash",
		Args:            []string{"-lc", params.Command},
		Cwd:             acp.Ptr(r.cwd),
		OutputByteLimit: acp.Ptr(r.outputLimit),
	})
	if err != nil {
		return "", fmt.Errorf("create terminal: %w", err)
	}
	terminalID := resp.TerminalId

	// Attach the live terminal to the tool call before anything else so
	// the editor can show output as it streams.
	if err := r.client.SessionUpdate(ctx, acp.SessionNotification{
		SessionId: r.sessionID,
		Update: acp.UpdateToolCall(
			acp.ToolCallId(params.ToolUseID),
			acp.WithUpdateStatus(acp.ToolCallStatusInProgress),
			acp.WithUpdateContent([]acp.ToolCallContent{acp.ToolTerminalRef(terminalID)}),
		),
	}); err != nil {
		r.log.Warn().Err(err).Str("terminal", terminalID).Msg("terminal attach notification failed")
	}

	rec := &record{state: StateRunning}
	r.mu.Lock()
	if r.terms == nil {
		r.terms = make(map[string]*record)
	}
	r.terms[terminalID] = rec
	r.mu.Unlock()

	if params.Background {
		go r.resolve(ctx, terminalID, rec, params.Timeout)
		return fmt.Sprintf("Command started in background terminal %s. Use the output tool to poll it.", terminalID), nil
	}

	return r.await(ctx, terminalID, rec, params.Timeout)
}

// raceResult is the winning branch of the exit/cancel/timeout race.
type raceResult struct {
	state State
	exit  *acp.TerminalExitStatus
}

// race waits for the first of: process exit, ctx cancellation, timeout.
// On timeout the process is killed before returning.
func (r *Registry) race(ctx context.Context, terminalID string, timeout time.Duration) raceResult {
	exitCh := make(chan acp.WaitForTerminalExitResponse, 1)
	go func() {
		resp, err := r.client.WaitForTerminalExit(context.Background(), acp.WaitForTerminalExitRequest{
			SessionId:  r.sessionID,
			TerminalId: terminalID,
		})
		if err != nil {
			r.log.Debug().Err(err).Str("terminal", terminalID).Msg("wait for exit failed")
		}
		exitCh <- resp
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-exitCh:
		return raceResult{state: StateExited, exit: &acp.TerminalExitStatus{ExitCode: resp.ExitCode, Signal: resp.Signal}}
	case <-ctx.Done():
		return raceResult{state: StateAborted}
	case <-timeoutCh:
		_, _ = r.client.KillTerminalCommand(context.Background(), acp.KillTerminalCommandRequest{
			SessionId:  r.sessionID,
			TerminalId: terminalID,
		})
		return raceResult{state: StateTimedOut}
	}
}

// await runs a foreground command to completion.
func (r *Registry) await(ctx context.Context, terminalID string, rec *record, timeout time.Duration) (string, error) {
	res := r.race(ctx, terminalID, timeout)

	if res.state == StateAborted {
		// No further reads once the caller has cancelled.
		r.finalize(terminalID, rec, StateAborted, "Command cancelled.")
		return "Command cancelled.", nil
	}

	output, truncated := r.capture(terminalID, rec)
	status := statusText(res.state, output, res.exit, truncated, r.outputLimit)
	r.finalize(terminalID, rec, res.state, status)
	return status, nil
}

// resolve finishes a background command after its race resolves.
func (r *Registry) resolve(ctx context.Context, terminalID string, rec *record, timeout time.Duration) {
	res := r.race(ctx, terminalID, timeout)

	if res.state == StateAborted {
		r.finalize(terminalID, rec, StateAborted, "Command cancelled.")
		return
	}

	output, truncated := r.capture(terminalID, rec)
	status := statusText(res.state, output, res.exit, truncated, r.outputLimit)
	r.finalize(terminalID, rec, res.state, status)
}

// capture reads current output and strips the prefix already returned
// through Output polls.
func (r *Registry) capture(terminalID string, rec *record) (string, bool) {
	resp, err := r.client.TerminalOutput(context.Background(), acp.TerminalOutputRequest{
		SessionId:  r.sessionID,
		TerminalId: terminalID,
	})
	if err != nil {
		r.log.Debug().Err(err).Str("terminal", terminalID).Msg("final output read failed")
		return "", false
	}

	rec.mu.Lock()
	prev := rec.prevOutput
	rec.mu.Unlock()
	return strings.TrimPrefix(resp.Output, prev), resp.Truncated
}

// finalize moves a record into a terminal state, releases the editor
// handle, and announces the outcome. Running is never re-entered.
func (r *Registry) finalize(terminalID string, rec *record, state State, pending string) {
	rec.mu.Lock()
	if rec.state != StateRunning {
		rec.mu.Unlock()
		return
	}
	rec.state = state
	rec.pending = pending
	rec.prevOutput = ""
	rec.mu.Unlock()

	_, _ = r.client.ReleaseTerminal(context.Background(), acp.ReleaseTerminalRequest{
		SessionId:  r.sessionID,
		TerminalId: terminalID,
	})

	event.Publish(event.Event{
		Type: event.TerminalExited,
		Data: event.TerminalExitedData{
			SessionID:  string(r.sessionID),
			TerminalID: terminalID,
			Outcome:    state.String(),
		},
	})
	r.log.Debug().Str("terminal", terminalID).Stringer("state", state).Msg("terminal finished")
}

// Output returns the gap-free incremental output since the previous
// poll for a running terminal, or the composed status for a finished
// one.
func (r *Registry) Output(ctx context.Context, terminalID string) (string, error) {
	rec := r.lookup(terminalID)
	if rec == nil {
		return "", ErrUnknownTerminal
	}

	rec.mu.Lock()
	if rec.state != StateRunning {
		status := rec.pending
		rec.mu.Unlock()
		return status, nil
	}
	rec.mu.Unlock()

	resp, err := r.client.TerminalOutput(ctx, acp.TerminalOutputRequest{
		SessionId:  r.sessionID,
		TerminalId: terminalID,
	})
	if err != nil {
		return "", fmt.Errorf("terminal output: %w", err)
	}

	rec.mu.Lock()
	if rec.state != StateRunning {
		// The race resolved while we were reading; the composed status
		// supersedes the raw read.
		status := rec.pending
		rec.mu.Unlock()
		return status, nil
	}
	increment := strings.TrimPrefix(resp.Output, rec.prevOutput)
	rec.prevOutput = resp.Output
	rec.mu.Unlock()

	if resp.ExitStatus != nil && resp.ExitStatus.ExitCode == nil && resp.ExitStatus.Signal == nil {
		increment = joinStatus(increment, "Command execution was interrupted.")
	}
	if resp.Truncated {
		increment = joinStatus(increment, truncationNote(r.outputLimit))
	}
	return increment, nil
}

// Kill terminates a running terminal, capturing its final output. On an
// already finished terminal it returns a fixed message and does not
// kill again.
func (r *Registry) Kill(ctx context.Context, terminalID string) (string, error) {
	rec := r.lookup(terminalID)
	if rec == nil {
		return "", ErrUnknownTerminal
	}

	rec.mu.Lock()
	if rec.state != StateRunning {
		rec.mu.Unlock()
		return "Command has already exited.", nil
	}
	rec.mu.Unlock()

	if _, err := r.client.KillTerminalCommand(ctx, acp.KillTerminalCommandRequest{
		SessionId:  r.sessionID,
		TerminalId: terminalID,
	}); err != nil {
		return "", fmt.Errorf("kill terminal: %w", err)
	}

	output, truncated := r.capture(terminalID, rec)
	status := statusText(StateKilled, output, nil, truncated, r.outputLimit)
	r.finalize(terminalID, rec, StateKilled, status)
	return status, nil
}

// KillAll force-finishes every running terminal; used at session close.
func (r *Registry) KillAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.terms))
	for id := range r.terms {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if _, err := r.Kill(ctx, id); err != nil && !errors.Is(err, ErrUnknownTerminal) {
			r.log.Debug().Err(err).Str("terminal", id).Msg("kill at close failed")
		}
	}
}

// StateOf reports the lifecycle state of a terminal.
func (r *Registry) StateOf(terminalID string) (State, error) {
	rec := r.lookup(terminalID)
	if rec == nil {
		return 0, ErrUnknownTerminal
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, nil
}

func (r *Registry) lookup(terminalID string) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terms[terminalID]
}

// statusText composes the user-visible result of a finished command.
func statusText(state State, output string, exit *acp.TerminalExitStatus, truncated bool, limit int) string {
	var marker string
	switch state {
	case StateKilled:
		marker = "Command was killed."
	case StateTimedOut:
		marker = "Command timed out."
	case StateAborted:
		return "Command cancelled."
	}

	body := output
	if exit != nil {
		switch {
		case exit.ExitCode == nil && exit.Signal == nil:
			body = joinStatus(body, "Command execution was interrupted.")
		case exit.ExitCode != nil && *exit.ExitCode != 0:
			failure := fmt.Sprintf("Failed with exit code %d", *exit.ExitCode)
			if exit.Signal != nil {
				failure += fmt.Sprintf(" with signal %s", *exit.Signal)
			}
			body = joinStatus(body, failure)
		case exit.ExitCode == nil && exit.Signal != nil:
			body = joinStatus(body, fmt.Sprintf("Terminated by signal %s", *exit.Signal))
		}
	}
	if truncated {
		body = joinStatus(body, truncationNote(limit))
	}
	if marker != "" {
		body = joinStatus(marker, body)
	}
	return body
}

func truncationNote(limit int) string {
	return fmt.Sprintf("Command output was truncated to the last %d bytes.", limit)
}

func joinStatus(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n" + b
}
