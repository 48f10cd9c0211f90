package event

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	SessionID string `json:"sessionID"`
	Cwd       string `json:"cwd"`
}

// SessionClosedData is the data for session.closed events.
type SessionClosedData struct {
	SessionID string `json:"sessionID"`
}

// FileEditedData is the data for file.edited events, published whenever
// a bridged tool rewrites a file on disk.
type FileEditedData struct {
	SessionID string `json:"sessionID"`
	File      string `json:"file"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	SessionID string `json:"sessionID"`
	ToolName  string `json:"toolName"`
	Granted   bool   `json:"granted"`
	Always    bool   `json:"always"`
}

// TerminalExitedData is the data for terminal.exited events.
type TerminalExitedData struct {
	SessionID  string `json:"sessionID"`
	TerminalID string `json:"terminalID"`
	// Outcome is the terminal state the command landed in:
	// "exited", "aborted", "killed" or "timed_out".
	Outcome string `json:"outcome"`
}
