package claude

import (
	"encoding/json"
	"strings"
)

// Stream message types emitted by the model process.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
)

// Result subtypes.
const (
	SubtypeSuccess              = "success"
	SubtypeRefusal              = "refusal"
	SubtypeErrorMaxTurns        = "error_max_turns"
	SubtypeErrorDuringExecution = "error_during_execution"
)

// Content block types.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// StreamMessage is one line of the model process's stream-json output.
type StreamMessage struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	Message   *Message `json:"message,omitempty"`
	Result    string   `json:"result,omitempty"`
	IsError   bool     `json:"is_error,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// Message is an assistant or user message body.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a single content element. The Claude CLI uses one
// shape for text, thinking, image, tool_use and tool_result blocks,
// discriminated by Type.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result fields
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image fields
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource is a base64 image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TextBlock builds a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock builds a base64 image content block.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{
		Type:   BlockImage,
		Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: data},
	}
}

// UserMessage is one line of the stream-json input fed to the model
// process.
type UserMessage struct {
	Type            string  `json:"type"`
	Message         Message `json:"message"`
	ParentToolUseID *string `json:"parent_tool_use_id"`
	SessionID       string  `json:"session_id,omitempty"`
}

// NewUserMessage wraps content blocks as a stream-json user message.
func NewUserMessage(blocks []ContentBlock) UserMessage {
	return UserMessage{
		Type:    TypeUser,
		Message: Message{Role: "user", Content: blocks},
	}
}

// ResultText extracts a tool_result's content as plain text. The CLI
// emits either a bare string or an array of text blocks.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		if blk.Type == BlockText && blk.Text != "" {
			parts = append(parts, blk.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// IsAuthText reports whether model output text is the upstream
// login-required marker.
func IsAuthText(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "invalid api key") {
		return true
	}
	if strings.Contains(lower, "please run /login") {
		return true
	}
	return strings.Contains(lower, "please log in")
}

// AuthRequired reports whether a stream message signals that the user
// must log in before the model can answer.
func AuthRequired(msg StreamMessage) bool {
	if msg.Type == TypeResult {
		return IsAuthText(msg.Result)
	}
	if msg.Message == nil {
		return false
	}
	for _, block := range msg.Message.Content {
		if block.Type == BlockText && IsAuthText(block.Text) {
			return true
		}
	}
	return false
}
