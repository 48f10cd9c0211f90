package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/acp-go-sdk"

	"github.com/suxxes/zed-claude-code-sub000/internal/claude"
	"github.com/suxxes/zed-claude-code-sub000/internal/presenter"
)

// runTurn consumes CLI output until the turn resolves. Notifications
// from one item are fully emitted before the next item is pulled.
func (a *Agent) runTurn(ctx context.Context, id acp.SessionId, cwd string, msgs <-chan claude.StreamMessage) (acp.PromptResponse, error) {
	pres := presenter.New(cwd)
	// tool_use blocks seen this turn, keyed by id, so results can be
	// summarized against their originating call.
	uses := make(map[string]claude.ContentBlock)

	for {
		msg, ok := <-msgs
		if !ok {
			if ctx.Err() != nil {
				return acp.PromptResponse{StopReason: acp.StopReasonCancelled}, nil
			}
			return acp.PromptResponse{}, fmt.Errorf("%w: stream ended without a result", ErrTurnInvariant)
		}
		aborted := ctx.Err() != nil

		switch msg.Type {
		case claude.TypeSystem:
			continue

		case claude.TypeResult:
			if aborted {
				return acp.PromptResponse{StopReason: acp.StopReasonCancelled}, nil
			}
			return a.resolveResult(msg)

		case claude.TypeAssistant, claude.TypeUser:
			if aborted {
				continue
			}
			if claude.AuthRequired(msg) {
				return acp.PromptResponse{}, ErrAuthRequired
			}
			if err := a.emitItem(ctx, id, pres, msg, uses); err != nil {
				return acp.PromptResponse{}, err
			}

		default:
			return acp.PromptResponse{}, fmt.Errorf("%w: unexpected item type %q", ErrTurnInvariant, msg.Type)
		}
	}
}

// resolveResult maps a result item to the turn's stop reason.
func (a *Agent) resolveResult(msg claude.StreamMessage) (acp.PromptResponse, error) {
	switch msg.Subtype {
	case claude.SubtypeSuccess:
		if claude.AuthRequired(msg) {
			return acp.PromptResponse{}, ErrAuthRequired
		}
		return acp.PromptResponse{StopReason: acp.StopReasonEndTurn}, nil
	case claude.SubtypeRefusal, claude.SubtypeErrorDuringExecution:
		return acp.PromptResponse{StopReason: acp.StopReasonRefusal}, nil
	case claude.SubtypeErrorMaxTurns:
		return acp.PromptResponse{StopReason: acp.StopReasonMaxTurnRequests}, nil
	default:
		a.log.Warn().Str("subtype", msg.Subtype).Msg("unknown result subtype")
		return acp.PromptResponse{StopReason: acp.StopReasonRefusal}, nil
	}
}

// emitItem translates one assistant or user item into zero or more
// editor notifications, emitted in order.
func (a *Agent) emitItem(ctx context.Context, id acp.SessionId, pres presenter.Presenter, msg claude.StreamMessage, uses map[string]claude.ContentBlock) error {
	if msg.Message == nil {
		return nil
	}
	for _, block := range msg.Message.Content {
		var updates []acp.SessionUpdate

		switch block.Type {
		case claude.BlockText:
			if block.Text == "" {
				continue
			}
			if msg.Message.Role == "user" {
				updates = append(updates, acp.UpdateUserMessageText(block.Text))
			} else {
				updates = append(updates, acp.UpdateAgentMessageText(block.Text))
			}

		case claude.BlockThinking:
			if block.Thinking == "" {
				continue
			}
			updates = append(updates, acp.UpdateAgentThoughtText(block.Thinking))

		case claude.BlockToolUse:
			uses[block.ID] = block
			d, err := pres.Describe(block)
			if err != nil {
				d = presenter.Generic(block)
			}
			updates = append(updates, acp.StartToolCall(
				acp.ToolCallId(block.ID),
				d.Title,
				acp.WithStartKind(d.Kind),
				acp.WithStartStatus(acp.ToolCallStatusInProgress),
				acp.WithStartRawInput(d.RawInput),
				acp.WithStartLocations(d.Locations),
			))
			if len(d.Content) > 0 {
				updates = append(updates, acp.UpdateToolCall(
					acp.ToolCallId(block.ID),
					acp.WithUpdateContent(d.Content),
				))
			}

		case claude.BlockToolResult:
			var use *claude.ContentBlock
			if u, ok := uses[block.ToolUseID]; ok {
				use = &u
			}
			s, err := pres.Summarize(block, use)
			if err != nil {
				s = presenter.GenericSummary(block)
			}
			status := acp.ToolCallStatusCompleted
			if block.IsError {
				status = acp.ToolCallStatusFailed
			}
			opts := []acp.ToolCallUpdateOpt{acp.WithUpdateStatus(status)}
			if len(s.Content) > 0 {
				opts = append(opts, acp.WithUpdateContent(s.Content))
			}
			if len(s.Locations) > 0 {
				opts = append(opts, acp.WithUpdateLocations(s.Locations))
			}
			updates = append(updates, acp.UpdateToolCall(acp.ToolCallId(block.ToolUseID), opts...))

		default:
			// Image and anything newer have no editor rendering yet.
			continue
		}

		for _, update := range updates {
			err := a.editor().SessionUpdate(ctx, acp.SessionNotification{
				SessionId: id,
				Update:    update,
			})
			if err != nil {
				return fmt.Errorf("session update: %w", err)
			}
		}
	}
	return nil
}

// translatePrompt converts editor content blocks into the CLI's
// message format. Resource links become mentions; embedded resources
// are inlined as tagged context.
func translatePrompt(prompt []acp.ContentBlock) []claude.ContentBlock {
	blocks := make([]claude.ContentBlock, 0, len(prompt))
	for _, cb := range prompt {
		switch {
		case cb.Text != nil:
			blocks = append(blocks, claude.TextBlock(cb.Text.Text))

		case cb.Image != nil:
			if cb.Image.Data != "" {
				blocks = append(blocks, claude.ImageBlock(cb.Image.MimeType, cb.Image.Data))
			}

		case cb.ResourceLink != nil:
			blocks = append(blocks, claude.TextBlock("@"+cb.ResourceLink.Uri))

		case cb.Resource != nil:
			uri, text := embeddedResource(cb.Resource.Resource)
			if text == "" {
				continue
			}
			blocks = append(blocks, claude.TextBlock(fmt.Sprintf("<context ref=%q>\n%s\n</context>", uri, text)))
		}
	}
	return blocks
}

// embeddedResource pulls uri and text out of an embedded resource
// without depending on which variant of the union it is.
func embeddedResource(resource any) (uri, text string) {
	raw, err := json.Marshal(resource)
	if err != nil {
		return "", ""
	}
	var decoded struct {
		Uri  string `json:"uri"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", ""
	}
	return decoded.Uri, decoded.Text
}
