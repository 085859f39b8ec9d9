package cliproc

import (
	"encoding/json"
	"strings"

	"github.com/conductorhq/conductor/pkg/types"
)

// frame is the common shape of a newline-delimited JSON line from an agent
// CLI. Each kind's grammar maps onto this shape; unknown fields are ignored.
type frame struct {
	Type     string                 `json:"type"`
	Subtype  string                 `json:"subtype"`
	Content  string                 `json:"content"`
	Text     string                 `json:"text"`
	Result   string                 `json:"result"`
	Tool     string                 `json:"tool"`
	ToolName string                 `json:"tool_name"`
	Input    map[string]interface{} `json:"input"`
	Message  json.RawMessage        `json:"message"`
}

// decodeFrame parses one complete output line into a StreamEvent. Lines that
// are not valid JSON are forwarded as passthrough events rather than dropped.
// Returns nil for frames that carry nothing worth surfacing (empty heartbeats).
func decodeFrame(kind Kind, line string) *types.StreamEvent {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	var f frame
	if err := json.Unmarshal([]byte(trimmed), &f); err != nil {
		return types.NewPassthroughEvent(line)
	}

	switch kind {
	case KindClaude:
		return decodeClaudeFrame(&f, line)
	default:
		return decodeGenericFrame(&f, line)
	}
}

// decodeGenericFrame handles the shared frame grammar used by the cursor,
// codex, and ralph CLIs: a type tag plus a content/text payload.
func decodeGenericFrame(f *frame, line string) *types.StreamEvent {
	content := f.Content
	if content == "" {
		content = f.Text
	}

	switch f.Type {
	case "thought", "thinking", "reasoning":
		return types.NewThoughtEvent(content)
	case "action", "tool_call", "tool_use":
		return types.NewActionEvent(toolName(f), f.Input)
	case "observation", "tool_result":
		return types.NewToolResultEvent(toolName(f), content)
	case "message", "assistant", "agent_message":
		return types.NewThoughtEvent(content)
	case "result", "final":
		if content == "" {
			content = f.Result
		}
		return types.NewFinalEvent(content)
	case "":
		// JSON but no recognizable type tag: forward raw.
		return types.NewPassthroughEvent(line)
	default:
		if content == "" {
			return nil
		}
		return types.NewPassthroughEvent(line)
	}
}

// decodeClaudeFrame handles the claude CLI stream-json grammar, which nests
// assistant messages and reports the answer in a typed result frame.
func decodeClaudeFrame(f *frame, line string) *types.StreamEvent {
	switch f.Type {
	case "system":
		// Init/heartbeat frames carry session metadata only.
		return nil
	case "assistant":
		if text := claudeMessageText(f.Message); text != "" {
			return types.NewThoughtEvent(text)
		}
		return nil
	case "user":
		if text := claudeMessageText(f.Message); text != "" {
			return types.NewToolResultEvent("", text)
		}
		return nil
	case "result":
		return types.NewFinalEvent(f.Result)
	default:
		return types.NewPassthroughEvent(line)
	}
}

// claudeMessageText extracts concatenated text blocks from a nested claude
// message payload.
func claudeMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var msg struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func toolName(f *frame) string {
	if f.ToolName != "" {
		return f.ToolName
	}
	return f.Tool
}
