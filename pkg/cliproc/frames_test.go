package cliproc

import (
	"testing"

	"github.com/conductorhq/conductor/pkg/types"
)

func TestDecodeGenericFrames(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantType    types.EventType
		wantContent string
	}{
		{"thought", `{"type":"thought","content":"considering options"}`, types.EventTypeThought, "considering options"},
		{"thinking alias", `{"type":"thinking","text":"hmm"}`, types.EventTypeThought, "hmm"},
		{"assistant message", `{"type":"agent_message","content":"on it"}`, types.EventTypeThought, "on it"},
		{"result", `{"type":"result","content":"all done"}`, types.EventTypeFinal, "all done"},
		{"result field fallback", `{"type":"result","result":"finished"}`, types.EventTypeFinal, "finished"},
		{"observation", `{"type":"tool_result","tool":"shell","content":"ok"}`, types.EventTypeToolResult, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := decodeFrame(KindCodex, tt.line)
			if ev == nil {
				t.Fatalf("decodeFrame(%q) = nil", tt.line)
			}
			if ev.Type != tt.wantType {
				t.Errorf("type = %s, want %s", ev.Type, tt.wantType)
			}
			if tt.wantContent != "" && ev.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", ev.Content, tt.wantContent)
			}
		})
	}
}

func TestDecodeActionFrame(t *testing.T) {
	ev := decodeFrame(KindCodex, `{"type":"tool_call","tool_name":"shell","input":{"command":"ls"}}`)
	if ev == nil || ev.Type != types.EventTypeAction {
		t.Fatalf("expected action event, got %+v", ev)
	}
	if ev.ToolName != "shell" {
		t.Errorf("tool name = %q, want shell", ev.ToolName)
	}
	if ev.ToolInput["command"] != "ls" {
		t.Errorf("tool input = %v", ev.ToolInput)
	}
}

func TestDecodeInvalidJSONIsPassthrough(t *testing.T) {
	line := "plain progress text, not a frame"
	ev := decodeFrame(KindCodex, line)
	if ev == nil || ev.Type != types.EventTypePassthrough {
		t.Fatalf("expected passthrough, got %+v", ev)
	}
	if ev.Content != line {
		t.Errorf("content = %q, want original line", ev.Content)
	}
}

func TestDecodeEmptyLineDropped(t *testing.T) {
	if ev := decodeFrame(KindCodex, "   "); ev != nil {
		t.Fatalf("expected nil for blank line, got %+v", ev)
	}
}

func TestDecodeUntaggedJSONIsPassthrough(t *testing.T) {
	ev := decodeFrame(KindCodex, `{"progress":42}`)
	if ev == nil || ev.Type != types.EventTypePassthrough {
		t.Fatalf("expected passthrough for untagged frame, got %+v", ev)
	}
}

func TestDecodeClaudeFrames(t *testing.T) {
	t.Run("system frames dropped", func(t *testing.T) {
		if ev := decodeFrame(KindClaude, `{"type":"system","subtype":"init"}`); ev != nil {
			t.Fatalf("expected nil, got %+v", ev)
		}
	})

	t.Run("assistant text becomes thought", func(t *testing.T) {
		line := `{"type":"assistant","message":{"content":[{"type":"text","text":"Let me check. "},{"type":"text","text":"Reading the file."}]}}`
		ev := decodeFrame(KindClaude, line)
		if ev == nil || ev.Type != types.EventTypeThought {
			t.Fatalf("expected thought, got %+v", ev)
		}
		if ev.Content != "Let me check. Reading the file." {
			t.Errorf("content = %q", ev.Content)
		}
	})

	t.Run("user message becomes tool result", func(t *testing.T) {
		line := `{"type":"user","message":{"content":[{"type":"text","text":"file contents here"}]}}`
		ev := decodeFrame(KindClaude, line)
		if ev == nil || ev.Type != types.EventTypeToolResult {
			t.Fatalf("expected tool result, got %+v", ev)
		}
	})

	t.Run("result carries the answer", func(t *testing.T) {
		ev := decodeFrame(KindClaude, `{"type":"result","subtype":"success","result":"The bug is fixed."}`)
		if ev == nil || ev.Type != types.EventTypeFinal {
			t.Fatalf("expected final, got %+v", ev)
		}
		if ev.Content != "The bug is fixed." {
			t.Errorf("content = %q", ev.Content)
		}
	})
}

func TestParseKind(t *testing.T) {
	for _, valid := range []string{"cursor", "claude", "codex", "ralph"} {
		if _, err := ParseKind(valid); err != nil {
			t.Errorf("ParseKind(%q) unexpected error: %v", valid, err)
		}
	}
	if _, err := ParseKind("vim"); err == nil {
		t.Error("ParseKind(\"vim\") expected error")
	}
}
