package agent

import (
	"strings"
	"testing"
)

func TestExtractDirective(t *testing.T) {
	text := `I need to list the directory first.

<action>
<tool_name>run_command</tool_name>
<arguments>
  <command>ls -la</command>
</arguments>
</action>

Then I can decide what to do.`

	thinking, directive, remaining, err := ExtractDirective(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if directive == nil {
		t.Fatal("expected a directive")
	}
	if directive.ToolName != "run_command" {
		t.Errorf("tool name = %q, want run_command", directive.ToolName)
	}
	if thinking != "I need to list the directory first." {
		t.Errorf("thinking = %q", thinking)
	}
	if remaining != "Then I can decide what to do." {
		t.Errorf("remaining = %q", remaining)
	}

	args, err := XMLToMap(directive.GetArgumentsXML())
	if err != nil {
		t.Fatalf("XMLToMap error: %v", err)
	}
	if args["command"] != "ls -la" {
		t.Errorf("command = %v", args["command"])
	}
}

func TestExtractDirectiveNoAction(t *testing.T) {
	text := "The deployment finished successfully. All checks pass."

	thinking, directive, _, err := ExtractDirective(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if directive != nil {
		t.Fatalf("expected nil directive, got %+v", directive)
	}
	if thinking != text {
		t.Errorf("thinking = %q, want full text", thinking)
	}
}

func TestExtractDirectiveUnescapedAmpersands(t *testing.T) {
	text := `<action>
<tool_name>run_command</tool_name>
<arguments>
  <command>mkdir -p build && cd build</command>
</arguments>
</action>`

	_, directive, _, err := ExtractDirective(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if directive == nil {
		t.Fatal("expected a directive")
	}

	args, err := XMLToMap(directive.GetArgumentsXML())
	if err != nil {
		t.Fatalf("XMLToMap error: %v", err)
	}
	if args["command"] != "mkdir -p build && cd build" {
		t.Errorf("command = %v", args["command"])
	}
}

func TestExtractDirectiveMalformed(t *testing.T) {
	text := `<action>
<tool_name>run_command
<arguments><command>ls</command></arguments>
</action>`

	_, _, _, err := ExtractDirective(text)
	if err == nil {
		t.Fatal("expected parse error for unclosed tool_name tag")
	}
}

func TestExtractDirectiveOversized(t *testing.T) {
	text := strings.Repeat("a", maxDirectiveSize+1)
	_, _, _, err := ExtractDirective(text)
	if err == nil {
		t.Fatal("expected error for oversized response")
	}
}

func TestHasDirective(t *testing.T) {
	if !HasDirective("text <action><tool_name>x</tool_name><arguments></arguments></action>") {
		t.Error("expected directive to be detected")
	}
	if HasDirective("no directive here") {
		t.Error("expected no directive")
	}
}
