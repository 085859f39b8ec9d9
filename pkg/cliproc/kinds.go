package cliproc

import (
	"fmt"
)

// Kind identifies the external agent CLI used to execute a step. The set is
// closed: each kind carries its own argument template and output grammar, and
// selection is always by explicit configuration.
type Kind string

const (
	KindCursor Kind = "cursor"
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
	KindRalph  Kind = "ralph"
)

// ParseKind validates a configuration string against the closed kind set.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCursor, KindClaude, KindCodex, KindRalph:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown runtime kind: %q", s)
}

// Template describes how to invoke one runtime kind. The prompt is always
// delivered on stdin, never as an argument, so special characters in prompts
// cannot break quoting.
type Template struct {
	// Bin is the executable name or path.
	Bin string
	// Args are the fixed arguments for this kind.
	Args []string
}

// defaultTemplates maps each kind to its invocation. Overridable via
// WithTemplate for deployments with nonstandard binary locations.
var defaultTemplates = map[Kind]Template{
	KindCursor: {Bin: "cursor-agent", Args: []string{"--print", "--output-format", "stream-json"}},
	KindClaude: {Bin: "claude", Args: []string{"-p", "--output-format", "stream-json", "--verbose"}},
	KindCodex:  {Bin: "codex", Args: []string{"exec", "--json"}},
	KindRalph:  {Bin: "ralph", Args: []string{"--stream"}},
}
