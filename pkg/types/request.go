package types

// RunMode selects how the orchestrator turns a request into events.
type RunMode string

const (
	ModeReact         RunMode = "react"          // ModeReact drives the reasoning loop until termination.
	ModeRalphInternal RunMode = "ralph_internal" // ModeRalphInternal self-iterates the reasoning loop until the promise token or cap.
	ModeRalphCLI      RunMode = "ralph_cli"      // ModeRalphCLI self-iterates the CLI runtime until the promise token or cap.
	ModeCLI           RunMode = "cli"            // ModeCLI is a single pass-through call to the CLI runtime.
)

// IsValid reports whether m is one of the defined run modes.
func (m RunMode) IsValid() bool {
	switch m {
	case ModeReact, ModeRalphInternal, ModeRalphCLI, ModeCLI:
		return true
	}
	return false
}

// AgentRunRequest describes one user or agent turn to execute.
type AgentRunRequest struct {
	// Context is opaque execution context (server/task/skill info) passed
	// through to collaborators. Never interpreted by the core.
	Context map[string]interface{}

	// Message is the user or event text driving the turn.
	Message string

	// Mode selects the execution strategy.
	Mode RunMode

	// Model is an optional model preference forwarded to the LLM provider.
	Model string

	// RuntimeKind selects the external agent CLI for cli-mode requests.
	RuntimeKind string

	// WorkDir is the working directory for subprocess execution.
	WorkDir string

	// PromiseToken overrides the completion marker scanned for in Ralph
	// modes. Empty means use the configured default.
	PromiseToken string

	// RalphMaxIterations overrides the Ralph iteration cap for this request.
	// Zero means use the configured default.
	RalphMaxIterations int
}

// Validate checks the request is well formed.
func (r *AgentRunRequest) Validate() error {
	if r.Message == "" {
		return NewValidationError("message cannot be empty")
	}
	if !r.Mode.IsValid() {
		return NewValidationError("unknown run mode: " + string(r.Mode))
	}
	if r.RalphMaxIterations < 0 {
		return NewValidationError("ralph iteration cap cannot be negative")
	}
	return nil
}
