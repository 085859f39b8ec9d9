// Package workflow sequences multiple orchestrated runs as ordered steps of
// a resumable WorkflowRun, with pause, retry, skip, continue, and stop
// controls and an optional pre-analysis readiness gate.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conductorhq/conductor/pkg/types"
)

// StepSpec describes one ordered unit of work in a workflow.
type StepSpec struct {
	// Name identifies the step in logs and controls.
	Name string `yaml:"name"`

	// Prompt is the goal text handed to the orchestrator for this step.
	Prompt string `yaml:"prompt"`

	// Mode selects the execution strategy. Defaults to cli.
	Mode types.RunMode `yaml:"mode,omitempty"`

	// RuntimeKind selects the external agent CLI for this step.
	RuntimeKind string `yaml:"runtime,omitempty"`

	// RalphMaxIterations caps Ralph-mode repetition for this step. Zero
	// means the orchestrator default.
	RalphMaxIterations int `yaml:"ralph_max_iterations,omitempty"`

	// PromiseToken overrides the completion marker for this step.
	PromiseToken string `yaml:"promise_token,omitempty"`

	// VerifyCriteria is free-text acceptance criteria appended to the
	// step prompt when present.
	VerifyCriteria string `yaml:"verify,omitempty"`
}

// Definition is an ordered list of steps plus workflow-level settings.
type Definition struct {
	// Name identifies the workflow.
	Name string `yaml:"name"`

	// WorkDir is the working directory for subprocess steps.
	WorkDir string `yaml:"workdir,omitempty"`

	// PreAnalysis enables the readiness gate before the first step.
	PreAnalysis bool `yaml:"pre_analysis,omitempty"`

	// Steps are executed in order.
	Steps []StepSpec `yaml:"steps"`
}

// Validate checks the definition is executable.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return types.NewValidationError("workflow name cannot be empty")
	}
	if len(d.Steps) == 0 {
		return types.NewValidationError("workflow must have at least one step")
	}
	for i, step := range d.Steps {
		if step.Prompt == "" {
			return types.NewValidationError(fmt.Sprintf("step %d (%s) has no prompt", i, step.Name))
		}
		if step.Mode != "" && !step.Mode.IsValid() {
			return types.NewValidationError(fmt.Sprintf("step %d (%s) has unknown mode %q", i, step.Name, step.Mode))
		}
		if step.RalphMaxIterations < 0 {
			return types.NewValidationError(fmt.Sprintf("step %d (%s) has negative iteration cap", i, step.Name))
		}
	}
	return nil
}

// LoadDefinition reads and validates a workflow definition from a YAML file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition parses and validates YAML workflow content.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow yaml: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// request builds the orchestrator request for one step.
func (s *StepSpec) request(workDir string) *types.AgentRunRequest {
	message := s.Prompt
	if s.VerifyCriteria != "" {
		message += "\n\nAcceptance criteria:\n" + s.VerifyCriteria
	}

	mode := s.Mode
	if mode == "" {
		mode = types.ModeCLI
	}

	return &types.AgentRunRequest{
		Message:            message,
		Mode:               mode,
		RuntimeKind:        s.RuntimeKind,
		WorkDir:            workDir,
		PromiseToken:       s.PromiseToken,
		RalphMaxIterations: s.RalphMaxIterations,
	}
}
