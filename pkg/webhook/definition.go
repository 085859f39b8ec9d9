// Package webhook maps arbitrary external JSON payloads into new tasks or
// workflow runs. Inbound calls authenticate by secret only; every call is
// recorded exactly once in the audit sink, whatever its outcome.
package webhook

import (
	"context"

	"github.com/conductorhq/conductor/pkg/types"
	"github.com/conductorhq/conductor/pkg/workflow"
)

// ExecutionMode selects what a webhook creates on reception.
type ExecutionMode string

const (
	// ModeTask creates a single task targeting the resolved server.
	ModeTask ExecutionMode = "task"

	// ModeWorkflow starts a multi-step workflow run.
	ModeWorkflow ExecutionMode = "workflow"
)

// Definition is externally managed webhook configuration.
type Definition struct {
	// Name identifies the webhook in audit records and templates.
	Name string `yaml:"name"`

	// Secret authenticates inbound calls.
	Secret string `yaml:"secret"`

	// Enabled gates reception. Disabled webhooks reject like unknown ones.
	Enabled bool `yaml:"enabled"`

	// Source labels where events come from (grafana, github, ...).
	Source string `yaml:"source"`

	// Mode selects task or workflow creation.
	Mode ExecutionMode `yaml:"mode"`

	// TitleTemplate and DescriptionTemplate build the created work item's
	// fields with {{dotted.path}} substitution into the payload.
	TitleTemplate       string `yaml:"title"`
	DescriptionTemplate string `yaml:"description"`

	// EventNameTemplate extracts a human event name from the payload; its
	// result is exposed to the other templates as {{event_name}}.
	EventNameTemplate string `yaml:"event_name"`

	// ServerID pins the target server explicitly. Takes precedence over
	// template-based resolution.
	ServerID string `yaml:"server_id"`

	// ServerTemplate extracts a server name or host from the payload for
	// matching against the known server directory.
	ServerTemplate string `yaml:"server"`

	// ServerMap is a static fallback from extracted values to server ids.
	ServerMap map[string]string `yaml:"server_map"`

	// AutoExecute starts created tasks immediately instead of leaving them
	// queued.
	AutoExecute bool `yaml:"auto_execute"`

	// WorkflowSteps is a fixed step template for workflow mode. Empty
	// means steps are planned dynamically from the resolved description.
	WorkflowSteps []workflow.StepSpec `yaml:"workflow_steps"`

	// RuntimeKind is the CLI used by planned workflow steps.
	RuntimeKind string `yaml:"runtime"`
}

// Validate checks the definition is usable.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return types.NewValidationError("webhook name cannot be empty")
	}
	if d.Secret == "" {
		return types.NewValidationError("webhook secret cannot be empty")
	}
	if d.Mode != ModeTask && d.Mode != ModeWorkflow {
		return types.NewValidationError("webhook mode must be task or workflow")
	}
	return nil
}

// Server is one entry from the read-only server directory.
type Server struct {
	ID   string
	Name string
	Host string
}

// ServerDirectory is the read-only lookup of known execution targets.
type ServerDirectory interface {
	ListServers(ctx context.Context) ([]Server, error)
}

// Task is a single unit of work created from a webhook.
type Task struct {
	Title       string
	Description string
	ServerID    string
	EventName   string
	Source      string

	// AutoExecute requests immediate execution by the task consumer.
	AutoExecute bool

	// Pending is set when no server could be resolved; the task waits for
	// a human to assign a target.
	Pending bool
}

// TaskStore is the external persistence boundary for created tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) (string, error)
}

// WorkflowStarter launches a workflow run for a definition. Satisfied by a
// thin wrapper over the workflow engine.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, def *workflow.Definition) (string, error)
}

// StepPlanner generates workflow steps from a goal description. Backed by
// the LLM collaborator; used when a webhook has no fixed step template.
type StepPlanner interface {
	PlanSteps(ctx context.Context, goal string) ([]workflow.StepSpec, error)
}
