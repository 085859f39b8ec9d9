package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a WorkflowRun.
type Status string

const (
	StatusPending              Status = "pending"
	StatusRunning              Status = "running"
	StatusPaused               Status = "paused"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusFailed               Status = "failed"
	StatusCompleted            Status = "completed"
	StatusCancelled            Status = "cancelled"
)

// IsTerminal reports whether no further execution can happen from s.
// Failed is not terminal: continue, retry, and skip all resume from it.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// StepState is the lifecycle state of one step within a run.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

// StepRecord tracks per-step execution state within a run.
type StepRecord struct {
	State StepState

	// Attempts counts how many times the step has been executed.
	Attempts int

	// Warning is set when the step completed despite hitting its Ralph
	// iteration cap without the promise token.
	Warning string

	// FailureReason describes the most recent failure.
	FailureReason string
}

// Run is one resumable execution instance of a workflow definition.
// All fields are owned by the engine; callers read snapshots.
type Run struct {
	ID         string
	Definition *Definition
	Status     Status

	// CurrentStep is the zero-based index of the next step to execute.
	CurrentStep int

	// Steps holds per-step state parallel to Definition.Steps.
	Steps []StepRecord

	// Questions carries clarifying questions when the pre-analysis gate
	// found the workspace not ready.
	Questions []string

	// FailureReason describes why the run is failed.
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func newRun(def *Definition) *Run {
	now := time.Now()
	return &Run{
		ID:         uuid.New().String(),
		Definition: def,
		Status:     StatusPending,
		Steps:      make([]StepRecord, len(def.Steps)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Snapshot is a caller-visible copy of run state at one instant.
type Snapshot struct {
	ID            string
	Status        Status
	CurrentStep   int
	Steps         []StepRecord
	Questions     []string
	FailureReason string
}

func (r *Run) snapshot() Snapshot {
	steps := make([]StepRecord, len(r.Steps))
	copy(steps, r.Steps)
	questions := make([]string, len(r.Questions))
	copy(questions, r.Questions)

	return Snapshot{
		ID:            r.ID,
		Status:        r.Status,
		CurrentStep:   r.CurrentStep,
		Steps:         steps,
		Questions:     questions,
		FailureReason: r.FailureReason,
	}
}

// touch updates the modification timestamp.
func (r *Run) touch() {
	r.UpdatedAt = time.Now()
}
