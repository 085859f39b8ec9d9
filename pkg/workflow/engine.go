package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/conductorhq/conductor/pkg/audit"
	"github.com/conductorhq/conductor/pkg/logging"
	"github.com/conductorhq/conductor/pkg/types"
)

// ErrStepActive is returned when a control operation would overlap an
// executing step. At most one step of a run executes at any instant.
var ErrStepActive = errors.New("a step is already executing for this run")

// ErrUnknownRun is returned for operations on run ids the engine does not
// track.
var ErrUnknownRun = errors.New("unknown workflow run")

// readyMarker is what the pre-analysis pass emits when the workspace checks
// out. Anything else suspends the run with clarifying questions.
const readyMarker = "READY"

const preAnalysisPromptTemplate = "Before executing the workflow %q, verify the workspace is ready: " +
	"required tools installed, repository state clean enough to work in, and the step goals achievable. " +
	"If everything checks out, reply with the single word %s. Otherwise list the problems and the " +
	"clarifying questions a human must answer, one per line prefixed with \"- \"."

// Processor executes one orchestrated run and streams its events. Satisfied
// by orchestrator.Orchestrator.
type Processor interface {
	Process(ctx context.Context, req *types.AgentRunRequest) <-chan *types.StreamEvent
}

// Engine owns workflow runs and drives their steps through a Processor.
// Control operations are safe for concurrent use; per-run execution is
// serialized by an execution lock held for the duration of each step.
type Engine struct {
	processor Processor
	sink      audit.Sink
	logger    *logging.Logger

	preAnalysisKind string
	failOnRalphCap  bool

	mu   sync.Mutex
	runs map[string]*runHandle
}

// runHandle pairs a run with its synchronization state.
type runHandle struct {
	mu  sync.Mutex // guards run, cancelStep, stopped
	run *Run

	// execLock serializes step execution. Capacity one; holding the token
	// means a step (or an advance over steps) is in flight.
	execLock chan struct{}

	cancelStep context.CancelFunc
	stopped    bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSink sets the audit sink step events are appended to.
func WithSink(sink audit.Sink) EngineOption {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithPreAnalysisKind fixes the runtime kind used for the readiness gate.
// The gate always uses this kind regardless of each step's own runtime.
func WithPreAnalysisKind(kind string) EngineOption {
	return func(e *Engine) {
		if kind != "" {
			e.preAnalysisKind = kind
		}
	}
}

// WithFailOnRalphCap controls whether hitting a step's Ralph iteration cap
// without the promise token fails the step (true) or completes it with a
// warning (false).
func WithFailOnRalphCap(fail bool) EngineOption {
	return func(e *Engine) {
		e.failOnRalphCap = fail
	}
}

// WithEngineLogger attaches a session logger.
func WithEngineLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a workflow engine over the given processor.
func NewEngine(processor Processor, opts ...EngineOption) *Engine {
	e := &Engine{
		processor:       processor,
		sink:            audit.NewMemorySink(),
		preAnalysisKind: "claude",
		failOnRalphCap:  true,
		runs:            make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start creates a run for the definition and executes it until a terminal
// status, a failure awaiting a decision, or the pre-analysis gate suspends
// it. Blocks for the duration; use StartAsync or Stop for asynchronous
// control.
func (e *Engine) Start(ctx context.Context, def *Definition) (Snapshot, error) {
	h, err := e.create(def)
	if err != nil {
		return Snapshot{}, err
	}

	e.execute(ctx, h)
	return e.Get(h.run.ID)
}

// StartAsync creates a run and executes it in the background, returning the
// run id immediately. Progress is observed via Get and the audit sink.
func (e *Engine) StartAsync(ctx context.Context, def *Definition) (string, error) {
	h, err := e.create(def)
	if err != nil {
		return "", err
	}

	go e.execute(ctx, h)
	return h.run.ID, nil
}

func (e *Engine) create(def *Definition) (*runHandle, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	h := &runHandle{
		run:      newRun(def),
		execLock: make(chan struct{}, 1),
	}

	e.mu.Lock()
	e.runs[h.run.ID] = h
	e.mu.Unlock()
	return h, nil
}

func (e *Engine) execute(ctx context.Context, h *runHandle) {
	if !e.tryAcquire(h) {
		// Freshly created; cannot happen, but keep the invariant explicit.
		return
	}
	defer e.release(h)

	run := h.run
	e.logf("starting workflow %q run %s (%d steps)", run.Definition.Name, run.ID, len(run.Definition.Steps))

	if run.Definition.PreAnalysis {
		if !e.runPreAnalysis(ctx, h) {
			return
		}
	}

	e.advance(ctx, h)
}

// Get returns a snapshot of the run's current state.
func (e *Engine) Get(runID string) (Snapshot, error) {
	h, err := e.handle(runID)
	if err != nil {
		return Snapshot{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.snapshot(), nil
}

// Retry re-executes the current step from scratch. Prior log entries are
// retained; the step's attempt counter increments by one.
func (e *Engine) Retry(ctx context.Context, runID string) (Snapshot, error) {
	h, err := e.handle(runID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := e.ensureResumable(h, StatusFailed, StatusPaused); err != nil {
		return Snapshot{}, err
	}

	if !e.tryAcquire(h) {
		return Snapshot{}, ErrStepActive
	}
	defer e.release(h)

	e.advance(ctx, h)
	return e.Get(runID)
}

// Skip marks the current step skipped without executing anything and
// advances the step index by exactly one.
func (e *Engine) Skip(runID string) (Snapshot, error) {
	h, err := e.handle(runID)
	if err != nil {
		return Snapshot{}, err
	}

	if !e.tryAcquire(h) {
		return Snapshot{}, ErrStepActive
	}
	defer e.release(h)

	h.mu.Lock()
	defer h.mu.Unlock()

	run := h.run
	if run.Status != StatusFailed && run.Status != StatusPaused {
		return Snapshot{}, fmt.Errorf("cannot skip from status %s", run.Status)
	}

	run.Steps[run.CurrentStep].State = StepSkipped
	run.CurrentStep++
	run.FailureReason = ""
	if run.CurrentStep >= len(run.Definition.Steps) {
		run.Status = StatusCompleted
	} else {
		run.Status = StatusPaused
	}
	run.touch()

	e.logf("run %s: skipped step %d, now at %d (%s)", run.ID, run.CurrentStep-1, run.CurrentStep, run.Status)
	return run.snapshot(), nil
}

// Continue resumes execution at the first incomplete step. Works from
// paused, failed, and awaiting_confirmation.
func (e *Engine) Continue(ctx context.Context, runID string) (Snapshot, error) {
	h, err := e.handle(runID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := e.ensureResumable(h, StatusFailed, StatusPaused, StatusAwaitingConfirmation); err != nil {
		return Snapshot{}, err
	}

	if !e.tryAcquire(h) {
		return Snapshot{}, ErrStepActive
	}
	defer e.release(h)

	h.mu.Lock()
	h.run.Questions = nil
	h.mu.Unlock()

	e.advance(ctx, h)
	return e.Get(runID)
}

// Stop cancels the run. Any active subprocess is signalled immediately; the
// run ends cancelled and no further step executes.
func (e *Engine) Stop(runID string) (Snapshot, error) {
	h, err := e.handle(runID)
	if err != nil {
		return Snapshot{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	run := h.run
	if run.Status.IsTerminal() {
		return run.snapshot(), nil
	}

	h.stopped = true
	if h.cancelStep != nil {
		// An active step observes the cancellation and finishes with a
		// cancelled terminal event; advance then marks the run.
		h.cancelStep()
	} else {
		run.Status = StatusCancelled
		run.touch()
	}

	e.logf("run %s: stop requested", run.ID)
	return run.snapshot(), nil
}

func (e *Engine) handle(runID string) (*runHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return h, nil
}

func (e *Engine) ensureResumable(h *runHandle, allowed ...Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range allowed {
		if h.run.Status == s {
			return nil
		}
	}
	return fmt.Errorf("cannot resume from status %s", h.run.Status)
}

func (e *Engine) tryAcquire(h *runHandle) bool {
	select {
	case h.execLock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) release(h *runHandle) {
	<-h.execLock
}

// advance executes steps from the current index until the run completes,
// fails, or is cancelled. Caller must hold the execution lock.
func (e *Engine) advance(ctx context.Context, h *runHandle) {
	for {
		h.mu.Lock()
		run := h.run
		if h.stopped {
			run.Status = StatusCancelled
			run.touch()
			h.mu.Unlock()
			return
		}
		if run.CurrentStep >= len(run.Definition.Steps) {
			run.Status = StatusCompleted
			run.touch()
			h.mu.Unlock()
			return
		}

		idx := run.CurrentStep
		step := run.Definition.Steps[idx]
		run.Status = StatusRunning
		run.Steps[idx].State = StepRunning
		run.Steps[idx].Attempts++
		run.FailureReason = ""
		attempt := run.Steps[idx].Attempts
		run.touch()
		h.mu.Unlock()

		e.logf("run %s: executing step %d (%s) attempt %d", run.ID, idx, step.Name, attempt)
		outcome := e.executeStep(ctx, h, idx, attempt, &step)

		h.mu.Lock()
		rec := &run.Steps[idx]
		switch outcome.kind {
		case stepSucceeded:
			rec.State = StepCompleted
			rec.Warning = outcome.warning
			run.CurrentStep++
		case stepFailed:
			rec.State = StepFailed
			rec.FailureReason = outcome.reason
			run.Status = StatusFailed
			run.FailureReason = outcome.reason
			run.touch()
			h.mu.Unlock()
			return
		case stepCancelled:
			run.Status = StatusCancelled
			run.touch()
			h.mu.Unlock()
			return
		}
		run.touch()
		h.mu.Unlock()
	}
}

type stepOutcomeKind int

const (
	stepSucceeded stepOutcomeKind = iota
	stepFailed
	stepCancelled
)

type stepOutcome struct {
	kind    stepOutcomeKind
	reason  string
	warning string
}

// executeStep runs one step through the processor and classifies its
// terminal event. Caller must hold the execution lock.
func (e *Engine) executeStep(ctx context.Context, h *runHandle, idx, attempt int, step *StepSpec) stepOutcome {
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	h.cancelStep = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.cancelStep = nil
		h.mu.Unlock()
	}()

	run := h.run
	workDir := run.Definition.WorkDir
	events := e.processor.Process(stepCtx, step.request(workDir))

	var terminal *types.StreamEvent
	for ev := range events {
		e.record(run.ID, idx, attempt, ev)
		if ev.IsTerminal() {
			terminal = ev
		}
	}

	if terminal == nil {
		return stepOutcome{kind: stepFailed, reason: "step ended without a terminal event"}
	}

	switch terminal.Type {
	case types.EventTypeCancelled:
		return stepOutcome{kind: stepCancelled}
	case types.EventTypeError:
		return stepOutcome{kind: stepFailed, reason: failureReason(terminal)}
	default:
		return e.classifyFinal(terminal, step)
	}
}

// classifyFinal applies the Ralph cap policy to a final event.
func (e *Engine) classifyFinal(ev *types.StreamEvent, step *StepSpec) stepOutcome {
	promiseSeen, tracked := ev.Metadata["promise_seen"].(bool)
	if ev.Truncated && tracked && !promiseSeen {
		reason := "iteration cap reached without completion promise"
		if e.failOnRalphCap {
			return stepOutcome{kind: stepFailed, reason: reason}
		}
		return stepOutcome{kind: stepSucceeded, warning: reason}
	}
	return stepOutcome{kind: stepSucceeded}
}

// runPreAnalysis executes the readiness gate and reports whether the run
// may proceed. Not ready suspends the run with clarifying questions.
func (e *Engine) runPreAnalysis(ctx context.Context, h *runHandle) bool {
	run := h.run

	h.mu.Lock()
	run.Status = StatusRunning
	run.touch()
	h.mu.Unlock()

	req := &types.AgentRunRequest{
		Message:     fmt.Sprintf(preAnalysisPromptTemplate, run.Definition.Name, readyMarker),
		Mode:        types.ModeCLI,
		RuntimeKind: e.preAnalysisKind,
		WorkDir:     run.Definition.WorkDir,
	}

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	h.cancelStep = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.cancelStep = nil
		h.mu.Unlock()
	}()

	var terminal *types.StreamEvent
	for ev := range e.processor.Process(stepCtx, req) {
		e.record(run.ID, -1, 0, ev)
		if ev.IsTerminal() {
			terminal = ev
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || (terminal != nil && terminal.Type == types.EventTypeCancelled) {
		run.Status = StatusCancelled
		run.touch()
		return false
	}
	if terminal == nil || terminal.Type == types.EventTypeError {
		run.Status = StatusFailed
		run.FailureReason = "pre-analysis failed"
		if terminal != nil {
			run.FailureReason = "pre-analysis failed: " + failureReason(terminal)
		}
		run.touch()
		return false
	}

	if isReady(terminal.Content) {
		return true
	}

	run.Status = StatusAwaitingConfirmation
	run.Questions = extractQuestions(terminal.Content)
	run.touch()
	e.logf("run %s: workspace not ready, awaiting confirmation (%d questions)", run.ID, len(run.Questions))
	return false
}

// record appends one event to the audit sink. Best effort; audit failures
// never fail a step.
func (e *Engine) record(runID string, idx, attempt int, ev *types.StreamEvent) {
	content := ev.Content
	if ev.Type == types.EventTypeError {
		content = failureReason(ev)
	}

	err := e.sink.Append(context.Background(), audit.Entry{
		RunID:     runID,
		StepIndex: idx,
		Attempt:   attempt,
		EventType: string(ev.Type),
		Content:   content,
	})
	if err != nil {
		e.logf("audit append failed for run %s: %v", runID, err)
	}
}

// failureReason flattens an error event into a caller-actionable string.
func failureReason(ev *types.StreamEvent) string {
	var sb strings.Builder
	if ev.Error != nil {
		sb.WriteString(ev.Error.Error())
	} else {
		sb.WriteString("step failed")
	}
	if ev.ExitCode != 0 {
		fmt.Fprintf(&sb, " (exit code %d)", ev.ExitCode)
	}
	if len(ev.StderrTail) > 0 {
		sb.WriteString("; stderr: ")
		sb.WriteString(strings.Join(ev.StderrTail, " | "))
	}
	return sb.String()
}

func isReady(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), readyMarker) {
			return true
		}
	}
	return false
}

// extractQuestions pulls the "- " prefixed lines out of a not-ready
// pre-analysis answer, falling back to the whole answer.
func extractQuestions(content string) []string {
	var questions []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") {
			questions = append(questions, strings.TrimPrefix(trimmed, "- "))
		}
	}
	if len(questions) == 0 && strings.TrimSpace(content) != "" {
		questions = append(questions, strings.TrimSpace(content))
	}
	return questions
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Infof(format, args...)
	}
}
