// Package orchestrator routes agent run requests to an execution strategy
// and normalizes their output into a single sequenced event stream. Every
// run, whatever happens inside it, ends with exactly one terminal event.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/conductorhq/conductor/pkg/agent"
	"github.com/conductorhq/conductor/pkg/cliproc"
	"github.com/conductorhq/conductor/pkg/llm"
	"github.com/conductorhq/conductor/pkg/logging"
	"github.com/conductorhq/conductor/pkg/types"
)

const (
	// DefaultPromiseToken is the marker a Ralph run emits to signal that
	// the underlying task is genuinely complete.
	DefaultPromiseToken = "<<RALPH_COMPLETE>>"

	// DefaultRalphMaxIterations bounds Ralph-mode repetition.
	DefaultRalphMaxIterations = 10

	defaultCLITimeout = 30 * time.Minute
)

// Orchestrator dispatches runs by mode and owns the event channel contract:
// callers receive a channel that always yields exactly one terminal event
// before closing.
type Orchestrator struct {
	loop         *agent.Loop
	runner       *cliproc.Runner
	logger       *logging.Logger
	promiseToken string
	ralphMax     int
	cliTimeout   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPromiseToken overrides the completion-promise marker scanned for in
// Ralph modes.
func WithPromiseToken(token string) Option {
	return func(o *Orchestrator) {
		if token != "" {
			o.promiseToken = token
		}
	}
}

// WithRalphMaxIterations overrides the Ralph iteration cap.
func WithRalphMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.ralphMax = n
		}
	}
}

// WithCLITimeout sets the overall wall-clock budget for a single CLI
// subprocess invocation.
func WithCLITimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.cliTimeout = d
		}
	}
}

// WithLogger attaches a session logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator over an internal reasoning loop and a CLI
// process runner. Either collaborator may be nil when the corresponding
// modes are not used; dispatching to a mode without its collaborator yields
// an error event.
func New(loop *agent.Loop, runner *cliproc.Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loop:         loop,
		runner:       runner,
		promiseToken: DefaultPromiseToken,
		ralphMax:     DefaultRalphMaxIterations,
		cliTimeout:   defaultCLITimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process executes a run request and streams events until a terminal event
// is emitted. The returned channel is closed after the terminal event. The
// caller cancels via ctx; cancellation surfaces as a cancelled event.
func (o *Orchestrator) Process(ctx context.Context, req *types.AgentRunRequest) <-chan *types.StreamEvent {
	out := make(chan *types.StreamEvent, 64)

	var seq uint64
	emit := func(ev *types.StreamEvent) {
		if ev == nil {
			return
		}
		ev.Seq = atomic.AddUint64(&seq, 1)
		// Buffered delivery first, so the terminal event still lands when
		// the context was cancelled but the consumer is draining.
		select {
		case out <- ev:
			return
		default:
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				o.logf("panic during run: %v", r)
				emit(types.NewErrorEvent(fmt.Errorf("internal error: %v", r)))
			}
		}()

		if err := req.Validate(); err != nil {
			emit(types.NewErrorEvent(err))
			return
		}

		o.logf("processing run: mode=%s runtime=%s", req.Mode, req.RuntimeKind)

		switch req.Mode {
		case types.ModeReact:
			o.runReact(ctx, req, emit)
		case types.ModeRalphInternal:
			o.runRalphInternal(ctx, req, emit)
		case types.ModeRalphCLI:
			o.runRalphCLI(ctx, req, emit)
		case types.ModeCLI:
			o.runCLI(ctx, req, emit)
		default:
			emit(types.NewErrorEvent(types.NewValidationError(fmt.Sprintf("unsupported mode %q", req.Mode))))
		}
	}()

	return out
}

// loopFor applies the request's model preference when the loop's provider
// supports cloning for a different model.
func (o *Orchestrator) loopFor(req *types.AgentRunRequest) *agent.Loop {
	if req.Model == "" || o.loop == nil {
		return o.loop
	}
	cloner, ok := o.loop.Provider().(llm.ModelCloner)
	if !ok {
		return o.loop
	}
	return o.loop.CloneWithProvider(cloner.CloneWithModel(req.Model))
}

func (o *Orchestrator) runReact(ctx context.Context, req *types.AgentRunRequest, emit agent.EmitFunc) {
	if o.loop == nil {
		emit(types.NewErrorEvent(fmt.Errorf("react mode requires a reasoning loop")))
		return
	}

	result, err := o.loopFor(req).Run(ctx, req.Message, emit)
	if err != nil {
		emit(o.classifyLoopError(ctx, err))
		return
	}
	if result.Truncated {
		emit(types.NewTruncatedFinalEvent(result.Answer))
		return
	}
	emit(types.NewFinalEvent(result.Answer))
}

func (o *Orchestrator) runCLI(ctx context.Context, req *types.AgentRunRequest, emit agent.EmitFunc) {
	if o.runner == nil {
		emit(types.NewErrorEvent(fmt.Errorf("cli mode requires a process runner")))
		return
	}

	kind, err := cliproc.ParseKind(req.RuntimeKind)
	if err != nil {
		emit(types.NewErrorEvent(err))
		return
	}

	events, err := o.runner.Run(ctx, kind, req.Message, req.WorkDir, o.cliTimeout)
	if err != nil {
		emit(types.NewErrorEvent(err))
		return
	}
	for ev := range events {
		emit(ev)
	}
}

// classifyLoopError maps a loop failure to its terminal event. Context
// cancellation becomes a cancelled event rather than an error.
func (o *Orchestrator) classifyLoopError(ctx context.Context, err error) *types.StreamEvent {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, types.ErrCancelled) {
		return types.NewCancelledEvent()
	}
	return types.NewErrorEvent(err)
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Infof(format, args...)
	}
}
