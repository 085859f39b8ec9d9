// Package agent implements the single-request reasoning loop: think, act,
// observe, repeat until a final answer. Every proposed tool invocation is
// classified by the safety filter before any execution path touches it.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/conductorhq/conductor/pkg/agent/confirm"
	"github.com/conductorhq/conductor/pkg/llm"
	"github.com/conductorhq/conductor/pkg/logging"
	"github.com/conductorhq/conductor/pkg/safety"
	"github.com/conductorhq/conductor/pkg/types"
)

const (
	defaultMaxIterations = 25
	defaultBlockedLimit  = 3
	defaultToolTimeout   = 2 * time.Minute

	// consecutiveErrorLimit trips the circuit breaker: this many tool
	// failures in a row abort the loop instead of burning iterations.
	consecutiveErrorLimit = 5
)

// EmitFunc delivers an event to the run's consumer.
type EmitFunc func(event *types.StreamEvent)

// Result is the outcome of a completed reasoning loop.
type Result struct {
	// Answer is the final answer text, or the best partial answer when
	// Truncated is set.
	Answer string

	// Truncated indicates the iteration cap forced termination.
	Truncated bool
}

// Loop runs the think/act/observe cycle for one request. Construct with
// NewLoop; a Loop is safe for concurrent Run calls because all per-run state
// lives on the stack.
type Loop struct {
	provider  llm.Provider
	registry  ToolRegistry
	filter    *safety.Filter
	confirm   *confirm.Manager
	retriever Retriever

	maxIterations int
	blockedLimit  int
	toolTimeout   time.Duration
	llmTimeout    time.Duration
	promptTokens  int

	logger *logging.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxIterations caps reasoning iterations per run.
func WithMaxIterations(max int) LoopOption {
	return func(l *Loop) {
		if max > 0 {
			l.maxIterations = max
		}
	}
}

// WithBlockedLimit sets how many consecutive blocked proposals fail the run.
func WithBlockedLimit(limit int) LoopOption {
	return func(l *Loop) {
		if limit > 0 {
			l.blockedLimit = limit
		}
	}
}

// WithToolTimeout bounds each tool invocation.
func WithToolTimeout(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.toolTimeout = d
		}
	}
}

// WithLLMTimeout bounds each LLM call.
func WithLLMTimeout(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.llmTimeout = d
		}
	}
}

// WithRetriever sets the knowledge lookup collaborator.
func WithRetriever(r Retriever) LoopOption {
	return func(l *Loop) {
		l.retriever = r
	}
}

// WithMaxPromptTokens bounds the conversation history per call.
func WithMaxPromptTokens(max int) LoopOption {
	return func(l *Loop) {
		l.promptTokens = max
	}
}

// NewLoop creates a reasoning loop.
func NewLoop(provider llm.Provider, registry ToolRegistry, filter *safety.Filter, confirmMgr *confirm.Manager, opts ...LoopOption) *Loop {
	l := &Loop{
		provider:      provider,
		registry:      registry,
		filter:        filter,
		confirm:       confirmMgr,
		maxIterations: defaultMaxIterations,
		blockedLimit:  defaultBlockedLimit,
		toolTimeout:   defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger, _ = logging.NewLogger("agent")
	}
	return l
}

// Run drives the loop for one message until a final answer, the iteration
// cap, cancellation, or an unrecoverable error. Events are delivered through
// emit; the terminal final/error/cancelled event is the orchestrator's
// responsibility, so Run reports its outcome as a Result and error instead.
func (l *Loop) Run(ctx context.Context, message string, emit EmitFunc) (*Result, error) {
	history := []*types.Message{types.NewUserMessage(message)}

	builder := NewPromptBuilder().WithTools(l.registry.List())
	if l.promptTokens > 0 {
		builder = builder.WithMaxPromptTokens(l.promptTokens)
	}
	if l.retriever != nil {
		snippets, err := l.retriever.Query(ctx, message)
		if err != nil {
			// Retrieval is best-effort context enrichment.
			l.logger.Warnf("knowledge retrieval failed: %v", err)
		} else {
			builder = builder.WithRetrievedContext(snippets)
		}
	}

	var lastThinking string
	consecutiveBlocked := 0
	consecutiveErrors := 0

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return nil, types.ErrCancelled
		default:
		}

		response, err := l.callLLM(ctx, builder.BuildMessages(history))
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.ErrCancelled
			}
			return nil, types.NewUpstreamError(err)
		}
		history = append(history, types.NewAssistantMessage(response))

		thinking, directive, _, parseErr := ExtractDirective(response)
		if thinking != "" {
			emit(types.NewThoughtEvent(thinking))
			lastThinking = thinking
		}

		if parseErr != nil {
			// Malformed directive: feed the parse error back as an
			// observation so the model can correct its own formatting.
			observation := fmt.Sprintf("Your action directive could not be parsed: %v. Emit exactly one well-formed <action> block.", parseErr)
			emit(types.NewObservationEvent(observation))
			history = append(history, types.NewUserMessage(observation))
			continue
		}

		if directive == nil {
			// No action directive: the response is the final answer.
			return &Result{Answer: thinking}, nil
		}

		proposal := NewProposal(directive, l.filter)
		emit(types.NewActionEvent(proposal.ToolName(), proposal.Args()))

		switch proposal.Decision() {
		case safety.DecisionBlocked:
			consecutiveBlocked++
			event := types.NewBlockedObservationEvent(proposal.ToolName(), proposal.Reason())
			emit(event)
			history = append(history, types.NewUserMessage(event.Content))

			if consecutiveBlocked >= l.blockedLimit {
				return nil, fmt.Errorf("%w: %d consecutive proposals blocked (last: %s)",
					types.ErrSafetyBlocked, consecutiveBlocked, proposal.Reason())
			}
			continue

		case safety.DecisionRequiresConfirmation:
			outcome, observation := l.awaitConfirmation(ctx, proposal, emit)
			if outcome == confirm.OutcomeCancelled {
				return nil, types.ErrCancelled
			}
			if outcome != confirm.OutcomeApproved {
				emit(types.NewObservationEvent(observation))
				history = append(history, types.NewUserMessage(observation))
				continue
			}
			// Approved: fall through to execution.
		}

		observation, invokeErr := l.invokeTool(ctx, proposal)
		if invokeErr != nil {
			if ctx.Err() != nil {
				return nil, types.ErrCancelled
			}
			consecutiveErrors++
			if consecutiveErrors >= consecutiveErrorLimit {
				return nil, fmt.Errorf("circuit breaker triggered: %d consecutive tool failures: %w", consecutiveErrors, invokeErr)
			}
			failure := fmt.Sprintf("Tool '%s' failed: %v", proposal.ToolName(), invokeErr)
			emit(types.NewObservationEvent(failure))
			history = append(history, types.NewUserMessage(failure))
			continue
		}

		consecutiveErrors = 0
		consecutiveBlocked = 0
		emit(types.NewToolResultEvent(proposal.ToolName(), observation))
		history = append(history, types.NewUserMessage(fmt.Sprintf("Tool '%s' result:\n%s", proposal.ToolName(), observation)))
	}

	// Iteration cap reached: force a final carrying the best partial answer.
	l.logger.Warnf("iteration cap %d reached, truncating", l.maxIterations)
	return &Result{Answer: lastThinking, Truncated: true}, nil
}

// ResolveConfirmation delivers a user decision to a suspended run.
func (l *Loop) ResolveConfirmation(decision confirm.Decision) {
	l.confirm.Resolve(decision)
}

// Provider returns the LLM provider used by this loop.
func (l *Loop) Provider() llm.Provider {
	return l.provider
}

// CloneWithProvider returns a shallow copy of the loop directing calls to
// the given provider. Used for per-request model overrides; the clone shares
// the registry, filter, and confirmation manager.
func (l *Loop) CloneWithProvider(p llm.Provider) *Loop {
	clone := *l
	clone.provider = p
	return &clone
}

func (l *Loop) callLLM(ctx context.Context, messages []*types.Message) (string, error) {
	callCtx := ctx
	if l.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.llmTimeout)
		defer cancel()
	}

	msg, err := l.provider.Complete(callCtx, messages)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", fmt.Errorf("%w: LLM call exceeded %s", types.ErrTimeout, l.llmTimeout)
		}
		return "", err
	}
	return msg.Content, nil
}

// awaitConfirmation surfaces a pending-confirmation event and suspends until
// a decision, timeout, or cancellation. Returns the outcome and, for
// non-approved outcomes, the observation text to feed back to the model.
func (l *Loop) awaitConfirmation(ctx context.Context, proposal *ToolInvocationProposal, emit EmitFunc) (confirm.Outcome, string) {
	confirmID := l.confirm.NewRequestID()
	emit(types.NewPendingConfirmationEvent(confirmID, proposal.ToolName(), proposal.Reason(), proposal.Args()))

	outcome := l.confirm.Wait(ctx, confirmID)
	switch outcome {
	case confirm.OutcomeTimedOut:
		return outcome, fmt.Sprintf("Confirmation for tool '%s' timed out after %v. The action was not executed.", proposal.ToolName(), l.confirm.Timeout())
	case confirm.OutcomeRejected:
		return outcome, fmt.Sprintf("Tool '%s' was skipped by the user.", proposal.ToolName())
	default:
		return outcome, ""
	}
}

func (l *Loop) invokeTool(ctx context.Context, proposal *ToolInvocationProposal) (string, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, l.toolTimeout)
	defer cancel()

	result, err := l.registry.Invoke(invokeCtx, proposal.ToolName(), proposal.Args())
	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", fmt.Errorf("%w: tool '%s' exceeded %s", types.ErrTimeout, proposal.ToolName(), l.toolTimeout)
		}
		return "", err
	}
	return result, nil
}
