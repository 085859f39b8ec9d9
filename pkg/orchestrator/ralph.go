package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/conductorhq/conductor/pkg/agent"
	"github.com/conductorhq/conductor/pkg/cliproc"
	"github.com/conductorhq/conductor/pkg/types"
)

// ralphContinuationPrompt nudges a run that finished without declaring
// completion back into the task.
const ralphContinuationPrompt = "The task is not yet complete. Review your previous output, fix anything " +
	"that is wrong or missing, and continue. When the task is fully done, include the marker %s in your answer."

// ralphPolicy resolves the iteration cap and promise token for a request,
// with per-request overrides taking precedence over the orchestrator's
// defaults.
func (o *Orchestrator) ralphPolicy(req *types.AgentRunRequest) (int, string) {
	maxIter := o.ralphMax
	if req.RalphMaxIterations > 0 {
		maxIter = req.RalphMaxIterations
	}
	token := o.promiseToken
	if req.PromiseToken != "" {
		token = req.PromiseToken
	}
	return maxIter, token
}

// runRalphInternal repeats the internal reasoning loop until the run's
// answer contains the completion-promise token or the iteration cap is hit.
// Intermediate answers are surfaced as observations; exactly one final event
// closes the sequence.
func (o *Orchestrator) runRalphInternal(ctx context.Context, req *types.AgentRunRequest, emit agent.EmitFunc) {
	if o.loop == nil {
		emit(types.NewErrorEvent(fmt.Errorf("ralph_internal mode requires a reasoning loop")))
		return
	}

	loop := o.loopFor(req)
	message := req.Message
	lastAnswer := ""
	maxIter, token := o.ralphPolicy(req)

	for i := 1; i <= maxIter; i++ {
		if ctx.Err() != nil {
			emit(types.NewCancelledEvent())
			return
		}

		o.logf("ralph_internal iteration %d/%d", i, maxIter)

		result, err := loop.Run(ctx, message, emit)
		if err != nil {
			emit(o.classifyLoopError(ctx, err))
			return
		}
		lastAnswer = result.Answer

		if strings.Contains(result.Answer, token) {
			emit(types.NewFinalEvent(stripToken(result.Answer, token)).
				WithMetadata("ralph_iterations", i).
				WithMetadata("promise_seen", true))
			return
		}

		// Not done yet. Surface the intermediate answer and go again.
		if i < maxIter {
			emit(types.NewObservationEvent(result.Answer).
				WithMetadata("ralph_iteration", i))
		}
		message = fmt.Sprintf(ralphContinuationPrompt, token)
	}

	emit(types.NewTruncatedFinalEvent(lastAnswer).
		WithMetadata("ralph_iterations", maxIter).
		WithMetadata("promise_seen", false))
}

// runRalphCLI applies the same repeat-until-promised policy around external
// CLI invocations using the ralph runtime kind.
func (o *Orchestrator) runRalphCLI(ctx context.Context, req *types.AgentRunRequest, emit agent.EmitFunc) {
	if o.runner == nil {
		emit(types.NewErrorEvent(fmt.Errorf("ralph_cli mode requires a process runner")))
		return
	}

	prompt := req.Message
	lastAnswer := ""
	maxIter, token := o.ralphPolicy(req)

	for i := 1; i <= maxIter; i++ {
		if ctx.Err() != nil {
			emit(types.NewCancelledEvent())
			return
		}

		o.logf("ralph_cli iteration %d/%d", i, maxIter)

		events, err := o.runner.Run(ctx, cliproc.KindRalph, prompt, req.WorkDir, o.cliTimeout)
		if err != nil {
			emit(types.NewErrorEvent(err))
			return
		}

		promiseSeen := false
		answer := ""
		for ev := range events {
			if ev.IsContentEvent() && strings.Contains(ev.Content, token) {
				promiseSeen = true
			}
			switch ev.Type {
			case types.EventTypeFinal:
				// Held back: the pass-level result only becomes the run's
				// final event once the promise token has been observed.
				answer = ev.Content
			case types.EventTypeError, types.EventTypeCancelled:
				emit(ev)
				return
			default:
				emit(ev)
			}
		}
		lastAnswer = answer

		if promiseSeen {
			emit(types.NewFinalEvent(stripToken(answer, token)).
				WithMetadata("ralph_iterations", i).
				WithMetadata("promise_seen", true))
			return
		}

		if i < maxIter {
			emit(types.NewObservationEvent(answer).
				WithMetadata("ralph_iteration", i))
		}
		prompt = fmt.Sprintf(ralphContinuationPrompt, token)
	}

	emit(types.NewTruncatedFinalEvent(lastAnswer).
		WithMetadata("ralph_iterations", maxIter).
		WithMetadata("promise_seen", false))
}

func stripToken(answer, token string) string {
	return strings.TrimSpace(strings.ReplaceAll(answer, token, ""))
}
