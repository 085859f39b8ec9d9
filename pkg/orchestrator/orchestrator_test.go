package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorhq/conductor/pkg/agent"
	"github.com/conductorhq/conductor/pkg/agent/confirm"
	"github.com/conductorhq/conductor/pkg/llm"
	"github.com/conductorhq/conductor/pkg/safety"
	"github.com/conductorhq/conductor/pkg/types"
)

// scriptedProvider replays canned completions in order, repeating the last
// one when the script runs out.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++

	ch := make(chan *llm.StreamChunk, 2)
	ch <- &llm.StreamChunk{Content: p.responses[idx], Role: "assistant"}
	ch <- &llm.StreamChunk{Finished: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	stream, err := p.StreamCompletion(ctx, messages)
	if err != nil {
		return nil, err
	}
	return llm.Collect(stream)
}

func (p *scriptedProvider) GetModel() string { return "scripted" }

type noopRegistry struct{}

func (noopRegistry) List() []agent.ToolDescriptor { return nil }

func (noopRegistry) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return "", errors.New("no tools registered")
}

func newTestOrchestrator(t *testing.T, responses []string, opts ...Option) *Orchestrator {
	t.Helper()

	filter, err := safety.NewFilter()
	require.NoError(t, err)

	loop := agent.NewLoop(
		&scriptedProvider{responses: responses},
		noopRegistry{},
		filter,
		confirm.NewManager(time.Second),
	)
	return New(loop, nil, opts...)
}

func drain(t *testing.T, events <-chan *types.StreamEvent) []*types.StreamEvent {
	t.Helper()

	var collected []*types.StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, ev)
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}

func TestProcessReactFinal(t *testing.T) {
	o := newTestOrchestrator(t, []string{"The answer is 42."})

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Message: "what is the answer?",
		Mode:    types.ModeReact,
	})
	collected := drain(t, events)

	require.NotEmpty(t, collected)
	last := collected[len(collected)-1]
	assert.Equal(t, types.EventTypeFinal, last.Type)
	assert.Equal(t, "The answer is 42.", last.Content)
	assert.False(t, last.Truncated)
}

func TestProcessExactlyOneTerminalEvent(t *testing.T) {
	o := newTestOrchestrator(t, []string{"done"})

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Message: "hi",
		Mode:    types.ModeReact,
	})

	terminals := 0
	for _, ev := range drain(t, events) {
		if ev.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestProcessSequenceNumbersIncrease(t *testing.T) {
	o := newTestOrchestrator(t, []string{"first", "<<RALPH_COMPLETE>> finished"},
		WithRalphMaxIterations(3))

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Message: "go",
		Mode:    types.ModeRalphInternal,
	})

	var prev uint64
	for _, ev := range drain(t, events) {
		assert.Greater(t, ev.Seq, prev)
		prev = ev.Seq
	}
}

func TestProcessInvalidRequest(t *testing.T) {
	o := newTestOrchestrator(t, []string{"unused"})

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Mode: types.ModeReact, // missing message
	})
	collected := drain(t, events)

	require.Len(t, collected, 1)
	assert.Equal(t, types.EventTypeError, collected[0].Type)
	assert.ErrorIs(t, collected[0].Error, types.ErrValidation)
}

func TestProcessUnsupportedMode(t *testing.T) {
	o := newTestOrchestrator(t, []string{"unused"})

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Message: "hi",
		Mode:    types.RunMode("interpretive_dance"),
	})
	collected := drain(t, events)

	require.Len(t, collected, 1)
	assert.Equal(t, types.EventTypeError, collected[0].Type)
}

func TestProcessCLIModeWithoutRunner(t *testing.T) {
	o := newTestOrchestrator(t, []string{"unused"})

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Message:     "hi",
		Mode:        types.ModeCLI,
		RuntimeKind: "claude",
	})
	collected := drain(t, events)

	require.Len(t, collected, 1)
	assert.Equal(t, types.EventTypeError, collected[0].Type)
}

func TestRalphInternalStopsOnPromiseToken(t *testing.T) {
	o := newTestOrchestrator(t,
		[]string{"still working", "more progress", "all done <<RALPH_COMPLETE>>"},
		WithRalphMaxIterations(10))

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Message: "do the thing",
		Mode:    types.ModeRalphInternal,
	})
	collected := drain(t, events)

	require.NotEmpty(t, collected)
	last := collected[len(collected)-1]
	assert.Equal(t, types.EventTypeFinal, last.Type)
	assert.False(t, last.Truncated)
	assert.Equal(t, "all done", last.Content)
	assert.Equal(t, 3, last.Metadata["ralph_iterations"])
	assert.Equal(t, true, last.Metadata["promise_seen"])
}

func TestRalphInternalCapWithoutToken(t *testing.T) {
	o := newTestOrchestrator(t, []string{"never finishing"},
		WithRalphMaxIterations(4))

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Message: "do the thing",
		Mode:    types.ModeRalphInternal,
	})
	collected := drain(t, events)

	require.NotEmpty(t, collected)
	last := collected[len(collected)-1]
	assert.Equal(t, types.EventTypeFinal, last.Type)
	assert.True(t, last.Truncated)
	assert.Equal(t, "never finishing", last.Content)
	assert.Equal(t, 4, last.Metadata["ralph_iterations"])
	assert.Equal(t, false, last.Metadata["promise_seen"])
}

func TestRalphInternalCustomToken(t *testing.T) {
	o := newTestOrchestrator(t, []string{"shipped DONE_NOW thanks"},
		WithPromiseToken("DONE_NOW"),
		WithRalphMaxIterations(5))

	events := o.Process(context.Background(), &types.AgentRunRequest{
		Message: "ship it",
		Mode:    types.ModeRalphInternal,
	})
	collected := drain(t, events)

	last := collected[len(collected)-1]
	assert.Equal(t, types.EventTypeFinal, last.Type)
	assert.Equal(t, "shipped  thanks", last.Content)
	assert.Equal(t, 1, last.Metadata["ralph_iterations"])
}

func TestProcessCancelledContext(t *testing.T) {
	o := newTestOrchestrator(t, []string{"unused"}, WithRalphMaxIterations(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := o.Process(ctx, &types.AgentRunRequest{
		Message: "hi",
		Mode:    types.ModeRalphInternal,
	})
	collected := drain(t, events)

	require.NotEmpty(t, collected)
	last := collected[len(collected)-1]
	assert.Equal(t, types.EventTypeCancelled, last.Type)
}
