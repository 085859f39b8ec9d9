package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorhq/conductor/pkg/agent/confirm"
	"github.com/conductorhq/conductor/pkg/llm"
	"github.com/conductorhq/conductor/pkg/safety"
	"github.com/conductorhq/conductor/pkg/types"
)

// scriptedProvider replays canned completions in order, repeating the last
// one once the script runs out.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
}

func (p *scriptedProvider) Complete(_ context.Context, _ []*types.Message) (*types.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return types.NewAssistantMessage(p.responses[idx]), nil
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	msg, err := p.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}
	ch := make(chan *llm.StreamChunk, 1)
	ch <- &llm.StreamChunk{Content: msg.Content, Finished: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) GetModel() string { return "test-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type invocation struct {
	name string
	args map[string]interface{}
}

// stubRegistry records invocations and returns a fixed result or error.
type stubRegistry struct {
	mu      sync.Mutex
	invoked []invocation
	result  string
	err     error
}

func (r *stubRegistry) List() []ToolDescriptor {
	return []ToolDescriptor{{Name: "run_command", Description: "Run a shell command."}}
}

func (r *stubRegistry) Invoke(_ context.Context, name string, args map[string]interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoked = append(r.invoked, invocation{name: name, args: args})
	if r.err != nil {
		return "", r.err
	}
	return r.result, nil
}

func (r *stubRegistry) invocations() []invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]invocation, len(r.invoked))
	copy(out, r.invoked)
	return out
}

func newTestLoop(t *testing.T, provider llm.Provider, registry ToolRegistry, opts ...LoopOption) *Loop {
	t.Helper()
	filter, err := safety.NewFilter()
	require.NoError(t, err)
	return NewLoop(provider, registry, filter, confirm.NewManager(5*time.Second), opts...)
}

func actionResponse(thinking, command string) string {
	return thinking + "\n\n<action>\n<tool_name>run_command</tool_name>\n<arguments>\n  <command>" + command + "</command>\n</arguments>\n</action>"
}

func eventTypes(events []*types.StreamEvent) []types.EventType {
	out := make([]types.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestRunFinalAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"The service is healthy. Nothing to do."}}
	registry := &stubRegistry{}
	loop := newTestLoop(t, provider, registry)

	var events []*types.StreamEvent
	result, err := loop.Run(context.Background(), "check the service", func(e *types.StreamEvent) {
		events = append(events, e)
	})

	require.NoError(t, err)
	assert.Equal(t, "The service is healthy. Nothing to do.", result.Answer)
	assert.False(t, result.Truncated)
	assert.Equal(t, []types.EventType{types.EventTypeThought}, eventTypes(events))
	assert.Empty(t, registry.invocations())
}

func TestRunToolInvocation(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		actionResponse("I should list the directory.", "ls /var/log"),
		"The directory contains two log files.",
	}}
	registry := &stubRegistry{result: "app.log  error.log"}
	loop := newTestLoop(t, provider, registry)

	var events []*types.StreamEvent
	result, err := loop.Run(context.Background(), "what logs exist?", func(e *types.StreamEvent) {
		events = append(events, e)
	})

	require.NoError(t, err)
	assert.Equal(t, "The directory contains two log files.", result.Answer)

	invoked := registry.invocations()
	require.Len(t, invoked, 1)
	assert.Equal(t, "run_command", invoked[0].name)
	assert.Equal(t, "ls /var/log", invoked[0].args["command"])

	assert.Equal(t, []types.EventType{
		types.EventTypeThought,
		types.EventTypeAction,
		types.EventTypeToolResult,
		types.EventTypeThought,
	}, eventTypes(events))
	assert.Equal(t, "app.log  error.log", events[2].ToolOutput)
}

func TestRunBlockedProposal(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		actionResponse("Cleaning up.", "rm -rf /var/cache/app"),
		"I will not delete anything.",
	}}
	registry := &stubRegistry{}
	loop := newTestLoop(t, provider, registry)

	var observations []*types.StreamEvent
	result, err := loop.Run(context.Background(), "free disk space", func(e *types.StreamEvent) {
		if e.Type == types.EventTypeObservation {
			observations = append(observations, e)
		}
	})

	require.NoError(t, err)
	assert.Equal(t, "I will not delete anything.", result.Answer)
	assert.Empty(t, registry.invocations(), "blocked proposal must never reach the registry")

	require.Len(t, observations, 1)
	assert.Contains(t, observations[0].Content, "blocked by safety filter")
	assert.Equal(t, "recursive forced deletion", observations[0].Reason)
}

func TestRunBlockedLimit(t *testing.T) {
	// The provider keeps proposing the same blocked command; the last
	// scripted response repeats forever.
	provider := &scriptedProvider{responses: []string{
		actionResponse("Trying again.", "rm -rf /"),
	}}
	registry := &stubRegistry{}
	loop := newTestLoop(t, provider, registry)

	result, err := loop.Run(context.Background(), "wipe it", func(*types.StreamEvent) {})

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSafetyBlocked)
	assert.Nil(t, result)
	assert.Equal(t, 3, provider.callCount())
	assert.Empty(t, registry.invocations())
}

func TestRunConfirmationApproved(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		actionResponse("Restarting the service.", "sudo systemctl restart nginx"),
		"Service restarted.",
	}}
	registry := &stubRegistry{result: "nginx restarted"}
	loop := newTestLoop(t, provider, registry)

	var pending *types.StreamEvent
	result, err := loop.Run(context.Background(), "restart nginx", func(e *types.StreamEvent) {
		if e.Type == types.EventTypePendingConfirmation {
			pending = e
			loop.ResolveConfirmation(confirm.Decision{ConfirmID: e.ConfirmID, Approved: true})
		}
	})

	require.NoError(t, err)
	assert.Equal(t, "Service restarted.", result.Answer)
	require.NotNil(t, pending)
	assert.Equal(t, "run_command", pending.ToolName)
	assert.NotEmpty(t, pending.Reason)
	require.Len(t, registry.invocations(), 1)
}

func TestRunConfirmationRejected(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		actionResponse("Restarting the service.", "sudo systemctl restart nginx"),
		"Understood, leaving the service alone.",
	}}
	registry := &stubRegistry{}
	loop := newTestLoop(t, provider, registry)

	var observations []string
	result, err := loop.Run(context.Background(), "restart nginx", func(e *types.StreamEvent) {
		switch e.Type {
		case types.EventTypePendingConfirmation:
			loop.ResolveConfirmation(confirm.Decision{ConfirmID: e.ConfirmID, Approved: false})
		case types.EventTypeObservation:
			observations = append(observations, e.Content)
		}
	})

	require.NoError(t, err)
	assert.Equal(t, "Understood, leaving the service alone.", result.Answer)
	assert.Empty(t, registry.invocations(), "rejected proposal must not execute")
	require.Len(t, observations, 1)
	assert.Contains(t, observations[0], "skipped by the user")
}

func TestRunIterationCap(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		actionResponse("Still investigating.", "cat /var/log/app.log"),
	}}
	registry := &stubRegistry{result: "log line"}
	loop := newTestLoop(t, provider, registry, WithMaxIterations(2))

	result, err := loop.Run(context.Background(), "investigate", func(*types.StreamEvent) {})

	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, "Still investigating.", result.Answer)
	assert.Equal(t, 2, provider.callCount())
}

func TestRunToolErrorCircuitBreaker(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		actionResponse("Reading the file.", "cat /etc/app.conf"),
	}}
	registry := &stubRegistry{err: errors.New("permission denied")}
	loop := newTestLoop(t, provider, registry)

	result, err := loop.Run(context.Background(), "read config", func(*types.StreamEvent) {})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker")
	assert.Nil(t, result)
	assert.Len(t, registry.invocations(), 5)
}

func TestRunMalformedDirectiveFeedback(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		"Let me act.\n\n<action>\n<tool_name>run_command\n<arguments><command>ls</command></arguments>\n</action>",
		"Giving a plain answer instead.",
	}}
	registry := &stubRegistry{}
	loop := newTestLoop(t, provider, registry)

	var observations []string
	result, err := loop.Run(context.Background(), "do something", func(e *types.StreamEvent) {
		if e.Type == types.EventTypeObservation {
			observations = append(observations, e.Content)
		}
	})

	require.NoError(t, err)
	assert.Equal(t, "Giving a plain answer instead.", result.Answer)
	require.Len(t, observations, 1)
	assert.Contains(t, observations[0], "could not be parsed")
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{responses: []string{"never reached"}}
	loop := newTestLoop(t, provider, &stubRegistry{})

	result, err := loop.Run(ctx, "anything", func(*types.StreamEvent) {})

	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Nil(t, result)
	assert.Equal(t, 0, provider.callCount())
}

func TestRunUpstreamError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	loop := newTestLoop(t, provider, &stubRegistry{})

	result, err := loop.Run(context.Background(), "anything", func(*types.StreamEvent) {})

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstreamProvider)
	assert.Nil(t, result)
}

func TestCloneWithProvider(t *testing.T) {
	original := &scriptedProvider{responses: []string{"from original"}}
	override := &scriptedProvider{responses: []string{"from override"}}
	loop := newTestLoop(t, original, &stubRegistry{})

	clone := loop.CloneWithProvider(override)
	result, err := clone.Run(context.Background(), "hello", func(*types.StreamEvent) {})

	require.NoError(t, err)
	assert.Equal(t, "from override", result.Answer)
	assert.Equal(t, 0, original.callCount())
	assert.Same(t, original, loop.Provider().(*scriptedProvider))
}
