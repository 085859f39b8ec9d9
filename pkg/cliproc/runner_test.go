package cliproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorhq/conductor/pkg/types"
)

// shellRunner returns a runner whose codex kind executes the given shell
// script instead of a real agent CLI.
func shellRunner(script string, opts ...RunnerOption) *Runner {
	all := append([]RunnerOption{
		WithTemplate(KindCodex, Template{Bin: "/bin/sh", Args: []string{"-c", script}}),
	}, opts...)
	return NewRunner(all...)
}

func collect(t *testing.T, events <-chan *types.StreamEvent) []*types.StreamEvent {
	t.Helper()

	var out []*types.StreamEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out collecting events")
		}
	}
}

func terminalOf(t *testing.T, events []*types.StreamEvent) *types.StreamEvent {
	t.Helper()
	require.NotEmpty(t, events)

	terminals := 0
	var last *types.StreamEvent
	for _, ev := range events {
		if ev.IsTerminal() {
			terminals++
			last = ev
		}
	}
	require.Equal(t, 1, terminals, "expected exactly one terminal event")
	return last
}

func TestRunSuccessEmitsFinal(t *testing.T) {
	r := shellRunner(`cat > /dev/null
echo '{"type":"thought","content":"working"}'
echo '{"type":"result","content":"done"}'`)

	events, err := r.Run(context.Background(), KindCodex, "go", "", time.Minute)
	require.NoError(t, err)
	got := collect(t, events)

	terminal := terminalOf(t, got)
	assert.Equal(t, types.EventTypeFinal, terminal.Type)
	assert.Equal(t, "done", terminal.Content)

	// Non-terminal events arrive before the terminal one.
	assert.Equal(t, types.EventTypeThought, got[0].Type)
}

func TestRunDeliversPromptOnStdin(t *testing.T) {
	r := shellRunner(`p=$(cat)
printf '{"type":"result","content":"got %s"}\n' "$p"`)

	events, err := r.Run(context.Background(), KindCodex, "hello world", "", time.Minute)
	require.NoError(t, err)

	terminal := terminalOf(t, collect(t, events))
	assert.Equal(t, "got hello world", terminal.Content)
}

func TestRunForwardsNonJSONAsPassthrough(t *testing.T) {
	r := shellRunner(`cat > /dev/null
echo 'installing dependencies...'
echo '{"type":"result","content":"ok"}'`)

	events, err := r.Run(context.Background(), KindCodex, "go", "", time.Minute)
	require.NoError(t, err)
	got := collect(t, events)

	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, types.EventTypePassthrough, got[0].Type)
	assert.Equal(t, "installing dependencies...", got[0].Content)
}

func TestRunNonzeroExitEmitsError(t *testing.T) {
	r := shellRunner(`cat > /dev/null
echo 'something is wrong' >&2
echo 'fatal: cannot continue' >&2
exit 3`)

	events, err := r.Run(context.Background(), KindCodex, "go", "", time.Minute)
	require.NoError(t, err)

	terminal := terminalOf(t, collect(t, events))
	assert.Equal(t, types.EventTypeError, terminal.Type)
	assert.Equal(t, 3, terminal.ExitCode)
	assert.ErrorIs(t, terminal.Error, types.ErrSubprocess)
	require.NotEmpty(t, terminal.StderrTail)
	assert.Contains(t, terminal.StderrTail, "fatal: cannot continue")
}

func TestRunCancellationEmitsCancelled(t *testing.T) {
	r := shellRunner(`cat > /dev/null
echo '{"type":"thought","content":"starting"}'
sleep 30`, WithGracePeriod(500*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := r.Run(ctx, KindCodex, "go", "", time.Minute)
	require.NoError(t, err)

	// Wait for the first event so the process is definitely up.
	first := <-events
	require.NotNil(t, first)

	start := time.Now()
	cancel()
	got := collect(t, events)
	elapsed := time.Since(start)

	terminal := terminalOf(t, append([]*types.StreamEvent{first}, got...))
	assert.Equal(t, types.EventTypeCancelled, terminal.Type)
	assert.Less(t, elapsed, 5*time.Second, "cancellation latency should be bounded by the grace period")
}

func TestRunIdleTimeoutEmitsTimeoutError(t *testing.T) {
	r := shellRunner(`cat > /dev/null
sleep 30`, WithGracePeriod(200*time.Millisecond))

	events, err := r.Run(context.Background(), KindCodex, "go", "", 300*time.Millisecond)
	require.NoError(t, err)

	terminal := terminalOf(t, collect(t, events))
	assert.Equal(t, types.EventTypeError, terminal.Type)
	assert.ErrorIs(t, terminal.Error, types.ErrTimeout)
}

func TestRunUnknownKindTemplate(t *testing.T) {
	r := NewRunner()
	delete(r.templates, KindRalph)

	_, err := r.Run(context.Background(), KindRalph, "go", "", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestRunSpawnFailure(t *testing.T) {
	r := NewRunner(WithTemplate(KindCodex, Template{Bin: "/nonexistent/binary"}))

	_, err := r.Run(context.Background(), KindCodex, "go", "", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSubprocess)
}
