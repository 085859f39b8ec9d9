// Package cliproc spawns and supervises external agent CLI processes,
// converting their newline-delimited JSON output into StreamEvents. The
// runner holds exclusive ownership of each subprocess handle: once spawned,
// only the runner reads from or signals the process.
package cliproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/conductorhq/conductor/pkg/logging"
	"github.com/conductorhq/conductor/pkg/types"
)

const (
	// stderrTailLines is how many trailing stderr lines are carried on
	// subprocess error events.
	stderrTailLines = 20

	// maxLineSize bounds a single output frame. Agent CLIs can emit large
	// tool results in one line.
	maxLineSize = 4 * 1024 * 1024

	defaultGracePeriod = 5 * time.Second
	defaultIdleTimeout = 10 * time.Minute
)

// Runner executes agent CLI processes. Safe for concurrent use; each Run call
// supervises exactly one subprocess.
type Runner struct {
	templates   map[Kind]Template
	gracePeriod time.Duration
	idleTimeout time.Duration
	logger      *logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTemplate overrides the invocation template for a runtime kind.
func WithTemplate(kind Kind, tmpl Template) RunnerOption {
	return func(r *Runner) {
		r.templates[kind] = tmpl
	}
}

// WithGracePeriod sets how long a cancelled process has to exit after
// SIGTERM before it is killed.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.gracePeriod = d
	}
}

// WithIdleTimeout sets the default no-activity timeout applied when a Run
// call passes a zero timeout.
func WithIdleTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.idleTimeout = d
	}
}

// NewRunner creates a runner with the default kind templates.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		templates:   make(map[Kind]Template, len(defaultTemplates)),
		gracePeriod: defaultGracePeriod,
		idleTimeout: defaultIdleTimeout,
	}
	for kind, tmpl := range defaultTemplates {
		r.templates[kind] = tmpl
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger, _ = logging.NewLogger("cliproc")
	}
	return r
}

// Run spawns one subprocess for the requested kind and returns a lazily
// produced sequence of StreamEvents. The prompt is written to the process's
// stdin. The sequence always ends with exactly one terminal event:
//
//   - exit code 0            -> final
//   - nonzero exit           -> error carrying the exit code and stderr tail
//   - context cancellation   -> cancelled (after SIGTERM, grace, SIGKILL)
//   - no output for timeout  -> error wrapping types.ErrTimeout
//
// A zero timeout uses the runner's default idle timeout.
func (r *Runner) Run(ctx context.Context, kind Kind, prompt, workDir string, timeout time.Duration) (<-chan *types.StreamEvent, error) {
	tmpl, ok := r.templates[kind]
	if !ok {
		return nil, types.NewValidationError(fmt.Sprintf("no template for runtime kind %q", kind))
	}
	if timeout <= 0 {
		timeout = r.idleTimeout
	}

	cmd := exec.Command(tmpl.Bin, tmpl.Args...)
	cmd.Dir = workDir
	// Own process group so cancellation reaches the CLI's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", types.ErrSubprocess, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", types.ErrSubprocess, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", types.ErrSubprocess, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", types.ErrSubprocess, tmpl.Bin, err)
	}
	r.logger.Infof("spawned %s (kind=%s pid=%d) in %s", tmpl.Bin, kind, cmd.Process.Pid, workDir)

	events := make(chan *types.StreamEvent, 16)
	h := &procHandle{
		cmd:         cmd,
		kind:        kind,
		events:      events,
		gracePeriod: r.gracePeriod,
		idleTimeout: timeout,
		activity:    make(chan struct{}, 1),
		logger:      r.logger,
	}

	go h.feedPrompt(stdin, prompt)
	go h.collectStderr(stderr)
	go h.supervise(ctx, stdout)

	return events, nil
}

// procHandle supervises a single subprocess. The supervise goroutine is the
// sole writer to events and the sole caller of Wait; the watchdog only
// signals the process.
type procHandle struct {
	cmd         *exec.Cmd
	kind        Kind
	events      chan *types.StreamEvent
	gracePeriod time.Duration
	idleTimeout time.Duration
	logger      *logging.Logger

	// activity is pulsed on every output line so the watchdog can detect a
	// stalled process.
	activity chan struct{}

	mu         sync.Mutex
	stderrTail []string
	cancelled  bool
	timedOut   bool
}

func (h *procHandle) feedPrompt(stdin io.WriteCloser, prompt string) {
	defer stdin.Close()
	if _, err := io.WriteString(stdin, prompt); err != nil {
		h.logger.Warnf("failed to write prompt to pid %d: %v", h.cmd.Process.Pid, err)
	}
}

func (h *procHandle) collectStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		h.mu.Lock()
		h.stderrTail = append(h.stderrTail, scanner.Text())
		if len(h.stderrTail) > stderrTailLines {
			h.stderrTail = h.stderrTail[len(h.stderrTail)-stderrTailLines:]
		}
		h.mu.Unlock()
	}
}

// supervise reads framed output until the pipe closes, then reaps the process
// and emits exactly one terminal event.
func (h *procHandle) supervise(ctx context.Context, stdout io.Reader) {
	defer close(h.events)

	watchdogDone := make(chan struct{})
	go h.watchdog(ctx, watchdogDone)
	defer close(watchdogDone)

	var finalContent string
	var sawFinal bool
	var lastContent string

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		h.pulse()
		event := decodeFrame(h.kind, scanner.Text())
		if event == nil {
			continue
		}
		if event.Type == types.EventTypeFinal {
			// Held back until exit status confirms success, so the sequence
			// has exactly one terminal event.
			finalContent = event.Content
			sawFinal = true
			continue
		}
		if event.IsContentEvent() && event.Content != "" {
			lastContent = event.Content
		}
		h.events <- event
	}

	err := h.cmd.Wait()

	h.mu.Lock()
	cancelled, timedOut := h.cancelled, h.timedOut
	tail := append([]string(nil), h.stderrTail...)
	h.mu.Unlock()

	switch {
	case timedOut:
		h.events <- types.NewSubprocessErrorEvent(
			fmt.Errorf("%w: no subprocess activity for %s", types.ErrTimeout, h.idleTimeout),
			exitCode(h.cmd, err), tail)
	case cancelled:
		h.events <- types.NewCancelledEvent()
	case err != nil:
		code := exitCode(h.cmd, err)
		h.events <- types.NewSubprocessErrorEvent(types.NewSubprocessError(code, lastErrLine(tail)), code, tail)
	default:
		if !sawFinal {
			finalContent = lastContent
		}
		h.events <- types.NewFinalEvent(finalContent)
	}
}

// watchdog signals the process on context cancellation or idle timeout. It
// never reads process state; the supervise goroutine observes the resulting
// pipe closure and reaps the process.
func (h *procHandle) watchdog(ctx context.Context, done <-chan struct{}) {
	idle := time.NewTimer(h.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-done:
			return
		case <-h.activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(h.idleTimeout)
		case <-ctx.Done():
			h.mu.Lock()
			h.cancelled = true
			h.mu.Unlock()
			h.terminate()
			return
		case <-idle.C:
			h.mu.Lock()
			h.timedOut = true
			h.mu.Unlock()
			h.terminate()
			return
		}
	}
}

func (h *procHandle) pulse() {
	select {
	case h.activity <- struct{}{}:
	default:
	}
}

// terminate sends SIGTERM to the process group, waits the grace period, then
// sends SIGKILL. Worst-case cancellation latency is bounded by the grace
// period.
func (h *procHandle) terminate() {
	pid := h.cmd.Process.Pid
	h.logger.Infof("terminating pid %d (grace %s)", pid, h.gracePeriod)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Process group may already be gone.
		return
	}

	deadline := time.After(h.gracePeriod)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			return
		case <-tick.C:
			// Signal 0 probes for existence without sending anything.
			if syscall.Kill(pid, 0) != nil {
				return
			}
		}
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func lastErrLine(tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		if strings.TrimSpace(tail[i]) != "" {
			return tail[i]
		}
	}
	return "no error output"
}
