// Package confirm tracks pending-confirmation requests for tool invocations
// the safety filter flagged as risky. A request suspends its reasoning loop
// until a decision arrives, the request times out, or the run is cancelled.
package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is a user's answer to a pending confirmation.
type Decision struct {
	ConfirmID string
	// Approved true executes the flagged action; false skips it.
	Approved bool
}

// Outcome describes how a confirmation request resolved.
type Outcome int

const (
	// OutcomeApproved means the user approved the action.
	OutcomeApproved Outcome = iota
	// OutcomeRejected means the user declined the action.
	OutcomeRejected
	// OutcomeTimedOut means no decision arrived within the timeout.
	OutcomeTimedOut
	// OutcomeCancelled means the surrounding run was cancelled while waiting.
	OutcomeCancelled
)

const defaultTimeout = 5 * time.Minute

// Manager tracks in-flight confirmation requests. Safe for concurrent use.
type Manager struct {
	timeout time.Duration
	pending map[string]*pendingRequest
	mu      sync.Mutex
}

type pendingRequest struct {
	response  chan Decision
	closeOnce sync.Once
}

// NewManager creates a manager. A zero timeout uses the default.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Manager{
		timeout: timeout,
		pending: make(map[string]*pendingRequest),
	}
}

// NewRequestID allocates an identifier for a confirmation request. The
// caller surfaces it on the pending-confirmation event before calling Wait.
func (m *Manager) NewRequestID() string {
	id := uuid.New().String()

	m.mu.Lock()
	m.pending[id] = &pendingRequest{response: make(chan Decision, 1)}
	m.mu.Unlock()

	return id
}

// Wait blocks until a decision for confirmID arrives, the timeout elapses,
// or ctx is cancelled.
func (m *Manager) Wait(ctx context.Context, confirmID string) Outcome {
	m.mu.Lock()
	req, ok := m.pending[confirmID]
	m.mu.Unlock()
	if !ok {
		return OutcomeRejected
	}
	defer m.cleanup(confirmID)

	timeout := time.NewTimer(m.timeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return OutcomeCancelled
	case <-timeout.C:
		return OutcomeTimedOut
	case decision, open := <-req.response:
		if !open {
			return OutcomeRejected
		}
		if decision.Approved {
			return OutcomeApproved
		}
		return OutcomeRejected
	}
}

// Resolve delivers a decision to the waiting request. Decisions for unknown
// or already-resolved requests are ignored.
func (m *Manager) Resolve(decision Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[decision.ConfirmID]
	if !ok {
		return
	}

	// Non-blocking: the waiter may have timed out and started cleanup.
	select {
	case req.response <- decision:
	default:
	}
}

// PendingCount returns the number of unresolved requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) cleanup(confirmID string) {
	m.mu.Lock()
	req, ok := m.pending[confirmID]
	if ok {
		delete(m.pending, confirmID)
	}
	m.mu.Unlock()

	if ok {
		req.closeOnce.Do(func() {
			close(req.response)
		})
	}
}

// Timeout returns the configured decision timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}
