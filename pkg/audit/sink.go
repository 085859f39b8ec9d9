// Package audit provides the append-only event log consumed by log viewers.
// Run events and webhook receptions are appended by the workflow engine and
// the webhook bridge; nothing in the execution core reads them back on the
// hot path.
package audit

import (
	"context"
	"sync"
	"time"
)

// Entry is one recorded event of a run or workflow step.
type Entry struct {
	// RunID identifies the owning workflow run or task execution.
	RunID string

	// EventType is the stream event type that was recorded.
	EventType string

	// Content is the human-readable payload of the event.
	Content string

	// StepIndex is the zero-based step position within a workflow run.
	// -1 for events not tied to a step.
	StepIndex int

	// Attempt is the step's attempt counter at the time of the event.
	Attempt int

	// CreatedAt is when the entry was appended.
	CreatedAt time.Time
}

// WebhookRecord is one recorded inbound webhook call.
type WebhookRecord struct {
	WebhookName string
	Source      string
	Outcome     string
	Reason      string
	CreatedID   string
	Payload     string
	ReceivedAt  time.Time
}

// Sink is the append-only audit boundary.
type Sink interface {
	// Append records a run event.
	Append(ctx context.Context, entry Entry) error

	// ListByRun returns all entries for a run in append order.
	ListByRun(ctx context.Context, runID string) ([]Entry, error)

	// AppendWebhook records an inbound webhook call.
	AppendWebhook(ctx context.Context, rec WebhookRecord) error

	// ListWebhooks returns all webhook records in append order.
	ListWebhooks(ctx context.Context) ([]WebhookRecord, error)

	// Close releases any underlying resources.
	Close() error
}

// MemorySink is an in-process Sink for tests and ephemeral runs.
type MemorySink struct {
	mu       sync.Mutex
	entries  []Entry
	webhooks []WebhookRecord
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemorySink) ListByRun(ctx context.Context, runID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemorySink) AppendWebhook(ctx context.Context, rec WebhookRecord) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks = append(s.webhooks, rec)
	return nil
}

func (s *MemorySink) ListWebhooks(ctx context.Context) ([]WebhookRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WebhookRecord, len(s.webhooks))
	copy(out, s.webhooks)
	return out, nil
}

func (s *MemorySink) Close() error {
	return nil
}
