package types

// EventType defines the type of event emitted during agent execution.
type EventType string

const (
	EventTypeThought             EventType = "thought"              // EventTypeThought carries reasoning text produced by the agent.
	EventTypeAction              EventType = "action"               // EventTypeAction indicates the agent proposed a tool invocation.
	EventTypeObservation         EventType = "observation"          // EventTypeObservation carries information fed back into the reasoning loop.
	EventTypeToolResult          EventType = "tool_result"          // EventTypeToolResult carries the output of an executed tool.
	EventTypePendingConfirmation EventType = "pending_confirmation" // EventTypePendingConfirmation indicates execution is suspended awaiting a user decision.
	EventTypePassthrough         EventType = "passthrough"          // EventTypePassthrough carries a raw subprocess output line that was not valid JSON.
	EventTypeFinal               EventType = "final"                // EventTypeFinal indicates the run finished with an answer.
	EventTypeError               EventType = "error"                // EventTypeError indicates the run finished with an error.
	EventTypeCancelled           EventType = "cancelled"            // EventTypeCancelled indicates the run was cancelled before completion.
)

// StreamEvent represents a single event in the lazily produced sequence a run
// emits. Events are request-scoped; the consumer decides what to persist.
type StreamEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// ToolInput is the parsed arguments of a proposed tool invocation
	// (action events).
	ToolInput map[string]interface{}

	// ToolOutput is the result from the tool (tool result events).
	ToolOutput interface{}

	// Error contains error information for error events.
	Error error

	// Content holds text content for content-type events.
	Content string

	// ToolName is the name of the tool being proposed or executed.
	ToolName string

	// Reason carries the safety classification reason for blocked or
	// pending-confirmation events.
	Reason string

	// ConfirmID is a unique identifier for pending-confirmation events.
	ConfirmID string

	// Type indicates the kind of event.
	Type EventType

	// Seq is the event's position in the run's sequence, assigned by the
	// emitter. Monotonically increasing within a run.
	Seq uint64

	// ExitCode is the subprocess exit code (error events from the CLI runtime).
	ExitCode int

	// StderrTail holds the last lines of subprocess error output
	// (error events from the CLI runtime).
	StderrTail []string

	// Truncated indicates the final answer was forced by an iteration cap
	// rather than produced naturally.
	Truncated bool
}

// NewThoughtEvent creates a thought event.
func NewThoughtEvent(content string) *StreamEvent {
	return &StreamEvent{
		Type:    EventTypeThought,
		Content: content,
	}
}

// NewActionEvent creates an action event for a proposed tool invocation.
func NewActionEvent(toolName string, toolInput map[string]interface{}) *StreamEvent {
	return &StreamEvent{
		Type:      EventTypeAction,
		ToolName:  toolName,
		ToolInput: toolInput,
	}
}

// NewObservationEvent creates an observation event.
func NewObservationEvent(content string) *StreamEvent {
	return &StreamEvent{
		Type:    EventTypeObservation,
		Content: content,
	}
}

// NewBlockedObservationEvent creates an observation stating that a proposed
// action was blocked by the safety filter with the given reason.
func NewBlockedObservationEvent(toolName, reason string) *StreamEvent {
	return &StreamEvent{
		Type:     EventTypeObservation,
		ToolName: toolName,
		Reason:   reason,
		Content:  "Action blocked by safety filter: " + reason,
	}
}

// NewToolResultEvent creates a tool result event.
func NewToolResultEvent(toolName string, output interface{}) *StreamEvent {
	return &StreamEvent{
		Type:       EventTypeToolResult,
		ToolName:   toolName,
		ToolOutput: output,
	}
}

// NewPendingConfirmationEvent creates a pending-confirmation event. The run
// suspends until a decision referencing confirmID arrives.
func NewPendingConfirmationEvent(confirmID, toolName, reason string, toolInput map[string]interface{}) *StreamEvent {
	return &StreamEvent{
		Type:      EventTypePendingConfirmation,
		ConfirmID: confirmID,
		ToolName:  toolName,
		Reason:    reason,
		ToolInput: toolInput,
	}
}

// NewPassthroughEvent creates a passthrough event for a raw subprocess line.
func NewPassthroughEvent(line string) *StreamEvent {
	return &StreamEvent{
		Type:    EventTypePassthrough,
		Content: line,
	}
}

// NewFinalEvent creates a final event carrying the run's answer.
func NewFinalEvent(content string) *StreamEvent {
	return &StreamEvent{
		Type:    EventTypeFinal,
		Content: content,
	}
}

// NewTruncatedFinalEvent creates a final event forced by an iteration cap,
// carrying the best partial answer.
func NewTruncatedFinalEvent(content string) *StreamEvent {
	return &StreamEvent{
		Type:      EventTypeFinal,
		Content:   content,
		Truncated: true,
	}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(err error) *StreamEvent {
	return &StreamEvent{
		Type:  EventTypeError,
		Error: err,
	}
}

// NewSubprocessErrorEvent creates an error event carrying a subprocess exit
// code and the tail of its error output.
func NewSubprocessErrorEvent(err error, exitCode int, stderrTail []string) *StreamEvent {
	return &StreamEvent{
		Type:       EventTypeError,
		Error:      err,
		ExitCode:   exitCode,
		StderrTail: stderrTail,
	}
}

// NewCancelledEvent creates a cancelled terminal event.
func NewCancelledEvent() *StreamEvent {
	return &StreamEvent{
		Type: EventTypeCancelled,
	}
}

// WithMetadata adds metadata to the event and returns the event for chaining.
func (e *StreamEvent) WithMetadata(key string, value interface{}) *StreamEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsTerminal returns true if this event ends the run's sequence.
func (e *StreamEvent) IsTerminal() bool {
	return e.Type == EventTypeFinal ||
		e.Type == EventTypeError ||
		e.Type == EventTypeCancelled
}

// IsContentEvent returns true if this event carries text content.
func (e *StreamEvent) IsContentEvent() bool {
	return e.Type == EventTypeThought ||
		e.Type == EventTypeObservation ||
		e.Type == EventTypePassthrough ||
		e.Type == EventTypeFinal
}

// IsToolEvent returns true if this is an action or tool result event.
func (e *StreamEvent) IsToolEvent() bool {
	return e.Type == EventTypeAction ||
		e.Type == EventTypeToolResult
}
