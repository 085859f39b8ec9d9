package webhook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/conductorhq/conductor/pkg/audit"
	"github.com/conductorhq/conductor/pkg/logging"
	"github.com/conductorhq/conductor/pkg/types"
	"github.com/conductorhq/conductor/pkg/workflow"
)

// Outcome is the reception result category.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeRejected Outcome = "rejected"
)

// Result is what a caller learns about one reception.
type Result struct {
	Outcome Outcome

	// CreatedID is the created task or workflow run id, when any.
	CreatedID string

	// Reason explains rejections and degraded outcomes.
	Reason string

	// Unresolved is set when no target server could be mapped and the
	// created task was left pending.
	Unresolved bool
}

// Bridge receives external payloads and turns them into tasks or workflow
// runs according to registered definitions.
type Bridge struct {
	mu   sync.RWMutex
	defs map[string]*Definition // keyed by secret

	servers   ServerDirectory
	tasks     TaskStore
	workflows WorkflowStarter
	planner   StepPlanner
	sink      audit.Sink
	logger    *logging.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithServerDirectory sets the read-only server lookup.
func WithServerDirectory(d ServerDirectory) BridgeOption {
	return func(b *Bridge) { b.servers = d }
}

// WithTaskStore sets the task persistence collaborator.
func WithTaskStore(s TaskStore) BridgeOption {
	return func(b *Bridge) { b.tasks = s }
}

// WithWorkflowStarter sets the workflow launch collaborator.
func WithWorkflowStarter(w WorkflowStarter) BridgeOption {
	return func(b *Bridge) { b.workflows = w }
}

// WithStepPlanner sets the dynamic step generation collaborator.
func WithStepPlanner(p StepPlanner) BridgeOption {
	return func(b *Bridge) { b.planner = p }
}

// WithAuditSink sets where reception records are appended.
func WithAuditSink(sink audit.Sink) BridgeOption {
	return func(b *Bridge) { b.sink = sink }
}

// WithBridgeLogger attaches a session logger.
func WithBridgeLogger(logger *logging.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

// NewBridge creates a Bridge. Definitions are registered separately.
func NewBridge(opts ...BridgeOption) *Bridge {
	b := &Bridge{
		defs: make(map[string]*Definition),
		sink: audit.NewMemorySink(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds or replaces a webhook definition.
func (b *Bridge) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.defs[def.Secret] = def
	return nil
}

// Receive processes one inbound call. Exactly one audit record is appended
// per call, success or failure; the error return is reserved for audit sink
// failures only.
func (b *Bridge) Receive(ctx context.Context, secret string, payload []byte) (*Result, error) {
	receivedAt := time.Now().UTC()
	rec := audit.WebhookRecord{
		Outcome:    string(OutcomeRejected),
		Payload:    string(payload),
		ReceivedAt: receivedAt,
	}

	result := b.receive(ctx, secret, payload, receivedAt, &rec)

	rec.Outcome = string(result.Outcome)
	rec.Reason = result.Reason
	rec.CreatedID = result.CreatedID
	if err := b.sink.AppendWebhook(ctx, rec); err != nil {
		return result, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return result, nil
}

func (b *Bridge) receive(ctx context.Context, secret string, payload []byte, receivedAt time.Time, rec *audit.WebhookRecord) *Result {
	b.mu.RLock()
	def, ok := b.defs[secret]
	b.mu.RUnlock()

	if !ok || !def.Enabled {
		b.logf("rejected webhook call: unknown or disabled secret")
		return &Result{Outcome: OutcomeRejected, Reason: "unknown or disabled secret"}
	}

	rec.WebhookName = def.Name
	rec.Source = def.Source

	reserved := map[string]string{
		VarPayloadJSON: string(payload),
		VarWebhookName: def.Name,
		VarSource:      def.Source,
		VarReceivedAt:  receivedAt.Format(time.RFC3339),
	}
	reserved[VarEventName] = resolveTemplate(def.EventNameTemplate, payload, reserved)

	title := resolveTemplate(def.TitleTemplate, payload, reserved)
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("%s event from %s", def.Name, def.Source)
	}
	description := resolveTemplate(def.DescriptionTemplate, payload, reserved)

	serverID, resolved := b.resolveServer(ctx, def, payload, reserved)

	switch def.Mode {
	case ModeWorkflow:
		return b.createWorkflow(ctx, def, title, description, reserved)
	default:
		return b.createTask(ctx, def, title, description, serverID, resolved, reserved)
	}
}

// resolveServer maps the payload to a target server: explicit id first,
// then template extraction matched against the directory, then the static
// map. An empty result means unresolved.
func (b *Bridge) resolveServer(ctx context.Context, def *Definition, payload []byte, reserved map[string]string) (string, bool) {
	if def.ServerID != "" {
		return def.ServerID, true
	}

	value := strings.TrimSpace(resolveTemplate(def.ServerTemplate, payload, reserved))
	if value == "" {
		return "", false
	}

	if b.servers != nil {
		if id := b.matchDirectory(ctx, value); id != "" {
			return id, true
		}
	}
	if id, ok := def.ServerMap[value]; ok {
		return id, true
	}
	return "", false
}

// matchDirectory compares an extracted value against known server names and
// hosts. The value may itself be a glob pattern (e.g. "web-*").
func (b *Bridge) matchDirectory(ctx context.Context, value string) string {
	servers, err := b.servers.ListServers(ctx)
	if err != nil {
		b.logf("server directory lookup failed: %v", err)
		return ""
	}

	lowered := strings.ToLower(value)
	var pattern glob.Glob
	if g, err := glob.Compile(lowered); err == nil {
		pattern = g
	}

	for _, s := range servers {
		name := strings.ToLower(s.Name)
		host := strings.ToLower(s.Host)
		if name == lowered || host == lowered {
			return s.ID
		}
		if pattern != nil && (pattern.Match(name) || pattern.Match(host)) {
			return s.ID
		}
	}
	return ""
}

func (b *Bridge) createTask(ctx context.Context, def *Definition, title, description, serverID string, resolved bool, reserved map[string]string) *Result {
	if b.tasks == nil {
		return &Result{Outcome: OutcomeRejected, Reason: "no task store configured"}
	}

	task := Task{
		Title:       title,
		Description: description,
		ServerID:    serverID,
		EventName:   reserved[VarEventName],
		Source:      def.Source,
		AutoExecute: def.AutoExecute && resolved,
		Pending:     !resolved,
	}

	id, err := b.tasks.CreateTask(ctx, task)
	if err != nil {
		return &Result{Outcome: OutcomeRejected, Reason: "task creation failed: " + err.Error()}
	}

	result := &Result{Outcome: OutcomeSuccess, CreatedID: id}
	if !resolved {
		result.Unresolved = true
		result.Reason = fmt.Sprintf("%s: task left pending", types.ErrTargetUnresolved)
	}
	b.logf("webhook %s created task %s (pending=%v)", def.Name, id, task.Pending)
	return result
}

func (b *Bridge) createWorkflow(ctx context.Context, def *Definition, title, description string, reserved map[string]string) *Result {
	if b.workflows == nil {
		return &Result{Outcome: OutcomeRejected, Reason: "no workflow starter configured"}
	}

	// Copied so runtime backfill never mutates the registered definition.
	steps := make([]workflow.StepSpec, len(def.WorkflowSteps))
	copy(steps, def.WorkflowSteps)
	if len(steps) == 0 {
		if b.planner == nil {
			return &Result{Outcome: OutcomeRejected, Reason: "no step template and no planner configured"}
		}
		planned, err := b.planner.PlanSteps(ctx, description)
		if err != nil {
			return &Result{Outcome: OutcomeRejected, Reason: "step planning failed: " + err.Error()}
		}
		steps = planned
	}

	wfDef := &workflow.Definition{
		Name:  fmt.Sprintf("%s: %s", def.Name, title),
		Steps: steps,
	}
	if def.RuntimeKind != "" {
		for i := range wfDef.Steps {
			if wfDef.Steps[i].RuntimeKind == "" {
				wfDef.Steps[i].RuntimeKind = def.RuntimeKind
			}
		}
	}

	id, err := b.workflows.StartWorkflow(ctx, wfDef)
	if err != nil {
		return &Result{Outcome: OutcomeRejected, Reason: "workflow start failed: " + err.Error()}
	}

	b.logf("webhook %s started workflow run %s", def.Name, id)
	return &Result{Outcome: OutcomeSuccess, CreatedID: id}
}

func (b *Bridge) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Infof(format, args...)
	}
}
