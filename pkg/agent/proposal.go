package agent

import (
	"github.com/conductorhq/conductor/pkg/safety"
)

// ToolInvocationProposal is a classified tool invocation. It is constructed
// from a parsed directive, classified exactly once through the safety
// filter, and immutable afterwards: every execution path reads the same
// verdict.
type ToolInvocationProposal struct {
	toolName       string
	argsXML        []byte
	args           map[string]interface{}
	classification safety.Classification
}

// NewProposal builds a proposal from a directive and classifies it. The
// filter evaluates the proposal's command text; proposals with no command
// content classify as allowed (tool-level risk is the registry's concern).
func NewProposal(d *Directive, filter *safety.Filter) *ToolInvocationProposal {
	argsXML := d.GetArgumentsXML()
	args, err := XMLToMap(argsXML)
	if err != nil {
		args = make(map[string]interface{})
	}

	p := &ToolInvocationProposal{
		toolName: d.ToolName,
		argsXML:  argsXML,
		args:     args,
	}

	if cmd := p.CommandText(); cmd != "" {
		p.classification = filter.Classify(cmd)
	} else {
		p.classification = safety.Classification{Decision: safety.DecisionAllowed}
	}
	return p
}

// ToolName returns the proposed tool's name.
func (p *ToolInvocationProposal) ToolName() string {
	return p.toolName
}

// Args returns the parsed arguments. Callers must not mutate the map.
func (p *ToolInvocationProposal) Args() map[string]interface{} {
	return p.args
}

// CommandText returns the shell command carried by this proposal, or empty
// if the arguments carry no command field.
func (p *ToolInvocationProposal) CommandText() string {
	if cmd, ok := p.args["command"].(string); ok {
		return cmd
	}
	return ""
}

// Decision returns the safety filter's verdict.
func (p *ToolInvocationProposal) Decision() safety.Decision {
	return p.classification.Decision
}

// Reason returns the safety filter's reason, empty for allowed proposals.
func (p *ToolInvocationProposal) Reason() string {
	return p.classification.Reason
}
