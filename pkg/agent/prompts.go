package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/conductorhq/conductor/pkg/types"
)

const systemRules = `You are an autonomous operations agent. You reason step by step and act through tools.

Rules:
- To use a tool, emit exactly one action directive in this format:

<action>
<tool_name>NAME</tool_name>
<arguments>
  <param>value</param>
</arguments>
</action>

- Emit at most one action directive per response.
- Text before the directive is your reasoning and is shown to the operator.
- When the task is complete, respond with your final answer and no action directive.
- Tool results and safety decisions are appended to the conversation as observations. If an action is blocked, do not retry it; find another way or report why the task cannot proceed.`

const defaultMaxPromptTokens = 64_000

// PromptBuilder assembles the system prompt and bounded conversation history
// for one LLM call.
type PromptBuilder struct {
	tools           []ToolDescriptor
	ragSnippets     []Snippet
	maxPromptTokens int
	encoding        *tiktoken.Tiktoken
}

// NewPromptBuilder creates a builder. Token counting uses the cl100k_base
// encoding; if the encoding cannot be initialized the builder falls back to
// a bytes/4 estimate.
func NewPromptBuilder() *PromptBuilder {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &PromptBuilder{
		maxPromptTokens: defaultMaxPromptTokens,
		encoding:        enc,
	}
}

// WithTools sets the tool catalog rendered into the system prompt.
func (b *PromptBuilder) WithTools(tools []ToolDescriptor) *PromptBuilder {
	b.tools = tools
	return b
}

// WithRetrievedContext sets ranked knowledge snippets included in the system
// prompt.
func (b *PromptBuilder) WithRetrievedContext(snippets []Snippet) *PromptBuilder {
	b.ragSnippets = snippets
	return b
}

// WithMaxPromptTokens overrides the history token budget.
func (b *PromptBuilder) WithMaxPromptTokens(max int) *PromptBuilder {
	if max > 0 {
		b.maxPromptTokens = max
	}
	return b
}

// BuildSystemPrompt renders the system rules, tool catalog, and retrieved
// context.
func (b *PromptBuilder) BuildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(systemRules)

	if len(b.tools) > 0 {
		sb.WriteString("\n\n<available_tools>\n")
		for _, tool := range b.tools {
			sb.WriteString(fmt.Sprintf("<tool>\n<name>%s</name>\n<description>%s</description>\n", tool.Name, tool.Description))
			if tool.Schema != nil {
				if schemaJSON, err := json.Marshal(tool.Schema); err == nil {
					sb.WriteString(fmt.Sprintf("<schema>%s</schema>\n", schemaJSON))
				}
			}
			sb.WriteString("</tool>\n")
		}
		sb.WriteString("</available_tools>")
	}

	if len(b.ragSnippets) > 0 {
		sb.WriteString("\n\n<retrieved_context>\n")
		for _, snippet := range b.ragSnippets {
			sb.WriteString(fmt.Sprintf("<snippet source=%q>\n%s\n</snippet>\n", snippet.Source, snippet.Content))
		}
		sb.WriteString("</retrieved_context>")
	}

	return sb.String()
}

// BuildMessages assembles the full message list for one call: system prompt
// first, then as much recent history as fits the token budget. The first
// user message is always kept so the original task never drops out of
// context.
func (b *PromptBuilder) BuildMessages(history []*types.Message) []*types.Message {
	system := types.NewSystemMessage(b.BuildSystemPrompt())
	budget := b.maxPromptTokens - b.countTokens(system.Content)

	bounded := b.boundHistory(history, budget)

	messages := make([]*types.Message, 0, len(bounded)+1)
	messages = append(messages, system)
	messages = append(messages, bounded...)
	return messages
}

// boundHistory keeps the first message plus the longest suffix of history
// that fits the budget.
func (b *PromptBuilder) boundHistory(history []*types.Message, budget int) []*types.Message {
	if len(history) == 0 {
		return nil
	}

	first := history[0]
	budget -= b.countTokens(first.Content)

	// Walk backwards accumulating the most recent messages.
	start := len(history)
	for i := len(history) - 1; i >= 1; i-- {
		cost := b.countTokens(history[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}

	if start <= 1 {
		return history
	}

	out := make([]*types.Message, 0, 1+len(history)-start)
	out = append(out, first)
	out = append(out, history[start:]...)
	return out
}

func (b *PromptBuilder) countTokens(text string) int {
	if b.encoding != nil {
		return len(b.encoding.Encode(text, nil, nil))
	}
	// Rough fallback: one token per four bytes.
	return len(text)/4 + 1
}
