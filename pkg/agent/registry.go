package agent

import (
	"context"
)

// ToolDescriptor describes one tool in the catalog for prompt building.
type ToolDescriptor struct {
	// Schema is a JSON-schema-shaped description of the tool's arguments.
	Schema map[string]interface{}

	Name        string
	Description string
}

// ToolRegistry is the external tool catalog boundary. The core never
// implements individual tools; it only proposes invocations and forwards
// approved ones here.
type ToolRegistry interface {
	// List returns descriptors for every available tool.
	List() []ToolDescriptor

	// Invoke executes a tool by name. The core classifies every proposal
	// before calling Invoke.
	Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// Snippet is one ranked result from the knowledge retrieval collaborator.
type Snippet struct {
	Source  string
	Content string
}

// Retriever is the knowledge lookup boundary. Implementations are external;
// the loop only consumes ranked snippets.
type Retriever interface {
	Query(ctx context.Context, text string) ([]Snippet, error)
}
