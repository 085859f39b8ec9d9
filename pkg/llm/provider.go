// Package llm provides abstractions for LLM provider integration. Providers
// handle API communication and return plain StreamChunk instances; the
// reasoning loop converts chunks into StreamEvents and manages conversation
// state. This keeps providers reusable outside the agent and testable on
// their own.
package llm

import (
	"context"
	"strings"

	"github.com/conductorhq/conductor/pkg/types"
)

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	// Error is set on stream-time failures. A chunk with Error set
	// terminates the stream.
	Error error

	// Content is the text delta for this chunk.
	Content string

	// Role is set on the first chunk of a response.
	Role string

	// Finished marks the last chunk of a successful stream.
	Finished bool
}

// IsError reports whether this chunk carries a stream-time error.
func (c *StreamChunk) IsError() bool {
	return c.Error != nil
}

// ModelCloner is an optional interface providers can implement to support
// lightweight per-call model overrides. The returned provider shares
// credentials and transport with the original but directs calls to the given
// model.
type ModelCloner interface {
	CloneWithModel(model string) Provider
}

// Provider defines the interface for LLM integrations.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response
	// chunks. The channel is closed when streaming completes or an error
	// occurs; stream-time errors are delivered as chunks with Error set.
	// Returns an error only if streaming cannot be initiated.
	StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *StreamChunk, error)

	// Complete sends messages to the LLM and returns the full response. It
	// is a convenience wrapper around StreamCompletion for non-streaming
	// use cases.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// GetModel returns the model name being used.
	GetModel() string
}

// Collect drains a chunk stream into a single assistant message. Shared by
// Complete implementations.
func Collect(stream <-chan *StreamChunk) (*types.Message, error) {
	var sb strings.Builder
	for chunk := range stream {
		if chunk.IsError() {
			return nil, chunk.Error
		}
		sb.WriteString(chunk.Content)
	}
	return types.NewAssistantMessage(sb.String()), nil
}
