// Package llm defines the contract an orchestrator execution uses to
// drive a language model — a streaming query primitive that yields typed
// events and accepts a tool-approval callback — and a concrete adapter
// implementing that contract over the Eino chat-model abstraction.
package llm

import (
	"context"
)

// EventKind enumerates the typed events a streaming query yields.
type EventKind string

const (
	EventText    EventKind = "text"
	EventToolUse EventKind = "tool_use"
	EventDone    EventKind = "done"
	EventError   EventKind = "error"
)

// ToolUse is a single tool invocation surfaced mid-stream, already
// resolved through the caller's approval callback by the time it is
// yielded: Denied is set when the callback rejected it.
type ToolUse struct {
	ID      string
	Name    string
	Input   any
	Denied  bool
	Message string
}

// StreamEvent is one item yielded by a Query's event channel.
type StreamEvent struct {
	Kind           EventKind
	Text           string
	ToolUse        *ToolUse
	Err            error
	UpstreamHandle string // the provider-assigned session/conversation id, once known
}

// ApprovalCallback mirrors the LLM client's tool-approval contract: given
// a tool name, its input, and the upstream tool-use id, return either an
// allow (optionally with rewritten input) or a deny with a user-visible
// message.
type ApprovalCallback func(toolName string, input any, upstreamToolUseID string) Decision

// Decision is the approval outcome handed back to the LLM client.
type Decision struct {
	Allow        bool
	UpdatedInput any
	DenyMessage  string
}

// Message is one turn in the conversation handed to Query, in the
// client's own role vocabulary (user/assistant/system).
type Message struct {
	Role    string
	Content string
}

// QueryOptions configures a single streaming query.
type QueryOptions struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Tools        []ToolSpec
	// Resume, when non-empty, asks the client to continue a prior
	// upstream conversation by its provider-assigned handle instead of
	// replaying full history. Anthropic and OpenAI's chat-completion APIs
	// have no server-side resumable session, so the Eino-backed Client
	// ignores Resume and always replays the supplied messages; the field
	// exists for an agent-SDK-style Client that does carry upstream state.
	Resume string
}

// ToolSpec describes one tool available to the model, using a JSON
// Schema for its parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte
}

// Client is the LLM client contract: given a conversation and options,
// stream back typed events, invoking approve for every tool call before
// yielding its resolved ToolUse.
type Client interface {
	Query(ctx context.Context, messages []Message, opts QueryOptions, approve ApprovalCallback) (<-chan StreamEvent, error)
}
