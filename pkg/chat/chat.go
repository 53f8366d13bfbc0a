// Package chat defines the value types shared across the Parley conversation
// toolkit: messages, tool calls, tool results, and LLM responses.
//
// All types in this package are value objects. The orchestrator and the tool
// backends construct new values rather than mutating existing ones; a
// conversation is an ordered []Message and message order is significant.
package chat

import (
	"crypto/rand"
	"time"
)

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid reports whether r is a recognised conversation role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Image is an inline image attachment on a [Message].
type Image struct {
	// MIMEType is the image media type (e.g., "image/png").
	MIMEType string

	// Data is the raw image bytes.
	Data []byte
}

// Message is a single entry in a conversation history.
//
// Messages are immutable once constructed. The orchestrator appends new
// messages to its in-memory conversation copy; it never edits one in place.
type Message struct {
	// ID uniquely identifies this message within a conversation.
	ID string

	// Role is the author of the message.
	Role Role

	// Content is the message text.
	Content string

	// Images holds inline image attachments, if any.
	Images []Image

	// ToolCalls lists the IDs of the tool calls an assistant message
	// requested. Empty for non-assistant messages.
	ToolCalls []string

	// ToolCallID identifies which tool call a tool-role message responds to.
	// Empty for non-tool messages.
	ToolCallID string

	// Timestamp records when the message was constructed.
	Timestamp time.Time
}

// NewMessage constructs a Message with a fresh ID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        "msg_" + randomSuffix(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ToolCall is a structured tool invocation requested by the model, either
// parsed out of free response text or synthesized by a provider adapter.
type ToolCall struct {
	// Name is the tool being invoked.
	Name string

	// Arguments holds the call's arguments in declaration order.
	Arguments *Args

	// Instructions carries optional free-text guidance accompanying the call
	// (used by agent-to-agent messaging backends).
	Instructions string

	// ID correlates the call to its result message. The orchestrator assigns
	// one via [NewCallID] when the LLM response omitted it, so every call is
	// addressable before dispatch.
	ID string
}

// ToolResult is the outcome of executing one [ToolCall] against one backend.
type ToolResult struct {
	// Success reports whether the tool completed without an application error.
	Success bool

	// Content is the tool's textual output.
	Content string

	// Metadata carries structured, backend-specific detail about the execution.
	Metadata map[string]any

	// Error holds the failure description when Success is false.
	Error string
}

// ResponseMetadata holds optional accounting information on an [LLMResponse].
type ResponseMetadata struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// FinishReason indicates why generation stopped (e.g. "stop", "length",
	// "tool_calls"). Empty on streaming fragments.
	FinishReason string
}

// LLMResponse is a model reply, either a streaming fragment or the settled
// final value of a turn. Exactly one response with IsComplete=true terminates
// a turn.
type LLMResponse struct {
	// Content is the response text. On a fragment this is the incremental
	// text; on the final value it is the full reply.
	Content string

	// ToolCalls lists the tool invocations the model requested.
	ToolCalls []ToolCall

	// Metadata is optional token accounting; typically only set on the final
	// response.
	Metadata *ResponseMetadata

	// IsComplete is false for streaming fragments and true for the single
	// final value of a turn.
	IsComplete bool

	// ToolCallID links a tool-produced response back to the originating call.
	ToolCallID string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// NewCallID returns a fresh tool-call identifier of the form
// "call_" followed by an 8-character random suffix.
func NewCallID() string {
	return "call_" + randomSuffix()
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomSuffix returns 8 random characters from a lowercase alphanumeric
// alphabet.
func randomSuffix() string {
	var buf [8]byte
	rand.Read(buf[:])
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(buf[:])
}
