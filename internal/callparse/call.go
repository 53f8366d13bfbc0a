package callparse

import (
	"strings"

	"github.com/parley-ai/parley/pkg/chat"
)

// ParseCall parses a call string of the form `name(args)` into a
// [chat.ToolCall]. It returns nil when callText contains no opening
// parenthesis or no tool name before it.
//
// The returned call carries no ID; the orchestrator assigns one before
// dispatch.
func ParseCall(callText string) *chat.ToolCall {
	open := strings.Index(callText, "(")
	if open < 0 {
		return nil
	}

	name := strings.TrimSpace(callText[:open])
	if name == "" {
		return nil
	}

	inner := callText[open+1:]
	if close := strings.LastIndex(inner, ")"); close >= 0 {
		inner = inner[:close]
	}

	return &chat.ToolCall{
		Name:      name,
		Arguments: ParseArgs(inner),
	}
}

// Normalize combines extraction with text clean-up: it scans content for a
// tool invocation and, when one is found with a removable span, deletes it
// (including both sentinel markers for the wrapped form) from the content.
//
// It returns the cleaned display text and the parsed call. When no call is
// found the original content is returned with a nil call. When a call is
// found without a removable span the content is returned unchanged alongside
// the call.
func (e *Extractor) Normalize(content string, toolNames []string) (string, *chat.ToolCall) {
	callText, span := e.Extract(content, toolNames)
	if callText == "" {
		return content, nil
	}

	call := ParseCall(callText)
	if call == nil {
		return content, nil
	}

	if span == nil {
		return content, call
	}
	display := strings.TrimSpace(content[:span.Start] + content[span.End:])
	return display, call
}
