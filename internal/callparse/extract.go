package callparse

import "strings"

// Default sentinel markers wrapping a tool call emitted by models that cannot
// produce native tool calls.
const (
	DefaultOpenSentinel  = "<|tool_call|>"
	DefaultCloseSentinel = "<|tool_call_end|>"
)

// Span is a half-open byte range [Start, End) within the scanned text.
//
// A span is only reported when the match is an exact, whitespace-clean
// substring that can be deleted from the surrounding content to leave a clean
// natural-language remainder.
type Span struct {
	Start int
	End   int
}

// Extractor scans free-form response text for a tool invocation.
//
// Two surface forms are recognised, in order:
//
//  1. Bare: the call appears as literal text, e.g. `search_tool(query="x")`,
//     either as the entire (trimmed) content or embedded mid-sentence.
//  2. Sentinel-wrapped: the call is delimited by model-specific marker tokens.
//
// The zero value uses the default sentinels; use [NewExtractor] with
// [WithSentinels] to match a specific model's markers.
type Extractor struct {
	open  string
	close string
}

// Option configures an [Extractor] during construction.
type Option func(*Extractor)

// WithSentinels overrides the opening and closing marker tokens of the
// wrapped surface form.
func WithSentinels(open, close string) Option {
	return func(e *Extractor) {
		e.open = open
		e.close = close
	}
}

// NewExtractor returns an Extractor with the given options applied.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{open: DefaultOpenSentinel, close: DefaultCloseSentinel}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) sentinels() (string, string) {
	open, close := e.open, e.close
	if open == "" {
		open = DefaultOpenSentinel
	}
	if close == "" {
		close = DefaultCloseSentinel
	}
	return open, close
}

// Extract scans content for a tool invocation against the tool names
// currently offered to the model. It returns the call text and the span it
// occupies, ("", nil) when no call is found, or (call, nil) when a call was
// found but cannot be safely deleted from the content.
//
// Known quirk, kept for compatibility: when the entire content is a single
// bare call but carries leading or trailing whitespace, the call is reported
// with a nil span even though stripping it would be harmless.
func (e *Extractor) Extract(content string, toolNames []string) (string, *Span) {
	// A wrapped call always contains the bare `name(` substring, so the
	// wrapped form must be checked first whenever an opening sentinel is
	// present; otherwise the bare scan would match inside the markers and
	// leave them behind.
	open, _ := e.sentinels()
	if strings.Contains(content, open) {
		if call, span := e.extractWrapped(content, toolNames); call != "" {
			return call, span
		}
	}
	return extractBare(content, toolNames)
}

// extractBare tries each offered tool name in list order against the bare
// surface form.
func extractBare(content string, toolNames []string) (string, *Span) {
	trimmed := strings.TrimSpace(content)

	for _, name := range toolNames {
		// Entire content is one call.
		if isWholeCall(trimmed, name) {
			if trimmed == content {
				return trimmed, &Span{Start: 0, End: len(content)}
			}
			// Found, but the caller must not blindly strip it.
			return trimmed, nil
		}

		// Embedded somewhere in the content.
		if idx := strings.Index(content, name+"("); idx >= 0 {
			end := scanBalanced(content, idx+len(name))
			if end < 0 {
				continue // no balanced close for this name; try the next
			}
			return content[idx:end], &Span{Start: idx, End: end}
		}
	}

	return "", nil
}

// extractWrapped handles the sentinel-delimited surface form. It is only
// reached when no bare match was found for any offered tool.
func (e *Extractor) extractWrapped(content string, toolNames []string) (string, *Span) {
	open, close := e.sentinels()

	openIdx := strings.Index(content, open)
	if openIdx < 0 {
		return "", nil
	}

	payloadStart := openIdx + len(open)
	payload := content[payloadStart:]
	span := &Span{Start: openIdx, End: len(content)}

	if closeRel := strings.Index(payload, close); closeRel >= 0 {
		payload = payload[:closeRel]
		span.End = payloadStart + closeRel + len(close)
	}

	// Re-scan the payload to strip any commentary the model emitted alongside
	// the call. Without offered tool names the trimmed payload is returned
	// as-is.
	if len(toolNames) == 0 {
		return strings.TrimSpace(payload), span
	}
	if call, _ := extractBare(payload, toolNames); call != "" {
		return call, span
	}
	return strings.TrimSpace(payload), span
}

// isWholeCall reports whether s, already trimmed, is exactly one `name(...)`
// call with a balanced closing parenthesis at the very end.
func isWholeCall(s, name string) bool {
	if !strings.HasPrefix(s, name+"(") {
		return false
	}
	return scanBalanced(s, len(name)) == len(s)
}

// scanBalanced runs a parenthesis-depth scan starting at the opening "(" at
// openIdx. It returns the index just past the parenthesis that returns the
// depth to zero, or -1 when no balanced close exists.
func scanBalanced(s string, openIdx int) int {
	if openIdx >= len(s) || s[openIdx] != '(' {
		return -1
	}
	depth := 0
	for i := openIdx; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
