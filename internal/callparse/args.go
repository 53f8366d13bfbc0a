// Package callparse turns free-form model output into structured tool calls.
//
// It has two layers: a tokenizer for the parenthesized argument list of a call
// string ([ParseArgs]), and an [Extractor] that scans full response text for a
// tool invocation in either of two surface forms (bare, or wrapped in sentinel
// markers) and reports the span it occupies so the surrounding text can be
// cleaned up.
//
// Nothing in this package returns an error: malformed input degrades to
// best-effort partial extraction or to "no call found", which is the correct
// behaviour for free text that merely resembles a tool invocation.
package callparse

import (
	"strconv"
	"strings"

	"github.com/parley-ai/parley/pkg/chat"
)

// ParseArgs tokenizes the substring between a call's outer parentheses, e.g.
// `query="test", limit=5`, into an ordered key→value map of strings.
//
// Arguments without an "=" are positional and receive keys "1", "2", … in
// left-to-right order. Values are not type-coerced. Content inside quotes
// (single or double, no escape interpretation) or inside nested parentheses is
// copied through verbatim, including "," and "=". An unterminated quote simply
// consumes to end of input. Empty input yields an empty map.
func ParseArgs(s string) *chat.Args {
	args := chat.NewArgs()

	var (
		acc        strings.Builder
		key        string
		quote      byte // 0 when outside a quoted region
		depth      int  // nesting depth of parentheses inside a value
		parsingKey = true
		positional = 0
	)

	flush := func() {
		val := unquote(strings.TrimSpace(acc.String()))
		acc.Reset()
		if parsingKey {
			// No "=" seen: positional argument.
			if val != "" {
				positional++
				args.Set(strconv.Itoa(positional), val)
			}
			return
		}
		args.Set(key, val)
	}

	for i := 0; i < len(s); i++ {
		c := s[i]

		if quote != 0 {
			acc.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}

		switch {
		case c == '"' || c == '\'':
			quote = c
			acc.WriteByte(c)
		case c == '(':
			depth++
			acc.WriteByte(c)
		case c == ')':
			depth--
			acc.WriteByte(c)
		case c == '=' && depth == 0 && parsingKey:
			key = strings.TrimSpace(acc.String())
			acc.Reset()
			parsingKey = false
		case c == ',' && depth == 0:
			flush()
			parsingKey = true
		default:
			acc.WriteByte(c)
		}
	}

	// Trailing argument has no terminating comma.
	if acc.Len() > 0 || !parsingKey {
		flush()
	}

	return args
}

// unquote strips one pair of matching surrounding quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
