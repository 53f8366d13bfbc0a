// Package history defines the conversation persistence interface for Parley.
//
// The orchestrator itself never persists anything; it hands completed
// messages to its caller over channels. A caller that wants durable
// transcripts wires a [Store] (e.g., the PostgreSQL implementation in the
// postgres subpackage) and appends each message as it arrives.
//
// Every implementation must be safe for concurrent use.
package history

import (
	"context"
	"time"

	"github.com/parley-ai/parley/pkg/chat"
)

// SearchOpts configures a full-text search over stored messages.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// ConversationID restricts the search to a single conversation.
	// An empty string searches across all conversations.
	ConversationID string

	// Role restricts results to messages with this role.
	// An empty Role matches all roles.
	Role chat.Role

	// After filters messages recorded after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Before filters messages recorded before this instant (exclusive).
	// A zero Time disables the upper bound.
	Before time.Time

	// Limit caps the number of results returned.
	// A value of 0 means the implementation may apply its own default.
	Limit int
}

// Store persists conversation transcripts keyed by conversation ID.
type Store interface {
	// AppendMessage appends msg to the transcript of conversationID.
	AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error

	// Conversation returns the full transcript of conversationID in
	// chronological order (oldest first). A conversation that has never been
	// written to yields an empty slice, not an error.
	Conversation(ctx context.Context, conversationID string) ([]chat.Message, error)

	// Search performs a keyword search over message content and applies the
	// optional filters from opts. Results are ordered chronologically.
	Search(ctx context.Context, query string, opts SearchOpts) ([]chat.Message, error)
}
