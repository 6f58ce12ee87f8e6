// Package storage persists agents, documents, integrations and chat sessions.
//
// Information Hiding:
// - SQL dialect differences (SQLite, PostgreSQL) hidden behind Store
// - Embedding encoding hidden
// - Ownership scoping enforced here, surfaced only as ErrNotFound

package storage

import (
	"context"

	"github.com/richinex/agentdock/llm"
)

// ConversationStorage holds chat history keyed by session id. It is only
// consulted when a chat request names a session.
type ConversationStorage interface {
	// Save replaces the history for a session, tool calls included.
	Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error

	// Load loads conversation history for a session.
	// Returns empty slice (not nil) if session doesn't exist.
	// Returns error only for storage failures (I/O errors, etc.), not missing sessions.
	Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)

	// Delete deletes conversation history for a session.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions lists all session IDs.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)
}
