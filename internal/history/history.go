// Package history is the optional persistent message store consumed by the
// session layer. When no store is wired in, chat history lives only in the
// in-memory chat store and does not survive restarts.
package history

import (
	"context"

	"github.com/qwery/backend/internal/chat"
)

// Store persists chat messages keyed by chat id.
type Store interface {
	// LoadHistory returns the stored entries for a chat, oldest first.
	LoadHistory(ctx context.Context, chatID string) ([]chat.Entry, error)
	// Append records one message.
	Append(ctx context.Context, chatID, role, content string) error
}
