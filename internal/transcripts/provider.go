package transcripts

import (
	"context"

	"convoingest/internal/model"
)

// Filter scopes a conversation listing.
type Filter struct {
	AgentID string
}

// Provider defines the interface for the external voice agent service that
// owns conversation transcripts.
type Provider interface {
	// FetchConversations lists available conversations. Unrecognized
	// response shapes yield an empty slice, not an error.
	FetchConversations(ctx context.Context, filter Filter) ([]model.ConversationRecord, error)

	// FetchConversationByID returns one full conversation, or ErrNotFound.
	FetchConversationByID(ctx context.Context, conversationID string) (model.ConversationRecord, error)

	// Name returns the name of the provider (e.g., "elevenlabs")
	Name() string
}
