package repository

import (
	"context"
	"errors"

	"convoingest/internal/model"
)

var (
	// ErrAlreadyExists is returned by Insert when a record with the same
	// conversation id is already stored.
	ErrAlreadyExists = errors.New("repository: conversation already exists")

	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("repository: conversation not found")
)

// List paging bounds
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListOptions filters and pages List results
type ListOptions struct {
	AgentID string
	Limit   int
	Offset  int
}

// Normalized returns options with the limit defaulted and capped and a
// non-negative offset.
func (o ListOptions) Normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// ConversationRepository defines data access for ingested conversations.
// conversation_id is unique across the store.
type ConversationRepository interface {
	// Exists reports whether a record with the conversation id is stored
	Exists(ctx context.Context, conversationID string) (bool, error)

	// Insert stores a new record, assigning ID and CreatedAt when unset.
	// Returns ErrAlreadyExists if the conversation id is taken.
	Insert(ctx context.Context, rec *model.ConversationRecord) error

	// GetByConversationID retrieves one record or ErrNotFound
	GetByConversationID(ctx context.Context, conversationID string) (*model.ConversationRecord, error)

	// List returns records newest first
	List(ctx context.Context, opts ListOptions) ([]model.ConversationRecord, error)
}
