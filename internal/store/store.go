// Package store persists conversations and messages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/roelfdiedericks/chatgate/internal/types"
)

// ErrNotFound is returned when a conversation or message does not exist
var ErrNotFound = errors.New("not found")

// FinalMessage is a completed exchange ready to be stored
type FinalMessage struct {
	ConversationID   string
	Prompt           string
	Response         string
	Reasoning        string
	Model            string
	FinishReason     string
	Usage            types.Usage
	ResponseTimeMs   float64
	IncludeSearch    bool
	IncludeReasoning bool
	Attachments      []types.Attachment
	Sources          []types.Source
}

// PendingPrompt is a user prompt stored before generation
type PendingPrompt struct {
	ConversationID   string
	Prompt           string
	Model            string
	IncludeSearch    bool
	IncludeReasoning bool
	Attachments      []types.Attachment
}

// MessageWriter stores completed messages
type MessageWriter interface {
	// InsertFinalMessage stores msg and advances the conversation's
	// LastUsedAt in one transaction.
	InsertFinalMessage(ctx context.Context, msg *FinalMessage) (*types.Message, error)
}

// Gateway is the persistence surface used by the chat pipeline
type Gateway interface {
	MessageWriter
	RenameConversation(ctx context.Context, id, name string) (*types.Conversation, error)
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
}

// Store is the full persistence surface used by the HTTP layer
type Store interface {
	Gateway

	CreateConversation(ctx context.Context, ownerID, name string) (*types.Conversation, error)
	// ListConversations returns ownerID's conversations, most recently used first
	ListConversations(ctx context.Context, ownerID string) ([]types.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	StorePrompt(ctx context.Context, p *PendingPrompt) (*types.Message, error)
	// ListMessages returns a conversation's messages, oldest first
	ListMessages(ctx context.Context, conversationID string) ([]types.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	// DeleteLastMessageIfPending removes the newest message only when it
	// has no response yet. deleted reports whether anything was removed.
	DeleteLastMessageIfPending(ctx context.Context, conversationID string) (deleted bool, err error)
	SetLiked(ctx context.Context, conversationID, messageID string, liked bool) error

	Close() error
}

// laterOf keeps LastUsedAt monotonic
func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
