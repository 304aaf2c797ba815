// Package store defines the persistence boundary consumed by the stream
// pipeline and its SQLite implementation.
package store

import (
	"context"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
)

// Store is the persistence collaborator. The stream pipeline never touches
// storage beyond these calls.
type Store interface {
	// LoadMessages returns all messages of a conversation in append order.
	LoadMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// AppendMessage persists a message, assigning id and timestamp when
	// absent, and returns the stored message.
	AppendMessage(ctx context.Context, message *domain.Message) (*domain.Message, error)

	// Lifecycle
	Close() error
}
