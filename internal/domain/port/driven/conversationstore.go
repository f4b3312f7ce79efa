package driven

import (
	"context"
	"errors"

	"github.com/mbrandt/ailab/internal/domain/model"
)

// ErrConversationNotFound is returned by operations targeting a conversation
// that does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore defines the driven port for conversation persistence.
// Message history is append-only in normal operation; the only mutations are
// AppendTurn, ImportMessages, and whole-conversation Delete.
type ConversationStore interface {
	// Create inserts a new conversation and returns it with its assigned id.
	Create(ctx context.Context, c model.Conversation) (model.Conversation, error)

	// GetByID retrieves a conversation including its full message history.
	// Returns nil, nil if it does not exist.
	GetByID(ctx context.Context, id string) (*model.Conversation, error)

	// ListAll returns all conversations ordered by most recently updated,
	// without message history.
	ListAll(ctx context.Context) ([]model.Conversation, error)

	// Rename changes the display name only. Kept separate from
	// MergePreferences so identity changes never touch the effective-prompt
	// inputs. Returns ErrConversationNotFound if the conversation does not exist.
	Rename(ctx context.Context, id, name string) error

	// MergePreferences applies a partial preference update and returns the
	// updated conversation (without messages). Fields left nil in the patch
	// keep their stored values. Returns ErrConversationNotFound if the
	// conversation does not exist.
	MergePreferences(ctx context.Context, id string, patch model.PreferencesPatch) (*model.Conversation, error)

	// GetMessages returns the conversation's history in timestamp order.
	// Returns ErrConversationNotFound if the conversation does not exist.
	GetMessages(ctx context.Context, id string) ([]model.Message, error)

	// AppendTurn atomically appends one user message and one assistant
	// message, in that order. Either both are visible afterwards or
	// neither is. Returns ErrConversationNotFound if the conversation does
	// not exist.
	AppendTurn(ctx context.Context, id string, userMsg, assistantMsg model.Message) error

	// ImportMessages bulk-appends history entries and reports how many were
	// stored. Returns ErrConversationNotFound if the conversation does not exist.
	ImportMessages(ctx context.Context, id string, msgs []model.Message) (int, error)

	// Delete removes the conversation and its messages.
	// Returns ErrConversationNotFound if the conversation does not exist.
	Delete(ctx context.Context, id string) error
}
