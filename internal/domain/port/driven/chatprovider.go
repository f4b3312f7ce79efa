package driven

import (
	"context"

	"github.com/mbrandt/ailab/internal/domain/model"
)

// ChatMessage is a single message in the wire format sent to the upstream
// language-model provider.
type ChatMessage struct {
	Role    string
	Content string
}

// StreamChunk is one incremental piece of assistant output from a streaming
// upstream call. Exactly one of the terminal conditions holds at the end of
// a stream: Done with a nil Err on normal completion, or Done with a non-nil
// Err on failure.
type StreamChunk struct {
	Delta string
	Done  bool
	Err   error
}

// ChatProvider defines the driven port for the upstream language-model API.
// The API key is borrowed from the vault by the caller for the duration of a
// single call and must not be retained or logged by implementations.
type ChatProvider interface {
	// StreamChat opens a streaming completion call and delivers chunks in
	// arrival order on the returned channel. The channel is closed once the
	// stream ends, after a terminal chunk when one could be delivered.
	// Cancelling ctx aborts the upstream call and is also how a consumer
	// abandons the channel: implementations must never block on a send once
	// ctx is cancelled, so a consumer that cancels and stops receiving
	// cannot strand the producer.
	StreamChat(ctx context.Context, apiKey string, messages []ChatMessage) (<-chan StreamChunk, error)

	// Complete performs a blocking completion call and returns the full
	// assistant response text.
	Complete(ctx context.Context, apiKey string, messages []ChatMessage) (string, error)

	// ListModels returns the provider's model catalog.
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
}
