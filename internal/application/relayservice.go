package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbrandt/ailab/internal/domain/model"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// ProviderSecretName is the fixed vault key holding the upstream API
// credential. It is a compile-time binding, never user input.
const ProviderSecretName = "OPENROUTER_API_KEY"

// ErrCredentialMissing is returned when the vault has no value for the
// required provider key. Callers can distinguish it from an upstream outage
// and route the user to credential setup instead of retrying; the wrapping
// message names the missing key without ever containing a value.
var ErrCredentialMissing = errors.New("credential missing")

// ErrUpstreamUnavailable is returned when the upstream streaming call cannot
// be opened (network, auth rejection, quota).
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ErrStreamInterrupted is returned when a stream fails or is cancelled after
// it has started. Nothing is persisted in that case.
var ErrStreamInterrupted = errors.New("stream interrupted")

// StreamRequest is one relay invocation from the client-facing layer.
type StreamRequest struct {
	ConversationID  string
	UserMessage     string
	PersonaOverride string // optional persona name applied to this stream only
}

// ChunkSink receives forwarded stream chunks. Send must deliver (and flush)
// the chunk before returning; an error means the client is gone and the
// relay cancels the upstream call.
type ChunkSink interface {
	Send(ctx context.Context, delta string) error
}

// RelayService orchestrates one streaming turn: load conversation and
// persona, compose the prompt, borrow the upstream credential from the
// vault, forward chunks write-through to the sink, and persist the completed
// turn atomically. A turn either completes and appears in history as exactly
// one user plus one assistant message, or does not appear at all.
type RelayService struct {
	conversations driven.ConversationStore
	personas      driven.PersonaStore
	secrets       driven.SecretStore
	provider      driven.ChatProvider
	logger        *slog.Logger
}

// NewRelayService creates a RelayService with the required dependencies.
func NewRelayService(
	conversations driven.ConversationStore,
	personas driven.PersonaStore,
	secrets driven.SecretStore,
	provider driven.ChatProvider,
	logger *slog.Logger,
) *RelayService {
	return &RelayService{
		conversations: conversations,
		personas:      personas,
		secrets:       secrets,
		provider:      provider,
		logger:        logger,
	}
}

// ComposedPrompt returns the effective system prompt the relay would send
// for the conversation right now. Deterministic for auditing: two calls with
// unchanged stores return byte-identical strings.
func (s *RelayService) ComposedPrompt(ctx context.Context, conversationID string) (string, error) {
	conv, persona, err := s.loadConversation(ctx, conversationID, "")
	if err != nil {
		return "", err
	}
	return ComposePrompt(conv.Preferences, persona), nil
}

// StreamTurn runs the full relay state machine for one request, forwarding
// chunks to sink as they arrive. On success the completed turn has been
// persisted before return. Failures before the first forwarded chunk are
// plain errors; failures after forwarding wrap ErrStreamInterrupted, and in
// both cases nothing is persisted.
func (s *RelayService) StreamTurn(ctx context.Context, req StreamRequest, sink ChunkSink) error {
	conv, persona, err := s.loadConversation(ctx, req.ConversationID, req.PersonaOverride)
	if err != nil {
		return err
	}
	prompt := ComposePrompt(conv.Preferences, persona)

	apiKey, err := s.secrets.GetPlaintext(ctx, ProviderSecretName)
	if err != nil {
		if errors.Is(err, driven.ErrSecretNotFound) || errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			return fmt.Errorf("vault has no value for %s: %w", ProviderSecretName, ErrCredentialMissing)
		}
		// Decryption failures pass through distinctly; they are fatal for
		// this credential only.
		return err
	}

	messages := buildMessages(prompt, conv.Messages, req.UserMessage)

	// The upstream call gets its own cancel handle so a sink failure stops
	// it immediately instead of letting it run to completion unobserved.
	upstreamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := s.provider.StreamChat(upstreamCtx, apiKey, messages)
	if err != nil {
		return fmt.Errorf("%w: open upstream stream: %v", ErrUpstreamUnavailable, err)
	}

	s.logger.Info("stream opened", "conversation_id", conv.ID, "history_len", len(conv.Messages))

	var accumulated []byte
	forwarded := 0
	for chunk := range ch {
		if chunk.Err != nil {
			s.logger.Warn("upstream stream failed", "conversation_id", conv.ID, "forwarded", forwarded, "error", chunk.Err)
			return fmt.Errorf("%w: upstream failed after %d chunks: %v", ErrStreamInterrupted, forwarded, chunk.Err)
		}
		if chunk.Delta != "" {
			if err := sink.Send(ctx, chunk.Delta); err != nil {
				cancel()
				s.logger.Info("client disconnected mid-stream, discarding partial turn",
					"conversation_id", conv.ID, "forwarded", forwarded)
				return fmt.Errorf("%w: client gone after %d chunks: %v", ErrStreamInterrupted, forwarded, err)
			}
			forwarded++
			accumulated = append(accumulated, chunk.Delta...)
		}
		if chunk.Done {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
	}

	err = s.conversations.AppendTurn(ctx, conv.ID,
		model.Message{Role: model.RoleUser, Content: req.UserMessage},
		model.Message{Role: model.RoleAssistant, Content: string(accumulated)},
	)
	if err != nil {
		return fmt.Errorf("%w: persist turn: %v", ErrStreamInterrupted, err)
	}

	s.logger.Info("turn persisted", "conversation_id", conv.ID, "chunks", forwarded, "assistant_len", len(accumulated))
	return nil
}

// loadConversation fetches the conversation and resolves its persona. A
// non-empty personaOverride resolves by name for this call only, without
// touching stored preferences.
func (s *RelayService) loadConversation(ctx context.Context, id, personaOverride string) (*model.Conversation, *model.Persona, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, fmt.Errorf("conversation %s: %w", id, driven.ErrConversationNotFound)
	}

	var persona *model.Persona
	if personaOverride != "" {
		persona, err = s.personas.GetByName(ctx, personaOverride)
	} else {
		persona, err = ResolvePersona(ctx, s.personas, conv.Preferences)
	}
	if err != nil {
		return nil, nil, err
	}

	return conv, persona, nil
}

// buildMessages assembles the upstream payload: composed system prompt (when
// non-empty), stored history in order, then the new user message.
func buildMessages(prompt string, history []model.Message, userMessage string) []driven.ChatMessage {
	messages := make([]driven.ChatMessage, 0, len(history)+2)
	if prompt != "" {
		messages = append(messages, driven.ChatMessage{Role: string(model.RoleSystem), Content: prompt})
	}
	for _, m := range history {
		messages = append(messages, driven.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, driven.ChatMessage{Role: string(model.RoleUser), Content: userMessage})
	return messages
}
