package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/mbrandt/ailab/internal/domain/model"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// maxTitleWords caps suggested conversation titles.
const maxTitleWords = 5

// suggestHistoryWindow is how many trailing messages feed a title suggestion.
const suggestHistoryWindow = 12

var nameAdjectives = []string{
	"Amber", "Bold", "Calm", "Clever", "Curious", "Gentle",
	"Golden", "Quiet", "Silver", "Swift", "Vivid", "Wandering",
}

var nameNouns = []string{
	"Atlas", "Comet", "Ember", "Harbor", "Meadow", "Orbit",
	"Quill", "River", "Signal", "Summit", "Thread", "Voyage",
}

// NamingService generates conversation titles and persona prompt drafts,
// using the upstream provider for content-aware suggestions and a seeded
// word-list fallback when no history or credential is available.
type NamingService struct {
	conversations driven.ConversationStore
	secrets       driven.SecretStore
	provider      driven.ChatProvider
}

// NewNamingService creates a NamingService with the required dependencies.
func NewNamingService(
	conversations driven.ConversationStore,
	secrets driven.SecretStore,
	provider driven.ChatProvider,
) *NamingService {
	return &NamingService{
		conversations: conversations,
		secrets:       secrets,
		provider:      provider,
	}
}

// RandomConversationName deterministically picks an adjective-noun pair from
// fixed word lists. The same seed always yields the same name.
func (s *NamingService) RandomConversationName(seed int64) string {
	rng := rand.New(rand.NewSource(seed))
	return nameAdjectives[rng.Intn(len(nameAdjectives))] + " " + nameNouns[rng.Intn(len(nameNouns))]
}

// SuggestConversationName asks the upstream model for a short title based on
// the conversation's recent history.
func (s *NamingService) SuggestConversationName(ctx context.Context, conversationID string) (string, error) {
	msgs, err := s.conversations.GetMessages(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("conversation %s has no history to summarize", conversationID)
	}
	if len(msgs) > suggestHistoryWindow {
		msgs = msgs[len(msgs)-suggestHistoryWindow:]
	}

	var transcript strings.Builder
	for _, m := range msgs {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	raw, err := s.complete(ctx, []driven.ChatMessage{
		{Role: string(model.RoleSystem), Content: "You name chat conversations. Reply with a title of at most five words. No quotes, no punctuation after the title."},
		{Role: string(model.RoleUser), Content: transcript.String()},
	})
	if err != nil {
		return "", err
	}

	return sanitizeTitle(raw), nil
}

// SuggestSystemPrompt drafts a persona system prompt from genre and trait
// keywords.
func (s *NamingService) SuggestSystemPrompt(ctx context.Context, genres, traits []string) (string, error) {
	var req strings.Builder
	req.WriteString("Write a second-person system prompt for a chat persona.")
	if len(genres) > 0 {
		req.WriteString(" Genres: " + strings.Join(genres, ", ") + ".")
	}
	if len(traits) > 0 {
		req.WriteString(" Personality traits: " + strings.Join(traits, ", ") + ".")
	}
	req.WriteString(" Reply with the prompt text only.")

	raw, err := s.complete(ctx, []driven.ChatMessage{
		{Role: string(model.RoleUser), Content: req.String()},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (s *NamingService) complete(ctx context.Context, messages []driven.ChatMessage) (string, error) {
	apiKey, err := s.secrets.GetPlaintext(ctx, ProviderSecretName)
	if err != nil {
		if errors.Is(err, driven.ErrSecretNotFound) || errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			return "", fmt.Errorf("vault has no value for %s: %w", ProviderSecretName, ErrCredentialMissing)
		}
		return "", err
	}

	raw, err := s.provider.Complete(ctx, apiKey, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return raw, nil
}

// sanitizeTitle trims model decoration and caps the word count.
func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSuffix(title, ".")

	words := strings.Fields(title)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Join(words, " ")
}
