package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrandt/ailab/internal/domain/model"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// --- Mock implementations ---

type appendedTurn struct {
	conversationID string
	user           model.Message
	assistant      model.Message
}

type mockConversationStore struct {
	conv    *model.Conversation
	appends []appendedTurn
}

func (m *mockConversationStore) Create(_ context.Context, c model.Conversation) (model.Conversation, error) {
	return c, nil
}
func (m *mockConversationStore) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	if m.conv != nil && m.conv.ID == id {
		return m.conv, nil
	}
	return nil, nil
}
func (m *mockConversationStore) ListAll(_ context.Context) ([]model.Conversation, error) {
	return nil, nil
}
func (m *mockConversationStore) Rename(_ context.Context, _, _ string) error { return nil }
func (m *mockConversationStore) MergePreferences(_ context.Context, _ string, _ model.PreferencesPatch) (*model.Conversation, error) {
	return nil, nil
}
func (m *mockConversationStore) GetMessages(_ context.Context, id string) ([]model.Message, error) {
	if m.conv != nil && m.conv.ID == id {
		return m.conv.Messages, nil
	}
	return nil, driven.ErrConversationNotFound
}
func (m *mockConversationStore) AppendTurn(_ context.Context, id string, userMsg, assistantMsg model.Message) error {
	m.appends = append(m.appends, appendedTurn{conversationID: id, user: userMsg, assistant: assistantMsg})
	return nil
}
func (m *mockConversationStore) ImportMessages(_ context.Context, _ string, msgs []model.Message) (int, error) {
	return len(msgs), nil
}
func (m *mockConversationStore) Delete(_ context.Context, _ string) error { return nil }

type mockPersonaStore struct {
	byID   map[string]*model.Persona
	byName map[string]*model.Persona
}

func (m *mockPersonaStore) Create(_ context.Context, p model.Persona) (model.Persona, error) {
	return p, nil
}
func (m *mockPersonaStore) GetByID(_ context.Context, id string) (*model.Persona, error) {
	return m.byID[id], nil
}
func (m *mockPersonaStore) GetByName(_ context.Context, name string) (*model.Persona, error) {
	return m.byName[name], nil
}
func (m *mockPersonaStore) ListAll(_ context.Context) ([]model.Persona, error) { return nil, nil }
func (m *mockPersonaStore) Update(_ context.Context, _ string, _ model.PersonaPatch) (*model.Persona, error) {
	return nil, driven.ErrPersonaNotFound
}
func (m *mockPersonaStore) Delete(_ context.Context, _ string) error { return driven.ErrPersonaNotFound }

type mockSecretStore struct {
	values map[string]string
	getErr error
	gets   int
}

func (m *mockSecretStore) ListNames(_ context.Context) ([]model.SecretName, error) { return nil, nil }
func (m *mockSecretStore) Set(_ context.Context, _, _ string) error                { return nil }
func (m *mockSecretStore) GetPlaintext(_ context.Context, name string) (string, error) {
	m.gets++
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[name]
	if !ok {
		return "", driven.ErrSecretNotFound
	}
	return v, nil
}
func (m *mockSecretStore) Delete(_ context.Context, _ string) error { return nil }

type mockProvider struct {
	mu        sync.Mutex
	chunks    []driven.StreamChunk
	openErr   error
	called    bool
	apiKey    string
	messages  []driven.ChatMessage
	cancelled chan struct{}
}

func newMockProvider(chunks ...driven.StreamChunk) *mockProvider {
	return &mockProvider{chunks: chunks, cancelled: make(chan struct{})}
}

func (m *mockProvider) StreamChat(ctx context.Context, apiKey string, messages []driven.ChatMessage) (<-chan driven.StreamChunk, error) {
	m.mu.Lock()
	m.called = true
	m.apiKey = apiKey
	m.messages = messages
	m.mu.Unlock()

	if m.openErr != nil {
		return nil, m.openErr
	}

	ch := make(chan driven.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range m.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				close(m.cancelled)
				return
			}
		}
	}()
	return ch, nil
}

func (m *mockProvider) Complete(_ context.Context, _ string, _ []driven.ChatMessage) (string, error) {
	return "", errors.New("not implemented")
}
func (m *mockProvider) ListModels(_ context.Context) ([]model.ModelInfo, error) { return nil, nil }

// collectSink records every forwarded chunk and can be set to fail after a
// fixed number of sends, simulating a client disconnect.
type collectSink struct {
	chunks    []string
	failAfter int // 0 means never fail
}

func (s *collectSink) Send(_ context.Context, delta string) error {
	if s.failAfter > 0 && len(s.chunks) >= s.failAfter {
		return errors.New("client connection closed")
	}
	s.chunks = append(s.chunks, delta)
	return nil
}

func testRelay(convs *mockConversationStore, personas *mockPersonaStore, secrets *mockSecretStore, provider *mockProvider) *RelayService {
	return NewRelayService(convs, personas, secrets, provider, slog.New(slog.DiscardHandler))
}

func baseFixtures() (*mockConversationStore, *mockPersonaStore, *mockSecretStore) {
	convs := &mockConversationStore{conv: &model.Conversation{
		ID:          "conv-1",
		DisplayName: "chat",
		Preferences: model.Preferences{PersonaID: "p-1", PersonaName: "Nova"},
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "earlier question"},
			{Role: model.RoleAssistant, Content: "earlier answer"},
		},
	}}
	personas := &mockPersonaStore{
		byID:   map[string]*model.Persona{"p-1": {ID: "p-1", Name: "Nova", SystemPrompt: "Be kind."}},
		byName: map[string]*model.Persona{},
	}
	secrets := &mockSecretStore{values: map[string]string{ProviderSecretName: "sk-or-test"}}
	return convs, personas, secrets
}

// --- Tests ---

func TestRelayService_CompletedStreamPersistsOneTurn(t *testing.T) {
	convs, personas, secrets := baseFixtures()
	provider := newMockProvider(
		driven.StreamChunk{Delta: "Hel"},
		driven.StreamChunk{Delta: "lo"},
		driven.StreamChunk{Done: true},
	)
	relay := testRelay(convs, personas, secrets, provider)
	sink := &collectSink{}

	err := relay.StreamTurn(context.Background(), StreamRequest{ConversationID: "conv-1", UserMessage: "Say hello"}, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, sink.chunks, "chunks forwarded in arrival order")

	require.Len(t, convs.appends, 1)
	turn := convs.appends[0]
	assert.Equal(t, "conv-1", turn.conversationID)
	assert.Equal(t, model.RoleUser, turn.user.Role)
	assert.Equal(t, "Say hello", turn.user.Content)
	assert.Equal(t, model.RoleAssistant, turn.assistant.Role)
	assert.Equal(t, "Hello", turn.assistant.Content)

	assert.Equal(t, "sk-or-test", provider.apiKey)
	require.GreaterOrEqual(t, len(provider.messages), 2)
	assert.Equal(t, "system", provider.messages[0].Role)
	assert.Equal(t, "Your name is Nova. Be kind.", provider.messages[0].Content)
	assert.Equal(t, "Say hello", provider.messages[len(provider.messages)-1].Content)
}

func TestRelayService_UnknownConversationFailsBeforeUpstream(t *testing.T) {
	convs, personas, secrets := baseFixtures()
	provider := newMockProvider()
	relay := testRelay(convs, personas, secrets, provider)

	err := relay.StreamTurn(context.Background(), StreamRequest{ConversationID: "no-such-id", UserMessage: "hi"}, &collectSink{})
	assert.ErrorIs(t, err, driven.ErrConversationNotFound)
	assert.False(t, provider.called, "no upstream call may be attempted")
	assert.Zero(t, secrets.gets, "vault untouched for unknown conversations")
	assert.Empty(t, convs.appends)
}

func TestRelayService_CredentialMissingIsDistinct(t *testing.T) {
	convs, personas, _ := baseFixtures()
	secrets := &mockSecretStore{values: map[string]string{}}
	provider := newMockProvider()
	relay := testRelay(convs, personas, secrets, provider)

	err := relay.StreamTurn(context.Background(), StreamRequest{ConversationID: "conv-1", UserMessage: "hi"}, &collectSink{})
	assert.ErrorIs(t, err, ErrCredentialMissing)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), ProviderSecretName, "caller must learn which key to configure")
	assert.False(t, provider.called)
}

func TestRelayService_DecryptFailurePassesThrough(t *testing.T) {
	convs, personas, _ := baseFixtures()
	secrets := &mockSecretStore{getErr: driven.ErrDecryptFailed}
	provider := newMockProvider()
	relay := testRelay(convs, personas, secrets, provider)

	err := relay.StreamTurn(context.Background(), StreamRequest{ConversationID: "conv-1", UserMessage: "hi"}, &collectSink{})
	assert.ErrorIs(t, err, driven.ErrDecryptFailed)
	assert.NotErrorIs(t, err, ErrCredentialMissing)
	assert.False(t, provider.called)
}

func TestRelayService_UpstreamOpenFailure(t *testing.T) {
	convs, personas, secrets := baseFixtures()
	provider := newMockProvider()
	provider.openErr = errors.New("connection refused")
	relay := testRelay(convs, personas, secrets, provider)

	err := relay.StreamTurn(context.Background(), StreamRequest{ConversationID: "conv-1", UserMessage: "hi"}, &collectSink{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Empty(t, convs.appends, "nothing persisted on open failure")
}

func TestRelayService_ClientDisconnectDiscardsPartialTurn(t *testing.T) {
	convs, personas, secrets := baseFixtures()
	provider := newMockProvider(
		driven.StreamChunk{Delta: "one"},
		driven.StreamChunk{Delta: "two"},
		driven.StreamChunk{Delta: "three"},
		driven.StreamChunk{Delta: "four"},
		driven.StreamChunk{Delta: "five"},
		driven.StreamChunk{Done: true},
	)
	relay := testRelay(convs, personas, secrets, provider)
	sink := &collectSink{failAfter: 2}

	err := relay.StreamTurn(context.Background(), StreamRequest{ConversationID: "conv-1", UserMessage: "hi"}, sink)
	assert.ErrorIs(t, err, ErrStreamInterrupted)

	assert.Len(t, sink.chunks, 2, "client saw exactly the chunks sent before the disconnect")
	assert.Empty(t, convs.appends, "partial turns must not reach history")

	select {
	case <-provider.cancelled:
	case <-time.After(time.Second):
		t.Fatal("upstream call was not cancelled after client disconnect")
	}
}

func TestRelayService_MidStreamErrorPersistsNothing(t *testing.T) {
	convs, personas, secrets := baseFixtures()
	provider := newMockProvider(
		driven.StreamChunk{Delta: "par"},
		driven.StreamChunk{Done: true, Err: errors.New("connection reset")},
	)
	relay := testRelay(convs, personas, secrets, provider)
	sink := &collectSink{}

	err := relay.StreamTurn(context.Background(), StreamRequest{ConversationID: "conv-1", UserMessage: "hi"}, sink)
	assert.ErrorIs(t, err, ErrStreamInterrupted)
	assert.Empty(t, convs.appends)
}

func TestRelayService_PersonaOverrideAppliesToSingleStream(t *testing.T) {
	convs, personas, secrets := baseFixtures()
	personas.byName["Sage"] = &model.Persona{ID: "p-2", Name: "Sage", SystemPrompt: "Explain simply."}
	provider := newMockProvider(driven.StreamChunk{Delta: "ok"}, driven.StreamChunk{Done: true})
	relay := testRelay(convs, personas, secrets, provider)

	err := relay.StreamTurn(context.Background(), StreamRequest{
		ConversationID:  "conv-1",
		UserMessage:     "hi",
		PersonaOverride: "Sage",
	}, &collectSink{})
	require.NoError(t, err)

	require.NotEmpty(t, provider.messages)
	assert.Equal(t, "Your name is Sage. Explain simply.", provider.messages[0].Content)
	assert.Equal(t, model.Preferences{PersonaID: "p-1", PersonaName: "Nova"}, convs.conv.Preferences,
		"override must not mutate stored preferences")
}

func TestRelayService_DeletedPersonaFallsBackToStoredName(t *testing.T) {
	convs, personas, secrets := baseFixtures()
	personas.byID = map[string]*model.Persona{} // persona deleted
	provider := newMockProvider(driven.StreamChunk{Delta: "ok"}, driven.StreamChunk{Done: true})
	relay := testRelay(convs, personas, secrets, provider)

	err := relay.StreamTurn(context.Background(), StreamRequest{ConversationID: "conv-1", UserMessage: "hi"}, &collectSink{})
	require.NoError(t, err)

	require.NotEmpty(t, provider.messages)
	assert.Equal(t, "Your name is Nova. ", provider.messages[0].Content)
}

func TestRelayService_ComposedPromptView(t *testing.T) {
	convs, personas, secrets := baseFixtures()
	relay := testRelay(convs, personas, secrets, newMockProvider())

	first, err := relay.ComposedPrompt(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Your name is Nova. Be kind.", first)

	second, err := relay.ComposedPrompt(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, first, second, "composition is reproducible")

	_, err = relay.ComposedPrompt(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, driven.ErrConversationNotFound)
}
