package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrandt/ailab/internal/domain/model"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

func TestPersonaRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonaRepo(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, model.Persona{
		Name:         "Nova",
		SystemPrompt: "Be kind.",
		VoiceRef:     "voice-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Nova", got.Name)
	assert.Equal(t, "Be kind.", got.SystemPrompt)
	assert.Equal(t, "voice-1", got.VoiceRef)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestPersonaRepo_GetByName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonaRepo(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, model.Persona{Name: "Sage", SystemPrompt: "Explain simply."})
	require.NoError(t, err)

	got, err := repo.GetByName(ctx, "Sage")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Explain simply.", got.SystemPrompt)

	missing, err := repo.GetByName(ctx, "Ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPersonaRepo_ListOrderedByName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonaRepo(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, model.Persona{Name: "Zed"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, model.Persona{Name: "Ada"})
	require.NoError(t, err)

	personas, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, personas, 2)
	assert.Equal(t, "Ada", personas[0].Name)
	assert.Equal(t, "Zed", personas[1].Name)
}

func TestPersonaRepo_UpdatePartial(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonaRepo(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, model.Persona{Name: "Nova", SystemPrompt: "Be kind.", VoiceRef: "voice-1"})
	require.NoError(t, err)

	prompt := "Be very kind."
	updated, err := repo.Update(ctx, created.ID, model.PersonaPatch{SystemPrompt: &prompt})
	require.NoError(t, err)

	assert.Equal(t, "Be very kind.", updated.SystemPrompt)
	assert.Equal(t, "Nova", updated.Name, "unspecified fields keep stored values")
	assert.Equal(t, "voice-1", updated.VoiceRef)
}

func TestPersonaRepo_UpdateMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonaRepo(db)

	name := "x"
	_, err := repo.Update(context.Background(), "no-such-id", model.PersonaPatch{Name: &name})
	assert.ErrorIs(t, err, driven.ErrPersonaNotFound)
}

func TestPersonaRepo_DeleteLeavesConversationReference(t *testing.T) {
	db := setupTestDB(t)
	personas := NewPersonaRepo(db)
	convs := NewConversationRepo(db)
	ctx := context.Background()

	p, err := personas.Create(ctx, model.Persona{Name: "Nova", SystemPrompt: "Be kind."})
	require.NoError(t, err)

	conv, err := convs.Create(ctx, model.Conversation{
		DisplayName: "chat",
		Preferences: model.Preferences{PersonaID: p.ID, PersonaName: p.Name},
	})
	require.NoError(t, err)

	require.NoError(t, personas.Delete(ctx, p.ID))

	got, err := convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.Preferences.PersonaID, "persona delete must not cascade")
	assert.Equal(t, "Nova", got.Preferences.PersonaName)
}

func TestPersonaRepo_DeleteMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonaRepo(db)

	err := repo.Delete(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, driven.ErrPersonaNotFound)
}
