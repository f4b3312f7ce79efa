package driven

import (
	"context"
	"errors"

	"github.com/mbrandt/ailab/internal/domain/model"
)

// ErrPersonaNotFound is returned by write operations targeting a persona
// that does not exist.
var ErrPersonaNotFound = errors.New("persona not found")

// PersonaStore defines the driven port for persona persistence.
type PersonaStore interface {
	// Create inserts a new persona and returns it with its assigned id.
	Create(ctx context.Context, p model.Persona) (model.Persona, error)

	// GetByID retrieves a persona by id. Returns nil, nil if it does not exist.
	GetByID(ctx context.Context, id string) (*model.Persona, error)

	// GetByName retrieves a persona by display name. Returns nil, nil if it
	// does not exist. Used as the resolution fallback when a conversation's
	// persona_id no longer resolves.
	GetByName(ctx context.Context, name string) (*model.Persona, error)

	// ListAll returns all personas ordered by name.
	ListAll(ctx context.Context) ([]model.Persona, error)

	// Update applies a partial update and returns the updated persona.
	// Returns ErrPersonaNotFound if the persona does not exist.
	Update(ctx context.Context, id string, patch model.PersonaPatch) (*model.Persona, error)

	// Delete removes a persona. Conversations referencing it are not
	// touched; they retain persona_id and persona_name as historical
	// references. Returns ErrPersonaNotFound if the persona does not exist.
	Delete(ctx context.Context, id string) error
}
