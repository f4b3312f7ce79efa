package application

import (
	"context"

	"github.com/mbrandt/ailab/internal/domain/model"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// ComposePrompt combines a conversation's preference overlay with the
// resolved persona (nil when none resolves) into the effective system prompt
// sent upstream. It is a pure function: identical inputs always produce a
// byte-identical string, which the composed-prompt view endpoint and the
// relay both rely on.
//
// Precedence: a resolved persona's non-empty system prompt wins over the
// conversation's override; the override wins over the empty default. The
// display name (persona's when resolved, otherwise the stored persona_name)
// is prepended as the literal sentence "Your name is <Name>. " when non-empty.
func ComposePrompt(prefs model.Preferences, persona *model.Persona) string {
	base := ""
	switch {
	case persona != nil && persona.SystemPrompt != "":
		base = persona.SystemPrompt
	case prefs.SystemPromptOverride != "":
		base = prefs.SystemPromptOverride
	}

	name := prefs.PersonaName
	if persona != nil {
		name = persona.Name
	}
	if name == "" {
		return base
	}
	return "Your name is " + name + ". " + base
}

// ResolvePersona resolves a conversation's persona reference: id first, name
// only when the id no longer resolves. Returns nil, nil when nothing
// resolves, which ComposePrompt degrades through gracefully (a deleted
// persona leaves the conversation usable via its stored persona_name and
// override).
func ResolvePersona(ctx context.Context, store driven.PersonaStore, prefs model.Preferences) (*model.Persona, error) {
	if prefs.PersonaID != "" {
		p, err := store.GetByID(ctx, prefs.PersonaID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	if prefs.PersonaName != "" {
		return store.GetByName(ctx, prefs.PersonaName)
	}
	return nil, nil
}
