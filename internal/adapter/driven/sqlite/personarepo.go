package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mbrandt/ailab/internal/domain/model"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PersonaStore = (*PersonaRepo)(nil)

// PersonaRepo is the SQLite implementation of the PersonaStore port.
type PersonaRepo struct {
	db *DB
}

// NewPersonaRepo creates a PersonaRepo backed by the given DB.
func NewPersonaRepo(db *DB) *PersonaRepo {
	return &PersonaRepo{db: db}
}

// Create inserts a new persona, assigning a fresh id when none is provided.
func (r *PersonaRepo) Create(ctx context.Context, p model.Persona) (model.Persona, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	const query = `INSERT INTO personas (id, name, system_prompt, voice_ref, avatar_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		p.ID, p.Name, p.SystemPrompt, p.VoiceRef, p.AvatarRef,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return model.Persona{}, fmt.Errorf("create persona %q: %w", p.Name, err)
	}

	return p, nil
}

// GetByID retrieves a persona by id. Returns nil, nil if it does not exist.
func (r *PersonaRepo) GetByID(ctx context.Context, id string) (*model.Persona, error) {
	const query = `SELECT id, name, system_prompt, voice_ref, avatar_ref, created_at, updated_at
		FROM personas WHERE id = ?`

	p, err := scanPersona(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get persona %s: %w", id, err)
	}

	return p, nil
}

// GetByName retrieves a persona by display name. Returns nil, nil if it does
// not exist.
func (r *PersonaRepo) GetByName(ctx context.Context, name string) (*model.Persona, error) {
	const query = `SELECT id, name, system_prompt, voice_ref, avatar_ref, created_at, updated_at
		FROM personas WHERE name = ?`

	p, err := scanPersona(r.db.Reader.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get persona %q: %w", name, err)
	}

	return p, nil
}

// ListAll returns all personas ordered by name.
func (r *PersonaRepo) ListAll(ctx context.Context) ([]model.Persona, error) {
	const query = `SELECT id, name, system_prompt, voice_ref, avatar_ref, created_at, updated_at
		FROM personas ORDER BY name`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var personas []model.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		personas = append(personas, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}

	return personas, nil
}

// Update applies a partial update. Nil patch fields keep stored values.
func (r *PersonaRepo) Update(ctx context.Context, id string, patch model.PersonaPatch) (*model.Persona, error) {
	const query = `UPDATE personas SET
		name = COALESCE(?, name),
		system_prompt = COALESCE(?, system_prompt),
		voice_ref = COALESCE(?, voice_ref),
		avatar_ref = COALESCE(?, avatar_ref),
		updated_at = ?
		WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		patch.Name, patch.SystemPrompt, patch.VoiceRef, patch.AvatarRef,
		formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update persona %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("update persona %s: %w", id, driven.ErrPersonaNotFound)
	}

	return r.GetByID(ctx, id)
}

// Delete removes a persona. Conversations that reference it are untouched.
func (r *PersonaRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM personas WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete persona %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete persona %s: %w", id, driven.ErrPersonaNotFound)
	}

	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*model.Persona, error) {
	var p model.Persona
	var createdAt, updatedAt string

	if err := row.Scan(&p.ID, &p.Name, &p.SystemPrompt, &p.VoiceRef, &p.AvatarRef, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &p, nil
}

// storedTimeFormat is fixed-width down to nanoseconds. RFC3339Nano trims
// trailing zeros, which breaks lexical ordering on the TEXT column ('.' sorts
// before 'Z', so "10:00:00Z" would sort after "10:00:00.000001Z"); padding
// the fraction keeps ORDER BY timestamp chronological.
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z"

// formatTime renders a timestamp for storage in UTC with a fixed width so
// string comparison matches time comparison.
func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeFormat)
}

// parseTime parses the timestamp formats SQLite may hand back, covering both
// our own writes and CURRENT_TIMESTAMP defaults.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
