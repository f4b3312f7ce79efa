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
var _ driven.ConversationStore = (*ConversationRepo)(nil)

// ConversationRepo is the SQLite implementation of the ConversationStore
// port. Message history is append-only; the write paths are AppendTurn,
// ImportMessages, and whole-conversation Delete (cascade).
type ConversationRepo struct {
	db *DB
}

// NewConversationRepo creates a ConversationRepo backed by the given DB.
func NewConversationRepo(db *DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Create inserts a new conversation, assigning a fresh id when none is
// provided.
func (r *ConversationRepo) Create(ctx context.Context, c model.Conversation) (model.Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	const query = `INSERT INTO conversations
		(id, display_name, system_prompt_override, persona_id, persona_name, voice_ref, avatar_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		c.ID, c.DisplayName,
		c.Preferences.SystemPromptOverride, c.Preferences.PersonaID, c.Preferences.PersonaName,
		c.Preferences.VoiceRef, c.Preferences.AvatarRef,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation %q: %w", c.DisplayName, err)
	}

	return c, nil
}

// GetByID retrieves a conversation including its full message history.
// Returns nil, nil if it does not exist.
func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	const query = `SELECT id, display_name, system_prompt_override, persona_id, persona_name, voice_ref, avatar_ref, created_at, updated_at
		FROM conversations WHERE id = ?`

	c, err := scanConversation(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}

	msgs, err := r.messagesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs

	return c, nil
}

// ListAll returns all conversations ordered by most recently updated,
// without message history.
func (r *ConversationRepo) ListAll(ctx context.Context) ([]model.Conversation, error) {
	const query = `SELECT id, display_name, system_prompt_override, persona_id, persona_name, voice_ref, avatar_ref, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return convs, nil
}

// Rename changes the display name only. Preference fields are untouched so
// identity changes never affect the composed prompt.
func (r *ConversationRepo) Rename(ctx context.Context, id, name string) error {
	const query = `UPDATE conversations SET display_name = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, name, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("rename conversation %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rename conversation %s: %w", id, driven.ErrConversationNotFound)
	}

	return nil
}

// MergePreferences applies a partial preference update in one statement.
// Nil patch fields map to NULL and COALESCE keeps the stored value.
func (r *ConversationRepo) MergePreferences(ctx context.Context, id string, patch model.PreferencesPatch) (*model.Conversation, error) {
	const query = `UPDATE conversations SET
		system_prompt_override = COALESCE(?, system_prompt_override),
		persona_id = COALESCE(?, persona_id),
		persona_name = COALESCE(?, persona_name),
		voice_ref = COALESCE(?, voice_ref),
		avatar_ref = COALESCE(?, avatar_ref),
		updated_at = ?
		WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		patch.SystemPromptOverride, patch.PersonaID, patch.PersonaName,
		patch.VoiceRef, patch.AvatarRef,
		formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("merge preferences for conversation %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("merge preferences for conversation %s: %w", id, driven.ErrConversationNotFound)
	}

	const readBack = `SELECT id, display_name, system_prompt_override, persona_id, persona_name, voice_ref, avatar_ref, created_at, updated_at
		FROM conversations WHERE id = ?`
	c, err := scanConversation(r.db.Reader.QueryRowContext(ctx, readBack, id))
	if err != nil {
		return nil, fmt.Errorf("read back conversation %s: %w", id, err)
	}
	return c, nil
}

// GetMessages returns the conversation's history in timestamp order.
func (r *ConversationRepo) GetMessages(ctx context.Context, id string) ([]model.Message, error) {
	if err := r.exists(ctx, id); err != nil {
		return nil, err
	}
	return r.messagesFor(ctx, id)
}

// AppendTurn atomically appends one user message and one assistant message,
// in that order, within a single transaction on the writer connection. The
// relay's success response is not sent until this commit returns, which
// gives read-after-write for completed turns.
func (r *ConversationRepo) AppendTurn(ctx context.Context, id string, userMsg, assistantMsg model.Message) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append turn: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)`

	now := time.Now().UTC()
	userAt := userMsg.Timestamp
	if userAt.IsZero() {
		userAt = now
	}
	assistantAt := assistantMsg.Timestamp
	if assistantAt.IsZero() || !assistantAt.After(userAt) {
		// Insertion order is the tiebreaker, but keep timestamps monotonic
		// within a turn so timestamp-ordered reads match.
		assistantAt = userAt.Add(time.Microsecond)
	}

	if _, err := tx.ExecContext(ctx, insert, id, string(model.RoleUser), userMsg.Content, formatTime(userAt)); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, id, string(model.RoleAssistant), assistantMsg.Content, formatTime(assistantAt)); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}

	const touch = `UPDATE conversations SET updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, touch, formatTime(now), id); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append turn: %w", err)
	}
	return nil
}

// ImportMessages bulk-appends history entries in one transaction.
func (r *ConversationRepo) ImportMessages(ctx context.Context, id string, msgs []model.Message) (int, error) {
	if err := r.exists(ctx, id); err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)`

	count := 0
	for _, m := range msgs {
		at := m.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, insert, id, string(m.Role), m.Content, formatTime(at)); err != nil {
			return 0, fmt.Errorf("import message: %w", err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return count, nil
}

// Delete removes the conversation; the messages foreign key cascades.
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM conversations WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete conversation %s: %w", id, driven.ErrConversationNotFound)
	}

	return nil
}

func (r *ConversationRepo) exists(ctx context.Context, id string) error {
	const query = `SELECT 1 FROM conversations WHERE id = ?`
	var one int
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("conversation %s: %w", id, driven.ErrConversationNotFound)
	}
	if err != nil {
		return fmt.Errorf("check conversation %s: %w", id, err)
	}
	return nil
}

func (r *ConversationRepo) messagesFor(ctx context.Context, id string) ([]model.Message, error) {
	const query = `SELECT id, conversation_id, role, content, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY timestamp, id`

	rows, err := r.db.Reader.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", id, err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var role, ts string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = model.Role(role)
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse message timestamp: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var c model.Conversation
	var createdAt, updatedAt string

	err := row.Scan(
		&c.ID, &c.DisplayName,
		&c.Preferences.SystemPromptOverride, &c.Preferences.PersonaID, &c.Preferences.PersonaName,
		&c.Preferences.VoiceRef, &c.Preferences.AvatarRef,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &c, nil
}
