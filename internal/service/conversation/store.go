package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"yasmin/internal/apperr"
	"yasmin/internal/models"
	"yasmin/internal/storage"
)

const DefaultTitleLimit = 30

// Store persists conversations and their messages.
type Store struct {
	db         *sql.DB
	driver     string
	now        func() time.Time
	newID      func() string
	titleLimit int
}

type Option func(*Store)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTitleLimit sets how many runes of the first user message become the title.
func WithTitleLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.titleLimit = n
		}
	}
}

// NewStore builds a Store over an already migrated database.
func NewStore(db *sql.DB, driver string, opts ...Option) *Store {
	s := &Store{
		db:         db,
		driver:     driver,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
		titleLimit: DefaultTitleLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) q(query string) string {
	return storage.Rebind(s.driver, query)
}

// forUpdate locks the conversation row on engines that support row locks.
func (s *Store) forUpdate() string {
	if s.driver == storage.DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrPersistence, err)
}

func notFound(id string) error {
	return fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
}

// parseID collapses malformed and unknown ids into the same NotFound outcome.
func parseID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", notFound(id)
	}
	return parsed.String(), nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// CreateConversation inserts a new conversation. A blank title gets the placeholder.
func (s *Store) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultTitle
	}
	now := s.now()
	conv := &models.Conversation{ID: s.newID(), Title: title, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, persistErr("create conversation", err)
	}
	return conv, nil
}

// ListConversations returns all conversations, most recently active first.
func (s *Store) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC, created_at DESC`)
	if err != nil {
		return nil, persistErr("list conversations", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, persistErr("scan conversation", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list conversations", err)
	}
	return conversations, nil
}

// GetConversation returns one conversation with its ordered messages.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.ConversationDetail, error) {
	convID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var detail models.ConversationDetail
	err = s.db.QueryRowContext(ctx,
		s.q(`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`), convID,
	).Scan(&detail.ID, &detail.Title, &detail.CreatedAt, &detail.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, persistErr("get conversation", err)
	}
	detail.Messages, err = s.listMessages(ctx, s.db, convID)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// History returns the ordered messages of a conversation.
func (s *Store) History(ctx context.Context, id string) ([]*models.Message, error) {
	detail, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail.Messages, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) listMessages(ctx context.Context, db queryer, convID string) ([]*models.Message, error) {
	rows, err := db.QueryContext(ctx,
		s.q(`SELECT id, conversation_id, role, content, created_at, feedback, metadata
			FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, seq ASC`), convID)
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list messages", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		m        models.Message
		feedback sql.NullBool
		metadata sql.NullString
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt, &feedback, &metadata); err != nil {
		return nil, persistErr("scan message", err)
	}
	if feedback.Valid {
		v := feedback.Bool
		m.Feedback = &v
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, persistErr("decode message metadata", err)
		}
	}
	return &m, nil
}

func encodeMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode message metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// AppendMessage stores a message and bumps the conversation's updated_at in one
// transaction. The first user message of a conversation still carrying the
// placeholder title also renames it.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, metadata map[string]any) (*models.Message, error) {
	convID, err := parseID(conversationID)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("role %q: %w", role, apperr.ErrValidation)
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}

	msg := &models.Message{
		ID:             s.newID(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var title string
		err := tx.QueryRowContext(ctx,
			s.q(`SELECT title FROM conversations WHERE id = ?`+s.forUpdate()), convID,
		).Scan(&title)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(conversationID)
			}
			return persistErr("lock conversation", err)
		}

		if role == models.RoleUser && title == models.DefaultTitle {
			var prior int
			if err := tx.QueryRowContext(ctx,
				s.q(`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = ?`),
				convID, models.RoleUser,
			).Scan(&prior); err != nil {
				return persistErr("count user messages", err)
			}
			if prior == 0 {
				if derived := DeriveTitle(content, s.titleLimit); derived != "" {
					title = derived
				}
			}
		}

		now := s.now()
		msg.CreatedAt = now
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO messages (id, conversation_id, role, content, created_at, feedback, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			msg.ID, convID, string(role), content, now, nil, meta,
		); err != nil {
			return persistErr("insert message", err)
		}
		if _, err := tx.ExecContext(ctx,
			s.q(`UPDATE conversations SET updated_at = ?, title = ? WHERE id = ?`),
			now, title, convID,
		); err != nil {
			return persistErr("touch conversation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	convID, err := parseID(id)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM messages WHERE conversation_id = ?`), convID); err != nil {
			return persistErr("delete messages", err)
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE id = ?`), convID)
		if err != nil {
			return persistErr("delete conversation", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return persistErr("conversation rows affected", err)
		}
		if affected == 0 {
			return notFound(id)
		}
		return nil
	})
}

// ClearMessages deletes every message, resets the title and bumps updated_at.
func (s *Store) ClearMessages(ctx context.Context, id string) error {
	convID, err := parseID(id)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`),
			models.DefaultTitle, s.now(), convID,
		)
		if err != nil {
			return persistErr("reset conversation", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return persistErr("conversation rows affected", err)
		}
		if affected == 0 {
			return notFound(id)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM messages WHERE conversation_id = ?`), convID); err != nil {
			return persistErr("clear messages", err)
		}
		return nil
	})
}

// RegenerateLastAssistant overwrites the newest message in place. It fails
// with ErrConflict when that message is not an assistant reply.
func (s *Store) RegenerateLastAssistant(ctx context.Context, conversationID, content string, metadata map[string]any) (*models.Message, error) {
	convID, err := parseID(conversationID)
	if err != nil {
		return nil, err
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}

	var msg *models.Message
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			s.q(`SELECT 1 FROM conversations WHERE id = ?`+s.forUpdate()), convID,
		).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(conversationID)
			}
			return persistErr("lock conversation", err)
		}

		row := tx.QueryRowContext(ctx,
			s.q(`SELECT id, conversation_id, role, content, created_at, feedback, metadata
				FROM messages WHERE conversation_id = ?
				ORDER BY created_at DESC, seq DESC LIMIT 1`),
			convID,
		)
		last, err := scanMessage(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("assistant message in %s: %w", conversationID, apperr.ErrNotFound)
			}
			return err
		}
		// Moving the timestamp of an older reply would reorder it past later turns.
		if last.Role != models.RoleAssistant {
			return fmt.Errorf("newest message in %s is from %s: %w", conversationID, last.Role, apperr.ErrConflict)
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx,
			s.q(`UPDATE messages SET content = ?, metadata = ?, created_at = ? WHERE id = ?`),
			content, meta, now, last.ID,
		); err != nil {
			return persistErr("regenerate message", err)
		}
		if _, err := tx.ExecContext(ctx,
			s.q(`UPDATE conversations SET updated_at = ? WHERE id = ?`), now, convID,
		); err != nil {
			return persistErr("touch conversation", err)
		}
		last.Content = content
		last.Metadata = metadata
		last.CreatedAt = now
		msg = last
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// SetFeedback records whether the user found a message helpful.
func (s *Store) SetFeedback(ctx context.Context, conversationID, messageID string, helpful bool) error {
	convID, err := parseID(conversationID)
	if err != nil {
		return err
	}
	msgID, err := uuid.Parse(strings.TrimSpace(messageID))
	if err != nil {
		return fmt.Errorf("message %s: %w", messageID, apperr.ErrNotFound)
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE messages SET feedback = ? WHERE id = ? AND conversation_id = ?`),
		helpful, msgID.String(), convID,
	)
	if err != nil {
		return persistErr("set feedback", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistErr("message rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("message %s: %w", messageID, apperr.ErrNotFound)
	}
	return nil
}
