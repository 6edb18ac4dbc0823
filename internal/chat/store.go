package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"legalease/internal/models"
)

// Store persists sessions and their messages.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSession returns the session record, creating it on first use.
func (s *Store) EnsureSession(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	session, err := s.getSession(ctx, id)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, "", now, now,
	); err != nil {
		// a concurrent request may have created it
		if existing, getErr := s.getSession(ctx, id); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &models.Session{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) getSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM chat_sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// LoadSession returns one session and its messages in conversation order.
func (s *Store) LoadSession(ctx context.Context, id string) (*models.Session, []models.Message, error) {
	session, err := s.getSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		id,
	)
	if err != nil {
		return session, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return session, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return session, messages, rows.Err()
}

// AppendMessage stores a message, touches the session and names it after its first question.
func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	title := ""
	if msg.Role == models.RoleUser {
		title = titleFrom(msg.Content)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ?, title = CASE WHEN title = '' THEN ? ELSE title END WHERE id = ?`,
		now, title, msg.SessionID,
	); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return &msg, nil
}

// DeleteSession removes a session with its messages and document records.
func (s *Store) DeleteSession(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}
