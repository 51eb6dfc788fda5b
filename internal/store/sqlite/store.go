// Package sqlite persists turns and users in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/model/user"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	phone      TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL CHECK (kind IN ('CLIENT', 'ASSISTANT')),
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_user_created ON turns(user_id, created_at, seq);
`

// Store implements chat.TurnStore and user.Store on SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers and keeps createdAt ties in rowid order.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With().Str("component", "sqlite").Logger()}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", path).Msg("turn store ready")
	return s, nil
}

// Migrate applies the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists a turn.
func (s *Store) Append(ctx context.Context, content string, kind chat.Kind, userID string) (chat.Turn, error) {
	if userID == "" {
		return chat.Turn{}, &chat.PersistenceError{Op: "append", Err: errors.New("user id is required")}
	}
	if !kind.Valid() {
		return chat.Turn{}, &chat.PersistenceError{Op: "append", Err: fmt.Errorf("invalid turn kind %q", kind)}
	}

	turn := chat.Turn{
		ID:        uuid.NewString(),
		Content:   content,
		Kind:      kind,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, user_id, kind, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.ID, turn.UserID, string(turn.Kind), turn.Content, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return chat.Turn{}, &chat.PersistenceError{Op: "append", Err: err}
	}
	return turn, nil
}

// ListByUser returns the turns of userID ordered by createdAt, ties by insertion.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, content, created_at FROM turns WHERE user_id = ? ORDER BY created_at ASC, seq ASC`,
		userID,
	)
	if err != nil {
		return nil, &chat.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0, 16)
	for rows.Next() {
		var (
			t         chat.Turn
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &kind, &t.Content, &createdAt); err != nil {
			return nil, &chat.PersistenceError{Op: "list", Err: err}
		}
		t.Kind = chat.Kind(kind)
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &chat.PersistenceError{Op: "list", Err: err}
	}
	return turns, nil
}

// CreateUser returns the user registered under phone, creating it when absent.
func (s *Store) CreateUser(ctx context.Context, name, phone string) (user.User, error) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" || phone == "" {
		return user.User{}, chat.ErrInvalidUser
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, phone, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(phone) DO NOTHING`,
		uuid.NewString(), name, phone, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return user.User{}, &chat.PersistenceError{Op: "create user", Err: err}
	}
	return s.FindByPhone(ctx, phone)
}

// FindByPhone looks a user up by phone number.
func (s *Store) FindByPhone(ctx context.Context, phone string) (user.User, error) {
	var (
		u         user.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, created_at FROM users WHERE phone = ?`,
		strings.TrimSpace(phone),
	).Scan(&u.ID, &u.Name, &u.Phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, chat.ErrUserNotFound
	}
	if err != nil {
		return user.User{}, &chat.PersistenceError{Op: "find user", Err: err}
	}
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	return u, nil
}
