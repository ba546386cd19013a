// Package history persists per-user conversation state: the selected
// answering mode, the rolling message history fed back into completion
// calls, and the handle of the user's current uploaded attachment.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultMaxTurns is how many user/model turn pairs are kept per user.
const DefaultMaxTurns = 10

// DefaultMode is assigned to users who never picked a mode.
const DefaultMode = "fast"

// Turn is one stored history entry.
type Turn struct {
	Role    string
	Content string
}

// Attachment is the handle of a user's current uploaded file.
type Attachment struct {
	Name     string // remote file name, used for deletion
	URI      string // prompt-embeddable URI
	MIMEType string
}

// Store is a SQLite-backed history store.
type Store struct {
	db       *sql.DB
	maxTurns int
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxTurns overrides how many turn pairs are kept per user.
func WithMaxTurns(n int) Option {
	return func(s *Store) {
		s.maxTurns = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens (or creates) the store at the given path.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			mode            TEXT NOT NULL DEFAULT 'fast',
			attachment_name TEXT NOT NULL DEFAULT '',
			attachment_uri  TEXT NOT NULL DEFAULT '',
			attachment_mime TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS history (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			role    TEXT NOT NULL,
			content TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_user ON history(user_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history tables: %w", err)
	}

	s := &Store{
		db:       db,
		maxTurns: DefaultMaxTurns,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Mode returns the user's selected mode, creating the user row with the
// default mode on first contact.
func (s *Store) Mode(ctx context.Context, userID string) (string, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM users WHERE id = ?`, userID).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO users (id, mode) VALUES (?, ?)`, userID, DefaultMode); err != nil {
			return "", fmt.Errorf("create user: %w", err)
		}
		return DefaultMode, nil
	}
	if err != nil {
		return "", fmt.Errorf("read user mode: %w", err)
	}
	return mode, nil
}

// SetMode persists the user's mode selection.
func (s *Store) SetMode(ctx context.Context, userID string, mode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, mode) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET mode = excluded.mode
	`, userID, mode)
	if err != nil {
		return fmt.Errorf("set user mode: %w", err)
	}
	s.logger.Info("mode updated", "user", userID, "mode", mode)
	return nil
}

// Append records one turn and trims the user's history to the configured
// window so prompts stay bounded.
func (s *Store) Append(ctx context.Context, userID string, role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (user_id, role, content) VALUES (?, ?, ?)`,
		userID, role, content); err != nil {
		return fmt.Errorf("insert history row: %w", err)
	}

	// Keep the most recent maxTurns pairs.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM history WHERE user_id = ? ORDER BY id DESC LIMIT ?
		)
	`, userID, userID, s.maxTurns*2); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	return tx.Commit()
}

// History returns the user's stored turns, oldest first.
func (s *Store) History(ctx context.Context, userID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM history WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Clear removes the user's history.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.logger.Info("history cleared", "user", userID)
	return nil
}

// Attachment returns the user's current uploaded file handle, or nil when
// none is stored.
func (s *Store) Attachment(ctx context.Context, userID string) (*Attachment, error) {
	var a Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT attachment_name, attachment_uri, attachment_mime
		FROM users WHERE id = ?
	`, userID).Scan(&a.Name, &a.URI, &a.MIMEType)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && a.URI == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return &a, nil
}

// SetAttachment stores the user's current uploaded file handle,
// replacing any previous one. Pass nil to clear.
func (s *Store) SetAttachment(ctx context.Context, userID string, a *Attachment) error {
	if a == nil {
		a = &Attachment{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, mode, attachment_name, attachment_uri, attachment_mime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attachment_name = excluded.attachment_name,
			attachment_uri  = excluded.attachment_uri,
			attachment_mime = excluded.attachment_mime
	`, userID, DefaultMode, a.Name, a.URI, a.MIMEType)
	if err != nil {
		return fmt.Errorf("set attachment: %w", err)
	}
	return nil
}
