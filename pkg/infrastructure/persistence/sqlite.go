// Package persistence provides the SQLite-backed adapters: the entity
// gateway, the conversation mirror, and the user directory.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	platform_user_id INTEGER NOT NULL UNIQUE,
	chat_id          INTEGER NOT NULL,
	username         TEXT NOT NULL DEFAULT '',
	first_name       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL REFERENCES users(id),
	title      TEXT NOT NULL,
	deadline   TIMESTAMP,
	reminded   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS finances (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL REFERENCES users(id),
	amount     REAL NOT NULL,
	type       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	comment    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL REFERENCES users(id),
	title      TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS moods (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL REFERENCES users(id),
	rating     INTEGER NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	comment    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	role    TEXT NOT NULL,
	text    TEXT NOT NULL,
	at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_user ON turns(user_id, seq);
`

// Store owns the SQLite database and implements entity.Gateway,
// entity.ReminderSource, conversation.Mirror, and the user directory.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// classify maps driver errors onto the domain taxonomy. Busy and locked are
// transient; everything else is surfaced as-is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked {
			return domain.Transient(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ---------------------------------------------------------------------------
// Entity gateway
// ---------------------------------------------------------------------------

// Create commits one draft in its own transaction. There is deliberately no
// cross-entity transaction: partial success across drafts from one update is
// expected and reported per entity.
func (s *Store) Create(ctx context.Context, draft entity.Draft, ownerID domain.EntityID) (*entity.PersistedEntity, error) {
	if ownerID.IsZero() {
		return nil, domain.Invalid(draft.Kind(), "owner", "missing owner id")
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	persisted := &entity.PersistedEntity{
		ID:        domain.NewID(),
		Kind:      draft.Kind(),
		OwnerID:   ownerID,
		Draft:     draft,
		CreatedAt: domain.Now(),
	}

	var err error
	switch d := draft.(type) {
	case entity.TaskDraft:
		var deadline interface{}
		if d.Deadline != nil {
			deadline = d.Deadline.UTC()
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO tasks (id, owner_id, title, deadline, created_at) VALUES (?, ?, ?, ?, ?)`,
			persisted.ID, ownerID, d.Title, deadline, persisted.CreatedAt.Time)
	case entity.FinanceDraft:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO finances (id, owner_id, amount, type, category, comment, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			persisted.ID, ownerID, d.Amount, d.Type, d.Category, d.Comment, persisted.CreatedAt.Time)
	case entity.NoteDraft:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO notes (id, owner_id, title, body, created_at) VALUES (?, ?, ?, ?, ?)`,
			persisted.ID, ownerID, d.Title, d.Body, persisted.CreatedAt.Time)
	case entity.MoodDraft:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO moods (id, owner_id, rating, label, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			persisted.ID, ownerID, d.Rating, d.Label, d.Comment, persisted.CreatedAt.Time)
	default:
		return nil, fmt.Errorf("unsupported draft type %T", draft)
	}

	if err != nil {
		return nil, classify("insert "+draft.Kind().String(), err)
	}
	return persisted, nil
}

// ---------------------------------------------------------------------------
// Reminder source
// ---------------------------------------------------------------------------

// DueTasks returns tasks whose deadline has passed and which have not been
// reminded about.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]entity.DueTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.owner_id, u.chat_id, t.title, t.deadline
		FROM tasks t JOIN users u ON u.id = t.owner_id
		WHERE t.reminded = 0 AND t.deadline IS NOT NULL AND t.deadline <= ?
		ORDER BY t.deadline`, now.UTC())
	if err != nil {
		return nil, classify("query due tasks", err)
	}
	defer rows.Close()

	var due []entity.DueTask
	for rows.Next() {
		var task entity.DueTask
		if err := rows.Scan(&task.ID, &task.OwnerID, &task.ChatID, &task.Title, &task.Deadline); err != nil {
			return nil, fmt.Errorf("scan due task: %w", err)
		}
		due = append(due, task)
	}
	return due, rows.Err()
}

// MarkReminded flags a task so it is reminded about at most once.
func (s *Store) MarkReminded(ctx context.Context, id domain.EntityID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET reminded = 1 WHERE id = ?`, id)
	return classify("mark reminded", err)
}

// ---------------------------------------------------------------------------
// Conversation mirror
// ---------------------------------------------------------------------------

// AppendTurn implements conversation.Mirror.
func (s *Store) AppendTurn(ctx context.Context, userID domain.EntityID, turn conversation.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (user_id, role, text, at) VALUES (?, ?, ?, ?)`,
		userID, turn.Role, turn.Text, turn.At.Time)
	return classify("append turn", err)
}

// RecentTurns implements conversation.Mirror: the newest limit turns for a
// user, oldest first.
func (s *Store) RecentTurns(ctx context.Context, userID domain.EntityID, limit int) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, text, at FROM turns
		WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, classify("query turns", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var turn conversation.Turn
		var at time.Time
		if err := rows.Scan(&turn.Role, &turn.Text, &at); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.At = domain.TimestampFrom(at)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first; callers want insertion order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ---------------------------------------------------------------------------
// User directory
// ---------------------------------------------------------------------------

// ResolveOrCreate maps a platform user id onto an internal id, creating the
// user record on first contact. Idempotent per platform id.
func (s *Store) ResolveOrCreate(ctx context.Context, platformUserID, chatID int64, hints domain.Metadata) (domain.EntityID, error) {
	var id domain.EntityID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE platform_user_id = ?`, platformUserID).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", classify("lookup user", err)
	}

	id = domain.NewID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, platform_user_id, chat_id, username, first_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform_user_id) DO NOTHING`,
		id, platformUserID, chatID, hints.Get("username"), hints.Get("first_name"), domain.Now().Time)
	if err != nil {
		return "", classify("create user", err)
	}

	// A concurrent insert may have won the conflict; read back the winner.
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE platform_user_id = ?`, platformUserID).Scan(&id); err != nil {
		return "", classify("reread user", err)
	}
	return id, nil
}

// Compile-time verification
var (
	_ entity.Gateway        = (*Store)(nil)
	_ entity.ReminderSource = (*Store)(nil)
	_ conversation.Mirror   = (*Store)(nil)
)
