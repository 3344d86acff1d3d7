package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionTTL is the fixed lifetime of a chat session.
const SessionTTL = 24 * time.Hour

// ErrSessionInvalid is returned when a session token does not resolve to an
// active (unexpired) session. An expired session is indistinguishable from a
// nonexistent one on every read path.
var ErrSessionInvalid = errors.New("invalid or expired session")

// Valid message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session is a chat conversation anchored to a ticker, a period, and
// (weakly) a previously computed sentiment analysis.
type Session struct {
	ID           int64
	Token        string
	Subject      string
	Scope        string
	SentimentRef sql.NullInt64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time
}

// Message is one turn of a conversation. Extra carries opaque metadata
// (model name, token count, latency) as JSON.
type Message struct {
	ID           int64
	SessionToken string
	Role         string
	Content      string
	CreatedAt    time.Time
	Extra        json.RawMessage
}

// Store persists chat sessions and their messages. Sessions expire after a
// fixed 24h TTL; messages are removed only when their owning session is
// deleted. The cascade is an explicit two-step delete (messages, then
// session) inside one transaction rather than a schema-level cascade.
type Store struct {
	db *sql.DB

	// now is swapped in tests to simulate expiry.
	now func() time.Time
}

// NewStore creates the session tables if needed and returns a ready store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS chat_sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL UNIQUE,
    subject TEXT NOT NULL,
    scope TEXT NOT NULL,
    sentiment_ref INTEGER,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_subject ON chat_sessions(subject);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON chat_sessions(expires_at);

CREATE TABLE IF NOT EXISTS chat_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    extra TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created ON chat_messages(session_id, created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init chat schema: %w", err)
	}
	return nil
}

// CreateSession purges expired sessions opportunistically, then persists a
// new session with a fresh token and the fixed TTL. Purge failure never
// blocks creation. sentimentRef may be nil; when set it is stored even if
// the referenced analysis later disappears (weak reference).
func (s *Store) CreateSession(ctx context.Context, subject, scope string, sentimentRef *int64) (string, error) {
	if _, err := s.PurgeExpired(ctx); err != nil {
		log.Printf("chat: purge before create: %v", err)
	}

	subject = strings.ToUpper(strings.TrimSpace(subject))
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}

	token := uuid.NewString()
	now := s.now()

	var ref any
	if sentimentRef != nil {
		ref = *sentimentRef
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_sessions (session_id, subject, scope, sentiment_ref, created_at, updated_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, token, subject, scope, ref, now, now, now.Add(SessionTTL))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return token, nil
}

// GetActiveSession resolves a token to its session only while the session
// is unexpired; otherwise it returns (nil, nil).
func (s *Store) GetActiveSession(ctx context.Context, token string) (*Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, session_id, subject, scope, sentiment_ref, created_at, updated_at, expires_at
FROM chat_sessions
WHERE session_id = ? AND expires_at > ?
LIMIT 1
`, token, s.now())

	var sess Session
	if err := row.Scan(&sess.ID, &sess.Token, &sess.Subject, &sess.Scope, &sess.SentimentRef,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// AppendMessage inserts a message for an active session and touches the
// session's updated_at, committing both in one transaction. The session
// must be active; an expired or unknown token yields ErrSessionInvalid.
func (s *Store) AppendMessage(ctx context.Context, token, role, content string, extra json.RawMessage) (*Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return nil, fmt.Errorf("invalid message role %q", role)
	}

	sess, err := s.GetActiveSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionInvalid
	}

	now := s.now()
	var extraStr any
	if len(extra) > 0 {
		extraStr = string(extra)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append message begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO chat_messages (session_id, role, content, created_at, extra)
VALUES (?, ?, ?, ?, ?)
`, token, role, content, now, extraStr)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE chat_sessions SET updated_at = ? WHERE session_id = ?
`, now, token); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append message commit: %w", err)
	}

	id, _ := res.LastInsertId()
	return &Message{
		ID:           id,
		SessionToken: token,
		Role:         role,
		Content:      content,
		CreatedAt:    now,
		Extra:        extra,
	}, nil
}

// History returns up to limit messages of a session, oldest first.
func (s *Store) History(ctx context.Context, token string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, role, content, created_at, extra
FROM chat_messages
WHERE session_id = ?
ORDER BY created_at ASC, id ASC
LIMIT ?
`, token, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var extra sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionToken, &m.Role, &m.Content, &m.CreatedAt, &extra); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if extra.Valid {
			m.Extra = json.RawMessage(extra.String)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages rows: %w", err)
	}
	return msgs, nil
}

// PurgeExpired removes every session whose expiry has passed, along with
// its messages. Each session is removed in its own transaction, so a
// failure mid-batch leaves earlier removals in place and the returned count
// reflects what was actually deleted.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id FROM chat_sessions WHERE expires_at <= ?
`, s.now())
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired session: %w", err)
		}
		tokens = append(tokens, token)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("expired sessions rows: %w", err)
	}

	purged := 0
	for _, token := range tokens {
		if err := s.DeleteSession(ctx, token); err != nil {
			return purged, fmt.Errorf("purge session %s: %w", token, err)
		}
		purged++
	}
	return purged, nil
}

// DeleteSession removes a session and all of its messages in one
// transaction: messages first, then the session row.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, token); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// Counts returns the current row counts of both chat tables.
func (s *Store) Counts(ctx context.Context) (sessions, messages int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions`).Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&messages); err != nil {
		return 0, 0, fmt.Errorf("count messages: %w", err)
	}
	return sessions, messages, nil
}

// ClearAll drops every session and message.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear chat begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return tx.Commit()
}
