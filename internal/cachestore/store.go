package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

const excerptLimit = 1000

// Store persists opaque JSON payloads keyed by (subject, scope, data class)
// with per-class expiry, plus the sentiment variant keyed by model. Reads
// never surface expired rows; writes replace any prior row for the key.
//
// All store errors on the read path degrade to a cache miss, and all errors
// on the write path degrade to a reported-but-swallowed failure: the caller
// is expected to recompute and carry on.
type Store struct {
	db     *sql.DB
	policy *Policy

	// now is swapped in tests to simulate expiry.
	now func() time.Time
}

// NewStore creates the cache tables if needed and returns a ready store.
func NewStore(db *sql.DB, policy *Policy) (*Store, error) {
	if policy == nil {
		policy = NewPolicy()
	}
	s := &Store{db: db, policy: policy, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS stock_data_cache (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    subject TEXT NOT NULL,
    scope TEXT NOT NULL,
    data_class TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    data_points INTEGER
);

CREATE INDEX IF NOT EXISTS idx_cache_lookup ON stock_data_cache(subject, scope, data_class);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON stock_data_cache(expires_at);

CREATE TABLE IF NOT EXISTS sentiment_cache (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    subject TEXT NOT NULL,
    scope TEXT NOT NULL,
    model TEXT NOT NULL,
    analysis_payload TEXT NOT NULL,
    analysis_excerpt TEXT,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    processing_ms REAL
);

CREATE INDEX IF NOT EXISTS idx_sentiment_lookup ON sentiment_cache(subject, scope, model);
CREATE INDEX IF NOT EXISTS idx_sentiment_expires ON sentiment_cache(expires_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

// GetStockData returns the payload of the newest unexpired entry for the
// (subject, scope, class) triple, or ok=false on miss. Expired rows are
// never surfaced but are left in place until the next write.
func (s *Store) GetStockData(ctx context.Context, subject, scope string, class DataClass) (json.RawMessage, bool) {
	subject = NormalizeSubject(subject)

	var payload []byte
	err := s.db.QueryRowContext(ctx, `
SELECT payload FROM stock_data_cache
WHERE subject = ? AND scope = ? AND data_class = ? AND expires_at > ?
ORDER BY created_at DESC
LIMIT 1
`, subject, scope, string(class), s.now()).Scan(&payload)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("cache: get %s/%s/%s: %v", subject, scope, class, err)
		}
		return nil, false
	}
	return json.RawMessage(payload), true
}

// SetStockData replaces any entry for the triple with a fresh one whose
// expiry follows the class TTL. It reports false on persistence failure;
// the write is rolled back and callers proceed as if nothing was cached.
func (s *Store) SetStockData(ctx context.Context, subject, scope string, class DataClass, payload json.RawMessage) bool {
	subject = NormalizeSubject(subject)
	createdAt := s.now()
	expiresAt := createdAt.Add(s.policy.TTL(class))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("cache: set %s/%s/%s begin: %v", subject, scope, class, err)
		return false
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM stock_data_cache WHERE subject = ? AND scope = ? AND data_class = ?
`, subject, scope, string(class)); err != nil {
		log.Printf("cache: set %s/%s/%s delete: %v", subject, scope, class, err)
		return false
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO stock_data_cache (subject, scope, data_class, payload, created_at, expires_at, data_points)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, subject, scope, string(class), string(payload), createdAt, expiresAt, sizeHint(class, payload)); err != nil {
		log.Printf("cache: set %s/%s/%s insert: %v", subject, scope, class, err)
		return false
	}

	if err := tx.Commit(); err != nil {
		log.Printf("cache: set %s/%s/%s commit: %v", subject, scope, class, err)
		return false
	}
	return true
}

// sizeHint counts sub-elements for payloads where that is meaningful
// (OHLCV row count for history). Informational only.
func sizeHint(class DataClass, payload json.RawMessage) any {
	if class != ClassHistory {
		return nil
	}
	var probe struct {
		OHLCV []json.RawMessage `json:"ohlcv"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.OHLCV == nil {
		return nil
	}
	return len(probe.OHLCV)
}

// GetSentiment returns the cached analysis payload for (subject, scope,
// model), or ok=false on miss or store error.
func (s *Store) GetSentiment(ctx context.Context, subject, scope, model string) (json.RawMessage, bool) {
	subject = NormalizeSubject(subject)

	var payload []byte
	err := s.db.QueryRowContext(ctx, `
SELECT analysis_payload FROM sentiment_cache
WHERE subject = ? AND scope = ? AND model = ? AND expires_at > ?
ORDER BY created_at DESC
LIMIT 1
`, subject, scope, model, s.now()).Scan(&payload)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("cache: sentiment get %s/%s/%s: %v", subject, scope, model, err)
		}
		return nil, false
	}
	return json.RawMessage(payload), true
}

// SetSentiment replaces the cached analysis for (subject, scope, model).
// excerpt is truncated to 1000 characters; processingMs may be zero when
// unknown. The returned id is the row identifier chat sessions reference
// weakly; id is 0 when the write failed.
func (s *Store) SetSentiment(ctx context.Context, subject, scope, model string, payload json.RawMessage, excerpt string, processingMs float64) (int64, bool) {
	subject = NormalizeSubject(subject)
	createdAt := s.now()
	expiresAt := createdAt.Add(s.policy.TTL(ClassSentiment))

	// Truncate by rune so a multi-byte character is never split.
	if r := []rune(excerpt); len(r) > excerptLimit {
		excerpt = string(r[:excerptLimit])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("cache: sentiment set %s/%s/%s begin: %v", subject, scope, model, err)
		return 0, false
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM sentiment_cache WHERE subject = ? AND scope = ? AND model = ?
`, subject, scope, model); err != nil {
		log.Printf("cache: sentiment set %s/%s/%s delete: %v", subject, scope, model, err)
		return 0, false
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO sentiment_cache (subject, scope, model, analysis_payload, analysis_excerpt, created_at, expires_at, processing_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, subject, scope, model, string(payload), excerpt, createdAt, expiresAt, processingMs)
	if err != nil {
		log.Printf("cache: sentiment set %s/%s/%s insert: %v", subject, scope, model, err)
		return 0, false
	}

	id, err := res.LastInsertId()
	if err != nil {
		log.Printf("cache: sentiment set %s/%s/%s id: %v", subject, scope, model, err)
		return 0, false
	}

	if err := tx.Commit(); err != nil {
		log.Printf("cache: sentiment set %s/%s/%s commit: %v", subject, scope, model, err)
		return 0, false
	}
	return id, true
}

// SentimentID returns the row id of the newest unexpired analysis for
// (subject, scope, model), for callers that want to reference the row
// rather than read it.
func (s *Store) SentimentID(ctx context.Context, subject, scope, model string) (int64, bool) {
	subject = NormalizeSubject(subject)

	var id int64
	err := s.db.QueryRowContext(ctx, `
SELECT id FROM sentiment_cache
WHERE subject = ? AND scope = ? AND model = ? AND expires_at > ?
ORDER BY created_at DESC
LIMIT 1
`, subject, scope, model, s.now()).Scan(&id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("cache: sentiment id %s/%s/%s: %v", subject, scope, model, err)
		}
		return 0, false
	}
	return id, true
}

// SentimentExists reports whether a sentiment row with the given id is
// present, regardless of expiry. Chat sessions hold only a weak reference,
// so a vanished row is not an error for callers.
func (s *Store) SentimentExists(ctx context.Context, id int64) bool {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sentiment_cache WHERE id = ?`, id).Scan(&one)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("cache: sentiment exists %d: %v", id, err)
		}
		return false
	}
	return true
}

// SentimentPayloadByID returns the analysis payload for a sentiment row by
// its identifier, ignoring expiry: a chat session may keep discussing an
// analysis after its cache entry has gone stale.
func (s *Store) SentimentPayloadByID(ctx context.Context, id int64) (json.RawMessage, bool) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT analysis_payload FROM sentiment_cache WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("cache: sentiment by id %d: %v", id, err)
		}
		return nil, false
	}
	return json.RawMessage(payload), true
}

// Counts returns the current row counts of both cache tables.
func (s *Store) Counts(ctx context.Context) (stock, sentiment int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_data_cache`).Scan(&stock); err != nil {
		return 0, 0, fmt.Errorf("count stock cache: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sentiment_cache`).Scan(&sentiment); err != nil {
		return 0, 0, fmt.Errorf("count sentiment cache: %w", err)
	}
	return stock, sentiment, nil
}

// ClearAll drops every cached row from both tables.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear cache begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_data_cache`); err != nil {
		return fmt.Errorf("clear stock cache: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sentiment_cache`); err != nil {
		return fmt.Errorf("clear sentiment cache: %w", err)
	}
	return tx.Commit()
}
