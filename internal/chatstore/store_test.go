package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stockpulse/stockpulse/pkg/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref := int64(42)
	token, err := s.CreateSession(ctx, "aapl", "1mo", &ref)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if token == "" {
		t.Fatal("empty session token")
	}

	sess, err := s.GetActiveSession(ctx, token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess == nil {
		t.Fatal("expected active session")
	}
	if sess.Subject != "AAPL" {
		t.Errorf("subject = %q, want normalized AAPL", sess.Subject)
	}
	if !sess.SentimentRef.Valid || sess.SentimentRef.Int64 != 42 {
		t.Errorf("sentiment ref = %+v, want 42", sess.SentimentRef)
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != SessionTTL {
		t.Errorf("ttl = %v, want %v", got, SessionTTL)
	}
}

func TestUnknownTokenIsNil(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.GetActiveSession(context.Background(), "no-such-token")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess != nil {
		t.Error("unknown token should resolve to nil, not an error")
	}
}

func TestExpiredSessionIsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	token, err := s.CreateSession(ctx, "AAPL", "1mo", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	s.now = func() time.Time { return base.Add(25 * time.Hour) }

	sess, err := s.GetActiveSession(ctx, token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess != nil {
		t.Error("expired session should be indistinguishable from absent")
	}

	if _, err := s.AppendMessage(ctx, token, RoleUser, "hello", nil); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("append to expired session: err = %v, want ErrSessionInvalid", err)
	}
}

func TestAppendAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	token, err := s.CreateSession(ctx, "AAPL", "1mo", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	clock = base.Add(1 * time.Minute)
	if _, err := s.AppendMessage(ctx, token, RoleUser, "how is AAPL doing?", nil); err != nil {
		t.Fatalf("append user: %v", err)
	}

	clock = base.Add(2 * time.Minute)
	extra := json.RawMessage(`{"model":"gpt-4o-mini","tokens":120}`)
	if _, err := s.AppendMessage(ctx, token, RoleAssistant, "trading above its 50-day average", extra); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.History(ctx, token, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("history order = [%s, %s], want oldest first", msgs[0].Role, msgs[1].Role)
	}
	if string(msgs[1].Extra) != string(extra) {
		t.Errorf("extra = %s, want %s", msgs[1].Extra, extra)
	}

	// Appending touches the session.
	sess, err := s.GetActiveSession(ctx, token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.UpdatedAt.After(sess.CreatedAt) {
		t.Errorf("updated_at %v should advance past created_at %v", sess.UpdatedAt, sess.CreatedAt)
	}
}

func TestHistoryLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	token, err := s.CreateSession(ctx, "AAPL", "1mo", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Minute)
		if _, err := s.AppendMessage(ctx, token, RoleUser, "msg", nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := s.History(ctx, token, 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("history length = %d, want 3", len(msgs))
	}
}

func TestInvalidRoleRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token, err := s.CreateSession(ctx, "AAPL", "1mo", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := s.AppendMessage(ctx, token, "narrator", "hm", nil); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token, err := s.CreateSession(ctx, "AAPL", "1mo", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := s.AppendMessage(ctx, token, RoleUser, "hello", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.DeleteSession(ctx, token); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	sessions, messages, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if sessions != 0 || messages != 0 {
		t.Errorf("counts after delete = (%d, %d), want (0, 0)", sessions, messages)
	}
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	oldToken, err := s.CreateSession(ctx, "AAPL", "1mo", nil)
	if err != nil {
		t.Fatalf("create old session: %v", err)
	}
	if _, err := s.AppendMessage(ctx, oldToken, RoleUser, "stale", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.now = func() time.Time { return base.Add(25 * time.Hour) }

	freshToken, err := s.CreateSession(ctx, "MSFT", "1mo", nil)
	if err != nil {
		t.Fatalf("create fresh session: %v", err)
	}

	// CreateSession already purged opportunistically; a second purge finds
	// nothing left to remove.
	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 0 {
		t.Errorf("second purge removed %d sessions, want 0", n)
	}

	if sess, _ := s.GetActiveSession(ctx, oldToken); sess != nil {
		t.Error("old session should have been purged")
	}
	if sess, _ := s.GetActiveSession(ctx, freshToken); sess == nil {
		t.Error("fresh session should survive the purge")
	}

	sessions, messages, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if sessions != 1 {
		t.Errorf("sessions = %d, want 1", sessions)
	}
	if messages != 0 {
		t.Errorf("messages = %d, want 0 (purge removes the session's messages)", messages)
	}
}

func TestPurgeExpiredDirect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	for _, sym := range []string{"AAPL", "MSFT", "GOOG"} {
		if _, err := s.CreateSession(ctx, sym, "1mo", nil); err != nil {
			t.Fatalf("create %s: %v", sym, err)
		}
	}

	s.now = func() time.Time { return base.Add(25 * time.Hour) }

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 3 {
		t.Errorf("purged = %d, want 3", n)
	}
}
