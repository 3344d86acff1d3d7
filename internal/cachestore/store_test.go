package cachestore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stockpulse/stockpulse/pkg/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, NewPolicy())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"ticker":"AAPL","price":190.5}`)

	if ok := s.SetStockData(ctx, "AAPL", "1mo", ClassInfo, payload); !ok {
		t.Fatal("set failed")
	}

	got, ok := s.GetStockData(ctx, "AAPL", "1mo", ClassInfo)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}
}

func TestGetMissOnWrongKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SetStockData(ctx, "AAPL", "1mo", ClassInfo, json.RawMessage(`{}`))

	if _, ok := s.GetStockData(ctx, "AAPL", "3mo", ClassInfo); ok {
		t.Error("expected miss for different scope")
	}
	if _, ok := s.GetStockData(ctx, "AAPL", "1mo", ClassSummary); ok {
		t.Error("expected miss for different data class")
	}
	if _, ok := s.GetStockData(ctx, "MSFT", "1mo", ClassInfo); ok {
		t.Error("expected miss for different subject")
	}
}

func TestSubjectCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SetStockData(ctx, "aapl", "1mo", ClassInfo, json.RawMessage(`{"v":1}`))

	if _, ok := s.GetStockData(ctx, "AAPL", "1mo", ClassInfo); !ok {
		t.Error("lowercase write should be readable with uppercase subject")
	}
	if _, ok := s.GetStockData(ctx, " aapl ", "1mo", ClassInfo); !ok {
		t.Error("whitespace around subject should not change the key")
	}
}

func TestExpiredEntryIsMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.SetStockData(ctx, "AAPL", "1mo", ClassHistory, json.RawMessage(`{"ohlcv":[]}`))

	// History TTL is one hour; one minute past expiry must read as a miss.
	s.now = func() time.Time { return base.Add(61 * time.Minute) }
	if _, ok := s.GetStockData(ctx, "AAPL", "1mo", ClassHistory); ok {
		t.Error("expired entry surfaced")
	}

	// The stale row stays on disk until the next write replaces it.
	stock, _, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stock != 1 {
		t.Errorf("stock rows = %d, want 1 (expired row left in place)", stock)
	}
}

func TestOverwriteKeepsSingleRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SetStockData(ctx, "AAPL", "1mo", ClassSummary, json.RawMessage(`{"v":1}`))
	s.SetStockData(ctx, "AAPL", "1mo", ClassSummary, json.RawMessage(`{"v":2}`))

	got, ok := s.GetStockData(ctx, "AAPL", "1mo", ClassSummary)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != `{"v":2}` {
		t.Errorf("payload = %s, want second write", got)
	}

	stock, _, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stock != 1 {
		t.Errorf("stock rows = %d, want 1 after overwrite", stock)
	}
}

func TestOverwriteSweepsExpiredRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.SetStockData(ctx, "AAPL", "1mo", ClassHistory, json.RawMessage(`{"v":1}`))

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	s.SetStockData(ctx, "AAPL", "1mo", ClassHistory, json.RawMessage(`{"v":2}`))

	stock, _, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stock != 1 {
		t.Errorf("stock rows = %d, want 1 (overwrite removes expired row)", stock)
	}
}

func TestSetFailureIsSoft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate a write failure by closing the underlying database.
	if err := s.db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	if ok := s.SetStockData(ctx, "AAPL", "1mo", ClassInfo, json.RawMessage(`{}`)); ok {
		t.Error("set against closed db should report failure")
	}
	if _, ok := s.GetStockData(ctx, "AAPL", "1mo", ClassInfo); ok {
		t.Error("get against closed db should report miss, not panic or error out")
	}
}

func TestSentimentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"analysis":"bullish on fundamentals"}`)

	id, ok := s.SetSentiment(ctx, "AAPL", "1mo", "gpt-4o-mini", payload, "bullish on fundamentals", 1234.5)
	if !ok {
		t.Fatal("set sentiment failed")
	}
	if id <= 0 {
		t.Fatalf("id = %d, want positive row id", id)
	}

	got, ok := s.GetSentiment(ctx, "aapl", "1mo", "gpt-4o-mini")
	if !ok {
		t.Fatal("expected sentiment hit")
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}

	// A different model is a different key.
	if _, ok := s.GetSentiment(ctx, "AAPL", "1mo", "deepseek-chat"); ok {
		t.Error("expected miss for different model")
	}
}

func TestSentimentExcerptTruncated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	id, ok := s.SetSentiment(ctx, "AAPL", "1mo", "gpt-4o-mini", json.RawMessage(`{}`), string(long), 0)
	if !ok {
		t.Fatal("set sentiment failed")
	}

	var excerpt string
	if err := s.db.QueryRowContext(ctx, `SELECT analysis_excerpt FROM sentiment_cache WHERE id = ?`, id).Scan(&excerpt); err != nil {
		t.Fatalf("read excerpt: %v", err)
	}
	if len(excerpt) != 1000 {
		t.Errorf("excerpt length = %d, want 1000", len(excerpt))
	}
}

func TestSentimentExcerptTruncatesOnRuneBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 1200 multi-byte runes; a byte-wise cut at 1000 would split one.
	long := strings.Repeat("é", 1200)
	id, ok := s.SetSentiment(ctx, "AAPL", "1mo", "gpt-4o-mini", json.RawMessage(`{}`), long, 0)
	if !ok {
		t.Fatal("set sentiment failed")
	}

	var excerpt string
	if err := s.db.QueryRowContext(ctx, `SELECT analysis_excerpt FROM sentiment_cache WHERE id = ?`, id).Scan(&excerpt); err != nil {
		t.Fatalf("read excerpt: %v", err)
	}
	if !utf8.ValidString(excerpt) {
		t.Error("truncated excerpt is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(excerpt); n != 1000 {
		t.Errorf("excerpt runes = %d, want 1000", n)
	}
}

func TestSentimentByIDIgnoresExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	id, ok := s.SetSentiment(ctx, "AAPL", "1mo", "gpt-4o-mini", json.RawMessage(`{"v":1}`), "", 0)
	if !ok {
		t.Fatal("set sentiment failed")
	}

	s.now = func() time.Time { return base.Add(7 * time.Hour) }

	if _, ok := s.GetSentiment(ctx, "AAPL", "1mo", "gpt-4o-mini"); ok {
		t.Error("keyed lookup should miss after expiry")
	}
	if !s.SentimentExists(ctx, id) {
		t.Error("row should still exist by id")
	}
	if _, ok := s.SentimentPayloadByID(ctx, id); !ok {
		t.Error("payload by id should ignore expiry")
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SetStockData(ctx, "AAPL", "1mo", ClassInfo, json.RawMessage(`{}`))
	s.SetSentiment(ctx, "AAPL", "1mo", "gpt-4o-mini", json.RawMessage(`{}`), "", 0)

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}

	stock, sentiment, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stock != 0 || sentiment != 0 {
		t.Errorf("counts after clear = (%d, %d), want (0, 0)", stock, sentiment)
	}
}
