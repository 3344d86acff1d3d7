package dataflows

import (
	"errors"
	"testing"
	"time"

	"github.com/piquette/finance-go/datetime"
	"github.com/shopspring/decimal"
)

func TestValidateSymbol(t *testing.T) {
	if err := ValidateSymbol("AAPL"); err != nil {
		t.Errorf("AAPL should be valid: %v", err)
	}
	if err := ValidateSymbol(" brk.b "); err != nil {
		t.Errorf("brk.b should be valid: %v", err)
	}
	if err := ValidateSymbol(""); err == nil {
		t.Error("empty symbol should be invalid")
	}
	if err := ValidateSymbol("WAYTOOLONGSYMBOL"); err == nil {
		t.Error("overlong symbol should be invalid")
	}
}

func TestValidatePeriod(t *testing.T) {
	for _, p := range ValidPeriods() {
		if err := ValidatePeriod(p); err != nil {
			t.Errorf("period %q should be valid: %v", p, err)
		}
	}
	if err := ValidatePeriod("2w"); err == nil {
		t.Error("period 2w should be invalid")
	}
	if err := ValidatePeriod(""); err == nil {
		t.Error("empty period should be invalid")
	}
}

func TestPeriodRange(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	start, end, err := PeriodRange("1mo", now)
	if err != nil {
		t.Fatalf("1mo: %v", err)
	}
	if !end.Equal(now) {
		t.Errorf("end = %v, want now", end)
	}
	if got := end.Sub(start); got != 30*24*time.Hour {
		t.Errorf("1mo window = %v, want 720h", got)
	}

	start, _, err = PeriodRange("ytd", now)
	if err != nil {
		t.Fatalf("ytd: %v", err)
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("ytd start = %v, want %v", start, want)
	}

	if _, _, err := PeriodRange("bogus", now); err == nil {
		t.Error("bogus period should error")
	}
}

func TestIntervalFor(t *testing.T) {
	if got := IntervalFor("1d"); got != datetime.FiveMins {
		t.Errorf("1d interval = %v, want 5m bars", got)
	}
	if got := IntervalFor("5d"); got != datetime.ThirtyMins {
		t.Errorf("5d interval = %v, want 30m bars", got)
	}
	if got := IntervalFor("1y"); got != datetime.OneDay {
		t.Errorf("1y interval = %v, want daily bars", got)
	}
}

func TestWithRetryEventualSuccess(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := WithRetry(cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryExhaustion(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	sentinel := errors.New("down")
	calls := 0
	err := WithRetry(cfg, func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapped sentinel", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestBuildSummary(t *testing.T) {
	d := func(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
	history := &HistoryPayload{
		Symbol: "AAPL",
		Period: "1mo",
		OHLCV: []*MarketData{
			{Open: d(100), High: d(105), Low: d(99), Close: d(104), Volume: 1000},
			{Open: d(104), High: d(112), Low: d(103), Close: d(110), Volume: 3000},
			{Open: d(110), High: d(111), Low: d(95), Close: d(108), Volume: 2000},
		},
	}

	s := BuildSummary("aapl", "1mo", history, nil)
	if s.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", s.Symbol)
	}
	if s.DataPoints != 3 {
		t.Errorf("data points = %d, want 3", s.DataPoints)
	}
	if s.PeriodOpen != 100 || s.CurrentPrice != 108 {
		t.Errorf("open/current = %v/%v, want 100/108", s.PeriodOpen, s.CurrentPrice)
	}
	if s.PeriodHigh != 112 || s.PeriodLow != 95 {
		t.Errorf("high/low = %v/%v, want 112/95", s.PeriodHigh, s.PeriodLow)
	}
	if s.AvgVolume != 2000 {
		t.Errorf("avg volume = %d, want 2000", s.AvgVolume)
	}
	if s.PercentChange != 8 {
		t.Errorf("percent change = %v, want 8", s.PercentChange)
	}

	// A live quote overrides the last close.
	s = BuildSummary("AAPL", "1mo", history, &CompanyInfo{Price: 120})
	if s.CurrentPrice != 120 {
		t.Errorf("current with quote = %v, want 120", s.CurrentPrice)
	}

	// Empty history yields a bare summary, not a panic.
	s = BuildSummary("AAPL", "1mo", &HistoryPayload{}, nil)
	if s.DataPoints != 0 {
		t.Errorf("empty history data points = %d, want 0", s.DataPoints)
	}
}
