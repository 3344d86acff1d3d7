package dataflows

import (
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go/datetime"
)

// RetryConfig configures retry behavior for upstream fetches.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// WithRetry executes a function with exponential backoff retry.
func WithRetry(config *RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(config.BaseDelay) *
				pow(config.Multiplier, float64(attempt-1)))
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
			time.Sleep(delay)
		}

		if err := fn(); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// pow is a simple power function for floats
func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// ValidateSymbol checks if a stock symbol is valid format
func ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	if len(symbol) == 0 {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 10 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	return nil
}

// NormalizeSymbol converts symbol to standard format
func NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}

// periodDays maps a named period to a calendar-day lookback window. ytd is
// resolved at call time; max uses a 20-year window, the practical upper
// bound of daily Yahoo data for most listings.
var periodDays = map[string]int{
	"1d":  1,
	"5d":  5,
	"1mo": 30,
	"3mo": 90,
	"6mo": 180,
	"1y":  365,
	"2y":  730,
	"5y":  1825,
	"10y": 3650,
	"max": 7300,
}

// ValidPeriods lists every period name the API accepts, in ascending order.
func ValidPeriods() []string {
	return []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max"}
}

// ValidatePeriod rejects period names outside the accepted set.
func ValidatePeriod(period string) error {
	if period == "ytd" {
		return nil
	}
	if _, ok := periodDays[period]; !ok {
		return fmt.Errorf("invalid period %q (valid: %s)", period, strings.Join(ValidPeriods(), ", "))
	}
	return nil
}

// PeriodRange converts a period name into a concrete [start, end) window
// anchored at now.
func PeriodRange(period string, now time.Time) (start, end time.Time, err error) {
	if err := ValidatePeriod(period); err != nil {
		return time.Time{}, time.Time{}, err
	}
	end = now
	if period == "ytd" {
		start = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		return start, end, nil
	}
	start = now.AddDate(0, 0, -periodDays[period])
	return start, end, nil
}

// IntervalFor picks the bar interval matching a period: intraday bars for
// day-scale windows, daily bars otherwise.
func IntervalFor(period string) datetime.Interval {
	switch period {
	case "1d":
		return datetime.FiveMins
	case "5d":
		return datetime.ThirtyMins
	default:
		return datetime.OneDay
	}
}
