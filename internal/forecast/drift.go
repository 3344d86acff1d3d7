package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/stockpulse/stockpulse/internal/dataflows"
)

const driftModelName = "drift-v1"

// minTrainingBars is the floor below which drift and volatility estimates
// are too noisy to publish.
const minTrainingBars = 10

// DriftModel forecasts by extrapolating the mean daily log return of the
// training window, with confidence bands that widen by the square root of
// the horizon. It is deliberately simple: a baseline other models must beat.
type DriftModel struct{}

// NewDriftModel returns the baseline drift predictor.
func NewDriftModel() *DriftModel { return &DriftModel{} }

func (m *DriftModel) Name() string { return driftModelName }

func (m *DriftModel) Description() string {
	return "Random-walk-with-drift baseline: mean log return extrapolation with volatility bands"
}

// Predict extrapolates days business days forward from the last close.
func (m *DriftModel) Predict(ctx context.Context, history *dataflows.HistoryPayload, days int) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("forecast days must be positive, got %d", days)
	}
	if history == nil || len(history.OHLCV) < minTrainingBars {
		n := 0
		if history != nil {
			n = len(history.OHLCV)
		}
		return nil, fmt.Errorf("need at least %d bars to fit, got %d", minTrainingBars, n)
	}

	bars := history.OHLCV
	closes := make([]float64, len(bars))
	for i, b := range bars {
		c, _ := b.Close.Float64()
		if c <= 0 {
			return nil, fmt.Errorf("non-positive close at bar %d", i)
		}
		closes[i] = c
	}

	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns[i-1] = math.Log(closes[i] / closes[i-1])
	}

	drift := mean(returns)
	vol := stddev(returns, drift)
	mae := fitMAE(closes, drift)

	current := closes[len(closes)-1]
	lastDate := bars[len(bars)-1].Date

	prices := make([]float64, days)
	upper := make([]float64, days)
	lower := make([]float64, days)
	dates := make([]string, days)

	price := current
	date := lastDate
	for i := 0; i < days; i++ {
		price *= math.Exp(drift)
		// 95% band under a normal return assumption, widening with horizon.
		band := 1.96 * vol * math.Sqrt(float64(i+1))
		prices[i] = round2(price)
		upper[i] = round2(price * math.Exp(band))
		lower[i] = round2(price * math.Exp(-band))
		date = nextBusinessDay(date)
		dates[i] = date.Format("2006-01-02")
	}

	final := prices[len(prices)-1]
	return &Prediction{
		Ticker:         history.Symbol,
		Model:          driftModelName,
		CurrentPrice:   round2(current),
		ForecastPrice:  final,
		PercentChange:  round2((final - current) / current * 100),
		ForecastDates:  dates,
		ForecastPrices: prices,
		UpperBound:     upper,
		LowerBound:     lower,
		Metrics: Metrics{
			DailyDrift:      drift,
			DailyVolatility: vol,
			MAE:             round2(mae),
		},
		TrainingPoints: len(bars),
		ForecastDays:   days,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}

// fitMAE measures the one-step-ahead absolute error of the drift model over
// the training window.
func fitMAE(closes []float64, drift float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(closes); i++ {
		predicted := closes[i-1] * math.Exp(drift)
		sum += math.Abs(closes[i] - predicted)
	}
	return sum / float64(len(closes)-1)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// nextBusinessDay skips weekends; exchange holidays are not modeled.
func nextBusinessDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
