package dataflows

import (
	"context"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
)

// YahooClient fetches quotes and bar history from Yahoo Finance.
type YahooClient struct {
	retry *RetryConfig
}

// NewYahooClient creates a Yahoo Finance client with default retry behavior.
func NewYahooClient() *YahooClient {
	return &YahooClient{retry: DefaultRetryConfig()}
}

// GetHistory fetches bar history for a symbol over a named period. Bars come
// back oldest first.
func (yc *YahooClient) GetHistory(ctx context.Context, symbol, period string) (*HistoryPayload, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	start, end, err := PeriodRange(period, time.Now())
	if err != nil {
		return nil, err
	}
	interval := IntervalFor(period)

	var bars []*MarketData
	err = WithRetry(yc.retry, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: interval,
		}

		iter := chart.Get(params)

		bars = make([]*MarketData, 0)
		for iter.Next() {
			bar := iter.Bar()
			bars = append(bars, &MarketData{
				Symbol:    symbol,
				Date:      time.Unix(int64(bar.Timestamp), 0).UTC(),
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				AdjClose:  bar.AdjClose,
				Volume:    int64(bar.Volume),
				Timestamp: time.Now().UTC(),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no historical data for %s over %s", symbol, period)
	}

	return &HistoryPayload{
		Symbol:   symbol,
		Period:   period,
		Interval: string(interval),
		OHLCV:    bars,
	}, nil
}

// GetInfo fetches the current quote snapshot for a symbol. The equity
// endpoint carries the valuation fields (market cap, PE, EPS) the plain
// quote endpoint lacks.
func (yc *YahooClient) GetInfo(ctx context.Context, symbol string) (*CompanyInfo, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	var info *CompanyInfo
	err := WithRetry(yc.retry, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		eq, err := equity.Get(symbol)
		if err != nil {
			return fmt.Errorf("failed to get quote for %s: %w", symbol, err)
		}
		if eq == nil {
			return fmt.Errorf("no quote data for %s", symbol)
		}

		info = infoFromEquity(symbol, eq)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// infoFromEquity maps a Yahoo equity snapshot onto CompanyInfo. The session
// quote fields live on the embedded Quote; the valuation fields are
// equity-level.
func infoFromEquity(symbol string, eq *finance.Equity) *CompanyInfo {
	return &CompanyInfo{
		Symbol:        symbol,
		CompanyName:   eq.ShortName,
		Exchange:      eq.FullExchangeName,
		Currency:      eq.CurrencyID,
		MarketState:   string(eq.MarketState),
		Price:         eq.RegularMarketPrice,
		Open:          eq.RegularMarketOpen,
		DayHigh:       eq.RegularMarketDayHigh,
		DayLow:        eq.RegularMarketDayLow,
		PreviousClose: eq.RegularMarketPreviousClose,
		Volume:        int64(eq.RegularMarketVolume),
		MarketCap:     eq.MarketCap,
		FiftyDayAvg:   eq.FiftyDayAverage,
		TwoHundredAvg: eq.TwoHundredDayAverage,
		YearHigh:      eq.FiftyTwoWeekHigh,
		YearLow:       eq.FiftyTwoWeekLow,
		TrailingPE:    eq.TrailingPE,
		ForwardPE:     eq.ForwardPE,
		EPS:           eq.EpsTrailingTwelveMonths,
		QuoteType:     string(eq.QuoteType),
		FetchedAt:     time.Now().UTC(),
	}
}

// BuildSummary derives the period statistics of a summary from history and
// an optional quote snapshot. The quote wins for the current price when
// present; otherwise the last close stands in.
func BuildSummary(symbol, period string, history *HistoryPayload, info *CompanyInfo) *TickerSummary {
	s := &TickerSummary{
		Symbol:      NormalizeSymbol(symbol),
		Period:      period,
		Info:        info,
		GeneratedAt: time.Now().UTC(),
	}
	if history == nil || len(history.OHLCV) == 0 {
		return s
	}

	bars := history.OHLCV
	s.DataPoints = len(bars)
	s.PeriodOpen, _ = bars[0].Open.Float64()
	s.CurrentPrice, _ = bars[len(bars)-1].Close.Float64()
	if info != nil && info.Price > 0 {
		s.CurrentPrice = info.Price
	}

	high := bars[0].High
	low := bars[0].Low
	var volume int64
	for _, b := range bars {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
		volume += b.Volume
	}
	s.PeriodHigh, _ = high.Float64()
	s.PeriodLow, _ = low.Float64()
	s.AvgVolume = volume / int64(len(bars))

	if s.PeriodOpen != 0 {
		s.PercentChange = (s.CurrentPrice - s.PeriodOpen) / s.PeriodOpen * 100
	}
	return s
}
