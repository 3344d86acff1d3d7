package dataflows

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketData represents one bar of stock price data.
type MarketData struct {
	Symbol    string          `json:"symbol"`
	Date      time.Time       `json:"date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	AdjClose  decimal.Decimal `json:"adj_close"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// CompanyInfo is the lightweight quote snapshot served on the ticker info
// endpoint. Missing upstream fields keep their zero values.
type CompanyInfo struct {
	Symbol        string    `json:"symbol"`
	CompanyName   string    `json:"company_name"`
	Exchange      string    `json:"exchange"`
	Currency      string    `json:"currency"`
	MarketState   string    `json:"market_state"`
	Price         float64   `json:"regular_market_price"`
	Open          float64   `json:"regular_market_open"`
	DayHigh       float64   `json:"regular_market_day_high"`
	DayLow        float64   `json:"regular_market_day_low"`
	PreviousClose float64   `json:"regular_market_previous_close"`
	Volume        int64     `json:"regular_market_volume"`
	MarketCap     int64     `json:"market_cap"`
	FiftyDayAvg   float64   `json:"fifty_day_average"`
	TwoHundredAvg float64   `json:"two_hundred_day_average"`
	YearHigh      float64   `json:"fifty_two_week_high"`
	YearLow       float64   `json:"fifty_two_week_low"`
	TrailingPE    float64   `json:"trailing_pe"`
	ForwardPE     float64   `json:"forward_pe"`
	EPS           float64   `json:"eps_trailing_twelve_months"`
	QuoteType     string    `json:"quote_type"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// TickerSummary aggregates everything the summary endpoint returns in one
// pass: current quote, bar history, and derived period statistics. Info and
// News are filled only by the extended summary.
type TickerSummary struct {
	Symbol        string        `json:"symbol"`
	Period        string        `json:"period"`
	CurrentPrice  float64       `json:"current_price"`
	PeriodOpen    float64       `json:"period_open"`
	PeriodHigh    float64       `json:"period_high"`
	PeriodLow     float64       `json:"period_low"`
	PercentChange float64       `json:"percent_change"`
	AvgVolume     int64         `json:"avg_volume"`
	DataPoints    int           `json:"data_points"`
	Info          *CompanyInfo  `json:"info,omitempty"`
	News          []NewsArticle `json:"news,omitempty"`
	OHLCV         []*MarketData `json:"ohlcv,omitempty"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

// NewsArticle represents a news item about a company.
type NewsArticle struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// HistoryPayload is the cacheable envelope for a history fetch.
type HistoryPayload struct {
	Symbol   string        `json:"symbol"`
	Period   string        `json:"period"`
	Interval string        `json:"interval"`
	OHLCV    []*MarketData `json:"ohlcv"`
}
