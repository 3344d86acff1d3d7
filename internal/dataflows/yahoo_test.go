package dataflows

import (
	"testing"

	finance "github.com/piquette/finance-go"
)

func TestInfoFromEquity(t *testing.T) {
	eq := &finance.Equity{
		Quote: finance.Quote{
			ShortName:                  "Apple Inc.",
			FullExchangeName:           "NasdaqGS",
			CurrencyID:                 "USD",
			RegularMarketPrice:         190.5,
			RegularMarketOpen:          188.0,
			RegularMarketDayHigh:       191.2,
			RegularMarketDayLow:        187.6,
			RegularMarketPreviousClose: 189.0,
			RegularMarketVolume:        52_000_000,
			FiftyDayAverage:            185.4,
			TwoHundredDayAverage:       178.9,
			FiftyTwoWeekHigh:           199.6,
			FiftyTwoWeekLow:            164.1,
		},
		MarketCap:               2_950_000_000_000,
		TrailingPE:              29.4,
		ForwardPE:               27.1,
		EpsTrailingTwelveMonths: 6.48,
	}

	info := infoFromEquity("AAPL", eq)

	if info.CompanyName != "Apple Inc." || info.Exchange != "NasdaqGS" {
		t.Errorf("name/exchange = %q/%q", info.CompanyName, info.Exchange)
	}
	if info.Price != 190.5 || info.PreviousClose != 189.0 {
		t.Errorf("price/prev close = %v/%v", info.Price, info.PreviousClose)
	}
	if info.Volume != 52_000_000 {
		t.Errorf("volume = %d, want 52000000", info.Volume)
	}
	// Valuation fields come off the equity level, not the embedded quote.
	if info.MarketCap != 2_950_000_000_000 {
		t.Errorf("market cap = %d", info.MarketCap)
	}
	if info.TrailingPE != 29.4 || info.ForwardPE != 27.1 || info.EPS != 6.48 {
		t.Errorf("valuation = %v/%v/%v, want 29.4/27.1/6.48", info.TrailingPE, info.ForwardPE, info.EPS)
	}
	if info.FiftyDayAvg != 185.4 || info.TwoHundredAvg != 178.9 {
		t.Errorf("averages = %v/%v", info.FiftyDayAvg, info.TwoHundredAvg)
	}
}
