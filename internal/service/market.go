package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stockpulse/stockpulse/internal/cachestore"
	"github.com/stockpulse/stockpulse/internal/dataflows"
)

// infoScope is the scope stored for quote snapshots, which have no period.
const infoScope = "info"

// HistoryFetcher fetches bar history from an upstream source.
type HistoryFetcher interface {
	GetHistory(ctx context.Context, symbol, period string) (*dataflows.HistoryPayload, error)
}

// InfoFetcher fetches quote snapshots from an upstream source.
type InfoFetcher interface {
	GetInfo(ctx context.Context, symbol string) (*dataflows.CompanyInfo, error)
}

// NewsFetcher fetches company news from an upstream source.
type NewsFetcher interface {
	GetCompanyNews(ctx context.Context, symbol string, from, to time.Time, limit int) ([]dataflows.NewsArticle, error)
}

// MarketService serves price data cache-aside: every read consults the
// cache first and every upstream fetch is written back, with write failures
// degrading to uncached responses.
type MarketService struct {
	cache   *cachestore.Store
	history HistoryFetcher
	info    InfoFetcher
	news    NewsFetcher

	// subFetchTimeout bounds each branch of the extended summary.
	subFetchTimeout time.Duration
}

// NewMarketService wires the market service to its cache and fetchers.
func NewMarketService(cache *cachestore.Store, history HistoryFetcher, info InfoFetcher, news NewsFetcher) *MarketService {
	return &MarketService{
		cache:           cache,
		history:         history,
		info:            info,
		news:            news,
		subFetchTimeout: 10 * time.Second,
	}
}

// History returns bar history for a symbol over a period, cached under the
// history class. The second return reports whether the cache served it.
func (ms *MarketService) History(ctx context.Context, symbol, period string) (*dataflows.HistoryPayload, bool, error) {
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false, err
	}
	if err := dataflows.ValidatePeriod(period); err != nil {
		return nil, false, err
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	if raw, ok := ms.cache.GetStockData(ctx, symbol, period, cachestore.ClassHistory); ok {
		var payload dataflows.HistoryPayload
		if err := json.Unmarshal(raw, &payload); err == nil {
			return &payload, true, nil
		}
		log.Printf("market: corrupt cached history for %s/%s, refetching", symbol, period)
	}

	payload, err := ms.history.GetHistory(ctx, symbol, period)
	if err != nil {
		return nil, false, fmt.Errorf("fetch history: %w", err)
	}

	if raw, err := json.Marshal(payload); err == nil {
		ms.cache.SetStockData(ctx, symbol, period, cachestore.ClassHistory, raw)
	}
	return payload, false, nil
}

// Info returns the quote snapshot for a symbol, cached under the info class.
func (ms *MarketService) Info(ctx context.Context, symbol string) (*dataflows.CompanyInfo, bool, error) {
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false, err
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	if raw, ok := ms.cache.GetStockData(ctx, symbol, infoScope, cachestore.ClassInfo); ok {
		var info dataflows.CompanyInfo
		if err := json.Unmarshal(raw, &info); err == nil {
			return &info, true, nil
		}
		log.Printf("market: corrupt cached info for %s, refetching", symbol)
	}

	info, err := ms.info.GetInfo(ctx, symbol)
	if err != nil {
		return nil, false, fmt.Errorf("fetch info: %w", err)
	}

	if raw, err := json.Marshal(info); err == nil {
		ms.cache.SetStockData(ctx, symbol, infoScope, cachestore.ClassInfo, raw)
	}
	return info, false, nil
}

// Summary returns period statistics derived from history plus the live
// quote, cached under the summary class with the period as scope.
func (ms *MarketService) Summary(ctx context.Context, symbol, period string) (*dataflows.TickerSummary, bool, error) {
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false, err
	}
	if err := dataflows.ValidatePeriod(period); err != nil {
		return nil, false, err
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	if raw, ok := ms.cache.GetStockData(ctx, symbol, period, cachestore.ClassSummary); ok {
		var summary dataflows.TickerSummary
		if err := json.Unmarshal(raw, &summary); err == nil {
			return &summary, true, nil
		}
		log.Printf("market: corrupt cached summary for %s/%s, refetching", symbol, period)
	}

	history, _, err := ms.History(ctx, symbol, period)
	if err != nil {
		return nil, false, err
	}

	// The quote is decoration here; a slow or failing quote endpoint must
	// not sink the summary.
	info, _, err := ms.Info(ctx, symbol)
	if err != nil {
		log.Printf("market: summary quote for %s unavailable: %v", symbol, err)
	}

	summary := dataflows.BuildSummary(symbol, period, history, info)
	if raw, err := json.Marshal(summary); err == nil {
		ms.cache.SetStockData(ctx, symbol, period, cachestore.ClassSummary, raw)
	}
	return summary, false, nil
}

// ExtendedSummary adds news and bar data to the summary, fetching branches
// concurrently. Each branch gets its own wall-clock budget and degrades to
// its zero value on timeout, so partial data still ships.
func (ms *MarketService) ExtendedSummary(ctx context.Context, symbol, period string) (*dataflows.TickerSummary, bool, error) {
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false, err
	}
	if err := dataflows.ValidatePeriod(period); err != nil {
		return nil, false, err
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	if raw, ok := ms.cache.GetStockData(ctx, symbol, period, cachestore.ClassSummaryExt); ok {
		var summary dataflows.TickerSummary
		if err := json.Unmarshal(raw, &summary); err == nil {
			return &summary, true, nil
		}
		log.Printf("market: corrupt cached extended summary for %s/%s, refetching", symbol, period)
	}

	var (
		history *dataflows.HistoryPayload
		info    *dataflows.CompanyInfo
		news    []dataflows.NewsArticle
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, _, err := ms.History(gctx, symbol, period)
		if err != nil {
			return err
		}
		history = h
		return nil
	})
	g.Go(func() error {
		i, err := ms.fetchInfoBounded(gctx, symbol)
		if err != nil {
			log.Printf("market: extended summary info for %s: %v", symbol, err)
			return nil
		}
		info = i
		return nil
	})
	g.Go(func() error {
		n, err := ms.fetchNewsBounded(gctx, symbol)
		if err != nil {
			log.Printf("market: extended summary news for %s: %v", symbol, err)
			return nil
		}
		news = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	summary := dataflows.BuildSummary(symbol, period, history, info)
	summary.News = news
	summary.OHLCV = history.OHLCV

	if raw, err := json.Marshal(summary); err == nil {
		ms.cache.SetStockData(ctx, symbol, period, cachestore.ClassSummaryExt, raw)
	}
	return summary, false, nil
}

// News returns recent company news over the trailing week without caching;
// callers needing cached news go through ExtendedSummary.
func (ms *MarketService) News(ctx context.Context, symbol string, limit int) ([]dataflows.NewsArticle, error) {
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	now := time.Now()
	return ms.news.GetCompanyNews(ctx, symbol, now.AddDate(0, 0, -7), now, limit)
}

func (ms *MarketService) fetchInfoBounded(ctx context.Context, symbol string) (*dataflows.CompanyInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, ms.subFetchTimeout)
	defer cancel()
	// Cache-aside still applies inside the budget.
	info, _, err := ms.Info(ctx, symbol)
	return info, err
}

func (ms *MarketService) fetchNewsBounded(ctx context.Context, symbol string) ([]dataflows.NewsArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, ms.subFetchTimeout)
	defer cancel()
	now := time.Now()
	return ms.news.GetCompanyNews(ctx, symbol, now.AddDate(0, 0, -7), now, 10)
}
