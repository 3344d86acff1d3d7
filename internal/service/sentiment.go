package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/stockpulse/stockpulse/internal/cachestore"
	"github.com/stockpulse/stockpulse/internal/dataflows"
	"github.com/stockpulse/stockpulse/internal/llm"
)

// SentimentResult is the envelope handed to API callers. AnalysisID is the
// cache row a chat session can anchor to; it is zero when the cache write
// failed and the analysis is ephemeral.
type SentimentResult struct {
	*llm.Analysis
	AnalysisID int64 `json:"analysis_id,omitempty"`
	Cached     bool  `json:"cached"`
}

// SentimentAnalyzer runs one LLM analysis; tests substitute a canned one.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, ticker, period string, history *dataflows.HistoryPayload, news []dataflows.NewsArticle) (*llm.Analysis, error)
}

// SentimentService computes LLM sentiment over cached market data, caching
// the analysis itself keyed by model so switching models never serves a
// stale cross-model result.
type SentimentService struct {
	cache    *cachestore.Store
	market   *MarketService
	analyzer SentimentAnalyzer
	scraper  *dataflows.ArticleScraper
	model    string
}

// NewSentimentService wires the sentiment pipeline. scraper may be nil to
// skip article body enrichment.
func NewSentimentService(cache *cachestore.Store, market *MarketService, analyzer SentimentAnalyzer, scraper *dataflows.ArticleScraper, model string) *SentimentService {
	return &SentimentService{
		cache:    cache,
		market:   market,
		analyzer: analyzer,
		scraper:  scraper,
		model:    model,
	}
}

// Model returns the model identifier this service analyzes with.
func (ss *SentimentService) Model() string { return ss.model }

// Analyze returns the sentiment analysis for a ticker and period, serving
// from cache when a fresh analysis for this model exists.
func (ss *SentimentService) Analyze(ctx context.Context, ticker, period string) (*SentimentResult, error) {
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	if err := dataflows.ValidatePeriod(period); err != nil {
		return nil, err
	}
	ticker = dataflows.NormalizeSymbol(ticker)

	if raw, ok := ss.cache.GetSentiment(ctx, ticker, period, ss.model); ok {
		var analysis llm.Analysis
		if err := json.Unmarshal(raw, &analysis); err == nil {
			result := &SentimentResult{Analysis: &analysis, Cached: true}
			if id, ok := ss.cache.SentimentID(ctx, ticker, period, ss.model); ok {
				result.AnalysisID = id
			}
			return result, nil
		}
		log.Printf("sentiment: corrupt cached analysis for %s/%s/%s, recomputing", ticker, period, ss.model)
	}

	history, _, err := ss.market.History(ctx, ticker, period)
	if err != nil {
		return nil, fmt.Errorf("sentiment inputs: %w", err)
	}

	news, err := ss.market.News(ctx, ticker, 10)
	if err != nil {
		// News is an input enrichment, not a prerequisite.
		log.Printf("sentiment: news for %s unavailable: %v", ticker, err)
		news = nil
	}
	if ss.scraper != nil && len(news) > 0 {
		news = ss.scraper.EnrichArticles(ctx, news, 3)
	}

	analysis, err := ss.analyzer.Analyze(ctx, ticker, period, history, news)
	if err != nil {
		return nil, err
	}

	result := &SentimentResult{Analysis: analysis}
	raw, err := json.Marshal(analysis)
	if err != nil {
		log.Printf("sentiment: marshal analysis for %s: %v", ticker, err)
		return result, nil
	}
	if id, ok := ss.cache.SetSentiment(ctx, ticker, period, ss.model, raw, excerptOf(analysis), analysis.ProcessingMs); ok {
		result.AnalysisID = id
	}
	return result, nil
}

// CachedAnalysisID resolves the current analysis row for a ticker and
// period under this service's model, for anchoring chat sessions.
func (ss *SentimentService) CachedAnalysisID(ctx context.Context, ticker, period string) (int64, bool) {
	return ss.cache.SentimentID(ctx, ticker, period, ss.model)
}

func excerptOf(a *llm.Analysis) string {
	return a.Analysis
}

// ProcessingBudget is the ceiling a caller should allow for one analysis,
// covering upstream fetches, scraping, and the model call.
const ProcessingBudget = 2 * time.Minute
