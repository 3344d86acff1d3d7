package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// FinnhubClient handles Finnhub API operations.
type FinnhubClient struct {
	client *resty.Client
	apiKey string
	retry  *RetryConfig
}

// NewFinnhubClient creates a new Finnhub client. An empty apiKey yields a
// client whose calls fail fast with a configuration error.
func NewFinnhubClient(apiKey string) *FinnhubClient {
	client := resty.New()
	client.SetBaseURL("https://finnhub.io/api/v1")
	client.SetTimeout(30 * time.Second)

	return &FinnhubClient{
		client: client,
		apiKey: apiKey,
		retry:  DefaultRetryConfig(),
	}
}

// FinnhubNews represents news from Finnhub API.
type FinnhubNews struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Image    string `json:"image"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// GetCompanyNews gets news articles for a company over [from, to]. At most
// limit articles are returned, newest first as Finnhub orders them.
func (fc *FinnhubClient) GetCompanyNews(ctx context.Context, symbol string, from, to time.Time, limit int) ([]NewsArticle, error) {
	if fc.apiKey == "" {
		return nil, fmt.Errorf("Finnhub API key not configured")
	}
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	var result []NewsArticle
	err := WithRetry(fc.retry, func() error {
		resp, err := fc.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol": symbol,
				"from":   from.Format("2006-01-02"),
				"to":     to.Format("2006-01-02"),
				"token":  fc.apiKey,
			}).
			Get("/company-news")
		if err != nil {
			return fmt.Errorf("failed to fetch news for %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
		}

		var finnhubNews []FinnhubNews
		if err := json.Unmarshal(resp.Body(), &finnhubNews); err != nil {
			return fmt.Errorf("failed to parse news response: %w", err)
		}

		result = make([]NewsArticle, 0, len(finnhubNews))
		for _, news := range finnhubNews {
			if limit > 0 && len(result) >= limit {
				break
			}
			result = append(result, NewsArticle{
				Title:       news.Headline,
				Summary:     news.Summary,
				URL:         news.URL,
				Source:      news.Source,
				PublishedAt: time.Unix(news.DateTime, 0).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
