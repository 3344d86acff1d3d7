package dataflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// ArticleScraper pulls readable body text out of news article pages so the
// sentiment analyzer has more than headlines to work with.
type ArticleScraper struct {
	client *resty.Client
	retry  *RetryConfig

	// maxChars caps extracted body text per article.
	maxChars int
}

// NewArticleScraper creates a scraper with a browser-ish user agent; many
// news sites reject the default Go client string outright.
func NewArticleScraper() *ArticleScraper {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; StockPulse/1.0)")

	return &ArticleScraper{
		client:   client,
		retry:    &RetryConfig{MaxRetries: 1, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2.0},
		maxChars: 4000,
	}
}

// FetchArticleText downloads an article page and extracts its paragraph
// text. Pages that yield no usable paragraphs return an error rather than
// empty content.
func (as *ArticleScraper) FetchArticleText(ctx context.Context, articleURL string) (string, error) {
	if strings.TrimSpace(articleURL) == "" {
		return "", fmt.Errorf("article URL cannot be empty")
	}

	var text string
	err := WithRetry(as.retry, func() error {
		resp, err := as.client.R().SetContext(ctx).Get(articleURL)
		if err != nil {
			return fmt.Errorf("failed to fetch article: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("HTTP error %d when fetching article", resp.StatusCode())
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
		if err != nil {
			return fmt.Errorf("failed to parse HTML: %w", err)
		}

		text = as.extractParagraphs(doc)
		if text == "" {
			return fmt.Errorf("no readable paragraphs in %s", articleURL)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// extractParagraphs prefers <article> content and falls back to all body
// paragraphs. Short fragments (menus, bylines, cookie banners) are dropped.
func (as *ArticleScraper) extractParagraphs(doc *goquery.Document) string {
	var parts []string
	collect := func(i int, s *goquery.Selection) {
		p := strings.TrimSpace(s.Text())
		if len(p) >= 60 {
			parts = append(parts, p)
		}
	}

	doc.Find("article p").Each(collect)
	if len(parts) == 0 {
		doc.Find("p").Each(collect)
	}

	text := strings.Join(parts, "\n\n")
	if len(text) > as.maxChars {
		text = text[:as.maxChars]
	}
	return text
}

// EnrichArticles fills Content for articles that only carry a summary. Each
// fetch is best effort; failures leave the article untouched. At most
// maxFetch articles are enriched to bound wall-clock time.
func (as *ArticleScraper) EnrichArticles(ctx context.Context, articles []NewsArticle, maxFetch int) []NewsArticle {
	fetched := 0
	for i := range articles {
		if fetched >= maxFetch {
			break
		}
		if articles[i].Content != "" || articles[i].URL == "" {
			continue
		}
		text, err := as.FetchArticleText(ctx, articles[i].URL)
		if err != nil {
			continue
		}
		articles[i].Content = text
		fetched++
	}
	return articles
}
