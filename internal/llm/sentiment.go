package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/stockpulse/stockpulse/internal/dataflows"
)

// Disclaimer accompanies every analysis the service hands out.
const Disclaimer = "This analysis is generated by an AI model for informational purposes only and is not financial advice."

// Sentiment labels.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

// TechnicalContext holds the indicator snapshot fed into the prompt and
// echoed back in the analysis payload.
type TechnicalContext struct {
	CurrentPrice  float64 `json:"current_price"`
	MA20          float64 `json:"ma_20"`
	MA50          float64 `json:"ma_50"`
	MA200         float64 `json:"ma_200"`
	RSI14         float64 `json:"rsi_14"`
	PeriodHigh    float64 `json:"period_high"`
	PeriodLow     float64 `json:"period_low"`
	PercentChange float64 `json:"percent_change"`
	DataPoints    int     `json:"data_points"`
}

// Analysis is the structured result of a sentiment run.
type Analysis struct {
	Ticker       string            `json:"ticker"`
	Period       string            `json:"period"`
	Model        string            `json:"model"`
	Sentiment    string            `json:"sentiment"`
	Analysis     string            `json:"analysis"`
	Technical    *TechnicalContext `json:"technical_context,omitempty"`
	NewsCount    int               `json:"news_count"`
	ProcessingMs float64           `json:"processing_time_ms"`
	Disclaimer   string            `json:"disclaimer"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// Analyzer runs LLM sentiment analysis over price history and news.
type Analyzer struct {
	chat Generator

	// maxHeadlines bounds the news section of the prompt.
	maxHeadlines int
}

// NewAnalyzer wires an analyzer to a chat generator.
func NewAnalyzer(chat Generator) *Analyzer {
	return &Analyzer{chat: chat, maxHeadlines: 10}
}

// Analyze builds the prompt from technicals and news, runs the model, and
// labels the response. Processing time covers the full run including the
// model call.
func (a *Analyzer) Analyze(ctx context.Context, ticker, period string, history *dataflows.HistoryPayload, news []dataflows.NewsArticle) (*Analysis, error) {
	started := time.Now()

	tech := ComputeTechnicalContext(history)
	prompt := a.buildPrompt(ticker, period, tech, news)

	msg, err := a.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage("You are a seasoned equity analyst. Ground every claim in the data provided. Be direct about uncertainty."),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return nil, fmt.Errorf("sentiment analysis for %s: %w", ticker, err)
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, fmt.Errorf("sentiment analysis for %s: empty model response", ticker)
	}

	return &Analysis{
		Ticker:       dataflows.NormalizeSymbol(ticker),
		Period:       period,
		Model:        a.chat.ModelName(),
		Sentiment:    extractSentiment(content),
		Analysis:     content,
		Technical:    tech,
		NewsCount:    len(news),
		ProcessingMs: float64(time.Since(started).Milliseconds()),
		Disclaimer:   Disclaimer,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

func (a *Analyzer) buildPrompt(ticker, period string, tech *TechnicalContext, news []dataflows.NewsArticle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the market sentiment for %s over the %s period.\n\n", dataflows.NormalizeSymbol(ticker), period)

	if tech != nil {
		b.WriteString("Technical snapshot:\n")
		fmt.Fprintf(&b, "- Current price: %.2f (%.2f%% over the period)\n", tech.CurrentPrice, tech.PercentChange)
		fmt.Fprintf(&b, "- Period range: %.2f - %.2f\n", tech.PeriodLow, tech.PeriodHigh)
		if tech.MA20 > 0 {
			fmt.Fprintf(&b, "- 20-day MA: %.2f\n", tech.MA20)
		}
		if tech.MA50 > 0 {
			fmt.Fprintf(&b, "- 50-day MA: %.2f\n", tech.MA50)
		}
		if tech.MA200 > 0 {
			fmt.Fprintf(&b, "- 200-day MA: %.2f\n", tech.MA200)
		}
		if tech.RSI14 > 0 {
			fmt.Fprintf(&b, "- RSI(14): %.1f\n", tech.RSI14)
		}
		b.WriteString("\n")
	}

	if len(news) > 0 {
		b.WriteString("Recent headlines:\n")
		for i, article := range news {
			if i >= a.maxHeadlines {
				break
			}
			line := article.Title
			if article.Summary != "" {
				line += " - " + article.Summary
			}
			fmt.Fprintf(&b, "- %s (%s)\n", line, article.Source)
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with:\n")
	b.WriteString("SENTIMENT: one of bullish, bearish, neutral\n")
	b.WriteString("ANALYSIS: 3-5 paragraphs covering price action, technicals, and news drivers\n")
	b.WriteString("RISKS: the main risks to this view\n")
	return b.String()
}

// extractSentiment reads the SENTIMENT: line; when the model free-forms it
// falls back to a keyword scan of the opening of the response.
func extractSentiment(content string) string {
	for _, line := range strings.Split(content, "\n") {
		upper := strings.ToUpper(strings.TrimSpace(line))
		if !strings.HasPrefix(upper, "SENTIMENT:") {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(upper, "SENTIMENT:")))
		switch {
		case strings.Contains(label, SentimentBullish):
			return SentimentBullish
		case strings.Contains(label, SentimentBearish):
			return SentimentBearish
		case strings.Contains(label, SentimentNeutral):
			return SentimentNeutral
		}
	}

	head := strings.ToLower(content)
	if len(head) > 400 {
		head = head[:400]
	}
	switch {
	case strings.Contains(head, SentimentBullish):
		return SentimentBullish
	case strings.Contains(head, SentimentBearish):
		return SentimentBearish
	default:
		return SentimentNeutral
	}
}

// ComputeTechnicalContext derives moving averages, RSI, and period extremes
// from bar history. Indicators whose window exceeds the history stay zero.
func ComputeTechnicalContext(history *dataflows.HistoryPayload) *TechnicalContext {
	if history == nil || len(history.OHLCV) == 0 {
		return nil
	}

	bars := history.OHLCV
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
	}

	tech := &TechnicalContext{
		CurrentPrice: closes[len(closes)-1],
		MA20:         trailingMean(closes, 20),
		MA50:         trailingMean(closes, 50),
		MA200:        trailingMean(closes, 200),
		RSI14:        rsi(closes, 14),
		DataPoints:   len(bars),
	}

	high, _ := bars[0].High.Float64()
	low, _ := bars[0].Low.Float64()
	for _, b := range bars {
		if h, _ := b.High.Float64(); h > high {
			high = h
		}
		if l, _ := b.Low.Float64(); l < low && l > 0 {
			low = l
		}
	}
	tech.PeriodHigh = high
	tech.PeriodLow = low

	if first := closes[0]; first != 0 {
		tech.PercentChange = (tech.CurrentPrice - first) / first * 100
	}
	return tech
}

// trailingMean averages the last window closes, or 0 when history is short.
func trailingMean(closes []float64, window int) float64 {
	if len(closes) < window {
		return 0
	}
	var sum float64
	for _, c := range closes[len(closes)-window:] {
		sum += c
	}
	return sum / float64(window)
}

// rsi computes Wilder's relative strength index over the last window moves.
func rsi(closes []float64, window int) float64 {
	if len(closes) < window+1 {
		return 0
	}

	var gains, losses float64
	recent := closes[len(closes)-window-1:]
	for i := 1; i < len(recent); i++ {
		delta := recent[i] - recent[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100
	}
	rs := (gains / float64(window)) / (losses / float64(window))
	return 100 - 100/(1+rs)
}
