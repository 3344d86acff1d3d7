package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
)

// Generator is the minimal chat-completion surface the services depend on.
// The production implementation wraps an eino ChatModel; tests substitute a
// canned generator.
type Generator interface {
	Generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error)
	ModelName() string
}

// Config configures the chat model client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Client wraps an eino OpenAI-compatible chat model with bounded retries on
// transient upstream failures.
type Client struct {
	model     *openai.ChatModel
	modelName string

	maxAttempts int
	baseDelay   time.Duration
}

// NewClient builds a chat model client. MaxTokens and Temperature are fixed
// at construction since every call site wants the same bounds.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key not configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("LLM model not configured")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}

	temperature := cfg.Temperature
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	return &Client{
		model:       chatModel,
		modelName:   cfg.Model,
		maxAttempts: 3,
		baseDelay:   2 * time.Second,
	}, nil
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return c.modelName }

// Generate runs one chat completion, retrying rate-limit and server errors
// with exponential backoff. Other failures surface immediately.
func (c *Client) Generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			log.Printf("llm: retrying in %v after: %v", delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		msg, err := c.model.Generate(ctx, messages)
		if err == nil {
			return msg, nil
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("chat completion after %d attempts: %w", c.maxAttempts, lastErr)
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, token := range []string{"429", "rate limit", "timeout", "500", "502", "503", "overloaded"} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
