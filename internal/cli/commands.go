// Package cli wires configuration, storage, data sources, and the HTTP
// server into the stockpulse command tree.
package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/stockpulse/stockpulse/api"
	"github.com/stockpulse/stockpulse/config"
	"github.com/stockpulse/stockpulse/internal/cachestore"
	"github.com/stockpulse/stockpulse/internal/chatstore"
	"github.com/stockpulse/stockpulse/internal/dataflows"
	"github.com/stockpulse/stockpulse/internal/forecast"
	"github.com/stockpulse/stockpulse/internal/llm"
	"github.com/stockpulse/stockpulse/internal/service"
	"github.com/stockpulse/stockpulse/pkg/sqlite"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "stockpulse",
		Short: "StockPulse - market data, sentiment, and forecast backend",
		Long: `StockPulse serves cached stock market data, LLM sentiment analysis,
price forecasts, and ticker-scoped chat sessions over a REST API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newPurgeCmd(&configPath))
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func newPurgeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired chat sessions and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			db, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			sessions, err := chatstore.NewStore(db)
			if err != nil {
				return err
			}

			n, err := sessions.PurgeExpired(cmd.Context())
			if err != nil {
				return fmt.Errorf("purge (removed %d before failing): %w", n, err)
			}
			fmt.Printf("purged %d expired sessions\n", n)
			return nil
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available forecast models",
		Run: func(cmd *cobra.Command, args []string) {
			for _, m := range forecast.NewRegistry().List() {
				marker := " "
				if m.Default {
					marker = "*"
				}
				fmt.Printf("%s %-12s %s\n", marker, m.Name, m.Description)
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("StockPulse v1.0.0")
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cache, err := cachestore.NewStore(db, cachestore.NewPolicy())
	if err != nil {
		return err
	}
	sessions, err := chatstore.NewStore(db)
	if err != nil {
		return err
	}

	yahoo := dataflows.NewYahooClient()
	finnhub := dataflows.NewFinnhubClient(cfg.FinnhubAPIKey)
	market := service.NewMarketService(cache, yahoo, yahoo, finnhub)

	var scraper *dataflows.ArticleScraper
	if cfg.ScrapeArticles {
		scraper = dataflows.NewArticleScraper()
	}

	svc := api.Services{
		Market:   market,
		Forecast: service.NewForecastService(market, forecast.NewRegistry()),
		Admin:    service.NewAdminService(cache, sessions),
	}

	// Sentiment and chat come up only when an LLM is configured; the data
	// endpoints work without one.
	if cfg.HasLLM() {
		chatClient, err := llm.NewClient(context.Background(), llm.Config{
			BaseURL:     cfg.LLMBaseURL,
			APIKey:      cfg.LLMAPIKey,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
		})
		if err != nil {
			return fmt.Errorf("init LLM client: %w", err)
		}

		sentiment := service.NewSentimentService(cache, market, llm.NewAnalyzer(chatClient), scraper, chatClient.ModelName())
		svc.Sentiment = sentiment
		svc.Chat = service.NewChatService(sessions, cache, sentiment, chatClient)
	} else {
		log.Println("no LLM API key configured; sentiment and chat endpoints disabled")
	}

	return api.NewServer(svc, cfg.CORSOrigins).ListenAndServe(cfg.ListenAddr)
}
