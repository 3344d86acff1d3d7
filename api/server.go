// Package api provides the HTTP REST API server for StockPulse.
//
// It exposes endpoints for market data, LLM sentiment analysis, price
// forecasting, ticker-scoped chat sessions, and WebSocket streaming of
// analysis progress.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/stockpulse/stockpulse/internal/chatstore"
	"github.com/stockpulse/stockpulse/internal/dataflows"
	"github.com/stockpulse/stockpulse/internal/forecast"
	"github.com/stockpulse/stockpulse/internal/service"
)

// MarketAPI is the market data surface the server depends on.
type MarketAPI interface {
	History(ctx context.Context, symbol, period string) (*dataflows.HistoryPayload, bool, error)
	Info(ctx context.Context, symbol string) (*dataflows.CompanyInfo, bool, error)
	Summary(ctx context.Context, symbol, period string) (*dataflows.TickerSummary, bool, error)
	ExtendedSummary(ctx context.Context, symbol, period string) (*dataflows.TickerSummary, bool, error)
}

// SentimentAPI runs sentiment analyses.
type SentimentAPI interface {
	Analyze(ctx context.Context, ticker, period string) (*service.SentimentResult, error)
}

// ChatAPI manages chat sessions and turns.
type ChatAPI interface {
	StartSession(ctx context.Context, ticker, period string) (*service.SessionInfo, error)
	ProcessMessage(ctx context.Context, token, content string) (*service.ChatReply, error)
	History(ctx context.Context, token string, limit int) ([]chatstore.Message, error)
	EndSession(ctx context.Context, token string) error
}

// ForecastAPI runs price predictions.
type ForecastAPI interface {
	Predict(ctx context.Context, ticker, model string, days int, period string) (*forecast.Prediction, error)
	Models() []forecast.ModelInfo
}

// AdminAPI exposes maintenance operations.
type AdminAPI interface {
	ClearAll(ctx context.Context) (*service.ClearReport, error)
}

// Services bundles everything the server serves.
type Services struct {
	Market    MarketAPI
	Sentiment SentimentAPI
	Chat      ChatAPI
	Forecast  ForecastAPI
	Admin     AdminAPI
}

// Server is the HTTP API server.
type Server struct {
	router      chi.Router
	svc         Services
	corsOrigins []string
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(svc Services, corsOrigins []string) *Server {
	s := &Server{svc: svc, corsOrigins: corsOrigins}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown on SIGINT
// and SIGTERM.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("api: listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("api: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(180 * time.Second))

	origins := []string{"*"}
	if len(s.corsOrigins) > 0 {
		origins = s.corsOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/financial", func(r chi.Router) {
			r.Get("/models", s.handleModels)
			r.Post("/predict", s.handlePredict)
			r.Get("/{ticker}", s.handleInfo)
			r.Get("/{ticker}/history", s.handleHistory)
			r.Get("/{ticker}/summary", s.handleSummary)
			r.Get("/{ticker}/sentiment", s.handleSentiment)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Post("/sessions", s.handleStartSession)
			r.Post("/message", s.handleChatMessage)
			r.Get("/sessions/{sessionID}/messages", s.handleChatHistory)
			r.Delete("/sessions/{sessionID}", s.handleEndSession)
		})

		r.Post("/admin/clear-all", s.handleClearAll)

		r.Get("/ws/sentiment/{ticker}", s.handleSentimentWS)
	})

	return r
}

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Cached  *bool       `json:"cached,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

func writeCached(w http.ResponseWriter, data interface{}, cached bool) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Cached:  &cached,
	})
}
