package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stockpulse/stockpulse/internal/dataflows"
	"github.com/stockpulse/stockpulse/internal/service"
)

const defaultPeriod = "1mo"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// tickerAndPeriod pulls and validates the ticker path param and period
// query param. A written response means the caller should return.
func tickerAndPeriod(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ticker := chi.URLParam(r, "ticker")
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = defaultPeriod
	}
	if err := dataflows.ValidatePeriod(period); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return dataflows.NormalizeSymbol(ticker), period, true
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	info, cached, err := s.svc.Market.Info(ctx, ticker)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeCached(w, info, cached)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ticker, period, ok := tickerAndPeriod(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	history, cached, err := s.svc.Market.History(ctx, ticker, period)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeCached(w, history, cached)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ticker, period, ok := tickerAndPeriod(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	var (
		summary *dataflows.TickerSummary
		cached  bool
		err     error
	)
	if r.URL.Query().Get("extended") == "true" {
		summary, cached, err = s.svc.Market.ExtendedSummary(ctx, ticker, period)
	} else {
		summary, cached, err = s.svc.Market.Summary(ctx, ticker, period)
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeCached(w, summary, cached)
}

// requireService rejects requests to LLM-backed endpoints on deployments
// that run without an LLM key.
func requireService(w http.ResponseWriter, configured bool) bool {
	if !configured {
		writeError(w, http.StatusServiceUnavailable, "LLM features are not configured")
		return false
	}
	return true
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, s.svc.Sentiment != nil) {
		return
	}
	ticker, period, ok := tickerAndPeriod(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), service.ProcessingBudget)
	defer cancel()

	result, err := s.svc.Sentiment.Analyze(ctx, ticker, period)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeCached(w, result, result.Cached)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.svc.Forecast.Models(),
	})
}

// PredictRequest is the body for POST /api/v1/financial/predict.
type PredictRequest struct {
	Ticker       string `json:"ticker"`
	Model        string `json:"model,omitempty"`
	ForecastDays int    `json:"forecast_days,omitempty"`
	Period       string `json:"period,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := dataflows.ValidateSymbol(req.Ticker); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	prediction, err := s.svc.Forecast.Predict(ctx, req.Ticker, req.Model, req.ForecastDays, req.Period)
	if err != nil {
		// Bad model names and horizons are caller mistakes; upstream data
		// failures are not distinguishable here without error taxonomy, so
		// prediction errors map to 400 when no fetch was involved.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: prediction})
}

// StartSessionRequest is the body for POST /api/v1/chat/sessions.
type StartSessionRequest struct {
	Ticker string `json:"ticker"`
	Period string `json:"period,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, s.svc.Chat != nil) {
		return
	}
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := dataflows.ValidateSymbol(req.Ticker); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.svc.Chat.StartSession(r.Context(), req.Ticker, req.Period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: info})
}

// ChatMessageRequest is the body for POST /api/v1/chat/message.
type ChatMessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, s.svc.Chat != nil) {
		return
	}
	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	reply, err := s.svc.Chat.ProcessMessage(ctx, req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, service.ErrSessionInvalid) {
			writeError(w, http.StatusNotFound, "session not found or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: reply})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, s.svc.Chat != nil) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := s.svc.Chat.History(r.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, service.ErrSessionInvalid) {
			writeError(w, http.StatusNotFound, "session not found or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		entry := map[string]interface{}{
			"role":       m.Role,
			"content":    m.Content,
			"created_at": m.CreatedAt,
		}
		if len(m.Extra) > 0 {
			entry["metadata"] = json.RawMessage(m.Extra)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: out})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, s.svc.Chat != nil) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	if err := s.svc.Chat.EndSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"deleted": sessionID},
	})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Admin.ClearAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: report})
}
