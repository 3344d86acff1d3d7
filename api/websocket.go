package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/stockpulse/stockpulse/internal/dataflows"
	"github.com/stockpulse/stockpulse/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS policy is enforced at the router; the upgrade itself accepts
	// any origin the router let through.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSEvent is one progress event on the sentiment stream.
type WSEvent struct {
	Type   string      `json:"type"`
	Ticker string      `json:"ticker"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// handleSentimentWS streams a sentiment analysis over a WebSocket: the
// client connects, gets an analysis_started event, then either
// analysis_completed with the result or analysis_error. One analysis per
// connection; the server closes when done.
func (s *Server) handleSentimentWS(w http.ResponseWriter, r *http.Request) {
	if s.svc.Sentiment == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM features are not configured")
		return
	}
	ticker := chi.URLParam(r, "ticker")
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ticker = dataflows.NormalizeSymbol(ticker)

	period := r.URL.Query().Get("period")
	if period == "" {
		period = defaultPeriod
	}
	if err := dataflows.ValidatePeriod(period); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}
	defer conn.Close()

	// The analysis must survive the HTTP request context being torn down
	// by the upgrade, but still respect a hard budget.
	ctx, cancel := context.WithTimeout(context.Background(), service.ProcessingBudget)
	defer cancel()

	send := func(event WSEvent) bool {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("ws: write %s for %s: %v", event.Type, ticker, err)
			return false
		}
		return true
	}

	if !send(WSEvent{Type: "analysis_started", Ticker: ticker, Data: map[string]string{"period": period}}) {
		return
	}

	result, err := s.svc.Sentiment.Analyze(ctx, ticker, period)
	if err != nil {
		send(WSEvent{Type: "analysis_error", Ticker: ticker, Error: err.Error()})
		return
	}

	send(WSEvent{Type: "analysis_completed", Ticker: ticker, Data: result})
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}
