package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/stockpulse/stockpulse/internal/cachestore"
	"github.com/stockpulse/stockpulse/internal/chatstore"
	"github.com/stockpulse/stockpulse/internal/dataflows"
	"github.com/stockpulse/stockpulse/internal/llm"
)

// historyWindow is how many stored messages feed the model per turn.
const historyWindow = 10

// ErrSessionInvalid mirrors the store error so handlers depend only on the
// service package.
var ErrSessionInvalid = chatstore.ErrSessionInvalid

// ChatReply is one assistant turn.
type ChatReply struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	LatencyMs float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionInfo describes a newly created session.
type SessionInfo struct {
	SessionID  string `json:"session_id"`
	Ticker     string `json:"ticker"`
	Period     string `json:"period"`
	AnalysisID int64  `json:"analysis_id,omitempty"`
}

// ChatService runs ticker-scoped conversations: each session anchors to a
// ticker, a period, and (when one exists) the sentiment analysis computed
// for them, which is replayed into the model context on every turn.
type ChatService struct {
	sessions  *chatstore.Store
	cache     *cachestore.Store
	sentiment *SentimentService
	chat      llm.Generator
}

// NewChatService wires the chat service.
func NewChatService(sessions *chatstore.Store, cache *cachestore.Store, sentiment *SentimentService, chat llm.Generator) *ChatService {
	return &ChatService{sessions: sessions, cache: cache, sentiment: sentiment, chat: chat}
}

// StartSession creates a session for a ticker and period. When a fresh
// sentiment analysis exists for the service's model, the session anchors to
// it; otherwise the session starts unanchored.
func (cs *ChatService) StartSession(ctx context.Context, ticker, period string) (*SessionInfo, error) {
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	if period == "" {
		period = "1mo"
	}
	if err := dataflows.ValidatePeriod(period); err != nil {
		return nil, err
	}
	ticker = dataflows.NormalizeSymbol(ticker)

	var ref *int64
	var analysisID int64
	if cs.sentiment != nil {
		if id, ok := cs.sentiment.CachedAnalysisID(ctx, ticker, period); ok {
			ref = &id
			analysisID = id
		}
	}

	token, err := cs.sessions.CreateSession(ctx, ticker, period, ref)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return &SessionInfo{SessionID: token, Ticker: ticker, Period: period, AnalysisID: analysisID}, nil
}

// ProcessMessage appends the user's message, builds the model context from
// the anchored analysis and recent history, and appends the assistant's
// reply. An invalid or expired token yields ErrSessionInvalid.
func (cs *ChatService) ProcessMessage(ctx context.Context, token, content string) (*ChatReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}

	sess, err := cs.sessions.GetActiveSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionInvalid
	}

	// Build the context before persisting this turn so the new message does
	// not show up twice.
	messages := cs.buildContext(ctx, sess)
	messages = append(messages, schema.UserMessage(content))

	if _, err := cs.sessions.AppendMessage(ctx, token, chatstore.RoleUser, content, nil); err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}

	started := time.Now()
	reply, err := cs.chat.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	latency := float64(time.Since(started).Milliseconds())

	extra, _ := json.Marshal(map[string]any{
		"model":      cs.chat.ModelName(),
		"latency_ms": latency,
	})
	msg, err := cs.sessions.AppendMessage(ctx, token, chatstore.RoleAssistant, reply.Content, extra)
	if err != nil {
		return nil, fmt.Errorf("record assistant message: %w", err)
	}

	return &ChatReply{
		SessionID: token,
		Role:      chatstore.RoleAssistant,
		Content:   reply.Content,
		Model:     cs.chat.ModelName(),
		LatencyMs: latency,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// buildContext assembles the system prompt and the trailing history window.
func (cs *ChatService) buildContext(ctx context.Context, sess *chatstore.Session) []*schema.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a financial analysis assistant discussing %s over the %s period.\n", sess.Subject, sess.Scope)
	b.WriteString("Answer from the analysis context below when it is relevant. Be clear when data is missing. Never present speculation as fact, and remind the user this is not financial advice when giving forward-looking views.\n")

	if sess.SentimentRef.Valid {
		if payload, ok := cs.cache.SentimentPayloadByID(ctx, sess.SentimentRef.Int64); ok {
			b.WriteString("\nSentiment analysis context:\n")
			b.Write(payload)
			b.WriteString("\n")
		} else {
			log.Printf("chat: session %s references missing analysis %d", sess.Token, sess.SentimentRef.Int64)
		}
	}

	messages := []*schema.Message{schema.SystemMessage(b.String())}

	history, err := cs.sessions.History(ctx, sess.Token, 50)
	if err != nil {
		log.Printf("chat: history for %s: %v", sess.Token, err)
		return messages
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		switch m.Role {
		case chatstore.RoleUser:
			messages = append(messages, schema.UserMessage(m.Content))
		case chatstore.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
		}
	}
	return messages
}

// History returns a session's messages oldest first. The session must be
// active.
func (cs *ChatService) History(ctx context.Context, token string, limit int) ([]chatstore.Message, error) {
	sess, err := cs.sessions.GetActiveSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionInvalid
	}
	return cs.sessions.History(ctx, token, limit)
}

// EndSession deletes a session and its messages. Deleting an unknown or
// expired session is not an error; the end state is the same.
func (cs *ChatService) EndSession(ctx context.Context, token string) error {
	return cs.sessions.DeleteSession(ctx, token)
}

// PurgeExpired removes expired sessions, returning how many went.
func (cs *ChatService) PurgeExpired(ctx context.Context) (int, error) {
	return cs.sessions.PurgeExpired(ctx)
}
