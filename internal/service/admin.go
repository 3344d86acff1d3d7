package service

import (
	"context"
	"fmt"

	"github.com/stockpulse/stockpulse/internal/cachestore"
	"github.com/stockpulse/stockpulse/internal/chatstore"
)

// ClearReport shows row counts around a clear-all, so operators can see
// what the sweep actually removed.
type ClearReport struct {
	Before ClearCounts `json:"before"`
	After  ClearCounts `json:"after"`
}

// ClearCounts is a snapshot of every persisted table.
type ClearCounts struct {
	StockCache     int64 `json:"stock_cache"`
	SentimentCache int64 `json:"sentiment_cache"`
	ChatSessions   int64 `json:"chat_sessions"`
	ChatMessages   int64 `json:"chat_messages"`
}

// AdminService exposes maintenance operations over both stores.
type AdminService struct {
	cache    *cachestore.Store
	sessions *chatstore.Store
}

// NewAdminService wires the admin service.
func NewAdminService(cache *cachestore.Store, sessions *chatstore.Store) *AdminService {
	return &AdminService{cache: cache, sessions: sessions}
}

// ClearAll wipes every cache row and chat session, reporting counts before
// and after.
func (as *AdminService) ClearAll(ctx context.Context) (*ClearReport, error) {
	before, err := as.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if err := as.cache.ClearAll(ctx); err != nil {
		return nil, fmt.Errorf("clear caches: %w", err)
	}
	if err := as.sessions.ClearAll(ctx); err != nil {
		return nil, fmt.Errorf("clear chat data: %w", err)
	}

	after, err := as.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &ClearReport{Before: before, After: after}, nil
}

func (as *AdminService) snapshot(ctx context.Context) (ClearCounts, error) {
	stock, sentiment, err := as.cache.Counts(ctx)
	if err != nil {
		return ClearCounts{}, fmt.Errorf("count caches: %w", err)
	}
	sessions, messages, err := as.sessions.Counts(ctx)
	if err != nil {
		return ClearCounts{}, fmt.Errorf("count chat data: %w", err)
	}
	return ClearCounts{
		StockCache:     stock,
		SentimentCache: sentiment,
		ChatSessions:   sessions,
		ChatMessages:   messages,
	}, nil
}
