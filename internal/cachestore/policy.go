package cachestore

import (
	"strings"
	"time"
)

// DataClass identifies the kind of payload held by a cache entry.
type DataClass string

const (
	ClassHistory    DataClass = "history"
	ClassInfo       DataClass = "info"
	ClassSummary    DataClass = "summary"
	ClassSummaryExt DataClass = "summary_ext"
	ClassSentiment  DataClass = "sentiment"
)

// DefaultTTL applies to data classes without an explicit policy entry.
const DefaultTTL = 2 * time.Hour

// Policy maps a data class to its time-to-live and normalizes cache key
// components so that lookups and writes always agree on the key.
type Policy struct {
	ttl map[DataClass]time.Duration
}

// NewPolicy returns the standard expiry policy. Price history goes stale
// fastest; LLM sentiment is the most expensive to recompute and keeps the
// longest TTL.
func NewPolicy() *Policy {
	return &Policy{
		ttl: map[DataClass]time.Duration{
			ClassHistory:    1 * time.Hour,
			ClassInfo:       4 * time.Hour,
			ClassSummary:    2 * time.Hour,
			ClassSummaryExt: 4 * time.Hour,
			ClassSentiment:  6 * time.Hour,
		},
	}
}

// TTL returns the time-to-live for a data class, falling back to DefaultTTL
// for unknown classes.
func (p *Policy) TTL(class DataClass) time.Duration {
	if d, ok := p.ttl[class]; ok {
		return d
	}
	return DefaultTTL
}

// NormalizeSubject canonicalizes a ticker (or sentinel subject) so that
// "aapl" and "AAPL" address the same cache entry.
func NormalizeSubject(subject string) string {
	return strings.ToUpper(strings.TrimSpace(subject))
}
