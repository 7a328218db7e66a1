// Package marketdata provides a time-bounded cache of last-known quotes and
// historical bars, consulted before any marshaled gateway round-trip.
package marketdata

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/marshaler"
)

// Kind selects which data a cache entry holds.
type Kind string

const (
	// KindQuote caches market-data snapshots.
	KindQuote Kind = "quote"
	// KindHistory caches daily bar series.
	KindHistory Kind = "history"
)

// Snapshot is a cached view of one symbol. Values are immutable once stored;
// readers always receive copies.
type Snapshot struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	Bars      []broker.Bar // populated for KindHistory
	Timestamp time.Time
	Stale     bool // true when a fetch failed and this is the previous value
}

type key struct {
	symbol string
	kind   Kind
}

// Cache stores last-known market data per (symbol, kind). Writes are
// last-writer-wins; concurrent fetches for the same key are not deduplicated —
// both may hit the marshaler, which is an accepted inefficiency since
// overwrites are idempotent.
type Cache struct {
	mu      sync.RWMutex
	entries map[key]Snapshot
	client  marshaler.Client
	logger  *logrus.Logger

	historyDays  int
	fetchTimeout time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithHistoryDays sets how many daily bars a history fetch requests.
func WithHistoryDays(days int) Option {
	return func(c *Cache) { c.historyDays = days }
}

// WithFetchTimeout bounds each marshaled fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fetchTimeout = d }
}

// NewCache creates a cache backed by the marshaler client.
func NewCache(client marshaler.Client, logger *logrus.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Cache{
		entries:      make(map[key]Snapshot),
		client:       client,
		logger:       logger,
		historyDays:  60,
		fetchTimeout: 8 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the cached snapshot when its age is strictly less than
// maxAge, otherwise it fetches through the marshaler. An entry exactly at
// maxAge is stale and triggers a refetch. On fetch failure the previous value
// is returned with Stale set when one exists; otherwise the error propagates.
func (c *Cache) GetOrFetch(symbol string, kind Kind, maxAge time.Duration) (Snapshot, error) {
	k := key{symbol: symbol, kind: kind}

	c.mu.RLock()
	entry, ok := c.entries[k]
	c.mu.RUnlock()

	if ok && time.Since(entry.Timestamp) < maxAge {
		return entry, nil
	}

	fresh, err := c.fetch(symbol, kind)
	if err != nil {
		if ok {
			c.logger.WithFields(logrus.Fields{
				"symbol": symbol,
				"kind":   kind,
			}).WithError(err).Warn("fetch failed, serving stale snapshot")
			entry.Stale = true
			return entry, nil
		}
		return Snapshot{}, fmt.Errorf("fetching %s %s: %w", kind, symbol, err)
	}

	c.mu.Lock()
	c.entries[k] = fresh
	c.mu.Unlock()
	return fresh, nil
}

// Invalidate drops the cached entry for (symbol, kind).
func (c *Cache) Invalidate(symbol string, kind Kind) {
	c.mu.Lock()
	delete(c.entries, key{symbol: symbol, kind: kind})
	c.mu.Unlock()
}

func (c *Cache) fetch(symbol string, kind Kind) (Snapshot, error) {
	switch kind {
	case KindQuote:
		q, err := c.client.GetQuote(symbol, c.fetchTimeout)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{
			Symbol:    symbol,
			Last:      q.Last,
			Bid:       q.Bid,
			Ask:       q.Ask,
			Timestamp: time.Now().UTC(),
		}, nil
	case KindHistory:
		bars, err := c.client.GetHistory(symbol, c.historyDays, c.fetchTimeout)
		if err != nil {
			return Snapshot{}, err
		}
		snap := Snapshot{
			Symbol:    symbol,
			Bars:      bars,
			Timestamp: time.Now().UTC(),
		}
		if n := len(bars); n > 0 {
			snap.Last = bars[n-1].Close
		}
		return snap, nil
	default:
		return Snapshot{}, fmt.Errorf("unknown cache kind %q", kind)
	}
}
