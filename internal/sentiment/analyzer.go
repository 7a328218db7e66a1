// Package sentiment classifies the broad market condition from index price
// history: realized volatility first, then moving-average momentum. The
// classification feeds the strategy selector once per trading cycle.
package sentiment

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/marketdata"
	"github.com/dmarchetti/trident/internal/models"
)

// MarketData is the read view the analyzer consumes. Satisfied by
// *marketdata.Cache.
type MarketData interface {
	GetOrFetch(symbol string, kind marketdata.Kind, maxAge time.Duration) (marketdata.Snapshot, error)
}

// Config tunes the classification thresholds.
type Config struct {
	IndexSymbol   string        // broad-market proxy, e.g. SPY
	VolThreshold  float64       // annualized realized vol above which the market is "volatile"
	TrendPct      float64       // price distance from the 20-day MA that counts as a trend
	HistoryMaxAge time.Duration // freshness bound for the index bars
	RefreshEvery  time.Duration // snapshot reuse window
}

// DefaultConfig mirrors the historical classification parameters.
var DefaultConfig = Config{
	IndexSymbol:   "SPY",
	VolThreshold:  0.25,
	TrendPct:      0.01,
	HistoryMaxAge: 15 * time.Minute,
	RefreshEvery:  5 * time.Minute,
}

// Analyzer produces SentimentSnapshots, caching the latest for the refresh
// window so repeated cycles do not recompute.
type Analyzer struct {
	mu     sync.Mutex
	cfg    Config
	md     MarketData
	last   models.SentimentSnapshot
	logger *logrus.Logger
}

// NewAnalyzer creates a sentiment analyzer over the given market-data view.
func NewAnalyzer(cfg Config, md MarketData, logger *logrus.Logger) *Analyzer {
	if logger == nil {
		logger = logrus.New()
	}
	d := DefaultConfig
	if cfg.IndexSymbol == "" {
		cfg.IndexSymbol = d.IndexSymbol
	}
	if cfg.VolThreshold <= 0 {
		cfg.VolThreshold = d.VolThreshold
	}
	if cfg.TrendPct <= 0 {
		cfg.TrendPct = d.TrendPct
	}
	if cfg.HistoryMaxAge <= 0 {
		cfg.HistoryMaxAge = d.HistoryMaxAge
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = d.RefreshEvery
	}
	return &Analyzer{cfg: cfg, md: md, logger: logger}
}

// Current returns the latest classification, recomputing when the cached
// snapshot is older than the refresh window. On data failure the previous
// snapshot is returned if one exists, otherwise a neutral reading.
func (a *Analyzer) Current() models.SentimentSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.last.AsOf.IsZero() && time.Since(a.last.AsOf) < a.cfg.RefreshEvery {
		return a.last
	}

	snap, err := a.classify()
	if err != nil {
		a.logger.WithError(err).Warn("sentiment refresh failed")
		if !a.last.AsOf.IsZero() {
			return a.last
		}
		return models.SentimentSnapshot{Condition: models.SentimentNeutral, AsOf: time.Now().UTC()}
	}
	a.last = snap
	a.logger.WithFields(logrus.Fields{
		"condition":  snap.Condition,
		"confidence": snap.Confidence,
	}).Info("market condition refreshed")
	return snap
}

func (a *Analyzer) classify() (models.SentimentSnapshot, error) {
	history, err := a.md.GetOrFetch(a.cfg.IndexSymbol, marketdata.KindHistory, a.cfg.HistoryMaxAge)
	if err != nil {
		return models.SentimentSnapshot{}, err
	}
	bars := history.Bars
	now := time.Now().UTC()
	if len(bars) < 21 {
		return models.SentimentSnapshot{Condition: models.SentimentNeutral, AsOf: now}, nil
	}

	// Volatility dominates direction: a whipsawing market is "volatile" even
	// when it happens to be trending.
	vol := marketdata.AnnualizedVolatility(bars)
	if vol >= a.cfg.VolThreshold {
		conf := math.Min(1, vol/a.cfg.VolThreshold-1+0.5)
		return models.SentimentSnapshot{Condition: models.SentimentVolatile, Confidence: conf, AsOf: now}, nil
	}

	last := bars[len(bars)-1].Close
	ma20 := closeAvg(bars, 20)
	if ma20 <= 0 {
		return models.SentimentSnapshot{Condition: models.SentimentNeutral, AsOf: now}, nil
	}
	drift := (last - ma20) / ma20
	switch {
	case drift >= a.cfg.TrendPct:
		return models.SentimentSnapshot{Condition: models.SentimentBullish, Confidence: math.Min(1, drift/a.cfg.TrendPct/2), AsOf: now}, nil
	case drift <= -a.cfg.TrendPct:
		return models.SentimentSnapshot{Condition: models.SentimentBearish, Confidence: math.Min(1, -drift/a.cfg.TrendPct/2), AsOf: now}, nil
	default:
		return models.SentimentSnapshot{Condition: models.SentimentNeutral, Confidence: 0.5, AsOf: now}, nil
	}
}

func closeAvg(bars []broker.Bar, n int) float64 {
	if len(bars) < n || n <= 0 {
		return 0
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	return sum / float64(n)
}
