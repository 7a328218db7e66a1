// Package strategy holds the three rule-based trade strategies and the
// sentiment-driven selector. Strategy logic is deliberately simple threshold
// comparison over cached market data; all broker access stays behind the
// marshaler via the market-data cache.
package strategy

import (
	"sort"
	"time"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/marketdata"
	"github.com/dmarchetti/trident/internal/models"
)

// MarketData is the read view strategies scan. Satisfied by *marketdata.Cache.
type MarketData interface {
	GetOrFetch(symbol string, kind marketdata.Kind, maxAge time.Duration) (marketdata.Snapshot, error)
}

// Opportunity is one ranked candidate trade produced by a scan.
type Opportunity struct {
	Symbol         string
	Strategy       models.StrategyTag
	Legs           []broker.OrderLeg
	EstimatedDebit float64 // per-spread dollars to open
	Score          float64 // higher ranks first
	Rationale      string
}

// Strategy scans pre-screened candidates and returns ranked opportunities.
type Strategy interface {
	Name() models.StrategyTag
	Scan(candidates []string, md MarketData) []Opportunity
}

// Config carries the per-strategy threshold numbers. These are policy inputs,
// not structure; defaults live in the YAML config.
type Config struct {
	TargetDTE      int
	SpreadWidthPct float64 // strike width as a fraction of spot
	MinRSI         float64
	MaxRSI         float64
	RequireAboveMA bool
	MinVolPct      float64 // volatile: minimum annualized realized vol
	MaxCandidates  int
	QuoteMaxAge    time.Duration
	HistoryMaxAge  time.Duration
}

// DefaultConfig mirrors the historical parameter set.
var DefaultConfig = Config{
	TargetDTE:      45,
	SpreadWidthPct: 0.05,
	MinRSI:         40,
	MaxRSI:         70,
	RequireAboveMA: true,
	MinVolPct:      0.35,
	MaxCandidates:  10,
	QuoteMaxAge:    30 * time.Second,
	HistoryMaxAge:  15 * time.Minute,
}

func (c Config) normalized() Config {
	d := DefaultConfig
	if c.TargetDTE <= 0 {
		c.TargetDTE = d.TargetDTE
	}
	if c.SpreadWidthPct <= 0 {
		c.SpreadWidthPct = d.SpreadWidthPct
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.QuoteMaxAge <= 0 {
		c.QuoteMaxAge = d.QuoteMaxAge
	}
	if c.HistoryMaxAge <= 0 {
		c.HistoryMaxAge = d.HistoryMaxAge
	}
	return c
}

// targetExpiration finds the Friday closest past the target DTE.
func targetExpiration(dte int) time.Time {
	target := time.Now().UTC().AddDate(0, 0, dte)
	for target.Weekday() != time.Friday {
		target = target.AddDate(0, 0, 1)
	}
	return target.Truncate(24 * time.Hour)
}

// strikeNear rounds a price to a plausible listed strike increment.
func strikeNear(px float64) float64 {
	increment := 1.0
	switch {
	case px >= 200:
		increment = 5.0
	case px >= 50:
		increment = 2.5
	}
	return float64(int(px/increment+0.5)) * increment
}

// rankDescending orders opportunities by score, best first.
func rankDescending(opps []Opportunity) []Opportunity {
	sort.Slice(opps, func(i, j int) bool { return opps[i].Score > opps[j].Score })
	return opps
}
