package strategy

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/marketdata"
	"github.com/dmarchetti/trident/internal/models"
)

// BullStrategy builds debit bull call spreads: long a near-the-money call,
// short a higher-strike call at the configured width. Entry filters are an
// RSI band (uptrending but not overbought) and price above the 20/50-day
// moving averages.
type BullStrategy struct {
	cfg    Config
	logger *logrus.Logger
}

// NewBullStrategy creates the bullish variant.
func NewBullStrategy(cfg Config, logger *logrus.Logger) *BullStrategy {
	if logger == nil {
		logger = logrus.New()
	}
	return &BullStrategy{cfg: cfg.normalized(), logger: logger}
}

// Name implements Strategy.
func (s *BullStrategy) Name() models.StrategyTag { return models.StrategyBull }

// Scan implements Strategy.
func (s *BullStrategy) Scan(candidates []string, md MarketData) []Opportunity {
	var opps []Opportunity
	for _, symbol := range limit(candidates, s.cfg.MaxCandidates) {
		opp, ok := s.analyze(symbol, md)
		if ok {
			opps = append(opps, opp)
		}
	}
	return rankDescending(opps)
}

func (s *BullStrategy) analyze(symbol string, md MarketData) (Opportunity, bool) {
	quote, err := md.GetOrFetch(symbol, marketdata.KindQuote, s.cfg.QuoteMaxAge)
	if err != nil {
		s.logger.WithField("symbol", symbol).WithError(err).Debug("bull scan: quote unavailable")
		return Opportunity{}, false
	}
	history, err := md.GetOrFetch(symbol, marketdata.KindHistory, s.cfg.HistoryMaxAge)
	if err != nil {
		s.logger.WithField("symbol", symbol).WithError(err).Debug("bull scan: history unavailable")
		return Opportunity{}, false
	}

	r := rsi(history.Bars, 14)
	if r < s.cfg.MinRSI || r > s.cfg.MaxRSI {
		return Opportunity{}, false
	}
	if s.cfg.RequireAboveMA {
		if ma20 := sma(history.Bars, 20); ma20 > 0 && quote.Last < ma20 {
			return Opportunity{}, false
		}
		if ma50 := sma(history.Bars, 50); ma50 > 0 && quote.Last < ma50 {
			return Opportunity{}, false
		}
	}

	spot := quote.Last
	longStrike := strikeNear(spot)
	shortStrike := strikeNear(spot * (1 + s.cfg.SpreadWidthPct))
	if shortStrike <= longStrike {
		return Opportunity{}, false
	}
	expiration := targetExpiration(s.cfg.TargetDTE)
	width := shortStrike - longStrike

	legs := []broker.OrderLeg{
		{
			Contract: broker.ContractDescriptor{Underlying: symbol, Right: "call", Strike: longStrike, Expiration: expiration},
			Side:     broker.BuyToOpen,
			Quantity: 1,
		},
		{
			Contract: broker.ContractDescriptor{Underlying: symbol, Right: "call", Strike: shortStrike, Expiration: expiration},
			Side:     broker.SellToOpen,
			Quantity: 1,
		},
	}

	// Momentum above the midpoint of the RSI band scores higher.
	score := (r - s.cfg.MinRSI) / math.Max(1, s.cfg.MaxRSI-s.cfg.MinRSI)
	return Opportunity{
		Symbol:         symbol,
		Strategy:       models.StrategyBull,
		Legs:           legs,
		EstimatedDebit: width * 0.40,
		Score:          score,
		Rationale:      fmt.Sprintf("rsi=%.1f above 20/50 MA, %0.f/%0.f call spread", r, longStrike, shortStrike),
	}, true
}

func limit(symbols []string, n int) []string {
	if n > 0 && len(symbols) > n {
		return symbols[:n]
	}
	return symbols
}
