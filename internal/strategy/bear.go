package strategy

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/marketdata"
	"github.com/dmarchetti/trident/internal/models"
)

// BearStrategy builds debit bear put spreads: long a near-the-money put,
// short a lower-strike put. Filters mirror the bull variant inverted: RSI in
// a downtrend band and price below the moving averages.
type BearStrategy struct {
	cfg    Config
	logger *logrus.Logger
}

// NewBearStrategy creates the bearish variant.
func NewBearStrategy(cfg Config, logger *logrus.Logger) *BearStrategy {
	if logger == nil {
		logger = logrus.New()
	}
	return &BearStrategy{cfg: cfg.normalized(), logger: logger}
}

// Name implements Strategy.
func (s *BearStrategy) Name() models.StrategyTag { return models.StrategyBear }

// Scan implements Strategy.
func (s *BearStrategy) Scan(candidates []string, md MarketData) []Opportunity {
	var opps []Opportunity
	for _, symbol := range limit(candidates, s.cfg.MaxCandidates) {
		opp, ok := s.analyze(symbol, md)
		if ok {
			opps = append(opps, opp)
		}
	}
	return rankDescending(opps)
}

func (s *BearStrategy) analyze(symbol string, md MarketData) (Opportunity, bool) {
	quote, err := md.GetOrFetch(symbol, marketdata.KindQuote, s.cfg.QuoteMaxAge)
	if err != nil {
		s.logger.WithField("symbol", symbol).WithError(err).Debug("bear scan: quote unavailable")
		return Opportunity{}, false
	}
	history, err := md.GetOrFetch(symbol, marketdata.KindHistory, s.cfg.HistoryMaxAge)
	if err != nil {
		s.logger.WithField("symbol", symbol).WithError(err).Debug("bear scan: history unavailable")
		return Opportunity{}, false
	}

	// Downtrend band: the mirror of the bull RSI window around 50.
	r := rsi(history.Bars, 14)
	minRSI := 100 - s.cfg.MaxRSI
	maxRSI := 100 - s.cfg.MinRSI
	if r < minRSI || r > maxRSI {
		return Opportunity{}, false
	}
	if s.cfg.RequireAboveMA {
		if ma20 := sma(history.Bars, 20); ma20 > 0 && quote.Last > ma20 {
			return Opportunity{}, false
		}
		if ma50 := sma(history.Bars, 50); ma50 > 0 && quote.Last > ma50 {
			return Opportunity{}, false
		}
	}

	spot := quote.Last
	longStrike := strikeNear(spot)
	shortStrike := strikeNear(spot * (1 - s.cfg.SpreadWidthPct))
	if shortStrike >= longStrike {
		return Opportunity{}, false
	}
	expiration := targetExpiration(s.cfg.TargetDTE)
	width := longStrike - shortStrike

	legs := []broker.OrderLeg{
		{
			Contract: broker.ContractDescriptor{Underlying: symbol, Right: "put", Strike: longStrike, Expiration: expiration},
			Side:     broker.BuyToOpen,
			Quantity: 1,
		},
		{
			Contract: broker.ContractDescriptor{Underlying: symbol, Right: "put", Strike: shortStrike, Expiration: expiration},
			Side:     broker.SellToOpen,
			Quantity: 1,
		},
	}

	score := (maxRSI - r) / math.Max(1, maxRSI-minRSI)
	return Opportunity{
		Symbol:         symbol,
		Strategy:       models.StrategyBear,
		Legs:           legs,
		EstimatedDebit: width * 0.40,
		Score:          score,
		Rationale:      fmt.Sprintf("rsi=%.1f below 20/50 MA, %0.f/%0.f put spread", r, longStrike, shortStrike),
	}, true
}
