package strategy

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/marketdata"
	"github.com/dmarchetti/trident/internal/models"
)

// VolatileStrategy buys long straddles: an at-the-money call and put with the
// same strike and expiration. Entry requires annualized realized volatility
// above the configured floor; direction does not matter.
type VolatileStrategy struct {
	cfg    Config
	logger *logrus.Logger
}

// NewVolatileStrategy creates the volatility variant.
func NewVolatileStrategy(cfg Config, logger *logrus.Logger) *VolatileStrategy {
	if logger == nil {
		logger = logrus.New()
	}
	return &VolatileStrategy{cfg: cfg.normalized(), logger: logger}
}

// Name implements Strategy.
func (s *VolatileStrategy) Name() models.StrategyTag { return models.StrategyVolatile }

// Scan implements Strategy.
func (s *VolatileStrategy) Scan(candidates []string, md MarketData) []Opportunity {
	var opps []Opportunity
	for _, symbol := range limit(candidates, s.cfg.MaxCandidates) {
		opp, ok := s.analyze(symbol, md)
		if ok {
			opps = append(opps, opp)
		}
	}
	return rankDescending(opps)
}

func (s *VolatileStrategy) analyze(symbol string, md MarketData) (Opportunity, bool) {
	quote, err := md.GetOrFetch(symbol, marketdata.KindQuote, s.cfg.QuoteMaxAge)
	if err != nil {
		s.logger.WithField("symbol", symbol).WithError(err).Debug("volatile scan: quote unavailable")
		return Opportunity{}, false
	}
	history, err := md.GetOrFetch(symbol, marketdata.KindHistory, s.cfg.HistoryMaxAge)
	if err != nil {
		s.logger.WithField("symbol", symbol).WithError(err).Debug("volatile scan: history unavailable")
		return Opportunity{}, false
	}

	vol := marketdata.AnnualizedVolatility(history.Bars)
	if vol < s.cfg.MinVolPct {
		return Opportunity{}, false
	}

	spot := quote.Last
	strike := strikeNear(spot)
	expiration := targetExpiration(s.cfg.TargetDTE)

	legs := []broker.OrderLeg{
		{
			Contract: broker.ContractDescriptor{Underlying: symbol, Right: "call", Strike: strike, Expiration: expiration},
			Side:     broker.BuyToOpen,
			Quantity: 1,
		},
		{
			Contract: broker.ContractDescriptor{Underlying: symbol, Right: "put", Strike: strike, Expiration: expiration},
			Side:     broker.BuyToOpen,
			Quantity: 1,
		},
	}

	// Rough straddle debit: both legs priced off the expected move.
	dte := float64(s.cfg.TargetDTE)
	debit := 2 * spot * vol * math.Sqrt(dte/365) * 0.4

	return Opportunity{
		Symbol:         symbol,
		Strategy:       models.StrategyVolatile,
		Legs:           legs,
		EstimatedDebit: debit,
		Score:          vol,
		Rationale:      fmt.Sprintf("realized vol %.0f%% >= %.0f%% floor, %0.f straddle", vol*100, s.cfg.MinVolPct*100, strike),
	}, true
}
