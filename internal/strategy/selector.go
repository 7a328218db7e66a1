package strategy

import (
	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/models"
)

// Selector maps a market-condition classification to at most one strategy.
// A neutral reading selects nothing and the trading cycle is a no-op.
type Selector struct {
	byCondition map[models.Sentiment]Strategy
	logger      *logrus.Logger
}

// NewSelector wires the three strategy variants to the conditions they serve.
func NewSelector(cfg Config, logger *logrus.Logger) *Selector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Selector{
		byCondition: map[models.Sentiment]Strategy{
			models.SentimentBullish:  NewBullStrategy(cfg, logger),
			models.SentimentBearish:  NewBearStrategy(cfg, logger),
			models.SentimentVolatile: NewVolatileStrategy(cfg, logger),
		},
		logger: logger,
	}
}

// Select returns the strategy for the given condition, or nil when no
// strategy applies.
func (s *Selector) Select(condition models.Sentiment) Strategy {
	strat, ok := s.byCondition[condition]
	if !ok {
		s.logger.WithField("condition", condition).Debug("no strategy for market condition")
		return nil
	}
	return strat
}
