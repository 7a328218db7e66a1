package models

import "time"

// Sentiment is the market condition classification consumed by the strategy
// selector. It is an opaque, periodically-refreshed input.
type Sentiment string

const (
	// SentimentBullish selects the bull call spread strategy.
	SentimentBullish Sentiment = "bullish"
	// SentimentBearish selects the bear put spread strategy.
	SentimentBearish Sentiment = "bearish"
	// SentimentVolatile selects the long straddle strategy.
	SentimentVolatile Sentiment = "volatile"
	// SentimentNeutral selects no strategy; the cycle becomes a no-op.
	SentimentNeutral Sentiment = "neutral"
)

// SentimentSnapshot is one refresh of the market-condition signal.
type SentimentSnapshot struct {
	Condition  Sentiment `json:"condition"`
	Confidence float64   `json:"confidence"` // 0..1
	AsOf       time.Time `json:"as_of"`
}
