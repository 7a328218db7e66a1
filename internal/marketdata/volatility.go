package marketdata

import (
	"math"

	"github.com/dmarchetti/trident/internal/broker"
)

// AnnualizedVolatility computes close-to-close realized volatility from daily
// bars: sample standard deviation of log returns scaled by sqrt(252). Returns
// 0 when the series is too short to yield two returns.
func AnnualizedVolatility(bars []broker.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close <= 0 {
			continue
		}
		returns = append(returns, math.Log(bars[i].Close/bars[i-1].Close))
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance) * math.Sqrt(252)
}
