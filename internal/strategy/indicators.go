package strategy

import (
	"github.com/dmarchetti/trident/internal/broker"
)

// rsi computes the Wilder-smoothed relative strength index over the closing
// prices of bars. Returns 50 (neutral) when the series is too short.
func rsi(bars []broker.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 50
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// sma returns the simple moving average of the last n closes, or 0 when the
// series is too short.
func sma(bars []broker.Bar, n int) float64 {
	if n <= 0 || len(bars) < n {
		return 0
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	return sum / float64(n)
}
