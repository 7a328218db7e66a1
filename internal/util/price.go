// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// MidPrice returns the bid/ask midpoint, falling back to last when either side
// of the book is empty.
func MidPrice(bid, ask, last float64) float64 {
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	return last
}

// LimitWithSlippage pads a limit price by a fractional buffer and rounds it to
// the tick: up for buys, down for sells.
func LimitWithSlippage(mid, buffer, tick float64, buying bool) float64 {
	if buying {
		return RoundToTick(mid*(1+buffer), tick)
	}
	return RoundToTick(mid*(1-buffer), tick)
}
