package strategy

import (
	"testing"

	"github.com/dmarchetti/trident/internal/broker"
)

func barsFromCloses(closes ...float64) []broker.Bar {
	bars := make([]broker.Bar, len(closes))
	for i, c := range closes {
		bars[i].Close = c
	}
	return bars
}

func TestRSI_ShortSeriesIsNeutral(t *testing.T) {
	if got := rsi(barsFromCloses(100, 101, 102), 14); got != 50 {
		t.Errorf("short series should be neutral 50, got %.2f", got)
	}
}

func TestRSI_AllGains(t *testing.T) {
	closes := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100+float64(i))
	}
	if got := rsi(barsFromCloses(closes...), 14); got != 100 {
		t.Errorf("monotonic rise should give RSI 100, got %.2f", got)
	}
}

func TestRSI_BalancedSeries(t *testing.T) {
	// Alternating +1/-1 keeps gains and losses equal: RSI near 50.
	closes := make([]float64, 0, 40)
	px := 100.0
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			px++
		} else {
			px--
		}
		closes = append(closes, px)
	}
	got := rsi(barsFromCloses(closes...), 14)
	if got < 45 || got > 55 {
		t.Errorf("balanced series should give RSI near 50, got %.2f", got)
	}
}

func TestSMA(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4, 5)
	if got := sma(bars, 3); got != 4 {
		t.Errorf("sma of last 3 closes should be 4, got %.2f", got)
	}
	if got := sma(bars, 10); got != 0 {
		t.Errorf("short series should give 0, got %.2f", got)
	}
}
