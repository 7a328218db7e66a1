package marketdata

import (
	"math"
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

func TestAnnualizedVolatility(t *testing.T) {
	if got := AnnualizedVolatility(barsFromCloses(100, 100, 100, 100)); got != 0 {
		t.Errorf("flat series should give 0, got %.4f", got)
	}
	if got := AnnualizedVolatility(barsFromCloses(100)); got != 0 {
		t.Errorf("single bar should give 0, got %.4f", got)
	}

	// ±2% daily swings: sigma ~0.02 annualizes to ~32%.
	closes := make([]float64, 0, 60)
	px := 100.0
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			px *= 1.02
		} else {
			px /= 1.02
		}
		closes = append(closes, px)
	}
	got := AnnualizedVolatility(barsFromCloses(closes...))
	want := 0.02 * math.Sqrt(252)
	if math.Abs(got-want) > 0.05 {
		t.Errorf("want vol near %.2f, got %.2f", want, got)
	}
}
