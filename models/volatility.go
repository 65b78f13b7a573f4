package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const tradingDaysPerYear = 252

// YangZhangVolatility estimates annualised volatility from daily OHLC bars.
func YangZhangVolatility(opens, highs, lows, closes []float64) (float64, error) {
	n := len(opens)
	if n < 3 || n != len(highs) || n != len(lows) || n != len(closes) {
		return 0, fmt.Errorf("%w: need at least 3 aligned OHLC bars, got %d/%d/%d/%d",
			ErrInvalidParameter, len(opens), len(highs), len(lows), len(closes))
	}
	for i := 0; i < n; i++ {
		if opens[i] <= 0 || highs[i] <= 0 || lows[i] <= 0 || closes[i] <= 0 {
			return 0, fmt.Errorf("%w: bar %d has a non-positive price", ErrInvalidParameter, i)
		}
	}

	k := 0.34 / (1.34 + (float64(n)+1)/(float64(n)-1))
	overnight := overnightVariance(opens, closes)
	openClose := openCloseVariance(opens, closes)
	rs := rogersSatchellVariance(opens, highs, lows, closes)

	return math.Sqrt((overnight + k*openClose + (1-k)*rs) * tradingDaysPerYear), nil
}

func overnightVariance(opens, closes []float64) float64 {
	returns := make([]float64, len(opens)-1)
	for i := range returns {
		returns[i] = math.Log(opens[i+1] / closes[i])
	}
	return math.Max(0, stat.Variance(returns, nil))
}

func openCloseVariance(opens, closes []float64) float64 {
	returns := make([]float64, len(opens))
	for i := range returns {
		returns[i] = math.Log(closes[i] / opens[i])
	}
	return math.Max(0, stat.Variance(returns, nil))
}

func rogersSatchellVariance(opens, highs, lows, closes []float64) float64 {
	sum := 0.0
	for i := range opens {
		sum += math.Log(highs[i]/closes[i])*math.Log(highs[i]/opens[i]) +
			math.Log(lows[i]/closes[i])*math.Log(lows[i]/opens[i])
	}
	return sum / float64(len(opens))
}
