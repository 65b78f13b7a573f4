package pricing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/bcdannyboy/crrput/models"
)

const (
	impliedVolGuess = 0.2
	// invalidPenalty is returned for volatilities the lattice cannot price.
	invalidPenalty = 1e12
)

// ImpliedVolatility finds the volatility at which the lattice price of params
// equals target. params.Volatility is ignored.
func ImpliedVolatility(p *Pricer, params models.Params, target float64) (float64, error) {
	if math.IsNaN(target) || math.IsInf(target, 0) || target < 0 {
		return 0, fmt.Errorf("%w: target price must be non-negative and finite, got %v", models.ErrInvalidParameter, target)
	}

	// a strict pricer so that non-arbitrage-free volatilities are penalised
	strict := *p
	strict.allowArbitrage = false

	objective := func(x []float64) float64 {
		trial := params
		trial.Volatility = x[0]
		sol, err := strict.Price(trial)
		if err != nil {
			return invalidPenalty
		}
		diff := sol.RootPrice() - target
		return diff * diff
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: 500,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, []float64{impliedVolGuess}, settings, &optimize.NelderMead{})
	if err != nil && result == nil {
		return 0, fmt.Errorf("implied volatility: %w", err)
	}
	if result.F >= invalidPenalty {
		return 0, errors.New("implied volatility: no admissible volatility found")
	}

	sigma := result.X[0]
	if tol := 1e-4 * math.Max(1, target); math.Sqrt(result.F) > tol {
		return sigma, fmt.Errorf("implied volatility: target %v not attained, closest price differs by %v", target, math.Sqrt(result.F))
	}
	return sigma, nil
}
