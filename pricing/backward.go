package pricing

import (
	"fmt"
	"math"

	"github.com/bcdannyboy/crrput/models"
)

// Backward fills V_N..V_0 by optimal-stopping backward induction:
// V_N = phi_N and V_n[i] = max(phi_n[i], discount * sum_j T_n[i,j] V_{n+1}[j]).
func Backward(payoff *models.NodeValues, tm *models.TransitionModel, discount float64) (*models.NodeValues, error) {
	steps := tm.Steps()
	if payoff.Steps() != steps {
		return nil, fmt.Errorf("%w: payoff has %d steps, transition model has %d", models.ErrInvalidParameter, payoff.Steps(), steps)
	}
	if math.IsNaN(discount) || math.IsInf(discount, 0) || discount <= 0 {
		return nil, fmt.Errorf("%w: discount factor must be positive and finite, got %v", models.ErrInvalidParameter, discount)
	}

	value := models.NewNodeValues(steps)
	copy(value.Step(steps), payoff.Step(steps))

	for n := steps - 1; n >= 0; n-- {
		next := value.Step(n + 1)
		phi := payoff.Step(n)
		current := value.Step(n)
		for i := range current {
			down, up := tm.Row(n, i)
			continuation := discount * (down.Prob*next[down.Level] + up.Prob*next[up.Level])
			if math.IsNaN(continuation) || math.IsInf(continuation, 0) {
				return nil, fmt.Errorf("%w: non-finite continuation value at (%d,%d)", models.ErrInvalidParameter, n, i)
			}
			current[i] = math.Max(phi[i], continuation)
		}
	}

	return value, nil
}
