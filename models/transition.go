package models

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matching selects how the transition targets of a node are located.
type Matching int

const (
	// MatchByIndex maps level i at step n to levels i (down) and i+1 (up) at step n+1.
	MatchByIndex Matching = iota
	// MatchByPrice searches E_{n+1} for price(n,i)*d and price(n,i)*u within a relative tolerance.
	MatchByPrice
)

// DefaultMatchTolerance is the relative tolerance used by MatchByPrice.
const DefaultMatchTolerance = 1e-9

// rowSumTolerance bounds |q_d + q_u - 1| for a row to count as stochastic.
const rowSumTolerance = 1e-9

func (m Matching) String() string {
	switch m {
	case MatchByIndex:
		return "index"
	case MatchByPrice:
		return "price"
	default:
		return fmt.Sprintf("Matching(%d)", int(m))
	}
}

// Transition is one nonzero entry of a transition row.
type Transition struct {
	Level int
	Prob  float64
}

// TransitionModel is the sparse form of T_0..T_{N-1}. Each row has exactly
// two nonzero entries, the down move and the up move.
type TransitionModel struct {
	lattice  *Lattice
	probUp   float64
	probDown float64
	downCol  []int
	upCol    []int
}

type transitionConfig struct {
	matching  Matching
	tolerance float64
}

type TransitionOption func(*transitionConfig)

// WithMatching selects the matching mode. A non-positive tolerance keeps the default.
func WithMatching(m Matching, tolerance float64) TransitionOption {
	return func(c *transitionConfig) {
		c.matching = m
		if tolerance > 0 {
			c.tolerance = tolerance
		}
	}
}

// NewTransitionModel builds T_n for every n < N. A probUp outside (0,1) still
// builds; check ArbitrageFree before relying on the model.
func NewTransitionModel(l *Lattice, probUp float64, opts ...TransitionOption) (*TransitionModel, error) {
	cfg := transitionConfig{matching: MatchByIndex, tolerance: DefaultMatchTolerance}
	for _, opt := range opts {
		opt(&cfg)
	}

	if math.IsNaN(probUp) || math.IsInf(probUp, 0) {
		return nil, fmt.Errorf("%w: up probability must be finite, got %v", ErrInvalidParameter, probUp)
	}

	rows := nodeCount(l.steps) - (l.steps + 1)
	tm := &TransitionModel{
		lattice:  l,
		probUp:   probUp,
		probDown: 1 - probUp,
		downCol:  make([]int, rows),
		upCol:    make([]int, rows),
	}

	for n := 0; n < l.steps; n++ {
		next := l.Levels(n + 1)
		for i := 0; i <= n; i++ {
			k := nodeOffset(n) + i
			switch cfg.matching {
			case MatchByIndex:
				tm.downCol[k], tm.upCol[k] = i, i+1
			case MatchByPrice:
				price := l.Price(n, i)
				down, err := matchLevel(next, price*l.Down(), cfg.tolerance)
				if err != nil {
					return nil, fmt.Errorf("down move from (%d,%d): %w", n, i, err)
				}
				up, err := matchLevel(next, price*l.up, cfg.tolerance)
				if err != nil {
					return nil, fmt.Errorf("up move from (%d,%d): %w", n, i, err)
				}
				if up == down {
					return nil, fmt.Errorf("%w: up and down moves from (%d,%d) both match level %d", ErrNumericMismatch, n, i, up)
				}
				tm.downCol[k], tm.upCol[k] = down, up
			default:
				return nil, fmt.Errorf("%w: unknown matching mode %v", ErrInvalidParameter, cfg.matching)
			}
		}
	}

	return tm, nil
}

// matchLevel finds the unique level within a relative tolerance of target.
func matchLevel(levels []float64, target, tolerance float64) (int, error) {
	idx := sort.SearchFloat64s(levels, target)

	match, hits := -1, 0
	for _, j := range []int{idx - 1, idx, idx + 1} {
		if j < 0 || j >= len(levels) {
			continue
		}
		if math.Abs(levels[j]-target) <= tolerance*math.Max(math.Abs(levels[j]), math.Abs(target)) {
			match = j
			hits++
		}
	}

	switch hits {
	case 0:
		return 0, fmt.Errorf("%w: no level matches %v", ErrNumericMismatch, target)
	case 1:
		return match, nil
	default:
		return 0, fmt.Errorf("%w: %d levels match %v", ErrNumericMismatch, hits, target)
	}
}

func (t *TransitionModel) Steps() int { return t.lattice.steps }

func (t *TransitionModel) Lattice() *Lattice { return t.lattice }

func (t *TransitionModel) ProbUp() float64 { return t.probUp }

func (t *TransitionModel) ProbDown() float64 { return t.probDown }

// ArbitrageFree reports whether q_u lies strictly inside (0,1).
func (t *TransitionModel) ArbitrageFree() bool {
	return t.probUp > 0 && t.probUp < 1
}

// Row returns the down and up entries of row i of T_n.
func (t *TransitionModel) Row(n, i int) (down, up Transition) {
	k := nodeOffset(n) + i
	return Transition{Level: t.downCol[k], Prob: t.probDown}, Transition{Level: t.upCol[k], Prob: t.probUp}
}

// CheckRow verifies that row i of T_n is a probability distribution.
func (t *TransitionModel) CheckRow(n, i int) error {
	down, up := t.Row(n, i)
	probs := []float64{down.Prob, up.Prob}
	for _, p := range probs {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: row (%d,%d) has probability %v outside [0,1]", ErrSamplingFailure, n, i, p)
		}
	}
	if sum := floats.Sum(probs); math.Abs(sum-1) > rowSumTolerance {
		return fmt.Errorf("%w: row (%d,%d) sums to %v", ErrSamplingFailure, n, i, sum)
	}
	return nil
}

// Dense materialises T_n as an (n+1)x(n+2) matrix.
func (t *TransitionModel) Dense(n int) *mat.Dense {
	m := mat.NewDense(n+1, n+2, nil)
	for i := 0; i <= n; i++ {
		down, up := t.Row(n, i)
		m.Set(i, down.Level, m.At(i, down.Level)+down.Prob)
		m.Set(i, up.Level, m.At(i, up.Level)+up.Prob)
	}
	return m
}
