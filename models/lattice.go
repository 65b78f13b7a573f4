package models

import (
	"fmt"
	"math"
)

// nodeOffset is the position of (n, 0) in a triangular arena.
func nodeOffset(n int) int {
	return n * (n + 1) / 2
}

// nodeCount is the size of a triangular arena holding steps 0..steps.
func nodeCount(steps int) int {
	return nodeOffset(steps + 1)
}

// Lattice holds the CRR price levels for every step in one triangular arena.
// Level i at step n is spot * u^i * d^(n-i); levels increase with i.
type Lattice struct {
	steps  int
	spot   float64
	up     float64
	prices []float64
}

// BuildLattice generates the level sets E_0..E_steps with d = 1/up.
func BuildLattice(spot, up float64, steps int) (*Lattice, error) {
	switch {
	case steps < 0:
		return nil, fmt.Errorf("%w: steps must be non-negative, got %d", ErrInvalidParameter, steps)
	case math.IsNaN(spot) || math.IsInf(spot, 0) || spot <= 0:
		return nil, fmt.Errorf("%w: spot must be positive and finite, got %v", ErrInvalidParameter, spot)
	case math.IsNaN(up) || math.IsInf(up, 0) || up <= 1:
		return nil, fmt.Errorf("%w: up factor must be finite and above 1, got %v", ErrInvalidParameter, up)
	}

	prices := make([]float64, nodeCount(steps))
	for n := 0; n <= steps; n++ {
		row := prices[nodeOffset(n) : nodeOffset(n)+n+1]
		for i := range row {
			// u^i * d^(n-i) == u^(2i-n) keeps recombining nodes bit-identical
			price := spot * math.Pow(up, float64(2*i-n))
			if math.IsInf(price, 0) || price == 0 {
				return nil, fmt.Errorf("%w: level %d at step %d is not representable (%v)", ErrInvalidParameter, i, n, price)
			}
			row[i] = price
		}
	}

	return &Lattice{
		steps:  steps,
		spot:   spot,
		up:     up,
		prices: prices,
	}, nil
}

func (l *Lattice) Steps() int { return l.steps }

func (l *Lattice) Spot() float64 { return l.spot }

func (l *Lattice) Up() float64 { return l.up }

func (l *Lattice) Down() float64 { return 1 / l.up }

// Price returns price(n, i).
func (l *Lattice) Price(n, i int) float64 {
	return l.prices[nodeOffset(n)+i]
}

// Levels returns E_n. The slice aliases the lattice and must not be modified.
func (l *Lattice) Levels(n int) []float64 {
	return l.prices[nodeOffset(n) : nodeOffset(n)+n+1 : nodeOffset(n)+n+1]
}

// Rows copies the lattice into one slice per step, for reporting.
func (l *Lattice) Rows() [][]float64 {
	return copyRows(l.prices, l.steps)
}

// NodeValues is a triangular arena with one float per lattice node.
type NodeValues struct {
	steps int
	data  []float64
}

func NewNodeValues(steps int) *NodeValues {
	return &NodeValues{
		steps: steps,
		data:  make([]float64, nodeCount(steps)),
	}
}

func (v *NodeValues) Steps() int { return v.steps }

func (v *NodeValues) At(n, i int) float64 {
	return v.data[nodeOffset(n)+i]
}

func (v *NodeValues) Set(n, i int, value float64) {
	v.data[nodeOffset(n)+i] = value
}

// Step returns the n+1 values at step n. The slice aliases the arena.
func (v *NodeValues) Step(n int) []float64 {
	return v.data[nodeOffset(n) : nodeOffset(n)+n+1 : nodeOffset(n)+n+1]
}

func (v *NodeValues) Rows() [][]float64 {
	return copyRows(v.data, v.steps)
}

func copyRows(data []float64, steps int) [][]float64 {
	rows := make([][]float64, steps+1)
	for n := range rows {
		rows[n] = append([]float64(nil), data[nodeOffset(n):nodeOffset(n)+n+1]...)
	}
	return rows
}

// ExerciseRegion flags the nodes where immediate exercise is optimal.
type ExerciseRegion struct {
	steps int
	flags []bool
}

func NewExerciseRegion(steps int) *ExerciseRegion {
	return &ExerciseRegion{
		steps: steps,
		flags: make([]bool, nodeCount(steps)),
	}
}

func (e *ExerciseRegion) Steps() int { return e.steps }

func (e *ExerciseRegion) IsExercise(n, i int) bool {
	return e.flags[nodeOffset(n)+i]
}

func (e *ExerciseRegion) Set(n, i int, exercise bool) {
	e.flags[nodeOffset(n)+i] = exercise
}

// Count returns the number of exercise nodes at step n.
func (e *ExerciseRegion) Count(n int) int {
	count := 0
	for _, f := range e.flags[nodeOffset(n) : nodeOffset(n)+n+1] {
		if f {
			count++
		}
	}
	return count
}

// CriticalPrices returns, per step, the highest in-the-money lattice price
// (below strike) flagged as an exercise node, or NaN when there is none.
// Out-of-the-money nodes with zero value are flagged too and are skipped here.
func (e *ExerciseRegion) CriticalPrices(l *Lattice, strike float64) []float64 {
	critical := make([]float64, e.steps+1)
	for n := range critical {
		critical[n] = math.NaN()
		for i := n; i >= 0; i-- {
			if e.IsExercise(n, i) && l.Price(n, i) < strike {
				critical[n] = l.Price(n, i)
				break
			}
		}
	}
	return critical
}
