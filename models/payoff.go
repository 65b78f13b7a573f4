package models

import "math"

// PutPayoff is the exercise value (K - price)+.
func PutPayoff(price, strike float64) float64 {
	return math.Max(0, strike-price)
}

// Payoffs evaluates PutPayoff at every lattice node.
func Payoffs(l *Lattice, strike float64) *NodeValues {
	phi := NewNodeValues(l.steps)
	for i, price := range l.prices {
		phi.data[i] = PutPayoff(price, strike)
	}
	return phi
}
