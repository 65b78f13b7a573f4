package models

import (
	"fmt"
	"math"
)

// Params is the immutable parameter set of one American put.
type Params struct {
	Steps      int     // Number of lattice periods N
	Strike     float64 // Strike K
	Spot       float64 // Initial underlying price X0
	Maturity   float64 // Time to maturity T in years
	Rate       float64 // Continuously compounded risk-free rate r
	Volatility float64 // Annualised volatility sigma
}

// Derived holds the lattice quantities implied by Params.
type Derived struct {
	Dt       float64 // Length of one period
	Up       float64 // Up factor u
	Down     float64 // Down factor d = 1/u
	ProbUp   float64 // Risk-neutral up probability q_u
	ProbDown float64 // 1 - q_u
	Discount float64 // One-period discount factor e^(-r*dt)
}

func (p Params) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"strike", p.Strike},
		{"spot", p.Spot},
		{"maturity", p.Maturity},
		{"rate", p.Rate},
		{"volatility", p.Volatility},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidParameter, f.name, f.value)
		}
	}

	switch {
	case p.Steps <= 0:
		return fmt.Errorf("%w: steps must be positive, got %d", ErrInvalidParameter, p.Steps)
	case p.Spot <= 0:
		return fmt.Errorf("%w: spot must be positive, got %v", ErrInvalidParameter, p.Spot)
	case p.Maturity <= 0:
		return fmt.Errorf("%w: maturity must be positive, got %v", ErrInvalidParameter, p.Maturity)
	case p.Volatility <= 0:
		return fmt.Errorf("%w: volatility must be positive, got %v", ErrInvalidParameter, p.Volatility)
	}
	return nil
}

// Derive computes dt, u, d, q_u, q_d and the one-period discount factor.
// It does not validate; call Validate first.
func (p Params) Derive() Derived {
	dt := p.Maturity / float64(p.Steps)
	sqrtDt := math.Sqrt(dt)
	up := math.Exp(p.Volatility * sqrtDt)
	qu := 0.5 * (1 + ((p.Rate-0.5*p.Volatility*p.Volatility)/p.Volatility)*sqrtDt)

	return Derived{
		Dt:       dt,
		Up:       up,
		Down:     1 / up,
		ProbUp:   qu,
		ProbDown: 1 - qu,
		Discount: math.Exp(-p.Rate * dt),
	}
}

// ArbitrageFree reports whether q_u lies strictly inside (0,1).
func (d Derived) ArbitrageFree() bool {
	return d.ProbUp > 0 && d.ProbUp < 1
}
