package pricing

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bcdannyboy/crrput/models"
)

// Solution is the completed lattice of one priced option. All fields are
// read-only once Price returns.
type Solution struct {
	Params     models.Params
	Derived    models.Derived
	Lattice    *models.Lattice
	Transition *models.TransitionModel
	Payoff     *models.NodeValues
	Value      *models.NodeValues
	Exercise   *models.ExerciseRegion
}

// RootPrice is V_0[0], the fair value today.
func (s *Solution) RootPrice() float64 {
	return s.Value.At(0, 0)
}

// CriticalPrices is the early-exercise boundary per step.
func (s *Solution) CriticalPrices() []float64 {
	return s.Exercise.CriticalPrices(s.Lattice, s.Params.Strike)
}

type Pricer struct {
	allowArbitrage bool
	matching       models.Matching
	tolerance      float64
	log            logrus.FieldLogger
}

type Option func(*Pricer)

// WithAllowArbitrage lets pricing proceed, with a warning, when q_u is outside (0,1).
func WithAllowArbitrage(allow bool) Option {
	return func(p *Pricer) {
		p.allowArbitrage = allow
	}
}

// WithMatching selects how transition targets are matched.
func WithMatching(m models.Matching, tolerance float64) Option {
	return func(p *Pricer) {
		p.matching = m
		p.tolerance = tolerance
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pricer) {
		if log != nil {
			p.log = log
		}
	}
}

func NewPricer(opts ...Option) *Pricer {
	p := &Pricer{
		matching:  models.MatchByIndex,
		tolerance: models.DefaultMatchTolerance,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Price builds the lattice, transition model and payoffs for params and runs
// the backward induction.
func (p *Pricer) Price(params models.Params) (*Solution, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	derived := params.Derive()
	log := p.log.WithFields(logrus.Fields{
		"steps":  params.Steps,
		"strike": params.Strike,
		"spot":   params.Spot,
		"q_u":    derived.ProbUp,
	})

	if !derived.ArbitrageFree() {
		if !p.allowArbitrage {
			return nil, fmt.Errorf("%w: q_u = %v", models.ErrNonArbitrageFree, derived.ProbUp)
		}
		log.Warn("up probability outside (0,1); lattice price is not arbitrage free")
	}

	lattice, err := models.BuildLattice(params.Spot, derived.Up, params.Steps)
	if err != nil {
		return nil, fmt.Errorf("building lattice: %w", err)
	}

	tm, err := models.NewTransitionModel(lattice, derived.ProbUp, models.WithMatching(p.matching, p.tolerance))
	if err != nil {
		return nil, fmt.Errorf("building transition model: %w", err)
	}

	payoff := models.Payoffs(lattice, params.Strike)

	value, err := Backward(payoff, tm, derived.Discount)
	if err != nil {
		return nil, fmt.Errorf("backward induction: %w", err)
	}

	sol := &Solution{
		Params:     params,
		Derived:    derived,
		Lattice:    lattice,
		Transition: tm,
		Payoff:     payoff,
		Value:      value,
		Exercise:   ExtractExercise(value, payoff, 0),
	}

	log.WithField("price", sol.RootPrice()).Debug("lattice priced")
	return sol, nil
}
