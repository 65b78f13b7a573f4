package probability

import (
	"io"
	"math"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdannyboy/crrput/models"
	"github.com/bcdannyboy/crrput/pricing"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func solve(t *testing.T, params models.Params) *pricing.Solution {
	t.Helper()
	sol, err := pricing.NewPricer(pricing.WithLogger(quietLogger())).Price(params)
	require.NoError(t, err)
	return sol
}

func referenceSolution(t *testing.T) *pricing.Solution {
	return solve(t, models.Params{Steps: 30, Strike: 100, Spot: 100, Maturity: 1, Rate: 0.03, Volatility: 0.02})
}

type countingProgress struct {
	n int64
}

func (c *countingProgress) IncrBy(n int) {
	atomic.AddInt64(&c.n, int64(n))
}

func TestValidateReferenceScenario(t *testing.T) {
	sol := referenceSolution(t)
	progress := &countingProgress{}

	est, err := Validate(sol, Config{
		Trials:   10000,
		Seed:     1,
		Progress: progress,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.2299, est.Mean, 0.015)
	assert.InDelta(t, 0.00657, est.HalfWidth, 0.002)
	assert.InDelta(t, est.Mean-est.HalfWidth, est.Lower, 1e-15)
	assert.InDelta(t, est.Mean+est.HalfWidth, est.Upper, 1e-15)
	assert.Equal(t, 10000, est.Trials)
	assert.Equal(t, DefaultConfidence, est.Confidence)
	assert.Equal(t, int64(10000), atomic.LoadInt64(&progress.n))

	total := 0
	for _, c := range est.StopCounts {
		total += c
	}
	assert.Equal(t, est.Trials, total)
	assert.Zero(t, est.StopCounts[0])
	assert.Greater(t, est.MeanStoppingStep, 0.0)
	assert.LessOrEqual(t, est.MeanStoppingStep, 30.0)
}

func TestValidateCoverage(t *testing.T) {
	sol := solve(t, models.Params{Steps: 50, Strike: 100, Spot: 100, Maturity: 1, Rate: 0.05, Volatility: 0.2})
	price := sol.RootPrice()

	const runs = 40
	covered := 0
	for seed := uint64(1); seed <= runs; seed++ {
		est, err := Validate(sol, Config{Trials: 2000, Seed: seed * 7919, Logger: quietLogger()})
		require.NoError(t, err)
		if est.Contains(price) {
			covered++
		}
	}

	// 95% intervals: about 38 of 40 expected
	assert.GreaterOrEqual(t, covered, 32)
}

func TestValidateDeterministicAcrossWorkers(t *testing.T) {
	sol := referenceSolution(t)

	single, err := Validate(sol, Config{Trials: 5000, Seed: 42, Workers: 1, Logger: quietLogger()})
	require.NoError(t, err)
	parallel, err := Validate(sol, Config{Trials: 5000, Seed: 42, Workers: 4, Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, single, parallel)
}

func TestValidateUndiscountedIsNotBelowDiscounted(t *testing.T) {
	sol := solve(t, models.Params{Steps: 50, Strike: 100, Spot: 100, Maturity: 1, Rate: 0.05, Volatility: 0.25})

	discounted, err := Validate(sol, Config{Trials: 4000, Seed: 3, Logger: quietLogger()})
	require.NoError(t, err)
	undiscounted, err := Validate(sol, Config{Trials: 4000, Seed: 3, Discounting: Undiscounted, Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, discounted.StopCounts, undiscounted.StopCounts)
	assert.Greater(t, undiscounted.Mean, discounted.Mean)
	assert.Equal(t, Undiscounted, undiscounted.Discounting)
}

func TestValidateRootExercise(t *testing.T) {
	sol := solve(t, models.Params{Steps: 30, Strike: 100, Spot: 50, Maturity: 1, Rate: 0.05, Volatility: 0.2})

	est, err := Validate(sol, Config{Trials: 100, Seed: 1, Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, 50.0, est.Mean)
	assert.Zero(t, est.Variance)
	assert.Equal(t, 100, est.StopCounts[0])
	assert.Zero(t, est.MeanStoppingStep)
}

func TestSimulateSingleNodeLattice(t *testing.T) {
	l, err := models.BuildLattice(100, 1.1, 0)
	require.NoError(t, err)
	tm, err := models.NewTransitionModel(l, 0.5)
	require.NoError(t, err)
	phi := models.Payoffs(l, 104)
	value, err := pricing.Backward(phi, tm, 1)
	require.NoError(t, err)

	est, err := Simulate(Inputs{
		Transition: tm,
		Exercise:   pricing.ExtractExercise(value, phi, 0),
		Payoff:     phi,
		Discount:   1,
	}, Config{Trials: 10, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, 4.0, est.Mean)
}

func TestSimulateSingleTrial(t *testing.T) {
	est, err := Validate(referenceSolution(t), Config{Trials: 1, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Zero(t, est.Variance)
	assert.True(t, math.IsInf(est.HalfWidth, 1))
}

func TestSimulateRejectsInvalidConfig(t *testing.T) {
	sol := referenceSolution(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero trials", Config{Trials: 0}},
		{"negative trials", Config{Trials: -5}},
		{"confidence of one", Config{Trials: 10, Confidence: 1}},
		{"negative confidence", Config{Trials: 10, Confidence: -0.5}},
		{"unknown discounting", Config{Trials: 10, Discounting: Discounting(7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = quietLogger()
			_, err := Validate(sol, tt.cfg)
			assert.ErrorIs(t, err, models.ErrInvalidParameter)
		})
	}
}

func TestSimulateRejectsMismatchedInputs(t *testing.T) {
	sol := referenceSolution(t)

	_, err := Simulate(Inputs{
		Transition: sol.Transition,
		Exercise:   models.NewExerciseRegion(3),
		Payoff:     sol.Payoff,
		Discount:   sol.Derived.Discount,
	}, Config{Trials: 10, Logger: quietLogger()})
	assert.ErrorIs(t, err, models.ErrInvalidParameter)

	_, err = Simulate(Inputs{}, Config{Trials: 10, Logger: quietLogger()})
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestSimulateSamplingFailure(t *testing.T) {
	params := models.Params{Steps: 5, Strike: 100, Spot: 100, Maturity: 1, Rate: 0.03, Volatility: 0.001}
	sol, err := pricing.NewPricer(pricing.WithLogger(quietLogger()), pricing.WithAllowArbitrage(true)).Price(params)
	require.NoError(t, err)

	_, err = Validate(sol, Config{Trials: 10, Logger: quietLogger()})
	assert.ErrorIs(t, err, models.ErrSamplingFailure)
}

func TestParseDiscounting(t *testing.T) {
	d, err := ParseDiscounting("stop")
	require.NoError(t, err)
	assert.Equal(t, DiscountToStop, d)

	d, err = ParseDiscounting("none")
	require.NoError(t, err)
	assert.Equal(t, Undiscounted, d)

	_, err = ParseDiscounting("weekly")
	assert.ErrorIs(t, err, models.ErrInvalidParameter)

	text, err := Undiscounted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "none", string(text))
}
