package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func referenceLattice(t *testing.T) (*Lattice, Derived) {
	t.Helper()
	d := referenceParams().Derive()
	l, err := BuildLattice(100, d.Up, 30)
	require.NoError(t, err)
	return l, d
}

func TestTransitionRowsAreStochastic(t *testing.T) {
	l, d := referenceLattice(t)
	tm, err := NewTransitionModel(l, d.ProbUp)
	require.NoError(t, err)
	require.True(t, tm.ArbitrageFree())

	for n := 0; n < tm.Steps(); n++ {
		dense := tm.Dense(n)
		rows, cols := dense.Dims()
		require.Equal(t, n+1, rows)
		require.Equal(t, n+2, cols)

		for i := 0; i < rows; i++ {
			row := mat.Row(nil, i, dense)
			assert.InDelta(t, 1.0, floats.Sum(row), 1e-9)
			for j, p := range row {
				switch j {
				case i:
					assert.Equal(t, d.ProbDown, p)
				case i + 1:
					assert.Equal(t, d.ProbUp, p)
				default:
					assert.Zero(t, p)
				}
			}
			assert.NoError(t, tm.CheckRow(n, i))
		}
	}
}

func TestTransitionMatchByPriceAgreesWithIndex(t *testing.T) {
	l, d := referenceLattice(t)
	byIndex, err := NewTransitionModel(l, d.ProbUp)
	require.NoError(t, err)
	byPrice, err := NewTransitionModel(l, d.ProbUp, WithMatching(MatchByPrice, 0))
	require.NoError(t, err)

	for n := 0; n < l.Steps(); n++ {
		for i := 0; i <= n; i++ {
			wantDown, wantUp := byIndex.Row(n, i)
			gotDown, gotUp := byPrice.Row(n, i)
			assert.Equal(t, wantDown, gotDown)
			assert.Equal(t, wantUp, gotUp)
		}
	}
}

func TestTransitionMatchByPriceMismatch(t *testing.T) {
	l, d := referenceLattice(t)

	// neighbouring rungs differ by u^2 ~ 1.0073, so a 50% tolerance is ambiguous
	_, err := NewTransitionModel(l, d.ProbUp, WithMatching(MatchByPrice, 0.5))
	assert.ErrorIs(t, err, ErrNumericMismatch)
}

func TestMatchLevel(t *testing.T) {
	levels := []float64{80, 90, 100, 110}

	j, err := matchLevel(levels, 100*(1+1e-12), 1e-9)
	require.NoError(t, err)
	assert.Equal(t, 2, j)

	_, err = matchLevel(levels, 95, 1e-9)
	assert.ErrorIs(t, err, ErrNumericMismatch)

	_, err = matchLevel(levels, 95, 0.1)
	assert.ErrorIs(t, err, ErrNumericMismatch)
}

func TestTransitionSingleNodeLattice(t *testing.T) {
	l, err := BuildLattice(100, 1.1, 0)
	require.NoError(t, err)

	tm, err := NewTransitionModel(l, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, tm.Steps())
}

func TestTransitionNonArbitrageFreeStillBuilds(t *testing.T) {
	l, err := BuildLattice(100, 1.01, 3)
	require.NoError(t, err)

	tm, err := NewTransitionModel(l, 1.2)
	require.NoError(t, err)
	assert.False(t, tm.ArbitrageFree())
	assert.InDelta(t, -0.2, tm.ProbDown(), 1e-15)
	assert.ErrorIs(t, tm.CheckRow(0, 0), ErrSamplingFailure)
}

func TestTransitionRejectsNonFiniteProbability(t *testing.T) {
	l, err := BuildLattice(100, 1.01, 3)
	require.NoError(t, err)

	_, err = NewTransitionModel(l, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestMatchingString(t *testing.T) {
	assert.Equal(t, "index", MatchByIndex.String())
	assert.Equal(t, "price", MatchByPrice.String())
}
