package minimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/thmegy/Unfolding-sub003/model"
)

func params(t *testing.T, ps ...model.Parameter) *model.Parameters {
	t.Helper()
	p := model.NewParameters()
	for _, par := range ps {
		_, err := p.Add(par)
		require.NoError(t, err)
	}
	return p
}

func TestMinimizeQuadratic(t *testing.T) {
	p := params(t,
		model.Parameter{Name: "x", Value: 0, Min: -10, Max: 10},
		model.Parameter{Name: "y", Value: 0},
	)
	f := func(v []float64) float64 {
		return (v[0]-1.5)*(v[0]-1.5) + 2*(v[1]+0.5)*(v[1]+0.5) + 3
	}

	res := New(DefaultConfig(), nil).Minimize(f, p)

	assert.True(t, res.OK(), "status %d", res.Status)
	assert.InDelta(t, 3, res.MinNLL, 1e-6)
	assert.InDelta(t, 1.5, p.Value(0), 1e-3)
	assert.InDelta(t, -0.5, p.Value(1), 1e-3)
	assert.Greater(t, res.Evaluations, 0)
}

func TestMinimizeRespectsBounds(t *testing.T) {
	p := params(t, model.Parameter{Name: "x", Value: 1, Min: 0, Max: 2})
	f := func(v []float64) float64 { return (v[0] - 5) * (v[0] - 5) }

	New(DefaultConfig(), nil).Minimize(f, p)

	assert.LessOrEqual(t, p.Value(0), 2.0)
	assert.InDelta(t, 2, p.Value(0), 1e-2)
}

func TestMinimizeSkipsConstants(t *testing.T) {
	p := params(t,
		model.Parameter{Name: "x", Value: 0, Min: -5, Max: 5},
		model.Parameter{Name: "c", Value: 2, Min: -5, Max: 5, Constant: true},
	)
	f := func(v []float64) float64 { return (v[0]-v[1])*(v[0]-v[1]) + v[1] }

	res := New(DefaultConfig(), nil).Minimize(f, p)

	assert.True(t, res.OK())
	assert.Equal(t, 2.0, p.Value(1))
	assert.InDelta(t, 2, p.Value(0), 1e-3)
}

func TestMinimizeNoFreeParameters(t *testing.T) {
	p := params(t, model.Parameter{Name: "c", Value: 2, Constant: true})

	res := New(DefaultConfig(), nil).Minimize(func(v []float64) float64 { return v[0] * 10 }, p)

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 20.0, res.MinNLL)
}

func TestMinimizeSimplexAndConcurrent(t *testing.T) {
	skewed := func(v []float64) float64 {
		a, b := v[0]-1, v[1]-2
		return a*a + 10*b*b + a*b
	}
	for _, cfg := range []Config{
		{Algorithm: Simplex, Strategy: 2, PrintLevel: -1},
		{Algorithm: LBFGS, Strategy: 1, Workers: 4, PrintLevel: -1},
	} {
		p := params(t,
			model.Parameter{Name: "x", Value: -1.2, Min: -5, Max: 5},
			model.Parameter{Name: "y", Value: 1, Min: -5, Max: 5},
		)
		res := New(cfg, nil).Minimize(skewed, p)
		assert.Less(t, res.MinNLL, 1e-3, cfg.Algorithm)
		assert.InDelta(t, 1, p.Value(0), 5e-2, cfg.Algorithm)
		assert.InDelta(t, 2, p.Value(1), 5e-2, cfg.Algorithm)
	}
}

func TestMinimizeNaNObjectiveFails(t *testing.T) {
	p := params(t, model.Parameter{Name: "x", Value: 1, Min: -5, Max: 5})

	res := New(DefaultConfig(), nil).Minimize(func([]float64) float64 { return math.NaN() }, p)

	assert.False(t, res.OK())
	assert.Equal(t, 1.0, p.Value(0))
}

func TestLadder(t *testing.T) {
	m := New(Config{Algorithm: BFGS, Strategy: 1}, nil)

	assert.Equal(t, []attempt{
		{BFGS, 1}, {BFGS, 2}, {Simplex, 1}, {Simplex, 2},
	}, m.ladder())

	m = New(Config{Algorithm: Simplex, Strategy: 5}, nil)
	assert.Equal(t, []attempt{{Simplex, 2}, {BFGS, 2}}, m.ladder())
}

func TestProperty_BoundTransformRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lo := rapid.Float64Range(-100, 100).Draw(rt, "lo")
		w := rapid.Float64Range(0.1, 100).Draw(rt, "width")
		frac := rapid.Float64Range(0.01, 0.99).Draw(rt, "frac")
		x := lo + frac*w

		for _, b := range []bound{
			{lo: lo, hi: lo + w},
			{lo: lo, hi: math.Inf(1)},
			{lo: math.Inf(-1), hi: lo + w},
			{lo: math.Inf(-1), hi: math.Inf(1)},
		} {
			got := b.toExternal(b.toInternal(x))
			assert.InDelta(rt, x, got, 1e-6*math.Max(1, math.Abs(x)))
		}
	})
}
