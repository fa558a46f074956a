package model

import (
	"fmt"
	"go/format"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func nested(depth int, leaf Density) Density {
	d := leaf
	for i := 0; i < depth; i++ {
		d = &Product{Label: fmt.Sprintf("p%d", i), Terms: []Density{d}}
	}
	return d
}

func TestUnfoldDepth(t *testing.T) {
	leaf := &Gaussian{Label: "g", X: 1, Mean: 0, Sigma: 1}

	terms, err := Unfold(nested(49, leaf))
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Same(t, leaf, terms[0])

	_, err = Unfold(nested(MaxUnfoldDepth, leaf))
	assert.NoError(t, err)

	_, err = Unfold(nested(51, leaf))
	assert.ErrorIs(t, err, ErrUnfoldDepth)
}

func TestUnfoldCycleStops(t *testing.T) {
	p := &Product{Label: "loop"}
	p.Terms = []Density{p}

	_, err := Unfold(p)
	assert.ErrorIs(t, err, ErrUnfoldDepth)
}

func TestProperty_UnfoldReturnsUniqueTerminals(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nPool := rapid.IntRange(1, 6).Draw(rt, "pool")
		pool := make([]Terminal, nPool)
		for i := range pool {
			pool[i] = &Gaussian{Label: fmt.Sprintf("g%d", i), X: 2*i + 1, Mean: 2 * i, Sigma: 1}
		}

		used := make(map[Terminal]bool)
		var build func(depth int) Density
		build = func(depth int) Density {
			if depth >= 10 || rapid.Bool().Draw(rt, "leaf") {
				term := pool[rapid.IntRange(0, nPool-1).Draw(rt, "term")]
				used[term] = true
				return term
			}
			n := rapid.IntRange(1, 3).Draw(rt, "children")
			p := &Product{Label: "p"}
			for i := 0; i < n; i++ {
				p.Terms = append(p.Terms, build(depth+1))
			}
			return p
		}
		root := build(0)

		terms, err := Unfold(root)
		require.NoError(rt, err)
		assert.Len(rt, terms, len(used))

		seen := make(map[Terminal]bool)
		for _, term := range terms {
			assert.False(rt, seen[term], "duplicate terminal %s", term.Name())
			assert.True(rt, used[term])
			seen[term] = true
		}
	})
}

func TestTerminalLogProb(t *testing.T) {
	v := []float64{0.5, 0}

	g := &Gaussian{X: 1, Mean: 0, Sigma: 1}
	assert.InDelta(t, -0.5*math.Log(2*math.Pi)-0.125, g.LogProb(v), 1e-12)

	b := &BifurcatedGaussian{X: 1, Mean: 0, SigmaLo: 1, SigmaHi: 1}
	assert.InDelta(t, g.LogProb(v), b.LogProb(v), 1e-12)

	// Poisson with tau*x = 100 observed and tau*theta = 100 expected.
	p := &PoissonConstraint{X: 1, Mean: 0, Tau: 100}
	lg, _ := math.Lgamma(101)
	assert.InDelta(t, -(100 - 100*math.Log(100) + lg), p.LogProb([]float64{1, 1}), 1e-9)

	gc := &GammaConstraint{X: 1, Gamma: 0, Tau: 100}
	assert.True(t, math.IsInf(gc.LogProb([]float64{0, 1}), -1))
	assert.Greater(t, gc.LogProb([]float64{1, 1}), gc.LogProb([]float64{1.3, 1}))

	ln := &LogNormal{X: 1, Median: 0, Kappa: 1.1}
	assert.Greater(t, ln.LogProb([]float64{1, 1}), ln.LogProb([]float64{1.2, 1}))
}

func TestProductDependents(t *testing.T) {
	p := &Product{Terms: []Density{
		&Gaussian{X: 1, Mean: 0, Sigma: 1},
		&Gaussian{X: 3, Mean: 2, Sigma: 1},
		&Gaussian{X: 1, Mean: 0, Sigma: 2},
	}}

	assert.ElementsMatch(t, []int{0, 1, 2, 3}, p.Dependents())
	assert.True(t, p.DependsOn(3))
	assert.False(t, p.DependsOn(4))
}

func TestConstraintSourceIsFormatted(t *testing.T) {
	src, err := os.ReadFile("constraint.go")
	require.NoError(t, err)
	formatted, err := format.Source(src)
	require.NoError(t, err)
	assert.Equal(t, string(formatted), string(src))
}
