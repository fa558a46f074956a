package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
	"pgregory.net/rapid"
)

func TestCLsBoundary(t *testing.T) {
	for _, tilde := range []bool{false, true} {
		a := Asymptotics{TargetCLs: 0.05, Tilde: tilde}

		// CLb vanishes only at qmu = +Inf, where Pb is exactly 1.
		inf := math.Inf(1)
		require.Equal(t, 1.0, a.Pb(inf, 1, 1))
		require.Equal(t, 0.0, a.CLb(inf, 1, 1))
		assert.Equal(t, 0.5, a.CLs(inf, 1, 1))
		assert.Equal(t, 0.0, a.DerCLs(inf, 1, 1))

		// Far in the tail Pb rounds to 1 but CLb does not vanish, and CLs
		// keeps falling.
		require.Equal(t, 1.0, a.Pb(2500, 1, 1))
		assert.Less(t, a.CLs(2500, 1, 1), a.CLs(100, 1, 1))
		assert.GreaterOrEqual(t, a.CLs(2500, 1, 1), 0.0)
	}
}

func TestCLsTailStaysMonotone(t *testing.T) {
	a := Asymptotics{TargetCLs: 0.05, Tilde: true}

	// mu/sigma = 0.422: CLb is below 1e-15 at qmu = 7.57.
	c1 := a.CLs(1.93, 5, 2.11)
	c2 := a.CLs(7.57, 5, 2.11)
	assert.InDelta(t, 0.3296, c1, 1e-3)
	assert.InDelta(t, 0.02169, c2, 1e-4)
	assert.Greater(t, a.CLb(7.57, 5, 2.11), 0.0)

	// Both tails underflow here.
	r := 0.04
	c3 := a.CLs(19, 1, r)
	assert.Less(t, c3, a.CLs(1.7, 1, r))
	assert.Less(t, c3, 0.5)
	assert.Greater(t, a.Pmu(1.7, 1, r), 0.0)
}

func TestLogSurvivalContinuousAtCutoff(t *testing.T) {
	below := logSurvival(math.Nextafter(tailCutoff, 0))
	above := logSurvival(tailCutoff)
	assert.InDelta(t, below, above, 1e-9*math.Abs(below))
	assert.InDelta(t, math.Log(distuv.UnitNormal.Survival(36)), logSurvival(36), 1e-9)
}

func TestCLsAtAsimovMedian(t *testing.T) {
	a := Asymptotics{TargetCLs: 0.05, Tilde: true}
	r := 1.96

	// On the mu=0 Asimov dataset qmu = (mu/sigma)^2 and CLs = 2(1 - Phi(r)).
	got := a.CLs(r*r, 1, r)
	assert.InDelta(t, 2*(1-distuv.UnitNormal.CDF(r)), got, 1e-12)
	assert.InDelta(t, 0.05, got, 1e-3)
}

func TestProperty_PValuesInUnitInterval(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := Asymptotics{TargetCLs: 0.05, Tilde: rapid.Bool().Draw(rt, "tilde")}
		q := rapid.Float64Range(0, 100).Draw(rt, "qmu")
		sigma := rapid.Float64Range(0.01, 10).Draw(rt, "sigma")
		mu := rapid.Float64Range(-20, 20).Draw(rt, "mu")
		if math.Abs(mu) < 1e-3 {
			mu = 1e-3
		}

		pmu := a.Pmu(q, sigma, mu)
		pb := a.Pb(q, sigma, mu)
		assert.GreaterOrEqual(rt, pmu, 0.0)
		assert.LessOrEqual(rt, pmu, 1.0)
		assert.GreaterOrEqual(rt, pb, 0.0)
		assert.LessOrEqual(rt, pb, 1.0)
	})
}

func TestProperty_CLsNonIncreasing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := Asymptotics{TargetCLs: 0.05, Tilde: rapid.Bool().Draw(rt, "tilde")}
		sigma := rapid.Float64Range(0.1, 5).Draw(rt, "sigma")
		mu := rapid.Float64Range(0.1, 10).Draw(rt, "mu")
		q1 := rapid.Float64Range(0, 30).Draw(rt, "q1")
		q2 := q1 + rapid.Float64Range(0, 30).Draw(rt, "dq")

		c1, c2 := a.CLs(q1, sigma, mu), a.CLs(q2, sigma, mu)
		assert.LessOrEqual(rt, c2, c1+1e-12)
	})
}

func TestDerCLsMatchesFiniteDifference(t *testing.T) {
	for _, tilde := range []bool{false, true} {
		a := Asymptotics{TargetCLs: 0.05, Tilde: tilde}
		sigma, mu := 0.8, 1.6 // boundary at qmu = 4
		for _, q := range []float64{0.5, 2, 3.5, 5, 8} {
			h := 1e-6
			fd := (a.CLs(q+h, sigma, mu) - a.CLs(q-h, sigma, mu)) / (2 * h)
			assert.InDelta(t, fd, a.DerCLs(q, sigma, mu), 1e-6, "tilde=%v q=%g", tilde, q)
		}
	}
}

func TestQmu95(t *testing.T) {
	a := Asymptotics{TargetCLs: 0.05, Tilde: true}

	for _, r := range []float64{0.5, 1, 1.96, 3, 6} {
		q, err := a.Qmu95(1, r)
		require.NoError(t, err)
		assert.InDelta(t, 0.05, a.CLs(q, 1, r), 5e-4, "mu/sigma=%g", r)
	}

	// For large mu/sigma CLs tends to CLs+b and q95 to z(0.95)^2.
	q, err := a.Qmu95(1, 20)
	require.NoError(t, err)
	z := distuv.UnitNormal.Quantile(0.95)
	assert.InDelta(t, z*z, q, 0.02)
}

func TestQmu95NearFastPath(t *testing.T) {
	a := Asymptotics{TargetCLs: 0.05, Tilde: true}

	// Just above the fast-path threshold the Newton start sits deep in the
	// CLb tail.
	for _, r := range []float64{0.17, 0.2, 0.25, 0.3, 0.35, 0.4} {
		q, err := a.Qmu95(1, r)
		require.NoError(t, err)
		assert.InDelta(t, 0.05, a.CLs(q, 1, r), 5e-4, "mu/sigma=%g", r)
		assert.InDelta(t, 5.9, q, 0.1, "mu/sigma=%g", r)
	}
}

func TestQmu95FastPath(t *testing.T) {
	a := Asymptotics{TargetCLs: 0.05, Tilde: true}

	q, err := a.Qmu95(100, 1)

	require.NoError(t, err)
	assert.InDelta(t, -2*math.Log(0.05), q, 1e-12)
}

func TestQmu95Brute(t *testing.T) {
	a := Asymptotics{TargetCLs: 0.05, Tilde: true}

	q := a.Qmu95Brute(1, 2)
	newton, err := a.Qmu95(1, 2)
	require.NoError(t, err)

	assert.InDelta(t, newton, q, 0.01)
	assert.LessOrEqual(t, a.CLs(q, 1, 2), 0.05)
}

func TestPValueFromQ0(t *testing.T) {
	p, z := PValueFromQ0(4, 1.2)
	assert.InDelta(t, 2, z, 1e-12)
	assert.InDelta(t, 1-distuv.UnitNormal.CDF(2), p, 1e-12)

	p, z = PValueFromQ0(4, -0.3)
	assert.InDelta(t, -2, z, 1e-12)
	assert.Greater(t, p, 0.5)
}

func TestBands(t *testing.T) {
	a := Asymptotics{TargetCLs: 0.05}
	sigma := a.MedianSigma(1.96)

	assert.InDelta(t, 1, sigma, 1e-3)
	assert.InDelta(t, 1.96, a.BandApprox(sigma, 0), 1e-3)
	assert.Less(t, a.BandApprox(sigma, -2), a.BandApprox(sigma, -1))
	assert.Less(t, a.BandApprox(sigma, -1), a.BandApprox(sigma, 0))
	assert.Less(t, a.BandApprox(sigma, 0), a.BandApprox(sigma, 1))
	assert.Less(t, a.BandApprox(sigma, 1), a.BandApprox(sigma, 2))
}
