package limit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/thmegy/Unfolding-sub003/histogram"
	"github.com/thmegy/Unfolding-sub003/minimizer"
	"github.com/thmegy/Unfolding-sub003/model"
	"github.com/thmegy/Unfolding-sub003/snapshot"
)

const singleBinYAML = `
poi: {name: mu, value: 1, min: -10, max: 10}
channels:
  - name: SR
    edges: [0, 1]
    samples:
      - name: signal
        nominal: [5]
        normFactors: [mu]
      - name: background
        nominal: [10]
`

func singleBin(t *testing.T, observed float64) (*Solver, *Binding) {
	t.Helper()
	spec, err := model.ParseSpec([]byte(singleBinYAML))
	require.NoError(t, err)
	m, err := spec.Build()
	require.NoError(t, err)

	data := histogram.NewDataset("data")
	data.Add(histogram.Entry{Channel: "SR", Bin: 0, Weight: observed})
	nll, err := m.CreateNLL("data", data)
	require.NoError(t, err)

	s := New(m, snapshot.NewStore(), minimizer.New(minimizer.DefaultConfig(), nil), DefaultOptions(), nil)
	return s, NewBinding("data", nll, snapshot.Key{})
}

// analyticMedian solves q_mu = z(1-alpha/2)^2 on the background-only Asimov
// dataset of a single-bin counting experiment by bisection.
func analyticMedian(s, b, alpha float64) float64 {
	z := distuv.UnitNormal.Quantile(1 - alpha/2)
	q := func(mu float64) float64 { return 2 * (s*mu - b*math.Log(1+s*mu/b)) }
	lo, hi := 0.0, 100.0
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if q(mid) < z*z {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func TestLimitSingleBinAnalytic(t *testing.T) {
	s, b := singleBin(t, 10)
	b.FixMuhatAtZero = true
	s.SetAsimov0(b)

	res, err := s.Limit(b, 0)
	require.NoError(t, err)

	want := analyticMedian(5, 10, 0.05)
	assert.InDelta(t, 1.508, want, 1e-3)
	assert.InDelta(t, want, res.Limit, 2*s.opts.Precision*want)
	assert.Less(t, res.Iterations, limitMaxIter)
	assert.Equal(t, 0.0, res.Muhat)
	assert.Equal(t, 0, res.Failures)

	cls, err := s.CLsAt(b, res.Limit)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, cls.CLs, 1e-3)
	assert.InDelta(t, cls.CLsb/cls.CLb, cls.CLs, 1e-12)
}

func TestLimitObservedExcess(t *testing.T) {
	s, obs := singleBin(t, 20)
	_, asimov := singleBin(t, 10)
	asimov.FixMuhatAtZero = true
	// Both bindings must share the solver model.
	asimov.NLL = asimov.NLL.Rebind(s.Model())
	s.SetAsimov0(asimov)

	med, err := s.Limit(asimov, 0)
	require.NoError(t, err)
	res, err := s.Limit(obs, med.Limit)
	require.NoError(t, err)

	assert.InDelta(t, 2, res.Muhat, 1e-3)
	assert.Greater(t, res.Limit, med.Limit)
}

// A model without constraint terms has no globals or nuisance parameters, so
// restoring the nominal snapshots after a fit must leave the POI alone.
func TestMinimizeKeepsPOIWithoutConstraints(t *testing.T) {
	for _, tc := range []struct {
		observed, muhat float64
	}{
		{20, 2},
		{7.5, -0.5},
		{10, 0},
	} {
		s, b := singleBin(t, tc.observed)
		require.Empty(t, s.Model().Globals)

		res := s.Minimize(b)
		require.True(t, res.OK())
		assert.InDelta(t, tc.muhat, s.Model().Params.Value(s.Model().POI), 1e-3)

		muhat, err := s.Muhat(b)
		require.NoError(t, err)
		assert.InDelta(t, tc.muhat, muhat, 1e-3)
	}
}

func TestQmuAndSigma(t *testing.T) {
	s, b := singleBin(t, 10)
	b.FixMuhatAtZero = true

	q, err := s.Qmu(b, 1)
	require.NoError(t, err)
	want := 2 * (5 - 10*math.Log(1.5))
	assert.InDelta(t, want, q, 1e-9)

	sigma, q2, err := s.Sigma(b, 1, 0)
	require.NoError(t, err)
	assert.InDelta(t, q, q2, 1e-12)
	assert.InDelta(t, 1/math.Sqrt(want), sigma, 1e-9)
}

func TestSigmaBranches(t *testing.T) {
	s, _ := singleBin(t, 10)

	assert.InDelta(t, 0.5, s.sigmaFromQ(4, 1, 2), 1e-12)
	assert.InDelta(t, 1.5, s.sigmaFromQ(4, 3, 0), 1e-12)
	// Negative muhat with the tilde statistic.
	assert.InDelta(t, math.Sqrt(9+6)/2, s.sigmaFromQ(4, 3, -1), 1e-12)

	s.SetDirection(-1)
	assert.InDelta(t, 1.5, s.sigmaFromQ(4, -3, 0), 1e-12)
}

func TestFindCrossingGaussian(t *testing.T) {
	s, _ := singleBin(t, 10)

	mu, err := s.FindCrossing(1, 1, 0)

	require.NoError(t, err)
	// With unit width CLs = 2(1 - Phi(mu)) on the crossing.
	assert.InDelta(t, distuv.UnitNormal.Quantile(0.975), mu, 0.01)
}

func TestFatalErrors(t *testing.T) {
	s, b := singleBin(t, 10)

	_, err := s.FindCrossing(math.NaN(), 1, 0)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrNaN)

	_, err = s.Qmu(b, math.NaN())
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "setMu", fe.Op)
}

func TestSetMuWidensRange(t *testing.T) {
	s, _ := singleBin(t, 10)
	poi := s.Model().POI

	require.NoError(t, s.setMu(15))
	lo, hi := s.Model().Params.Bounds(poi)
	assert.Equal(t, -10.0, lo)
	assert.Equal(t, 30.0, hi)
	assert.Equal(t, 15.0, s.Model().Params.Value(poi))

	require.NoError(t, s.setMu(-12))
	lo, _ = s.Model().Params.Bounds(poi)
	assert.Equal(t, -24.0, lo)
}

func TestPValueExcess(t *testing.T) {
	s, b := singleBin(t, 20)

	res, err := s.PValue(b, 0)
	require.NoError(t, err)

	nll := func(nu float64) float64 { return nu - 20*math.Log(nu) }
	q0 := 2 * (nll(10) - nll(20))
	assert.True(t, res.OK)
	assert.InDelta(t, 2, res.Muhat, 1e-3)
	assert.InDelta(t, q0, res.Q0, 1e-4)
	assert.InDelta(t, math.Sqrt(q0), res.Z, 1e-3)
	assert.InDelta(t, 1-distuv.UnitNormal.CDF(math.Sqrt(q0)), res.P, 1e-4)
}

func TestPValueDeficit(t *testing.T) {
	s, b := singleBin(t, 6)

	res, err := s.PValue(b, 0)

	require.NoError(t, err)
	assert.Less(t, res.Muhat, 0.0)
	assert.Less(t, res.Z, 0.0)
	assert.Greater(t, res.P, 0.5)
}

func TestForkIsolation(t *testing.T) {
	s, b := singleBin(t, 10)
	b.FixMuhatAtZero = true
	_, err := s.Muhat(b)
	require.NoError(t, err)

	f := s.Fork()
	f.Model().Params.Set(f.Model().POI, 7)
	f.Store().SaveAll(snapshot.Named("fork-only"), f.Model().Params)
	f.SetDirection(-1)
	f.SetTarget(0.3)

	assert.NotEqual(t, 7.0, s.Model().Params.Value(s.Model().POI))
	assert.False(t, s.Store().Has(snapshot.Named("fork-only")))
	assert.Equal(t, 1.0, s.Direction())
	assert.Equal(t, 0.05, s.Asymptotics().TargetCLs)
	assert.Len(t, f.cache, 1)
}
