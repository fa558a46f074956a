package runner

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thmegy/Unfolding-sub003/histogram"
	"github.com/thmegy/Unfolding-sub003/model"
	"github.com/thmegy/Unfolding-sub003/stats"
)

// twoBinYAML is a two-bin counting experiment: 5 signal events per bin at
// mu = 1 over 10 background events known to 10%.
const twoBinYAML = `
name: counting
poi: {name: mu, value: 1, min: -40, max: 40}
channels:
  - name: SR
    edges: [0, 1, 2]
    samples:
      - name: signal
        nominal: [5, 5]
        normFactors: [mu]
      - name: background
        nominal: [10, 10]
        normSys:
          - {name: bkg_norm, lo: 0.9, hi: 1.1}
      - name: injected
        nominal: [5, 5]
        normFactors: [mu_inj]
`

// bareYAML is the same counting experiment with the background known exactly,
// leaving mu as the only parameter.
const bareYAML = `
name: bare
poi: {name: mu, value: 1, min: -40, max: 40}
channels:
  - name: SR
    edges: [0, 1, 2]
    samples:
      - name: signal
        nominal: [5, 5]
        normFactors: [mu]
      - name: background
        nominal: [10, 10]
`

func twoBin(t *testing.T) *model.Model {
	t.Helper()
	return buildModel(t, twoBinYAML)
}

func buildModel(t *testing.T, doc string) *model.Model {
	t.Helper()
	spec, err := model.ParseSpec([]byte(doc))
	require.NoError(t, err)
	m, err := spec.Build()
	require.NoError(t, err)
	return m
}

func backgroundData() *histogram.Dataset {
	return countingData(10, 10)
}

func countingData(n0, n1 float64) *histogram.Dataset {
	d := histogram.NewDataset("obsData")
	d.Add(histogram.Entry{Channel: "SR", Bin: 0, Weight: n0})
	d.Add(histogram.Entry{Channel: "SR", Bin: 1, Weight: n1})
	return d
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InjectionParam = "mu_inj"
	return cfg
}

func TestRunTwoBinCounting(t *testing.T) {
	cfg := testConfig()
	rec, err := Run(context.Background(), twoBin(t), backgroundData(), cfg, nil)
	require.NoError(t, err)

	// Without the 10% background uncertainty the median limit is 1.009.
	assert.Greater(t, rec.ExpUpperLimit, 1.0)
	assert.Less(t, rec.ExpUpperLimit, 1.3)
	assert.Equal(t, 0.0, rec.MuHatExp)
	assert.Equal(t, 0, rec.FitStatus)

	// The observed data equal the background expectation.
	assert.InEpsilon(t, rec.ExpUpperLimit, rec.ObsUpperLimit, 0.02)
	assert.InDelta(t, 0, rec.MuHatObs, 0.05)

	assert.Greater(t, rec.ExpUpperLimitP2, rec.ExpUpperLimitP1)
	assert.Greater(t, rec.ExpUpperLimitP1, rec.ExpUpperLimit)
	assert.Greater(t, rec.ExpUpperLimit, rec.ExpUpperLimitM1)
	assert.Greater(t, rec.ExpUpperLimitM1, rec.ExpUpperLimitM2)
	assert.Greater(t, rec.ExpUpperLimitM2, 0.0)

	assert.True(t, math.IsNaN(rec.InjUpperLimit))
	assert.Greater(t, rec.SignificanceExp, 1.0)
	assert.Less(t, rec.SignificanceExp, 2.2)
	assert.InDelta(t, 0.5, rec.PValueObs, 0.05)

	assert.Contains(t, rec.ParamsHat, "alpha_bkg_norm")
	assert.Contains(t, rec.ParamsMed, "alpha_bkg_norm")

	// CLs at the returned limit hits the target.
	cfg.TestPOI = rec.ExpUpperLimit
	cfg.DoObserved = false
	cfg.DoPValues = false
	cfg.BetterBands = false
	at, err := Run(context.Background(), twoBin(t), backgroundData(), cfg, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, at.CLsMed, 0.003)
	assert.InDelta(t, rec.ExpUpperLimit, at.ExpUpperLimit, 1e-9)
}

func TestRunInjection(t *testing.T) {
	m := twoBin(t)
	cfg := testConfig()
	cfg.DoInjected = true
	cfg.InjectionStrength = 1
	cfg.DoObserved = false
	cfg.DoPValues = false
	cfg.BetterBands = false

	rec, err := Run(context.Background(), m, backgroundData(), cfg, nil)
	require.NoError(t, err)
	assert.Greater(t, rec.InjUpperLimit, rec.ExpUpperLimit)

	inj, ok := m.Params.Index("mu_inj")
	require.True(t, ok)
	assert.Equal(t, 0.0, m.Params.Value(inj))
}

func TestRunBlind(t *testing.T) {
	cfg := testConfig()
	cfg.Blind = true
	cfg.BetterBands = false
	rec, err := Run(context.Background(), twoBin(t), nil, cfg, nil)
	require.NoError(t, err)

	assert.False(t, math.IsNaN(rec.ExpUpperLimit))
	assert.False(t, math.IsNaN(rec.PValueExp))
	assert.True(t, math.IsNaN(rec.ObsUpperLimit))
	assert.True(t, math.IsNaN(rec.CLsObs))
	assert.True(t, math.IsNaN(rec.PValueObs))
	assert.Empty(t, rec.ParamsHat)
}

func TestRunNeedsData(t *testing.T) {
	_, err := Run(context.Background(), twoBin(t), nil, testConfig(), nil)
	require.Error(t, err)
}

func TestRunClosedFormBands(t *testing.T) {
	cfg := testConfig()
	cfg.BetterBands = false
	cfg.DoObserved = false
	cfg.DoPValues = false
	rec, err := Run(context.Background(), twoBin(t), backgroundData(), cfg, nil)
	require.NoError(t, err)

	asym := stats.Asymptotics{TargetCLs: cfg.TargetCLs}
	med := rec.ExpUpperLimit
	sigma := asym.MedianSigma(med)
	assert.InDelta(t, asym.BandApprox(sigma, 1), rec.ExpUpperLimitP1, 1e-9)
	assert.InDelta(t, asym.BandApprox(sigma, 2), rec.ExpUpperLimitP2, 1e-9)
	assert.InDelta(t, asym.BandApprox(sigma, -1), rec.ExpUpperLimitM1, 1e-9)
	assert.InDelta(t, asym.BandApprox(sigma, -2), rec.ExpUpperLimitM2, 1e-9)
	assert.Less(t, rec.ExpUpperLimitM1, med)
	assert.Greater(t, rec.ExpUpperLimitP1, med)
}

func TestRunForkedBands(t *testing.T) {
	cfg := testConfig()
	cfg.DoObserved = false
	cfg.DoPValues = false
	cfg.BetterNegativeBands = true
	seq, err := Run(context.Background(), twoBin(t), backgroundData(), cfg, nil)
	require.NoError(t, err)

	cfg.BandWorkers = 4
	par, err := Run(context.Background(), twoBin(t), backgroundData(), cfg, nil)
	require.NoError(t, err)

	assert.InDelta(t, seq.ExpUpperLimit, par.ExpUpperLimit, 1e-9)
	assert.InEpsilon(t, seq.ExpUpperLimitP2, par.ExpUpperLimitP2, 0.02)
	assert.InEpsilon(t, seq.ExpUpperLimitP1, par.ExpUpperLimitP1, 0.02)
	assert.InEpsilon(t, seq.ExpUpperLimitM1, par.ExpUpperLimitM1, 0.02)
	assert.InEpsilon(t, seq.ExpUpperLimitM2, par.ExpUpperLimitM2, 0.02)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, twoBin(t), backgroundData(), testConfig(), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunSuppliedAsimov(t *testing.T) {
	cfg := testConfig()
	cfg.DoObserved = false
	cfg.DoPValues = false
	cfg.BetterBands = false
	ref, err := Run(context.Background(), twoBin(t), backgroundData(), cfg, nil)
	require.NoError(t, err)

	cfg.Asimov0 = backgroundData()
	rec, err := Run(context.Background(), twoBin(t), backgroundData(), cfg, nil)
	require.NoError(t, err)
	assert.InEpsilon(t, ref.ExpUpperLimit, rec.ExpUpperLimit, 0.01)
}

func TestRunWithoutConstraints(t *testing.T) {
	m := buildModel(t, bareYAML)
	require.Empty(t, m.Nuisance)
	cfg := DefaultConfig()
	cfg.DoPValues = false
	rec, err := Run(context.Background(), m, countingData(20, 20), cfg, nil)
	require.NoError(t, err)

	// q_mu = 4 (5 mu - 10 ln(1 + mu/2)) reaches 1.96^2 at mu = 1.00898.
	assert.InDelta(t, 1.00898, rec.ExpUpperLimit, 0.005)
	assert.Equal(t, 0, rec.FitStatus)
	assert.InDelta(t, 2, rec.MuHatObs, 1e-3)
	assert.Greater(t, rec.ObsUpperLimit, rec.MuHatObs)
	assert.Less(t, rec.ObsUpperLimit, 10.0)
	assert.Greater(t, rec.ExpUpperLimitP1, rec.ExpUpperLimit)
	assert.Less(t, rec.ExpUpperLimitM1, rec.ExpUpperLimit)

	cfg.TestPOI = rec.ExpUpperLimit
	cfg.DoObserved = false
	cfg.BetterBands = false
	at, err := Run(context.Background(), buildModel(t, bareYAML), countingData(20, 20), cfg, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, at.CLsMed, 0.003)
}

// Better bands depend on the background-only Asimov data alone, whatever
// the observed data.
func TestBetterBandsIgnoreObservedData(t *testing.T) {
	cfg := testConfig()
	cfg.DoObserved = false
	cfg.DoPValues = false
	cfg.BetterNegativeBands = true
	cfg.Asimov0 = backgroundData()

	ref, err := Run(context.Background(), twoBin(t), backgroundData(), cfg, nil)
	require.NoError(t, err)
	excess, err := Run(context.Background(), twoBin(t), countingData(30, 30), cfg, nil)
	require.NoError(t, err)

	assert.InDelta(t, ref.ExpUpperLimit, excess.ExpUpperLimit, 1e-6)
	assert.InDelta(t, ref.ExpUpperLimitP2, excess.ExpUpperLimitP2, 1e-6)
	assert.InDelta(t, ref.ExpUpperLimitP1, excess.ExpUpperLimitP1, 1e-6)
	assert.InDelta(t, ref.ExpUpperLimitM1, excess.ExpUpperLimitM1, 1e-6)
	assert.InDelta(t, ref.ExpUpperLimitM2, excess.ExpUpperLimitM2, 1e-6)
	assert.Greater(t, excess.ExpUpperLimitP1, excess.ExpUpperLimit)
	assert.Less(t, excess.ExpUpperLimitM1, excess.ExpUpperLimit)
}
