package limit

import (
	"math"

	"go.uber.org/zap"

	"github.com/thmegy/Unfolding-sub003/snapshot"
	"github.com/thmegy/Unfolding-sub003/stats"
)

// nudge is the shift applied to one nuisance parameter when retrying a
// failed conditional fit.
const nudge = 0.1

// PValueResult is a background-only p-value.
type PValueResult struct {
	P     float64
	Z     float64
	Q0    float64
	Muhat float64
	OK    bool
}

// PValue tests the hypothesis mu = muTest (0 for discovery) against the
// unconditional fit of the binding, using the one-sided asymptotic
// distribution of q0.
func (s *Solver) PValue(b *Binding, muTest float64) (*PValueResult, error) {
	f, err := s.unconditional(b)
	if err != nil {
		return nil, err
	}
	params := s.model.Params
	failures := s.failures

	_ = s.store.Load(snapshot.ForBinding(b.ID, f.muhat), params)
	res, err := s.fitAt(b, muTest)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		start := params.Values()
		for _, i := range s.model.Nuisance {
			params.SetValues(start)
			params.Set(i, params.Value(i)+nudge)
			if res, err = s.fitAt(b, muTest); err != nil {
				return nil, err
			}
			if res.OK() {
				s.logger.Debug("p-value fit recovered", zap.String("nudged", params.Name(i)))
				break
			}
		}
	}
	if !res.OK() {
		if err := s.store.Load(snapshot.Conditional(snapshot.ConditionalNuis, muTest), params); err == nil {
			if res, err = s.fitAt(b, muTest); err != nil {
				return nil, err
			}
		}
	}
	if res.OK() {
		s.failures = failures
	} else {
		s.failures = failures + 1
	}

	q0 := 2 * (res.MinNLL - f.nll)
	if math.IsNaN(q0) {
		return nil, fatal("pvalue", ErrNaN)
	}
	if q0 < 0 {
		q0 = 0
	}
	p, z := stats.PValueFromQ0(q0, f.muhat-muTest)
	return &PValueResult{P: p, Z: z, Q0: q0, Muhat: f.muhat, OK: res.OK()}, nil
}

// CLsResult holds the CLs quantities at one POI value.
type CLsResult struct {
	Mu    float64
	Qmu   float64
	Sigma float64
	CLs   float64
	CLsb  float64
	CLb   float64
	Pb    float64
}

// CLsAt evaluates CLs on the binding at mu, with the width taken from the
// background-only Asimov binding.
func (s *Solver) CLsAt(b *Binding, mu float64) (*CLsResult, error) {
	asimov0 := s.asimov0
	if asimov0 == nil {
		asimov0 = b
	}
	muhatB := 0.0
	if !asimov0.FixMuhatAtZero {
		var err error
		if muhatB, err = s.Muhat(asimov0); err != nil {
			return nil, err
		}
	}
	sigma, _, err := s.Sigma(asimov0, mu, muhatB)
	if err != nil {
		return nil, err
	}
	qmu, err := s.Qmu(b, mu)
	if err != nil {
		return nil, err
	}
	if qmu < 0 {
		qmu = 0
	}
	a := s.asym
	return &CLsResult{
		Mu:    mu,
		Qmu:   qmu,
		Sigma: sigma,
		CLs:   a.CLs(qmu, sigma, mu),
		CLsb:  a.Pmu(qmu, sigma, mu),
		CLb:   a.CLb(qmu, sigma, mu),
		Pb:    a.Pb(qmu, sigma, mu),
	}, nil
}
