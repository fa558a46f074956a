package limit

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/thmegy/Unfolding-sub003/snapshot"
	"github.com/thmegy/Unfolding-sub003/stats"
)

const (
	limitMaxIter    = 25
	crossingMaxIter = 100
)

// LimitResult is the outcome of a limit computation.
type LimitResult struct {
	Limit      float64
	Muhat      float64
	Sigma      float64
	Iterations int
	// Nuisance holds the nuisance parameters at the unconditional fit.
	Nuisance map[string]float64
	// Failures is the number of fits that did not converge along the way.
	Failures int
}

// FindCrossing solves, in the parabolic approximation of q_mu with observed
// width sigmaObs, for the POI value where q_mu reaches the CLs threshold of
// an expected width sigma.
func (s *Solver) FindCrossing(sigmaObs, sigma, muhat float64) (float64, error) {
	d := s.direction
	z := distuv.UnitNormal.Quantile(1 - s.asym.TargetCLs)
	mu := muhat + z*sigmaObs*d
	damp := stats.NewDamper()
	for iter := 0; ; iter++ {
		if iter >= crossingMaxIter {
			s.logger.Error("findCrossing did not converge",
				zap.Float64("sigma_obs", sigmaObs),
				zap.Float64("sigma", sigma),
				zap.Float64("muhat", muhat),
				zap.Float64("mu", mu))
			return mu, fatal("findCrossing", ErrIterationLimit)
		}
		q95, err := s.asym.Qmu95(sigma, mu)
		if err != nil {
			return mu, fatal("qmu95", err)
		}
		qmu := (mu - muhat) * (mu - muhat) / (sigmaObs * sigmaObs)
		if s.asym.Tilde && muhat < 0 {
			qmu = (mu*mu - 2*mu*muhat) / (sigmaObs * sigmaObs)
		}
		deriv := 2 * (mu - muhat) / (sigmaObs * sigmaObs)
		corr := damp.Step(mu, (qmu-q95)/deriv, s.opts.Precision)
		mu -= corr
		if math.IsNaN(mu) {
			s.logger.Error("findCrossing diverged",
				zap.Float64("sigma_obs", sigmaObs),
				zap.Float64("sigma", sigma),
				zap.Float64("muhat", muhat))
			return mu, fatal("findCrossing", ErrNaN)
		}
		if math.Abs(corr) <= s.opts.Precision*math.Abs(mu)/10 {
			return mu, nil
		}
	}
}

// Limit iterates to the POI value at which CLs on the binding equals the
// target. initialGuess, if non-zero, is where the expected width is first
// estimated.
func (s *Solver) Limit(b *Binding, initialGuess float64) (*LimitResult, error) {
	failures := s.failures
	params := s.model.Params
	asimov0 := s.asimov0
	if asimov0 == nil {
		asimov0 = b
	}
	d := s.direction

	f, err := s.unconditional(b)
	if err != nil {
		return nil, err
	}
	muhat := f.muhat
	muhatB := 0.0
	if !asimov0.FixMuhatAtZero {
		if muhatB, err = s.Muhat(asimov0); err != nil {
			return nil, err
		}
	}

	start := initialGuess
	if start == 0 {
		start = 1
		if muhat >= 0.1 {
			start = muhat + d
		}
	}
	sigmaGuess, _, err := s.Sigma(asimov0, start, muhatB)
	if err != nil {
		return nil, err
	}
	muGuess, err := s.FindCrossing(sigmaGuess, sigmaGuess, muhat)
	if err != nil {
		return nil, err
	}

	var (
		muPre  = muhat
		sigma  = sigmaGuess
		damp   = stats.NewDamper()
		hist   []float64 // previous POI values with saved fits
		sigmas []float64
	)
	iter := 0
	for math.Abs(muPre-muGuess) > s.opts.Precision*muGuess*d {
		if iter >= limitMaxIter {
			s.logger.Error("limit did not converge",
				zap.String("binding", b.Name),
				zap.Float64("mu", muGuess),
				zap.Float64("mu_pre", muPre))
			return nil, fatal("getLimit", ErrIterationLimit)
		}
		if math.IsNaN(muGuess) {
			return nil, fatal("getLimit", ErrNaN)
		}

		extrapolated := false
		if s.opts.ExtrapolateSigma && len(hist) >= 2 &&
			math.Abs(muGuess-muPre) < 10*s.opts.Precision*math.Abs(muGuess) {
			n := len(hist)
			slope := (sigmas[n-1] - sigmas[n-2]) / (hist[n-1] - hist[n-2])
			if !math.IsNaN(slope) && !math.IsInf(slope, 0) {
				sigma = sigmas[n-1] + slope*(muGuess-hist[n-1])
				extrapolated = true
			}
		}
		if !extrapolated {
			s.seed(b, iter, muhat, muGuess, hist)
			if sigma, _, err = s.Sigma(b, muGuess, muhat); err != nil {
				return nil, err
			}
			s.store.Save(snapshot.ForBinding(b.ID, muGuess), params, s.model.Nuisance)
		}

		sigmaB := sigma
		if b != asimov0 {
			_ = s.store.Load(snapshot.ForBinding(asimov0.ID, muPre), params)
			if sigmaB, _, err = s.Sigma(asimov0, muGuess, muhatB); err != nil {
				return nil, err
			}
			s.store.Save(snapshot.ForBinding(asimov0.ID, muGuess), params, s.model.Nuisance)
		}

		crossing, err := s.FindCrossing(sigma, sigmaB, muhat)
		if err != nil {
			return nil, err
		}
		corr := damp.Step(muGuess, muGuess-crossing, s.opts.Precision)

		hist = append(hist, muGuess)
		sigmas = append(sigmas, sigma)
		muPre = muGuess
		muGuess -= corr
		iter++
		s.logger.Debug("limit iteration",
			zap.String("binding", b.Name),
			zap.Int("iteration", iter),
			zap.Float64("mu", muGuess),
			zap.Float64("sigma", sigma),
			zap.Float64("sigma_b", sigmaB),
			zap.Float64("damping", damp.Factor()))
	}
	limitIterations.Observe(float64(iter))

	return &LimitResult{
		Limit:      muGuess,
		Muhat:      f.muhat,
		Sigma:      sigma,
		Iterations: iter,
		Nuisance:   f.nuis,
		Failures:   s.failures - failures,
	}, nil
}

// seed sets the starting point of the fit at mu: the unconditional fit on the
// first iteration, otherwise a linear extrapolation of the two previous fits
// or the previous fit itself.
func (s *Solver) seed(b *Binding, iter int, muhat, mu float64, hist []float64) {
	params := s.model.Params
	if iter == 0 || len(hist) == 0 {
		_ = s.store.Load(snapshot.ForBinding(b.ID, muhat), params)
		return
	}
	n := len(hist)
	prev := snapshot.ForBinding(b.ID, hist[n-1])
	if s.opts.PredictiveFit && n >= 2 && hist[n-1] != hist[n-2] {
		v1, ok1 := s.store.Values(prev)
		v2, ok2 := s.store.Values(snapshot.ForBinding(b.ID, hist[n-2]))
		if ok1 && ok2 {
			t := (mu - hist[n-1]) / (hist[n-1] - hist[n-2])
			for i, x1 := range v1 {
				params.Set(i, x1+t*(x1-v2[i]))
			}
			return
		}
	}
	if err := s.store.Load(prev, params); err != nil {
		s.logger.Debug("no seed snapshot", zap.String("binding", b.Name), zap.Error(err))
	}
}

// String describes a limit result.
func (r *LimitResult) String() string {
	return fmt.Sprintf("limit=%.4f muhat=%.4f sigma=%.4f iterations=%d", r.Limit, r.Muhat, r.Sigma, r.Iterations)
}
