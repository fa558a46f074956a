package limit

import (
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thmegy/Unfolding-sub003/minimizer"
	"github.com/thmegy/Unfolding-sub003/model"
	"github.com/thmegy/Unfolding-sub003/snapshot"
	"github.com/thmegy/Unfolding-sub003/stats"
)

// minQmu is the floor of q_mu when converting it to a width.
const minQmu = 1e-10

// Options configures a Solver.
type Options struct {
	TargetCLs  float64
	Tilde      bool
	Precision  float64
	MaxRetries int
	// PredictiveFit seeds each fit by extrapolating the nuisance parameters
	// of the two previous iterations.
	PredictiveFit bool
	// ExtrapolateSigma reuses a linear extrapolation of sigma instead of a
	// new fit once the iteration is within ten times the precision.
	ExtrapolateSigma bool
}

// DefaultOptions returns the options for 95% CL limits.
func DefaultOptions() Options {
	return Options{TargetCLs: 0.05, Tilde: true, Precision: stats.DefaultPrecision, MaxRetries: 3}
}

// Solver computes asymptotic CLs limits and p-values on NLL bindings of one
// model. It mutates the model parameters and is not safe for concurrent use;
// use Fork to obtain an independent solver.
type Solver struct {
	model     *model.Model
	store     *snapshot.Store
	min       *minimizer.Minimizer
	logger    *zap.Logger
	opts      Options
	asym      stats.Asymptotics
	direction float64
	asimov0   *Binding
	cache     map[uuid.UUID]*fit
	failures  int
}

// New creates a solver. The nominal snapshots are saved if the store does not
// hold them yet.
func New(m *model.Model, store *snapshot.Store, min *minimizer.Minimizer, opts Options, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Precision <= 0 {
		opts.Precision = stats.DefaultPrecision
	}
	if opts.TargetCLs <= 0 {
		opts.TargetCLs = 0.05
	}
	if !store.Has(snapshot.Named(snapshot.NominalGlobs)) {
		store.Save(snapshot.Named(snapshot.NominalGlobs), m.Params, m.Globals)
		store.Save(snapshot.Named(snapshot.NominalNuis), m.Params, m.Nuisance)
	}
	return &Solver{
		model:     m,
		store:     store,
		min:       min,
		logger:    logger,
		opts:      opts,
		asym:      stats.Asymptotics{TargetCLs: opts.TargetCLs, Tilde: opts.Tilde, Precision: opts.Precision},
		direction: 1,
		cache:     make(map[uuid.UUID]*fit),
	}
}

// Fork returns a solver over a private copy of the model parameters and the
// snapshot store, sharing the fit cache contents at the time of the call.
func (s *Solver) Fork() *Solver {
	c := *s
	c.model = s.model.Clone()
	c.store = s.store.Clone()
	c.cache = make(map[uuid.UUID]*fit, len(s.cache))
	for k, v := range s.cache {
		c.cache[k] = v
	}
	c.failures = 0
	return &c
}

// Model returns the model the solver works on.
func (s *Solver) Model() *model.Model { return s.model }

// Store returns the snapshot store.
func (s *Solver) Store() *snapshot.Store { return s.store }

// Minimizer returns the minimizer used for fits.
func (s *Solver) Minimizer() *minimizer.Minimizer { return s.min }

// Asymptotics returns the current asymptotic formulae settings.
func (s *Solver) Asymptotics() stats.Asymptotics { return s.asym }

// Failures returns the number of fits that did not converge.
func (s *Solver) Failures() int { return s.failures }

// SetAsimov0 sets the background-only Asimov binding used for the expected
// width of the test statistic.
func (s *Solver) SetAsimov0(b *Binding) { s.asimov0 = b }

// SetDirection sets +1 for upper limits and -1 for negative band solves.
func (s *Solver) SetDirection(d float64) {
	if d < 0 {
		s.direction = -1
		return
	}
	s.direction = 1
}

// Direction returns the current solve direction.
func (s *Solver) Direction() float64 { return s.direction }

// SetTarget sets the target CLs value.
func (s *Solver) SetTarget(cls float64) { s.asym.TargetCLs = cls }

// Minimize fits the binding with its global observables loaded. A failed fit
// is retried from the mu = 0 conditional snapshot, then from the nominal one,
// up to MaxRetries times. The nominal global observables are restored
// afterwards.
func (s *Solver) Minimize(b *Binding) minimizer.Result {
	params := s.model.Params
	if !b.Globs.IsZero() {
		if err := s.store.Load(b.Globs, params); err != nil {
			s.logger.Warn("binding globs missing", zap.String("binding", b.Name), zap.Error(err))
		}
	}
	res := s.min.Minimize(b.NLL.Eval, params)
	fallbacks := []snapshot.Key{
		snapshot.Conditional(snapshot.ConditionalNuis, 0),
		snapshot.Named(snapshot.NominalNuis),
	}
	for r := 0; r < s.opts.MaxRetries && !res.OK(); r++ {
		fitRetries.Inc()
		key := fallbacks[min(r, len(fallbacks)-1)]
		if err := s.store.Load(key, params); err != nil {
			continue
		}
		s.logger.Debug("retrying fit", zap.String("binding", b.Name), zap.Stringer("from", key))
		res = s.min.Minimize(b.NLL.Eval, params)
	}
	_ = s.store.Load(snapshot.Named(snapshot.NominalGlobs), params)

	if res.OK() {
		minimizations.WithLabelValues("ok").Inc()
	} else {
		minimizations.WithLabelValues("failed").Inc()
		s.failures++
		s.logger.Warn("fit did not converge",
			zap.String("binding", b.Name),
			zap.Int("status", res.Status),
			zap.Float64("poi", params.Value(s.model.POI)))
	}
	return res
}

// fitAt minimises with the POI fixed at mu.
func (s *Solver) fitAt(b *Binding, mu float64) (minimizer.Result, error) {
	if err := s.setMu(mu); err != nil {
		return minimizer.Result{}, err
	}
	params := s.model.Params
	wasConst := params.IsConstant(s.model.POI)
	params.SetConstant(s.model.POI, true)
	res := s.Minimize(b)
	params.SetConstant(s.model.POI, wasConst)
	return res, nil
}

// Muhat returns the unconditional best-fit POI value of the binding, fitting
// it on first use.
func (s *Solver) Muhat(b *Binding) (float64, error) {
	f, err := s.unconditional(b)
	if err != nil {
		return math.NaN(), err
	}
	return f.muhat, nil
}

// Nuisance returns the nuisance parameter values at the unconditional fit.
func (s *Solver) Nuisance(b *Binding) (map[string]float64, error) {
	f, err := s.unconditional(b)
	if err != nil {
		return nil, err
	}
	return f.nuis, nil
}

func (s *Solver) unconditional(b *Binding) (*fit, error) {
	if f, ok := s.cache[b.ID]; ok {
		return f, nil
	}
	params := s.model.Params
	poi := s.model.POI
	f := &fit{}
	if b.FixMuhatAtZero {
		res, err := s.fitAt(b, 0)
		if err != nil {
			return nil, err
		}
		f.muhat, f.nll, f.ref, f.status = 0, res.MinNLL, res.MinNLL, res.Status
	} else {
		wasConst := params.IsConstant(poi)
		params.SetConstant(poi, false)
		res := s.Minimize(b)
		params.SetConstant(poi, wasConst)
		f.muhat, f.nll, f.ref, f.status = params.Value(poi), res.MinNLL, res.MinNLL, res.Status
		if math.IsNaN(f.muhat) {
			return nil, fatal("muhat", ErrNaN)
		}
		s.store.Save(snapshot.ForBinding(b.ID, f.muhat), params, s.model.Nuisance)
		if s.asym.Tilde && f.muhat < 0 {
			ref, err := s.fitAt(b, 0)
			if err != nil {
				return nil, err
			}
			f.ref = ref.MinNLL
		}
		params.Set(poi, f.muhat)
	}
	if f.muhat == 0 {
		s.store.Save(snapshot.ForBinding(b.ID, 0), params, s.model.Nuisance)
	}
	f.nuis = params.ValueMap(s.model.Nuisance)
	s.cache[b.ID] = f
	s.logger.Debug("unconditional fit",
		zap.String("binding", b.Name),
		zap.Float64("muhat", f.muhat),
		zap.Float64("nll", f.nll),
		zap.Int("status", f.status))
	return f, nil
}

// Qmu returns 2(NLL(mu) - NLL(muhat)) on the binding, with the tilde
// reference when configured.
func (s *Solver) Qmu(b *Binding, mu float64) (float64, error) {
	f, err := s.unconditional(b)
	if err != nil {
		return math.NaN(), err
	}
	res, err := s.fitAt(b, mu)
	if err != nil {
		return math.NaN(), err
	}
	q := 2 * (res.MinNLL - f.ref)
	if math.IsNaN(q) {
		return q, fatal("qmu", ErrNaN)
	}
	return q, nil
}

// Sigma converts q_mu at mu into the asymptotic width of the POI estimator.
func (s *Solver) Sigma(b *Binding, mu, muhat float64) (sigma, qmu float64, err error) {
	qmu, err = s.Qmu(b, mu)
	if err != nil {
		return math.NaN(), qmu, err
	}
	sigma = s.sigmaFromQ(qmu, mu, muhat)
	if math.IsNaN(sigma) {
		return sigma, qmu, fatal("sigma", ErrNaN)
	}
	return sigma, qmu, nil
}

func (s *Solver) sigmaFromQ(qmu, mu, muhat float64) float64 {
	if qmu < minQmu {
		s.logger.Debug("q_mu below floor", zap.Float64("qmu", qmu), zap.Float64("mu", mu))
		qmu = minQmu
	}
	d := s.direction
	sq := math.Sqrt(qmu)
	switch {
	case mu*d < muhat:
		return math.Abs(mu-muhat) / sq
	case muhat < 0 && s.asym.Tilde:
		return math.Sqrt(mu*mu-2*mu*muhat*d) / sq
	default:
		return (mu - muhat) * d / sq
	}
}

// setMu moves the POI, widening its range when mu falls outside.
func (s *Solver) setMu(mu float64) error {
	if math.IsNaN(mu) {
		s.logger.Error("POI set to NaN")
		return fatal("setMu", ErrNaN)
	}
	params := s.model.Params
	lo, hi := params.Bounds(s.model.POI)
	if mu > 0 && mu > hi {
		params.SetRange(s.model.POI, lo, 2*mu)
	}
	if mu < 0 && mu < lo {
		params.SetRange(s.model.POI, 2*mu, hi)
	}
	params.Set(s.model.POI, mu)
	return nil
}

// SetPOIRange sets the range of the POI.
func (s *Solver) SetPOIRange(lo, hi float64) {
	s.model.Params.SetRange(s.model.POI, lo, hi)
}
