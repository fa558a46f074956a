package runner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/thmegy/Unfolding-sub003/asimov"
	"github.com/thmegy/Unfolding-sub003/histogram"
	"github.com/thmegy/Unfolding-sub003/limit"
	"github.com/thmegy/Unfolding-sub003/minimizer"
	"github.com/thmegy/Unfolding-sub003/model"
	"github.com/thmegy/Unfolding-sub003/snapshot"
)

var tracer = otel.Tracer("github.com/thmegy/Unfolding-sub003/runner")

// bandSigmas are the band offsets in units of the expected width.
var bandSigmas = []float64{2, 1, -1, -2}

// run carries the state shared by the phases of one invocation.
type run struct {
	cfg     Config
	logger  *zap.Logger
	model   *model.Model
	solver  *limit.Solver
	builder *asimov.Builder

	obs     *limit.Binding
	asimov0 *limit.Binding
	asimov1 *limit.Binding
	// condNLL conditions the Asimov generation; nil profiles nothing.
	condNLL *model.NLL

	record    *Record
	asimovBad int
	forkFails int
}

// Run computes the limits, bands and p-values of one signal hypothesis on
// data and returns the result record. Fit failures are counted in the
// record's FitStatus; numerical divergence aborts with a *limit.FatalError.
func Run(ctx context.Context, m *model.Model, data *histogram.Dataset, cfg Config, logger *zap.Logger) (*Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data == nil && !cfg.Blind {
		return nil, errors.New("observed dataset required unless blind")
	}

	ctx, span := tracer.Start(ctx, "runner.Run", trace.WithAttributes(
		attribute.Float64("point", cfg.Point),
		attribute.String("model", m.Name),
		attribute.Bool("blind", cfg.Blind),
	))
	defer span.End()

	r, err := newRun(m, cfg, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	phases := []struct {
		name string
		on   bool
		fn   func(context.Context) error
	}{
		{"bind", true, func(context.Context) error { return r.bind(data) }},
		{"expected", cfg.DoExpected, r.expected},
		{"injected", cfg.DoInjected, r.injected},
		{"bands", cfg.DoExpected, r.bands},
		{"observed", cfg.DoObserved && !cfg.Blind, r.observed},
		{"pvalues", cfg.DoPValues, r.pvalues},
	}
	for _, p := range phases {
		if !p.on {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.phase(ctx, p.name, p.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	r.record.FitStatus = r.solver.Failures() + r.forkFails + r.asimovBad
	if r.record.FitStatus > 0 {
		logger.Warn("run finished with fit failures", zap.Int("fit_status", r.record.FitStatus))
	}
	span.SetAttributes(
		attribute.Int("fit_status", r.record.FitStatus),
		attribute.Float64("exp_upperlimit", r.record.ExpUpperLimit),
	)
	logger.Info("run finished",
		zap.Float64("point", cfg.Point),
		zap.Float64("exp_upperlimit", r.record.ExpUpperLimit),
		zap.Float64("obs_upperlimit", r.record.ObsUpperLimit),
		zap.Int("fit_status", r.record.FitStatus))
	return r.record, nil
}

func newRun(m *model.Model, cfg Config, logger *zap.Logger) (*run, error) {
	if cfg.InjectionParam != "" {
		if m.SetInjectionParam(cfg.InjectionParam) {
			m.Params.Set(m.InjectionParam, 0)
			m.Params.SetConstant(m.InjectionParam, true)
		} else {
			logger.Warn("injection parameter not in model, injecting through the POI",
				zap.String("param", cfg.InjectionParam))
		}
	}

	store := snapshot.NewStore()
	fitter := minimizer.New(cfg.minimizerConfig(), logger)
	solver := limit.New(m, store, fitter, cfg.solverOptions(), logger)
	builder, err := asimov.NewBuilder(m, store, fitter, logger)
	if err != nil {
		return nil, err
	}
	return &run{
		cfg:     cfg,
		logger:  logger,
		model:   m,
		solver:  solver,
		builder: builder,
		record:  NewRecord(cfg.Point),
	}, nil
}

// phase runs fn under its own span.
func (r *run) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "runner."+name)
	defer span.End()
	r.logger.Debug("phase started", zap.String("phase", name))
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// bind creates the observed binding and the background-only and
// signal-plus-background Asimov bindings.
func (r *run) bind(data *histogram.Dataset) error {
	m := r.model
	if data != nil {
		nll, err := m.CreateNLL("obsData", data)
		if err != nil {
			return err
		}
		r.obs = limit.NewBinding("obsData", nll, snapshot.Key{})
		if r.cfg.Conditional && !r.cfg.Blind {
			r.condNLL = nll
		}
	}

	zero := 0.0
	var asimov0Globs snapshot.Key
	data0 := r.cfg.Asimov0
	if data0 == nil {
		res, err := r.build(asimov.Request{Name: "asimovData_0", Mu: 0, Profile: &zero})
		if err != nil {
			return err
		}
		data0, asimov0Globs = res.Data, res.GlobsKey
	}
	nll0, err := m.CreateNLL("asimovData_0", data0)
	if err != nil {
		return err
	}
	r.asimov0 = limit.NewBinding("asimovData_0", nll0, asimov0Globs)
	r.asimov0.FixMuhatAtZero = true
	r.solver.SetAsimov0(r.asimov0)

	if r.cfg.DoPValues {
		one := 1.0
		res, err := r.build(asimov.Request{Name: "asimovData_1", Mu: 1, Profile: &one})
		if err != nil {
			return err
		}
		nll1, err := m.CreateNLL("asimovData_1", res.Data)
		if err != nil {
			return err
		}
		r.asimov1 = limit.NewBinding("asimovData_1", nll1, res.GlobsKey)
	}
	return nil
}

// build generates an Asimov dataset conditioned as configured.
func (r *run) build(req asimov.Request) (*asimov.Result, error) {
	req.Conditional = r.condNLL != nil
	req.NLL = r.condNLL
	res, err := r.builder.Build(req)
	if err != nil {
		return nil, err
	}
	if res.FitStatus > 1 {
		r.asimovBad++
	}
	return res, nil
}

func (r *run) expected(context.Context) error {
	med, err := r.solver.Limit(r.asimov0, 0)
	if err != nil {
		return err
	}
	r.record.ExpUpperLimit = med.Limit
	r.record.MuHatExp = med.Muhat
	r.record.ParamsMed = med.Nuisance
	r.logger.Info("median expected limit",
		zap.Float64("limit", med.Limit),
		zap.Int("iterations", med.Iterations))

	cls, err := r.solver.CLsAt(r.asimov0, r.cfg.TestPOI)
	if err != nil {
		return err
	}
	r.record.CLbMed, r.record.PbMed = cls.CLb, cls.Pb
	r.record.CLsMed, r.record.CLsPlusBMed = cls.CLs, cls.CLsb
	return nil
}

func (r *run) injected(context.Context) error {
	zero := 0.0
	res, err := r.build(asimov.Request{
		Name:      "asimovData_inj",
		Mu:        0,
		Profile:   &zero,
		Injection: r.cfg.InjectionStrength,
	})
	if err != nil {
		return err
	}
	nll, err := r.model.CreateNLL("asimovData_inj", res.Data)
	if err != nil {
		return err
	}
	inj := limit.NewBinding("asimovData_inj", nll, res.GlobsKey)
	lim, err := r.solver.Limit(inj, r.guess())
	if err != nil {
		return err
	}
	r.record.InjUpperLimit = lim.Limit
	r.logger.Info("injected limit",
		zap.Float64("strength", r.cfg.InjectionStrength),
		zap.Float64("limit", lim.Limit))
	return nil
}

// guess is the starting point of limits other than the median one.
func (r *run) guess() float64 {
	if math.IsNaN(r.record.ExpUpperLimit) {
		return 0
	}
	return r.record.ExpUpperLimit
}

func (r *run) bands(ctx context.Context) error {
	med := r.record.ExpUpperLimit
	asym := r.solver.Asymptotics()
	sigma := asym.MedianSigma(med)

	params := r.model.Params
	lo, hi := params.Bounds(r.model.POI)
	r.solver.SetPOIRange(-5*sigma, 5*sigma)
	defer r.solver.SetPOIRange(lo, hi)

	results := make([]float64, len(bandSigmas))
	var better []int
	for i, n := range bandSigmas {
		if r.cfg.BetterBands && (n > 0 || r.cfg.BetterNegativeBands) {
			better = append(better, i)
			continue
		}
		results[i] = asym.BandApprox(sigma, n)
	}

	if r.cfg.BandWorkers > 1 && len(better) > 1 {
		if err := r.forkedBands(ctx, better, sigma, results); err != nil {
			return err
		}
	} else {
		for _, i := range better {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := betterBand(r.solver, r.builder, r.bandJob(bandSigmas[i], sigma))
			if err != nil {
				return err
			}
			results[i] = v
		}
	}

	r.record.ExpUpperLimitP2 = results[0]
	r.record.ExpUpperLimitP1 = results[1]
	r.record.ExpUpperLimitM1 = results[2]
	r.record.ExpUpperLimitM2 = results[3]
	r.logger.Info("expected bands",
		zap.Float64("minus2", results[3]),
		zap.Float64("minus1", results[2]),
		zap.Float64("plus1", results[1]),
		zap.Float64("plus2", results[0]))
	return nil
}

// forkedBands solves the better bands concurrently, each on a forked solver
// and builder.
func (r *run) forkedBands(ctx context.Context, idx []int, sigma float64, results []float64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BandWorkers)
	fails := make([]int, len(idx))
	for k, i := range idx {
		s := r.solver.Fork()
		b := r.builder.Fork(s.Model(), s.Store(), s.Minimizer())
		job := r.bandJob(bandSigmas[i], sigma)
		base := s.Failures()
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := betterBand(s, b, job)
			if err != nil {
				return err
			}
			results[i] = v
			fails[k] = s.Failures() - base
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, f := range fails {
		r.forkFails += f
	}
	return nil
}

// bandJob describes one better-band solve.
type bandJob struct {
	n         float64
	sigma     float64
	median    float64
	target    float64
	profile   *float64
	asimov0   *limit.Binding
	targetCLs float64
}

func (r *run) bandJob(n, sigma float64) bandJob {
	job := bandJob{
		n:         n,
		sigma:     sigma,
		median:    r.record.ExpUpperLimit,
		target:    2 * (1 - distuv.UnitNormal.CDF(math.Abs(n))),
		asimov0:   r.asimov0,
		targetCLs: r.cfg.TargetCLs,
	}
	if n < 0 && r.cfg.ProfileNegativeAtZero {
		zero := 0.0
		job.profile = &zero
	}
	return job
}

// betterBand finds the POI value mu_N at which the background-only Asimov
// data sits N sigma away, generates Asimov data there and solves its limit.
// The band dataset is conditioned on the background-only Asimov data, never
// on the observed data.
func betterBand(s *limit.Solver, b *asimov.Builder, job bandJob) (float64, error) {
	s.SetTarget(job.target)
	if job.n < 0 {
		s.SetDirection(-1)
	}
	muN, err := s.Limit(job.asimov0, job.n*job.sigma)
	s.SetDirection(1)
	s.SetTarget(job.targetCLs)
	if err != nil {
		return 0, err
	}

	name := fmt.Sprintf("asimovData_%g", job.n)
	res, err := b.Build(asimov.Request{
		Name:        name,
		Mu:          muN.Limit,
		Profile:     job.profile,
		Conditional: true,
		NLL:         job.asimov0.NLL,
		Globs:       job.asimov0.Globs,
	})
	if err != nil {
		return 0, err
	}
	nll, err := s.Model().CreateNLL(name, res.Data)
	if err != nil {
		return 0, err
	}
	lim, err := s.Limit(limit.NewBinding(name, nll, res.GlobsKey), job.median)
	if err != nil {
		return 0, err
	}
	return lim.Limit, nil
}

func (r *run) observed(context.Context) error {
	params := r.model.Params
	if err := r.solver.Store().Load(snapshot.Conditional(snapshot.ConditionalNuis, 0), params); err != nil {
		r.logger.Debug("no conditional snapshot for the observed limit", zap.Error(err))
	}
	lim, err := r.solver.Limit(r.obs, r.guess())
	if err != nil {
		return err
	}
	r.record.ObsUpperLimit = lim.Limit
	r.record.MuHatObs = lim.Muhat
	r.record.ParamsHat = lim.Nuisance
	r.logger.Info("observed limit",
		zap.Float64("limit", lim.Limit),
		zap.Float64("muhat", lim.Muhat),
		zap.Int("iterations", lim.Iterations))

	cls, err := r.solver.CLsAt(r.obs, r.cfg.TestPOI)
	if err != nil {
		return err
	}
	r.record.CLbObs, r.record.PbObs = cls.CLb, cls.Pb
	r.record.CLsObs, r.record.CLsPlusBObs = cls.CLs, cls.CLsb
	return nil
}

func (r *run) pvalues(context.Context) error {
	exp, err := r.solver.PValue(r.asimov1, 0)
	if err != nil {
		return err
	}
	r.record.PValueExp, r.record.SignificanceExp = exp.P, exp.Z
	if r.cfg.Blind || r.obs == nil {
		return nil
	}
	obs, err := r.solver.PValue(r.obs, 0)
	if err != nil {
		return err
	}
	r.record.PValueObs, r.record.SignificanceObs = obs.P, obs.Z
	r.logger.Info("background-only p-values",
		zap.Float64("expected", exp.P),
		zap.Float64("observed", obs.P),
		zap.Float64("z_obs", obs.Z))
	return nil
}
