package minimizer

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/thmegy/Unfolding-sub003/model"
)

// Algorithm names accepted in Config.
const (
	BFGS    = "bfgs"
	LBFGS   = "lbfgs"
	Simplex = "simplex"
)

// Status codes reported in Result. 0 and 1 are successful fits.
const (
	StatusOK          = 0
	StatusApproximate = 1 // stalled with a small gradient
	StatusCallLimit   = 3
	StatusFailed      = 4
	StatusNaN         = 5
)

// Func is an objective over the full parameter vector.
type Func func(values []float64) float64

// Config holds minimizer settings.
type Config struct {
	Algorithm  string
	Strategy   int // 0, 1 or 2
	PrintLevel int // -1 silent, 0 warnings, >= 1 every attempt
	Workers    int // > 1 evaluates gradient components concurrently
}

// DefaultConfig returns the default minimizer settings.
func DefaultConfig() Config {
	return Config{Algorithm: BFGS, Strategy: 1, PrintLevel: -1, Workers: 1}
}

// Result describes the outcome of Minimize.
type Result struct {
	Status      int
	MinNLL      float64
	Evaluations int
	Algorithm   string
	Strategy    int
}

// OK reports whether the fit succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK || r.Status == StatusApproximate
}

// Minimizer finds local minima of an objective over the free parameters of a
// parameter arena.
type Minimizer struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a minimizer. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Minimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = BFGS
	}
	if cfg.Strategy < 0 {
		cfg.Strategy = 0
	}
	if cfg.Strategy > 2 {
		cfg.Strategy = 2
	}
	return &Minimizer{cfg: cfg, logger: logger}
}

// Config returns the minimizer settings.
func (m *Minimizer) Config() Config {
	return m.cfg
}

type strategy struct {
	gradient float64
	evals    int
	formula  fd.Formula
}

var strategies = [3]strategy{
	{gradient: 1e-5, evals: 4000, formula: fd.Forward},
	{gradient: 1e-6, evals: 10000, formula: fd.Central},
	{gradient: 1e-7, evals: 40000, formula: fd.Central},
}

// approxGradient is the largest internal gradient accepted for a fit that
// stalled in its line search.
const approxGradient = 1e-3

type attempt struct {
	algorithm string
	strategy  int
}

// ladder escalates the strategy, then swaps the algorithm family and
// escalates again.
func (m *Minimizer) ladder() []attempt {
	var out []attempt
	for s := m.cfg.Strategy; s <= 2; s++ {
		out = append(out, attempt{m.cfg.Algorithm, s})
	}
	alt := Simplex
	if m.cfg.Algorithm == Simplex {
		alt = BFGS
	}
	for s := m.cfg.Strategy; s <= 2; s++ {
		out = append(out, attempt{alt, s})
	}
	return out
}

// Minimize minimises f over the non-constant parameters of params and leaves
// the best point found in params. On failure the retry ladder is walked before
// giving up with a non-zero status.
func (m *Minimizer) Minimize(f Func, params *model.Parameters) Result {
	free := params.Free()
	if len(free) == 0 {
		return Result{Status: StatusOK, MinNLL: f(params.Values()), Evaluations: 1, Algorithm: m.cfg.Algorithm, Strategy: m.cfg.Strategy}
	}

	best := Result{Status: StatusFailed, MinNLL: math.Inf(1)}
	bestValues := params.Values()
	total := 0
	for i, a := range m.ladder() {
		if i > 0 {
			params.SetValues(bestValues)
		}
		r, values := m.run(f, params, free, a)
		total += r.Evaluations
		if m.cfg.PrintLevel >= 1 {
			m.logger.Debug("minimization attempt",
				zap.String("algorithm", a.algorithm),
				zap.Int("strategy", a.strategy),
				zap.Int("status", r.Status),
				zap.Float64("nll", r.MinNLL),
				zap.Int("evaluations", r.Evaluations))
		}
		if r.Status != StatusNaN && r.MinNLL < best.MinNLL {
			best = r
			bestValues = values
		}
		if r.OK() {
			best = r
			bestValues = values
			break
		}
	}
	params.SetValues(bestValues)
	if math.IsInf(best.MinNLL, 1) {
		best.MinNLL = f(bestValues)
		best.Algorithm, best.Strategy = m.cfg.Algorithm, m.cfg.Strategy
	}
	best.Evaluations = total
	if !best.OK() && m.cfg.PrintLevel >= 0 {
		m.logger.Warn("minimization failed after retries",
			zap.Int("status", best.Status),
			zap.Float64("nll", best.MinNLL))
	}
	return best
}

// run performs a single fit attempt starting from the current values.
func (m *Minimizer) run(f Func, params *model.Parameters, free []int, a attempt) (Result, []float64) {
	base := params.Values()
	bounds := make([]bound, len(free))
	x0 := make([]float64, len(free))
	for k, i := range free {
		lo, hi := params.Bounds(i)
		bounds[k] = bound{lo: lo, hi: hi}
		x0[k] = bounds[k].toInternal(base[i])
	}
	external := func(x []float64) []float64 {
		v := make([]float64, len(base))
		copy(v, base)
		for k, i := range free {
			v[i] = bounds[k].toExternal(x[k])
		}
		return v
	}

	var evals int64
	objective := func(x []float64) float64 {
		atomic.AddInt64(&evals, 1)
		return f(external(x))
	}
	st := strategies[a.strategy]
	fdSettings := &fd.Settings{Formula: st.formula, Concurrent: m.cfg.Workers > 1}
	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, objective, x, fdSettings)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: st.gradient,
		FuncEvaluations:   st.evals,
		Concurrent:        max(m.cfg.Workers, 0),
	}

	var method optimize.Method
	switch a.algorithm {
	case LBFGS:
		method = &optimize.LBFGS{}
	case Simplex:
		method = &optimize.NelderMead{}
	default:
		method = &optimize.BFGS{}
	}

	res, err := optimize.Minimize(problem, x0, settings, method)
	out := Result{Algorithm: a.algorithm, Strategy: a.strategy, Status: StatusFailed, MinNLL: math.NaN()}
	if res == nil {
		out.Evaluations = int(atomic.LoadInt64(&evals))
		if m.cfg.PrintLevel >= 1 {
			m.logger.Debug("optimizer error", zap.Error(err))
		}
		return out, base
	}
	out.Evaluations = int(atomic.LoadInt64(&evals))
	out.MinNLL = res.F
	values := external(res.X)
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		out.Status = StatusNaN
		return out, values
	}
	out.Status = classify(res.Status, func() float64 {
		g := make([]float64, len(res.X))
		fd.Gradient(g, objective, res.X, &fd.Settings{Formula: fd.Central})
		worst := 0.0
		for _, v := range g {
			worst = math.Max(worst, math.Abs(v))
		}
		return worst
	})
	if out.Status != StatusOK && m.cfg.PrintLevel >= 1 {
		m.logger.Debug("optimizer stopped", zap.Stringer("status", res.Status), zap.Error(err))
	}
	return out, values
}

// classify maps an optimizer termination to a status code.
func classify(s optimize.Status, gradNorm func() float64) int {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.StepConvergence, optimize.MethodConverge, optimize.FunctionThreshold:
		return StatusOK
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit, optimize.HessianEvaluationLimit, optimize.RuntimeLimit:
		if gradNorm() < approxGradient {
			return StatusApproximate
		}
		return StatusCallLimit
	}
	if gradNorm() < approxGradient {
		return StatusApproximate
	}
	return StatusFailed
}
