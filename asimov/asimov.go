package asimov

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/thmegy/Unfolding-sub003/histogram"
	"github.com/thmegy/Unfolding-sub003/minimizer"
	"github.com/thmegy/Unfolding-sub003/model"
	"github.com/thmegy/Unfolding-sub003/snapshot"
	"github.com/thmegy/Unfolding-sub003/stats"
)

// maxWeight is the largest bin weight accepted into a dataset.
const maxWeight = 1e18

// Fitter minimises an objective over the free parameters of an arena.
type Fitter interface {
	Minimize(f minimizer.Func, params *model.Parameters) minimizer.Result
}

// Request describes one Asimov dataset.
type Request struct {
	Name string
	// Mu is the POI value the dataset is generated at.
	Mu float64
	// Profile is the POI value nuisance parameters are profiled at. Nil
	// means Mu.
	Profile *float64
	// Conditional profiles the nuisance parameters on NLL before generation.
	// Otherwise their nominal values are used.
	Conditional bool
	NLL         *model.NLL
	// Globs, if set, is loaded before the conditional fit.
	Globs snapshot.Key
	// Injection > 0 overlays an injected signal of that strength.
	Injection float64
}

// Result is a generated Asimov dataset and the snapshots taken on the way.
type Result struct {
	Data    *histogram.Dataset
	Profile float64
	// GlobsKey and NuisKey hold the global observables and nuisance
	// parameters at the generation point.
	GlobsKey snapshot.Key
	NuisKey  snapshot.Key
	// FitStatus is the status of the conditional fit, 0 if none was run.
	FitStatus int
	Skipped   int
}

// Builder generates Asimov datasets for a model.
type Builder struct {
	model  *model.Model
	store  *snapshot.Store
	fitter Fitter
	logger *zap.Logger
	pairs  []Pair
}

// NewBuilder pairs the model constraints once. Pairing problems are logged as
// warnings.
func NewBuilder(m *model.Model, store *snapshot.Store, fitter Fitter, logger *zap.Logger) (*Builder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pairs, warnings, err := Pairs(m)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn("skipping constraint", zap.Error(w))
	}
	return &Builder{model: m, store: store, fitter: fitter, logger: logger, pairs: pairs}, nil
}

// Fork returns a builder over another model and store with the same pairing.
// The model must share the structure of the original, e.g. a clone.
func (b *Builder) Fork(m *model.Model, store *snapshot.Store, fitter Fitter) *Builder {
	c := *b
	c.model, c.store, c.fitter = m, store, fitter
	return &c
}

// Pairs returns the nuisance/global pairs in use.
func (b *Builder) Pairs() []Pair {
	return b.pairs
}

// Build generates the dataset. The injection parameter is reset and the
// nominal global observables restored before returning.
func (b *Builder) Build(req Request) (*Result, error) {
	m := b.model
	params := m.Params
	profile := req.Mu
	if req.Profile != nil {
		profile = *req.Profile
	}
	if math.IsNaN(req.Mu) || math.IsNaN(profile) {
		return nil, fmt.Errorf("asimov %q: POI value: %w", req.Name, stats.ErrNaN)
	}

	nominalGlobs := snapshot.Named(snapshot.NominalGlobs)
	nominalNuis := snapshot.Named(snapshot.NominalNuis)
	if !b.store.Has(nominalGlobs) {
		b.store.Save(nominalGlobs, params, m.Globals)
		b.store.Save(nominalNuis, params, m.Nuisance)
	}

	res := &Result{
		Profile:  profile,
		GlobsKey: snapshot.Conditional(snapshot.ConditionalGlobs, profile),
		NuisKey:  snapshot.Conditional(snapshot.ConditionalNuis, profile),
	}

	wasConst := params.IsConstant(m.POI)
	params.Set(m.POI, profile)
	params.SetConstant(m.POI, true)
	if req.Conditional && req.NLL != nil {
		if !req.Globs.IsZero() {
			if err := b.store.Load(req.Globs, params); err != nil {
				b.logger.Warn("conditioning globs missing", zap.Error(err))
			}
		}
		fit := b.fitter.Minimize(req.NLL.Eval, params)
		res.FitStatus = fit.Status
		if !fit.OK() {
			b.logger.Warn("conditional fit failed",
				zap.String("dataset", req.Name),
				zap.Float64("profile", profile),
				zap.Int("status", fit.Status))
		}
	} else if err := b.store.Load(nominalNuis, params); err != nil {
		return nil, err
	}
	params.SetConstant(m.POI, wasConst)
	params.Set(m.POI, req.Mu)

	for _, p := range b.pairs {
		params.Set(p.Global, params.Value(p.Nuisance))
	}
	b.store.Save(res.GlobsKey, params, m.Globals)
	b.store.Save(res.NuisKey, params, m.Nuisance)

	if !req.Conditional {
		_ = b.store.Load(nominalGlobs, params)
		_ = b.store.Load(nominalNuis, params)
	}

	params.Set(m.POI, req.Mu)
	if req.Injection > 0 {
		if m.InjectionParam >= 0 {
			params.Set(m.InjectionParam, req.Injection)
		} else {
			params.Set(m.POI, req.Injection)
		}
	}

	data, skipped := b.fill(req.Name)
	res.Data = data
	res.Skipped = skipped

	if m.InjectionParam >= 0 {
		params.Set(m.InjectionParam, 0)
	}
	_ = b.store.Load(nominalGlobs, params)

	if math.IsNaN(data.SumWeights()) {
		b.logger.Error("asimov dataset has NaN weights",
			zap.String("dataset", req.Name),
			zap.Float64("mu", req.Mu),
			zap.Float64("profile", profile))
		return nil, fmt.Errorf("asimov %q: %w", req.Name, stats.ErrNaN)
	}
	b.logger.Debug("built asimov dataset",
		zap.String("dataset", req.Name),
		zap.Float64("mu", req.Mu),
		zap.Float64("profile", profile),
		zap.Float64("sum", data.SumWeights()),
		zap.Int("skipped", skipped))
	return res, nil
}

// fill writes the expected yield of every bin at the current parameter values.
func (b *Builder) fill(name string) (*histogram.Dataset, int) {
	m := b.model
	values := m.Params.Values()
	parts := make([]*histogram.Dataset, 0, len(m.Channels))
	skipped := 0
	for ci := range m.Channels {
		ch := &m.Channels[ci]
		part := histogram.NewDataset(name + "_" + ch.Name)
		events := m.ExpectedEvents(ci, values)
		for bin := 0; bin < ch.Bins(); bin++ {
			w := m.Density(ci, bin, values) * ch.Width(bin) * events
			if w <= 0 || w > maxWeight {
				b.logger.Warn("skipping bin with unusable weight",
					zap.String("channel", ch.Name),
					zap.Int("bin", bin),
					zap.Float64("weight", w))
				skipped++
				continue
			}
			part.Add(histogram.Entry{
				Channel: ch.Name,
				Bin:     bin,
				X:       (ch.Edges[bin] + ch.Edges[bin+1]) / 2,
				Weight:  w,
			})
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		parts[0].Name = name
		return parts[0], skipped
	}
	return histogram.Combine(name, parts...), skipped
}
