package model

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec is a declarative description of a binned counting model.
type Spec struct {
	Name           string        `yaml:"name"`
	POI            ParamSpec     `yaml:"poi"`
	Lumi           *LumiSpec     `yaml:"lumi,omitempty"`
	InjectionParam string        `yaml:"injectionParam,omitempty"`
	Channels       []ChannelSpec `yaml:"channels"`
}

// ParamSpec declares a free parameter.
type ParamSpec struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
}

// LumiSpec declares a luminosity uncertainty applied to every sample.
// Kind is gaussian (default), lognormal or bifurcated.
type LumiSpec struct {
	Kind    string  `yaml:"kind"`
	Sigma   float64 `yaml:"sigma"`
	SigmaLo float64 `yaml:"sigmaLo,omitempty"`
	SigmaHi float64 `yaml:"sigmaHi,omitempty"`
}

// ChannelSpec declares a channel.
type ChannelSpec struct {
	Name    string       `yaml:"name"`
	Edges   []float64    `yaml:"edges"`
	Samples []SampleSpec `yaml:"samples"`
}

// SampleSpec declares a sample and its modifiers.
type SampleSpec struct {
	Name        string         `yaml:"name"`
	Nominal     []float64      `yaml:"nominal"`
	NormFactors []string       `yaml:"normFactors,omitempty"`
	NormSys     []NormSysSpec  `yaml:"normSys,omitempty"`
	HistoSys    []HistoSysSpec `yaml:"histoSys,omitempty"`
	ShapeSys    *ShapeSysSpec  `yaml:"shapeSys,omitempty"`
}

// NormSysSpec declares a normalisation systematic.
type NormSysSpec struct {
	Name string  `yaml:"name"`
	Lo   float64 `yaml:"lo"`
	Hi   float64 `yaml:"hi"`
}

// HistoSysSpec declares a shape systematic.
type HistoSysSpec struct {
	Name string    `yaml:"name"`
	Lo   []float64 `yaml:"lo"`
	Hi   []float64 `yaml:"hi"`
}

// ShapeSysSpec declares uncorrelated per-bin uncertainties (absolute, in
// events). Kind is poisson (default) or gamma.
type ShapeSysSpec struct {
	Name          string    `yaml:"name"`
	Kind          string    `yaml:"kind"`
	Uncertainties []float64 `yaml:"uncertainties"`
}

// LoadSpec reads a YAML model description from a file.
func LoadSpec(filename string) (*Spec, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseSpec(data)
}

// ParseSpec decodes a YAML model description.
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse model spec: %w", err)
	}
	return &s, nil
}

// builder carries the bookkeeping shared by all modifiers while building.
type builder struct {
	params *Parameters
	m      *Model
	terms  []Density
	alphas map[string]int
}

// Build turns the description into a validated model. Systematics with the same name
// share one nuisance parameter.
func (s *Spec) Build() (*Model, error) {
	if s.POI.Name == "" {
		return nil, errors.New("model spec has no parameter of interest")
	}
	params := NewParameters()
	poiMin, poiMax := s.POI.Min, s.POI.Max
	if poiMin == 0 && poiMax == 0 {
		poiMin, poiMax = -40, 40
	}
	poi, err := params.Add(Parameter{Name: s.POI.Name, Value: s.POI.Value, Min: poiMin, Max: poiMax})
	if err != nil {
		return nil, err
	}
	name := s.Name
	if name == "" {
		name = "model"
	}
	b := &builder{params: params, m: New(name, params, poi), alphas: make(map[string]int)}

	lumi := -1
	if s.Lumi != nil {
		if lumi, err = b.addLumi(s.Lumi); err != nil {
			return nil, err
		}
	}
	for _, cs := range s.Channels {
		ch := Channel{Name: cs.Name, Edges: cs.Edges}
		for _, ss := range cs.Samples {
			sample, err := b.sample(cs.Name, ss)
			if err != nil {
				return nil, err
			}
			if lumi >= 0 {
				sample.NormFactors = append(sample.NormFactors, lumi)
			}
			ch.Samples = append(ch.Samples, sample)
		}
		b.m.Channels = append(b.m.Channels, ch)
	}
	if len(b.terms) > 0 {
		b.m.Constraints = []Density{&Product{Label: "constraints", Terms: b.terms}}
	}
	if b.m.SetInjectionParam(s.InjectionParam) {
		// The injection overlay is off unless a dataset asks for it.
		params.Set(b.m.InjectionParam, 0)
		params.SetConstant(b.m.InjectionParam, true)
	}
	if err := b.m.Validate(); err != nil {
		return nil, err
	}
	return b.m, nil
}

// pair adds a nuisance parameter and its global observable.
func (b *builder) pair(np, glob Parameter) (int, int, error) {
	i, err := b.params.Add(np)
	if err != nil {
		return -1, -1, err
	}
	glob.Constant = true
	j, err := b.params.Add(glob)
	if err != nil {
		return -1, -1, err
	}
	b.m.Nuisance = append(b.m.Nuisance, i)
	b.m.Globals = append(b.m.Globals, j)
	return i, j, nil
}

func (b *builder) addLumi(l *LumiSpec) (int, error) {
	width := math.Max(l.Sigma, math.Max(l.SigmaLo, l.SigmaHi))
	if !(width > 0) {
		return -1, errors.New("lumi uncertainty must be positive")
	}
	lo := math.Max(1e-3, 1-10*width)
	np, glob, err := b.pair(
		Parameter{Name: "Lumi", Value: 1, Min: lo, Max: 1 + 10*width},
		Parameter{Name: "nom_Lumi", Value: 1, Min: lo, Max: 1 + 10*width},
	)
	if err != nil {
		return -1, err
	}
	switch l.Kind {
	case "", "gaussian":
		b.terms = append(b.terms, &Gaussian{Label: "lumiConstraint", X: glob, Mean: np, Sigma: l.Sigma})
	case "lognormal":
		b.terms = append(b.terms, &LogNormal{Label: "lumiConstraint", X: glob, Median: np, Kappa: 1 + l.Sigma})
	case "bifurcated":
		if !(l.SigmaLo > 0 && l.SigmaHi > 0) {
			return -1, errors.New("bifurcated lumi needs sigmaLo and sigmaHi")
		}
		b.terms = append(b.terms, &BifurcatedGaussian{Label: "lumiConstraint", X: glob, Mean: np, SigmaLo: l.SigmaLo, SigmaHi: l.SigmaHi})
	default:
		return -1, fmt.Errorf("unknown lumi constraint kind %q", l.Kind)
	}
	return np, nil
}

// alpha returns the shared unit-Gaussian nuisance parameter of a systematic.
func (b *builder) alpha(name string) (int, error) {
	if i, ok := b.alphas[name]; ok {
		return i, nil
	}
	np, glob, err := b.pair(
		Parameter{Name: "alpha_" + name, Value: 0, Min: -5, Max: 5},
		Parameter{Name: "nom_alpha_" + name, Value: 0, Min: -10, Max: 10},
	)
	if err != nil {
		return -1, err
	}
	b.terms = append(b.terms, &Gaussian{Label: "alpha_" + name + "Constraint", X: glob, Mean: np, Sigma: 1})
	b.alphas[name] = np
	return np, nil
}

func (b *builder) sample(channel string, ss SampleSpec) (Sample, error) {
	s := Sample{Name: ss.Name, Nominal: ss.Nominal}
	for _, nf := range ss.NormFactors {
		i, ok := b.params.Index(nf)
		if !ok {
			var err error
			if i, err = b.params.Add(Parameter{Name: nf, Value: 1, Min: 0, Max: 10}); err != nil {
				return s, err
			}
		}
		s.NormFactors = append(s.NormFactors, i)
	}
	for _, ns := range ss.NormSys {
		if !(ns.Lo > 0 && ns.Hi > 0) {
			return s, fmt.Errorf("sample %q normsys %q: factors must be positive", ss.Name, ns.Name)
		}
		a, err := b.alpha(ns.Name)
		if err != nil {
			return s, err
		}
		s.NormSys = append(s.NormSys, NormSys{Param: a, Lo: ns.Lo, Hi: ns.Hi})
	}
	for _, hs := range ss.HistoSys {
		a, err := b.alpha(hs.Name)
		if err != nil {
			return s, err
		}
		s.HistoSys = append(s.HistoSys, HistoSys{Param: a, Lo: hs.Lo, Hi: hs.Hi})
	}
	if ss.ShapeSys != nil {
		if err := b.shapeSys(channel, &s, ss.ShapeSys); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (b *builder) shapeSys(channel string, s *Sample, sh *ShapeSysSpec) error {
	if len(sh.Uncertainties) != len(s.Nominal) {
		return fmt.Errorf("sample %q shapesys %q: %d uncertainties for %d bins", s.Name, sh.Name, len(sh.Uncertainties), len(s.Nominal))
	}
	s.ShapeFactors = make([]int, len(s.Nominal))
	for bin, unc := range sh.Uncertainties {
		s.ShapeFactors[bin] = -1
		if !(unc > 0) || !(s.Nominal[bin] > 0) {
			continue
		}
		rel := unc / s.Nominal[bin]
		tau := 1 / (rel * rel)
		name := fmt.Sprintf("gamma_%s_%s_bin_%d", sh.Name, channel, bin)
		hi := 1 + 10*rel
		np, glob, err := b.pair(
			Parameter{Name: name, Value: 1, Min: 1e-10, Max: hi},
			Parameter{Name: "nom_" + name, Value: 1, Min: 0, Max: hi},
		)
		if err != nil {
			return err
		}
		switch sh.Kind {
		case "", "poisson":
			b.terms = append(b.terms, &PoissonConstraint{Label: name + "_constraint", X: glob, Mean: np, Tau: tau})
		case "gamma":
			b.terms = append(b.terms, &GammaConstraint{Label: name + "_constraint", X: glob, Gamma: np, Tau: tau})
		default:
			return fmt.Errorf("unknown shapesys kind %q", sh.Kind)
		}
		s.ShapeFactors[bin] = np
	}
	return nil
}
