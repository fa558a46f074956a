package model

import (
	"errors"
	"fmt"
	"math"
)

// NormSys is an overall normalisation systematic. Lo and Hi are the
// multiplicative factors at Param = -1 and +1, interpolated exponentially.
type NormSys struct {
	Param int
	Lo    float64
	Hi    float64
}

// HistoSys is a shape systematic. Lo and Hi are the per-bin yields at
// Param = -1 and +1, interpolated linearly around the nominal yield.
type HistoSys struct {
	Param int
	Lo    []float64
	Hi    []float64
}

// Sample is one contribution to the expected yield of a channel.
type Sample struct {
	Name        string
	Nominal     []float64
	NormFactors []int // free multiplicative parameters (e.g. the POI)
	NormSys     []NormSys
	HistoSys    []HistoSys
	// ShapeFactors holds one optional per-bin multiplicative parameter; -1 means none.
	ShapeFactors []int
}

// Channel is a binned category of the model.
type Channel struct {
	Name    string
	Edges   []float64
	Samples []Sample
}

// Bins returns the number of bins in the channel.
func (c *Channel) Bins() int {
	if len(c.Edges) < 2 {
		return 0
	}
	return len(c.Edges) - 1
}

// Width returns the width of bin i.
func (c *Channel) Width(i int) float64 {
	return c.Edges[i+1] - c.Edges[i]
}

// Model is a binned likelihood model: a parameter arena, the channels whose
// expected yields depend on it, and the constraint terms of the nuisance
// parameters.
type Model struct {
	Name        string
	Params      *Parameters
	POI         int
	Nuisance    []int
	Globals     []int
	Channels    []Channel
	Constraints []Density
	// InjectionParam is the signal-injection normalisation, or -1 if the
	// model has none.
	InjectionParam int
}

// New creates an empty model over params with the given parameter of interest.
func New(name string, params *Parameters, poi int) *Model {
	return &Model{
		Name:           name,
		Params:         params,
		POI:            poi,
		InjectionParam: -1,
	}
}

// Validate checks the internal consistency of the model.
func (m *Model) Validate() error {
	n := m.Params.Len()
	if m.POI < 0 || m.POI >= n {
		return errors.New("model has no parameter of interest")
	}
	check := func(kind string, idx []int) error {
		for _, i := range idx {
			if i < 0 || i >= n {
				return fmt.Errorf("%s index %d out of range", kind, i)
			}
		}
		return nil
	}
	if err := check("nuisance", m.Nuisance); err != nil {
		return err
	}
	if err := check("global observable", m.Globals); err != nil {
		return err
	}
	if m.InjectionParam >= n {
		return fmt.Errorf("injection parameter index %d out of range", m.InjectionParam)
	}
	if len(m.Channels) == 0 {
		return errors.New("model has no channels")
	}
	seen := make(map[string]bool, len(m.Channels))
	for _, ch := range m.Channels {
		if seen[ch.Name] {
			return fmt.Errorf("duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = true
		nb := ch.Bins()
		if nb == 0 {
			return fmt.Errorf("channel %q has no bins", ch.Name)
		}
		for i := 0; i < nb; i++ {
			if !(ch.Width(i) > 0) {
				return fmt.Errorf("channel %q: edges must be increasing", ch.Name)
			}
		}
		for _, s := range ch.Samples {
			if len(s.Nominal) != nb {
				return fmt.Errorf("channel %q sample %q: %d yields for %d bins", ch.Name, s.Name, len(s.Nominal), nb)
			}
			if len(s.ShapeFactors) != 0 && len(s.ShapeFactors) != nb {
				return fmt.Errorf("channel %q sample %q: shape factors do not match bins", ch.Name, s.Name)
			}
			if err := check("norm factor", s.NormFactors); err != nil {
				return err
			}
			for _, h := range s.HistoSys {
				if len(h.Lo) != nb || len(h.Hi) != nb {
					return fmt.Errorf("channel %q sample %q: histosys does not match bins", ch.Name, s.Name)
				}
			}
		}
	}
	return nil
}

// Channel returns the index of the named channel, or -1.
func (m *Model) Channel(name string) int {
	for i := range m.Channels {
		if m.Channels[i].Name == name {
			return i
		}
	}
	return -1
}

// SetInjectionParam makes the named parameter the signal-injection hook.
// An empty name, or a name the model does not define, clears the hook.
func (m *Model) SetInjectionParam(name string) bool {
	m.InjectionParam = -1
	if name == "" {
		return false
	}
	i, ok := m.Params.Index(name)
	if ok {
		m.InjectionParam = i
	}
	return ok
}

// ExpectedBin returns the expected yield of one bin at the given parameter values.
func (m *Model) ExpectedBin(ch, bin int, values []float64) float64 {
	total := 0.0
	for si := range m.Channels[ch].Samples {
		total += sampleYield(&m.Channels[ch].Samples[si], bin, values)
	}
	return total
}

// ExpectedBins returns the expected yields of every bin of a channel.
func (m *Model) ExpectedBins(ch int, values []float64) []float64 {
	nb := m.Channels[ch].Bins()
	out := make([]float64, nb)
	for b := 0; b < nb; b++ {
		out[b] = m.ExpectedBin(ch, b, values)
	}
	return out
}

// ExpectedEvents returns the total expected yield of a channel.
func (m *Model) ExpectedEvents(ch int, values []float64) float64 {
	total := 0.0
	for _, v := range m.ExpectedBins(ch, values) {
		total += v
	}
	return total
}

// Density returns the normalised probability density of the channel
// observable in the given bin, so that Density*width*ExpectedEvents is the
// bin yield.
func (m *Model) Density(ch, bin int, values []float64) float64 {
	total := m.ExpectedEvents(ch, values)
	if total == 0 {
		return 0
	}
	return m.ExpectedBin(ch, bin, values) / (total * m.Channels[ch].Width(bin))
}

// Terminals returns the unfolded constraint terms of the model.
func (m *Model) Terminals() ([]Terminal, error) {
	return UnfoldAll(m.Constraints)
}

// Clone returns a model with a private copy of the parameter arena. The
// channel structure and constraint terms are immutable and shared.
func (m *Model) Clone() *Model {
	c := *m
	c.Params = m.Params.Clone()
	return &c
}

func sampleYield(s *Sample, bin int, values []float64) float64 {
	y := s.Nominal[bin]
	for _, h := range s.HistoSys {
		a := values[h.Param]
		if a >= 0 {
			y += a * (h.Hi[bin] - s.Nominal[bin])
		} else {
			y += a * (s.Nominal[bin] - h.Lo[bin])
		}
	}
	for _, p := range s.NormFactors {
		y *= values[p]
	}
	for _, ns := range s.NormSys {
		y *= normSysFactor(ns, values[ns.Param])
	}
	if len(s.ShapeFactors) > 0 && s.ShapeFactors[bin] >= 0 {
		y *= values[s.ShapeFactors[bin]]
	}
	return y
}

func normSysFactor(ns NormSys, a float64) float64 {
	if a >= 0 {
		return math.Pow(ns.Hi, a)
	}
	return math.Pow(ns.Lo, -a)
}
