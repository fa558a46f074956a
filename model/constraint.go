package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// MaxUnfoldDepth bounds the nesting of composite constraint terms.
const MaxUnfoldDepth = 50

// ErrUnfoldDepth is returned when a constraint graph nests deeper than
// MaxUnfoldDepth, which only happens for malformed or cyclic graphs.
var ErrUnfoldDepth = errors.New("constraint unfolding exceeded maximum depth")

// Density is a probability density over model parameters.
type Density interface {
	Name() string
	Dependents() []int
	DependsOn(i int) bool
	LogProb(values []float64) float64
}

// Terminal is implemented by the recognised constraint kinds. Each one ties a
// single nuisance parameter to a single global observable.
type Terminal interface {
	Density
	// Parameter is the constrained nuisance parameter.
	Parameter() int
	// Observable is the global observable measuring it.
	Observable() int
}

// Gaussian constrains Mean with a global observable X ~ N(Mean, Sigma).
type Gaussian struct {
	Label string
	X     int
	Mean  int
	Sigma float64
}

// LogNormal constrains Median with X ~ LogNormal(ln Median, ln Kappa).
type LogNormal struct {
	Label  string
	X      int
	Median int
	Kappa  float64
}

// GammaConstraint constrains Gamma with a gamma density of shape Tau*X+1 and
// rate Tau. X is expressed in units of Gamma (nominally 1).
type GammaConstraint struct {
	Label string
	X     int
	Gamma int
	Tau   float64
}

// PoissonConstraint treats Tau*X as an auxiliary count with mean Tau*Mean.
// X is expressed in units of Mean (nominally 1).
type PoissonConstraint struct {
	Label string
	X     int
	Mean  int
	Tau   float64
}

// BifurcatedGaussian is a Gaussian with different widths below and above Mean.
type BifurcatedGaussian struct {
	Label   string
	X       int
	Mean    int
	SigmaLo float64
	SigmaHi float64
}

// Product is a composite density; its log-probability is the sum of its terms.
type Product struct {
	Label string
	Terms []Density
}

func (g *Gaussian) Name() string         { return g.Label }
func (g *Gaussian) Dependents() []int    { return []int{g.X, g.Mean} }
func (g *Gaussian) DependsOn(i int) bool { return i == g.X || i == g.Mean }
func (g *Gaussian) Parameter() int       { return g.Mean }
func (g *Gaussian) Observable() int      { return g.X }

// LogProb evaluates log N(x | mean, sigma).
func (g *Gaussian) LogProb(values []float64) float64 {
	return distuv.Normal{Mu: values[g.Mean], Sigma: g.Sigma}.LogProb(values[g.X])
}

func (l *LogNormal) Name() string         { return l.Label }
func (l *LogNormal) Dependents() []int    { return []int{l.X, l.Median} }
func (l *LogNormal) DependsOn(i int) bool { return i == l.X || i == l.Median }
func (l *LogNormal) Parameter() int       { return l.Median }
func (l *LogNormal) Observable() int      { return l.X }

// LogProb evaluates the log-normal density of x with the given median.
func (l *LogNormal) LogProb(values []float64) float64 {
	median := values[l.Median]
	if median <= 0 || values[l.X] <= 0 {
		return math.Inf(-1)
	}
	return distuv.LogNormal{Mu: math.Log(median), Sigma: math.Log(l.Kappa)}.LogProb(values[l.X])
}

func (c *GammaConstraint) Name() string         { return c.Label }
func (c *GammaConstraint) Dependents() []int    { return []int{c.X, c.Gamma} }
func (c *GammaConstraint) DependsOn(i int) bool { return i == c.X || i == c.Gamma }
func (c *GammaConstraint) Parameter() int       { return c.Gamma }
func (c *GammaConstraint) Observable() int      { return c.X }

// LogProb evaluates the gamma density of the constrained parameter.
func (c *GammaConstraint) LogProb(values []float64) float64 {
	g := values[c.Gamma]
	if g <= 0 {
		return math.Inf(-1)
	}
	return distuv.Gamma{Alpha: c.Tau*values[c.X] + 1, Beta: c.Tau}.LogProb(g)
}

func (c *PoissonConstraint) Name() string         { return c.Label }
func (c *PoissonConstraint) Dependents() []int    { return []int{c.X, c.Mean} }
func (c *PoissonConstraint) DependsOn(i int) bool { return i == c.X || i == c.Mean }
func (c *PoissonConstraint) Parameter() int       { return c.Mean }
func (c *PoissonConstraint) Observable() int      { return c.X }

// LogProb evaluates a Poisson term continued to non-integer counts.
func (c *PoissonConstraint) LogProb(values []float64) float64 {
	return -poissonNLL(c.Tau*values[c.X], c.Tau*values[c.Mean])
}

func (b *BifurcatedGaussian) Name() string         { return b.Label }
func (b *BifurcatedGaussian) Dependents() []int    { return []int{b.X, b.Mean} }
func (b *BifurcatedGaussian) DependsOn(i int) bool { return i == b.X || i == b.Mean }
func (b *BifurcatedGaussian) Parameter() int       { return b.Mean }
func (b *BifurcatedGaussian) Observable() int      { return b.X }

// LogProb evaluates the normalised bifurcated Gaussian.
func (b *BifurcatedGaussian) LogProb(values []float64) float64 {
	d := values[b.X] - values[b.Mean]
	s := b.SigmaHi
	if d < 0 {
		s = b.SigmaLo
	}
	norm := math.Log(2 / (math.Sqrt(2*math.Pi) * (b.SigmaLo + b.SigmaHi)))
	return norm - d*d/(2*s*s)
}

func (p *Product) Name() string { return p.Label }

// Dependents returns the union of the dependents of all terms.
func (p *Product) Dependents() []int {
	seen := make(map[int]struct{})
	var out []int
	for _, t := range p.Terms {
		for _, i := range t.Dependents() {
			if _, ok := seen[i]; !ok {
				seen[i] = struct{}{}
				out = append(out, i)
			}
		}
	}
	return out
}

// DependsOn reports whether any term depends on parameter i.
func (p *Product) DependsOn(i int) bool {
	for _, t := range p.Terms {
		if t.DependsOn(i) {
			return true
		}
	}
	return false
}

// LogProb sums the log-probabilities of the terms.
func (p *Product) LogProb(values []float64) float64 {
	sum := 0.0
	for _, t := range p.Terms {
		sum += t.LogProb(values)
	}
	return sum
}

// Unfold flattens a density into its terminal constraint terms. The result
// has no duplicates and keeps first-seen order.
func Unfold(d Density) ([]Terminal, error) {
	u := unfolder{seen: make(map[Terminal]struct{})}
	if err := u.unfold(d, 0); err != nil {
		return nil, err
	}
	return u.out, nil
}

// UnfoldAll flattens a list of top-level densities.
func UnfoldAll(ds []Density) ([]Terminal, error) {
	u := unfolder{seen: make(map[Terminal]struct{})}
	for _, d := range ds {
		if err := u.unfold(d, 0); err != nil {
			return nil, err
		}
	}
	return u.out, nil
}

type unfolder struct {
	seen map[Terminal]struct{}
	out  []Terminal
}

func (u *unfolder) unfold(d Density, depth int) error {
	if depth > MaxUnfoldDepth {
		return fmt.Errorf("%w (%d) at %q", ErrUnfoldDepth, MaxUnfoldDepth, d.Name())
	}
	switch v := d.(type) {
	case Terminal:
		if _, ok := u.seen[v]; !ok {
			u.seen[v] = struct{}{}
			u.out = append(u.out, v)
		}
	case *Product:
		for _, t := range v.Terms {
			if err := u.unfold(t, depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported density %T %q", d, d.Name())
	}
	return nil
}

// poissonNLL is -log Poisson(n | nu) continued to real n through lgamma.
func poissonNLL(n, nu float64) float64 {
	lg, _ := math.Lgamma(n + 1)
	if n == 0 {
		return nu
	}
	return nu - n*math.Log(nu) + lg
}
