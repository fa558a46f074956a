// Package histogram provides binned data structures for counting experiments.
package histogram

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Histogram represents a one-dimensional binned observable.
type Histogram struct {
	Name   string
	Edges  []float64 // len(Edges) == Len()+1, strictly increasing
	Values []float64
}

// New creates an empty histogram with the given bin edges.
func New(name string, edges []float64) *Histogram {
	e := make([]float64, len(edges))
	copy(e, edges)
	n := len(edges) - 1
	if n < 0 {
		n = 0
	}
	return &Histogram{
		Name:   name,
		Edges:  e,
		Values: make([]float64, n),
	}
}

// Uniform creates a histogram with nbins equal-width bins over [lo, hi).
func Uniform(name string, nbins int, lo, hi float64) (*Histogram, error) {
	if nbins < 1 {
		return nil, errors.New("histogram needs at least one bin")
	}
	if !(hi > lo) {
		return nil, errors.New("upper edge must exceed lower edge")
	}
	edges := make([]float64, nbins+1)
	floats.Span(edges, lo, hi)
	return New(name, edges), nil
}

// Len returns the number of bins.
func (h *Histogram) Len() int {
	return len(h.Values)
}

// Sum returns the sum of all bin values.
func (h *Histogram) Sum() float64 {
	if len(h.Values) == 0 {
		return 0
	}
	return floats.Sum(h.Values)
}

// Width returns the width of bin i.
func (h *Histogram) Width(i int) float64 {
	if i < 0 || i+1 >= len(h.Edges) {
		return math.NaN()
	}
	return h.Edges[i+1] - h.Edges[i]
}

// Center returns the center of bin i.
func (h *Histogram) Center(i int) float64 {
	if i < 0 || i+1 >= len(h.Edges) {
		return math.NaN()
	}
	return (h.Edges[i] + h.Edges[i+1]) / 2
}

// FindBin returns the bin containing x, or -1 when x is outside the range.
func (h *Histogram) FindBin(x float64) int {
	n := len(h.Edges)
	if n < 2 || x < h.Edges[0] || x >= h.Edges[n-1] {
		return -1
	}
	// first edge strictly greater than x
	i := sort.SearchFloat64s(h.Edges, x)
	if i < n && h.Edges[i] == x {
		return i
	}
	return i - 1
}

// Mean returns the value-weighted mean of the bin centers.
func (h *Histogram) Mean() float64 {
	total := h.Sum()
	if total == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i, v := range h.Values {
		sum += v * h.Center(i)
	}
	return sum / total
}

// Scale multiplies every bin value by f and returns the histogram.
func (h *Histogram) Scale(f float64) *Histogram {
	floats.Scale(f, h.Values)
	return h
}

// Copy creates a deep copy of the histogram.
func (h *Histogram) Copy() *Histogram {
	edges := make([]float64, len(h.Edges))
	copy(edges, h.Edges)

	values := make([]float64, len(h.Values))
	copy(values, h.Values)

	return &Histogram{
		Name:   h.Name,
		Edges:  edges,
		Values: values,
	}
}
