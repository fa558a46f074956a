package model

import (
	"fmt"
	"math"
)

// Parameter is a named scalar with a range and a floating/constant flag.
type Parameter struct {
	Name     string
	Value    float64
	Min      float64
	Max      float64
	Constant bool
}

// Parameters is an arena of parameters addressed by stable indices.
// It is the single piece of mutable state every fit works on.
type Parameters struct {
	list  []Parameter
	index map[string]int
}

// NewParameters creates an empty parameter arena.
func NewParameters() *Parameters {
	return &Parameters{index: make(map[string]int)}
}

// Add appends a parameter and returns its index.
func (p *Parameters) Add(par Parameter) (int, error) {
	if par.Name == "" {
		return -1, fmt.Errorf("parameter without name")
	}
	if _, ok := p.index[par.Name]; ok {
		return -1, fmt.Errorf("duplicate parameter %q", par.Name)
	}
	if par.Min == 0 && par.Max == 0 {
		par.Min, par.Max = math.Inf(-1), math.Inf(1)
	}
	if par.Min > par.Max {
		return -1, fmt.Errorf("parameter %q: min %g above max %g", par.Name, par.Min, par.Max)
	}
	p.list = append(p.list, par)
	i := len(p.list) - 1
	p.index[par.Name] = i
	return i, nil
}

// Len returns the number of parameters.
func (p *Parameters) Len() int {
	return len(p.list)
}

// Index returns the index of the named parameter.
func (p *Parameters) Index(name string) (int, bool) {
	i, ok := p.index[name]
	return i, ok
}

// At returns a copy of parameter i.
func (p *Parameters) At(i int) Parameter {
	return p.list[i]
}

// Name returns the name of parameter i.
func (p *Parameters) Name(i int) string {
	return p.list[i].Name
}

// Value returns the current value of parameter i.
func (p *Parameters) Value(i int) float64 {
	return p.list[i].Value
}

// Set assigns v to parameter i, clipped to its range.
func (p *Parameters) Set(i int, v float64) {
	par := &p.list[i]
	if v < par.Min {
		v = par.Min
	}
	if v > par.Max {
		v = par.Max
	}
	par.Value = v
}

// SetRange changes the range of parameter i and clips its value.
func (p *Parameters) SetRange(i int, lo, hi float64) {
	par := &p.list[i]
	par.Min, par.Max = lo, hi
	p.Set(i, par.Value)
}

// Bounds returns the range of parameter i.
func (p *Parameters) Bounds(i int) (lo, hi float64) {
	return p.list[i].Min, p.list[i].Max
}

// SetConstant fixes or releases parameter i.
func (p *Parameters) SetConstant(i int, c bool) {
	p.list[i].Constant = c
}

// IsConstant reports whether parameter i is fixed.
func (p *Parameters) IsConstant(i int) bool {
	return p.list[i].Constant
}

// Values returns a copy of all parameter values, indexed like the arena.
func (p *Parameters) Values() []float64 {
	v := make([]float64, len(p.list))
	for i := range p.list {
		v[i] = p.list[i].Value
	}
	return v
}

// SetValues overwrites all values. The slice must be as long as the arena.
func (p *Parameters) SetValues(v []float64) {
	for i := range p.list {
		p.list[i].Value = v[i]
	}
}

// Free returns the indices of non-constant parameters.
func (p *Parameters) Free() []int {
	var idx []int
	for i := range p.list {
		if !p.list[i].Constant {
			idx = append(idx, i)
		}
	}
	return idx
}

// ValueMap returns name -> value for the given indices.
func (p *Parameters) ValueMap(idx []int) map[string]float64 {
	m := make(map[string]float64, len(idx))
	for _, i := range idx {
		m[p.list[i].Name] = p.list[i].Value
	}
	return m
}

// Clone returns an independent copy of the arena.
func (p *Parameters) Clone() *Parameters {
	list := make([]Parameter, len(p.list))
	copy(list, p.list)
	index := make(map[string]int, len(p.index))
	for k, v := range p.index {
		index[k] = v
	}
	return &Parameters{list: list, index: index}
}
