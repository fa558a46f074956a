package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/thmegy/Unfolding-sub003/histogram"
)

const (
	// tinyYield is the floor applied to expected bin yields.
	tinyYield = 1e-12
	// infPenalty replaces an infinite constraint term.
	infPenalty = 1e12
)

// NLL is an extended binned Poisson negative log-likelihood of a model bound
// to a dataset, including the model's constraint terms. Eval is a pure
// function of the parameter vector and is safe for concurrent use.
type NLL struct {
	Name   string
	model  *Model
	data   *histogram.Dataset
	counts [][]float64
}

// CreateNLL binds the model to a dataset. Every channel in the dataset must be
// defined by the model.
func (m *Model) CreateNLL(name string, data *histogram.Dataset) (*NLL, error) {
	if data == nil {
		return nil, errors.New("nil dataset")
	}
	for _, ch := range data.Channels() {
		if m.Channel(ch) < 0 {
			return nil, fmt.Errorf("dataset %q: unknown channel %q", data.Name, ch)
		}
	}
	counts := make([][]float64, len(m.Channels))
	for i := range m.Channels {
		counts[i] = data.Counts(m.Channels[i].Name, m.Channels[i].Bins())
	}
	return &NLL{Name: name, model: m, data: data, counts: counts}, nil
}

// Data returns the bound dataset.
func (n *NLL) Data() *histogram.Dataset {
	return n.data
}

// Model returns the model the NLL was built from.
func (n *NLL) Model() *Model {
	return n.model
}

// Rebind returns the same likelihood evaluated over another model sharing its
// structure, typically a clone with private parameters.
func (n *NLL) Rebind(m *Model) *NLL {
	c := *n
	c.model = m
	return &c
}

// Eval returns the negative log-likelihood at values.
func (n *NLL) Eval(values []float64) float64 {
	m := n.model
	sum := 0.0
	for ci := range m.Channels {
		for b, obs := range n.counts[ci] {
			nu := m.ExpectedBin(ci, b, values)
			if nu < tinyYield {
				sum += (tinyYield - nu) * infPenalty
				nu = tinyYield
			}
			sum += poissonNLL(obs, nu)
		}
	}
	for _, c := range m.Constraints {
		lp := c.LogProb(values)
		if math.IsInf(lp, -1) || math.IsNaN(lp) {
			sum += infPenalty
			continue
		}
		sum -= lp
	}
	return sum
}
