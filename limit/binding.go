package limit

import (
	"github.com/google/uuid"

	"github.com/thmegy/Unfolding-sub003/histogram"
	"github.com/thmegy/Unfolding-sub003/model"
	"github.com/thmegy/Unfolding-sub003/snapshot"
)

// Binding is an NLL bound to a dataset. Fit results are cached per binding ID.
type Binding struct {
	ID   uuid.UUID
	Name string
	NLL  *model.NLL
	// Globs holds the global observables to fit this dataset with; zero
	// means the nominal ones.
	Globs snapshot.Key
	// FixMuhatAtZero skips the unconditional fit and takes muhat = 0, which
	// holds by construction for Asimov data generated at mu = 0.
	FixMuhatAtZero bool
}

// NewBinding creates a binding with a fresh identity.
func NewBinding(name string, nll *model.NLL, globs snapshot.Key) *Binding {
	return &Binding{ID: uuid.New(), Name: name, NLL: nll, Globs: globs}
}

// Data returns the bound dataset.
func (b *Binding) Data() *histogram.Dataset {
	return b.NLL.Data()
}

// fit is the cached unconditional fit of a binding.
type fit struct {
	muhat float64
	// nll is the NLL at muhat; ref is the reference value of q_mu, which
	// differs from nll when the tilde statistic caps a negative muhat at 0.
	nll    float64
	ref    float64
	nuis   map[string]float64
	status int
}
