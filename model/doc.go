// Package model provides the binned likelihood model the limit engine fits.
//
// A Model owns a Parameters arena: every parameter (the parameter of interest,
// nuisance parameters and their global observables) lives at a stable index,
// and every fit mutates that arena in place. Snapshots of the arena are cheap
// value copies.
//
// Expected yields are built per channel from samples with normalisation
// factors, normalisation systematics (exponential interpolation), shape
// systematics (linear interpolation) and per-bin shape factors.
//
// # Constraints
//
// Nuisance parameters are constrained by terminal densities tying one
// parameter to one global observable:
//
//   - Gaussian
//   - LogNormal
//   - GammaConstraint
//   - PoissonConstraint
//   - BifurcatedGaussian
//
// Composite densities (Product) are flattened with Unfold, which stops with
// ErrUnfoldDepth on graphs nested deeper than MaxUnfoldDepth.
//
// # Basic Usage
//
// Describe a model in YAML and build it:
//
//	spec, err := model.LoadSpec("model.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m, err := spec.Build()
//
// Bind it to data and evaluate the negative log-likelihood:
//
//	nll, err := m.CreateNLL("obs", data)
//	v := nll.Eval(m.Params.Values())
package model
