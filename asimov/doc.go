// Package asimov builds Asimov datasets: datasets whose bin contents equal the
// expected yields of a model at a chosen parameter point.
//
// Every terminal constraint term of the model is paired with the nuisance
// parameter it constrains and the global observable measuring it. When a
// dataset is built, the nuisance parameters are optionally profiled on a
// conditioning likelihood with the POI held fixed, and each global
// observable is set to the value of its paired nuisance parameter. The
// resulting global observables and nuisance parameters are saved as
// conditional snapshots keyed by the profiling POI value.
//
// # Basic Usage
//
//	b, err := asimov.NewBuilder(m, store, min, logger)
//	zero := 0.0
//	res, err := b.Build(asimov.Request{
//	    Name:        "asimovData_0",
//	    Mu:          0,
//	    Profile:     &zero,
//	    Conditional: true,
//	    NLL:         obsNLL,
//	})
//	// res.Data is the dataset, res.GlobsKey the global observables to load
//	// before fitting it.
package asimov
