// Package golimit computes asymptotic CLs upper limits on a signal strength
// for binned likelihood models.
//
// The limits follow the asymptotic formulae for the profile likelihood ratio
// test statistic (Cowan, Cranmer, Gross, Vitells). Expected limits are
// obtained on Asimov datasets, in which every bin holds its expected yield,
// instead of on pseudo-experiments.
//
// # Quick Start
//
// Describe a model in YAML and compute the limits for observed data:
//
//	spec, _ := model.LoadSpec("counting.yaml")
//	m, _ := spec.Build()
//	data, _ := histogram.LoadCSV("observed.csv", nil)
//	rec, _ := runner.Run(ctx, m, data, runner.DefaultConfig(), logger)
//	fmt.Println(rec.ExpUpperLimit, rec.ObsUpperLimit)
//
// # Packages
//
//   - model: parameters, constraint terms, binned likelihood models and the NLL
//   - histogram: binned datasets and CSV I/O
//   - minimizer: bounded minimisation with a retry ladder
//   - snapshot: saved parameter states keyed by label and POI value
//   - stats: asymptotic CLs formulae
//   - asimov: Asimov dataset generation
//   - limit: limit, band and p-value solver
//   - runner: run configuration, orchestration and result records
//
// # References
//
//   - G. Cowan, K. Cranmer, E. Gross, O. Vitells, Asymptotic formulae for
//     likelihood-based tests of new physics, Eur. Phys. J. C 71 (2011) 1554
//   - A. L. Read, Presentation of search results: the CLs technique,
//     J. Phys. G 28 (2002) 2693
package golimit
