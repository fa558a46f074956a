// Package limit computes asymptotic CLs upper limits, expected-limit bands and
// background-only p-values.
//
// A Solver works on NLL bindings of one model. For each binding it caches the
// unconditional fit (muhat and the NLL at muhat). The limit is found by an
// outer iteration: at the current guess the profile likelihood ratio q_mu
// gives the width sigma of the POI estimator, and FindCrossing solves the
// parabolic approximation of q_mu for the POI value where CLs reaches the
// target. Both iterations are damped Newton steps which shrink their step
// when they revisit an earlier guess.
//
// Numerical failures (NaN, exhausted iteration caps) are returned as
// *FatalError. Fits that do not converge are not errors: they are retried from
// fallback snapshots and counted in Failures.
//
// # Basic Usage
//
//	solver := limit.New(m, store, min, limit.DefaultOptions(), logger)
//	asimov0 := limit.NewBinding("asimovData_0", nll0, res0.GlobsKey)
//	asimov0.FixMuhatAtZero = true
//	solver.SetAsimov0(asimov0)
//
//	med, err := solver.Limit(asimov0, 0)
//	if limit.IsFatal(err) {
//	    log.Fatal(err)
//	}
//	fmt.Println(med.Limit)
package limit
