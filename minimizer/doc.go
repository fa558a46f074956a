// Package minimizer finds local minima of likelihood functions over the free
// parameters of a model.Parameters arena.
//
// The fit runs on gonum's optimize package with finite-difference gradients.
// Bounded parameters are mapped to unbounded internal coordinates with the
// usual sine (two bounds) and square-root (one bound) transforms.
//
// A failed fit is retried along a fixed ladder: the strategy is raised up to
// 2, then the algorithm family is swapped (quasi-Newton and simplex) and the
// strategies are walked again. The best point found is always written back
// into the parameter arena. Status 0 and 1 denote success.
//
// # Basic Usage
//
//	min := minimizer.New(minimizer.DefaultConfig(), logger)
//	res := min.Minimize(nll.Eval, m.Params)
//	if !res.OK() {
//	    // the fit did not converge; values hold the best point found
//	}
package minimizer
