// Package stats implements the asymptotic formulae for CLs upper limits.
//
// For a POI value mu with asymptotic Gaussian width sigma, the distributions
// of q_mu (and of tilde-q_mu, which caps the fitted POI at zero) are known in
// closed form. Asymptotics evaluates the resulting p-values and solves for
// the q_mu threshold at which CLs reaches the target level.
//
// # Basic Usage
//
//	a := stats.Asymptotics{TargetCLs: 0.05, Tilde: true}
//	cls := a.CLs(qmu, sigma, mu)
//	q95, err := a.Qmu95(sigma, mu)
//
// Expected-limit bands in the Gaussian approximation:
//
//	sigma := a.MedianSigma(median)
//	plus1 := a.BandApprox(sigma, 1)
//
// Discovery p-values:
//
//	p, z := stats.PValueFromQ0(q0, muhat)
package stats
