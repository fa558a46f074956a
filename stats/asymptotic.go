package stats

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultPrecision is the relative convergence precision used when none is set.
const DefaultPrecision = 0.005

const (
	qmu95MaxIter = 200
	bruteStep    = 0.001
	bruteMax     = 20.0
)

var (
	// ErrIterationLimit is returned when an iteration exceeds its hard cap.
	ErrIterationLimit = errors.New("iteration limit exceeded")
	// ErrNaN is returned when a computation diverges to NaN.
	ErrNaN = errors.New("numerical divergence (NaN)")
)

// Asymptotics evaluates the asymptotic distributions of the q_mu and
// tilde-q_mu test statistics.
type Asymptotics struct {
	TargetCLs float64 // e.g. 0.05 for 95% CL limits
	Tilde     bool    // use the tilde-q_mu statistic
	Precision float64 // relative precision of iterative solves
}

func (a Asymptotics) precision() float64 {
	if a.Precision > 0 {
		return a.Precision
	}
	return DefaultPrecision
}

// tailCutoff is where the normal tail switches from erfc to its asymptotic
// expansion, well above the float64 underflow of the tail itself.
const tailCutoff = 35.0

var logSqrt2Pi = 0.5 * math.Log(2*math.Pi)

// logSurvival returns log(1 - Phi(x)) without underflow for large x.
func logSurvival(x float64) float64 {
	if x < tailCutoff {
		return math.Log(distuv.UnitNormal.Survival(x))
	}
	x2 := 1 / (x * x)
	series := x2 * (-1 + x2*(3+x2*(-15+x2*(105-945*x2))))
	return -x*x/2 - math.Log(x) - logSqrt2Pi + math.Log1p(series)
}

// hazard returns phi(x) / (1 - Phi(x)).
func hazard(x float64) float64 {
	return math.Exp(-x*x/2 - logSqrt2Pi - logSurvival(x))
}

// args returns the normal arguments of the two p-values, Pmu = 1 - Phi(x)
// and CLb = Phi(xb), with their derivatives in qmu. Below (mu/sigma)^2, or
// without the tilde statistic, the distribution is the half chi-square one.
func (a Asymptotics) args(qmu, sigma, mu float64) (x, dx, xb, dxb float64) {
	r := math.Abs(mu / sigma)
	if qmu < r*r || !a.Tilde {
		s := math.Sqrt(math.Max(qmu, 1e-300))
		return s, 1 / (2 * s), r - s, -1 / (2 * s)
	}
	return (qmu + r*r) / (2 * r), 1 / (2 * r), (r*r - qmu) / (2 * r), -1 / (2 * r)
}

// Pmu returns the p-value of the signal+background hypothesis (CLs+b).
func (a Asymptotics) Pmu(qmu, sigma, mu float64) float64 {
	x, _, _, _ := a.args(qmu, sigma, mu)
	return distuv.UnitNormal.Survival(x)
}

// Pb returns the background-only p-value, so that CLb = 1 - Pb.
func (a Asymptotics) Pb(qmu, sigma, mu float64) float64 {
	_, _, xb, _ := a.args(qmu, sigma, mu)
	return distuv.UnitNormal.Survival(xb)
}

// CLb returns 1 - Pb, computed directly so that it keeps its precision in
// the tail.
func (a Asymptotics) CLb(qmu, sigma, mu float64) float64 {
	_, _, xb, _ := a.args(qmu, sigma, mu)
	return distuv.UnitNormal.CDF(xb)
}

// CLs returns Pmu / CLb. Both tails are taken in log space, so the ratio
// stays finite and non-increasing in qmu long after either underflows. When
// CLb is exactly zero (qmu = +Inf) it returns 0.5.
func (a Asymptotics) CLs(qmu, sigma, mu float64) float64 {
	x, _, xb, _ := a.args(qmu, sigma, mu)
	lb := logSurvival(-xb)
	if math.IsInf(lb, -1) {
		return 0.5
	}
	return math.Exp(logSurvival(x) - lb)
}

// DerCLs returns dCLs/dqmu.
func (a Asymptotics) DerCLs(qmu, sigma, mu float64) float64 {
	x, dx, xb, dxb := a.args(qmu, sigma, mu)
	lb := logSurvival(-xb)
	if math.IsInf(lb, -1) {
		return 0
	}
	cls := math.Exp(logSurvival(x) - lb)
	// d log Pmu = -h(x) dx, d log CLb = h(-xb) dxb.
	return cls * (-hazard(x)*dx - hazard(-xb)*dxb)
}

// Qmu95 returns the q_mu value at which CLs equals the target, for a POI value
// mu with asymptotic width sigma.
func (a Asymptotics) Qmu95(sigma, mu float64) (float64, error) {
	z := distuv.UnitNormal.Quantile(1 - a.TargetCLs)
	if math.Abs(mu/sigma) < 0.1*z {
		// CLs hardly depends on qmu this close to zero; use the
		// background-free threshold.
		return -2 * math.Log(a.TargetCLs), nil
	}

	q := z * z
	damp := NewDamper()
	for iter := 0; ; iter++ {
		if iter >= qmu95MaxIter {
			return q, ErrIterationLimit
		}
		corr := (a.CLs(q, sigma, mu) - a.TargetCLs) / a.DerCLs(q, sigma, mu)
		if math.IsNaN(corr) || math.IsInf(corr, 0) {
			return a.Qmu95Brute(sigma, mu), nil
		}
		corr = damp.Step(q, corr, a.precision())
		next := q - corr
		if next <= 0 {
			next = q / 2
		}
		q = next
		if math.Abs(corr) <= 2*q*a.precision() {
			break
		}
	}
	if math.IsNaN(q) {
		return a.Qmu95Brute(sigma, mu), nil
	}
	return q, nil
}

// Qmu95Brute scans qmu in steps of 0.001 over [0, 20] and returns the first
// value whose CLs falls to the target.
func (a Asymptotics) Qmu95Brute(sigma, mu float64) float64 {
	for q := bruteStep; q <= bruteMax; q += bruteStep {
		if a.CLs(q, sigma, mu) <= a.TargetCLs {
			return q
		}
	}
	return bruteMax
}

// PValueFromQ0 converts the discovery statistic q0 into a one-sided p-value
// and significance. A negative muhat gives a negative significance.
func PValueFromQ0(q0, muhat float64) (p, z float64) {
	z = math.Sqrt(math.Abs(q0))
	if muhat < 0 {
		z = -z
	}
	return 1 - distuv.UnitNormal.CDF(z), z
}

// BandApprox returns the expected limit shifted by n standard deviations
// for a POI width sigma, in the Gaussian approximation.
func (a Asymptotics) BandApprox(sigma, n float64) float64 {
	return sigma * (distuv.UnitNormal.Quantile(1-a.TargetCLs*distuv.UnitNormal.CDF(n)) + n)
}

// MedianSigma returns the POI width implied by a median limit.
func (a Asymptotics) MedianSigma(median float64) float64 {
	z := distuv.UnitNormal.Quantile(1 - a.TargetCLs/2)
	return median / z
}
