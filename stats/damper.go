package stats

import "math"

const (
	// oscillationTol is the relative distance within which a new guess is
	// taken to revisit an earlier one.
	oscillationTol = 0.02
	dampingFactor  = 0.8
	// dampingResets is the number of detected oscillations after which the
	// damping is reset to 1.
	dampingResets = 10
)

// Damper tracks earlier guesses of a Newton iteration and shrinks the step
// when the iteration revisits one of them.
type Damper struct {
	factor     float64
	detections int
	guesses    []float64
}

// NewDamper returns a damper with no damping applied yet.
func NewDamper() *Damper {
	return &Damper{factor: 1}
}

// Factor returns the current damping factor.
func (d *Damper) Factor() float64 { return d.factor }

// Step damps corr for a guess at x and records the guess. Steps smaller than
// precision*|x| are never damped.
func (d *Damper) Step(x, corr, precision float64) float64 {
	corr *= d.factor
	next := x - corr
	if math.Abs(corr) > precision*math.Abs(x) {
		for _, g := range d.guesses {
			if math.Abs(g-next) < oscillationTol*math.Abs(x) {
				d.factor *= dampingFactor
				corr *= dampingFactor
				d.detections++
				if d.detections >= dampingResets {
					d.factor = 1
					d.detections = 0
				}
				break
			}
		}
	}
	d.guesses = append(d.guesses, x)
	return corr
}
