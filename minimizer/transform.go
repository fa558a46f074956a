package minimizer

import "math"

// bound maps a bounded external parameter to an unbounded internal one using
// the sine/square-root transforms.
type bound struct {
	lo, hi float64
}

func (b bound) hasLo() bool { return !math.IsInf(b.lo, -1) }
func (b bound) hasHi() bool { return !math.IsInf(b.hi, 1) }

// toExternal maps an internal value to the parameter range.
func (b bound) toExternal(u float64) float64 {
	switch {
	case b.hasLo() && b.hasHi():
		return b.lo + (b.hi-b.lo)*(math.Sin(u)+1)/2
	case b.hasLo():
		return b.lo - 1 + math.Sqrt(u*u+1)
	case b.hasHi():
		return b.hi + 1 - math.Sqrt(u*u+1)
	}
	return u
}

// toInternal maps a parameter value to internal space. Values on a bound are
// nudged inside first: the transform is flat there and a fit would stall.
func (b bound) toInternal(x float64) float64 {
	switch {
	case b.hasLo() && b.hasHi():
		w := b.hi - b.lo
		if w == 0 {
			return 0
		}
		eps := 1e-6 * w
		x = math.Min(math.Max(x, b.lo+eps), b.hi-eps)
		return math.Asin(2*(x-b.lo)/w - 1)
	case b.hasLo():
		x = math.Max(x, b.lo+1e-6)
		d := x - b.lo + 1
		return math.Sqrt(d*d - 1)
	case b.hasHi():
		x = math.Min(x, b.hi-1e-6)
		d := b.hi - x + 1
		return math.Sqrt(d*d - 1)
	}
	return x
}
