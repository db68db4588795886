// Package sparsify selects small subsets of a vector by
// element magnitude.
//
// Every selector returns its indices in ascending order and
// is deterministic: equal magnitudes are ordered by index.
package sparsify

import (
	"math"

	"github.com/unixpickle/essentials"
)

// Direction says which end of the magnitude ordering a
// selector takes.
type Direction int

const (
	// Bottom selects the smallest magnitudes.
	Bottom Direction = iota

	// Top selects the largest magnitudes.
	Top
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Top {
		return Bottom
	}
	return Top
}

func (d Direction) String() string {
	if d == Top {
		return "top"
	}
	return "bottom"
}

// A Result is the outcome of a selection.
type Result struct {
	// Values holds buf[i] for every selected index i.
	Values []float64

	// Indices are the selected positions, ascending.
	Indices []int

	// Iterations is the number of refinement rounds a
	// threshold selector ran. It is 0 for exact selectors.
	Iterations int

	// Threshold is the magnitude cut-off a threshold
	// selector settled on.
	Threshold float64
}

// Len gets the number of selected elements.
func (r Result) Len() int {
	return len(r.Indices)
}

// Mean gets the arithmetic mean of the selected values.
// It is 0 for an empty selection.
func (r Result) Mean() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	var sum float64
	for _, x := range r.Values {
		sum += x
	}
	return sum / float64(len(r.Values))
}

// K computes how many of n elements a ratio keeps.
// At least one element is kept from a non-empty vector.
func K(n int, ratio float64) int {
	if n <= 0 {
		return 0
	}
	// The epsilon keeps ratios like 0.001*200000 from
	// rounding up past the intended count.
	k := int(math.Ceil(ratio*float64(n) - 1e-9))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Exact selects exactly K(len(buf), ratio) elements: the
// largest or smallest magnitudes, depending on dir.
func Exact(buf []float64, ratio float64, dir Direction) Result {
	order := make([]int, len(buf))
	for i := range order {
		order[i] = i
	}
	return exactAmong(buf, order, K(len(buf), ratio), dir)
}

// Trimmed selects the same elements as Exact, but first
// discards every element on the wrong side of the mean
// magnitude so that only the survivors are sorted.
func Trimmed(buf []float64, ratio float64, dir Direction) Result {
	k := K(len(buf), ratio)
	if k == 0 {
		return Result{}
	}
	mean := meanMagnitude(buf)
	candidates := make([]int, 0, len(buf)/2+1)
	for i, x := range buf {
		m := math.Abs(x)
		if (dir == Top && m >= mean) || (dir == Bottom && m <= mean) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) < k {
		// Only possible with NaN magnitudes.
		return Exact(buf, ratio, dir)
	}
	return exactAmong(buf, candidates, k, dir)
}

// Threshold approximates a top or bottom selection by
// bisecting on a magnitude threshold until the number of
// elements past it lies within 25% of K(len(buf), ratio),
// or until maxIterations rounds have run.
//
// At most ceil(1.25*K) elements are returned; when more
// pass the threshold, the lowest indices win.
func Threshold(buf []float64, ratio float64, dir Direction) Result {
	k := K(len(buf), ratio)
	if k == 0 {
		return Result{}
	}
	low := float64(k) * (1 - thresholdSlack)
	high := float64(k) * (1 + thresholdSlack)
	limit := int(math.Ceil(high))

	lo, hi := magnitudeRange(buf)
	var threshold float64
	var iters int
	for iters < maxIterations {
		iters++
		threshold = (lo + hi) / 2
		count := float64(countPast(buf, threshold, dir))
		if count > high {
			if dir == Top {
				lo = threshold
			} else {
				hi = threshold
			}
		} else if count < low {
			if dir == Top {
				hi = threshold
			} else {
				lo = threshold
			}
		} else {
			break
		}
	}

	res := Result{Iterations: iters, Threshold: threshold}
	for i, x := range buf {
		if len(res.Indices) == limit {
			break
		}
		if past(math.Abs(x), threshold, dir) {
			res.Indices = append(res.Indices, i)
			res.Values = append(res.Values, x)
		}
	}
	if len(res.Indices) == 0 {
		exact := Exact(buf, ratio, dir)
		exact.Iterations = iters
		exact.Threshold = threshold
		return exact
	}
	return res
}

const (
	thresholdSlack = 0.25
	maxIterations  = 30
)

func exactAmong(buf []float64, order []int, k int, dir Direction) Result {
	if k == 0 {
		return Result{}
	}
	essentials.VoodooSort(order, func(i, j int) bool {
		m1, m2 := math.Abs(buf[order[i]]), math.Abs(buf[order[j]])
		if m1 == m2 {
			return order[i] < order[j]
		}
		if dir == Top {
			return m1 > m2
		}
		return m1 < m2
	})
	indices := append([]int{}, order[:k]...)
	essentials.VoodooSort(indices, func(i, j int) bool {
		return indices[i] < indices[j]
	})
	values := make([]float64, k)
	for i, idx := range indices {
		values[i] = buf[idx]
	}
	return Result{Values: values, Indices: indices}
}

func meanMagnitude(buf []float64) float64 {
	var sum float64
	for _, x := range buf {
		sum += math.Abs(x)
	}
	return sum / float64(len(buf))
}

func magnitudeRange(buf []float64) (lo, hi float64) {
	lo = math.Inf(1)
	for _, x := range buf {
		m := math.Abs(x)
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}
	return
}

func past(m, threshold float64, dir Direction) bool {
	if dir == Top {
		return m >= threshold
	}
	return m <= threshold
}

func countPast(buf []float64, threshold float64, dir Direction) int {
	var count int
	for _, x := range buf {
		if past(math.Abs(x), threshold, dir) {
			count++
		}
	}
	return count
}
