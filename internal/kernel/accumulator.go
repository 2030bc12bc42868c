// Package kernel implements streaming scaled dot-product attention: a scalar
// reference form that folds one key at a time, and a tiled form that streams
// fixed-size key blocks through a pair of fused matrix products. Both are
// built on the same online-softmax accumulation and produce the same result
// as the textbook algorithm up to floating-point rounding, without ever
// materializing the full score matrix.
package kernel

import (
	"math"

	"github.com/rill-ml/rill/internal/gemm"
)

func expT[T gemm.Float](x T) T {
	return T(math.Exp(float64(x)))
}

func logT[T gemm.Float](x T) T {
	return T(math.Log(float64(x)))
}

func negInf[T gemm.Float]() T {
	return T(math.Inf(-1))
}

// Accumulator maintains, for one query row, a numerically stable running
// softmax-weighted sum over incrementally revealed key/value pairs.
//
// State:
//
//	m   - running maximum raw score, starts at -Inf
//	s   - running normalizing sum, starts at 0
//	acc - running weighted value accumulation, starts at zero
//
// Every fold preserves the invariant
//
//	acc = Σ_seen exp(score_k - m) * value_k
//	s   = Σ_seen exp(score_k - m)
//
// so after the last fold acc/s is the softmax-weighted sum over all keys.
// All post-subtraction exponents are <= 0, which is what keeps the running
// sum from overflowing no matter how large the raw scores are.
type Accumulator[T gemm.Float] struct {
	m        T
	s        T
	acc      []T
	valueDim int
}

// NewAccumulator creates an accumulator for rows of the given value
// feature dimension.
func NewAccumulator[T gemm.Float](valueDim int) *Accumulator[T] {
	return &Accumulator[T]{
		m:        negInf[T](),
		s:        0,
		acc:      make([]T, valueDim),
		valueDim: valueDim,
	}
}

// FoldOne folds a single key's raw score and value row into the running
// state. This is the key-block-size-1 form used by the scalar kernel.
//
// A score of -Inf (a masked-out key) contributes nothing: if no live score
// has been seen yet the state stays at its initial values, so a fully
// masked row finalizes with s == 0 exactly.
func (a *Accumulator[T]) FoldOne(score T, value []T) {
	mi := a.m
	if score > mi {
		mi = score
	}
	if math.IsInf(float64(mi), -1) {
		return // nothing live yet
	}

	mDelta := expT(a.m - mi)
	sDelta := expT(score - mi)

	for k := 0; k < a.valueDim; k++ {
		a.acc[k] = a.acc[k]*mDelta + value[k]*sDelta
	}
	a.s = a.s*mDelta + sDelta
	a.m = mi
}

// Fold folds one block of raw scores and the matching value rows into the
// running state. values is row-major [len(scores), valueDim].
//
// A block entirely below the current max degenerates the correction factor
// toward 1 and simply adds weighted contributions; a block containing a new
// global max rescales all prior accumulation.
func (a *Accumulator[T]) Fold(scores []T, values []T) {
	if len(values) != len(scores)*a.valueDim {
		panic("Accumulator.Fold: values length must be len(scores) * valueDim")
	}

	blockMax := negInf[T]()
	for _, score := range scores {
		if score > blockMax {
			blockMax = score
		}
	}

	mi := a.m
	if blockMax > mi {
		mi = blockMax
	}
	if math.IsInf(float64(mi), -1) {
		return // every score so far is -Inf
	}

	correction := expT(a.m - mi)
	a.s *= correction
	for k := range a.acc {
		a.acc[k] *= correction
	}

	for i, score := range scores {
		w := expT(score - mi) // 0 for masked (-Inf) entries
		a.s += w
		row := values[i*a.valueDim : (i+1)*a.valueDim]
		for k, vk := range row {
			a.acc[k] += w * vk
		}
	}
	a.m = mi
}

// Finalize writes the normalized output row into dst.
//
// If s is 0 (no keys folded, or every key masked out) the division is
// performed as-is and yields IEEE NaN. That case is the caller's
// responsibility: guarding it here would hide an upstream modeling bug.
func (a *Accumulator[T]) Finalize(dst []T) {
	for k := 0; k < a.valueDim; k++ {
		dst[k] = a.acc[k] / a.s
	}
}

// Max returns the running maximum raw score.
func (a *Accumulator[T]) Max() T { return a.m }

// Sum returns the running normalizing sum.
func (a *Accumulator[T]) Sum() T { return a.s }

// LogSumExp returns log(Σ exp(score)) over all folded keys, computed as
// m + log(s). An empty or fully masked row yields -Inf.
func (a *Accumulator[T]) LogSumExp() T {
	return a.m + logT(a.s)
}

// Reset clears the state so the accumulator can be reused for another
// query row without reallocating.
func (a *Accumulator[T]) Reset() {
	a.m = negInf[T]()
	a.s = 0
	for k := range a.acc {
		a.acc[k] = 0
	}
}
