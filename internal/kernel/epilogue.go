package kernel

import (
	"math"

	"github.com/rill-ml/rill/internal/gemm"
)

// mergeRow blends one streamed pass's unnormalized contribution into the
// output row. The output region doubles as the accumulator between passes:
// until the last pass it holds the running weighted sum expressed at the
// scale of the running max that was current when it was written.
//
//	first && last:  dst = contrib / s           (single-pass direct write)
//	first:          dst = contrib
//	otherwise:      dst = contrib + correction*dst
//	last:           dst /= s                    (after the blend)
//
// correction is exp(mPrev - mCur), the ratio of the old to the new scale,
// which makes accumulating partial passes mathematically equivalent to a
// single pass over all keys. When s is 0 (fully masked row) the division is
// performed as-is; the result is the caller's documented responsibility.
func mergeRow[T gemm.Float](dst, contrib []T, s, correction T, first, last bool) {
	switch {
	case first && last:
		for k := range dst {
			dst[k] = contrib[k] / s
		}
	case first:
		copy(dst, contrib)
	case last:
		for k := range dst {
			dst[k] = (contrib[k] + correction*dst[k]) / s
		}
	default:
		for k := range dst {
			dst[k] = contrib[k] + correction*dst[k]
		}
	}
}

// rowCorrection returns exp(mPrev - mCur) for a row whose running max moved
// from mPrev to mCur, defined as 1 while no live score has been seen (both
// are -Inf and nothing has been accumulated yet).
func rowCorrection[T gemm.Float](mPrev, mCur T) T {
	if math.IsInf(float64(mCur), -1) {
		return 1
	}
	return expT(mPrev - mCur)
}
