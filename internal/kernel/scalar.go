package kernel

import (
	"github.com/rill-ml/rill/internal/gemm"
	"github.com/rill-ml/rill/internal/parallel"
)

// scalarForward is the scalar reference form: one query row at a time
// against the full key sequence. It is the query-block-size-1,
// key-block-size-N specialization of the streaming algorithm and keeps only
// a single running accumulator row per worker.
//
// out is (batch, queryLen, valueDim) and lse, when non-nil, holds at least
// queryLen entries per batch element at stride lseStride. mask, when
// non-nil, is (batch, queryLen, keyLen) with false marking excluded keys.
func scalarForward[T gemm.Float](
	out, lse []T,
	q, k, v []T,
	mask []bool,
	dims Dims,
	scale T,
	causal bool,
	lseStride int,
	workers parallel.Config,
) {
	qStride := dims.HeadDim
	kStride := dims.HeadDim
	vStride := dims.ValueDim
	outStride := dims.ValueDim

	parallel.For(dims.Batch, func(b int) {
		qBase := b * dims.QueryLen * qStride
		kBase := b * dims.KeyLen * kStride
		vBase := b * dims.KeyLen * vStride
		outBase := b * dims.QueryLen * outStride
		maskBase := b * dims.QueryLen * dims.KeyLen

		// One accumulator row per worker, reset between queries.
		acc := NewAccumulator[T](dims.ValueDim)

		for i := 0; i < dims.QueryLen; i++ {
			acc.Reset()
			qRow := q[qBase+i*qStride : qBase+i*qStride+dims.HeadDim]

			keyEnd := dims.KeyLen
			if causal && i+1 < keyEnd {
				keyEnd = i + 1
			}
			for j := 0; j < keyEnd; j++ {
				if mask != nil && !mask[maskBase+i*dims.KeyLen+j] {
					continue
				}
				kRow := k[kBase+j*kStride : kBase+j*kStride+dims.HeadDim]
				var score T
				for d := 0; d < dims.HeadDim; d++ {
					score += qRow[d] * kRow[d]
				}
				score *= scale
				acc.FoldOne(score, v[vBase+j*vStride:vBase+j*vStride+dims.ValueDim])
			}

			acc.Finalize(out[outBase+i*outStride : outBase+i*outStride+dims.ValueDim])
			if lse != nil {
				lse[b*lseStride+i] = acc.LogSumExp()
			}
		}
	}, workers)
}
