package kernel

import (
	"math"

	"github.com/rill-ml/rill/internal/gemm"
	"github.com/rill-ml/rill/internal/parallel"
)

// blockState carries the per-row online-softmax statistics for one query
// block across streamed key blocks. It is owned exclusively by the unit
// processing that block; the weighted accumulation itself lives in the
// output rows (see mergeRow).
type blockState[T gemm.Float] struct {
	m    []T // running max per row, -Inf initialized
	s    []T // running normalizing sum per row, zero initialized
	corr []T // per-row correction factor for the current key block
}

func newBlockState[T gemm.Float](qLen int) *blockState[T] {
	st := &blockState[T]{
		m:    make([]T, qLen),
		s:    make([]T, qLen),
		corr: make([]T, qLen),
	}
	ninf := negInf[T]()
	for i := range st.m {
		st.m[i] = ninf
	}
	return st
}

// tiledForward is the tiled streaming form: queries and keys are
// partitioned into fixed-size blocks, and every (batch element, query
// block) pair is an independent unit of parallelism. Within a unit the key
// blocks are a strictly sequential reduction.
//
// Per key block the phases run in order, each one consuming what the
// previous one produced: score-compute (first fused matrix product),
// max-update, rescale, value-accumulate (second fused matrix product), and
// the epilogue blend into the output rows. In a lock-step realization each
// phase boundary is a barrier; here the phases are plain sequential steps.
func tiledForward[T gemm.Float](
	out, lse []T,
	q, k, v []T,
	mask []bool,
	dims Dims,
	scale T,
	causal bool,
	queryBlock, keyBlock int,
	lseStride int,
	workers parallel.Config,
) {
	numQBlocks := (dims.QueryLen + queryBlock - 1) / queryBlock

	parallel.ForUnits(dims.Batch, numQBlocks, func(b, qb int) {
		qStart := qb * queryBlock
		qLen := min(queryBlock, dims.QueryLen-qStart)

		qView := q[b*dims.QueryLen*dims.HeadDim:]
		kView := k[b*dims.KeyLen*dims.HeadDim:]
		vView := v[b*dims.KeyLen*dims.ValueDim:]
		outView := out[b*dims.QueryLen*dims.ValueDim:]
		var maskView []bool
		if mask != nil {
			maskView = mask[b*dims.QueryLen*dims.KeyLen:]
		}

		w := newTileWalker(qView, kView, maskView, dims, qStart, qLen, keyBlock, scale, causal)
		st := newBlockState[T](qLen)
		contrib := make([]T, qLen*dims.ValueDim) // this block's weighted values

		for kvStart := 0; kvStart < w.keyEnd; kvStart += keyBlock {
			kvLen := min(keyBlock, w.keyEnd-kvStart)
			first := kvStart == 0
			last := kvStart+kvLen >= w.keyEnd

			// Phase 1: raw score tile for this key block.
			tile := w.scoreTile(kvStart, kvLen)

			// Phases 2+3: fold the tile into the running statistics.
			foldScoreTile(st, tile, qLen, kvLen)

			// Phase 4: contribution of this block's values, weighted by the
			// exponentiated tile that phase 3 left behind.
			gemm.NN(qLen, dims.ValueDim, kvLen,
				1,
				tile, kvLen,
				vView[kvStart*dims.ValueDim:], dims.ValueDim,
				0,
				contrib, dims.ValueDim,
			)

			// Epilogue: blend into the output rows.
			for i := 0; i < qLen; i++ {
				row := outView[(qStart+i)*dims.ValueDim : (qStart+i+1)*dims.ValueDim]
				mergeRow(row, contrib[i*dims.ValueDim:(i+1)*dims.ValueDim], st.s[i], st.corr[i], first, last)
			}
		}

		if lse != nil {
			for i := 0; i < qLen; i++ {
				lse[b*lseStride+qStart+i] = st.m[i] + logT(st.s[i])
			}
		}
	}, workers)
}

// foldScoreTile performs the max-update and rescale phases for one raw
// score tile: it advances each row's running max, stores the correction
// factor exp(mPrev - mCur) for the epilogue, rescales the running sum, and
// replaces the tile in place with the exponentiated weights
// exp(score - mCur) that the value-accumulate phase consumes.
//
// A row whose scores are all -Inf so far keeps m = -Inf and s = 0 exactly;
// its weights are forced to zero rather than evaluating exp(-Inf - -Inf).
func foldScoreTile[T gemm.Float](st *blockState[T], tile []T, qLen, kvLen int) {
	for i := 0; i < qLen; i++ {
		row := tile[i*kvLen : (i+1)*kvLen]

		mi := st.m[i]
		for _, score := range row {
			if score > mi {
				mi = score
			}
		}

		if math.IsInf(float64(mi), -1) {
			st.corr[i] = 1
			for jj := range row {
				row[jj] = 0
			}
			continue
		}

		corr := rowCorrection(st.m[i], mi)
		st.corr[i] = corr
		st.s[i] *= corr

		var blockSum T
		for jj, score := range row {
			w := expT(score - mi)
			row[jj] = w
			blockSum += w
		}
		st.s[i] += blockSum
		st.m[i] = mi
	}
}
