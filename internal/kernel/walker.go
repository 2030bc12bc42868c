package kernel

import (
	"github.com/rill-ml/rill/internal/gemm"
)

// tileWalker enumerates the key blocks for one (batch element, query block)
// unit in ascending key order and produces the raw score tile for each.
// Scores are the scaled dot products of the query block against the key
// block; the dense block product itself is delegated to the gemm primitive.
type tileWalker[T gemm.Float] struct {
	q, k   []T    // batch-local views
	mask   []bool // batch-local (queryLen * keyLen), nil when unmasked
	dims   Dims
	qStart int // first query row of the block
	qLen   int // rows in the block
	scale  T
	causal bool

	keyBlock int
	keyEnd   int // first key position never visited (causal cut or KeyLen)
	scores   []T // scratch, qLen * keyBlock, reused across blocks
}

func newTileWalker[T gemm.Float](
	q, k []T, mask []bool,
	dims Dims,
	qStart, qLen, keyBlock int,
	scale T, causal bool,
) *tileWalker[T] {
	keyEnd := dims.KeyLen
	if causal && qStart+qLen < keyEnd {
		// Keys past the last query row of the block are masked for every
		// row, so the walk stops early.
		keyEnd = qStart + qLen
	}
	return &tileWalker[T]{
		q:        q,
		k:        k,
		mask:     mask,
		dims:     dims,
		qStart:   qStart,
		qLen:     qLen,
		scale:    scale,
		causal:   causal,
		keyBlock: keyBlock,
		keyEnd:   keyEnd,
		scores:   make([]T, qLen*keyBlock),
	}
}

// scoreTile computes the raw score tile for the key block starting at
// kvStart: scale * Q_block @ K_blockᵀ, with causal and caller-mask entries
// forced to -Inf before they ever reach the accumulation phases. The
// returned slice is walker-owned scratch, valid until the next call.
func (w *tileWalker[T]) scoreTile(kvStart, kvLen int) []T {
	hd := w.dims.HeadDim
	tile := w.scores[:w.qLen*kvLen]

	gemm.NT(w.qLen, kvLen, hd,
		w.scale,
		w.q[w.qStart*hd:], hd,
		w.k[kvStart*hd:], hd,
		0,
		tile, kvLen,
	)

	if w.causal || w.mask != nil {
		ninf := negInf[T]()
		for i := 0; i < w.qLen; i++ {
			qi := w.qStart + i
			row := tile[i*kvLen : (i+1)*kvLen]
			for jj := range row {
				kj := kvStart + jj
				if w.causal && kj > qi {
					row[jj] = ninf
					continue
				}
				if w.mask != nil && !w.mask[qi*w.dims.KeyLen+kj] {
					row[jj] = ninf
				}
			}
		}
	}
	return tile
}
