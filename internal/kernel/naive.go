package kernel

import (
	"math"

	"github.com/rill-ml/rill/internal/gemm"
	"github.com/rill-ml/rill/internal/masked"
	"github.com/rill-ml/rill/internal/tensor"
)

// Naive is the textbook algorithm: materialize the full score matrix, mask,
// subtract the row max, exponentiate, normalize, multiply by Value. It is
// O(queryLen * keyLen) in memory and exists as the ground truth the
// streaming forms are verified against; it is not a production path.
//
// Inputs, mask, options, and outputs follow (*Kernel).Forward exactly.
func Naive(q, k, v, mask *tensor.RawTensor, opts Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
	dims, err := validateInputs(q, k, v, mask)
	if err != nil {
		return nil, nil, err
	}

	if q.DType() == tensor.Float16 {
		q32, err := q.CastTo(tensor.Float32)
		if err != nil {
			return nil, nil, err
		}
		k32, err := k.CastTo(tensor.Float32)
		if err != nil {
			return nil, nil, err
		}
		v32, err := v.CastTo(tensor.Float32)
		if err != nil {
			return nil, nil, err
		}
		out32, lse, err := Naive(q32, k32, v32, mask, opts)
		if err != nil {
			return nil, nil, err
		}
		out, err := out32.CastTo(tensor.Float16)
		if err != nil {
			return nil, nil, err
		}
		return out, lse, nil
	}

	fullMask, err := combineMask(mask, dims, opts.Causal)
	if err != nil {
		return nil, nil, err
	}

	// Raw scores through the masked-matmul collaborator: scale*Q @ Kᵀ with
	// excluded entries already at -Inf.
	kT, err := transposeBatched(k)
	if err != nil {
		return nil, nil, err
	}
	scores, err := masked.MatMulWithMask(q, kT, fullMask)
	if err != nil {
		return nil, nil, err
	}

	out, err := tensor.NewRaw(tensor.Shape{dims.Batch, dims.QueryLen, dims.ValueDim}, q.DType())
	if err != nil {
		return nil, nil, err
	}

	var lseT *tensor.RawTensor
	lseStride := dims.QueryLen
	if opts.NeedLogSumExp {
		if opts.LSEAlignment > 0 {
			lseStride = (dims.QueryLen + opts.LSEAlignment - 1) / opts.LSEAlignment * opts.LSEAlignment
		}
		lseT, err = tensor.NewRaw(tensor.Shape{dims.Batch, lseStride}, q.DType())
		if err != nil {
			return nil, nil, err
		}
	}

	switch q.DType() {
	case tensor.Float32:
		var lse []float32
		if lseT != nil {
			lse = lseT.AsFloat32()
			fillPosInf(lse)
		}
		naiveSoftmaxV(out.AsFloat32(), lse, scores.AsFloat32(), v.AsFloat32(), dims, float32(scaleOrDefault(opts.Scale, dims.HeadDim)), lseStride)
	case tensor.Float64:
		var lse []float64
		if lseT != nil {
			lse = lseT.AsFloat64()
			fillPosInf(lse)
		}
		naiveSoftmaxV(out.AsFloat64(), lse, scores.AsFloat64(), v.AsFloat64(), dims, scaleOrDefault(opts.Scale, dims.HeadDim), lseStride)
	}
	return out, lseT, nil
}

func scaleOrDefault(scale float64, headDim int) float64 {
	if scale == 0 {
		return 1.0 / math.Sqrt(float64(headDim))
	}
	return scale
}

// naiveSoftmaxV applies scaling and a row-stable softmax to the score
// matrix, then multiplies by Value. Scaling happens here rather than inside
// the matmul so the -Inf fill of the mask survives untouched.
func naiveSoftmaxV[T gemm.Float](out, lse []T, scores, v []T, dims Dims, scale T, lseStride int) {
	m, n := dims.QueryLen, dims.KeyLen
	for b := 0; b < dims.Batch; b++ {
		sc := scores[b*m*n:]
		for i := 0; i < m; i++ {
			row := sc[i*n : (i+1)*n]

			rowMax := negInf[T]()
			for jj := range row {
				if !math.IsInf(float64(row[jj]), -1) {
					row[jj] *= scale
				}
				if row[jj] > rowMax {
					rowMax = row[jj]
				}
			}

			var sum T
			if math.IsInf(float64(rowMax), -1) {
				for jj := range row {
					row[jj] = 0
				}
			} else {
				for jj := range row {
					w := expT(row[jj] - rowMax)
					row[jj] = w
					sum += w
				}
			}

			dst := out[b*m*dims.ValueDim+i*dims.ValueDim:]
			for kk := 0; kk < dims.ValueDim; kk++ {
				var acc T
				for jj := 0; jj < n; jj++ {
					acc += row[jj] * v[b*n*dims.ValueDim+jj*dims.ValueDim+kk]
				}
				dst[kk] = acc / sum
			}
			if lse != nil {
				lse[b*lseStride+i] = rowMax + logT(sum)
			}
		}
	}
}

// combineMask merges the caller's mask and the causal constraint into one
// bool tensor for the masked-matmul collaborator.
func combineMask(mask *tensor.RawTensor, dims Dims, causal bool) (*tensor.RawTensor, error) {
	if mask == nil && !causal {
		return nil, nil
	}

	out, err := tensor.NewRaw(tensor.Shape{dims.Batch, dims.QueryLen, dims.KeyLen}, tensor.Bool)
	if err != nil {
		return nil, err
	}
	dst := out.AsBool()

	var src []bool
	if mask != nil {
		src = mask.AsBool()
	}
	for b := 0; b < dims.Batch; b++ {
		for i := 0; i < dims.QueryLen; i++ {
			for j := 0; j < dims.KeyLen; j++ {
				idx := b*dims.QueryLen*dims.KeyLen + i*dims.KeyLen + j
				keep := true
				if causal && j > i {
					keep = false
				}
				if src != nil && !src[idx] {
					keep = false
				}
				dst[idx] = keep
			}
		}
	}
	return out, nil
}

// transposeBatched copies a (batch, r, c) tensor into (batch, c, r).
func transposeBatched(t *tensor.RawTensor) (*tensor.RawTensor, error) {
	s := t.Shape()
	out, err := tensor.NewRaw(tensor.Shape{s[0], s[2], s[1]}, t.DType())
	if err != nil {
		return nil, err
	}
	batch, r, c := s[0], s[1], s[2]

	switch t.DType() {
	case tensor.Float32:
		transposeInto(out.AsFloat32(), t.AsFloat32(), batch, r, c)
	case tensor.Float64:
		transposeInto(out.AsFloat64(), t.AsFloat64(), batch, r, c)
	}
	return out, nil
}

func transposeInto[T gemm.Float](dst, src []T, batch, r, c int) {
	for b := 0; b < batch; b++ {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				dst[b*r*c+j*r+i] = src[b*r*c+i*c+j]
			}
		}
	}
}
