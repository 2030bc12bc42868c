// Package masked implements the dense matmul-plus-mask collaborator: an
// ordinary batched matrix product whose masked-out entries are filled with
// -Inf so that a softmax the caller performs afterwards excludes them.
package masked

import (
	"math"

	"github.com/pkg/errors"

	"github.com/rill-ml/rill/internal/gemm"
	"github.com/rill-ml/rill/internal/tensor"
)

// MatMulWithMask computes a @ b per batch element and fills entries whose
// mask is false with -Inf.
//
// a is (batch, m, k) and b is (batch, k, n), both contiguous and of the
// same float element type (float32 or float64). mask is nil, (m, n) shared
// across the batch, or (batch, m, n); a nil mask degenerates to a plain
// batched matmul. The result is newly allocated with shape (batch, m, n).
func MatMulWithMask(a, b, mask *tensor.RawTensor) (*tensor.RawTensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("matmul_with_mask: nil operand")
	}
	if len(a.Shape()) != 3 || len(b.Shape()) != 3 {
		return nil, errors.Errorf("matmul_with_mask: operands must be rank 3, got %d and %d",
			len(a.Shape()), len(b.Shape()))
	}
	if a.DType() != b.DType() {
		return nil, errors.Errorf("matmul_with_mask: element type mismatch: %s vs %s", a.DType(), b.DType())
	}
	if a.DType() != tensor.Float32 && a.DType() != tensor.Float64 {
		return nil, errors.Errorf("matmul_with_mask: unsupported element type %s", a.DType())
	}
	if !a.IsContiguous() || !b.IsContiguous() {
		return nil, errors.New("matmul_with_mask: operands must be contiguous row-major")
	}

	as, bs := a.Shape(), b.Shape()
	batch, m, k := as[0], as[1], as[2]
	if bs[0] != batch {
		return nil, errors.Errorf("matmul_with_mask: batch mismatch %d vs %d", batch, bs[0])
	}
	if bs[1] != k {
		return nil, errors.Errorf("matmul_with_mask: inner dimension mismatch %d vs %d", k, bs[1])
	}
	n := bs[2]

	var maskData []bool
	maskPerBatch := false
	if mask != nil {
		if mask.DType() != tensor.Bool {
			return nil, errors.Errorf("matmul_with_mask: mask must be bool, got %s", mask.DType())
		}
		switch {
		case mask.Shape().Equal(tensor.Shape{batch, m, n}):
			maskPerBatch = true
		case mask.Shape().Equal(tensor.Shape{m, n}):
		default:
			return nil, errors.Errorf("matmul_with_mask: mask shape %v does not match (%d, %d, %d)",
				mask.Shape(), batch, m, n)
		}
		maskData = mask.AsBool()
	}

	out, err := tensor.NewRaw(tensor.Shape{batch, m, n}, a.DType())
	if err != nil {
		return nil, err
	}

	switch a.DType() {
	case tensor.Float32:
		matmulMasked(out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), maskData, batch, m, k, n, maskPerBatch)
	case tensor.Float64:
		matmulMasked(out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), maskData, batch, m, k, n, maskPerBatch)
	}
	return out, nil
}

func matmulMasked[T gemm.Float](out, a, b []T, mask []bool, batch, m, k, n int, maskPerBatch bool) {
	ninf := T(math.Inf(-1))
	for bi := 0; bi < batch; bi++ {
		dst := out[bi*m*n:]
		gemm.NN(m, n, k, 1, a[bi*m*k:], k, b[bi*k*n:], n, 0, dst, n)

		if mask == nil {
			continue
		}
		mv := mask
		if maskPerBatch {
			mv = mask[bi*m*n:]
		}
		for idx := 0; idx < m*n; idx++ {
			if !mv[idx] {
				dst[idx] = ninf
			}
		}
	}
}
