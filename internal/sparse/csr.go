// Package sparse implements the compressed-sparse-row matmul collaborator:
// an ordinary sparse GEMM between a CSR matrix and a dense right-hand
// operand, with optional batching over the value array.
package sparse

import (
	"github.com/pkg/errors"

	"github.com/rill-ml/rill/internal/tensor"
)

// CSR describes the structure of a sparse matrix in compressed row form.
// The nonzero values live in a separate tensor so one structure can be
// shared across a batch of value sets.
type CSR struct {
	Rows       int
	Cols       int
	RowOffsets []int32 // len Rows+1, monotone, RowOffsets[Rows] == nnz
	ColIndices []int32 // len nnz, each in [0, Cols)
}

// NNZ returns the number of structural nonzeros.
func (m *CSR) NNZ() int {
	return len(m.ColIndices)
}

// Validate checks the structural invariants of the CSR layout.
func (m *CSR) Validate() error {
	if m.Rows <= 0 || m.Cols <= 0 {
		return errors.Errorf("sparse: invalid dimensions (%d, %d)", m.Rows, m.Cols)
	}
	if len(m.RowOffsets) != m.Rows+1 {
		return errors.Errorf("sparse: row offsets length %d, want %d", len(m.RowOffsets), m.Rows+1)
	}
	if m.RowOffsets[0] != 0 {
		return errors.Errorf("sparse: row offsets must start at 0, got %d", m.RowOffsets[0])
	}
	for i := 0; i < m.Rows; i++ {
		if m.RowOffsets[i+1] < m.RowOffsets[i] {
			return errors.Errorf("sparse: row offsets not monotone at row %d", i)
		}
	}
	if int(m.RowOffsets[m.Rows]) != len(m.ColIndices) {
		return errors.Errorf("sparse: row offsets end at %d but %d column indices given",
			m.RowOffsets[m.Rows], len(m.ColIndices))
	}
	for l, c := range m.ColIndices {
		if c < 0 || int(c) >= m.Cols {
			return errors.Errorf("sparse: column index %d out of range at position %d", c, l)
		}
	}
	return nil
}

// Spmm multiplies a batched CSR matrix by a dense operand.
//
// values holds the nonzero values: rank 1 (nnz) for a single batch element,
// or rank 2 (batch, nnz). dense is (batch, k, n) with k == m.Cols. The
// result is a newly allocated (batch, Rows, n) float32 tensor.
//
// When batch > 1 the nonzero count must be a multiple of 4.
func Spmm(m *CSR, values, dense *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if values == nil || dense == nil {
		return nil, errors.New("sparse: nil operand")
	}
	if values.DType() != tensor.Float32 || dense.DType() != tensor.Float32 {
		return nil, errors.Errorf("sparse: spmm requires float32 operands, got %s and %s",
			values.DType(), dense.DType())
	}
	if !values.IsContiguous() || !dense.IsContiguous() {
		return nil, errors.New("sparse: operands must be contiguous row-major")
	}
	if len(dense.Shape()) != 3 {
		return nil, errors.Errorf("sparse: dense operand must be rank 3, got rank %d", len(dense.Shape()))
	}

	ds := dense.Shape()
	batch, k, n := ds[0], ds[1], ds[2]
	if k != m.Cols {
		return nil, errors.Errorf("sparse: dense operand has %d rows, want %d", k, m.Cols)
	}

	nnz := m.NNZ()
	switch len(values.Shape()) {
	case 1:
		if batch != 1 {
			return nil, errors.Errorf("sparse: rank-1 values require batch 1, got %d", batch)
		}
		if values.Shape()[0] != nnz {
			return nil, errors.Errorf("sparse: %d values for %d nonzeros", values.Shape()[0], nnz)
		}
	case 2:
		if values.Shape()[0] != batch || values.Shape()[1] != nnz {
			return nil, errors.Errorf("sparse: values shape %v, want (%d, %d)", values.Shape(), batch, nnz)
		}
	default:
		return nil, errors.Errorf("sparse: values must be rank 1 or 2, got rank %d", len(values.Shape()))
	}
	if batch > 1 && nnz%4 != 0 {
		return nil, errors.Errorf("sparse: batch size > 1 requires the nonzero count to be a multiple of 4, got %d", nnz)
	}

	out, err := tensor.NewRaw(tensor.Shape{batch, m.Rows, n}, tensor.Float32)
	if err != nil {
		return nil, err
	}

	vals := values.AsFloat32()
	src := dense.AsFloat32()
	dst := out.AsFloat32()

	for b := 0; b < batch; b++ {
		for i := 0; i < m.Rows; i++ {
			for j := 0; j < n; j++ {
				var acc float32
				for l := m.RowOffsets[i]; l < m.RowOffsets[i+1]; l++ {
					col := int(m.ColIndices[l])
					acc += vals[b*nnz+int(l)] * src[b*k*n+col*n+j]
				}
				dst[b*m.Rows*n+i*n+j] = acc
			}
		}
	}
	return out, nil
}
