// Copyright 2025 Rill Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sparse exposes the compressed-sparse-row matmul collaborator.
package sparse

import (
	"github.com/rill-ml/rill/internal/sparse"
	"github.com/rill-ml/rill/tensor"
)

// CSR describes the structure of a sparse matrix in compressed row form.
type CSR = sparse.CSR

// Spmm multiplies a batched CSR matrix by a dense operand.
// See the internal package for the full contract; notably, batch > 1
// requires the nonzero count to be a multiple of 4.
func Spmm(m *CSR, values, dense *tensor.RawTensor) (*tensor.RawTensor, error) {
	return sparse.Spmm(m, values, dense)
}
