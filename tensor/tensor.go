// Copyright 2025 Rill Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand"

	"github.com/rill-ml/rill/internal/tensor"
)

// RawTensor is the low-level tensor representation.
//
// RawTensor provides:
//   - Shape and type information via Shape(), DType(), Strides()
//   - Type-safe data access via AsFloat32(), AsInt32(), etc.
//   - Contiguity checks via IsContiguous()
//   - Float conversion via CastTo()
type RawTensor = tensor.RawTensor

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// DataType represents runtime type information for tensors.
type DataType = tensor.DataType

// Supported data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Float16 = tensor.Float16
	Int32   = tensor.Int32
	Bool    = tensor.Bool
)

// DType is the constraint for element types accepted by the generic
// creation helpers.
type DType = tensor.DType

// NewRaw creates a zero-initialized tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromSlice creates a tensor from a Go slice, copying the data.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// Zeros creates a tensor filled with zeros.
func Zeros[T DType](shape Shape) *RawTensor {
	return tensor.Zeros[T](shape)
}

// Randn creates a float tensor with standard normal values.
func Randn[T ~float32 | ~float64](shape Shape, rng *rand.Rand) *RawTensor {
	return tensor.Randn[T](shape, rng)
}
