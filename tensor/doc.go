// Copyright 2025 Rill Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense array type consumed and produced by the
// Rill attention operators.
//
// # Overview
//
// RawTensor is a flat buffer plus shape, stride, and runtime type
// information. The attention kernels require contiguous row-major rank-3
// inputs (batch, sequence, feature); everything else is rejected up front.
//
// # Basic Usage
//
//	import "github.com/rill-ml/rill/tensor"
//
//	q, _ := tensor.FromSlice([]float32{1, 0, 0, 1}, tensor.Shape{1, 2, 2})
//	data := q.AsFloat32() // zero-copy typed access
//
// # Supported Data Types
//
//   - float32, float64 (kernel compute types)
//   - float16 (storage type, computed in float32)
//   - int32 (sparse matrix indices)
//   - bool (attention masks)
package tensor
