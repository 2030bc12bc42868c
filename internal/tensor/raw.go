package tensor

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// RawTensor is the low-level tensor representation: a flat byte buffer plus
// shape, stride, and runtime type information. The attention kernels consume
// and produce RawTensors; typed access goes through the As* accessors.
//
// Inputs to the kernels are treated as immutable; outputs are written exactly
// once by the unit that owns them.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zero-initialized.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	byteSize := shape.NumElements() * dtype.Size()

	return &RawTensor{
		data:   make([]byte, byteSize),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// IsContiguous reports whether the tensor's strides describe a dense
// row-major layout. The kernels reject non-contiguous inputs.
func (r *RawTensor) IsContiguous() bool {
	expected := r.shape.ComputeStrides()
	for i := range expected {
		if r.stride[i] != expected[i] {
			return false
		}
	}
	return true
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat16 interprets the data as []float16.Float16 (IEEE 754 half,
// stored as uint16 bit patterns). Panics if the dtype is not Float16.
func (r *RawTensor) AsFloat16() []float16.Float16 {
	if r.dtype != Float16 {
		panic(fmt.Sprintf("tensor dtype is %s, not float16", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsBool interprets the data as []bool.
// Panics if the tensor's dtype is not Bool.
func (r *RawTensor) AsBool() []bool {
	if r.dtype != Bool {
		panic(fmt.Sprintf("tensor dtype is %s, not bool", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*bool)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Clone creates a deep copy of the RawTensor.
func (r *RawTensor) Clone() *RawTensor {
	return &RawTensor{
		data:   append([]byte(nil), r.data...),
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
	}
}

// TransposeView returns a view with the last two axes swapped by flipping
// shape and strides; no data is moved. The result is non-contiguous for
// any non-trivial matrix, which makes this the natural way to exercise
// the kernels' contiguity precondition.
func (r *RawTensor) TransposeView() *RawTensor {
	n := len(r.shape)
	if n < 2 {
		panic(fmt.Sprintf("TransposeView: expected at least 2 dimensions, got %d", n))
	}
	shape := r.shape.Clone()
	stride := append([]int(nil), r.stride...)
	shape[n-2], shape[n-1] = shape[n-1], shape[n-2]
	stride[n-2], stride[n-1] = stride[n-1], stride[n-2]
	return &RawTensor{
		data:   r.data,
		shape:  shape,
		stride: stride,
		dtype:  r.dtype,
	}
}

// CastTo converts the tensor to another floating-point data type, returning
// a newly allocated tensor. Float16 conversion goes through float32 using
// IEEE 754 half-precision rounding.
func (r *RawTensor) CastTo(dtype DataType) (*RawTensor, error) {
	if !r.dtype.IsFloat() || !dtype.IsFloat() {
		return nil, fmt.Errorf("cast: only float types supported, got %s -> %s", r.dtype, dtype)
	}
	if dtype == r.dtype {
		return r.Clone(), nil
	}

	out, err := NewRaw(r.shape, dtype)
	if err != nil {
		return nil, err
	}

	n := r.NumElements()
	read := func(i int) float64 {
		switch r.dtype {
		case Float32:
			return float64(r.AsFloat32()[i])
		case Float64:
			return r.AsFloat64()[i]
		default: // Float16
			return float64(r.AsFloat16()[i].Float32())
		}
	}
	switch dtype {
	case Float32:
		dst := out.AsFloat32()
		for i := 0; i < n; i++ {
			dst[i] = float32(read(i))
		}
	case Float64:
		dst := out.AsFloat64()
		for i := 0; i < n; i++ {
			dst[i] = read(i)
		}
	default: // Float16
		dst := out.AsFloat16()
		for i := 0; i < n; i++ {
			dst[i] = float16.Fromfloat32(float32(read(i)))
		}
	}
	return out, nil
}
