package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	t := tensor.Zeros[float32](tensor.Shape{3, 4})
func Zeros[T DType](shape Shape) *RawTensor {
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy))
	if err != nil {
		panic(err) // Shape validation should prevent this
	}
	// Data is already zero-initialized by make()
	return raw
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy))
	if err != nil {
		return nil, err
	}

	switch src := any(data).(type) {
	case []float32:
		copy(raw.AsFloat32(), src)
	case []float64:
		copy(raw.AsFloat64(), src)
	case []int32:
		copy(raw.AsInt32(), src)
	case []bool:
		copy(raw.AsBool(), src)
	}
	return raw, nil
}

// Randn creates a float tensor with values from a normal distribution
// (mean=0, std=1) using the Box-Muller transform.
// Note: Uses math/rand (not crypto/rand) - appropriate for numerical testing.
//
// Example:
//
//	t := tensor.Randn[float32](tensor.Shape{100, 100}, rng)
func Randn[T ~float32 | ~float64](shape Shape, rng *rand.Rand) *RawTensor {
	var dummy T
	t := Zeros[T](shape)

	sample := func() float64 {
		u1 := rng.Float64()
		u2 := rng.Float64()
		return math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
	}

	switch any(dummy).(type) {
	case float32:
		data := t.AsFloat32()
		for i := range data {
			data[i] = float32(sample())
		}
	case float64:
		data := t.AsFloat64()
		for i := range data {
			data[i] = sample()
		}
	}
	return t
}
