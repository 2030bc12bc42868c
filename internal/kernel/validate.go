package kernel

import (
	"github.com/pkg/errors"

	"github.com/rill-ml/rill/internal/tensor"
)

// Dims holds the problem dimensions shared by both kernel forms.
type Dims struct {
	Batch    int // Independent batch elements.
	QueryLen int // Query sequence length.
	KeyLen   int // Key/value sequence length.
	HeadDim  int // Feature dimension shared by Query and Key.
	ValueDim int // Feature dimension of Value (and of the output).
}

// validateInputs checks every precondition before any output memory is
// touched: rank, dtype, shape agreement, and contiguity. All violations are
// recoverable by the caller fixing its inputs.
func validateInputs(q, k, v, mask *tensor.RawTensor) (Dims, error) {
	var dims Dims

	inputs := []struct {
		name string
		t    *tensor.RawTensor
	}{{"query", q}, {"key", k}, {"value", v}}
	for _, in := range inputs {
		name, t := in.name, in.t
		if t == nil {
			return dims, errors.Errorf("attention: %s tensor is nil", name)
		}
		if len(t.Shape()) != 3 {
			return dims, errors.Errorf("attention: %s must be rank 3 (batch, seq, feature), got rank %d", name, len(t.Shape()))
		}
		if !t.DType().IsFloat() {
			return dims, errors.Errorf("attention: unsupported element type %s for %s", t.DType(), name)
		}
		if !t.IsContiguous() {
			return dims, errors.Errorf("attention: %s must be contiguous row-major", name)
		}
	}

	if q.DType() != k.DType() || k.DType() != v.DType() {
		return dims, errors.Errorf("attention: element type mismatch: query %s, key %s, value %s",
			q.DType(), k.DType(), v.DType())
	}

	qs, ks, vs := q.Shape(), k.Shape(), v.Shape()
	if qs[0] != ks[0] {
		return dims, errors.Errorf("attention: batch mismatch between query (%d) and key (%d)", qs[0], ks[0])
	}
	if ks[0] != vs[0] {
		return dims, errors.Errorf("attention: batch mismatch between key (%d) and value (%d)", ks[0], vs[0])
	}
	if qs[2] != ks[2] {
		return dims, errors.Errorf("attention: feature dimension mismatch between query (%d) and key (%d)", qs[2], ks[2])
	}
	if ks[1] != vs[1] {
		return dims, errors.Errorf("attention: sequence length mismatch between key (%d) and value (%d)", ks[1], vs[1])
	}

	dims = Dims{
		Batch:    qs[0],
		QueryLen: qs[1],
		KeyLen:   ks[1],
		HeadDim:  qs[2],
		ValueDim: vs[2],
	}

	if mask != nil {
		if mask.DType() != tensor.Bool {
			return dims, errors.Errorf("attention: mask must be bool, got %s", mask.DType())
		}
		if !mask.IsContiguous() {
			return dims, errors.New("attention: mask must be contiguous row-major")
		}
		want := tensor.Shape{dims.Batch, dims.QueryLen, dims.KeyLen}
		if !mask.Shape().Equal(want) {
			return dims, errors.Errorf("attention: mask shape %v does not match %v", mask.Shape(), want)
		}
	}

	return dims, nil
}
