// Copyright 2025 Rill Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package attn

import (
	"github.com/rs/zerolog"

	"github.com/rill-ml/rill/internal/kernel"
	"github.com/rill-ml/rill/internal/masked"
	"github.com/rill-ml/rill/internal/ops"
	"github.com/rill-ml/rill/tensor"
)

// Kernel is a configured attention computation, safe for concurrent use.
type Kernel = kernel.Kernel

// Config selects the kernel strategy at construction time.
type Config = kernel.Config

// Options are per-invocation parameters.
type Options = kernel.Options

// Kind selects which realization of the streaming algorithm runs.
type Kind = kernel.Kind

// Available strategies.
const (
	Auto      = kernel.Auto
	Reference = kernel.Reference
	Tiled     = kernel.Tiled
	TiledWide = kernel.TiledWide
)

// New resolves a Config into a runnable Kernel.
func New(cfg Config) (*Kernel, error) {
	return kernel.New(cfg)
}

// Naive is the textbook algorithm, materializing the full score matrix.
// It is the ground truth the streaming kernels are verified against.
func Naive(q, k, v, mask *tensor.RawTensor, opts Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
	return kernel.Naive(q, k, v, mask, opts)
}

// MatMulWithMask is the dense matmul-plus-mask collaborator: a batched
// matrix product whose masked-out entries are filled with -Inf.
func MatMulWithMask(a, b, mask *tensor.RawTensor) (*tensor.RawTensor, error) {
	return masked.MatMulWithMask(a, b, mask)
}

// Operator dispatch.

// Registry maps operator names to handlers.
type Registry = ops.Registry

// Context provides the execution context shared by operator handlers.
type Context = ops.Context

// Attrs carries per-call operator attributes.
type Attrs = ops.Attrs

// Built-in operator names.
const (
	OpEfficientAttention = ops.OpEfficientAttention
	OpMatMulWithMask     = ops.OpMatMulWithMask
	OpSpmm               = ops.OpSpmm
)

// NewRegistry creates an operator registry with the built-ins registered.
func NewRegistry(log zerolog.Logger) *Registry {
	return ops.NewRegistry(log)
}
