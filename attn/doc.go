// Copyright 2025 Rill Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package attn exposes Rill's streaming scaled dot-product attention.
//
// # Overview
//
// The kernels compute softmax(Q Kᵀ / √d) V without ever materializing the
// full pairwise score matrix: per query row they keep a running max, a
// running normalizing sum, and a running weighted value accumulation, and
// fold key blocks into that state one at a time. Working memory is bounded
// by the block size regardless of sequence length, and the result matches
// the textbook algorithm up to floating-point rounding.
//
// # Basic Usage
//
//	import "github.com/rill-ml/rill/attn"
//
//	k, err := attn.New(attn.Config{}) // auto strategy, CPU-matched blocks
//	if err != nil { ... }
//	out, lse, err := k.Forward(q, key, value, nil, attn.Options{NeedLogSumExp: true})
//
// # Strategies
//
// Two realizations of the same algorithm exist: a scalar reference form
// (one query row against the whole key sequence) and a tiled form that
// streams fixed-size blocks through fused matrix products. The tiled form
// is the general algorithm; the reference form is its single-block-size
// specialization, and both produce the same output to within rounding for
// every block size.
//
// # Edge cases
//
// A query row whose keys are all masked out finalizes with a normalizing
// sum of exactly zero; its output row is the IEEE 0/0 result and its
// log-sum-exp is -Inf. The kernels never guard this case: a fully masked
// row is an upstream modeling bug the caller must handle.
package attn
