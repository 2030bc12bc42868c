package kernel

import (
	"math"

	"github.com/rill-ml/rill/internal/gemm"
	"github.com/rill-ml/rill/internal/parallel"
	"github.com/rill-ml/rill/internal/tensor"
)

// Config selects the kernel strategy at construction time.
// Zero value means: auto strategy, CPU-matched block sizes, default workers.
type Config struct {
	Kind       Kind            // Which realization to run.
	QueryBlock int             // Tiled query block size (0 = tier default).
	KeyBlock   int             // Tiled key block size (0 = tier default).
	Workers    parallel.Config // Scheduling; zero value = DefaultConfig().
}

// Options are per-invocation parameters.
type Options struct {
	// Scale applied to raw scores; 0 means 1/sqrt(headDim).
	Scale float64
	// Causal masks keys at positions after the query position.
	Causal bool
	// NeedLogSumExp requests the per-row log(Σ exp(score)) statistic as a
	// second output.
	NeedLogSumExp bool
	// LSEAlignment pads the log-sum-exp rows per batch element up to a
	// multiple of this stride; padding rows are +Inf. 0 means no padding.
	LSEAlignment int
}

// Kernel is a configured attention computation. It is stateless across
// invocations and safe for concurrent use.
type Kernel struct {
	kind       Kind
	queryBlock int
	keyBlock   int
	workers    parallel.Config
}

// New resolves a Config into a runnable Kernel. Unsupported configurations
// (an unknown strategy, or a hardware tier the host cannot run) fail here,
// before any computation.
func New(cfg Config) (*Kernel, error) {
	kind, qb, kb, err := resolveStrategy(cfg)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers == (parallel.Config{}) {
		workers = parallel.DefaultConfig()
	}

	return &Kernel{
		kind:       kind,
		queryBlock: qb,
		keyBlock:   kb,
		workers:    workers,
	}, nil
}

// Kind returns the resolved strategy.
func (kn *Kernel) Kind() Kind { return kn.kind }

// BlockSizes returns the resolved (query, key) block sizes. The reference
// strategy reports (1, 0): one query row against the whole key sequence.
func (kn *Kernel) BlockSizes() (int, int) {
	if kn.kind == Reference {
		return 1, 0
	}
	return kn.queryBlock, kn.keyBlock
}

// Forward computes scaled dot-product attention.
//
// q, k, v are rank-3 tensors (batch, sequence, feature) of one shared
// floating-point element type; mask is nil or a bool tensor
// (batch, queryLen, keyLen) with false marking excluded keys. The output is
// newly allocated with shape (batch, queryLen, valueDim) and the inputs'
// element type. When opts.NeedLogSumExp is set the second return holds one
// log-sum-exp scalar per query row (float32 for float16 inputs, the input
// type otherwise), padded with +Inf per opts.LSEAlignment.
//
// A query row whose normalizing sum is zero (every key masked out)
// finalizes as an IEEE 0/0 division; handling that case belongs to the
// caller.
func (kn *Kernel) Forward(q, k, v, mask *tensor.RawTensor, opts Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
	dims, err := validateInputs(q, k, v, mask)
	if err != nil {
		return nil, nil, err
	}

	// Half-precision storage computes in float32, like every reduced
	// precision realization of this algorithm.
	if q.DType() == tensor.Float16 {
		q32, err := q.CastTo(tensor.Float32)
		if err != nil {
			return nil, nil, err
		}
		k32, err := k.CastTo(tensor.Float32)
		if err != nil {
			return nil, nil, err
		}
		v32, err := v.CastTo(tensor.Float32)
		if err != nil {
			return nil, nil, err
		}
		out32, lse, err := kn.Forward(q32, k32, v32, mask, opts)
		if err != nil {
			return nil, nil, err
		}
		out, err := out32.CastTo(tensor.Float16)
		if err != nil {
			return nil, nil, err
		}
		return out, lse, nil
	}

	out, err := tensor.NewRaw(tensor.Shape{dims.Batch, dims.QueryLen, dims.ValueDim}, q.DType())
	if err != nil {
		return nil, nil, err
	}

	var lseT *tensor.RawTensor
	lseStride := dims.QueryLen
	if opts.NeedLogSumExp {
		if opts.LSEAlignment > 0 {
			lseStride = (dims.QueryLen + opts.LSEAlignment - 1) / opts.LSEAlignment * opts.LSEAlignment
		}
		lseT, err = tensor.NewRaw(tensor.Shape{dims.Batch, lseStride}, q.DType())
		if err != nil {
			return nil, nil, err
		}
	}

	var maskData []bool
	if mask != nil {
		maskData = mask.AsBool()
	}

	switch q.DType() {
	case tensor.Float32:
		var lse []float32
		if lseT != nil {
			lse = lseT.AsFloat32()
			fillPosInf(lse)
		}
		run(kn, out.AsFloat32(), lse, q.AsFloat32(), k.AsFloat32(), v.AsFloat32(), maskData, dims, opts, lseStride)
	case tensor.Float64:
		var lse []float64
		if lseT != nil {
			lse = lseT.AsFloat64()
			fillPosInf(lse)
		}
		run(kn, out.AsFloat64(), lse, q.AsFloat64(), k.AsFloat64(), v.AsFloat64(), maskData, dims, opts, lseStride)
	}

	return out, lseT, nil
}

func run[T gemm.Float](
	kn *Kernel,
	out, lse []T,
	q, k, v []T,
	mask []bool,
	dims Dims,
	opts Options,
	lseStride int,
) {
	scale := T(opts.Scale)
	if opts.Scale == 0 {
		scale = T(1.0 / math.Sqrt(float64(dims.HeadDim)))
	}

	if kn.kind == Reference {
		scalarForward(out, lse, q, k, v, mask, dims, scale, opts.Causal, lseStride, kn.workers)
		return
	}
	tiledForward(out, lse, q, k, v, mask, dims, scale, opts.Causal, kn.queryBlock, kn.keyBlock, lseStride, kn.workers)
}

func fillPosInf[T gemm.Float](xs []T) {
	inf := T(math.Inf(1))
	for i := range xs {
		xs[i] = inf
	}
}
