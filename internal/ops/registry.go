// Package ops exposes the attention routines as named operators to a host
// numeric-computation runtime. It is dispatch glue: handlers validate their
// operand lists, unpack attributes, and delegate to the kernel and the
// collaborator packages.
package ops

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rill-ml/rill/internal/kernel"
	"github.com/rill-ml/rill/internal/masked"
	"github.com/rill-ml/rill/internal/sparse"
	"github.com/rill-ml/rill/internal/tensor"
)

// Built-in operator names.
const (
	OpEfficientAttention = "rill.efficient_attention"
	OpMatMulWithMask     = "rill.matmul_with_mask"
	OpSpmm               = "rill.spmm"
)

// Attrs carries per-call operator attributes.
type Attrs map[string]any

// Int returns an integer attribute or the default.
func (a Attrs) Int(key string, def int) int {
	if v, ok := a[key].(int); ok {
		return v
	}
	return def
}

// Float returns a float attribute or the default.
func (a Attrs) Float(key string, def float64) float64 {
	if v, ok := a[key].(float64); ok {
		return v
	}
	return def
}

// Bool returns a boolean attribute or the default.
func (a Attrs) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Handler executes one operator over raw tensors.
type Handler func(ctx *Context, inputs []*tensor.RawTensor, attrs Attrs) ([]*tensor.RawTensor, error)

// Context provides the execution context shared by handlers.
type Context struct {
	Kernel *kernel.Kernel
	Log    zerolog.Logger
}

// Registry maps operator names to handlers.
type Registry struct {
	handlers map[string]Handler
	log      zerolog.Logger
}

// NewRegistry creates a registry with the built-in operators registered
// and a kernel-backed execution context.
func NewRegistry(log zerolog.Logger) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		log:      log,
	}
	r.mustRegister(OpEfficientAttention, efficientAttention)
	r.mustRegister(OpMatMulWithMask, matmulWithMask)
	r.mustRegister(OpSpmm, spmm)
	return r
}

// Register adds a custom operator handler. Registering a name twice is an
// error so host runtimes notice conflicting libraries immediately.
func (r *Registry) Register(name string, h Handler) error {
	if _, exists := r.handlers[name]; exists {
		return errors.Errorf("ops: operator %q already registered", name)
	}
	r.handlers[name] = h
	r.log.Debug().Str("op", name).Msg("registered operator")
	return nil
}

func (r *Registry) mustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Get returns the handler for an operator name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// SupportedOps returns the names of all registered operators.
func (r *Registry) SupportedOps() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Execute runs a named operator.
func (r *Registry) Execute(ctx *Context, name string, inputs []*tensor.RawTensor, attrs Attrs) ([]*tensor.RawTensor, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, errors.Errorf("ops: unsupported operator: %s", name)
	}
	if ctx == nil {
		return nil, errors.New("ops: nil context")
	}
	r.log.Debug().Str("op", name).Int("inputs", len(inputs)).Msg("dispatch")
	return h(ctx, inputs, attrs)
}

// efficientAttention: inputs [query, key, value] or [query, key, value, mask].
// Attributes: "scale" (float64), "causal" (bool), "need_lse" (bool),
// "lse_alignment" (int).
func efficientAttention(ctx *Context, inputs []*tensor.RawTensor, attrs Attrs) ([]*tensor.RawTensor, error) {
	if len(inputs) != 3 && len(inputs) != 4 {
		return nil, errors.Errorf("%s: want 3 or 4 inputs, got %d", OpEfficientAttention, len(inputs))
	}
	if ctx.Kernel == nil {
		return nil, errors.Errorf("%s: no kernel configured", OpEfficientAttention)
	}

	var mask *tensor.RawTensor
	if len(inputs) == 4 {
		mask = inputs[3]
	}
	opts := kernel.Options{
		Scale:         attrs.Float("scale", 0),
		Causal:        attrs.Bool("causal", false),
		NeedLogSumExp: attrs.Bool("need_lse", false),
		LSEAlignment:  attrs.Int("lse_alignment", 0),
	}

	out, lse, err := ctx.Kernel.Forward(inputs[0], inputs[1], inputs[2], mask, opts)
	if err != nil {
		return nil, err
	}
	if lse != nil {
		return []*tensor.RawTensor{out, lse}, nil
	}
	return []*tensor.RawTensor{out}, nil
}

// matmulWithMask: inputs [a, b, mask]; mask may be nil for a plain batched
// matmul.
func matmulWithMask(_ *Context, inputs []*tensor.RawTensor, _ Attrs) ([]*tensor.RawTensor, error) {
	if len(inputs) != 3 {
		return nil, errors.Errorf("%s: want 3 inputs, got %d", OpMatMulWithMask, len(inputs))
	}
	out, err := masked.MatMulWithMask(inputs[0], inputs[1], inputs[2])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

// spmm: inputs [values, rowOffsets, colIndices, dense].
// Attributes: "rows" (int, required), "cols" (int, defaults to the dense
// operand's row count).
func spmm(_ *Context, inputs []*tensor.RawTensor, attrs Attrs) ([]*tensor.RawTensor, error) {
	if len(inputs) != 4 {
		return nil, errors.Errorf("%s: want 4 inputs, got %d", OpSpmm, len(inputs))
	}
	values, rowOffsets, colIndices, dense := inputs[0], inputs[1], inputs[2], inputs[3]

	rows := attrs.Int("rows", 0)
	if rows <= 0 {
		return nil, errors.Errorf("%s: missing required attribute \"rows\"", OpSpmm)
	}
	if rowOffsets.DType() != tensor.Int32 || colIndices.DType() != tensor.Int32 {
		return nil, errors.Errorf("%s: row offsets and column indices must be int32", OpSpmm)
	}
	if len(rowOffsets.Shape()) != 1 || len(colIndices.Shape()) != 1 {
		return nil, errors.Errorf("%s: row offsets and column indices must be rank 1", OpSpmm)
	}
	if len(dense.Shape()) != 3 {
		return nil, errors.Errorf("%s: dense operand must be rank 3", OpSpmm)
	}

	csr := &sparse.CSR{
		Rows:       rows,
		Cols:       attrs.Int("cols", dense.Shape()[1]),
		RowOffsets: rowOffsets.AsInt32(),
		ColIndices: colIndices.AsInt32(),
	}
	out, err := sparse.Spmm(csr, values, dense)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}
