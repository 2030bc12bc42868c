package kernel

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rill-ml/rill/internal/tensor"
)

func randTensor(t *testing.T, shape tensor.Shape, rng *rand.Rand) *tensor.RawTensor {
	t.Helper()
	return tensor.Randn[float32](shape, rng)
}

func maxAbsDiff32(t *testing.T, a, b *tensor.RawTensor) float64 {
	t.Helper()
	av, bv := a.AsFloat32(), b.AsFloat32()
	if len(av) != len(bv) {
		t.Fatalf("length mismatch: %d vs %d", len(av), len(bv))
	}
	var maxErr float64
	for i := range av {
		if d := math.Abs(float64(av[i] - bv[i])); d > maxErr {
			maxErr = d
		}
	}
	return maxErr
}

func mustForward(t *testing.T, cfg Config, q, k, v, mask *tensor.RawTensor, opts Options) (*tensor.RawTensor, *tensor.RawTensor) {
	t.Helper()
	kn, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, lse, err := kn.Forward(q, k, v, mask, opts)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	return out, lse
}

// TestTiledBlockingInvariance verifies the central equivalence property:
// the tiled computation must match the textbook algorithm for every choice
// of block size, including sizes that do not divide the sequence lengths.
func TestTiledBlockingInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	batch, qLen, kLen, headDim, valDim := 2, 17, 23, 8, 6

	q := randTensor(t, tensor.Shape{batch, qLen, headDim}, rng)
	k := randTensor(t, tensor.Shape{batch, kLen, headDim}, rng)
	v := randTensor(t, tensor.Shape{batch, kLen, valDim}, rng)

	want, _, err := Naive(q, k, v, nil, Options{})
	if err != nil {
		t.Fatalf("Naive: %v", err)
	}

	for _, bs := range [][2]int{{1, 1}, {4, 4}, {3, 7}, {16, 5}, {32, 64}} {
		out, _ := mustForward(t, Config{Kind: Tiled, QueryBlock: bs[0], KeyBlock: bs[1]}, q, k, v, nil, Options{})
		if err := maxAbsDiff32(t, out, want); err > 1e-5 {
			t.Errorf("Block sizes %v: max error %v vs textbook, expected < 1e-5", bs, err)
		}
	}
}

func TestReferenceMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q := randTensor(t, tensor.Shape{3, 12, 16}, rng)
	k := randTensor(t, tensor.Shape{3, 20, 16}, rng)
	v := randTensor(t, tensor.Shape{3, 20, 16}, rng)

	want, _, err := Naive(q, k, v, nil, Options{})
	if err != nil {
		t.Fatalf("Naive: %v", err)
	}
	out, _ := mustForward(t, Config{Kind: Reference}, q, k, v, nil, Options{})
	if err := maxAbsDiff32(t, out, want); err > 1e-5 {
		t.Errorf("Reference vs textbook: max error %v, expected < 1e-5", err)
	}
}

// TestFormsAgree checks that the scalar form behaves as the
// single-block-size specialization of the tiled form.
func TestFormsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	q := randTensor(t, tensor.Shape{2, 9, 4}, rng)
	k := randTensor(t, tensor.Shape{2, 14, 4}, rng)
	v := randTensor(t, tensor.Shape{2, 14, 10}, rng)

	ref, _ := mustForward(t, Config{Kind: Reference}, q, k, v, nil, Options{})
	tiled, _ := mustForward(t, Config{Kind: Tiled, QueryBlock: 4, KeyBlock: 5}, q, k, v, nil, Options{})
	if err := maxAbsDiff32(t, ref, tiled); err > 1e-5 {
		t.Errorf("Reference vs tiled: max error %v, expected < 1e-5", err)
	}
}

func TestFloat64Equivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	q := tensor.Randn[float64](tensor.Shape{1, 10, 8}, rng)
	k := tensor.Randn[float64](tensor.Shape{1, 13, 8}, rng)
	v := tensor.Randn[float64](tensor.Shape{1, 13, 8}, rng)

	want, _, err := Naive(q, k, v, nil, Options{})
	if err != nil {
		t.Fatalf("Naive: %v", err)
	}
	out, _ := mustForward(t, Config{Kind: Tiled, QueryBlock: 4, KeyBlock: 4}, q, k, v, nil, Options{})

	wv, ov := want.AsFloat64(), out.AsFloat64()
	for i := range wv {
		if math.Abs(wv[i]-ov[i]) > 1e-12 {
			t.Fatalf("Index %d: %v vs %v", i, ov[i], wv[i])
		}
	}
}

// TestFloat16Storage runs half-precision inputs through the kernel; compute
// happens in float32, so a reduced tolerance applies.
func TestFloat16Storage(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	q32 := randTensor(t, tensor.Shape{1, 8, 4}, rng)
	k32 := randTensor(t, tensor.Shape{1, 8, 4}, rng)
	v32 := randTensor(t, tensor.Shape{1, 8, 4}, rng)

	q16, err := q32.CastTo(tensor.Float16)
	if err != nil {
		t.Fatalf("CastTo: %v", err)
	}
	k16, _ := k32.CastTo(tensor.Float16)
	v16, _ := v32.CastTo(tensor.Float16)

	out16, _ := mustForward(t, Config{Kind: Tiled, QueryBlock: 4, KeyBlock: 4}, q16, k16, v16, nil, Options{})
	if out16.DType() != tensor.Float16 {
		t.Fatalf("Output dtype = %s, want float16", out16.DType())
	}
	want, _, err := Naive(q32, k32, v32, nil, Options{})
	if err != nil {
		t.Fatalf("Naive: %v", err)
	}

	back, err := out16.CastTo(tensor.Float32)
	if err != nil {
		t.Fatalf("CastTo: %v", err)
	}
	if err := maxAbsDiff32(t, back, want); err > 1e-3 {
		t.Errorf("Float16 storage: max error %v, expected < 1e-3", err)
	}
}

func TestCausalMasking(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	q := randTensor(t, tensor.Shape{2, 11, 6}, rng)
	k := randTensor(t, tensor.Shape{2, 11, 6}, rng)
	v := randTensor(t, tensor.Shape{2, 11, 6}, rng)

	want, _, err := Naive(q, k, v, nil, Options{Causal: true})
	if err != nil {
		t.Fatalf("Naive: %v", err)
	}
	for _, kind := range []Kind{Reference, Tiled} {
		out, _ := mustForward(t, Config{Kind: kind, QueryBlock: blockFor(kind, 4), KeyBlock: blockFor(kind, 3)}, q, k, v, nil, Options{Causal: true})
		if err := maxAbsDiff32(t, out, want); err > 1e-5 {
			t.Errorf("%s causal: max error %v, expected < 1e-5", kind, err)
		}
	}
}

func blockFor(kind Kind, n int) int {
	if kind == Reference {
		return 0
	}
	return n
}

// TestOverflowResistance feeds raw scores around 1e4, far beyond what direct
// exponentiation survives. The running-max subtraction must keep every
// output finite.
func TestOverflowResistance(t *testing.T) {
	qData := []float32{100, 0, 0, 100, 100, 100}
	kData := []float32{100, 0, 0, 100, 50, 50}
	vData := []float32{1, 2, 3, 4, 5, 6}
	q, _ := tensor.FromSlice(qData, tensor.Shape{1, 3, 2})
	k, _ := tensor.FromSlice(kData, tensor.Shape{1, 3, 2})
	v, _ := tensor.FromSlice(vData, tensor.Shape{1, 3, 2})

	for _, kind := range []Kind{Reference, Tiled} {
		out, lse := mustForward(t, Config{Kind: kind, QueryBlock: blockFor(kind, 2), KeyBlock: blockFor(kind, 2)},
			q, k, v, nil, Options{Scale: 1, NeedLogSumExp: true})
		for i, val := range out.AsFloat32() {
			if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
				t.Errorf("%s output[%d] = %v, expected finite", kind, i, val)
			}
		}
		for i, val := range lse.AsFloat32() {
			if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
				t.Errorf("%s lse[%d] = %v, expected finite", kind, i, val)
			}
		}
	}
}

func TestMaskedAttention(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	batch, qLen, kLen, dim := 1, 6, 10, 4
	q := randTensor(t, tensor.Shape{batch, qLen, dim}, rng)
	k := randTensor(t, tensor.Shape{batch, kLen, dim}, rng)
	v := randTensor(t, tensor.Shape{batch, kLen, dim}, rng)

	maskData := make([]bool, batch*qLen*kLen)
	for i := range maskData {
		maskData[i] = rng.Intn(3) != 0
	}
	mask, _ := tensor.FromSlice(maskData, tensor.Shape{batch, qLen, kLen})

	want, _, err := Naive(q, k, v, mask, Options{})
	if err != nil {
		t.Fatalf("Naive: %v", err)
	}
	for _, kind := range []Kind{Reference, Tiled} {
		out, _ := mustForward(t, Config{Kind: kind, QueryBlock: blockFor(kind, 3), KeyBlock: blockFor(kind, 4)}, q, k, v, mask, Options{})
		if err := maxAbsDiff32(t, out, want); err > 1e-5 {
			t.Errorf("%s masked: max error %v, expected < 1e-5", kind, err)
		}
	}
}

// TestCausalWithMask drives the causal cut and a caller mask through the
// same invocation; both exclusions apply to every score entry.
func TestCausalWithMask(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	batch, seqLen, dim := 2, 13, 6
	q := randTensor(t, tensor.Shape{batch, seqLen, dim}, rng)
	k := randTensor(t, tensor.Shape{batch, seqLen, dim}, rng)
	v := randTensor(t, tensor.Shape{batch, seqLen, dim}, rng)

	// Keep the diagonal live so no row ends up with every key excluded.
	maskData := make([]bool, batch*seqLen*seqLen)
	for b := 0; b < batch; b++ {
		for i := 0; i < seqLen; i++ {
			for j := 0; j < seqLen; j++ {
				maskData[b*seqLen*seqLen+i*seqLen+j] = i == j || rng.Intn(3) != 0
			}
		}
	}
	mask, err := tensor.FromSlice(maskData, tensor.Shape{batch, seqLen, seqLen})
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}

	want, wantLSE, err := Naive(q, k, v, mask, Options{Causal: true, NeedLogSumExp: true})
	if err != nil {
		t.Fatalf("Naive: %v", err)
	}
	for _, kind := range []Kind{Reference, Tiled} {
		out, lse := mustForward(t, Config{Kind: kind, QueryBlock: blockFor(kind, 4), KeyBlock: blockFor(kind, 5)},
			q, k, v, mask, Options{Causal: true, NeedLogSumExp: true})
		if err := maxAbsDiff32(t, out, want); err > 1e-5 {
			t.Errorf("%s causal+mask: max error %v vs textbook, expected < 1e-5", kind, err)
		}
		if err := maxAbsDiff32(t, lse, wantLSE); err > 1e-5 {
			t.Errorf("%s causal+mask lse: max error %v, expected < 1e-5", kind, err)
		}
	}
}

// TestFullyMaskedRow checks the documented undefined-division edge case: a
// row with every key masked has a normalizing sum of exactly 0, a
// log-sum-exp of -Inf, and must not crash.
func TestFullyMaskedRow(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	qLen, kLen, dim := 4, 8, 4
	q := randTensor(t, tensor.Shape{1, qLen, dim}, rng)
	k := randTensor(t, tensor.Shape{1, kLen, dim}, rng)
	v := randTensor(t, tensor.Shape{1, kLen, dim}, rng)

	maskData := make([]bool, qLen*kLen)
	for i := range maskData {
		maskData[i] = true
	}
	// Row 2 loses every key.
	for j := 0; j < kLen; j++ {
		maskData[2*kLen+j] = false
	}
	mask, _ := tensor.FromSlice(maskData, tensor.Shape{1, qLen, kLen})

	for _, kind := range []Kind{Reference, Tiled} {
		out, lse := mustForward(t, Config{Kind: kind, QueryBlock: blockFor(kind, 2), KeyBlock: blockFor(kind, 3)},
			q, k, v, mask, Options{NeedLogSumExp: true})

		lseVals := lse.AsFloat32()
		if !math.IsInf(float64(lseVals[2]), -1) {
			t.Errorf("%s: lse of fully masked row = %v, expected -Inf", kind, lseVals[2])
		}
		outVals := out.AsFloat32()
		for d := 0; d < dim; d++ {
			if !math.IsNaN(float64(outVals[2*dim+d])) {
				t.Errorf("%s: fully masked row output[%d] = %v, expected NaN (0/0)", kind, d, outVals[2*dim+d])
			}
		}
		// Every other row stays well defined.
		for i := 0; i < qLen; i++ {
			if i == 2 {
				continue
			}
			for d := 0; d < dim; d++ {
				if math.IsNaN(float64(outVals[i*dim+d])) {
					t.Errorf("%s: live row %d output[%d] is NaN", kind, i, d)
				}
			}
		}
	}
}

// TestConcreteScenario pins the worked example: identity-aligned queries and
// keys with scale 1/sqrt(2). Each output row leans toward the value row its
// query aligns with.
func TestConcreteScenario(t *testing.T) {
	q, _ := tensor.FromSlice([]float32{1, 0, 0, 1}, tensor.Shape{1, 2, 2})
	k, _ := tensor.FromSlice([]float32{1, 0, 0, 1}, tensor.Shape{1, 2, 2})
	v, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 2, 2})

	expected := []float32{1.66041, 2.66041, 2.33959, 3.33959}

	for _, kind := range []Kind{Reference, Tiled} {
		out, _ := mustForward(t, Config{Kind: kind, QueryBlock: blockFor(kind, 1), KeyBlock: blockFor(kind, 1)}, q, k, v, nil, Options{})
		got := out.AsFloat32()
		for i := range expected {
			if math.Abs(float64(got[i]-expected[i])) > 1e-4 {
				t.Errorf("%s output[%d] = %v, expected %v", kind, i, got[i], expected[i])
			}
		}
		// Row 0 leans toward value row 0, row 1 toward value row 1.
		if !(got[0] < 2 && got[2] > 2) {
			t.Errorf("%s: expected row 0 to lean toward value row 0 and row 1 toward value row 1, got %v", kind, got)
		}
	}
}

func TestLogSumExp(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	batch, qLen, kLen, dim := 2, 5, 9, 4
	q := randTensor(t, tensor.Shape{batch, qLen, dim}, rng)
	k := randTensor(t, tensor.Shape{batch, kLen, dim}, rng)
	v := randTensor(t, tensor.Shape{batch, kLen, dim}, rng)

	_, wantLSE, err := Naive(q, k, v, nil, Options{NeedLogSumExp: true})
	if err != nil {
		t.Fatalf("Naive: %v", err)
	}
	for _, kind := range []Kind{Reference, Tiled} {
		_, lse := mustForward(t, Config{Kind: kind, QueryBlock: blockFor(kind, 2), KeyBlock: blockFor(kind, 4)},
			q, k, v, nil, Options{NeedLogSumExp: true})
		if err := maxAbsDiff32(t, lse, wantLSE); err > 1e-5 {
			t.Errorf("%s lse: max error %v, expected < 1e-5", kind, err)
		}
	}
}

// TestLogSumExpAlignment requests padded log-sum-exp rows; entries past the
// valid query count must be +Inf.
func TestLogSumExpAlignment(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	batch, qLen, kLen, dim := 2, 5, 6, 4
	align := 8
	q := randTensor(t, tensor.Shape{batch, qLen, dim}, rng)
	k := randTensor(t, tensor.Shape{batch, kLen, dim}, rng)
	v := randTensor(t, tensor.Shape{batch, kLen, dim}, rng)

	_, lse := mustForward(t, Config{}, q, k, v, nil, Options{NeedLogSumExp: true, LSEAlignment: align})

	wantShape := tensor.Shape{batch, align}
	if !lse.Shape().Equal(wantShape) {
		t.Fatalf("LSE shape = %v, want %v", lse.Shape(), wantShape)
	}
	vals := lse.AsFloat32()
	for b := 0; b < batch; b++ {
		for i := 0; i < align; i++ {
			val := float64(vals[b*align+i])
			if i < qLen {
				if math.IsInf(val, 0) || math.IsNaN(val) {
					t.Errorf("Batch %d row %d: lse = %v, expected finite", b, i, val)
				}
			} else if !math.IsInf(val, 1) {
				t.Errorf("Batch %d padding row %d: lse = %v, expected +Inf", b, i, val)
			}
		}
	}
}

// TestOutputShape checks that value feature dimension flows through
// independently of the head dimension.
func TestOutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	q := randTensor(t, tensor.Shape{2, 7, 16}, rng)
	k := randTensor(t, tensor.Shape{2, 12, 16}, rng)
	v := randTensor(t, tensor.Shape{2, 12, 24}, rng)

	out, lse := mustForward(t, Config{}, q, k, v, nil, Options{})
	if !out.Shape().Equal(tensor.Shape{2, 7, 24}) {
		t.Errorf("Output shape = %v, want (2, 7, 24)", out.Shape())
	}
	if lse != nil {
		t.Errorf("Unexpected lse output without NeedLogSumExp")
	}
}
