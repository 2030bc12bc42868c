// Package gemm wraps gonum's BLAS level-3 routines behind a small generic
// surface. The attention kernels use it as their dense block matrix product
// primitive; they never implement matrix multiplication themselves.
package gemm

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// Float is the element-type constraint shared by the kernels.
type Float interface {
	~float32 | ~float64
}

// NT computes c = alpha * a @ bᵀ + beta * c, where a is (m, k) with leading
// dimension lda, b is (n, k) with leading dimension ldb, and c is (m, n)
// with leading dimension ldc. All operands are row-major.
func NT[T Float](m, n, k int, alpha T, a []T, lda int, b []T, ldb int, beta T, c []T, ldc int) {
	switch av := any(a).(type) {
	case []float32:
		blas32.Gemm(blas.NoTrans, blas.Trans,
			float32(alpha),
			blas32.General{Rows: m, Cols: k, Stride: lda, Data: av},
			blas32.General{Rows: n, Cols: k, Stride: ldb, Data: any(b).([]float32)},
			float32(beta),
			blas32.General{Rows: m, Cols: n, Stride: ldc, Data: any(c).([]float32)},
		)
	case []float64:
		blas64.Gemm(blas.NoTrans, blas.Trans,
			float64(alpha),
			blas64.General{Rows: m, Cols: k, Stride: lda, Data: av},
			blas64.General{Rows: n, Cols: k, Stride: ldb, Data: any(b).([]float64)},
			float64(beta),
			blas64.General{Rows: m, Cols: n, Stride: ldc, Data: any(c).([]float64)},
		)
	}
}

// NN computes c = alpha * a @ b + beta * c, where a is (m, k), b is (k, n),
// and c is (m, n), each row-major with the given leading dimensions.
func NN[T Float](m, n, k int, alpha T, a []T, lda int, b []T, ldb int, beta T, c []T, ldc int) {
	switch av := any(a).(type) {
	case []float32:
		blas32.Gemm(blas.NoTrans, blas.NoTrans,
			float32(alpha),
			blas32.General{Rows: m, Cols: k, Stride: lda, Data: av},
			blas32.General{Rows: k, Cols: n, Stride: ldb, Data: any(b).([]float32)},
			float32(beta),
			blas32.General{Rows: m, Cols: n, Stride: ldc, Data: any(c).([]float32)},
		)
	case []float64:
		blas64.Gemm(blas.NoTrans, blas.NoTrans,
			float64(alpha),
			blas64.General{Rows: m, Cols: k, Stride: lda, Data: av},
			blas64.General{Rows: k, Cols: n, Stride: ldb, Data: any(b).([]float64)},
			float64(beta),
			blas64.General{Rows: m, Cols: n, Stride: ldc, Data: any(c).([]float64)},
		)
	}
}
