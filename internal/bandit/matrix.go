package bandit

import "math"

// No linear-algebra library (gonum or otherwise) is used anywhere in this
// repository's retrieval pack, so the small (D<=12) symmetric
// positive-definite solves and Cholesky factorizations the bandit needs
// are hand-rolled over stdlib math. See DESIGN.md.

// newIdentity returns a D x D matrix equal to lambda * I.
func newIdentity(d int, lambda float64) [][]float64 {
	m := make([][]float64, d)
	for i := range m {
		m[i] = make([]float64, d)
		m[i][i] = lambda
	}
	return m
}

// cloneMatrix deep-copies a D x D matrix.
func cloneMatrix(a [][]float64) [][]float64 {
	cp := make([][]float64, len(a))
	for i, row := range a {
		cp[i] = append([]float64(nil), row...)
	}
	return cp
}

// symmetrize forces a to be exactly symmetric, correcting the floating
// point drift that accumulates from repeated rank-1 updates.
func symmetrize(a [][]float64) {
	n := len(a)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			avg := (a[i][j] + a[j][i]) / 2
			a[i][j] = avg
			a[j][i] = avg
		}
	}
}

// addOuterProduct performs a += x * x^T in place.
func addOuterProduct(a [][]float64, x []float64) {
	for i := range x {
		for j := range x {
			a[i][j] += x[i] * x[j]
		}
	}
}

// addScaled performs b += scale * x in place.
func addScaled(b, x []float64, scale float64) {
	for i := range x {
		b[i] += scale * x[i]
	}
}

// cholesky factors a symmetric positive-definite matrix a = L L^T,
// returning the lower-triangular L. If the unregularized factorization
// fails (a is not numerically PD, typically from floating point drift on
// a near-singular accumulator), it retries once with epsilon*I added to the
// diagonal, per spec's "guard against non-PD by adding eps*I" policy.
// regularized reports whether the epsilon fallback was needed.
func cholesky(a [][]float64) (l [][]float64, regularized bool, err error) {
	l, err = choleskyAttempt(a)
	if err == nil {
		return l, false, nil
	}

	const epsilon = 1e-6
	n := len(a)
	perturbed := cloneMatrix(a)
	for i := 0; i < n; i++ {
		perturbed[i][i] += epsilon
	}
	l, err = choleskyAttempt(perturbed)
	if err != nil {
		return nil, true, err
	}
	return l, true, nil
}

func choleskyAttempt(a [][]float64) ([][]float64, error) {
	n := len(a)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, errNotPositiveDefinite
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l, nil
}

// solveLower solves L y = b for y, where L is lower-triangular.
func solveLower(l [][]float64, b []float64) []float64 {
	n := len(b)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= l[i][k] * y[k]
		}
		y[i] = sum / l[i][i]
	}
	return y
}

// solveUpperTranspose solves L^T x = y for x, where L is lower-triangular
// (so L^T is upper-triangular).
func solveUpperTranspose(l [][]float64, y []float64) []float64 {
	n := len(y)
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := y[i]
		for k := i + 1; k < n; k++ {
			sum -= l[k][i] * x[k]
		}
		x[i] = sum / l[i][i]
	}
	return x
}

// solveSPD solves A mu = b for mu given A's Cholesky factor L (A = L L^T).
func solveSPD(l [][]float64, b []float64) []float64 {
	y := solveLower(l, b)
	return solveUpperTranspose(l, y)
}

// dot computes the dot product of two equal-length vectors.
func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

type matrixErr string

func (e matrixErr) Error() string { return string(e) }

const errNotPositiveDefinite = matrixErr("matrix is not positive definite")
