package fk

import (
	"gonum.org/v1/gonum/mat"
)

// pinvRcond is the relative singular-value cutoff for the covariance
// pseudoinverse, matching the tolerance the estimator was validated
// against.
const pinvRcond = 1e-6

// crossSpectral fills r (nstat*nstat, row-major) with the outer product
// X(f) X(f)^H of the channel spectra at one retained bin. spectra is
// indexed [channel][bin].
func crossSpectral(r []complex128, spectra [][]complex128, bin, nstat int) {
	for i := 0; i < nstat; i++ {
		xi := spectra[i][bin]
		for j := i; j < nstat; j++ {
			v := xi * conj(spectra[j][bin])
			r[i*nstat+j] = v
			if i != j {
				r[j*nstat+i] = conj(v)
			}
		}
	}
}

func conj(c complex128) complex128 {
	return complex(real(c), -imag(c))
}

// pinvHermitian computes the Moore-Penrose pseudoinverse of the n x n
// complex matrix r (row-major), overwriting r with the result. It
// reports whether the factorization succeeded.
// gonum has no complex SVD, so the matrix C = A + iB is embedded as the
// real 2n x 2n block matrix [[A, -B], [B, A]]; the embedding preserves
// products and conjugate transposes, so the pseudoinverse of the block
// matrix is the block embedding of pinv(C).
func pinvHermitian(r []complex128, n int) bool {
	m := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a := real(r[i*n+j])
			b := imag(r[i*n+j])
			m.Set(i, j, a)
			m.Set(i, j+n, -b)
			m.Set(i+n, j, b)
			m.Set(i+n, j+n, a)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return false
	}

	values := svd.Values(nil)
	cutoff := pinvRcond * values[0]

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// pinv = V * diag(1/s) * U^T, zeroing singular values below cutoff
	var scaled mat.Dense
	scaled.CloneFrom(&v)
	for j, s := range values {
		invS := 0.0
		if s > cutoff {
			invS = 1.0 / s
		}
		for i := 0; i < 2*n; i++ {
			scaled.Set(i, j, scaled.At(i, j)*invS)
		}
	}

	var pinv mat.Dense
	pinv.Mul(&scaled, u.T())

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			r[i*n+j] = complex(pinv.At(i, j), pinv.At(i+n, j))
		}
	}
	return true
}

// quadraticForm evaluates Re(phase^T * R * conj(phase)) for the
// steering phase factors of one grid cell. With R the cross-spectral
// matrix this is the classic beam power |sum_i phase_i*X_i|^2; with R
// its pseudoinverse it is the Capon denominator.
func quadraticForm(r []complex128, phase []complex128, nstat int) float64 {
	var acc complex128
	for i := 0; i < nstat; i++ {
		var row complex128
		for j := 0; j < nstat; j++ {
			row += r[i*nstat+j] * conj(phase[j])
		}
		acc += phase[i] * row
	}
	return real(acc)
}
