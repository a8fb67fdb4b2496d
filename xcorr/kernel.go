// Package xcorr provides the correlation kernel used by array
// processing pipelines. The Kernel interface is the swap point: the
// hot inner loop can be backed by any optimized implementation without
// coupling callers to a specific binding.
package xcorr

// Kernel computes a lag series from two equal-length signals. The
// returned slice has 2*maxLag+1 values for lags -maxLag..maxLag; index
// maxLag is zero lag.
type Kernel interface {
	Correlate(a, b []float64, maxLag int) ([]float64, error)
}
