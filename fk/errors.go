package fk

import "fmt"

// InvalidGridError reports a slowness, wavenumber, or frequency grid
// that cannot be iterated: non-positive step or an empty range.
type InvalidGridError struct {
	Reason string
}

func (e *InvalidGridError) Error() string {
	return fmt.Sprintf("invalid grid: %s", e.Reason)
}

// DegenerateWindowError reports an analysis window that cannot produce a
// result: too few samples for the requested frequency resolution, a
// sample-rate mismatch across channels, or (Capon) no invertible
// covariance at any retained frequency bin.
type DegenerateWindowError struct {
	Window int
	Reason string
}

func (e *DegenerateWindowError) Error() string {
	if e.Window < 0 {
		// run-level failure detected before any window was cut
		return fmt.Sprintf("degenerate analysis: %s", e.Reason)
	}
	return fmt.Sprintf("degenerate window %d: %s", e.Window, e.Reason)
}

// SingularCovarianceError reports a cross-spectral covariance matrix
// whose factorization failed for one frequency bin. Recoverable: the
// bin is skipped, the window is not.
type SingularCovarianceError struct {
	Bin  int
	Freq float64
}

func (e *SingularCovarianceError) Error() string {
	return fmt.Sprintf("singular covariance matrix at bin %d (%.3f Hz)", e.Bin, e.Freq)
}
