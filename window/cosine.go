package window

import (
	"fmt"
	"math"
)

// CosineTaper is a flat-topped taper with cosine-shaped ramps on both
// ends (a Tukey window). The fraction p of the window length is split
// between the two ramps.
type CosineTaper struct {
	size         int
	fraction     float64
	coefficients []float64
}

// DefaultFraction is the taper fraction used for beamforming windows.
const DefaultFraction = 0.22

// NewCosineTaper creates a cosine taper of the given size. fraction must
// be in [0, 1]; fraction 0 is a boxcar, fraction 1 a full Hann window.
func NewCosineTaper(size int, fraction float64) (*CosineTaper, error) {
	if size <= 0 {
		return nil, fmt.Errorf("taper size must be positive, got %d", size)
	}
	if fraction < 0 || fraction > 1 {
		return nil, fmt.Errorf("taper fraction must be in [0, 1], got %g", fraction)
	}

	t := &CosineTaper{
		size:     size,
		fraction: fraction,
	}
	t.generate()
	return t, nil
}

// generate creates the taper coefficients
func (t *CosineTaper) generate() {
	t.coefficients = make([]float64, t.size)
	for i := range t.coefficients {
		t.coefficients[i] = 1.0
	}

	ramp := int(float64(t.size)*t.fraction/2.0 + 0.5)
	for i := 0; i < ramp; i++ {
		v := 0.5 * (1.0 - math.Cos(math.Pi*float64(i)/float64(ramp)))
		t.coefficients[i] *= v
		t.coefficients[t.size-1-i] *= v
	}
}

// Size returns the taper length.
func (t *CosineTaper) Size() int {
	return t.size
}

// Coefficients returns a copy of the taper coefficients.
func (t *CosineTaper) Coefficients() []float64 {
	out := make([]float64, len(t.coefficients))
	copy(out, t.coefficients)
	return out
}

// Apply applies the taper to a signal (creates new array)
func (t *CosineTaper) Apply(signal []float64) []float64 {
	if len(signal) != t.size {
		return nil
	}

	tapered := make([]float64, t.size)
	for i := range tapered {
		tapered[i] = signal[i] * t.coefficients[i]
	}

	return tapered
}

// ApplyInPlace applies the taper to a signal in-place
func (t *CosineTaper) ApplyInPlace(signal []float64) error {
	if len(signal) != t.size {
		return fmt.Errorf("signal length (%d) doesn't match taper size (%d)", len(signal), t.size)
	}

	for i := range signal {
		signal[i] *= t.coefficients[i]
	}

	return nil
}
