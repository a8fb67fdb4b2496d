package fk

import (
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/seistools/arrayfk/array"
	"github.com/seistools/arrayfk/logging"
)

// Surface is a 2-D response grid. Values[i][j] is the response at
// X[i], Y[j], normalized so the zero-slowness or zero-wavenumber cell
// equals 1.0. When neither axis contains zero, the surface is
// normalized by its maximum instead.
type Surface struct {
	Values [][]float64
	X      []float64
	Y      []float64
}

// At returns Values[i][j].
func (s *Surface) At(i, j int) float64 {
	return s.Values[i][j]
}

// axis replicates arange(min, max + step/10, step): inclusive of max,
// tolerant of floating-point endpoint error.
func axis(minVal, maxVal, step float64) []float64 {
	n := int(math.Ceil((maxVal + step/10 - minVal) / step))
	out := make([]float64, n)
	for i := range out {
		out[i] = minVal + float64(i)*step
	}
	return out
}

// TransferFreqSlowness computes the theoretical array response over a
// symmetric slowness grid of half-width slim (s/km) at spacing sstep,
// integrated over the frequency band [fmin, fmax] Hz stepped by fstep.
// It is a pure function of geometry: no waveform data is involved.
func TransferFreqSlowness(coords []array.Coordinate, sys array.System, slim, sstep, fmin, fmax, fstep float64) (*Surface, error) {
	if sstep <= 0 || slim <= 0 {
		return nil, &InvalidGridError{Reason: fmt.Sprintf("slowness half-width %g and step %g must be positive", slim, sstep)}
	}
	if fstep <= 0 {
		return nil, &InvalidGridError{Reason: fmt.Sprintf("frequency step must be positive, got %g", fstep)}
	}
	if fmax < fmin || fmin <= 0 {
		return nil, &InvalidGridError{Reason: fmt.Sprintf("empty frequency band [%g, %g]", fmin, fmax)}
	}

	geom, err := array.Normalize(coords, sys)
	if err != nil {
		return nil, err
	}

	sAxis := axis(-slim, slim, sstep)
	fAxis := axis(fmin, fmax, fstep)
	sensors := geom.Sensors()

	values := evalRows(sAxis, sAxis, func(sx, sy float64) float64 {
		// squared beam magnitude per frequency, then trapezoid rule
		// across the band
		var integral, prev float64
		for fi, f := range fAxis {
			var sum complex128
			for _, sen := range sensors {
				sum += cmplx.Exp(complex(0, (sen.X*sx+sen.Y*sy)*2*math.Pi*f))
			}
			cur := real(sum)*real(sum) + imag(sum)*imag(sum)
			if fi > 0 {
				integral += (prev + cur) / 2 * fstep
			}
			prev = cur
		}
		if len(fAxis) == 1 {
			// a single-frequency band has nothing to integrate
			return prev
		}
		return integral
	})

	return normalizeSurface(values, sAxis, sAxis, "freqslowness"), nil
}

// TransferWavenumber computes the theoretical array response over a
// symmetric wavenumber grid of half-width klim (rad/km) at spacing
// kstep, at the single reference frequency implied by the wavenumber
// scaling.
func TransferWavenumber(coords []array.Coordinate, sys array.System, klim, kstep float64) (*Surface, error) {
	if kstep <= 0 || klim <= 0 {
		return nil, &InvalidGridError{Reason: fmt.Sprintf("wavenumber half-width %g and step %g must be positive", klim, kstep)}
	}

	geom, err := array.Normalize(coords, sys)
	if err != nil {
		return nil, err
	}

	kAxis := axis(-klim, klim, kstep)
	sensors := geom.Sensors()

	values := evalRows(kAxis, kAxis, func(kx, ky float64) float64 {
		var sum complex128
		for _, sen := range sensors {
			sum += cmplx.Exp(complex(0, sen.X*kx+sen.Y*ky))
		}
		return real(sum)*real(sum) + imag(sum)*imag(sum)
	})

	return normalizeSurface(values, kAxis, kAxis, "wavenumber"), nil
}

// evalRows fills the grid row-parallel; cells are independent.
func evalRows(xAxis, yAxis []float64, cell func(x, y float64) float64) [][]float64 {
	values := make([][]float64, len(xAxis))

	workers := min(runtime.NumCPU(), len(xAxis))
	rows := make(chan int, len(xAxis))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rows {
				row := make([]float64, len(yAxis))
				for j, y := range yAxis {
					row[j] = cell(xAxis[i], y)
				}
				values[i] = row
			}
		}()
	}
	for i := range xAxis {
		rows <- i
	}
	close(rows)
	wg.Wait()

	return values
}

func normalizeSurface(values [][]float64, xAxis, yAxis []float64, mode string) *Surface {
	// the zero-offset cell sums all sensors coherently and carries the
	// surface maximum; it is the normalization reference when the axes
	// contain it, so it reads exactly 1.0
	ref := math.Inf(-1)
	if ix, iy := axisZero(xAxis), axisZero(yAxis); ix >= 0 && iy >= 0 {
		ref = values[ix][iy]
	} else {
		for _, row := range values {
			ref = math.Max(ref, floats.Max(row))
		}
	}
	for _, row := range values {
		for j := range row {
			row[j] /= ref
		}
	}

	logging.WithFields(logging.Fields{
		"component": "transfer",
		"mode":      mode,
	}).Debug("transfer surface computed", logging.Fields{
		"grid_x": len(xAxis),
		"grid_y": len(yAxis),
	})

	return &Surface{Values: values, X: xAxis, Y: yAxis}
}

// axisZero returns the index of the exact zero on an axis, or -1.
func axisZero(axis []float64) int {
	for i, v := range axis {
		if v == 0 {
			return i
		}
	}
	return -1
}
