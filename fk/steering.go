package fk

import (
	"math"
	"math/cmplx"

	"github.com/seistools/arrayfk/array"
)

// Steering holds the delay table and the frequency-domain phase table
// for one geometry/grid/band combination. It is computed once per run
// and shared read-only across windows and workers.
//
// The per-sensor delay for a trial slowness vector (sx, sy) is the
// planar-wavefront dot product sx*x + sy*y; elevation is ignored. The
// phase factor applied to a channel spectrum at angular frequency w is
// exp(-i*w*delay), chosen so the power maximum of a wave arriving from
// backazimuth theta with slowness s falls on (s*sin(theta), s*cos(theta)).
type Steering struct {
	grid   SlownessGrid
	nstat  int
	nlow   int
	nf     int
	deltaf float64

	// delays is indexed (ix*numY + iy)*nstat + stat
	delays []float64
	// phase is indexed ((f*numX + ix)*numY + iy)*nstat + stat
	phase []complex128
}

// NewSteering precomputes delays and phase factors for every grid cell
// and every retained frequency bin [nlow, nlow+nf).
func NewSteering(geom *array.Geometry, grid SlownessGrid, nlow, nf int, deltaf float64) *Steering {
	nstat := geom.NumSensors()
	numX, numY := grid.NumX(), grid.NumY()

	s := &Steering{
		grid:   grid,
		nstat:  nstat,
		nlow:   nlow,
		nf:     nf,
		deltaf: deltaf,
		delays: make([]float64, numX*numY*nstat),
		phase:  make([]complex128, nf*numX*numY*nstat),
	}

	for ix := 0; ix < numX; ix++ {
		sx := grid.SxAt(ix)
		for iy := 0; iy < numY; iy++ {
			sy := grid.SyAt(iy)
			base := (ix*numY + iy) * nstat
			for i := 0; i < nstat; i++ {
				sen := geom.Sensor(i)
				s.delays[base+i] = sx*sen.X + sy*sen.Y
			}
		}
	}

	for f := 0; f < nf; f++ {
		omega := 2 * math.Pi * deltaf * float64(nlow+f)
		for cell := 0; cell < numX*numY; cell++ {
			for i := 0; i < nstat; i++ {
				tau := s.delays[cell*nstat+i]
				s.phase[(f*numX*numY+cell)*nstat+i] = cmplx.Exp(complex(0, -omega*tau))
			}
		}
	}

	return s
}

// Delays returns the per-sensor delay slice for grid cell (ix, iy).
// The returned slice aliases internal storage and must not be modified.
func (s *Steering) Delays(ix, iy int) []float64 {
	base := (ix*s.grid.NumY() + iy) * s.nstat
	return s.delays[base : base+s.nstat]
}

// Phase returns the per-sensor phase factors for retained bin f and
// grid cell (ix, iy). The returned slice aliases internal storage.
func (s *Steering) Phase(f, ix, iy int) []complex128 {
	base := (f*s.grid.NumX()*s.grid.NumY() + ix*s.grid.NumY() + iy) * s.nstat
	return s.phase[base : base+s.nstat]
}

// Freq returns the frequency in Hz of retained bin f.
func (s *Steering) Freq(f int) float64 {
	return float64(s.nlow+f) * s.deltaf
}
