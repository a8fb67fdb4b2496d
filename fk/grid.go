package fk

import "fmt"

// SlownessGrid is a rectangular grid of trial slowness vectors, in
// seconds per kilometer. The grid spans [XMin, XMax] x [YMin, YMax]
// inclusive at spacing Step.
type SlownessGrid struct {
	XMin, XMax float64
	YMin, YMax float64
	Step       float64
}

// SymmetricGrid builds a grid spanning [-slim, slim] on both axes.
func SymmetricGrid(slim, step float64) SlownessGrid {
	return SlownessGrid{
		XMin: -slim, XMax: slim,
		YMin: -slim, YMax: slim,
		Step: step,
	}
}

// Validate returns an InvalidGridError for a non-positive step or an
// empty range.
func (g SlownessGrid) Validate() error {
	if g.Step <= 0 {
		return &InvalidGridError{Reason: fmt.Sprintf("step must be positive, got %g", g.Step)}
	}
	if g.XMax < g.XMin {
		return &InvalidGridError{Reason: fmt.Sprintf("empty x range [%g, %g]", g.XMin, g.XMax)}
	}
	if g.YMax < g.YMin {
		return &InvalidGridError{Reason: fmt.Sprintf("empty y range [%g, %g]", g.YMin, g.YMax)}
	}
	return nil
}

// NumX returns the number of grid points along the x (east) axis.
func (g SlownessGrid) NumX() int {
	return int((g.XMax-g.XMin)/g.Step+0.5) + 1
}

// NumY returns the number of grid points along the y (north) axis.
func (g SlownessGrid) NumY() int {
	return int((g.YMax-g.YMin)/g.Step+0.5) + 1
}

// SxAt returns the x slowness of column ix.
func (g SlownessGrid) SxAt(ix int) float64 {
	return g.XMin + float64(ix)*g.Step
}

// SyAt returns the y slowness of row iy.
func (g SlownessGrid) SyAt(iy int) float64 {
	return g.YMin + float64(iy)*g.Step
}
