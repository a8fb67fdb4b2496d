package array

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// InvalidGeometryError reports sensor coordinates that cannot support
// array processing: too few sensors, collinear sensors, or an
// unrecognized coordinate system.
type InvalidGeometryError struct {
	Reason  string
	Sensors int
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid array geometry (%d sensors): %s", e.Sensors, e.Reason)
}

// Sensor is one normalized sensor position: centroid-relative east/north
// offsets and elevation, all in kilometers.
type Sensor struct {
	X, Y, Elevation float64
}

// Geometry is a normalized, immutable sensor layout. Positions are
// centroid-relative kilometers, in the same order as the input
// coordinates.
type Geometry struct {
	sensors []Sensor
}

// minSensors is the smallest array that constrains a 2-D slowness vector.
const minSensors = 3

// Normalize converts sensor coordinates into a common centroid-relative
// local frame. For SystemLonLat the positions are projected onto the
// tangent plane anchored at the centroid longitude/latitude; for SystemXY
// the centroid is subtracted. Input order is preserved.
func Normalize(coords []Coordinate, sys System) (*Geometry, error) {
	if len(coords) < minSensors {
		return nil, &InvalidGeometryError{
			Reason:  fmt.Sprintf("need at least %d sensors", minSensors),
			Sensors: len(coords),
		}
	}

	n := len(coords)
	xs := make([]float64, n)
	ys := make([]float64, n)
	elevs := make([]float64, n)

	switch sys {
	case SystemXY:
		for i, c := range coords {
			xs[i], ys[i], elevs[i] = c.X, c.Y, c.Elevation
		}
	case SystemLonLat:
		lons := make([]float64, n)
		lats := make([]float64, n)
		for i, c := range coords {
			lons[i], lats[i], elevs[i] = c.Lon, c.Lat, c.Elevation
		}
		centerLon := stat.Mean(lons, nil)
		centerLat := stat.Mean(lats, nil)
		for i := range coords {
			xs[i], ys[i] = LonLatToKM(centerLon, centerLat, lons[i], lats[i])
		}
	default:
		return nil, &InvalidGeometryError{
			Reason:  fmt.Sprintf("unrecognized coordinate system %d", int(sys)),
			Sensors: len(coords),
		}
	}

	centerX := stat.Mean(xs, nil)
	centerY := stat.Mean(ys, nil)
	centerElev := stat.Mean(elevs, nil)

	sensors := make([]Sensor, n)
	for i := range sensors {
		sensors[i] = Sensor{
			X:         xs[i] - centerX,
			Y:         ys[i] - centerY,
			Elevation: elevs[i] - centerElev,
		}
	}

	if collinear(sensors) {
		return nil, &InvalidGeometryError{
			Reason:  "sensors are collinear",
			Sensors: len(coords),
		}
	}

	return &Geometry{sensors: sensors}, nil
}

// collinear reports whether all sensors lie on one line in the horizontal
// plane. The tolerance scales with the array aperture so kilometer-scale
// and meter-scale arrays are treated alike.
func collinear(sensors []Sensor) bool {
	var scale float64
	for _, s := range sensors {
		if a := s.X * s.X; a > scale {
			scale = a
		}
		if a := s.Y * s.Y; a > scale {
			scale = a
		}
	}
	if scale == 0 {
		return true
	}
	tol := scale * 1e-12

	// All positions are centroid-relative, so a common line passes through
	// the origin; find a direction and test cross products against it.
	var dx, dy float64
	for _, s := range sensors {
		if s.X*s.X+s.Y*s.Y > tol {
			dx, dy = s.X, s.Y
			break
		}
	}
	for _, s := range sensors {
		cross := dx*s.Y - dy*s.X
		if cross*cross > tol*scale {
			return false
		}
	}
	return true
}

// NumSensors returns the sensor count.
func (g *Geometry) NumSensors() int {
	return len(g.sensors)
}

// Sensor returns the normalized position of sensor i.
func (g *Geometry) Sensor(i int) Sensor {
	return g.sensors[i]
}

// Sensors returns a copy of all normalized positions.
func (g *Geometry) Sensors() []Sensor {
	out := make([]Sensor, len(g.sensors))
	copy(out, g.sensors)
	return out
}

// Aperture returns the largest horizontal distance between any two
// sensors, in kilometers.
func (g *Geometry) Aperture() float64 {
	var maxSq float64
	for i := range g.sensors {
		for j := i + 1; j < len(g.sensors); j++ {
			dx := g.sensors[i].X - g.sensors[j].X
			dy := g.sensors[i].Y - g.sensors[j].Y
			if d := dx*dx + dy*dy; d > maxSq {
				maxSq = d
			}
		}
	}
	return math.Sqrt(maxSq)
}
