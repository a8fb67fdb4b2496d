package array

import "math"

// System selects which fields of a Coordinate carry the sensor position.
type System int

const (
	// SystemXY means positions are local Cartesian offsets in kilometers (X, Y).
	SystemXY System = iota

	// SystemLonLat means positions are geographic degrees (Lon, Lat).
	SystemLonLat
)

func (s System) String() string {
	switch s {
	case SystemXY:
		return "xy"
	case SystemLonLat:
		return "lonlat"
	default:
		return "unknown"
	}
}

// Coordinate is one sensor position. Which fields are meaningful depends on
// the System passed alongside a coordinate set: X/Y for SystemXY (km),
// Lon/Lat for SystemLonLat (degrees). Elevation is always in kilometers.
type Coordinate struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Elevation float64 `json:"elevation"`
}

// XY builds a local-Cartesian coordinate (kilometers).
func XY(x, y, elevation float64) Coordinate {
	return Coordinate{X: x, Y: y, Elevation: elevation}
}

// LonLat builds a geographic coordinate (degrees, elevation in kilometers).
func LonLat(lon, lat, elevation float64) Coordinate {
	return Coordinate{Lon: lon, Lat: lat, Elevation: elevation}
}

// WGS84 ellipsoid
const (
	semiMajorKM  = 6378.137
	eccentricity = 0.0066943799901413165
)

// ellipsoidRadii returns the meridional (north-south) and transverse
// (east-west) curvature radii in kilometers at the given latitude.
func ellipsoidRadii(latDeg float64) (meridional, transverse float64) {
	sinLat := math.Sin(latDeg * math.Pi / 180)
	w := math.Sqrt(1 - eccentricity*sinLat*sinLat)
	meridional = semiMajorKM * (1 - eccentricity) / (w * w * w)
	transverse = semiMajorKM / w
	return meridional, transverse
}

// LonLatToKM projects a geographic position onto the local tangent plane
// anchored at (origLon, origLat), returning east/north offsets in kilometers.
// The projection is not distance preserving far from the anchor; callers are
// expected to anchor at the array centroid.
func LonLatToKM(origLon, origLat, lon, lat float64) (x, y float64) {
	m, t := ellipsoidRadii(origLat)
	x = (lon - origLon) * math.Pi / 180 * t * math.Cos(origLat*math.Pi/180)
	y = (lat - origLat) * math.Pi / 180 * m
	return x, y
}

// KMToLonLat is the exact inverse of LonLatToKM for the same anchor.
func KMToLonLat(origLon, origLat, x, y float64) (lon, lat float64) {
	m, t := ellipsoidRadii(origLat)
	lon = origLon + x/(t*math.Cos(origLat*math.Pi/180))*180/math.Pi
	lat = origLat + y/m*180/math.Pi
	return lon, lat
}
