package geospatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// EarthRadiusKm is the mean Earth radius every distance in the engine is based on.
const EarthRadiusKm = 6371.0

// orb works on the WGS84 equatorial radius; distances are rescaled to EarthRadiusKm.
const radiusScale = EarthRadiusKm * 1000 / orb.EarthRadius

// Unit selects the unit a distance is reported in
type Unit int

const (
	Kilometers Unit = iota
	Meters
)

// Coordinate is a WGS84 latitude/longitude pair in degrees
type Coordinate struct {
	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`
}

// Point converts the coordinate to an orb point (lng, lat order)
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// Valid reports whether the coordinate lies within the WGS84 ranges
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Distance returns the great-circle (Haversine) distance between two coordinates
func Distance(a, b Coordinate, unit Unit) float64 {
	meters := geo.DistanceHaversine(a.Point(), b.Point()) * radiusScale
	if unit == Meters {
		return meters
	}
	return meters / 1000
}

// SearchBound returns a lat/lng box guaranteed to contain every point within
// radiusKm of center. ok is false when the box would wrap a pole or the
// antimeridian, in which case callers must fall back to exact distances.
func SearchBound(center Coordinate, radiusKm float64) (orb.Bound, bool) {
	// pad so the box computed on orb's radius never clips the exact circle
	bound := geo.NewBoundAroundPoint(center.Point(), radiusKm*1000*1.01)
	if bound.Min[0] >= bound.Max[0] || bound.Min[0] < -180 || bound.Max[0] > 180 ||
		bound.Min[1] <= -90 || bound.Max[1] >= 90 {
		return bound, false
	}
	return bound, true
}

// Fence is a circular geo-fence around a project site
type Fence struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
}

// DistanceMeters returns how far c is from the fence center
func (f Fence) DistanceMeters(c Coordinate) float64 {
	return Distance(f.Center, c, Meters)
}

// Contains reports whether c lies inside the fence (boundary inclusive)
func (f Fence) Contains(c Coordinate) bool {
	return f.DistanceMeters(c) <= f.RadiusMeters
}

// Pin is a single marker on the project map
type Pin struct {
	ID       string
	Location Coordinate
	Props    map[string]interface{}
}

// PinCollection renders pins as a GeoJSON FeatureCollection
func PinCollection(pins []Pin) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range pins {
		f := geojson.NewFeature(p.Location.Point())
		f.ID = p.ID
		for k, v := range p.Props {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc
}
