// Package geo provides the great-circle distance primitive shared by the
// smoother, classifier and geofence engine.
package geo

import "math"

// earthRadiusM is the mean Earth radius used for haversine distances.
const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in meters between two
// lat/lng coordinates.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLatRad := (lat2 - lat1) * math.Pi / 180
	deltaLngRad := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLatRad/2)*math.Sin(deltaLatRad/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLngRad/2)*math.Sin(deltaLngRad/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// BearingDeg returns the initial bearing in degrees (0..360) from the first
// coordinate to the second. Used for approach-direction diagnostics.
func BearingDeg(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLngRad := (lng2 - lng1) * math.Pi / 180

	y := math.Sin(deltaLngRad) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLngRad)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}
