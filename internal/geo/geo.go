// Package geo provides the great-circle distance used for geofence checks.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6371000

// Distance returns the great-circle distance in meters between two
// coordinates using the Haversine formula.
//
// A coordinate of exactly 0 is treated as "not captured" (clients send 0
// when geolocation fails), so any zero or non-finite input yields +Inf.
// Callers comparing the result against a radius then fail the geofence
// check instead of crashing. Real 0.0 coordinates are conflated with
// missing ones; that matches the behavior clients already depend on.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	for _, v := range [4]float64{lat1, lon1, lat2, lon2} {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1)
		}
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}
