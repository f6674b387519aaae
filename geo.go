package main

import "math"

// Mean earth radius in meters (IUGG).
const earthRadiusM = 6371008.8

// distanceMeters returns the great-circle distance between two coordinates
// using the haversine formula. Good to well under a meter at the
// tens-to-hundreds-of-meters scale the detection radii operate at.
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// initialBearing returns the initial compass bearing in [0, 360) from the
// first point towards the second. Coincident points yield 0.
func initialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	x := math.Sin(dLon) * math.Cos(lat2Rad)
	y := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLon)

	deg := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// cardinal buckets a bearing into one of the four quadrants. North spans the
// wrap-around [315,360) plus [0,45).
func cardinal(bearingDeg float64) string {
	switch {
	case bearingDeg >= 315 || bearingDeg < 45:
		return "north"
	case bearingDeg < 135:
		return "east"
	case bearingDeg < 225:
		return "south"
	default:
		return "west"
	}
}
