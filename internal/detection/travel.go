package detection

import (
	"fmt"
	"math"
	"strconv"
)

// DefaultTravelHours is the time budget assumed between a user's home and
// the current transaction when the caller does not supply one.
const DefaultTravelHours = 1.0

// TravelDetector flags transactions whose location is unreachable from
// the account's home within the available time.
type TravelDetector struct {
	maxSpeedKmh float64
}

// NewTravelDetector creates a detector with the given speed ceiling.
func NewTravelDetector(maxSpeedKmh float64) TravelDetector {
	return TravelDetector{maxSpeedKmh: maxSpeedKmh}
}

// Check compares the speed needed to get from home to (lat, lon) in hours
// against the ceiling.
func (d TravelDetector) Check(home Profile, lat, lon, hours float64) Signal {
	v := TravelSpeed(home.HomeLat, home.HomeLon, lat, lon, hours)
	sig := Signal{Layer: LayerImpossibleTravel, Value: v}
	if v > d.maxSpeedKmh {
		sig.Triggered = true
		sig.Reason = fmt.Sprintf("Impossible travel detected: %d km/h exceeds maximum %s km/h",
			int(v), strconv.FormatFloat(d.maxSpeedKmh, 'f', -1, 64))
	}
	return sig
}

// TravelSpeed returns the great-circle speed in km/h. Non-positive hours
// or out-of-range coordinates yield 0.
func TravelSpeed(lat1, lon1, lat2, lon2, hours float64) float64 {
	if !(hours > 0) {
		return 0
	}
	if !validCoord(lat1, lon1) || !validCoord(lat2, lon2) {
		return 0
	}
	return haversineKm(lat1, lon1, lat2, lon2) / hours
}

func validCoord(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// haversineKm is the great-circle distance in kilometres.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
