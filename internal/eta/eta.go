// Package eta estimates driver arrival times on straight-line distance.
// Routing engines are out of scope.
package eta

import (
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// DefaultSpeedMps is ~28.8 km/h, a typical city speed.
const DefaultSpeedMps = 8.0

// EstimateSeconds is distance / speed_mps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	return geo.Haversine(from.Lat, from.Lng, to.Lat, to.Lng) / speedMps
}

// Minutes rounds an estimate up to whole minutes, never below one.
func Minutes(seconds float64) int {
	m := int(math.Ceil(seconds / 60))
	if m < 1 {
		return 1
	}
	return m
}

// Arrival is the wall clock time a driver starting now should reach the pickup.
func Arrival(now time.Time, seconds float64) time.Time {
	return now.Add(time.Duration(seconds * float64(time.Second)))
}
