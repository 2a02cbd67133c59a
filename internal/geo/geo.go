package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Position is a driver's last known coordinate, with the distance to the
// query center filled in by Nearby.
type Position struct {
	models.DriverLocation
	DistanceKm float64
}

// Index is the Location Index consumed by the candidate finder and the
// location handlers.
type Index interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	Nearby(ctx context.Context, center models.Coord, radiusKm float64) ([]Position, error)
	Position(ctx context.Context, driverID string) (models.DriverLocation, bool, error)
	Remove(ctx context.Context, driverID string) error
}

// MemoryIndex is the single-process Index used when Redis is not configured.
type MemoryIndex struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverLocation
	now     func() time.Time
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{drivers: make(map[string]models.DriverLocation), now: time.Now}
}

func (g *MemoryIndex) Upsert(_ context.Context, loc models.DriverLocation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if loc.Updated.IsZero() {
		loc.Updated = g.now()
	}
	g.drivers[loc.DriverID] = loc
	return nil
}

// naive scan; fine for a single process fleet
func (g *MemoryIndex) Nearby(_ context.Context, center models.Coord, radiusKm float64) ([]Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Position, 0)
	for _, loc := range g.drivers {
		dist := HaversineKm(center, loc.Coord())
		if dist > radiusKm {
			continue
		}
		out = append(out, Position{DriverLocation: loc, DistanceKm: dist})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (g *MemoryIndex) Position(_ context.Context, driverID string) (models.DriverLocation, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	loc, ok := g.drivers[driverID]
	return loc, ok, nil
}

func (g *MemoryIndex) Remove(_ context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
	return nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func HaversineKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng) / 1000
}

// ValidCoord rejects coordinates outside the WGS84 range.
func ValidCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lng)
}
