package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

type Drivers interface {
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
}

type Availability interface {
	Get(ctx context.Context, driverID string) (fleet.Status, error)
}

type Presence interface {
	Connected(actor presence.Actor) bool
}

type Query struct {
	Pickup   models.Coord
	Tier     models.Tier
	Vehicle  models.VehicleCategory
	RadiusKm float64
	// Exclude lists drivers that must not be offered this ride again.
	Exclude map[string]bool
}

type Candidate struct {
	Driver     models.Driver
	Location   models.DriverLocation
	DistanceKm float64
}

// Finder is the Driver Candidate Finder.
type Finder struct {
	Geo      geo.Index
	Drivers  Drivers
	Fleet    Availability
	Presence Presence
	Logger   *slog.Logger
}

// Find returns eligible drivers within q.RadiusKm of the pickup, best first:
// rating descending, then distance ascending, then id for determinism.
func (f *Finder) Find(ctx context.Context, q Query) ([]Candidate, error) {
	positions, err := f.Geo.Nearby(ctx, q.Pickup, q.RadiusKm)
	if err != nil {
		return nil, fmt.Errorf("nearby drivers: %w", err)
	}
	out := make([]Candidate, 0, len(positions))
	for _, p := range positions {
		if q.Exclude[p.DriverID] {
			continue
		}
		// the geo backend's radius is approximate; haversine is the contract
		dist := geo.HaversineKm(q.Pickup, p.Coord())
		if dist > q.RadiusKm {
			continue
		}
		if f.Presence != nil && !f.Presence.Connected(presence.Driver(p.DriverID)) {
			continue
		}
		d, err := f.Drivers.GetDriver(ctx, p.DriverID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", p.DriverID, err)
		}
		if q.Tier != "" && d.Tier != q.Tier {
			continue
		}
		if q.Vehicle != "" && d.Vehicle != q.Vehicle {
			continue
		}
		st, err := f.Fleet.Get(ctx, p.DriverID)
		if err != nil {
			return nil, fmt.Errorf("driver %s status: %w", p.DriverID, err)
		}
		if !st.Known || !st.Available || st.CurrentRide != "" {
			continue
		}
		out = append(out, Candidate{Driver: *d, Location: p.DriverLocation, DistanceKm: dist})
	}
	Rank(out)
	if f.Logger != nil {
		f.Logger.Debug("candidates_found", "tier", q.Tier, "radius_km", q.RadiusKm, "nearby", len(positions), "eligible", len(out))
	}
	return out, nil
}

// Rank orders candidates in place. A closer, lower-rated driver is not
// preferred over a nearby higher-rated one.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Driver.Rating != b.Driver.Rating {
			return a.Driver.Rating > b.Driver.Rating
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Driver.ID < b.Driver.ID
	})
}
